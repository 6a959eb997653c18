// Package router dispatches inbound backend messages to the multisig
// engine. Delivery is at-least-once and unordered, so handlers lean on
// the engine's idempotence: conflicts are absorbed, and a message for an
// entity this wallet has never seen triggers recovery before one retry.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"walletcore/native/multisig"
)

// Message kinds delivered by the backend.
const (
	KindAccountSnapshot  = "account.snapshot"
	KindAccountConfirmed = "account.confirmed"
	KindAccountCancelled = "account.cancelled"
	KindQueueSnapshot    = "queue.snapshot"
	KindSignature        = "queue.signature"
	KindExecutionResult  = "queue.execution"
)

// Message is one inbound backend event.
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Recoverer pulls authoritative state when a message references an
// unknown entity.
type Recoverer interface {
	RecoverAll(ctx context.Context) error
}

// Config captures the dependencies required to construct a Router.
type Config struct {
	Engine    *multisig.Engine
	Recoverer Recoverer
	Logger    *slog.Logger
}

type Router struct {
	engine  *multisig.Engine
	recover Recoverer
	log     *slog.Logger
}

func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{engine: cfg.Engine, recover: cfg.Recoverer, log: log}
}

type confirmationPayload struct {
	AccountID  string `json:"accountId"`
	Address    string `json:"address"`
	PublicKey  string `json:"publicKey"`
	IdentityID string `json:"identityId"`
}

type cancellationPayload struct {
	AccountID string `json:"accountId"`
}

type signaturePayload struct {
	AccountID string `json:"accountId"`
	QueueID   string `json:"queueId"`
	Address   string `json:"address"`
	Status    uint8  `json:"status"`
	Signature string `json:"signature"`
}

type executionPayload struct {
	QueueID     string `json:"queueId"`
	Success     bool   `json:"success"`
	BlockHeight uint64 `json:"blockHeight"`
}

// Handle dispatches one message. A nil return means the message is fully
// consumed and must not be redelivered; conflicts with terminal state
// count as consumed.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	err := r.dispatch(ctx, msg, true)
	if errors.Is(err, multisig.ErrConflict) {
		r.log.Debug("message absorbed by terminal state", "kind", msg.Kind, "err", err)
		return nil
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, msg Message, allowRecovery bool) error {
	var err error
	switch msg.Kind {
	case KindAccountSnapshot:
		var raw string
		if err := json.Unmarshal(msg.Payload, &raw); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		snap, decErr := multisig.DecodeAccountSnapshot(raw)
		if decErr != nil {
			return decErr
		}
		err = r.engine.ImportAccountSnapshot(ctx, snap)

	case KindAccountConfirmed:
		var p confirmationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		err = r.engine.ApplyMemberConfirmation(ctx, p.AccountID, p.Address, p.PublicKey, p.IdentityID)

	case KindAccountCancelled:
		var p cancellationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		err = r.engine.CancelAccount(ctx, p.AccountID)

	case KindQueueSnapshot:
		var raw string
		if err := json.Unmarshal(msg.Payload, &raw); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		snap, decErr := multisig.DecodeQueueSnapshot(raw)
		if decErr != nil {
			return decErr
		}
		err = r.engine.ImportQueueSnapshot(ctx, snap)

	case KindSignature:
		var p signaturePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		err = r.engine.ApplySignature(ctx, multisig.Signature{
			QueueID: p.QueueID,
			Address: p.Address,
			Status:  multisig.SignatureStatus(p.Status),
			Bytes:   p.Signature,
		})

	case KindExecutionResult:
		var p executionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.Kind, err)
		}
		err = r.engine.ApplyExecutionResult(ctx, p.QueueID, p.Success, p.BlockHeight)

	default:
		return fmt.Errorf("%w: unknown message kind %q", multisig.ErrValidation, msg.Kind)
	}

	if errors.Is(err, multisig.ErrNotFound) && allowRecovery {
		// First sighting of an account or queue created elsewhere:
		// rebuild from the relay, then retry exactly once.
		if recErr := r.recover.RecoverAll(ctx); recErr != nil {
			return recErr
		}
		return r.retryAfterRecovery(ctx, msg)
	}
	return err
}

func (r *Router) retryAfterRecovery(ctx context.Context, msg Message) error {
	err := r.dispatch(ctx, msg, false)
	if errors.Is(err, multisig.ErrNotFound) {
		// Still unknown after recovery; the backend outran its own
		// snapshot store. Drop and let the periodic sync converge.
		r.log.Warn("message references unknown entity after recovery", "kind", msg.Kind)
		return nil
	}
	return err
}
