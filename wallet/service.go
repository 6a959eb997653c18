// Package wallet composes the multisig engine with the backend relay for
// user-initiated flows. Every local transition goes through the same
// engine entry points as inbound peer events; this layer only adds the
// outbound reporting.
package wallet

import (
	"context"
	"log/slog"

	"walletcore/native/multisig"
)

// Relay is the outbound subset of the backend client the service uses.
type Relay interface {
	PushAccountSnapshot(ctx context.Context, snap multisig.AccountSnapshot) error
	PushQueueSnapshot(ctx context.Context, snap multisig.QueueSnapshot) error
	PushSignature(ctx context.Context, sig multisig.Signature) error
	PushConfirmation(ctx context.Context, accountID, address, publicKey, identityID string) error
	CancelAccount(ctx context.Context, accountID string) error
}

// Config captures the dependencies required to construct a Service.
type Config struct {
	Engine *multisig.Engine
	Relay  Relay
	Logger *slog.Logger
}

// Service is the user-facing wallet API.
type Service struct {
	engine *multisig.Engine
	relay  Relay
	log    *slog.Logger
}

func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{engine: cfg.Engine, relay: cfg.Relay, log: log}
}

// Engine exposes the underlying engine for read paths.
func (s *Service) Engine() *multisig.Engine { return s.engine }

// accountSnapshot assembles the account-plus-members blob for upload.
func (s *Service) accountSnapshot(ctx context.Context, accountID string) (multisig.AccountSnapshot, error) {
	acct, err := s.engine.Account(ctx, accountID)
	if err != nil {
		return multisig.AccountSnapshot{}, err
	}
	members, err := s.engine.Members(ctx, accountID)
	if err != nil {
		return multisig.AccountSnapshot{}, err
	}
	return multisig.AccountSnapshot{Account: *acct, Members: members}, nil
}

// ProposeAccount creates an account locally and uploads its snapshot so
// the backend can invite the other members.
func (s *Service) ProposeAccount(ctx context.Context, input multisig.ProposeAccountInput) (*multisig.Account, error) {
	acct, err := s.engine.ProposeAccount(ctx, input)
	if err != nil {
		return nil, err
	}
	snap, err := s.accountSnapshot(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if err := s.relay.PushAccountSnapshot(ctx, snap); err != nil {
		// The account exists locally; the push retries with the next
		// transition or the periodic sync.
		s.log.Warn("account snapshot push failed", "account", acct.ID, "err", err)
	}
	return acct, nil
}

// ConfirmParticipation records this member's acceptance locally and
// announces it to the other members.
func (s *Service) ConfirmParticipation(ctx context.Context, accountID, address, publicKey, identityID string) error {
	if err := s.engine.ApplyMemberConfirmation(ctx, accountID, address, publicKey, identityID); err != nil {
		return err
	}
	return s.relay.PushConfirmation(ctx, accountID, address, publicKey, identityID)
}

// CancelAccount cancels locally and propagates the cancellation.
func (s *Service) CancelAccount(ctx context.Context, accountID string) error {
	if err := s.engine.CancelAccount(ctx, accountID); err != nil {
		return err
	}
	return s.relay.CancelAccount(ctx, accountID)
}

// CreateTransfer proposes a transaction and uploads the queue snapshot,
// including any signatures produced by local keys at creation.
func (s *Service) CreateTransfer(ctx context.Context, input multisig.CreateQueueInput) (*multisig.Queue, error) {
	queue, err := s.engine.CreateQueue(ctx, input)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.QueueSnapshot(ctx, queue.ID)
	if err != nil {
		return nil, err
	}
	if err := s.relay.PushQueueSnapshot(ctx, snap); err != nil {
		s.log.Warn("queue snapshot push failed", "queue", queue.ID, "err", err)
	}
	return queue, nil
}

// Sign records the local verdict and forwards each produced signature
// record to the other members.
func (s *Service) Sign(ctx context.Context, queueID string, verdict multisig.SignatureStatus, password string) error {
	produced, err := s.engine.SignQueue(ctx, queueID, verdict, password)
	if err != nil {
		return err
	}
	for _, sig := range produced {
		if err := s.relay.PushSignature(ctx, sig); err != nil {
			s.log.Warn("signature push failed", "queue", queueID, "address", sig.Address, "err", err)
		}
	}
	return nil
}

// Execute broadcasts a fully-approved queue and uploads the updated
// snapshot carrying the transaction hash.
func (s *Service) Execute(ctx context.Context, queueID, password string) (string, error) {
	txHash, err := s.engine.Execute(ctx, queueID, password)
	if err != nil {
		return "", err
	}
	snap, err := s.engine.QueueSnapshot(ctx, queueID)
	if err != nil {
		return txHash, err
	}
	if err := s.relay.PushQueueSnapshot(ctx, snap); err != nil {
		s.log.Warn("queue snapshot push failed", "queue", queueID, "err", err)
	}
	return txHash, nil
}
