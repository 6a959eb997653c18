// Package recovery rebuilds local multisig state from the backend relay
// and resolves broadcast transactions against the chain. The relay is a
// dumb blob store, so every pulled snapshot goes through the engine's
// merge rules and never overrides a local decision.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"walletcore/native/multisig"
)

// Relay is the subset of the backend client the recoverer depends on.
type Relay interface {
	FetchAccountSnapshots(ctx context.Context, identityID string) ([]multisig.AccountSnapshot, error)
	FetchQueueSnapshots(ctx context.Context, accountID string) ([]multisig.QueueSnapshot, error)
	PushQueueSnapshot(ctx context.Context, snap multisig.QueueSnapshot) error
	CheckCancelled(ctx context.Context, accountIDs []string) ([]string, error)
}

// Config captures the dependencies required to construct a Recoverer.
type Config struct {
	Engine *multisig.Engine
	Relay  Relay
	Logger *slog.Logger
}

// Recoverer pulls authoritative snapshots and pushes terminal outcomes.
type Recoverer struct {
	engine *multisig.Engine
	relay  Relay
	log    *slog.Logger
}

func New(cfg Config) *Recoverer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Recoverer{engine: cfg.Engine, relay: cfg.Relay, log: log}
}

// RecoverAccounts imports every account the identity participates in,
// then the queues of each imported account. Import errors on individual
// snapshots are logged and skipped so one corrupt blob cannot wedge the
// whole recovery.
func (r *Recoverer) RecoverAccounts(ctx context.Context, identityID string) error {
	snaps, err := r.relay.FetchAccountSnapshots(ctx, identityID)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := r.engine.ImportAccountSnapshot(ctx, snap); err != nil {
			r.log.Warn("skipping account snapshot", "account", snap.Account.ID, "err", err)
			continue
		}
		if err := r.RecoverQueues(ctx, snap.Account.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecoverQueues imports every queue blob of one account.
func (r *Recoverer) RecoverQueues(ctx context.Context, accountID string) error {
	snaps, err := r.relay.FetchQueueSnapshots(ctx, accountID)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := r.engine.ImportQueueSnapshot(ctx, snap); err != nil {
			r.log.Warn("skipping queue snapshot", "queue", snap.Queue.ID, "err", err)
		}
	}
	return nil
}

// RecoverAll runs account recovery for every identity whose keys this
// wallet holds.
func (r *Recoverer) RecoverAll(ctx context.Context) error {
	identities, err := r.engine.SelfIdentities(ctx)
	if err != nil {
		return err
	}
	for _, id := range identities {
		if err := r.RecoverAccounts(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// PollConfirmations resolves broadcast queues against the chain and
// reports every newly terminal queue to the relay so other members
// converge without polling the chain themselves.
func (r *Recoverer) PollConfirmations(ctx context.Context) (int, error) {
	resolved, err := r.engine.SyncConfirmations(ctx)
	if err != nil {
		return 0, err
	}
	for _, q := range resolved {
		snap, err := r.engine.QueueSnapshot(ctx, q.ID)
		if err != nil {
			return len(resolved), err
		}
		if err := r.relay.PushQueueSnapshot(ctx, snap); err != nil {
			// The local resolution stands; the push retries next tick.
			r.log.Warn("queue snapshot push failed", "queue", q.ID, "err", err)
		}
	}
	return len(resolved), nil
}

// SyncCancellations asks the backend which local accounts were cancelled
// elsewhere and applies the cancellation cascade locally.
func (r *Recoverer) SyncCancellations(ctx context.Context) error {
	accounts, err := r.engine.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		ids = append(ids, acct.ID)
	}
	cancelled, err := r.relay.CheckCancelled(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range cancelled {
		if err := r.engine.CancelAccount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the periodic maintenance loop: expiry sweeps, confirmation
// polling and cancellation sync, until the context ends.
func (r *Recoverer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.engine.ExpireDue(ctx); err != nil {
				r.log.Error("expiry sweep failed", "err", err)
			} else if n > 0 {
				r.log.Info("expired overdue queues", "count", n)
			}
			if n, err := r.PollConfirmations(ctx); err != nil {
				r.log.Error("confirmation poll failed", "err", err)
			} else if n > 0 {
				r.log.Info("resolved broadcast queues", "count", n)
			}
			if err := r.SyncCancellations(ctx); err != nil {
				r.log.Error("cancellation sync failed", "err", err)
			}
		}
	}
}
