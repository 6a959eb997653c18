package multisig

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engine owns every status transition of multisig accounts and their
// transaction queues. Local user actions and inbound peer events invoke the
// same entry points, so there is exactly one code path per transition
// regardless of origin, and every mutation is idempotent or monotone so
// that duplicate and out-of-order delivery are safe.
type Engine struct {
	store    Store
	adapters AdapterRegistry
	keys     KeyStore
	emitter  Emitter
	log      *slog.Logger
	nowFn    func() int64
	idFn     func() string
}

// NewEngine creates an engine with a no-op emitter. Callers wire the
// adapter registry and key store before queue operations are used.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:   store,
		emitter: NoopEmitter{},
		log:     slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
		idFn:    uuid.NewString,
	}
}

// SetAdapters configures the chain adapter registry.
func (e *Engine) SetAdapters(registry AdapterRegistry) { e.adapters = registry }

// SetKeyStore configures the private key collaborator.
func (e *Engine) SetKeyStore(keys KeyStore) { e.keys = keys }

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(log *slog.Logger) {
	if log != nil {
		e.log = log
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetIDFunc overrides identifier generation, primarily for tests.
func (e *Engine) SetIDFunc(id func() string) {
	if id != nil {
		e.idFn = id
	}
}

func (e *Engine) emit(evt Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) adapter(chainCode string) (ChainAdapter, error) {
	if e.adapters == nil {
		return nil, validationf("chain adapters not configured")
	}
	adapter, err := e.adapters.Adapter(chainCode)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// MemberInput describes one key-holder of a proposed account.
type MemberInput struct {
	Name       string
	Address    string
	PublicKey  string
	IdentityID string
	IsSelf     bool
}

// ProposeAccountInput carries the parameters of a new account proposal.
type ProposeAccountInput struct {
	ID          string
	Name        string
	Address     string
	AddressType string
	ChainCode   string
	Initiator   string
	Threshold   int
	Members     []MemberInput
}

// ProposeAccount validates and persists a new account in Pending with all
// members unconfirmed, except the initiator's own row which is
// pre-confirmed when the initiator key is held locally. A proposal whose
// threshold exceeds the member count is rejected at the boundary.
func (e *Engine) ProposeAccount(ctx context.Context, input ProposeAccountInput) (*Account, error) {
	if len(input.Members) == 0 {
		return nil, validationf("account requires at least one member")
	}
	if input.Threshold <= 0 || input.Threshold > len(input.Members) {
		return nil, validationf("threshold %d out of range for %d members", input.Threshold, len(input.Members))
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = e.idFn()
	}

	members := make(Members, 0, len(input.Members))
	for _, m := range input.Members {
		member := Member{
			AccountID:  id,
			Address:    strings.TrimSpace(m.Address),
			Name:       m.Name,
			PublicKey:  m.PublicKey,
			IdentityID: m.IdentityID,
			IsSelf:     m.IsSelf,
		}
		if member.Address == "" {
			return nil, validationf("member address required")
		}
		if member.Address == input.Initiator && member.IsSelf {
			member.Confirmed = true
		}
		members = append(members, member)
	}

	acct := &Account{
		ID:               id,
		Name:             input.Name,
		Address:          strings.TrimSpace(input.Address),
		AddressType:      input.AddressType,
		ChainCode:        strings.ToLower(strings.TrimSpace(input.ChainCode)),
		InitiatorAddress: strings.TrimSpace(input.Initiator),
		Threshold:        input.Threshold,
		MemberCount:      len(members),
		Status:           AccountPending,
		OwnerRole:        members.Role(input.Initiator),
		CreatedAt:        e.now(),
	}
	if members.AllConfirmed() {
		acct.Status = AccountConfirmed
	}
	sanitized, err := SanitizeAccount(acct)
	if err != nil {
		return nil, err
	}

	err = e.store.InTx(ctx, func(tx Store) error {
		if err := tx.AccountPut(ctx, sanitized); err != nil {
			return err
		}
		return tx.MembersPut(ctx, members)
	})
	if err != nil {
		return nil, err
	}
	e.emit(accountEvent(EventAccountProposed, sanitized))
	return sanitized.Clone(), nil
}

// ApplyMemberConfirmation records that a member accepted participation. The
// operation is idempotent and monotone: a confirmed member is never reset,
// and public key and identity fields only fill in when previously empty.
// After applying, the aggregate account status and the local owner role are
// recomputed. Confirmations for cancelled accounts are absorbed as
// conflicts because cancellation pre-empts in-flight state.
func (e *Engine) ApplyMemberConfirmation(ctx context.Context, accountID, address, publicKey, identityID string) error {
	var confirmed *Account
	err := e.store.InTx(ctx, func(tx Store) error {
		acct, ok, err := tx.AccountGet(ctx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundf("account %s", accountID)
		}
		if acct.Deleted {
			return conflictf("account %s is cancelled", accountID)
		}
		members, err := tx.MembersByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		idx := -1
		for i, m := range members {
			if m.Address == address {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notFoundf("member %s of account %s", address, accountID)
		}
		member := members[idx]
		member.Confirmed = true
		if member.PublicKey == "" {
			member.PublicKey = publicKey
		}
		if member.IdentityID == "" {
			member.IdentityID = identityID
		}
		if e.keys != nil && e.keys.Holds(member.Address, acct.ChainCode) {
			member.IsSelf = true
		}
		members[idx] = member
		if err := tx.MembersPut(ctx, []Member{member}); err != nil {
			return err
		}
		return e.refreshAccountLocked(ctx, tx, acct, members, &confirmed)
	})
	if err != nil {
		return err
	}
	if confirmed != nil {
		e.emit(accountEvent(EventAccountConfirmed, confirmed))
	}
	return nil
}

// refreshAccountLocked recomputes the aggregate status and owner role from
// the member set and persists the account when either changed. When the
// account just became fully confirmed the caller's pointer is set so the
// event fires after the transaction commits.
func (e *Engine) refreshAccountLocked(ctx context.Context, tx Store, acct *Account, members Members, confirmed **Account) error {
	status := AccountPending
	if members.AllConfirmed() {
		status = AccountConfirmed
	}
	role := members.Role(acct.InitiatorAddress)
	if status == acct.Status && role == acct.OwnerRole {
		return nil
	}
	becameConfirmed := status == AccountConfirmed && acct.Status != AccountConfirmed
	acct.Status = status
	acct.OwnerRole = role
	if err := tx.AccountPut(ctx, acct); err != nil {
		return err
	}
	if becameConfirmed && confirmed != nil {
		*confirmed = acct.Clone()
	}
	return nil
}

// CancelAccount logically deletes an account and cascades the cancellation
// to every non-terminal queue, which fails with reason "cancelled". The
// operation is idempotent; records survive for audit until an explicit
// wipe.
func (e *Engine) CancelAccount(ctx context.Context, accountID string) error {
	var events []Event
	err := e.store.InTx(ctx, func(tx Store) error {
		acct, ok, err := tx.AccountGet(ctx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundf("account %s", accountID)
		}
		if acct.Deleted {
			return nil
		}
		acct.Deleted = true
		if err := tx.AccountPut(ctx, acct); err != nil {
			return err
		}
		queues, err := tx.QueuesByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		for _, q := range queues {
			if q.Status.Terminal() {
				continue
			}
			q.Status = StatusFail
			q.FailReason = FailReasonCancelled
			if err := tx.QueuePut(ctx, q); err != nil {
				return err
			}
			events = append(events, queueEvent(EventQueueFailed, q))
		}
		events = append(events, accountEvent(EventAccountCancelled, acct))
		return nil
	})
	if err != nil {
		return err
	}
	for _, evt := range events {
		e.emit(evt)
	}
	return nil
}

// Members returns the member set of an account.
func (e *Engine) Members(ctx context.Context, accountID string) (Members, error) {
	return e.store.MembersByAccount(ctx, accountID)
}

// SelfMembers returns the member addresses of the account whose keys are
// held by this wallet instance.
func (e *Engine) SelfMembers(ctx context.Context, accountID string) ([]string, error) {
	members, err := e.store.MembersByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return members.SelfAddresses(), nil
}

// Account returns a non-deleted account by id.
func (e *Engine) Account(ctx context.Context, accountID string) (*Account, error) {
	acct, ok, err := e.store.AccountGet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !ok || acct.Deleted {
		return nil, notFoundf("account %s", accountID)
	}
	return acct, nil
}

// Accounts lists every active account.
func (e *Engine) Accounts(ctx context.Context) ([]*Account, error) {
	all, err := e.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(all))
	for _, acct := range all {
		if !acct.Deleted {
			out = append(out, acct)
		}
	}
	return out, nil
}

// SelfIdentities lists the distinct backend identities whose keys this
// wallet instance holds, the unit of account recovery.
func (e *Engine) SelfIdentities(ctx context.Context) ([]string, error) {
	return e.store.SelfIdentities(ctx)
}

// ImportAccountSnapshot merges an authoritative account blob into the local
// store: unknown accounts are created, known ones merge member confirmation
// and public key fields without ever un-confirming a locally-confirmed
// member. Self flags are recomputed from locally-held keys, since the
// remote cannot know which keys this instance holds.
func (e *Engine) ImportAccountSnapshot(ctx context.Context, snap AccountSnapshot) error {
	sanitized, err := SanitizeAccount(&snap.Account)
	if err != nil {
		return err
	}
	return e.store.InTx(ctx, func(tx Store) error {
		local, known, err := tx.AccountGet(ctx, sanitized.ID)
		if err != nil {
			return err
		}
		existing := Members{}
		if known {
			if local.Deleted {
				// Cancellation wins over any replayed snapshot.
				return nil
			}
			existing, err = tx.MembersByAccount(ctx, sanitized.ID)
			if err != nil {
				return err
			}
			sanitized.CreatedAt = local.CreatedAt
		}
		byAddress := make(map[string]Member, len(existing))
		for _, m := range existing {
			byAddress[m.Address] = m
		}
		merged := make(Members, 0, len(snap.Members))
		for _, m := range snap.Members {
			m.AccountID = sanitized.ID
			if prev, ok := byAddress[m.Address]; ok {
				m.Confirmed = m.Confirmed || prev.Confirmed
				if m.PublicKey == "" {
					m.PublicKey = prev.PublicKey
				}
				if m.IdentityID == "" {
					m.IdentityID = prev.IdentityID
				}
			}
			if e.keys != nil {
				m.IsSelf = m.IsSelf || e.keys.Holds(m.Address, sanitized.ChainCode)
			}
			merged = append(merged, m)
		}
		sanitized.MemberCount = len(merged)
		sanitized.OwnerRole = merged.Role(sanitized.InitiatorAddress)
		if merged.AllConfirmed() {
			sanitized.Status = AccountConfirmed
		}
		if err := tx.AccountPut(ctx, sanitized); err != nil {
			return err
		}
		return tx.MembersPut(ctx, merged)
	})
}

// WipeAccount physically removes one account and all dependent records, and
// WipeAll resets the whole store. Both exist for local wallet resets only.
func (e *Engine) WipeAccount(ctx context.Context, accountID string) error {
	return e.store.WipeAccount(ctx, accountID)
}

func (e *Engine) WipeAll(ctx context.Context) error {
	return e.store.WipeAll(ctx)
}
