package multisig

import (
	"context"
	"sort"
	"sync"
)

// mockStore is an in-memory Store used by engine tests. InTx serializes
// via a single mutex, which satisfies the per-row atomicity contract.
type mockStore struct {
	mu         sync.Mutex
	accounts   map[string]*Account
	members    map[string]Members
	queues     map[string]*Queue
	signatures map[string]Signatures
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts:   make(map[string]*Account),
		members:    make(map[string]Members),
		queues:     make(map[string]*Queue),
		signatures: make(map[string]Signatures),
	}
}

func (s *mockStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*lockedMockStore)(s))
}

// lockedMockStore is the same store with locking elided, handed to InTx
// callbacks so nested calls do not deadlock.
type lockedMockStore mockStore

func (s *lockedMockStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *mockStore) AccountPut(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).AccountPut(ctx, acct)
}

func (s *lockedMockStore) AccountPut(_ context.Context, acct *Account) error {
	s.accounts[acct.ID] = acct.Clone()
	return nil
}

func (s *mockStore) AccountGet(ctx context.Context, id string) (*Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).AccountGet(ctx, id)
}

func (s *lockedMockStore) AccountGet(_ context.Context, id string) (*Account, bool, error) {
	acct, ok := s.accounts[id]
	if !ok {
		return nil, false, nil
	}
	return acct.Clone(), true, nil
}

func (s *mockStore) Accounts(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).Accounts(ctx)
}

func (s *lockedMockStore) Accounts(_ context.Context) ([]*Account, error) {
	var out []*Account
	for _, acct := range s.accounts {
		out = append(out, acct.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockStore) AccountByAddress(ctx context.Context, address, chainCode string) (*Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).AccountByAddress(ctx, address, chainCode)
}

func (s *lockedMockStore) AccountByAddress(_ context.Context, address, chainCode string) (*Account, bool, error) {
	for _, acct := range s.accounts {
		if acct.Address == address && acct.ChainCode == chainCode {
			return acct.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (s *mockStore) MembersPut(ctx context.Context, members []Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).MembersPut(ctx, members)
}

func (s *lockedMockStore) MembersPut(_ context.Context, members []Member) error {
	for _, m := range members {
		existing := s.members[m.AccountID]
		replaced := false
		for i := range existing {
			if existing[i].Address == m.Address {
				existing[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, m)
		}
		s.members[m.AccountID] = existing
	}
	return nil
}

func (s *mockStore) MembersByAccount(ctx context.Context, accountID string) (Members, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).MembersByAccount(ctx, accountID)
}

func (s *lockedMockStore) MembersByAccount(_ context.Context, accountID string) (Members, error) {
	return append(Members{}, s.members[accountID]...), nil
}

func (s *mockStore) QueuePut(ctx context.Context, q *Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).QueuePut(ctx, q)
}

func (s *lockedMockStore) QueuePut(_ context.Context, q *Queue) error {
	s.queues[q.ID] = q.Clone()
	return nil
}

func (s *mockStore) QueueGet(ctx context.Context, id string) (*Queue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).QueueGet(ctx, id)
}

func (s *lockedMockStore) QueueGet(_ context.Context, id string) (*Queue, bool, error) {
	q, ok := s.queues[id]
	if !ok {
		return nil, false, nil
	}
	return q.Clone(), true, nil
}

func (s *mockStore) QueuesByAccount(ctx context.Context, accountID string) ([]*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).QueuesByAccount(ctx, accountID)
}

func (s *lockedMockStore) QueuesByAccount(_ context.Context, accountID string) ([]*Queue, error) {
	var out []*Queue
	for _, q := range s.queues {
		if q.AccountID == accountID {
			out = append(out, q.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockStore) QueuesByStatus(ctx context.Context, statuses ...QueueStatus) ([]*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).QueuesByStatus(ctx, statuses...)
}

func (s *lockedMockStore) QueuesByStatus(_ context.Context, statuses ...QueueStatus) ([]*Queue, error) {
	var out []*Queue
	for _, q := range s.queues {
		for _, status := range statuses {
			if q.Status == status {
				out = append(out, q.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockStore) SignaturePut(ctx context.Context, sig Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).SignaturePut(ctx, sig)
}

func (s *lockedMockStore) SignaturePut(_ context.Context, sig Signature) error {
	existing := s.signatures[sig.QueueID]
	for i := range existing {
		if existing[i].Address == sig.Address {
			existing[i] = sig
			s.signatures[sig.QueueID] = existing
			return nil
		}
	}
	s.signatures[sig.QueueID] = append(existing, sig)
	return nil
}

func (s *mockStore) SignaturesByQueue(ctx context.Context, queueID string) (Signatures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).SignaturesByQueue(ctx, queueID)
}

func (s *lockedMockStore) SignaturesByQueue(_ context.Context, queueID string) (Signatures, error) {
	return append(Signatures{}, s.signatures[queueID]...), nil
}

func (s *mockStore) SelfIdentities(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).SelfIdentities(ctx)
}

func (s *lockedMockStore) SelfIdentities(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, members := range s.members {
		for _, m := range members {
			if !m.IsSelf || m.IdentityID == "" {
				continue
			}
			if _, ok := seen[m.IdentityID]; ok {
				continue
			}
			seen[m.IdentityID] = struct{}{}
			out = append(out, m.IdentityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *mockStore) WipeAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).WipeAccount(ctx, accountID)
}

func (s *lockedMockStore) WipeAccount(_ context.Context, accountID string) error {
	delete(s.accounts, accountID)
	delete(s.members, accountID)
	for id, q := range s.queues {
		if q.AccountID == accountID {
			delete(s.queues, id)
			delete(s.signatures, id)
		}
	}
	return nil
}

func (s *mockStore) WipeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*lockedMockStore)(s).WipeAll(ctx)
}

func (s *lockedMockStore) WipeAll(_ context.Context) error {
	s.accounts = make(map[string]*Account)
	s.members = make(map[string]Members)
	s.queues = make(map[string]*Queue)
	s.signatures = make(map[string]Signatures)
	return nil
}
