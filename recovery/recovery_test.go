package recovery

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"walletcore/native/multisig"
	"walletcore/storage/walletdb"
)

type fakeRelay struct {
	accounts  map[string][]multisig.AccountSnapshot
	queues    map[string][]multisig.QueueSnapshot
	pushed    []multisig.QueueSnapshot
	cancelled []string
}

func (f *fakeRelay) FetchAccountSnapshots(_ context.Context, identityID string) ([]multisig.AccountSnapshot, error) {
	return f.accounts[identityID], nil
}

func (f *fakeRelay) FetchQueueSnapshots(_ context.Context, accountID string) ([]multisig.QueueSnapshot, error) {
	return f.queues[accountID], nil
}

func (f *fakeRelay) PushQueueSnapshot(_ context.Context, snap multisig.QueueSnapshot) error {
	f.pushed = append(f.pushed, snap)
	return nil
}

func (f *fakeRelay) CheckCancelled(context.Context, []string) ([]string, error) {
	return f.cancelled, nil
}

// stubAdapter reports a fixed confirmation result.
type stubAdapter struct {
	confirm multisig.Confirmation
}

func (s *stubAdapter) ChainCode() string { return "eth" }
func (s *stubAdapter) EstimateFee(context.Context, *multisig.Account, *multisig.Queue) (multisig.Fee, error) {
	return multisig.Fee{}, nil
}
func (s *stubAdapter) BuildTransaction(context.Context, *multisig.Account, multisig.Members, multisig.TransferIntent) (multisig.BuiltTransaction, error) {
	return multisig.BuiltTransaction{MessageHash: "hash", UnsignedPayload: "payload"}, nil
}
func (s *stubAdapter) Sign(string, *ecdsa.PrivateKey) (string, error) { return "sig", nil }
func (s *stubAdapter) Execute(context.Context, *multisig.Account, multisig.Signatures, string) (string, error) {
	return "0xtx", nil
}
func (s *stubAdapter) QueryConfirmation(context.Context, string) (multisig.Confirmation, error) {
	return s.confirm, nil
}
func (s *stubAdapter) OrderSignatures(*multisig.Account, multisig.Members, multisig.Signatures) []string {
	return nil
}

type stubRegistry struct{ adapter multisig.ChainAdapter }

func (r *stubRegistry) Adapter(string) (multisig.ChainAdapter, error) { return r.adapter, nil }

// stubKeys marks one address as locally held without real key material.
type stubKeys struct{ address string }

func (k *stubKeys) PrivateKey(string, string, string) (*ecdsa.PrivateKey, error) {
	return nil, nil
}
func (k *stubKeys) Holds(address, _ string) bool { return address == k.address }

func testEngine(t *testing.T, adapter *stubAdapter) (*multisig.Engine, *walletdb.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	store, err := walletdb.NewStore(db)
	require.NoError(t, err)
	engine := multisig.NewEngine(store)
	engine.SetAdapters(&stubRegistry{adapter: adapter})
	engine.SetKeyStore(&stubKeys{address: "0xalice"})
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, store
}

func accountSnap() multisig.AccountSnapshot {
	return multisig.AccountSnapshot{
		Account: multisig.Account{
			ID:               "acct-1",
			Name:             "treasury",
			Address:          "0xsafe",
			ChainCode:        "eth",
			InitiatorAddress: "0xalice",
			Threshold:        2,
			MemberCount:      2,
			Status:           multisig.AccountConfirmed,
		},
		Members: multisig.Members{
			{AccountID: "acct-1", Address: "0xalice", IdentityID: "uid-alice", Confirmed: true},
			{AccountID: "acct-1", Address: "0xbob", IdentityID: "uid-bob", Confirmed: true},
		},
	}
}

func TestRecoverAccountsImportsAccountsAndQueues(t *testing.T) {
	adapter := &stubAdapter{}
	engine, store := testEngine(t, adapter)
	relay := &fakeRelay{
		accounts: map[string][]multisig.AccountSnapshot{
			"uid-alice": {accountSnap()},
		},
		queues: map[string][]multisig.QueueSnapshot{
			"acct-1": {{
				Queue: multisig.Queue{
					ID: "q-1", AccountID: "acct-1", ChainCode: "eth",
					Expiration: 1_700_100_000, MessageHash: "hash",
					Status: multisig.StatusPendingSignature,
				},
				Signatures: multisig.Signatures{
					{Address: "0xalice", Status: multisig.SigApproved, Bytes: "sig-a"},
					{Address: "0xbob", Status: multisig.SigApproved, Bytes: "sig-b"},
				},
			}},
		},
	}
	recoverer := New(Config{Engine: engine, Relay: relay})
	ctx := context.Background()

	require.NoError(t, recoverer.RecoverAccounts(ctx, "uid-alice"))

	acct, err := engine.Account(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, multisig.AccountConfirmed, acct.Status)

	// The self flag was rebuilt from locally-held keys.
	self, err := engine.SelfMembers(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, []string{"0xalice"}, self)

	// The queue landed and its status was recomputed from the signature
	// set, not taken from the snapshot.
	q, ok, err := store.QueueGet(ctx, "q-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, multisig.StatusPendingExecution, q.Status)
}

func TestRecoverAllUsesSelfIdentities(t *testing.T) {
	adapter := &stubAdapter{}
	engine, _ := testEngine(t, adapter)
	relay := &fakeRelay{
		accounts: map[string][]multisig.AccountSnapshot{
			"uid-alice": {accountSnap()},
		},
	}
	recoverer := New(Config{Engine: engine, Relay: relay})
	ctx := context.Background()

	// First pass seeds the account, which records uid-alice as self.
	require.NoError(t, recoverer.RecoverAccounts(ctx, "uid-alice"))

	ids, err := engine.SelfIdentities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"uid-alice"}, ids)

	require.NoError(t, recoverer.RecoverAll(ctx))
}

func TestRecoveryIsIdempotent(t *testing.T) {
	adapter := &stubAdapter{}
	engine, _ := testEngine(t, adapter)
	relay := &fakeRelay{
		accounts: map[string][]multisig.AccountSnapshot{
			"uid-alice": {accountSnap()},
		},
	}
	recoverer := New(Config{Engine: engine, Relay: relay})
	ctx := context.Background()

	require.NoError(t, recoverer.RecoverAccounts(ctx, "uid-alice"))
	first, err := engine.Account(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, recoverer.RecoverAccounts(ctx, "uid-alice"))
	second, err := engine.Account(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func seedBroadcastQueue(t *testing.T, engine *multisig.Engine, store *walletdb.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, engine.ImportAccountSnapshot(ctx, accountSnap()))
	require.NoError(t, store.QueuePut(ctx, &multisig.Queue{
		ID: "q-1", AccountID: "acct-1", ChainCode: "eth",
		Expiration: 1_700_100_000, MessageHash: "hash", TxHash: "0xtx",
		Status: multisig.StatusInConfirmation,
	}))
}

func TestPollConfirmationsResolvesAndPushes(t *testing.T) {
	adapter := &stubAdapter{confirm: multisig.Confirmation{State: multisig.ConfirmSuccess, BlockHeight: 42}}
	engine, store := testEngine(t, adapter)
	relay := &fakeRelay{}
	recoverer := New(Config{Engine: engine, Relay: relay})
	ctx := context.Background()
	seedBroadcastQueue(t, engine, store)

	n, err := recoverer.PollConfirmations(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	q, _, err := store.QueueGet(ctx, "q-1")
	require.NoError(t, err)
	require.Equal(t, multisig.StatusSuccess, q.Status)

	require.Len(t, relay.pushed, 1)
	require.Equal(t, multisig.StatusSuccess, relay.pushed[0].Queue.Status)

	// Nothing left to resolve on the next tick.
	n, err = recoverer.PollConfirmations(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPollConfirmationsLeavesPendingAlone(t *testing.T) {
	adapter := &stubAdapter{confirm: multisig.Confirmation{State: multisig.ConfirmPending}}
	engine, store := testEngine(t, adapter)
	recoverer := New(Config{Engine: engine, Relay: &fakeRelay{}})
	ctx := context.Background()
	seedBroadcastQueue(t, engine, store)

	n, err := recoverer.PollConfirmations(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	q, _, err := store.QueueGet(ctx, "q-1")
	require.NoError(t, err)
	require.Equal(t, multisig.StatusInConfirmation, q.Status)
}

func TestSyncCancellations(t *testing.T) {
	adapter := &stubAdapter{}
	engine, store := testEngine(t, adapter)
	relay := &fakeRelay{cancelled: []string{"acct-1"}}
	recoverer := New(Config{Engine: engine, Relay: relay})
	ctx := context.Background()
	require.NoError(t, engine.ImportAccountSnapshot(ctx, accountSnap()))

	require.NoError(t, recoverer.SyncCancellations(ctx))

	acct, ok, err := store.AccountGet(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, acct.Deleted)
}
