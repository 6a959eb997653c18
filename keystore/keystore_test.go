package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"path/filepath"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"walletcore/native/multisig"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestImportAndDecrypt(t *testing.T) {
	store := openTestStore(t)
	key, err := ecdsa.GenerateKey(gethcrypto.S256(), rand.Reader)
	require.NoError(t, err)

	require.NoError(t, store.Import("0xalice", "eth", key, "hunter2"))
	require.True(t, store.Holds("0xalice", "eth"))
	require.False(t, store.Holds("0xalice", "btc"))
	require.False(t, store.Holds("0xbob", "eth"))

	got, err := store.PrivateKey("0xalice", "eth", "hunter2")
	require.NoError(t, err)
	require.Zero(t, key.D.Cmp(got.D))
}

func TestWrongPasswordIsAuthenticationError(t *testing.T) {
	store := openTestStore(t)
	key, err := ecdsa.GenerateKey(gethcrypto.S256(), rand.Reader)
	require.NoError(t, err)
	require.NoError(t, store.Import("0xalice", "eth", key, "hunter2"))

	_, err = store.PrivateKey("0xalice", "eth", "wrong")
	require.ErrorIs(t, err, multisig.ErrAuthentication)
}

func TestMissingKeyIsNotAuthenticationError(t *testing.T) {
	store := openTestStore(t)
	_, err := store.PrivateKey("0xnobody", "eth", "hunter2")
	require.Error(t, err)
	require.NotErrorIs(t, err, multisig.ErrAuthentication)
}

func TestGenerateDeleteAddresses(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Generate("0xalice", "eth", "hunter2")
	require.NoError(t, err)
	_, err = store.Generate("bc1qalice", "btc", "hunter2")
	require.NoError(t, err)

	addrs, err := store.Addresses()
	require.NoError(t, err)
	require.Len(t, addrs, 2)

	require.NoError(t, store.Delete("0xalice", "eth"))
	require.False(t, store.Holds("0xalice", "eth"))
	require.True(t, store.Holds("bc1qalice", "btc"))
}
