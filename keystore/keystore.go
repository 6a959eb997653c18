package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"walletcore/native/multisig"
)

var bucketKeys = []byte("keys")

// Store keeps member private keys encrypted at rest in a bolt file. Each
// entry is an Ethereum v3 keystore JSON blob keyed by chain code and
// address, so the same address can hold distinct keys per chain.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the key database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init key store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func entryKey(address, chainCode string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(chainCode)) + "/" + strings.TrimSpace(address))
}

// Import encrypts and stores a private key for address on chainCode. An
// existing entry is overwritten; callers decide whether replacing a key is
// acceptable.
func (s *Store) Import(address, chainCode string, key *ecdsa.PrivateKey, password string) error {
	if key == nil {
		return errors.New("keystore: nil private key")
	}
	entry := &gethkeystore.Key{
		Id:         uuid.New(),
		Address:    gethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
	blob, err := gethkeystore.EncryptKey(entry, password, gethkeystore.StandardScryptN, gethkeystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Put(entryKey(address, chainCode), blob)
	})
}

// Generate creates a fresh secp256k1 key, stores it encrypted and returns
// it for address derivation by the caller.
func (s *Store) Generate(address, chainCode, password string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(gethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := s.Import(address, chainCode, key, password); err != nil {
		return nil, err
	}
	return key, nil
}

// PrivateKey decrypts the key for address on chainCode. A wrong password
// surfaces as an authentication error so callers can distinguish it from
// missing key material.
func (s *Store) PrivateKey(address, chainCode, password string) (*ecdsa.PrivateKey, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeys).Get(entryKey(address, chainCode))
		if v == nil {
			return nil
		}
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("keystore: no key for %s on %s", address, chainCode)
	}
	decrypted, err := gethkeystore.DecryptKey(blob, password)
	if err != nil {
		return nil, multisig.AuthenticationError(err)
	}
	return decrypted.PrivateKey, nil
}

// Holds reports whether key material for address on chainCode is stored
// locally. It never touches the password handshake.
func (s *Store) Holds(address, chainCode string) bool {
	var found bool
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketKeys).Get(entryKey(address, chainCode)) != nil
		return nil
	})
	return found
}

// Delete removes the key entry for address on chainCode.
func (s *Store) Delete(address, chainCode string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Delete(entryKey(address, chainCode))
	})
}

// Addresses lists every stored entry as chainCode/address pairs.
func (s *Store) Addresses() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}
