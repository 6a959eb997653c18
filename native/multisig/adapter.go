package multisig

import (
	"context"
	"crypto/ecdsa"
)

// Fee is a chain adapter's cost estimate for executing a queue entry.
type Fee struct {
	Amount string
	Symbol string
}

// TransferIntent carries the user-supplied parameters of a proposed
// transaction before a chain adapter turns them into a signable payload.
type TransferIntent struct {
	To           string
	Value        string
	Symbol       string
	TokenAddress string
	Expiration   int64
	Notes        string
}

// BuiltTransaction is the adapter output a queue entry is created from:
// the hash members sign and the opaque serialized transaction.
type BuiltTransaction struct {
	MessageHash     string
	UnsignedPayload string
}

// ConfirmationState is the observed on-chain outcome of a broadcast.
type ConfirmationState uint8

const (
	ConfirmPending ConfirmationState = iota
	ConfirmSuccess
	ConfirmFailed
)

// Confirmation is the result of polling a broadcast transaction.
type Confirmation struct {
	State       ConfirmationState
	BlockHeight uint64
}

// ChainAdapter is the per-chain capability the engine delegates transaction
// mechanics to. Adding a chain means adding an implementation, never
// modifying the engine.
type ChainAdapter interface {
	ChainCode() string
	EstimateFee(ctx context.Context, acct *Account, q *Queue) (Fee, error)
	BuildTransaction(ctx context.Context, acct *Account, members Members, intent TransferIntent) (BuiltTransaction, error)
	Sign(messageHash string, key *ecdsa.PrivateKey) (string, error)
	Execute(ctx context.Context, acct *Account, sigs Signatures, unsignedPayload string) (string, error)
	QueryConfirmation(ctx context.Context, txHash string) (Confirmation, error)
	// OrderSignatures arranges approved signature blobs in the order the
	// chain's aggregate transaction expects.
	OrderSignatures(acct *Account, members Members, sigs Signatures) []string
}

// AdapterRegistry resolves the adapter for a chain code.
type AdapterRegistry interface {
	Adapter(chainCode string) (ChainAdapter, error)
}

// KeyStore owns private key material. Keys never enter the engine's store.
type KeyStore interface {
	// PrivateKey fails with an authentication error on a bad password.
	PrivateKey(address, chainCode, password string) (*ecdsa.PrivateKey, error)
	// Holds reports whether the key for address is stored locally.
	Holds(address, chainCode string) bool
}
