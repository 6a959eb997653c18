package multisig

import "context"

// Store is the durable persistence boundary of the engine. Implementations
// must serialize writers of the same row inside InTx; writers of different
// accounts or queues are free to proceed in parallel. Every Put is an upsert
// so that recovery and live event processing can race safely.
type Store interface {
	// InTx runs fn inside a transaction so that the read-modify-write of a
	// status recomputation is atomic with respect to other writers.
	InTx(ctx context.Context, fn func(Store) error) error

	AccountPut(ctx context.Context, acct *Account) error
	AccountGet(ctx context.Context, id string) (*Account, bool, error)
	AccountByAddress(ctx context.Context, address, chainCode string) (*Account, bool, error)
	// Accounts lists every stored account, deleted ones included.
	Accounts(ctx context.Context) ([]*Account, error)

	// MembersPut upserts by (account id, address).
	MembersPut(ctx context.Context, members []Member) error
	MembersByAccount(ctx context.Context, accountID string) (Members, error)

	QueuePut(ctx context.Context, q *Queue) error
	QueueGet(ctx context.Context, id string) (*Queue, bool, error)
	QueuesByAccount(ctx context.Context, accountID string) ([]*Queue, error)
	QueuesByStatus(ctx context.Context, statuses ...QueueStatus) ([]*Queue, error)

	// SignaturePut upserts by (queue id, address).
	SignaturePut(ctx context.Context, sig Signature) error
	SignaturesByQueue(ctx context.Context, queueID string) (Signatures, error)

	// SelfIdentities lists the distinct remote identity ids of members whose
	// keys are held locally, the unit of account recovery.
	SelfIdentities(ctx context.Context) ([]string, error)

	// WipeAccount physically deletes one account with its members, queues
	// and signatures. WipeAll resets the whole store. Normal cancellation is
	// a logical delete and never reaches these.
	WipeAccount(ctx context.Context, accountID string) error
	WipeAll(ctx context.Context) error
}
