package multisig

import (
	"fmt"
	"sort"
	"strings"
)

// QueueStatus tracks a proposed transaction through signature collection,
// broadcast and on-chain confirmation. Values only move forward along
// PendingSignature, HasSignature, PendingExecution, InConfirmation and then
// Success or Fail; any pre-broadcast state may drop straight to Fail.
type QueueStatus uint8

const (
	StatusPendingSignature QueueStatus = 0
	StatusHasSignature     QueueStatus = 1
	StatusPendingExecution QueueStatus = 2
	StatusInConfirmation   QueueStatus = 3
	StatusSuccess          QueueStatus = 4
	StatusFail             QueueStatus = 5
)

// Terminal reports whether the status is immutable.
func (s QueueStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// Valid reports whether the status value is within the supported range.
func (s QueueStatus) Valid() bool {
	return s <= StatusFail
}

func (s QueueStatus) String() string {
	switch s {
	case StatusPendingSignature:
		return "pending-signature"
	case StatusHasSignature:
		return "has-signature"
	case StatusPendingExecution:
		return "pending-execution"
	case StatusInConfirmation:
		return "in-confirmation"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	default:
		return fmt.Sprintf("queue-status-%d", uint8(s))
	}
}

// Fail reasons attached to terminal queues.
const (
	FailReasonNone       = ""
	FailReasonSignFailed = "sign_failed"
	FailReasonExpired    = "expired"
	FailReasonCancelled  = "cancelled"
)

// Queue is one proposed outgoing transaction awaiting threshold approval.
type Queue struct {
	ID              string
	AccountID       string
	FromAddress     string
	ToAddress       string
	Value           string
	Symbol          string
	ChainCode       string
	TokenAddress    string
	Expiration      int64
	UnsignedPayload string
	MessageHash     string
	TxHash          string
	Status          QueueStatus
	FailReason      string
	Notes           string
	CreatedAt       int64
}

// Clone returns a copy callers can mutate without affecting the stored row.
func (q *Queue) Clone() *Queue {
	if q == nil {
		return nil
	}
	clone := *q
	return &clone
}

// Expired reports whether the queue can no longer collect signatures: the
// deadline passed before the transaction was broadcast.
func (q *Queue) Expired(now int64) bool {
	switch q.Status {
	case StatusPendingSignature, StatusHasSignature, StatusPendingExecution:
		return q.TxHash == "" && q.Expiration < now
	default:
		return false
	}
}

// SanitizeQueue validates and normalises a queue definition, returning a
// cloned instance. The original value is not mutated.
func SanitizeQueue(q *Queue) (*Queue, error) {
	if q == nil {
		return nil, validationf("nil queue")
	}
	clone := q.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.AccountID = strings.TrimSpace(clone.AccountID)
	clone.ChainCode = strings.ToLower(strings.TrimSpace(clone.ChainCode))
	if clone.ID == "" {
		return nil, validationf("queue id required")
	}
	if clone.AccountID == "" {
		return nil, validationf("queue account id required")
	}
	if !clone.Status.Valid() {
		return nil, validationf("invalid queue status: %d", clone.Status)
	}
	return clone, nil
}

// SignatureStatus is the per-member verdict on a queue entry.
type SignatureStatus uint8

const (
	SigUnsigned SignatureStatus = 0
	SigApproved SignatureStatus = 1
	SigRejected SignatureStatus = 2
)

func (s SignatureStatus) Valid() bool {
	return s <= SigRejected
}

func (s SignatureStatus) String() string {
	switch s {
	case SigUnsigned:
		return "unsigned"
	case SigApproved:
		return "approved"
	case SigRejected:
		return "rejected"
	default:
		return fmt.Sprintf("signature-status-%d", uint8(s))
	}
}

// Signature is one member's signing record for one queue entry. At most one
// record exists per (queue, address); Bytes is populated only when Approved.
type Signature struct {
	QueueID string
	Address string
	Status  SignatureStatus
	Bytes   string
}

// Signatures is the signature set of a single queue entry.
type Signatures []Signature

// Approved returns the approved subset in ascending address order, the
// default aggregation order expected by chain adapters.
func (sigs Signatures) Approved() Signatures {
	var out Signatures
	for _, s := range sigs {
		if s.Status == SigApproved {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// ByAddress returns the record for address, if any.
func (sigs Signatures) ByAddress(address string) (Signature, bool) {
	for _, s := range sigs {
		if s.Address == address {
			return s, true
		}
	}
	return Signature{}, false
}

// MemberSignState joins a member row with its signature record for one
// queue, the unit the aggregation algorithm operates on.
type MemberSignState struct {
	Member
	SigStatus SignatureStatus
	Signature string
}

// JoinSignStates pairs every member with its signature record, defaulting
// missing records to unsigned.
func JoinSignStates(members Members, sigs Signatures) []MemberSignState {
	out := make([]MemberSignState, 0, len(members))
	for _, m := range members {
		state := MemberSignState{Member: m, SigStatus: SigUnsigned}
		if sig, ok := sigs.ByAddress(m.Address); ok {
			state.SigStatus = sig.Status
			state.Signature = sig.Bytes
		}
		out = append(out, state)
	}
	return out
}
