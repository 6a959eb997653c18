package multisig

import (
	"fmt"
	"strings"
)

// AccountStatus tracks the confirmation lifecycle of a multisig account.
// Codes are stable and shared with the backend relay.
type AccountStatus uint8

const (
	AccountPending   AccountStatus = 1
	AccountConfirmed AccountStatus = 2
)

// Valid reports whether the status value is within the supported range.
func (s AccountStatus) Valid() bool {
	return s == AccountPending || s == AccountConfirmed
}

// OwnerRole describes how the local wallet instance relates to an account.
type OwnerRole uint8

const (
	// RoleParticipant marks accounts the local instance was invited into.
	RoleParticipant OwnerRole = 0
	// RoleOwner marks accounts the local instance proposed.
	RoleOwner OwnerRole = 1
	// RoleBoth marks accounts the local instance proposed and additionally
	// holds a member key other than the initiator's.
	RoleBoth OwnerRole = 2
)

// Account is one multisig wallet address on one chain.
type Account struct {
	ID               string
	Name             string
	Address          string
	AddressType      string
	ChainCode        string
	InitiatorAddress string
	Threshold        int
	MemberCount      int
	Status           AccountStatus
	OwnerRole        OwnerRole
	Deployed         bool
	Deleted          bool
	CreatedAt        int64
}

// Clone returns a copy callers can mutate without affecting the stored row.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// SanitizeAccount validates and normalises an account definition, returning
// a cloned instance. The original value is not mutated.
func SanitizeAccount(a *Account) (*Account, error) {
	if a == nil {
		return nil, validationf("nil account")
	}
	clone := a.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Address = strings.TrimSpace(clone.Address)
	clone.ChainCode = strings.ToLower(strings.TrimSpace(clone.ChainCode))
	if clone.ID == "" {
		return nil, validationf("account id required")
	}
	if clone.ChainCode == "" {
		return nil, validationf("account chain code required")
	}
	if clone.Threshold <= 0 {
		return nil, validationf("threshold must be positive")
	}
	if clone.Threshold > clone.MemberCount {
		return nil, validationf("threshold %d exceeds member count %d", clone.Threshold, clone.MemberCount)
	}
	if !clone.Status.Valid() {
		return nil, validationf("invalid account status: %d", clone.Status)
	}
	return clone, nil
}

// Member is one key-holder of an account. Confirmed is monotonic: once a
// member confirmed participation the engine never resets the flag; only a
// full account re-sync may replace the row.
type Member struct {
	AccountID  string
	Address    string
	Name       string
	PublicKey  string
	IdentityID string
	Confirmed  bool
	IsSelf     bool
}

// Members is a member set with account-level aggregate helpers.
type Members []Member

// AllConfirmed reports whether every member has confirmed participation.
func (ms Members) AllConfirmed() bool {
	for _, m := range ms {
		if !m.Confirmed {
			return false
		}
	}
	return len(ms) > 0
}

// SelfAddresses returns the addresses whose private keys are held locally.
func (ms Members) SelfAddresses() []string {
	var out []string
	for _, m := range ms {
		if m.IsSelf {
			out = append(out, m.Address)
		}
	}
	return out
}

// Role derives the local owner role from the self flags and the initiator
// address: proposing locally makes the account owned, a second local member
// key makes it both owned and participated in.
func (ms Members) Role(initiator string) OwnerRole {
	var isOwner, hasOtherSelf bool
	for _, m := range ms {
		if !m.IsSelf {
			continue
		}
		if m.Address == initiator {
			isOwner = true
		} else {
			hasOtherSelf = true
		}
	}
	switch {
	case isOwner && hasOtherSelf:
		return RoleBoth
	case isOwner:
		return RoleOwner
	default:
		return RoleParticipant
	}
}

func (s AccountStatus) String() string {
	switch s {
	case AccountPending:
		return "pending"
	case AccountConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("account-status-%d", uint8(s))
	}
}

func (r OwnerRole) String() string {
	switch r {
	case RoleParticipant:
		return "participant"
	case RoleOwner:
		return "owner"
	case RoleBoth:
		return "both"
	default:
		return fmt.Sprintf("owner-role-%d", uint8(r))
	}
}
