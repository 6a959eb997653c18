package multisig

import (
	"errors"
	"fmt"
)

// Error kinds. Validation and authentication errors propagate to the caller
// and are never retried. Adapter errors leave queue state untouched so the
// caller can retry. Conflicts on terminal entities are absorbed by callers
// because terminal states are intentionally immutable.
var (
	ErrValidation     = errors.New("invalid request")
	ErrAuthentication = errors.New("authentication failed")
	ErrAdapter        = errors.New("chain adapter failure")
	ErrConflict       = errors.New("entity is terminal")
	ErrNotFound       = errors.New("not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func adapterErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrAdapter, err)
}

// AuthenticationError wraps a key-retrieval failure caused by a bad
// password. No state mutation happens before this surfaces.
func AuthenticationError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrAuthentication, err)
}
