package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a failed remote operation so the UI can pick a
// tailored message. The coordinator reacts to every kind the same way
// (rollback); the kind is informational beyond that.
type Kind int

const (
	// KindValidation marks requests rejected locally before any network
	// activity (bad file type, oversized file, special-folder guard).
	KindValidation Kind = iota + 1

	// KindConflict marks mutations the server rejected because of stale
	// state.
	KindConflict

	// KindNetwork marks transport failures and timeouts, plus 5xx
	// responses where the server gave no usable answer.
	KindNetwork

	// KindNotFound marks mutations whose target no longer exists
	// remotely.
	KindNotFound

	// KindQuota marks uploads rejected because the storage limit is
	// exceeded.
	KindQuota
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindQuota:
		return "quota"
	}
	return "unknown"
}

// Error is a remote operation failure carrying its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with an operation name and kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report KindNetwork, the safest assumption for a failed remote call.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNetwork
}

// IsValidation reports whether err is a local validation rejection.
func IsValidation(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindValidation
}
