package sync

import (
	"errors"
	"fmt"

	"github.com/rhermens/git-watch/internal/auth"
)

// ErrDiverged is returned when local and upstream history diverged and the
// divergence policy is to fail.
var ErrDiverged = errors.New("local and upstream history have diverged")

// Kind classifies a failed cycle. Every kind maps to a process exit code.
type Kind int

const (
	// Internal covers failures outside the cycle, such as configuration.
	Internal Kind = iota
	FetchFailed
	FastForwardFailed
	HeadResolutionFailed
	PublishFailed
	CredentialFailed
	CleanupFailed
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "Internal"
	case FetchFailed:
		return "FetchFailed"
	case FastForwardFailed:
		return "FastForwardFailed"
	case HeadResolutionFailed:
		return "HeadResolutionFailed"
	case PublishFailed:
		return "PublishFailed"
	case CredentialFailed:
		return "CredentialFailed"
	case CleanupFailed:
		return "CleanupFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ExitCode returns the process exit status for k.
func (k Kind) ExitCode() int {
	switch k {
	case FetchFailed:
		return 2
	case FastForwardFailed:
		return 3
	case HeadResolutionFailed:
		return 4
	case PublishFailed:
		return 5
	case CredentialFailed:
		return 6
	case CleanupFailed:
		return 7
	default:
		return 1
	}
}

// Error is a classified cycle failure wrapping the backend error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err as kind. Missing credentials are reported as
// CredentialFailed whichever operation needed them.
func newError(kind Kind, op string, err error) error {
	if errors.Is(err, auth.ErrCredentials) {
		kind = CredentialFailed
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ExitCode returns the process exit status for err; zero for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
