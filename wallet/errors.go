package wallet

import (
	"errors"
)

// Connect failures. Each maps to the tag reported across the adapter boundary.
var (
	ErrUserRejected = errors.New("wallet: user rejected the connection")
	ErrNoAccounts   = errors.New("wallet: no accounts connected")
	ErrWrongChain   = errors.New("wallet: wrong chain selected")
	ErrTimeout      = errors.New("wallet: approval timed out")
	ErrUnknown      = errors.New("wallet: unknown error")
)

// ErrNotConnected is returned by requests on an adapter without a session.
var ErrNotConnected = errors.New("wallet: not connected")

// Error tags.
const (
	TagUserRejected = "user_rejected"
	TagNoAccounts   = "no_accounts_connected"
	TagWrongChain   = "wrong_chain"
	TagTimeout      = "timeout"
	TagUnknown      = "unknown_error"
)

// Tag maps err to its wire tag. Anything unrecognised is unknown_error.
func Tag(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserRejected):
		return TagUserRejected
	case errors.Is(err, ErrNoAccounts):
		return TagNoAccounts
	case errors.Is(err, ErrWrongChain):
		return TagWrongChain
	case errors.Is(err, ErrTimeout):
		return TagTimeout
	default:
		return TagUnknown
	}
}

// FromTag is the inverse of Tag.
func FromTag(tag string) error {
	switch tag {
	case TagUserRejected:
		return ErrUserRejected
	case TagNoAccounts:
		return ErrNoAccounts
	case TagWrongChain:
		return ErrWrongChain
	case TagTimeout:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// silent reports whether a connect failure is indistinguishable from the user
// walking away, in which case nothing is said in the chat.
func silent(err error) bool {
	return errors.Is(err, ErrUserRejected) || errors.Is(err, ErrTimeout)
}
