// Package autherr provides shared error types for the authwallet client.
package autherr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrResolutionUnavailable is returned when a gateway reference or the
	// chain REST base cannot be resolved. Callers may retry later.
	ErrResolutionUnavailable = errors.New("resolution unavailable")

	// ErrDifficultyTooHigh is returned when a proof-of-work difficulty exceeds 256 bits.
	ErrDifficultyTooHigh = errors.New("pow difficulty too high")

	// ErrPowSearchExhausted is returned when the whole 64-bit counter space was searched.
	ErrPowSearchExhausted = errors.New("pow search exhausted")

	// ErrPqcKeyUnavailable is returned when the chain holds a commitment that no
	// local key can satisfy. The key must be restored from backup.
	ErrPqcKeyUnavailable = errors.New("pqc key unavailable")

	// ErrPqcKeyMismatch is returned when the selected local key contradicts the
	// on-chain commitment.
	ErrPqcKeyMismatch = errors.New("pqc key mismatch")

	// ErrInsufficientBalance is returned when the wallet cannot cover the link minimum.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBroadcastFailed is returned when the chain rejects a transaction.
	ErrBroadcastFailed = errors.New("broadcast failed")

	// ErrUnsupportedAlgorithm is returned when a gateway publishes a KEM other than kyber768.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrGatewayKeyUnavailable is returned when a gateway's KEM public key cannot be fetched.
	ErrGatewayKeyUnavailable = errors.New("gateway key unavailable")

	// ErrInvalidPayload is returned when a request payload is not a JSON object or null.
	ErrInvalidPayload = errors.New("payload must be a JSON object or null")

	// ErrTimeout is returned when a network operation exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrKeyNotFound is returned by keystores when a named record does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNotFound is matched by 404 API errors.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is matched by 429 API errors.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AuthWalletError is implemented by all typed errors of this module.
type AuthWalletError interface {
	error
	AuthWalletError() // marker method
}

// APIError represents a non-2xx HTTP response from a gateway or chain node.
type APIError struct {
	StatusCode int
	Message    string
	// Body is the response body, decrypted when the gateway replied with an
	// encrypted envelope.
	Body []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// AuthWalletError implements the AuthWalletError interface.
func (e *APIError) AuthWalletError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 404:
		return target == ErrNotFound
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("network error (%s): %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthWalletError implements the AuthWalletError interface.
func (e *NetworkError) AuthWalletError() {}

// TimeoutError represents an operation that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Timeout)
}

// Is implements errors.Is for sentinel error matching.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// AuthWalletError implements the AuthWalletError interface.
func (e *TimeoutError) AuthWalletError() {}

// BroadcastError carries the chain's rejection of a link transaction.
type BroadcastError struct {
	Code   uint32
	RawLog string
	TxHash string
}

func (e *BroadcastError) Error() string {
	if e.RawLog != "" {
		return fmt.Sprintf("broadcast failed with code %d: %s", e.Code, e.RawLog)
	}
	return fmt.Sprintf("broadcast failed with code %d", e.Code)
}

// Is implements errors.Is for sentinel error matching.
func (e *BroadcastError) Is(target error) bool {
	return target == ErrBroadcastFailed
}

// AuthWalletError implements the AuthWalletError interface.
func (e *BroadcastError) AuthWalletError() {}

// KeyMismatchError reports a local key whose hash disagrees with the chain.
type KeyMismatchError struct {
	Address     string
	KeyName     string
	LocalHash   string
	OnChainHash string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("pqc key mismatch for %s: local key %q hash %s, on-chain hash %s",
		e.Address, e.KeyName, e.LocalHash, e.OnChainHash)
}

// Is implements errors.Is for sentinel error matching.
func (e *KeyMismatchError) Is(target error) bool {
	return target == ErrPqcKeyMismatch
}

// AuthWalletError implements the AuthWalletError interface.
func (e *KeyMismatchError) AuthWalletError() {}

// InsufficientBalanceError reports the link minimum and the wallet balance,
// both formatted as "<amount><denom>".
type InsufficientBalanceError struct {
	Required string
	Have     string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Have)
}

// Is implements errors.Is for sentinel error matching.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// AuthWalletError implements the AuthWalletError interface.
func (e *InsufficientBalanceError) AuthWalletError() {}

// IsIntegrityError reports whether err requires user action (restoring or
// importing a key) rather than a retry.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrPqcKeyMismatch) || errors.Is(err, ErrPqcKeyUnavailable)
}
