package authwallet

import (
	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/link"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrResolutionUnavailable is returned when a gateway reference or the
	// chain REST base cannot be resolved. Retry later or fix configuration.
	ErrResolutionUnavailable = autherr.ErrResolutionUnavailable

	// ErrDifficultyTooHigh is returned for proof-of-work difficulties above 256 bits.
	ErrDifficultyTooHigh = autherr.ErrDifficultyTooHigh

	// ErrPowSearchExhausted is returned when no nonce exists in the 64-bit counter space.
	ErrPowSearchExhausted = autherr.ErrPowSearchExhausted

	// ErrPqcKeyUnavailable is returned when the chain holds a key commitment
	// that no local key satisfies. The key must be restored from backup.
	ErrPqcKeyUnavailable = autherr.ErrPqcKeyUnavailable

	// ErrPqcKeyMismatch is returned when a local key contradicts the chain.
	ErrPqcKeyMismatch = autherr.ErrPqcKeyMismatch

	// ErrInsufficientBalance is returned when the wallet is below the link minimum.
	ErrInsufficientBalance = autherr.ErrInsufficientBalance

	// ErrBroadcastFailed is returned when the chain rejects a link transaction.
	ErrBroadcastFailed = autherr.ErrBroadcastFailed

	// ErrUnsupportedAlgorithm is returned when a gateway publishes a KEM other than kyber768.
	ErrUnsupportedAlgorithm = autherr.ErrUnsupportedAlgorithm

	// ErrGatewayKeyUnavailable is returned when a gateway's /pq/pub cannot be used.
	ErrGatewayKeyUnavailable = autherr.ErrGatewayKeyUnavailable

	// ErrInvalidPayload is returned when a call payload is not a JSON object or nil.
	ErrInvalidPayload = autherr.ErrInvalidPayload

	// ErrTimeout is returned when a network operation exceeds its deadline.
	ErrTimeout = autherr.ErrTimeout

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = autherr.ErrClientClosed

	// ErrKeyNotFound is returned by keystores for unknown key names.
	ErrKeyNotFound = autherr.ErrKeyNotFound

	// ErrNotFound is matched by 404 API errors.
	ErrNotFound = autherr.ErrNotFound

	// ErrRateLimited is matched by 429 API errors.
	ErrRateLimited = autherr.ErrRateLimited

	// ErrNoLinkSubmitter is returned when an on-chain link is needed but no
	// submitter was configured with WithLinkSubmitter.
	ErrNoLinkSubmitter = link.ErrNoSubmitter
)

// AuthWalletError is implemented by all typed errors of this package.
type AuthWalletError = autherr.AuthWalletError

// Typed errors. Use errors.As to inspect them.
type (
	// APIError represents a non-2xx HTTP response from a gateway or chain node.
	APIError = autherr.APIError
	// NetworkError represents a network-level failure.
	NetworkError = autherr.NetworkError
	// TimeoutError represents an operation that exceeded its deadline.
	TimeoutError = autherr.TimeoutError
	// BroadcastError carries the chain's rejection code and raw log.
	BroadcastError = autherr.BroadcastError
	// KeyMismatchError reports a local key whose hash disagrees with the chain.
	KeyMismatchError = autherr.KeyMismatchError
	// InsufficientBalanceError reports the link minimum and the wallet balance.
	InsufficientBalanceError = autherr.InsufficientBalanceError
)

// IsIntegrityError reports whether err means the local keystore disagrees
// with the chain. Such errors need user action, not a retry.
func IsIntegrityError(err error) bool {
	return autherr.IsIntegrityError(err)
}
