// Package api provides the JSON-over-HTTP client shared by the chain REST
// adapter and the gateway envelope. It handles timeouts, response size
// limits, error-body parsing and retries with exponential backoff.
//
// # Client Creation
//
//   - [NewClient]: struct-based configuration.
//   - [New]: functional options.
//
// Both require a base URL; request paths are appended to it verbatim.
//
// # Retry Behavior
//
// Retries are opt-in through [RetryConfig]. With [DefaultRetryConfig],
// network failures and these statuses are retried up to 3 times:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// [RetryConfig.Retry] applies the same backoff to arbitrary operations
// with a caller-supplied error classifier.
//
// # Error Handling
//
// [Client.Do] turns non-2xx responses into *autherr.APIError. A call that
// exceeds its timeout returns *autherr.TimeoutError; transport failures
// return *autherr.NetworkError. [Client.Send] returns the raw response for
// callers that need to inspect error bodies themselves.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
