package authwallet

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	defaultResolveTimeout = 2500 * time.Millisecond
	defaultChainTimeout   = 7 * time.Second
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	httpClient     *http.Client
	gatewayTimeout time.Duration
	resolveTimeout time.Duration
	chainTimeout   time.Duration
	retry          *RetryConfig

	peersFile string
	chainREST string

	store     Keystore
	chain     ChainClient
	registry  NameRegistry
	submitter LinkSubmitter
	keyGen    KeyGenerator
	scheme    string
	workers   int

	logger     zerolog.Logger
	registerer prometheus.Registerer

	gatewayRPS   float64
	gatewayBurst int
}

// Option configures the client.
type Option func(*clientConfig)

// WithHTTPClient sets the HTTP client used for chain and gateway requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the timeout of gateway calls.
// Default: 15 seconds
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.gatewayTimeout = timeout
	}
}

// WithResolveTimeout bounds name-registry lookups.
// Default: 2.5 seconds
func WithResolveTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.resolveTimeout = timeout
	}
}

// WithChainTimeout bounds each chain REST query.
// Default: 7 seconds
func WithChainTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.chainTimeout = timeout
	}
}

// WithRetry sets the retry policy for chain reads, gateway key fetches and
// link broadcasts. Encrypted gateway calls are never retried.
func WithRetry(cfg RetryConfig) Option {
	return func(c *clientConfig) {
		c.retry = &cfg
	}
}

// WithPeersFile sets the peers file the chain REST base is read from.
// Without it, ./resources/peers.txt and the executable's resources
// directory are searched.
func WithPeersFile(path string) Option {
	return func(c *clientConfig) {
		c.peersFile = path
	}
}

// WithChainREST fixes the chain REST base, bypassing the peers file.
func WithChainREST(base string) Option {
	return func(c *clientConfig) {
		c.chainREST = base
	}
}

// WithKeystore sets the key store. Without it, a directory keystore under
// ~/.lumen/pqc is used.
func WithKeystore(store Keystore) Option {
	return func(c *clientConfig) {
		c.store = store
	}
}

// WithChain replaces the built-in chain REST reader.
func WithChain(chain ChainClient) Option {
	return func(c *clientConfig) {
		c.chain = chain
	}
}

// WithNameRegistry replaces the built-in domain record lookup.
func WithNameRegistry(registry NameRegistry) Option {
	return func(c *clientConfig) {
		c.registry = registry
	}
}

// WithLinkSubmitter sets the capability that signs and broadcasts link
// transactions. Without it, addresses that need linking fail with
// ErrNoLinkSubmitter.
func WithLinkSubmitter(submitter LinkSubmitter) Option {
	return func(c *clientConfig) {
		c.submitter = submitter
	}
}

// WithKeyGenerator replaces PQ key generation. The default generates on
// the client's worker pool.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *clientConfig) {
		c.keyGen = gen
	}
}

// WithDefaultScheme sets the scheme of generated PQ keys.
// Default: dilithium3
func WithDefaultScheme(scheme string) Option {
	return func(c *clientConfig) {
		c.scheme = scheme
	}
}

// WithWorkers bounds concurrent proof-of-work searches and key generations.
// Default: GOMAXPROCS
func WithWorkers(n int) Option {
	return func(c *clientConfig) {
		c.workers = n
	}
}

// WithLogger sets the logger. Default: disabled.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetrics registers client metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithGatewayRateLimit throttles calls to each gateway to rps per second
// with the given burst.
func WithGatewayRateLimit(rps float64, burst int) Option {
	return func(c *clientConfig) {
		c.gatewayRPS = rps
		c.gatewayBurst = burst
	}
}
