package authwallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
	"github.com/lumen-wallet/authwallet-go/internal/config"
	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/endpoint"
	"github.com/lumen-wallet/authwallet-go/internal/gateway"
	"github.com/lumen-wallet/authwallet-go/internal/keystore"
	"github.com/lumen-wallet/authwallet-go/internal/link"
	"github.com/lumen-wallet/authwallet-go/internal/metrics"
	"github.com/lumen-wallet/authwallet-go/internal/pow"
	"github.com/lumen-wallet/authwallet-go/internal/ratelimit"
	"github.com/lumen-wallet/authwallet-go/internal/reconcile"
	"github.com/lumen-wallet/authwallet-go/internal/workerpool"
)

// DefaultProfile is the profile used when Prepare is given none.
const DefaultProfile = reconcile.DefaultProfile

// Client authenticates a wallet to storage gateways. It owns a worker pool
// for proof-of-work and key generation; call Close to release it.
type Client struct {
	store      Keystore
	chain      ChainClient
	resolver   *endpoint.Resolver
	reconciler *reconcile.Reconciler
	linker     *link.Linker
	gateway    *gateway.Client
	pool       *workerpool.Pool
	logger     zerolog.Logger

	// owned are resources opened by the client itself.
	owned []io.Closer

	// prepare runs at most one reconciliation per address.
	prepare  singleflight.Group
	mu       sync.RWMutex
	sessions map[string]*KeyRecord
	closed   bool
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		gatewayTimeout: defaultGatewayTimeout,
		resolveTimeout: defaultResolveTimeout,
		chainTimeout:   defaultChainTimeout,
		retry:          api.DefaultRetryConfig(),
		scheme:         crypto.SchemeDilithium3,
		logger:         zerolog.Nop(),
	}
}

// New creates a client.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.store == nil {
		store, err := keystore.OpenDir(config.DefaultHome)
		if err != nil {
			return nil, err
		}
		cfg.store = store
	}
	return newClient(cfg, nil)
}

// NewFromConfig creates a client from loaded settings. Options override the
// settings. A KeystoreDSN selects the SQLite keystore, which the client
// closes on Close; otherwise keys live in a directory under Home.
func NewFromConfig(ctx context.Context, fc Config, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	if fc.GatewayTimeout > 0 {
		cfg.gatewayTimeout = fc.GatewayTimeout
	}
	if fc.ResolveTimeout > 0 {
		cfg.resolveTimeout = fc.ResolveTimeout
	}
	if fc.ChainTimeout > 0 {
		cfg.chainTimeout = fc.ChainTimeout
	}
	if fc.DefaultScheme != "" {
		cfg.scheme = fc.DefaultScheme
	}
	cfg.peersFile = fc.PeersFile
	cfg.chainREST = fc.ChainREST
	cfg.workers = fc.Workers
	cfg.gatewayRPS = fc.GatewayRPS
	cfg.gatewayBurst = fc.GatewayBurst

	for _, opt := range opts {
		opt(cfg)
	}

	var owned []io.Closer
	if cfg.store == nil {
		switch {
		case fc.KeystoreDSN != "":
			store, err := keystore.OpenSQL(ctx, fc.KeystoreDSN)
			if err != nil {
				return nil, err
			}
			cfg.store = store
			owned = append(owned, store)
		default:
			home := fc.Home
			if home == "" {
				home = config.DefaultHome
			}
			store, err := keystore.OpenDir(home)
			if err != nil {
				return nil, err
			}
			cfg.store = store
		}
	}

	c, err := newClient(cfg, owned)
	if err != nil {
		for _, cl := range owned {
			cl.Close()
		}
		return nil, err
	}
	return c, nil
}

func newClient(cfg *clientConfig, owned []io.Closer) (*Client, error) {
	var m *metrics.Metrics
	if cfg.registerer != nil {
		var err error
		if m, err = metrics.New(cfg.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	logger := cfg.logger
	component := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}

	c := &Client{
		store:    cfg.store,
		pool:     workerpool.New(cfg.workers),
		logger:   logger,
		owned:    owned,
		sessions: make(map[string]*KeyRecord),
	}

	var base chain.BaseSource = endpoint.PeersSource{File: cfg.peersFile}
	if strings.TrimSpace(cfg.chainREST) != "" {
		base = endpoint.StaticBase(cfg.chainREST)
	}
	chainOpts := []chain.Option{
		chain.WithTimeout(cfg.chainTimeout),
		chain.WithRetry(cfg.retry),
		chain.WithLogger(component("chain")),
	}
	if cfg.httpClient != nil {
		chainOpts = append(chainOpts, chain.WithHTTPClient(cfg.httpClient))
	}
	rest := chain.New(base, chainOpts...)

	c.chain = cfg.chain
	if c.chain == nil {
		c.chain = rest
	}
	registry := cfg.registry
	if registry == nil {
		registry = rest
	}

	c.resolver = endpoint.NewResolver(registry,
		endpoint.WithTimeout(cfg.resolveTimeout),
		endpoint.WithLogger(component("resolver")),
	)

	keyGen := cfg.keyGen
	if keyGen == nil {
		keyGen = c.generateKey
	}
	c.reconciler = reconcile.New(cfg.store,
		reconcile.WithKeyGenerator(keyGen),
		reconcile.WithScheme(cfg.scheme),
		reconcile.WithLogger(component("reconcile")),
		reconcile.WithMetrics(m),
	)

	c.linker = link.New(c.chain, cfg.submitter,
		link.WithPow(c.solvePow),
		link.WithRetry(cfg.retry, nil),
		link.WithLogger(component("link")),
		link.WithMetrics(m),
	)

	c.gateway = gateway.New(
		gateway.WithHTTPClient(cfg.httpClient),
		gateway.WithTimeout(cfg.gatewayTimeout),
		gateway.WithKeyTimeout(cfg.gatewayTimeout),
		gateway.WithRetry(cfg.retry),
		gateway.WithRateLimiter(ratelimit.New(cfg.gatewayRPS, cfg.gatewayBurst, 0)),
		gateway.WithLogger(component("gateway")),
		gateway.WithMetrics(m),
	)

	return c, nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) solvePow(ctx context.Context, pub []byte, bits int) ([]byte, error) {
	return workerpool.Run(ctx, c.pool, func(ctx context.Context) ([]byte, error) {
		return pow.Solve(ctx, pub, bits)
	})
}

func (c *Client) generateKey(ctx context.Context, scheme string) (*SigningKeypair, error) {
	return workerpool.Run(ctx, c.pool, func(context.Context) (*SigningKeypair, error) {
		return crypto.GenerateSigningKeypair(scheme)
	})
}

// Keystore returns the client's key store.
func (c *Client) Keystore() Keystore {
	return c.store
}

// Resolve turns a gateway reference into an HTTP base URL. Literal http(s)
// URLs are returned as-is; "record.label.tld" references are looked up in
// the on-chain name registry. Failures wrap ErrResolutionUnavailable.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	return c.resolver.Resolve(ctx, ref)
}

// SolvePow finds a nonce such that SHA-256(pub || nonce) has at least bits
// leading zero bits. The search runs on the client's worker pool and stops
// when ctx is cancelled.
func (c *Client) SolvePow(ctx context.Context, pub []byte, bits int) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.solvePow(ctx, pub, bits)
}

// AccountStatus returns the chain's PQ commitment for address.
func (c *Client) AccountStatus(ctx context.Context, address string) (Commitment, error) {
	if err := c.checkOpen(); err != nil {
		return Commitment{}, err
	}
	return c.chain.AccountStatus(ctx, address)
}

// EnsureLocalKey returns the local key record that matches onChain for
// address, linking, recovering or generating one as needed. It never
// generates a key when the chain already holds a commitment.
//
// EnsureLocalKey does not serialize callers. Use Prepare, or guard calls
// per address yourself.
func (c *Client) EnsureLocalKey(ctx context.Context, address, profileID string, onChain Commitment) (*KeyRecord, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.reconciler.EnsureLocalKey(ctx, address, profileID, onChain)
}

// EnsureOnChainLink links rec to address on chain unless onChain reports a
// link already. It checks the minimum balance, solves the proof-of-work and
// submits a zero-fee link transaction through the configured submitter.
func (c *Client) EnsureOnChainLink(ctx context.Context, address string, rec *KeyRecord, onChain Commitment) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.linker.EnsureOnChainLink(ctx, address, rec, onChain)
}

// Prepare reconciles the local key of address with the chain and links it
// on chain if needed. The result is cached until Forget or Close.
// Concurrent calls for one address share a single reconciliation, run with
// the first caller's context and profile.
func (c *Client) Prepare(ctx context.Context, address, profileID string) (*KeyRecord, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("prepare: address is required")
	}

	v, err, _ := c.prepare.Do(address, func() (any, error) {
		if rec := c.session(address); rec != nil {
			return rec, nil
		}

		onChain, err := c.chain.AccountStatus(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("account status: %w", err)
		}
		rec, err := c.reconciler.EnsureLocalKey(ctx, address, profileID, onChain)
		if err != nil {
			return nil, err
		}
		if err := c.linker.EnsureOnChainLink(ctx, address, rec, onChain); err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, ErrClientClosed
		}
		c.sessions[address] = rec
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeyRecord).Clone(), nil
}

func (c *Client) session(address string) *KeyRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[address]
}

// Forget drops the cached Prepare result for address.
func (c *Client) Forget(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, strings.TrimSpace(address))
}

// GatewayKey resolves gatewayRef and fetches the gateway's KEM public key.
func (c *Client) GatewayKey(ctx context.Context, gatewayRef string) (*GatewayKey, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	base, err := c.resolver.Resolve(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}
	return c.gateway.FetchKey(ctx, base)
}

// Call resolves gatewayRef and performs one encrypted, signed request.
// The payload and signature travel only inside the AES-GCM envelope.
// Non-2xx replies return an *APIError whose Body holds the decoded reply.
//
// Call does not reconcile keys; run Prepare for req.Wallet first.
func (c *Client) Call(ctx context.Context, gatewayRef string, req Request, signer Signer) (*Response, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	base, err := c.resolver.Resolve(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}
	return c.gateway.Call(ctx, base, req, signer)
}

// Close stops the worker pool, cancelling running proof-of-work searches,
// and releases resources the client opened. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.sessions = make(map[string]*KeyRecord)
	c.mu.Unlock()

	c.pool.Close()

	var errs []error
	for _, cl := range c.owned {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
