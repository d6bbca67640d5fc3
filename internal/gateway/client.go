package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/metrics"
	"github.com/lumen-wallet/authwallet-go/internal/ratelimit"
)

// Protocol constants.
const (
	PubKeyPath = "/pq/pub"

	DefaultKeyID = "gw-2025-01"

	HeaderProtocol = "X-Lumen-PQ"
	HeaderKEM      = "X-Lumen-KEM"
	HeaderKeyID    = "X-Lumen-KeyId"

	ProtocolVersion = "v1"
)

// Signer signs SHA-256 digests with the wallet's classical key.
type Signer interface {
	// Sign returns a fixed-length 64-byte signature over digest.
	Sign(digest []byte) ([]byte, error)
	// PublicKey returns the compressed public key.
	PublicKey() []byte
}

// PublicKey is a gateway's published KEM key.
type PublicKey struct {
	Pub   []byte
	KeyID string
	Alg   string
}

// Request describes one authenticated call.
type Request struct {
	// Method defaults to POST.
	Method string
	Path   string
	// Wallet is the caller's bech32 address.
	Wallet string
	// Payload must marshal to a JSON object, or be nil.
	Payload any
}

// Response is a gateway reply.
type Response struct {
	Status int
	// Data is the decrypted JSON body, or the raw body when the gateway
	// replied in the clear. Non-JSON bodies are returned as a JSON string.
	Data json.RawMessage
	// Encrypted reports whether Data came out of an encrypted envelope.
	Encrypted bool
}

// Decode unmarshals Data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Client performs authenticated gateway calls.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	keyTimeout time.Duration
	retry      *api.RetryConfig
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.Mutex
	bases map[string]*endpoints
}

type endpoints struct {
	keys  *api.Client
	calls *api.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the timeout of the encrypted call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithKeyTimeout sets the timeout of the /pq/pub fetch.
func WithKeyTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.keyTimeout = d
		}
	}
}

// WithRetry sets the retry policy for key fetches. Encrypted calls are
// never retried because they are not idempotent.
func WithRetry(r *api.RetryConfig) Option {
	return func(c *Client) {
		c.retry = r
	}
}

// WithRateLimiter throttles calls per gateway base.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records calls to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a gateway client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    api.DefaultTimeout,
		keyTimeout: api.DefaultTimeout,
		retry:      api.DefaultRetryConfig(),
		logger:     zerolog.Nop(),
		now:        time.Now,
		bases:      make(map[string]*endpoints),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoints(base string) (*endpoints, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ep, ok := c.bases[base]; ok {
		return ep, nil
	}
	keys, err := api.NewClient(api.Config{
		BaseURL:    base,
		HTTPClient: c.httpClient,
		Timeout:    c.keyTimeout,
		Retry:      c.retry,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, err
	}
	calls, err := api.NewClient(api.Config{
		BaseURL:    base,
		HTTPClient: c.httpClient,
		Timeout:    c.timeout,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, err
	}
	ep := &endpoints{keys: keys, calls: calls}
	c.bases[base] = ep
	return ep, nil
}

type pubKeyResponse struct {
	Pub   string `json:"pub"`
	KeyID string `json:"key_id"`
	Alg   string `json:"alg"`
}

// FetchKey loads the gateway's KEM public key. Missing key_id and alg
// default to [DefaultKeyID] and kyber768. Any other algorithm fails with
// [autherr.ErrUnsupportedAlgorithm]; every other failure wraps
// [autherr.ErrGatewayKeyUnavailable].
func (c *Client) FetchKey(ctx context.Context, base string) (*PublicKey, error) {
	ep, err := c.endpoints(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrGatewayKeyUnavailable, err)
	}

	resp, err := ep.keys.Send(ctx, http.MethodGet, PubKeyPath, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", autherr.ErrGatewayKeyUnavailable, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %w", autherr.ErrGatewayKeyUnavailable, api.ParseErrorResponse(resp.StatusCode, resp.Body))
	}

	var body pubKeyResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", autherr.ErrGatewayKeyUnavailable, PubKeyPath, err)
	}

	key := &PublicKey{
		KeyID: strings.TrimSpace(body.KeyID),
		Alg:   strings.TrimSpace(body.Alg),
	}
	if key.KeyID == "" {
		key.KeyID = DefaultKeyID
	}
	if key.Alg == "" {
		key.Alg = crypto.KEMAlgorithm
	}

	pub := strings.TrimSpace(body.Pub)
	if pub == "" {
		return nil, fmt.Errorf("%w: empty public key", autherr.ErrGatewayKeyUnavailable)
	}
	if key.Alg != crypto.KEMAlgorithm {
		return nil, fmt.Errorf("%w: %q", autherr.ErrUnsupportedAlgorithm, key.Alg)
	}

	key.Pub, err = crypto.FromBase64(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrGatewayKeyUnavailable, err)
	}
	if len(key.Pub) != crypto.MLKEMPublicKeySize {
		return nil, fmt.Errorf("%w: %w: got %d bytes", autherr.ErrGatewayKeyUnavailable, crypto.ErrInvalidPublicKeySize, len(key.Pub))
	}
	return key, nil
}

// Call performs one authenticated request against base. Non-2xx replies
// return an *autherr.APIError whose Body holds the decoded reply.
func (c *Client) Call(ctx context.Context, base string, req Request, signer Signer) (*Response, error) {
	if signer == nil {
		return nil, fmt.Errorf("gateway call: signer is required")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	payload, err := CanonicalPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx, base); err != nil {
		return nil, fmt.Errorf("gateway rate limit: %w", err)
	}

	ep, err := c.endpoints(base)
	if err != nil {
		return nil, err
	}
	key, err := c.FetchKey(ctx, base)
	if err != nil {
		return nil, err
	}

	nonceBytes, err := crypto.RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	nonce := hex.EncodeToString(nonceBytes)
	ts := c.now().UnixMilli()

	canonical := CanonicalString(method, path, nonce, ts, PayloadHash(payload))
	digest := sha256.Sum256([]byte(canonical))
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	envelope, err := marshalJSON(Envelope{
		Wallet:    req.Wallet,
		Payload:   payload,
		Signature: crypto.ToBase64(sig),
		PubKey:    crypto.ToBase64(signer.PublicKey()),
		Timestamp: ts,
		Nonce:     nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	kemCT, shared, err := crypto.Encapsulate(key.Pub)
	if err != nil {
		return nil, fmt.Errorf("kem encapsulate: %w", err)
	}
	aesKey, err := crypto.DeriveEnvelopeKey(shared)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(aesKey, envelope)
	if err != nil {
		return nil, fmt.Errorf("encrypt envelope: %w", err)
	}
	sealed.KEMCiphertext = crypto.ToBase64(kemCT)

	body, err := json.Marshal(sealed)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderProtocol, ProtocolVersion)
	header.Set(HeaderKEM, crypto.KEMAlgorithm)
	header.Set(HeaderKeyID, key.KeyID)

	log := c.logger.With().Str("gateway", ep.calls.BaseURL()).Str("path", path).Logger()

	start := time.Now()
	resp, err := ep.calls.Send(ctx, method, path, header, body)
	if err != nil {
		c.metrics.GatewayCall(path, 0, time.Since(start))
		return nil, err
	}
	c.metrics.GatewayCall(path, resp.StatusCode, time.Since(start))

	out := &Response{Status: resp.StatusCode}
	out.Data, out.Encrypted = c.decodeReply(log, aesKey, resp.Body)

	log.Debug().
		Int("status", resp.StatusCode).
		Bool("encrypted", out.Encrypted).
		Dur("elapsed", time.Since(start)).
		Msg("gateway call")

	if !resp.OK() {
		return nil, api.ParseErrorResponse(resp.StatusCode, out.Data)
	}
	return out, nil
}

// decodeReply decrypts an encrypted reply with key. Anything that is not an
// encrypted envelope, or fails to open, is returned as-is.
func (c *Client) decodeReply(log zerolog.Logger, key, body []byte) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, false
	}
	if !json.Valid([]byte(trimmed)) {
		quoted, _ := json.Marshal(trimmed)
		return quoted, false
	}

	var sealed SealedBody
	if err := json.Unmarshal([]byte(trimmed), &sealed); err != nil || !sealed.complete() {
		return json.RawMessage(trimmed), false
	}

	plain, err := open(key, sealed)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decrypt gateway reply")
		return json.RawMessage(trimmed), false
	}
	plain = []byte(strings.TrimSpace(string(plain)))
	if len(plain) == 0 {
		return nullJSON, true
	}
	if !json.Valid(plain) {
		log.Warn().Msg("decrypted gateway reply is not JSON")
		quoted, _ := json.Marshal(string(plain))
		return quoted, true
	}
	return plain, true
}
