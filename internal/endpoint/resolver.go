package endpoint

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
)

// DefaultResolveTimeout bounds name-registry lookups.
const DefaultResolveTimeout = 2500 * time.Millisecond

// PreferredRecord is the record key chosen when a reference names only a domain.
const PreferredRecord = "gtw"

var referencePattern = regexp.MustCompile(`^(?:(.*)\.)?([^.]+\.[^.]+)$`)

// NameRegistry looks up the records of an on-chain domain.
type NameRegistry interface {
	DomainRecords(ctx context.Context, domain string) ([]chain.DomainRecord, error)
}

// Resolver turns gateway references into HTTP base URLs.
type Resolver struct {
	registry NameRegistry
	timeout  time.Duration
	logger   zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout bounds each registry lookup.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a resolver backed by registry.
func NewResolver(registry NameRegistry, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: registry,
		timeout:  DefaultResolveTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseReference splits "record.label.tld" into its record prefix and the
// two-label domain. The record is empty for a bare domain.
func ParseReference(ref string) (record, domain string, ok bool) {
	m := referencePattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil || m[2] == "" {
		return "", "", false
	}
	return m[1], m[2], true
}

// Resolve returns the HTTP base URL for ref. Literal http(s) URLs are
// returned with trailing slashes trimmed; anything else is looked up in
// the name registry. Every failure wraps [autherr.ErrResolutionUnavailable].
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", autherr.ErrResolutionUnavailable)
	}
	if hasHTTPScheme(ref) {
		return strings.TrimRight(ref, "/"), nil
	}

	record, domain, ok := ParseReference(ref)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a record.domain reference", autherr.ErrResolutionUnavailable, ref)
	}
	if r.registry == nil {
		return "", fmt.Errorf("%w: no name registry configured", autherr.ErrResolutionUnavailable)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.registry.DomainRecords(lookupCtx, domain)
	if err != nil {
		r.logger.Debug().Err(err).Str("domain", domain).Msg("domain lookup failed")
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: lookup %s: %w", autherr.ErrResolutionUnavailable, domain, err)
	}

	value := SelectRecord(records, record)
	base := NormalizeGatewayBase(value)
	if base == "" {
		r.logger.Warn().Str("reference", ref).Msg("no record value")
		return "", fmt.Errorf("%w: no record value for %s", autherr.ErrResolutionUnavailable, ref)
	}

	r.logger.Debug().Str("reference", ref).Str("base", base).Msg("resolved gateway")
	return base, nil
}

// SelectRecord picks the value for record. Without a record name the "gtw"
// record wins, then the first record.
func SelectRecord(records []chain.DomainRecord, record string) string {
	for _, rec := range records {
		if rec.Key == record && rec.Value != "" {
			return rec.Value
		}
	}
	if record != "" {
		return ""
	}
	for _, rec := range records {
		if rec.Key == PreferredRecord {
			return rec.Value
		}
	}
	if len(records) > 0 {
		return records[0].Value
	}
	return ""
}

// NormalizeGatewayBase adds https:// when no scheme is present and trims
// trailing slashes. Blank input stays blank.
func NormalizeGatewayBase(value string) string {
	base := strings.TrimSpace(value)
	if base == "" {
		return ""
	}
	if !hasHTTPScheme(base) {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/")
}
