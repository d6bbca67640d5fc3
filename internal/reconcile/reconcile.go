// Package reconcile decides which local PQ key is authoritative for a
// wallet address given the chain's commitment.
//
// The decision runs in order:
//
//  1. An existing address link whose key matches the commitment (or any
//     link when the chain has none) is returned unchanged.
//  2. A linked key that disagrees with the commitment is replaced by the
//     local key whose hash matches, if one exists.
//  3. Without a link, while the chain has a commitment: the matching local
//     key, else the profile key, else the only key. Several unmatched keys
//     are ErrPqcKeyUnavailable, as is no local key at all; when the chain
//     reports a link without a hash, the smallest name is taken instead.
//     A new key is never generated here.
//  4. Without a link or a commitment: the profile key, generated on first use.
//
// Every candidate is checked against the commitment before any link is
// written; a disagreement is ErrPqcKeyMismatch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/keystore"
	"github.com/lumen-wallet/authwallet-go/internal/metrics"
)

// DefaultProfile names the profile key when the caller supplies none.
const DefaultProfile = "default"

// KeyGenerator creates a fresh PQ signing keypair for scheme.
type KeyGenerator func(ctx context.Context, scheme string) (*crypto.SigningKeypair, error)

// GenerateInline generates keys on the calling goroutine.
func GenerateInline(_ context.Context, scheme string) (*crypto.SigningKeypair, error) {
	return crypto.GenerateSigningKeypair(scheme)
}

// Reconciler owns the read-then-write sequence against a keystore. It does
// not serialize callers: run at most one reconciliation per address at a time.
type Reconciler struct {
	store    keystore.Store
	generate KeyGenerator
	scheme   string
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithKeyGenerator replaces the key generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(r *Reconciler) {
		if g != nil {
			r.generate = g
		}
	}
}

// WithScheme sets the scheme assigned to generated keys.
func WithScheme(scheme string) Option {
	return func(r *Reconciler) {
		if scheme != "" {
			r.scheme = scheme
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithMetrics records outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a reconciler over store.
func New(store keystore.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		generate: GenerateInline,
		scheme:   crypto.SchemeDilithium3,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureLocalKey returns the authoritative key record for address.
// Integrity failures are ErrPqcKeyUnavailable or a *autherr.KeyMismatchError;
// neither should be retried.
func (r *Reconciler) EnsureLocalKey(ctx context.Context, address, profileID string, onChain chain.Commitment) (*keystore.KeyRecord, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("reconcile: address is required")
	}
	if strings.TrimSpace(profileID) == "" {
		profileID = DefaultProfile
	}

	target := chain.NormalizeHash(onChain.PubKeyHash)
	committed := onChain.Linked && target != ""
	log := r.logger.With().Str("address", address).Logger()

	linked, err := r.linkedRecord(ctx, address)
	if err != nil {
		return nil, err
	}

	if linked != nil {
		if !committed || linked.PublicKeyHash() == target {
			r.metrics.Reconciled("linked")
			return linked, nil
		}

		match, err := r.findByHash(ctx, target)
		if err != nil {
			return nil, err
		}
		if match == nil {
			return nil, r.mismatch(log, address, linked, target)
		}
		log.Info().Str("from", linked.Name).Str("to", match.Name).Msg("relinking address to key matching chain")
		if err := r.store.LinkAddress(ctx, address, match.Name); err != nil {
			return nil, fmt.Errorf("relink %s: %w", address, err)
		}
		r.metrics.Reconciled("relinked")
		return match, nil
	}

	if onChain.Linked {
		rec, err := r.recoverCommitted(ctx, profileID, target)
		if err != nil {
			if errors.Is(err, autherr.ErrPqcKeyUnavailable) {
				r.metrics.Reconciled("unavailable")
				log.Warn().Msg("chain has a pqc key but no local key is available")
			}
			return nil, err
		}
		if committed && rec.PublicKeyHash() != target {
			return nil, r.mismatch(log, address, rec, target)
		}
		if err := r.store.LinkAddress(ctx, address, rec.Name); err != nil {
			return nil, fmt.Errorf("link %s: %w", address, err)
		}
		log.Info().Str("key", rec.Name).Msg("linked address to recovered key")
		r.metrics.Reconciled("recovered")
		return rec, nil
	}

	rec, created, err := r.profileKey(ctx, keystore.ProfileKeyName(profileID))
	if err != nil {
		return nil, err
	}
	if err := r.store.LinkAddress(ctx, address, rec.Name); err != nil {
		return nil, fmt.Errorf("link %s: %w", address, err)
	}
	if created {
		log.Info().Str("key", rec.Name).Str("scheme", rec.Scheme).Str("hash", short(rec.PublicKeyHash())).Msg("generated pqc key")
		r.metrics.Reconciled("generated")
	} else {
		r.metrics.Reconciled("linked")
	}
	return rec, nil
}

// linkedRecord follows the address link. A link to a missing record is
// treated as no link.
func (r *Reconciler) linkedRecord(ctx context.Context, address string) (*keystore.KeyRecord, error) {
	name, ok, err := r.store.GetLink(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("read link %s: %w", address, err)
	}
	if !ok || name == "" {
		return nil, nil
	}

	rec, err := r.store.GetKey(ctx, name)
	if errors.Is(err, autherr.ErrKeyNotFound) {
		r.logger.Warn().Str("address", address).Str("key", name).Msg("address linked to missing key")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", name, err)
	}
	return rec, nil
}

func (r *Reconciler) findByHash(ctx context.Context, target string) (*keystore.KeyRecord, error) {
	if target == "" {
		return nil, nil
	}
	keys, err := r.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	for _, k := range keys {
		if k.PublicKeyHash() == target {
			return k, nil
		}
	}
	return nil, nil
}

// recoverCommitted selects a local candidate when the chain holds a
// commitment and the address has no link.
func (r *Reconciler) recoverCommitted(ctx context.Context, profileID, target string) (*keystore.KeyRecord, error) {
	keys, err := r.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	if target != "" {
		for _, k := range keys {
			if k.PublicKeyHash() == target {
				return k, nil
			}
		}
	}

	preferred := keystore.ProfileKeyName(profileID)
	for _, k := range keys {
		if k.Name == preferred {
			return k, nil
		}
	}

	switch {
	case len(keys) == 1:
		return keys[0], nil
	case len(keys) == 0 || target != "":
		return nil, fmt.Errorf("%w: chain holds a pqc key for this address; import the key backup",
			autherr.ErrPqcKeyUnavailable)
	}

	// Without a hash to check against, take the smallest name. ListKeys is
	// ordered by name.
	return keys[0], nil
}

func (r *Reconciler) profileKey(ctx context.Context, name string) (*keystore.KeyRecord, bool, error) {
	rec, err := r.store.GetKey(ctx, name)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, autherr.ErrKeyNotFound) {
		return nil, false, fmt.Errorf("read key %s: %w", name, err)
	}

	kp, err := r.generate(ctx, r.scheme)
	if err != nil {
		return nil, false, fmt.Errorf("generate pqc key: %w", err)
	}

	rec = &keystore.KeyRecord{
		Name:       name,
		Scheme:     kp.Scheme,
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.PutKey(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("store key %s: %w", name, err)
	}
	return rec, true, nil
}

func (r *Reconciler) mismatch(log zerolog.Logger, address string, rec *keystore.KeyRecord, target string) error {
	local := rec.PublicKeyHash()
	log.Warn().
		Str("key", rec.Name).
		Str("local_hash", short(local)).
		Str("onchain_hash", short(target)).
		Msg("pqc key hash mismatch")
	r.metrics.Reconciled("mismatch")
	return &autherr.KeyMismatchError{
		Address:     address,
		KeyName:     rec.Name,
		LocalHash:   local,
		OnChainHash: target,
	}
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
