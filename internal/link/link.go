// Package link submits the transaction that commits a PQ public key to the
// chain for a wallet address.
package link

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
	"github.com/lumen-wallet/authwallet-go/internal/keystore"
	"github.com/lumen-wallet/authwallet-go/internal/metrics"
	"github.com/lumen-wallet/authwallet-go/internal/pow"
)

// ErrNoSubmitter is returned when a link is required but no submitter is configured.
var ErrNoSubmitter = errors.New("no link submitter configured")

// Chain is the read capability the linker needs.
type Chain interface {
	Params(ctx context.Context) (chain.Params, error)
	Balance(ctx context.Context, address, denom string) (*big.Int, error)
}

// Submitter signs and broadcasts a link message. Transport failures are
// returned as errors; chain rejections as a non-zero TxResult.Code.
type Submitter interface {
	SubmitLink(ctx context.Context, msg chain.LinkMsg, fee chain.Fee) (chain.TxResult, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, msg chain.LinkMsg, fee chain.Fee) (chain.TxResult, error)

// SubmitLink implements Submitter.
func (f SubmitterFunc) SubmitLink(ctx context.Context, msg chain.LinkMsg, fee chain.Fee) (chain.TxResult, error) {
	return f(ctx, msg, fee)
}

// PowFunc finds a proof-of-work nonce. It is expected to run the search off
// the calling goroutine.
type PowFunc func(ctx context.Context, pub []byte, bits int) ([]byte, error)

// Linker submits link transactions.
type Linker struct {
	chain     Chain
	submitter Submitter
	pow       PowFunc
	retry     *api.RetryConfig
	retryable func(error) bool
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Linker.
type Option func(*Linker)

// WithPow sets the proof-of-work solver.
func WithPow(f PowFunc) Option {
	return func(l *Linker) {
		if f != nil {
			l.pow = f
		}
	}
}

// WithRetry sets the broadcast retry policy and the classifier deciding
// which submit errors are transient. A nil classifier keeps the default.
func WithRetry(r *api.RetryConfig, retryable func(error) bool) Option {
	return func(l *Linker) {
		if r != nil {
			l.retry = r
		}
		if retryable != nil {
			l.retryable = retryable
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg zerolog.Logger) Option {
	return func(l *Linker) {
		l.logger = lg
	}
}

// WithMetrics records submissions to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Linker) {
		l.metrics = m
	}
}

// New creates a linker. submitter may be nil, in which case any required
// link fails with ErrNoSubmitter.
func New(c Chain, submitter Submitter, opts ...Option) *Linker {
	l := &Linker{
		chain:     c,
		submitter: submitter,
		pow:       pow.Solve,
		retry:     api.DefaultRetryConfig(),
		retryable: IsTransient,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureOnChainLink links rec to address unless onChain already reports a
// link.
func (l *Linker) EnsureOnChainLink(ctx context.Context, address string, rec *keystore.KeyRecord, onChain chain.Commitment) error {
	if onChain.Linked {
		return nil
	}
	return l.Link(ctx, address, rec)
}

// Link checks the minimum balance, solves the proof-of-work and submits the
// link message with a zero fee.
func (l *Linker) Link(ctx context.Context, address string, rec *keystore.KeyRecord) error {
	if rec == nil {
		return fmt.Errorf("link: key record is required")
	}
	if l.submitter == nil {
		return ErrNoSubmitter
	}
	log := l.logger.With().Str("address", address).Str("key", rec.Name).Logger()

	params, err := l.chain.Params(ctx)
	if err != nil {
		return fmt.Errorf("load pqc params: %w", err)
	}

	if min := params.MinBalanceForLink; min != nil {
		if err := l.assertBalance(ctx, address, *min); err != nil {
			return err
		}
	}

	nonce := []byte{0}
	if params.PowDifficultyBits > 0 {
		start := time.Now()
		nonce, err = l.pow(ctx, rec.PublicKey, params.PowDifficultyBits)
		if err != nil {
			return fmt.Errorf("solve pow: %w", err)
		}
		elapsed := time.Since(start)
		l.metrics.PowSolved(elapsed)
		log.Debug().Int("bits", params.PowDifficultyBits).Dur("elapsed", elapsed).Msg("pow solved")
	}

	msg := chain.LinkMsg{
		Address:  address,
		Scheme:   rec.Scheme,
		PubKey:   rec.PublicKey,
		PowNonce: nonce,
	}

	var res chain.TxResult
	err = l.retry.Retry(ctx, l.retryable, func(ctx context.Context) error {
		var submitErr error
		res, submitErr = l.submitter.SubmitLink(ctx, msg, chain.ZeroFee())
		if submitErr != nil {
			log.Warn().Err(submitErr).Msg("link submit failed")
		}
		return submitErr
	})
	if err != nil {
		l.metrics.LinkSubmitted("error")
		return fmt.Errorf("submit link: %w", err)
	}

	if res.Code != 0 {
		l.metrics.LinkSubmitted("rejected")
		log.Warn().Uint32("code", res.Code).Str("raw_log", res.RawLog).Msg("link rejected")
		return &autherr.BroadcastError{Code: res.Code, RawLog: res.RawLog, TxHash: res.TxHash}
	}

	l.metrics.LinkSubmitted("ok")
	log.Info().Str("tx", res.TxHash).Msg("pqc key linked on chain")
	return nil
}

func (l *Linker) assertBalance(ctx context.Context, address string, min chain.Coin) error {
	required, err := min.Int()
	if err != nil {
		return fmt.Errorf("min balance: %w", err)
	}

	have, err := l.chain.Balance(ctx, address, min.Denom)
	if err != nil {
		return fmt.Errorf("query balance: %w", err)
	}

	if have.Cmp(required) < 0 {
		return &autherr.InsufficientBalanceError{
			Required: min.String(),
			Have:     have.String() + min.Denom,
		}
	}
	return nil
}

// IsTransient reports whether a submit error is worth retrying: network
// failures, timeouts and retryable HTTP statuses.
func IsTransient(err error) bool {
	var netErr *autherr.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, autherr.ErrTimeout) {
		return true
	}
	var apiErr *autherr.APIError
	if errors.As(err, &apiErr) {
		return api.DefaultRetryableStatus(apiErr.StatusCode)
	}
	return false
}
