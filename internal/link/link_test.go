package link

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
	"github.com/lumen-wallet/authwallet-go/internal/keystore"
	"github.com/lumen-wallet/authwallet-go/internal/pow"
)

type fakeChain struct {
	params     chain.Params
	paramsErr  error
	balance    *big.Int
	balanceErr error
}

func (f *fakeChain) Params(context.Context) (chain.Params, error) {
	return f.params, f.paramsErr
}

func (f *fakeChain) Balance(_ context.Context, _, _ string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return new(big.Int), nil
	}
	return f.balance, nil
}

type recordingSubmitter struct {
	calls   int32
	msgs    []chain.LinkMsg
	fees    []chain.Fee
	results []chain.TxResult
	errs    []error
}

func (s *recordingSubmitter) SubmitLink(_ context.Context, msg chain.LinkMsg, fee chain.Fee) (chain.TxResult, error) {
	i := int(atomic.AddInt32(&s.calls, 1)) - 1
	s.msgs = append(s.msgs, msg)
	s.fees = append(s.fees, fee)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var res chain.TxResult
	if i < len(s.results) {
		res = s.results[i]
	}
	return res, err
}

func testKey() *keystore.KeyRecord {
	return &keystore.KeyRecord{
		Name:      "profile:p1",
		Scheme:    "dilithium3",
		PublicKey: bytes.Repeat([]byte{0x42}, 64),
	}
}

func fastRetry() Option {
	return WithRetry(&api.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 1}, nil)
}

func TestEnsureOnChainLink_NoopWhenLinked(t *testing.T) {
	sub := &recordingSubmitter{}
	l := New(&fakeChain{}, sub)

	err := l.EnsureOnChainLink(context.Background(), "lmn1x", testKey(), chain.Commitment{Linked: true, PubKeyHash: "ab"})
	if err != nil {
		t.Fatalf("EnsureOnChainLink() error = %v", err)
	}
	if sub.calls != 0 {
		t.Errorf("submitter called %d times", sub.calls)
	}
}

func TestLink_ZeroDifficulty(t *testing.T) {
	sub := &recordingSubmitter{results: []chain.TxResult{{Code: 0, TxHash: "ABC"}}}
	l := New(&fakeChain{}, sub)

	if err := l.EnsureOnChainLink(context.Background(), "lmn1x", testKey(), chain.Commitment{}); err != nil {
		t.Fatalf("EnsureOnChainLink() error = %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("submitter calls = %d, want 1", sub.calls)
	}

	msg := sub.msgs[0]
	if msg.Address != "lmn1x" || msg.Scheme != "dilithium3" {
		t.Errorf("msg = %+v", msg)
	}
	if !bytes.Equal(msg.PowNonce, []byte{0}) {
		t.Errorf("PowNonce = %x, want 00", msg.PowNonce)
	}
	if !bytes.Equal(msg.PubKey, testKey().PublicKey) {
		t.Error("PubKey mismatch")
	}

	fee := sub.fees[0]
	if len(fee.Amount) != 0 || fee.Gas != "250000" {
		t.Errorf("fee = %+v, want zero fee", fee)
	}
}

func TestLink_SolvesPow(t *testing.T) {
	sub := &recordingSubmitter{}
	l := New(&fakeChain{params: chain.Params{PowDifficultyBits: 10}}, sub)

	if err := l.Link(context.Background(), "lmn1x", testKey()); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	nonce := sub.msgs[0].PowNonce
	if len(nonce) != pow.NonceSize {
		t.Fatalf("nonce length = %d", len(nonce))
	}
	if !pow.Verify(testKey().PublicKey, nonce, 10) {
		t.Error("submitted nonce does not satisfy difficulty")
	}
}

func TestLink_PowErrorPropagates(t *testing.T) {
	sub := &recordingSubmitter{}
	l := New(&fakeChain{params: chain.Params{PowDifficultyBits: 300}}, sub)

	err := l.Link(context.Background(), "lmn1x", testKey())
	if !errors.Is(err, autherr.ErrDifficultyTooHigh) {
		t.Errorf("expected ErrDifficultyTooHigh, got %v", err)
	}
	if sub.calls != 0 {
		t.Error("submitted despite pow failure")
	}
}

func TestLink_MinBalance(t *testing.T) {
	min := &chain.Coin{Denom: "ulmn", Amount: "1000000000000000000000"}

	tests := []struct {
		name    string
		balance string
		wantErr bool
	}{
		{"below", "999999999999999999999", true},
		{"equal", "1000000000000000000000", false},
		{"above", "1000000000000000000001", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal, _ := new(big.Int).SetString(tt.balance, 10)
			sub := &recordingSubmitter{}
			l := New(&fakeChain{params: chain.Params{MinBalanceForLink: min}, balance: bal}, sub)

			err := l.Link(context.Background(), "lmn1x", testKey())
			if tt.wantErr {
				var balErr *autherr.InsufficientBalanceError
				if !errors.As(err, &balErr) {
					t.Fatalf("expected *InsufficientBalanceError, got %v", err)
				}
				if balErr.Required != "1000000000000000000000ulmn" {
					t.Errorf("Required = %s", balErr.Required)
				}
				if !errors.Is(err, autherr.ErrInsufficientBalance) {
					t.Error("errors.Is(err, ErrInsufficientBalance) = false")
				}
				if sub.calls != 0 {
					t.Error("submitted despite insufficient balance")
				}
				return
			}
			if err != nil {
				t.Fatalf("Link() error = %v", err)
			}
		})
	}
}

func TestLink_BroadcastRejected(t *testing.T) {
	sub := &recordingSubmitter{results: []chain.TxResult{{Code: 13, RawLog: "insufficient fee", TxHash: "H"}}}
	l := New(&fakeChain{}, sub, fastRetry())

	err := l.Link(context.Background(), "lmn1x", testKey())
	var bErr *autherr.BroadcastError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected *BroadcastError, got %v", err)
	}
	if bErr.Code != 13 || bErr.RawLog != "insufficient fee" || bErr.TxHash != "H" {
		t.Errorf("BroadcastError = %+v", bErr)
	}
	if !errors.Is(err, autherr.ErrBroadcastFailed) {
		t.Error("errors.Is(err, ErrBroadcastFailed) = false")
	}
	if sub.calls != 1 {
		t.Errorf("rejections must not be retried: calls = %d", sub.calls)
	}
}

func TestLink_RetriesTransientErrors(t *testing.T) {
	transient := &autherr.NetworkError{Err: errors.New("connection reset")}
	sub := &recordingSubmitter{
		errs:    []error{transient, &autherr.APIError{StatusCode: 503}, nil},
		results: []chain.TxResult{{}, {}, {Code: 0}},
	}
	l := New(&fakeChain{}, sub, fastRetry())

	if err := l.Link(context.Background(), "lmn1x", testKey()); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if sub.calls != 3 {
		t.Errorf("calls = %d, want 3", sub.calls)
	}
}

func TestLink_TerminalErrorNotRetried(t *testing.T) {
	terminal := &autherr.APIError{StatusCode: 400, Message: "bad msg"}
	sub := &recordingSubmitter{errs: []error{terminal}}
	l := New(&fakeChain{}, sub, fastRetry())

	err := l.Link(context.Background(), "lmn1x", testKey())
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if sub.calls != 1 {
		t.Errorf("calls = %d, want 1", sub.calls)
	}
}

func TestLink_GivesUpAfterRetries(t *testing.T) {
	transient := &autherr.TimeoutError{Operation: "broadcast", Timeout: time.Second}
	sub := &recordingSubmitter{errs: []error{transient, transient, transient, transient}}
	l := New(&fakeChain{}, sub, fastRetry())

	err := l.Link(context.Background(), "lmn1x", testKey())
	if !errors.Is(err, autherr.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if sub.calls != 3 {
		t.Errorf("calls = %d, want 3", sub.calls)
	}
}

func TestLink_NoSubmitter(t *testing.T) {
	l := New(&fakeChain{}, nil)
	if err := l.Link(context.Background(), "lmn1x", testKey()); !errors.Is(err, ErrNoSubmitter) {
		t.Errorf("expected ErrNoSubmitter, got %v", err)
	}
}

func TestLink_ParamsError(t *testing.T) {
	boom := errors.New("params down")
	l := New(&fakeChain{paramsErr: boom}, &recordingSubmitter{})
	if err := l.Link(context.Background(), "lmn1x", testKey()); !errors.Is(err, boom) {
		t.Errorf("expected params error, got %v", err)
	}
}

func TestLink_CustomPow(t *testing.T) {
	var gotBits int32
	sub := &recordingSubmitter{}
	l := New(&fakeChain{params: chain.Params{PowDifficultyBits: 20}}, sub, WithPow(func(_ context.Context, _ []byte, bits int) ([]byte, error) {
		atomic.StoreInt32(&gotBits, int32(bits))
		return []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil
	}))

	if err := l.Link(context.Background(), "lmn1x", testKey()); err != nil {
		t.Fatal(err)
	}
	if gotBits != 20 {
		t.Errorf("pow bits = %d, want 20", gotBits)
	}
	if !bytes.Equal(sub.msgs[0].PowNonce, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Error("custom nonce not submitted")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&autherr.NetworkError{Err: errors.New("x")}, true},
		{&autherr.TimeoutError{}, true},
		{&autherr.APIError{StatusCode: 502}, true},
		{&autherr.APIError{StatusCode: 400}, false},
		{&autherr.BroadcastError{Code: 5}, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
