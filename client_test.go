package authwallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/gateway"
	"github.com/lumen-wallet/authwallet-go/internal/pow"
	"github.com/lumen-wallet/authwallet-go/internal/signer"
)

// fakeNode serves the chain REST routes the client reads.
type fakeNode struct {
	server *httptest.Server

	mu         sync.Mutex
	accounts   map[string]string
	powBits    int
	minBalance string
	balance    string
	gatewayURL string

	accountHits int32
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{accounts: make(map[string]string), balance: "0"}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) link(address, hash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[address] = hash
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/lumen/pqc/v1/account/"):
		atomic.AddInt32(&n.accountHits, 1)
		hash, ok := n.accounts[strings.TrimPrefix(path, "/lumen/pqc/v1/account/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":5,"message":"account not found"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"account": map[string]string{"scheme": "dilithium3", "pub_key_hash": hash},
		})
	case path == "/lumen/pqc/v1/params":
		params := map[string]any{"pow_difficulty_bits": n.powBits}
		if n.minBalance != "" {
			params["min_balance_for_link"] = map[string]string{"denom": "ulmn", "amount": n.minBalance}
		}
		json.NewEncoder(w).Encode(map[string]any{"params": params})
	case strings.HasSuffix(path, "/by_denom"):
		json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]string{"denom": r.URL.Query().Get("denom"), "amount": n.balance},
		})
	case strings.HasPrefix(path, "/lumen/dns/v1/domain/"):
		json.NewEncoder(w).Encode(map[string]any{
			"domain": map[string]any{"records": []map[string]any{
				{"key": "api", "value": "https://api.example.org"},
				{"key": "gtw", "value": map[string]string{"baseUrl": n.gatewayURL + "/"}},
			}},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no route"}`))
	}
}

// chainSubmitter checks the proof-of-work like the chain would and records
// the link on the fake node.
type chainSubmitter struct {
	node  *fakeNode
	calls int32
	delay time.Duration
}

func (s *chainSubmitter) SubmitLink(_ context.Context, msg LinkMsg, fee Fee) (TxResult, error) {
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(s.delay)

	s.node.mu.Lock()
	bits := s.node.powBits
	s.node.mu.Unlock()

	if len(fee.Amount) != 0 {
		return TxResult{Code: 13, RawLog: "fee must be zero"}, nil
	}
	if bits > 0 && !pow.Verify(msg.PubKey, msg.PowNonce, bits) {
		return TxResult{Code: 4, RawLog: "invalid pow"}, nil
	}
	sum := sha256.Sum256(msg.PubKey)
	s.node.link(msg.Address, hex.EncodeToString(sum[:]))
	return TxResult{TxHash: "A1B2"}, nil
}

func newTestClient(t *testing.T, node *fakeNode, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithKeystore(NewMemoryKeystore()),
		WithChainREST(node.server.URL),
		WithRetry(RetryConfig{MaxRetries: 0}),
		WithWorkers(2),
	}
	c, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPrepare_NewAddress(t *testing.T) {
	node := newFakeNode(t)
	node.powBits = 8
	sub := &chainSubmitter{node: node}
	c := newTestClient(t, node, WithLinkSubmitter(sub))
	ctx := context.Background()

	rec, err := c.Prepare(ctx, "lmn1alice", "p1")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if rec.Name != ProfileKeyName("p1") || rec.Scheme != "dilithium3" {
		t.Errorf("record = %s/%s", rec.Name, rec.Scheme)
	}
	if atomic.LoadInt32(&sub.calls) != 1 {
		t.Fatalf("submitter calls = %d, want 1", sub.calls)
	}

	again, err := c.Prepare(ctx, "lmn1alice", "p1")
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if again.PublicKeyHash() != rec.PublicKeyHash() {
		t.Error("cached Prepare returned a different key")
	}
	if hits := atomic.LoadInt32(&node.accountHits); hits != 1 {
		t.Errorf("account queries = %d, want 1 (cached)", hits)
	}

	c.Forget("lmn1alice")
	fresh, err := c.Prepare(ctx, "lmn1alice", "p1")
	if err != nil {
		t.Fatalf("Prepare() after Forget error = %v", err)
	}
	if fresh.PublicKeyHash() != rec.PublicKeyHash() {
		t.Error("Prepare after Forget returned a different key")
	}
	if atomic.LoadInt32(&sub.calls) != 1 {
		t.Errorf("already linked address was linked again")
	}

	keys, _ := c.Keystore().ListKeys(ctx)
	if len(keys) != 1 {
		t.Errorf("keystore has %d keys, want 1", len(keys))
	}
}

func TestPrepare_SharesInFlightReconciliation(t *testing.T) {
	node := newFakeNode(t)
	sub := &chainSubmitter{node: node, delay: 50 * time.Millisecond}
	c := newTestClient(t, node, WithLinkSubmitter(sub))

	const callers = 8
	var wg sync.WaitGroup
	hashes := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := c.Prepare(context.Background(), "lmn1bob", "")
			errs[i] = err
			if err == nil {
				hashes[i] = rec.PublicKeyHash()
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if hashes[i] != hashes[0] {
			t.Errorf("caller %d got a different key", i)
		}
	}
	if n := atomic.LoadInt32(&sub.calls); n != 1 {
		t.Errorf("submitter calls = %d, want 1", n)
	}
	keys, _ := c.Keystore().ListKeys(context.Background())
	if len(keys) != 1 || keys[0].Name != ProfileKeyName(DefaultProfile) {
		t.Errorf("keys = %v", keys)
	}
}

func TestPrepare_CommitmentWithoutLocalKey(t *testing.T) {
	node := newFakeNode(t)
	node.link("lmn1carol", strings.Repeat("ab", 32))
	sub := &chainSubmitter{node: node}
	c := newTestClient(t, node, WithLinkSubmitter(sub))

	_, err := c.Prepare(context.Background(), "lmn1carol", "p1")
	if !errors.Is(err, ErrPqcKeyUnavailable) {
		t.Fatalf("Prepare() error = %v, want ErrPqcKeyUnavailable", err)
	}
	if !IsIntegrityError(err) {
		t.Error("IsIntegrityError() = false")
	}
	keys, _ := c.Keystore().ListKeys(context.Background())
	if len(keys) != 0 {
		t.Errorf("a key was generated despite the chain commitment")
	}
	if sub.calls != 0 {
		t.Error("submitter called")
	}
}

func TestPrepare_NoSubmitter(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node)

	_, err := c.Prepare(context.Background(), "lmn1dave", "")
	if !errors.Is(err, ErrNoLinkSubmitter) {
		t.Fatalf("Prepare() error = %v, want ErrNoLinkSubmitter", err)
	}
}

func TestPrepare_InsufficientBalance(t *testing.T) {
	node := newFakeNode(t)
	node.minBalance = "1000000"
	node.balance = "999"
	sub := &chainSubmitter{node: node}
	c := newTestClient(t, node, WithLinkSubmitter(sub))

	_, err := c.Prepare(context.Background(), "lmn1erin", "")
	var balErr *InsufficientBalanceError
	if !errors.As(err, &balErr) {
		t.Fatalf("Prepare() error = %v, want *InsufficientBalanceError", err)
	}
	if balErr.Required != "1000000ulmn" || balErr.Have != "999ulmn" {
		t.Errorf("balance error = %+v", balErr)
	}
}

func TestPrepare_ChainUnreachable(t *testing.T) {
	node := newFakeNode(t)
	url := node.server.URL
	node.server.Close()

	c, err := New(WithKeystore(NewMemoryKeystore()), WithChainREST(url), WithRetry(RetryConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Prepare(context.Background(), "lmn1frank", "")
	if !errors.Is(err, ErrResolutionUnavailable) {
		t.Fatalf("Prepare() error = %v, want ErrResolutionUnavailable", err)
	}
}

func TestEnsureSteps(t *testing.T) {
	node := newFakeNode(t)
	sub := &chainSubmitter{node: node}
	c := newTestClient(t, node, WithLinkSubmitter(sub))
	ctx := context.Background()

	onChain, err := c.AccountStatus(ctx, "lmn1gina")
	if err != nil || onChain.Linked {
		t.Fatalf("AccountStatus() = %+v, %v", onChain, err)
	}
	rec, err := c.EnsureLocalKey(ctx, "lmn1gina", "", onChain)
	if err != nil {
		t.Fatalf("EnsureLocalKey() error = %v", err)
	}
	if err := c.EnsureOnChainLink(ctx, "lmn1gina", rec, onChain); err != nil {
		t.Fatalf("EnsureOnChainLink() error = %v", err)
	}

	onChain, _ = c.AccountStatus(ctx, "lmn1gina")
	if !onChain.Linked || onChain.PubKeyHash != rec.PublicKeyHash() {
		t.Errorf("chain state = %+v, want link to %s", onChain, rec.PublicKeyHash())
	}
	if err := c.EnsureOnChainLink(ctx, "lmn1gina", rec, onChain); err != nil {
		t.Fatal(err)
	}
	if sub.calls != 1 {
		t.Errorf("submitter calls = %d, want 1", sub.calls)
	}
}

func TestSolvePow(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node)
	pub := []byte("lumen pqc public key")

	nonce, err := c.SolvePow(context.Background(), pub, 12)
	if err != nil {
		t.Fatalf("SolvePow() error = %v", err)
	}
	if !pow.Verify(pub, nonce, 12) {
		t.Error("nonce does not meet difficulty")
	}

	zero, _ := c.SolvePow(context.Background(), pub, 0)
	if len(zero) != 1 || zero[0] != 0 {
		t.Errorf("SolvePow(0) = %x, want 00", zero)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.SolvePow(ctx, pub, 40); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled SolvePow() error = %v", err)
	}
}

func TestResolve(t *testing.T) {
	node := newFakeNode(t)
	node.gatewayURL = "http://gw1.example.com"
	c := newTestClient(t, node)
	ctx := context.Background()

	tests := []struct {
		ref  string
		want string
	}{
		{"http://x:26657", "http://x:26657"},
		{"https://gw.example.com///", "https://gw.example.com"},
		{"gtw.example.lmn", "http://gw1.example.com"},
		{"example.lmn", "http://gw1.example.com"},
		{"api.example.lmn", "https://api.example.org"},
	}
	for _, tt := range tests {
		got, err := c.Resolve(ctx, tt.ref)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}

	if _, err := c.Resolve(ctx, "nodots"); !errors.Is(err, ErrResolutionUnavailable) {
		t.Errorf("Resolve(nodots) error = %v", err)
	}
}

func TestCall_ThroughResolvedGateway(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	var verified error
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pq/pub" {
			json.NewEncoder(w).Encode(map[string]string{"pub": crypto.ToBase64(kp.PublicKey)})
			return
		}
		if r.Header.Get("X-Lumen-KeyId") != "gw-2025-01" {
			t.Errorf("X-Lumen-KeyId = %q", r.Header.Get("X-Lumen-KeyId"))
		}
		body, _ := io.ReadAll(r.Body)
		env, key, err := gateway.OpenRequest(kp, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		verified = gateway.VerifyEnvelope(env, r.Method, r.URL.Path)
		out, _ := gateway.SealReply(key, map[string]any{"wallet": env.Wallet, "used": 42})
		w.Write(out)
	}))
	defer gw.Close()

	node := newFakeNode(t)
	node.gatewayURL = gw.URL
	reg := prometheus.NewRegistry()
	c := newTestClient(t, node, WithMetrics(reg))

	wallet, err := signer.Generate()
	if err != nil {
		t.Fatal(err)
	}
	addr, _ := wallet.Address()

	resp, err := c.Call(context.Background(), "gtw.example.lmn", Request{
		Path:    "/wallet/usage",
		Wallet:  addr,
		Payload: map[string]string{"period": "month"},
	}, wallet)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if verified != nil {
		t.Errorf("gateway rejected signature: %v", verified)
	}

	var usage struct {
		Wallet string `json:"wallet"`
		Used   int    `json:"used"`
	}
	if err := resp.Decode(&usage); err != nil {
		t.Fatal(err)
	}
	if usage.Wallet != addr || usage.Used != 42 || !resp.Encrypted {
		t.Errorf("usage = %+v encrypted=%v", usage, resp.Encrypted)
	}

	if n, err := testutil.GatherAndCount(reg, "authwallet_gateway_requests_total"); err != nil || n != 1 {
		t.Errorf("gateway request series = %d (%v), want 1", n, err)
	}
}

func TestClose(t *testing.T) {
	node := newFakeNode(t)
	c := newTestClient(t, node)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	ctx := context.Background()
	if _, err := c.Prepare(ctx, "lmn1x", ""); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Prepare() after Close = %v", err)
	}
	if _, err := c.Resolve(ctx, "http://x"); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Resolve() after Close = %v", err)
	}
	if _, err := c.SolvePow(ctx, []byte("k"), 1); !errors.Is(err, ErrClientClosed) {
		t.Errorf("SolvePow() after Close = %v", err)
	}
	if _, err := c.Call(ctx, "http://x", Request{Path: "/x"}, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Call() after Close = %v", err)
	}
}

func TestNewFromConfig_SQLKeystore(t *testing.T) {
	node := newFakeNode(t)
	sub := &chainSubmitter{node: node}

	cfg := DefaultConfig()
	cfg.ChainREST = node.server.URL
	cfg.KeystoreDSN = filepath.Join(t.TempDir(), "keys.db")
	cfg.Workers = 1

	ctx := context.Background()
	c, err := NewFromConfig(ctx, cfg, WithLinkSubmitter(sub), WithRetry(RetryConfig{}))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	rec, err := c.Prepare(ctx, "lmn1hank", "work")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenSQLKeystore(ctx, cfg.KeystoreDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetKey(ctx, ProfileKeyName("work"))
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if got.PublicKeyHash() != rec.PublicKeyHash() {
		t.Error("persisted key differs")
	}
	name, ok, _ := reopened.GetLink(ctx, "lmn1hank")
	if !ok || name != rec.Name {
		t.Errorf("link = %q, %v", name, ok)
	}
}

func TestNewFromConfig_DirKeystore(t *testing.T) {
	node := newFakeNode(t)
	home := t.TempDir()

	cfg := DefaultConfig()
	cfg.Home = home
	cfg.ChainREST = node.server.URL

	c, err := NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer c.Close()

	onChain := Commitment{}
	rec, err := c.EnsureLocalKey(context.Background(), "lmn1ivy", "", onChain)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := OpenDirKeystore(home)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.GetKey(context.Background(), rec.Name); err != nil {
		t.Errorf("key not written under %s: %v", home, err)
	}
}
