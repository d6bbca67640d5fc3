// Package chain reads PQC, bank and DNS state from a Lumen node's REST
// gateway and normalizes the responses into plain Go types.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

// DefaultTimeout bounds each chain query.
const DefaultTimeout = 7 * time.Second

// REST paths.
const (
	pathDomain      = "/lumen/dns/v1/domain/%s"
	pathPQCParams   = "/lumen/pqc/v1/params"
	pathPQCAccount  = "/lumen/pqc/v1/account/%s"
	pathBalances    = "/cosmos/bank/v1beta1/balances/%s"
	pathBalanceByID = "/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s"
)

// BaseSource yields the REST base URL. It is consulted on every query.
type BaseSource interface {
	RESTBase() (string, error)
}

// Client is a read-only REST adapter for one chain.
type Client struct {
	base       BaseSource
	httpClient *http.Client
	timeout    time.Duration
	retry      *api.RetryConfig
	logger     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*api.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the retry policy for queries. Nil disables retries.
func WithRetry(r *api.RetryConfig) Option {
	return func(c *Client) {
		c.retry = r
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a chain client reading from base.
func New(base BaseSource, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		retry:      api.DefaultRetryConfig(),
		logger:     zerolog.Nop(),
		clients:    make(map[string]*api.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) rest() (*api.Client, error) {
	base, err := c.base.RESTBase()
	if err != nil {
		if errors.Is(err, autherr.ErrResolutionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", autherr.ErrResolutionUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ac, ok := c.clients[base]; ok {
		return ac, nil
	}
	ac, err := api.NewClient(api.Config{
		BaseURL:    base,
		HTTPClient: c.httpClient,
		Timeout:    c.timeout,
		Retry:      c.retry,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrResolutionUnavailable, err)
	}
	c.clients[base] = ac
	return ac, nil
}

// DomainRecords returns the records of domain.
func (c *Client) DomainRecords(ctx context.Context, domain string) ([]DomainRecord, error) {
	ac, err := c.rest()
	if err != nil {
		return nil, err
	}

	var resp domainResponse
	if err := ac.Do(ctx, http.MethodGet, fmt.Sprintf(pathDomain, url.PathEscape(domain)), nil, &resp); err != nil {
		return nil, fmt.Errorf("query domain %s: %w", domain, err)
	}

	raw := resp.Records
	if resp.Domain != nil {
		raw = resp.Domain.Records
	}
	records := make([]DomainRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, DomainRecord{Key: r.Key, Value: string(r.Value)})
	}
	return records, nil
}

// AccountStatus returns the PQ commitment of address. A 404 means the
// address has never been linked. Any other failure wraps
// [autherr.ErrResolutionUnavailable] so it cannot be mistaken for "unlinked".
func (c *Client) AccountStatus(ctx context.Context, address string) (Commitment, error) {
	ac, err := c.rest()
	if err != nil {
		return Commitment{}, err
	}

	var resp accountResponse
	err = ac.Do(ctx, http.MethodGet, fmt.Sprintf(pathPQCAccount, url.PathEscape(address)), nil, &resp)
	if errors.Is(err, autherr.ErrNotFound) {
		return Commitment{}, nil
	}
	if err != nil {
		return Commitment{}, fmt.Errorf("%w: query pqc account %s: %w", autherr.ErrResolutionUnavailable, address, err)
	}

	if resp.Account != nil {
		return resp.Account.commitment(), nil
	}
	return resp.accountJSON.commitment(), nil
}

// Params returns the PQC module parameters.
func (c *Client) Params(ctx context.Context) (Params, error) {
	ac, err := c.rest()
	if err != nil {
		return Params{}, err
	}

	var resp paramsResponse
	if err := ac.Do(ctx, http.MethodGet, pathPQCParams, nil, &resp); err != nil {
		return Params{}, fmt.Errorf("query pqc params: %w", err)
	}
	if resp.Params != nil {
		return resp.Params.params(), nil
	}
	return resp.paramsJSON.params(), nil
}

// Balance returns the balance of denom held by address. Nodes without the
// by_denom route answer 404, in which case the full balance list is read.
// An absent denomination is a zero balance.
func (c *Client) Balance(ctx context.Context, address, denom string) (*big.Int, error) {
	ac, err := c.rest()
	if err != nil {
		return nil, err
	}

	var coin *Coin
	var byDenom struct {
		Balance *Coin `json:"balance"`
	}
	err = ac.Do(ctx, http.MethodGet, fmt.Sprintf(pathBalanceByID, url.PathEscape(address), url.QueryEscape(denom)), nil, &byDenom)
	switch {
	case err == nil:
		coin = byDenom.Balance
	case errors.Is(err, autherr.ErrNotFound):
		var list struct {
			Balances []Coin `json:"balances"`
		}
		if err := ac.Do(ctx, http.MethodGet, fmt.Sprintf(pathBalances, url.PathEscape(address)), nil, &list); err != nil {
			return nil, fmt.Errorf("query balances %s: %w", address, err)
		}
		for i := range list.Balances {
			if list.Balances[i].Denom == denom {
				coin = &list.Balances[i]
				break
			}
		}
	default:
		return nil, fmt.Errorf("query balance %s: %w", address, err)
	}

	if coin == nil {
		return new(big.Int), nil
	}
	return coin.Int()
}
