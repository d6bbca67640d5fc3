package authwallet

import (
	"context"
	"math/big"

	"github.com/lumen-wallet/authwallet-go/internal/api"
	"github.com/lumen-wallet/authwallet-go/internal/chain"
	"github.com/lumen-wallet/authwallet-go/internal/config"
	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/endpoint"
	"github.com/lumen-wallet/authwallet-go/internal/gateway"
	"github.com/lumen-wallet/authwallet-go/internal/keystore"
	"github.com/lumen-wallet/authwallet-go/internal/link"
	"github.com/lumen-wallet/authwallet-go/internal/reconcile"
	"github.com/lumen-wallet/authwallet-go/internal/signer"
)

// Chain data.
type (
	// Commitment is the chain's record of the PQ key linked to an address.
	Commitment = chain.Commitment
	// Params are the chain's PQ link parameters.
	Params = chain.Params
	// Coin is an amount of one denomination.
	Coin = chain.Coin
	// DomainRecord is one key/value record of an on-chain domain.
	DomainRecord = chain.DomainRecord
	// LinkMsg is the transaction message linking a PQ key to an address.
	LinkMsg = chain.LinkMsg
	// Fee is a transaction fee.
	Fee = chain.Fee
	// TxResult is the outcome of a broadcast.
	TxResult = chain.TxResult
)

// Keys.
type (
	// KeyRecord is a stored PQ signing key.
	KeyRecord = keystore.KeyRecord
	// Keystore persists key records and address links.
	Keystore = keystore.Store
	// SigningKeypair is a freshly generated PQ signing keypair.
	SigningKeypair = crypto.SigningKeypair
	// KeyGenerator creates PQ signing keypairs.
	KeyGenerator = reconcile.KeyGenerator
)

// Gateway calls.
type (
	// Signer signs request digests with the wallet's secp256k1 key.
	Signer = gateway.Signer
	// Request describes one authenticated gateway call.
	Request = gateway.Request
	// Response is a gateway reply.
	Response = gateway.Response
	// GatewayKey is a gateway's published KEM key.
	GatewayKey = gateway.PublicKey
)

// External capabilities.
type (
	// NameRegistry looks up on-chain domain records.
	NameRegistry = endpoint.NameRegistry
	// LinkSubmitter signs and broadcasts link transactions.
	LinkSubmitter = link.Submitter
	// LinkSubmitterFunc adapts a function to LinkSubmitter.
	LinkSubmitterFunc = link.SubmitterFunc
)

// ChainClient reads PQ account state from the chain.
type ChainClient interface {
	AccountStatus(ctx context.Context, address string) (Commitment, error)
	Params(ctx context.Context) (Params, error)
	Balance(ctx context.Context, address, denom string) (*big.Int, error)
}

// RetryConfig configures retries of idempotent reads and link broadcasts.
type RetryConfig = api.RetryConfig

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() *RetryConfig {
	return api.DefaultRetryConfig()
}

// Config holds file and environment settings for NewFromConfig.
type Config = config.Config

// LoadConfig reads settings from the YAML file at path, the .env file at
// envFile and the environment. Empty paths use the default locations.
func LoadConfig(path, envFile string) (Config, error) {
	return config.Load(path, envFile)
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return config.Default()
}

// NewMemoryKeystore returns a keystore that lives only in memory.
func NewMemoryKeystore() Keystore {
	return keystore.NewMemory()
}

// OpenDirKeystore opens a directory keystore at path, creating it if needed.
func OpenDirKeystore(path string) (Keystore, error) {
	d, err := keystore.OpenDir(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ClosableKeystore is a keystore holding resources that Close releases.
type ClosableKeystore interface {
	Keystore
	Close() error
}

// OpenSQLKeystore opens a SQLite keystore at dsn.
func OpenSQLKeystore(ctx context.Context, dsn string) (ClosableKeystore, error) {
	s, err := keystore.OpenSQL(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ProfileKeyName returns the key name used for a profile's PQ key.
func ProfileKeyName(profileID string) string {
	return keystore.ProfileKeyName(profileID)
}

// WalletSigner is a secp256k1 wallet key. It implements Signer.
type WalletSigner = signer.Signer

// WalletSignerFromHex parses a hex secp256k1 private key, with or without
// a 0x prefix. Addresses derive with the "lmn" prefix.
func WalletSignerFromHex(key string) (*WalletSigner, error) {
	return signer.FromHex(key)
}
