// Command authwallet inspects and exercises wallet authentication against a
// Lumen chain and its storage gateways.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lumen-wallet/authwallet-go"
)

// EnvWalletKey holds the hex secp256k1 private key used by "call".
const EnvWalletKey = "LUMEN_WALLET_KEY"

// Config holds the process streams and environment the command runs with.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
}

// DefaultConfig returns a Config wired to the process.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
	}
}

type globalFlags struct {
	configFile string
	envFile    string
	chainREST  string
	peersFile  string
	timeout    time.Duration
	verbose    bool
}

func run(args []string, cfg Config) error {
	root := newRootCmd(cfg)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd(cfg Config) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "authwallet",
		Short:         "Hybrid post-quantum wallet authentication for Lumen gateways",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "YAML config file (default authwallet.yaml)")
	pf.StringVar(&g.envFile, "env-file", "", "dotenv file (default .env)")
	pf.StringVar(&g.chainREST, "chain-rest", "", "chain REST base URL, overrides the peers file")
	pf.StringVar(&g.peersFile, "peers", "", "peers file listing chain nodes")
	pf.DurationVar(&g.timeout, "timeout", time.Minute, "overall command timeout")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newResolveCmd(cfg, g),
		newGatewayKeyCmd(cfg, g),
		newStatusCmd(cfg, g),
		newEnsureKeyCmd(cfg, g),
		newPowCmd(cfg, g),
		newCallCmd(cfg, g),
	)
	return root
}

func (g *globalFlags) logger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if g.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func (g *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *globalFlags) client(ctx context.Context, cfg Config) (*authwallet.Client, error) {
	fc, err := authwallet.LoadConfig(g.configFile, g.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.chainREST != "" {
		fc.ChainREST = g.chainREST
	}
	if g.peersFile != "" {
		fc.PeersFile = g.peersFile
	}
	return authwallet.NewFromConfig(ctx, fc, authwallet.WithLogger(g.logger(cfg.Stderr)))
}

// withClient runs fn with a client and the command's context.
func (g *globalFlags) withClient(cmd *cobra.Command, cfg Config, fn func(context.Context, *authwallet.Client) error) error {
	ctx, cancel := g.context(cmd)
	defer cancel()

	client, err := g.client(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newResolveCmd(cfg Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <gateway-ref>",
		Short: "Resolve a gateway reference to its HTTP base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				base, err := c.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cfg.Stdout, base)
				return nil
			})
		},
	}
}

// KeyOutput describes a gateway KEM key.
type KeyOutput struct {
	KeyID string `json:"keyId"`
	Alg   string `json:"alg"`
	Size  int    `json:"size"`
}

func newGatewayKeyCmd(cfg Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway-key <gateway-ref>",
		Short: "Fetch a gateway's KEM public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				key, err := c.GatewayKey(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cfg.Stdout, KeyOutput{KeyID: key.KeyID, Alg: key.Alg, Size: len(key.Pub)})
			})
		},
	}
}

// StatusOutput is the chain's PQ commitment for an address.
type StatusOutput struct {
	Address    string `json:"address"`
	Linked     bool   `json:"linked"`
	Scheme     string `json:"scheme,omitempty"`
	PubKeyHash string `json:"pubKeyHash,omitempty"`
}

func newStatusCmd(cfg Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <address>",
		Short: "Show the PQ key committed on chain for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				onChain, err := c.AccountStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cfg.Stdout, StatusOutput{
					Address:    args[0],
					Linked:     onChain.Linked,
					Scheme:     onChain.Scheme,
					PubKeyHash: onChain.PubKeyHash,
				})
			})
		},
	}
}

// KeyRecordOutput describes a local key without its private half.
type KeyRecordOutput struct {
	Name       string `json:"name"`
	Scheme     string `json:"scheme"`
	PubKeyHash string `json:"pubKeyHash"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

func newEnsureKeyCmd(cfg Config, g *globalFlags) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "ensure-key <address>",
		Short: "Reconcile the local PQ key of an address with the chain",
		Long: "Reconcile the local PQ key of an address with the chain. A key is " +
			"generated only when the chain holds no commitment. The key is not linked on chain.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				onChain, err := c.AccountStatus(ctx, args[0])
				if err != nil {
					return err
				}
				rec, err := c.EnsureLocalKey(ctx, args[0], profile, onChain)
				if err != nil {
					return err
				}
				out := KeyRecordOutput{Name: rec.Name, Scheme: rec.Scheme, PubKeyHash: rec.PublicKeyHash()}
				if !rec.CreatedAt.IsZero() {
					out.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
				}
				return writeJSON(cfg.Stdout, out)
			})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", authwallet.DefaultProfile, "profile whose key slot is used")
	return cmd
}

func newPowCmd(cfg Config, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pow <pubkey-hex> <bits>",
		Short: "Solve the link proof-of-work for a public key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
			if err != nil {
				return fmt.Errorf("invalid public key: %w", err)
			}
			bits, err := strconv.Atoi(args[1])
			if err != nil || bits < 0 {
				return fmt.Errorf("invalid difficulty %q", args[1])
			}
			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				start := time.Now()
				nonce, err := c.SolvePow(ctx, pub, bits)
				if err != nil {
					return err
				}
				log := g.logger(cfg.Stderr)
				log.Debug().Dur("elapsed", time.Since(start)).Int("bits", bits).Msg("solved")
				fmt.Fprintln(cfg.Stdout, hex.EncodeToString(nonce))
				return nil
			})
		},
	}
}

func newCallCmd(cfg Config, g *globalFlags) *cobra.Command {
	var (
		method string
		wallet string
	)
	cmd := &cobra.Command{
		Use:   "call <gateway-ref> <path> [payload-json]",
		Short: "Send one encrypted, signed request to a gateway",
		Long: "Send one encrypted, signed request to a gateway. The wallet key is read " +
			"as hex from " + EnvWalletKey + ". A payload of \"-\" is read from stdin.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(cfg.Getenv(EnvWalletKey))
			if key == "" {
				return fmt.Errorf("%s is not set", EnvWalletKey)
			}
			s, err := authwallet.WalletSignerFromHex(key)
			if err != nil {
				return err
			}
			if wallet == "" {
				if wallet, err = s.Address(); err != nil {
					return err
				}
			}

			var payload json.RawMessage
			if len(args) == 3 {
				raw := []byte(args[2])
				if args[2] == "-" {
					if raw, err = io.ReadAll(cfg.Stdin); err != nil {
						return fmt.Errorf("read payload: %w", err)
					}
				}
				if !json.Valid(raw) {
					return errors.New("payload is not valid JSON")
				}
				payload = raw
			}

			return g.withClient(cmd, cfg, func(ctx context.Context, c *authwallet.Client) error {
				resp, err := c.Call(ctx, args[0], authwallet.Request{
					Method:  strings.ToUpper(method),
					Path:    args[1],
					Wallet:  wallet,
					Payload: payload,
				}, s)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cfg.Stdout, string(resp.Data))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "POST", "HTTP method")
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address (default: derived from the key)")
	return cmd
}

func fatal(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "error: "+format+"\n", args...)
	os.Exit(1)
}
