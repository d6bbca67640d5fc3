// Package config loads client settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvHome           = "LUMEN_PQC_HOME"
	EnvPeersFile      = "LUMEN_PEERS_FILE"
	EnvChainREST      = "LUMEN_CHAIN_REST"
	EnvKeystoreDSN    = "LUMEN_KEYSTORE_DSN"
	EnvGatewayTimeout = "LUMEN_GATEWAY_TIMEOUT"
)

// DefaultHome is where directory keystores live when nothing else is set.
const DefaultHome = "~/.lumen/pqc"

// DefaultFiles are the YAML files tried when Load is given no path.
var DefaultFiles = []string{
	"authwallet.yaml",
	"configs/authwallet.yaml",
}

// Config holds client settings.
type Config struct {
	// Home is the data directory of the directory keystore.
	Home string `yaml:"home"`
	// PeersFile overrides peers file discovery.
	PeersFile string `yaml:"peersFile"`
	// ChainREST is a fixed chain REST base that bypasses the peers file.
	ChainREST string `yaml:"chainRest"`
	// KeystoreDSN selects the SQLite keystore when set.
	KeystoreDSN string `yaml:"keystoreDsn"`

	GatewayTimeout time.Duration `yaml:"gatewayTimeout"`
	ResolveTimeout time.Duration `yaml:"resolveTimeout"`
	ChainTimeout   time.Duration `yaml:"chainTimeout"`

	// Workers bounds concurrent background jobs. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// DefaultScheme is the PQ signature scheme of generated keys.
	DefaultScheme string `yaml:"defaultScheme"`

	// GatewayRPS and GatewayBurst throttle calls per gateway. Zero disables.
	GatewayRPS   float64 `yaml:"gatewayRps"`
	GatewayBurst int     `yaml:"gatewayBurst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Home:           DefaultHome,
		GatewayTimeout: 15 * time.Second,
		ResolveTimeout: 2500 * time.Millisecond,
		ChainTimeout:   7 * time.Second,
		DefaultScheme:  "dilithium3",
	}
}

// Load builds a Config from defaults, the YAML file at path (or the first of
// DefaultFiles that exists when path is empty), the .env file at envFile
// (".env" when empty; a missing file is ignored) and finally the process
// environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.expandPaths(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	candidates := DefaultFiles
	explicit := path != ""
	if explicit {
		candidates = []string{path}
	}

	for _, p := range candidates {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return fmt.Errorf("config path %s: %w", p, err)
		}
		data, err := os.ReadFile(expanded)
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			continue
		}
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse config %s: %w", expanded, err)
		}
		c.merge(file)
		return nil
	}
	return nil
}

// merge copies the non-zero fields of src into c.
func (c *Config) merge(src Config) {
	if src.Home != "" {
		c.Home = src.Home
	}
	if src.PeersFile != "" {
		c.PeersFile = src.PeersFile
	}
	if src.ChainREST != "" {
		c.ChainREST = src.ChainREST
	}
	if src.KeystoreDSN != "" {
		c.KeystoreDSN = src.KeystoreDSN
	}
	if src.GatewayTimeout > 0 {
		c.GatewayTimeout = src.GatewayTimeout
	}
	if src.ResolveTimeout > 0 {
		c.ResolveTimeout = src.ResolveTimeout
	}
	if src.ChainTimeout > 0 {
		c.ChainTimeout = src.ChainTimeout
	}
	if src.Workers > 0 {
		c.Workers = src.Workers
	}
	if src.DefaultScheme != "" {
		c.DefaultScheme = src.DefaultScheme
	}
	if src.GatewayRPS > 0 {
		c.GatewayRPS = src.GatewayRPS
	}
	if src.GatewayBurst > 0 {
		c.GatewayBurst = src.GatewayBurst
	}
}

func readDotenv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return vals, nil
}

func (c *Config) applyEnv(lookup func(string) string) error {
	if v := lookup(EnvHome); v != "" {
		c.Home = v
	}
	if v := lookup(EnvPeersFile); v != "" {
		c.PeersFile = v
	}
	if v := lookup(EnvChainREST); v != "" {
		c.ChainREST = v
	}
	if v := lookup(EnvKeystoreDSN); v != "" {
		c.KeystoreDSN = v
	}
	if v := lookup(EnvGatewayTimeout); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGatewayTimeout, err)
		}
		c.GatewayTimeout = d
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Home, &c.PeersFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// ParseDuration accepts Go duration strings ("15s") and bare integers,
// which are read as milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return d, nil
}
