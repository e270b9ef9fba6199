// Package config loads the shieldpay node settings from a YAML file and the
// SHIELDPAY_* environment variables. Values from the environment take
// precedence over the file, which takes precedence over the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/service"
	"github.com/vocdoni/shieldpay/splitter"
	"github.com/vocdoni/shieldpay/types"
	"github.com/vocdoni/shieldpay/verifier"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHIELDPAY_"

// Config is the node configuration.
type Config struct {
	LogLevel  string          `yaml:"logLevel"`
	LogOutput string          `yaml:"logOutput"`
	API       APIConfig       `yaml:"api"`
	Chain     ChainConfig     `yaml:"chain"`
	Storage   StorageConfig   `yaml:"storage"`
	Relayer   RelayerConfig   `yaml:"relayer"`
	Splitter  SplitterConfig  `yaml:"splitter"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ChainConfig points to the Solana cluster and the pool program.
type ChainConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	RelayerKeypair string        `yaml:"relayerKeypair"`
	ProgramID      string        `yaml:"programId"`
	PoolAccount    string        `yaml:"poolAccount"`
	FeeRecipient   string        `yaml:"feeRecipient"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	IndexInterval  time.Duration `yaml:"indexInterval"`
}

// StorageConfig selects the database backend.
type StorageConfig struct {
	Dir  string `yaml:"dir"`
	Type string `yaml:"type"`
}

// RelayerConfig tunes the proof relay gateway. Amounts are in SOL.
type RelayerConfig struct {
	MaxPending    int           `yaml:"maxPending"`
	FeeBps        uint16        `yaml:"feeBps"`
	FeeMargin     string        `yaml:"feeMargin"`
	Denominations []string      `yaml:"denominations"`
	ConfirmedTTL  time.Duration `yaml:"confirmedTTL"`
	StaleAfter    time.Duration `yaml:"staleAfter"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// SplitterConfig enables the transaction splitter.
type SplitterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	SenderKeypair     string        `yaml:"senderKeypair"`
	MinFundingPause   time.Duration `yaml:"minFundingPause"`
	MaxFundingPause   time.Duration `yaml:"maxFundingPause"`
	SchedulerInterval time.Duration `yaml:"schedulerInterval"`
	SchedulerLimit    int           `yaml:"schedulerLimit"`
	TaskTTL           time.Duration `yaml:"taskTTL"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	denoms := make([]string, len(relayer.DefaultDenominations))
	for i, d := range relayer.DefaultDenominations {
		denoms[i] = types.FromLamports(d).String()
	}
	return &Config{
		LogLevel:  "info",
		LogOutput: "stdout",
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Chain: ChainConfig{
			Endpoint:       "http://127.0.0.1:8899",
			RelayerKeypair: filepath.Join(home, ".config", "solana", "id.json"),
			ConfirmTimeout: 60 * time.Second,
			PollInterval:   500 * time.Millisecond,
			IndexInterval:  service.DefaultIndexInterval,
		},
		Storage: StorageConfig{
			Dir:  filepath.Join(home, ".shieldpay"),
			Type: "pebble",
		},
		Relayer: RelayerConfig{
			MaxPending:    relayer.DefaultMaxPending,
			FeeBps:        relayer.DefaultFeeBps,
			FeeMargin:     types.FromLamports(relayer.DefaultFeeMargin).String(),
			Denominations: denoms,
			ConfirmedTTL:  relayer.DefaultConfirmedTTL,
			StaleAfter:    relayer.DefaultStaleAfter,
			SweepInterval: service.DefaultSweepInterval,
		},
		Splitter: SplitterConfig{
			MinFundingPause:   splitter.DefaultMinFundingPause,
			MaxFundingPause:   splitter.DefaultMaxFundingPause,
			SchedulerInterval: service.DefaultSchedulerInterval,
			SchedulerLimit:    service.DefaultForwardConcurrency,
			TaskTTL:           10 * time.Minute,
		},
		Artifacts: ArtifactsConfig{
			Backend: string(verifier.BackendGnark),
		},
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv overrides the fields that have an environment variable.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_OUTPUT":       &c.LogOutput,
		"API_HOST":         &c.API.Host,
		"RPC_ENDPOINT":     &c.Chain.Endpoint,
		"RELAYER_KEYPAIR":  &c.Chain.RelayerKeypair,
		"PROGRAM_ID":       &c.Chain.ProgramID,
		"POOL_ACCOUNT":     &c.Chain.PoolAccount,
		"FEE_RECIPIENT":    &c.Chain.FeeRecipient,
		"DB_DIR":           &c.Storage.Dir,
		"DB_TYPE":          &c.Storage.Type,
		"FEE_MARGIN":       &c.Relayer.FeeMargin,
		"SPLITTER_KEYPAIR": &c.Splitter.SenderKeypair,
		"VKEY_URL":         &c.Artifacts.VerificationKeyURL,
		"VKEY_HASH":        &c.Artifacts.VerificationKeyHash,
		"VKEY_FILE":        &c.Artifacts.VerificationKeyFile,
		"VERIFIER_BACKEND": &c.Artifacts.Backend,
	}
	for name, field := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}
	ints := map[string]*int{
		"API_PORT":        &c.API.Port,
		"MAX_PENDING":     &c.Relayer.MaxPending,
		"SCHEDULER_LIMIT": &c.Splitter.SchedulerLimit,
	}
	for name, field := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*field = n
		}
	}
	durations := map[string]*time.Duration{
		"CONFIRM_TIMEOUT": &c.Chain.ConfirmTimeout,
		"CONFIRMED_TTL":   &c.Relayer.ConfirmedTTL,
		"STALE_AFTER":     &c.Relayer.StaleAfter,
		"SWEEP_INTERVAL":  &c.Relayer.SweepInterval,
	}
	for name, field := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*field = d
		}
	}
	if v, ok := lookup(EnvPrefix + "FEE_BPS"); ok {
		bps, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%sFEE_BPS: %w", EnvPrefix, err)
		}
		c.Relayer.FeeBps = uint16(bps)
	}
	if v, ok := lookup(EnvPrefix + "DENOMINATIONS"); ok {
		c.Relayer.Denominations = strings.Split(v, ",")
	}
	if v, ok := lookup(EnvPrefix + "SPLITTER_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSPLITTER_ENABLED: %w", EnvPrefix, err)
		}
		c.Splitter.Enabled = enabled
	}
	return nil
}

// Validate checks the values that cannot be fixed with a default.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Chain.Endpoint == "" {
		return fmt.Errorf("rpc endpoint required")
	}
	if c.Relayer.FeeBps > 10_000 {
		return fmt.Errorf("fee bps %d above 100%%", c.Relayer.FeeBps)
	}
	for _, key := range []struct{ name, value string }{
		{"program id", c.Chain.ProgramID},
		{"pool account", c.Chain.PoolAccount},
		{"fee recipient", c.Chain.FeeRecipient},
	} {
		if _, err := parseOptionalKey(key.value); err != nil {
			return fmt.Errorf("%s: %w", key.name, err)
		}
	}
	if _, err := c.Relayer.DenominationLamports(); err != nil {
		return err
	}
	if _, err := c.Relayer.FeeMarginLamports(); err != nil {
		return err
	}
	if c.Splitter.MaxFundingPause < c.Splitter.MinFundingPause {
		return fmt.Errorf("max funding pause below min funding pause")
	}
	if c.Artifacts.VerificationKeyURL != "" && c.Artifacts.VerificationKeyHash == "" {
		return fmt.Errorf("verification key url requires its sha256 hash")
	}
	if _, err := verifier.New(verifier.Backend(c.Artifacts.Backend)); err != nil {
		return err
	}
	return nil
}

// DenominationLamports parses the denominations into lamports. They must be
// positive and unique.
func (r RelayerConfig) DenominationLamports() ([]uint64, error) {
	out := make([]uint64, 0, len(r.Denominations))
	seen := map[uint64]bool{}
	for _, s := range r.Denominations {
		l, err := parseSOL(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("denomination %q: %w", s, err)
		}
		if l == 0 || seen[l] {
			return nil, fmt.Errorf("denomination %q must be positive and unique", s)
		}
		seen[l] = true
		out = append(out, l)
	}
	return out, nil
}

// FeeMarginLamports parses the fee margin into lamports.
func (r RelayerConfig) FeeMarginLamports() (uint64, error) {
	if r.FeeMargin == "" {
		return 0, nil
	}
	l, err := parseSOL(r.FeeMargin)
	if err != nil {
		return 0, fmt.Errorf("fee margin: %w", err)
	}
	return l, nil
}

// Keys returns the parsed program, pool and fee recipient keys. Unset keys
// are zero.
func (c ChainConfig) Keys() (program, pool, feeRecipient solana.PublicKey, err error) {
	if program, err = parseOptionalKey(c.ProgramID); err != nil {
		return
	}
	if pool, err = parseOptionalKey(c.PoolAccount); err != nil {
		return
	}
	feeRecipient, err = parseOptionalKey(c.FeeRecipient)
	return
}

// LoadKeypair reads a solana-keygen JSON keypair file.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return key, nil
}

func parseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return types.ToLamports(d)
}

func parseOptionalKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(s)
}
