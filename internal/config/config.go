// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/network"
	"github.com/gateway-fm/tpsbench/internal/plan"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Config holds benchmark configuration.
type Config struct {
	// Target network. Endpoint and account fields override the preset.
	Network   types.Network
	RPCURL    string
	WSURL     string // WebSocket URL for newHeads (empty = derive from RPCURL)
	ChainID   int64  // 0 = ask the node
	Funder    string // name ("//Alice") or hex private key
	Relayer   string
	Proxy     string // proxy contract address (required for proxied runs)
	Token     string
	UseLegacy bool
	GasTipCap int64 // EIP-1559 priority fee in wei
	GasFeeCap int64 // EIP-1559 max fee per gas in wei

	// Run shape
	TotalTransactions int
	TargetTPS         int
	Lanes             int
	Kind              types.TxKind
	Batched           bool // JSON-RPC batch submission, proxied transfers only
	Endow             bool // fund every benchmark account from the funder first
	Interval          time.Duration
	Concurrency       int

	// Measurement
	ConfirmationDepth    int // -1 = network preset
	FinalizationTimeout  time.Duration
	FinalizationAttempts int
	HeadPollInterval     time.Duration
	MaxBlocks            int

	// Service
	ListenAddr         string
	DatabasePath       string
	CORSAllowedOrigins string
	LogLevel           string
	LogFormat          string
}

// Defaults
const (
	DefaultNetwork              = types.NetworkLocal
	DefaultTotalTransactions    = 30000
	DefaultTargetTPS            = 1500
	DefaultLanes                = 4
	DefaultKind                 = types.TxKindTransfer
	DefaultInterval             = time.Second
	DefaultConcurrency          = 500
	DefaultGasTipCap            = 1000000000 // 1 Gwei
	DefaultGasFeeCap            = 2000000000 // 2 Gwei
	DefaultFinalizationTimeout  = 5 * time.Second
	DefaultFinalizationAttempts = 12
	DefaultHeadPollInterval     = 500 * time.Millisecond
	DefaultMaxBlocks            = 1_000_000
	DefaultListenAddr           = ":3001"
	DefaultDatabasePath         = "./data/tpsbench.db"
	DefaultCORSAllowedOrigins   = "*"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Network:              DefaultNetwork,
		GasTipCap:            DefaultGasTipCap,
		GasFeeCap:            DefaultGasFeeCap,
		TotalTransactions:    DefaultTotalTransactions,
		TargetTPS:            DefaultTargetTPS,
		Lanes:                DefaultLanes,
		Kind:                 DefaultKind,
		Interval:             DefaultInterval,
		Concurrency:          DefaultConcurrency,
		ConfirmationDepth:    -1,
		FinalizationTimeout:  DefaultFinalizationTimeout,
		FinalizationAttempts: DefaultFinalizationAttempts,
		HeadPollInterval:     DefaultHeadPollInterval,
		MaxBlocks:            DefaultMaxBlocks,
		ListenAddr:           DefaultListenAddr,
		DatabasePath:         DefaultDatabasePath,
		CORSAllowedOrigins:   DefaultCORSAllowedOrigins,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
	}
}

// Load returns the defaults overlaid with environment variables.
// Command-line flags are applied on top by the caller.
func Load() (*Config, error) {
	cfg := Default()

	stringVars := []struct {
		env string
		dst *string
	}{
		{"RPC_URL", &cfg.RPCURL},
		{"WS_URL", &cfg.WSURL},
		{"TPSBENCH_FUNDER", &cfg.Funder},
		{"TPSBENCH_RELAYER", &cfg.Relayer},
		{"TPSBENCH_PROXY", &cfg.Proxy},
		{"TPSBENCH_TOKEN", &cfg.Token},
		{"LISTEN_ADDR", &cfg.ListenAddr},
		{"DATABASE_PATH", &cfg.DatabasePath},
		{"CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"LOG_FORMAT", &cfg.LogFormat},
	}
	for _, s := range stringVars {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("TPSBENCH_NETWORK"); v != "" {
		cfg.Network = types.Network(v)
	}
	if v := os.Getenv("TPSBENCH_TX"); v != "" {
		cfg.Kind = types.TxKind(v)
	}

	intVars := []struct {
		env string
		dst *int
	}{
		{"TPSBENCH_TRANSACTIONS", &cfg.TotalTransactions},
		{"TPSBENCH_TPS", &cfg.TargetTPS},
		{"TPSBENCH_LANES", &cfg.Lanes},
		{"TPSBENCH_CONCURRENCY", &cfg.Concurrency},
		{"TPSBENCH_CONFIRMATION_DEPTH", &cfg.ConfirmationDepth},
		{"TPSBENCH_FINALIZATION_ATTEMPTS", &cfg.FinalizationAttempts},
		{"TPSBENCH_MAX_BLOCKS", &cfg.MaxBlocks},
	}
	for _, i := range intVars {
		if v := os.Getenv(i.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, bencherr.Configf(i.env, "not an integer: %q", v)
			}
			*i.dst = n
		}
	}

	int64Vars := []struct {
		env string
		dst *int64
	}{
		{"CHAIN_ID", &cfg.ChainID},
		{"GAS_TIP_CAP", &cfg.GasTipCap},
		{"GAS_FEE_CAP", &cfg.GasFeeCap},
	}
	for _, i := range int64Vars {
		if v := os.Getenv(i.env); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, bencherr.Configf(i.env, "not an integer: %q", v)
			}
			*i.dst = n
		}
	}

	durationVars := []struct {
		env string
		dst *time.Duration
	}{
		{"TPSBENCH_INTERVAL", &cfg.Interval},
		{"TPSBENCH_FINALIZATION_TIMEOUT", &cfg.FinalizationTimeout},
		{"TPSBENCH_HEAD_POLL_INTERVAL", &cfg.HeadPollInterval},
	}
	for _, d := range durationVars {
		if v := os.Getenv(d.env); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return nil, bencherr.Configf(d.env, "not a duration: %q", v)
			}
			*d.dst = dur
		}
	}

	if v := os.Getenv("TPSBENCH_USE_LEGACY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, bencherr.Configf("TPSBENCH_USE_LEGACY", "not a boolean: %q", v)
		}
		cfg.UseLegacy = b
	}

	return cfg, nil
}

// SelectNetwork applies the mutually exclusive network selectors.
// Neither selector keeps the configured network.
func (c *Config) SelectNetwork(local, testnet bool) error {
	switch {
	case local && testnet:
		return bencherr.Configf("network", "choose only one of --local and --testnet")
	case local:
		c.Network = types.NetworkLocal
	case testnet:
		c.Network = types.NetworkTestnet
	}
	return nil
}

// Normalize drops options that do not apply to the configured run and
// returns a warning for each one.
func (c *Config) Normalize() []string {
	var warnings []string
	if c.Batched && c.Kind == types.TxKindTransfer {
		c.Batched = false
		warnings = append(warnings, "batch option can only be used with proxied transfers; batching is ignored")
	}
	return warnings
}

// Validate checks the run parameters. It does not contact the network.
func (c *Config) Validate() error {
	if c.Network != types.NetworkLocal && c.Network != types.NetworkTestnet {
		return bencherr.Configf("network", "unknown network %q", c.Network)
	}
	if !c.Kind.Valid() {
		return bencherr.Configf("tx", "unknown transaction kind %q (supported: transfer, proxied)", c.Kind)
	}
	if _, err := c.Plan(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return bencherr.Configf("interval", "must be positive")
	}
	if c.Concurrency <= 0 {
		return bencherr.Configf("concurrency", "must be positive")
	}
	if c.GasTipCap <= 0 {
		return bencherr.Configf("gas-tip-cap", "must be positive")
	}
	if c.GasFeeCap < c.GasTipCap {
		return bencherr.Configf("gas-fee-cap", "must be >= gas tip cap (%d)", c.GasTipCap)
	}
	if c.FinalizationTimeout <= 0 || c.FinalizationAttempts <= 0 {
		return bencherr.Configf("finalization", "timeout and attempts must be positive")
	}
	if c.MaxBlocks <= 0 {
		return bencherr.Configf("max-blocks", "must be positive")
	}
	for _, a := range []struct{ field, value string }{{"proxy", c.Proxy}, {"token", c.Token}} {
		if a.value != "" && !common.IsHexAddress(a.value) {
			return bencherr.Configf(a.field, "not an address: %q", a.value)
		}
	}
	return nil
}

// Plan builds the batch plan for the configured shape.
func (c *Config) Plan() (plan.BatchPlan, error) {
	return plan.Plan(c.TotalTransactions, c.TargetTPS, c.Lanes)
}

// Resolve merges the configuration onto the selected network preset.
func (c *Config) Resolve(reg *network.Registry) (*network.Target, error) {
	target := reg.Get(c.Network)
	if target == nil {
		return nil, bencherr.Configf("network", "unknown network %q (supported: %v)", c.Network, reg.Names())
	}

	if c.RPCURL != "" {
		target.RPCURL = c.RPCURL
		// An explicit RPC URL without a WS URL derives the WS endpoint.
		if c.WSURL == "" {
			target.WSURL = ""
		}
	}
	if c.WSURL != "" {
		target.WSURL = c.WSURL
	}
	if c.ChainID != 0 {
		target.ChainID = c.ChainID
	}
	if c.Funder != "" {
		target.Funder = c.Funder
	}
	if c.Relayer != "" {
		target.Relayer = c.Relayer
	}
	if c.Proxy != "" {
		target.Proxy = common.HexToAddress(c.Proxy)
	}
	if c.Token != "" {
		target.Token = common.HexToAddress(c.Token)
	}
	if c.ConfirmationDepth >= 0 {
		target.ConfirmationDepth = uint64(c.ConfirmationDepth)
	}
	target.UseLegacy = target.UseLegacy || c.UseLegacy

	if target.RPCURL == "" {
		return nil, bencherr.Configf("rpc-url", "no endpoint for network %s; set RPC_URL or --rpc-url", target.Name)
	}
	if c.Kind == types.TxKindProxied && target.Proxy == (common.Address{}) {
		return nil, bencherr.Configf("proxy", "proxied transfers need a proxy contract; set TPSBENCH_PROXY or --proxy")
	}
	return target, nil
}

// RunConfig echoes the run parameters into a report.
func (c *Config) RunConfig(target *network.Target) types.RunConfig {
	rc := types.RunConfig{
		Network:           c.Network,
		TotalTransactions: c.TotalTransactions,
		TargetTPS:         c.TargetTPS,
		Lanes:             c.Lanes,
		Kind:              c.Kind,
		Batched:           c.Batched,
		Endow:             c.Endow,
		IntervalMs:        c.Interval.Milliseconds(),
	}
	if target != nil {
		rc.RPCURL = target.RPCURL
	}
	return rc
}

// String summarizes the run shape for logs.
func (c *Config) String() string {
	return fmt.Sprintf("%d %s transactions at %d TPS over %d lanes on %s",
		c.TotalTransactions, c.Kind, c.TargetTPS, c.Lanes, c.Network)
}
