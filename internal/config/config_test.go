package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/network"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	p, err := Default().Plan()
	if err != nil {
		t.Fatalf("Default().Plan() = %v", err)
	}
	if p.TotalBatches != 20 || p.PerLanePerBatch != 375 {
		t.Errorf("default plan = %+v, want 20 batches of 375 per lane", p)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TPSBENCH_NETWORK", "testnet")
	t.Setenv("RPC_URL", "http://node:8545")
	t.Setenv("TPSBENCH_TRANSACTIONS", "1000")
	t.Setenv("TPSBENCH_TPS", "100")
	t.Setenv("TPSBENCH_LANES", "10")
	t.Setenv("TPSBENCH_TX", "proxied")
	t.Setenv("TPSBENCH_INTERVAL", "250ms")
	t.Setenv("CHAIN_ID", "1337")
	t.Setenv("TPSBENCH_USE_LEGACY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network != types.NetworkTestnet {
		t.Errorf("Network = %s, want testnet", cfg.Network)
	}
	if cfg.RPCURL != "http://node:8545" {
		t.Errorf("RPCURL = %s", cfg.RPCURL)
	}
	if cfg.TotalTransactions != 1000 || cfg.TargetTPS != 100 || cfg.Lanes != 10 {
		t.Errorf("shape = %d/%d/%d, want 1000/100/10", cfg.TotalTransactions, cfg.TargetTPS, cfg.Lanes)
	}
	if cfg.Kind != types.TxKindProxied {
		t.Errorf("Kind = %s, want proxied", cfg.Kind)
	}
	if cfg.Interval != 250*time.Millisecond {
		t.Errorf("Interval = %s, want 250ms", cfg.Interval)
	}
	if cfg.ChainID != 1337 || !cfg.UseLegacy {
		t.Errorf("ChainID = %d, UseLegacy = %v", cfg.ChainID, cfg.UseLegacy)
	}
}

func TestLoadRejectsMalformedEnvironment(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"TPSBENCH_TPS", "fast"},
		{"CHAIN_ID", "0x539"},
		{"TPSBENCH_INTERVAL", "1"},
		{"TPSBENCH_USE_LEGACY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			var ce *bencherr.ConfigurationError
			if !errors.As(err, &ce) || ce.Field != tt.env {
				t.Errorf("Load() error = %v, want ConfigurationError for %s", err, tt.env)
			}
		})
	}
}

func TestSelectNetwork(t *testing.T) {
	tests := []struct {
		name    string
		local   bool
		testnet bool
		want    types.Network
		wantErr bool
	}{
		{"neither keeps default", false, false, types.NetworkLocal, false},
		{"local", true, false, types.NetworkLocal, false},
		{"testnet", false, true, types.NetworkTestnet, false},
		{"both", true, true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.SelectNetwork(tt.local, tt.testnet)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SelectNetwork() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !bencherr.IsFatal(err) {
					t.Errorf("error %v is not fatal", err)
				}
				return
			}
			if cfg.Network != tt.want {
				t.Errorf("Network = %s, want %s", cfg.Network, tt.want)
			}
		})
	}
}

func TestNormalizeIgnoresBatchForTransfers(t *testing.T) {
	cfg := Default()
	cfg.Batched = true

	warnings := cfg.Normalize()
	if cfg.Batched {
		t.Error("Batched still set for transfer kind")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "ignored") {
		t.Errorf("warnings = %v", warnings)
	}

	cfg = Default()
	cfg.Kind = types.TxKindProxied
	cfg.Batched = true
	if warnings := cfg.Normalize(); len(warnings) != 0 || !cfg.Batched {
		t.Errorf("proxied batch option changed: batched=%v warnings=%v", cfg.Batched, warnings)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string // empty = valid
	}{
		{"valid default", func(*Config) {}, ""},
		{"reference shape", func(c *Config) { c.TotalTransactions, c.TargetTPS, c.Lanes = 1000, 100, 10 }, ""},
		{"unknown network", func(c *Config) { c.Network = "mainnet" }, "network"},
		{"unknown kind", func(c *Config) { c.Kind = "swap" }, "tx"},
		{"uneven batches", func(c *Config) { c.TotalTransactions = 1001 }, "tps"},
		{"uneven lanes", func(c *Config) { c.Lanes = 7 }, "lanes"},
		{"zero tps", func(c *Config) { c.TargetTPS = 0 }, "tps"},
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"fee cap below tip", func(c *Config) { c.GasFeeCap = c.GasTipCap - 1 }, "gas-fee-cap"},
		{"zero attempts", func(c *Config) { c.FinalizationAttempts = 0 }, "finalization"},
		{"zero max blocks", func(c *Config) { c.MaxBlocks = 0 }, "max-blocks"},
		{"bad proxy", func(c *Config) { c.Proxy = "0x1234" }, "proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			var ce *bencherr.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want ConfigurationError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	reg := network.DefaultRegistry()
	proxy := "0x00000000000000000000000000000000000000aa"

	t.Run("local preset", func(t *testing.T) {
		target, err := Default().Resolve(reg)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if target.RPCURL != "http://localhost:8545" || target.WSURL != "ws://localhost:8546" {
			t.Errorf("endpoints = %s / %s", target.RPCURL, target.WSURL)
		}
	})

	t.Run("rpc override clears preset ws", func(t *testing.T) {
		cfg := Default()
		cfg.RPCURL = "http://10.0.0.5:8545"
		target, err := cfg.Resolve(reg)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if target.WSURL != "" {
			t.Errorf("WSURL = %q, want derived (empty)", target.WSURL)
		}
	})

	t.Run("testnet needs endpoint", func(t *testing.T) {
		cfg := Default()
		cfg.Network = types.NetworkTestnet
		_, err := cfg.Resolve(reg)
		var ce *bencherr.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "rpc-url" {
			t.Errorf("Resolve() error = %v, want rpc-url ConfigurationError", err)
		}
	})

	t.Run("proxied needs proxy", func(t *testing.T) {
		cfg := Default()
		cfg.Kind = types.TxKindProxied
		_, err := cfg.Resolve(reg)
		var ce *bencherr.ConfigurationError
		if !errors.As(err, &ce) || ce.Field != "proxy" {
			t.Errorf("Resolve() error = %v, want proxy ConfigurationError", err)
		}

		cfg.Proxy = proxy
		target, err := cfg.Resolve(reg)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if target.Proxy != common.HexToAddress(proxy) {
			t.Errorf("Proxy = %s", target.Proxy)
		}
	})

	t.Run("depth override", func(t *testing.T) {
		cfg := Default()
		cfg.Network = types.NetworkTestnet
		cfg.RPCURL = "http://testnet:8545"
		target, _ := cfg.Resolve(reg)
		if target.ConfirmationDepth != 2 {
			t.Errorf("preset depth = %d, want 2", target.ConfirmationDepth)
		}
		cfg.ConfirmationDepth = 0
		target, _ = cfg.Resolve(reg)
		if target.ConfirmationDepth != 0 {
			t.Errorf("overridden depth = %d, want 0", target.ConfirmationDepth)
		}
	})
}

func TestRunConfig(t *testing.T) {
	cfg := Default()
	cfg.Interval = 250 * time.Millisecond
	rc := cfg.RunConfig(network.Local())
	if rc.IntervalMs != 250 || rc.RPCURL != "http://localhost:8545" || rc.TargetTPS != DefaultTargetTPS {
		t.Errorf("RunConfig() = %+v", rc)
	}
}
