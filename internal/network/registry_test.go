package network

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name      types.Network
		wantRPC   string
		wantDepth uint64
	}{
		{types.NetworkLocal, "http://localhost:8545", 0},
		{types.NetworkTestnet, "", 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			target := r.Get(tt.name)
			if target == nil {
				t.Fatalf("expected %s to be registered, got nil", tt.name)
			}
			if target.RPCURL != tt.wantRPC {
				t.Errorf("RPCURL = %q, want %q", target.RPCURL, tt.wantRPC)
			}
			if target.ConfirmationDepth != tt.wantDepth {
				t.Errorf("ConfirmationDepth = %d, want %d", target.ConfirmationDepth, tt.wantDepth)
			}
			if target.Funder != "//Alice" || target.Relayer != "//Charlie" {
				t.Errorf("accounts = %s/%s, want //Alice and //Charlie", target.Funder, target.Relayer)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	if target := DefaultRegistry().Get("mainnet"); target != nil {
		t.Errorf("expected nil for unknown network, got %+v", target)
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := DefaultRegistry()

	target := r.Get(types.NetworkLocal)
	target.RPCURL = "http://10.0.0.1:8545"
	target.Proxy = common.HexToAddress("0xaa")

	again := r.Get(types.NetworkLocal)
	if again.RPCURL != "http://localhost:8545" {
		t.Errorf("registry mutated through Get: RPCURL = %q", again.RPCURL)
	}
	if again.Proxy != (common.Address{}) {
		t.Error("registry mutated through Get: Proxy set")
	}
}

func TestRegistryRegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register(&Target{Name: "devnet", RPCURL: "http://devnet:8545", ChainID: 7})
	r.Register(nil)

	target := r.Get("devnet")
	if target == nil {
		t.Fatal("expected devnet to be registered")
	}
	if target.ChainID != 7 {
		t.Errorf("ChainID = %d, want 7", target.ChainID)
	}
}

func TestTargetString(t *testing.T) {
	if got := Local().String(); got != "local" {
		t.Errorf("String() = %q, want local", got)
	}
	var nilTarget *Target
	if got := nilTarget.String(); got != "unknown" {
		t.Errorf("nil.String() = %q, want unknown", got)
	}
}

func TestRegistryNames(t *testing.T) {
	names := DefaultRegistry().Names()
	if len(names) != 2 || names[0] != "local" || names[1] != "testnet" {
		t.Errorf("Names() = %v, want [local testnet]", names)
	}
}
