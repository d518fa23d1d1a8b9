// Package network defines the preset networks a run can target.
// Presets carry endpoints and the well-known accounts of each network so
// configuration only has to name the network.
package network

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Target describes one network a run can be pointed at.
type Target struct {
	// Name is the preset identifier ("local", "testnet").
	Name types.Network

	// RPCURL is the JSON-RPC endpoint transactions are sent to.
	RPCURL string

	// WSURL is the WebSocket endpoint for newHeads. Empty means derive it
	// from RPCURL.
	WSURL string

	// ChainID used for signing. Zero means ask the node.
	ChainID int64

	// Funder endows benchmark accounts. Relayer is the address named in
	// proxied transfer authorizations. Both are names understood by
	// account.Funder.
	Funder  string
	Relayer string

	// Token is the asset moved by proxied transfers. Proxy is the relay
	// contract; proxied runs require it.
	Token common.Address
	Proxy common.Address

	// ConfirmationDepth is how many blocks past inclusion count as final.
	ConfirmationDepth uint64

	// UseLegacy signs legacy transactions for nodes without EIP-1559.
	UseLegacy bool
}

// String returns the preset name.
func (t *Target) String() string {
	if t == nil {
		return "unknown"
	}
	return string(t.Name)
}

// DefaultToken is the token moved by proxied transfers on the preset networks.
var DefaultToken = common.HexToAddress("0xe6a88c4e961395c36396fc5f8bb4427bd0fc22f0")

// Local is a development node on this machine.
func Local() *Target {
	return &Target{
		Name:    types.NetworkLocal,
		RPCURL:  "http://localhost:8545",
		WSURL:   "ws://localhost:8546",
		Funder:  "//Alice",
		Relayer: "//Charlie",
		Token:   DefaultToken,
	}
}

// Testnet is the shared test network. Its endpoints have no default and
// must come from the environment.
func Testnet() *Target {
	return &Target{
		Name:              types.NetworkTestnet,
		Funder:            "//Alice",
		Relayer:           "//Charlie",
		Token:             DefaultToken,
		ConfirmationDepth: 2,
	}
}
