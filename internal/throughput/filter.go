package throughput

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/tpsbench/internal/rpc"
	"github.com/gateway-fm/tpsbench/internal/txbuilder"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Filter selects the transactions that count towards throughput.
type Filter func(tx rpc.Transaction) bool

// AllTransactions counts every transaction.
func AllTransactions(rpc.Transaction) bool { return true }

// ByKind matches transactions of the given kind sent to target: plain value
// transfers to the recipient, or signedTransfer calls to the proxy. Other
// traffic of the same shape during the run is counted too.
func ByKind(kind types.TxKind, target common.Address) Filter {
	switch kind {
	case types.TxKindProxied:
		selector := txbuilder.ProxiedSelector()
		return func(tx rpc.Transaction) bool {
			return tx.To != nil && *tx.To == target &&
				len(tx.Input) >= 4 && bytes.Equal(tx.Input[:4], selector)
		}
	default:
		return func(tx rpc.Transaction) bool {
			return tx.To != nil && *tx.To == target && len(tx.Input) == 0
		}
	}
}
