package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/tpsbench/pkg/types"
)

// TransferBuilder builds plain value transfers to a fixed recipient.
type TransferBuilder struct {
	recipient common.Address
	amount    *big.Int
}

// NewTransferBuilder creates a transfer builder. A nil amount sends 1 wei.
func NewTransferBuilder(recipient common.Address, amount *big.Int) *TransferBuilder {
	if amount == nil {
		amount = big.NewInt(1)
	}
	return &TransferBuilder{
		recipient: recipient,
		amount:    amount,
	}
}

// Kind returns the transaction kind identifier.
func (b *TransferBuilder) Kind() ptypes.TxKind {
	return ptypes.TxKindTransfer
}

// GasLimit returns the gas limit for a value transfer (21000).
func (b *TransferBuilder) GasLimit() uint64 {
	return 21000
}

// Target returns the transfer recipient.
func (b *TransferBuilder) Target() common.Address {
	return b.recipient
}

// Build creates a value transfer transaction.
func (b *TransferBuilder) Build(params Params) (*types.Transaction, error) {
	if params.ChainID == nil || params.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("ChainID must be non-nil and non-zero")
	}
	return newTx(params, b.recipient, b.amount, b.GasLimit(), nil), nil
}

// newTx creates either a DynamicFeeTx or a LegacyTx depending on params.UseLegacy.
// Legacy transactions pay GasFeeCap as their gas price.
func newTx(params Params, to common.Address, value *big.Int, gasLimit uint64, data []byte) *types.Transaction {
	if params.UseLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    params.Nonce,
			GasPrice: params.GasFeeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   params.ChainID,
		Nonce:     params.Nonce,
		GasTipCap: params.GasTipCap,
		GasFeeCap: params.GasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}
