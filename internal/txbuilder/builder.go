// Package txbuilder builds and signs the transaction kinds a run can generate.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/tpsbench/internal/account"
	ptypes "github.com/gateway-fm/tpsbench/pkg/types"
)

// Params holds parameters for building a transaction.
type Params struct {
	ChainID   *big.Int
	Sender    *account.Account
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	UseLegacy bool
}

// Builder builds unsigned transactions of one kind.
type Builder interface {
	// Kind returns the transaction kind identifier.
	Kind() ptypes.TxKind

	// GasLimit returns the gas limit for this kind.
	GasLimit() uint64

	// Build creates an unsigned transaction.
	Build(params Params) (*types.Transaction, error)

	// Target returns the address every transaction of this kind is sent to.
	Target() common.Address
}

// SignedTx is an encoded, signed transaction ready for submission.
type SignedTx struct {
	Raw   []byte
	Hash  common.Hash
	Nonce uint64
	From  common.Address
	Kind  ptypes.TxKind
}

// Sign builds a transaction with b, signs it with the sender's key and encodes it.
func Sign(b Builder, signer types.Signer, params Params) (*SignedTx, error) {
	if params.Sender == nil {
		return nil, fmt.Errorf("build %s: sender is required", b.Kind())
	}

	tx, err := b.Build(params)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	signed, err := types.SignTx(tx, signer, params.Sender.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	data, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &SignedTx{
		Raw:   data,
		Hash:  signed.Hash(),
		Nonce: params.Nonce,
		From:  params.Sender.Address,
		Kind:  b.Kind(),
	}, nil
}

// Registry manages builder lookup by kind.
type Registry struct {
	builders map[ptypes.TxKind]Builder
}

// NewRegistry creates a new builder registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[ptypes.TxKind]Builder),
	}
}

// Register adds a builder to the registry.
func (r *Registry) Register(builder Builder) {
	r.builders[builder.Kind()] = builder
}

// Get returns a builder for the given kind.
func (r *Registry) Get(kind ptypes.TxKind) (Builder, error) {
	builder, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown transaction kind: %s", kind)
	}
	return builder, nil
}

// DefaultConfig configures the standard builders.
type DefaultConfig struct {
	Recipient common.Address // receiver of transfers
	Proxy     common.Address // proxy contract for relayed transfers
	Token     common.Address
	Relayer   common.Address
	Amount    *big.Int
}

// NewDefaultRegistry creates a registry with the transfer builder and, when a
// proxy contract is configured, the proxied transfer builder.
func NewDefaultRegistry(cfg DefaultConfig) *Registry {
	r := NewRegistry()
	r.Register(NewTransferBuilder(cfg.Recipient, cfg.Amount))
	if cfg.Proxy != (common.Address{}) {
		r.Register(NewProxiedTransferBuilder(ProxiedConfig{
			Proxy:     cfg.Proxy,
			Token:     cfg.Token,
			Relayer:   cfg.Relayer,
			Recipient: cfg.Recipient,
			Amount:    cfg.Amount,
		}))
	}
	return r
}
