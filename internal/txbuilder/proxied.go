package txbuilder

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	ptypes "github.com/gateway-fm/tpsbench/pkg/types"
)

// authorizationContext prefixes every signed transfer authorization.
const authorizationContext = "authorization for transfer operation"

const proxyABIJSON = `[{
	"type": "function",
	"name": "signedTransfer",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "relayer", "type": "address"},
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "token", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "nonce", "type": "uint64"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": []
}]`

var proxyABI = mustParseABI(proxyABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid proxy ABI: %v", err))
	}
	return parsed
}

// ProxiedSelector is the 4-byte selector of the proxy's signedTransfer call.
func ProxiedSelector() []byte {
	return proxyABI.Methods["signedTransfer"].ID
}

// ProxiedConfig configures relayed token transfers.
type ProxiedConfig struct {
	Proxy     common.Address
	Token     common.Address
	Relayer   common.Address
	Recipient common.Address
	Amount    *big.Int
}

// ProxiedTransferBuilder builds calls to a proxy contract carrying a token
// transfer the sender authorized off-chain.
type ProxiedTransferBuilder struct {
	cfg ProxiedConfig
}

// NewProxiedTransferBuilder creates a proxied transfer builder.
func NewProxiedTransferBuilder(cfg ProxiedConfig) *ProxiedTransferBuilder {
	if cfg.Amount == nil {
		cfg.Amount = big.NewInt(1000)
	}
	return &ProxiedTransferBuilder{cfg: cfg}
}

// Kind returns the transaction kind identifier.
func (b *ProxiedTransferBuilder) Kind() ptypes.TxKind {
	return ptypes.TxKindProxied
}

// GasLimit returns the gas limit for a relayed transfer.
func (b *ProxiedTransferBuilder) GasLimit() uint64 {
	return 120000
}

// Target returns the proxy contract address.
func (b *ProxiedTransferBuilder) Target() common.Address {
	return b.cfg.Proxy
}

// Build creates the proxy call. The authorization nonce is the sender's
// sequence number, so each authorization is used exactly once.
func (b *ProxiedTransferBuilder) Build(params Params) (*types.Transaction, error) {
	if params.ChainID == nil || params.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("ChainID must be non-nil and non-zero")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("proxied transfer requires a sender")
	}

	from := params.Sender.Address
	digest := AuthorizationDigest(b.cfg.Relayer, from, b.cfg.Recipient, b.cfg.Token, b.cfg.Amount, params.Nonce)

	sig, err := crypto.Sign(accounts.TextHash(digest), params.Sender.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	data, err := proxyABI.Pack("signedTransfer",
		b.cfg.Relayer, from, b.cfg.Recipient, b.cfg.Token, b.cfg.Amount, params.Nonce, sig)
	if err != nil {
		return nil, fmt.Errorf("pack signedTransfer: %w", err)
	}

	return newTx(params, b.cfg.Proxy, big.NewInt(0), b.GasLimit(), data), nil
}

// AuthorizationDigest hashes the fields of a transfer authorization.
func AuthorizationDigest(relayer, from, to, token common.Address, amount *big.Int, nonce uint64) []byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return crypto.Keccak256(
		[]byte(authorizationContext),
		relayer.Bytes(),
		from.Bytes(),
		to.Bytes(),
		token.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		nonceBytes[:],
	)
}
