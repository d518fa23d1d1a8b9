package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction is the part of a block transaction the benchmark inspects.
type Transaction struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address // nil for contract creation
	Input []byte
	Nonce uint64
	Type  uint64
}

// Block is a block with full transaction data.
type Block struct {
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Timestamp    time.Time
	GasUsed      uint64
	GasLimit     uint64
	Transactions []Transaction
}

type rawTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Nonce hexutil.Uint64  `json:"nonce"`
	Type  hexutil.Uint64  `json:"type"`
}

type rawBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	ParentHash   common.Hash      `json:"parentHash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	GasUsed      hexutil.Uint64   `json:"gasUsed"`
	GasLimit     hexutil.Uint64   `json:"gasLimit"`
	Transactions []rawTransaction `json:"transactions"`
}

// GetBlockByNumber fetches a block by number with full transaction data.
// Returns ErrBlockNotFound when the node has no such block.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, blockNum uint64) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(blockNum), true})
	if err != nil {
		return nil, err
	}
	return parseBlock(result)
}

// GetBlockByHash fetches a block by hash with full transaction data.
// Returns ErrBlockNotFound when the node has no such block.
func (c *HTTPClient) GetBlockByHash(ctx context.Context, hash common.Hash) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByHash", []interface{}{hash.Hex(), true})
	if err != nil {
		return nil, err
	}
	return parseBlock(result)
}

// GetLatestBlock fetches the current head block.
func (c *HTTPClient) GetLatestBlock(ctx context.Context) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{"latest", true})
	if err != nil {
		return nil, err
	}
	return parseBlock(result)
}

func parseBlock(data json.RawMessage) (*Block, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, ErrBlockNotFound
	}

	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	txs := make([]Transaction, len(raw.Transactions))
	for i, rt := range raw.Transactions {
		txs[i] = Transaction{
			Hash:  rt.Hash,
			From:  rt.From,
			To:    rt.To,
			Input: rt.Input,
			Nonce: uint64(rt.Nonce),
			Type:  uint64(rt.Type),
		}
	}

	return &Block{
		Number:       uint64(raw.Number),
		Hash:         raw.Hash,
		ParentHash:   raw.ParentHash,
		Timestamp:    time.Unix(int64(raw.Timestamp), 0),
		GasUsed:      uint64(raw.GasUsed),
		GasLimit:     uint64(raw.GasLimit),
		Transactions: txs,
	}, nil
}
