package throughput

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neilotoole/slogt"

	"github.com/gateway-fm/tpsbench/internal/rpc"
	"github.com/gateway-fm/tpsbench/internal/txbuilder"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

var (
	recipient = common.HexToAddress("0x1234567890123456789012345678901234567890")
	proxy     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func blockHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n + 1))
}

// syntheticChain is a linear chain with one block per second.
type syntheticChain struct {
	blocks  map[common.Hash]*rpc.Block
	head    *rpc.Block
	missing map[common.Hash]error
	fetches int
}

func transfers(n int) []rpc.Transaction {
	txs := make([]rpc.Transaction, n)
	for i := range txs {
		txs[i] = rpc.Transaction{To: &recipient}
	}
	return txs
}

// newChain builds blocks 0..len(counts)-1 stamped genesis+i seconds, block i
// holding counts[i] matching transfers plus one unrelated call.
func newChain(genesis time.Time, counts []int) *syntheticChain {
	c := &syntheticChain{blocks: make(map[common.Hash]*rpc.Block), missing: make(map[common.Hash]error)}
	for i, n := range counts {
		num := uint64(i)
		txs := append(transfers(n), rpc.Transaction{To: &other, Input: []byte{1, 2, 3, 4}})
		b := &rpc.Block{
			Number:       num,
			Hash:         blockHash(num),
			Timestamp:    genesis.Add(time.Duration(i) * time.Second),
			Transactions: txs,
		}
		if num > 0 {
			b.ParentHash = blockHash(num - 1)
		}
		c.blocks[b.Hash] = b
		c.head = b
	}
	return c
}

func (c *syntheticChain) GetLatestBlock(ctx context.Context) (*rpc.Block, error) {
	c.fetches++
	return c.head, nil
}

func (c *syntheticChain) GetBlockByHash(ctx context.Context, hash common.Hash) (*rpc.Block, error) {
	c.fetches++
	if err, ok := c.missing[hash]; ok {
		return nil, err
	}
	b, ok := c.blocks[hash]
	if !ok {
		return nil, rpc.ErrBlockNotFound
	}
	return b, nil
}

func TestMeasureExactSum(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	// Blocks 0..9; the run spans blocks 3..6 (timestamps genesis+3s .. genesis+6s).
	counts := []int{7, 7, 7, 10, 20, 30, 40, 7, 7, 7}
	chain := newChain(genesis, counts)

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	start := genesis.Add(3 * time.Second)
	end := genesis.Add(6 * time.Second)

	res, err := r.Measure(context.Background(), start, end, ByKind(types.TxKindTransfer, recipient))
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if res.TotalMatching != 100 {
		t.Errorf("TotalMatching = %d, want 100", res.TotalMatching)
	}
	if res.BlocksScanned != 4 {
		t.Errorf("BlocksScanned = %d, want 4", res.BlocksScanned)
	}
	if !res.Complete {
		t.Errorf("expected complete scan, note %q", res.Note)
	}
	// 100 * 1000 / 3000ms
	if math.Abs(res.TPS-33.333) > 0.01 {
		t.Errorf("TPS = %f, want ~33.33", res.TPS)
	}
	// The scan stops at the first block older than start.
	if res.OldestBlock != 3 {
		t.Errorf("OldestBlock = %d, want 3", res.OldestBlock)
	}
}

func TestMeasureAllTransactions(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{1, 2, 3})

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis, genesis.Add(2*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}
	// 6 transfers plus 3 unrelated calls.
	if res.TotalMatching != 9 || res.BlocksScanned != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestMeasurePrunedHistory(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{5, 5, 5, 5, 5, 5})
	chain.missing[blockHash(2)] = &rpc.RPCError{Code: -32000, Message: "history has been pruned"}

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis, genesis.Add(5*time.Second), ByKind(types.TxKindTransfer, recipient))
	if err != nil {
		t.Fatalf("pruned history must not fail the measurement: %v", err)
	}
	if res.Complete {
		t.Error("expected incomplete result")
	}
	if res.BlocksScanned != 3 || res.TotalMatching != 15 {
		t.Errorf("result = %+v, want blocks 5..3 counted", res)
	}
	if !strings.Contains(res.Note, "scan incomplete") {
		t.Errorf("Note = %q", res.Note)
	}
}

func TestMeasureMissingBlock(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{5, 5, 5})
	delete(chain.blocks, blockHash(0))

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis, genesis.Add(2*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete || res.BlocksScanned != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestMeasureTransportError(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{5, 5, 5})
	chain.missing[blockHash(1)] = errors.New("connection refused")

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis, genesis.Add(2*time.Second), nil)
	if err == nil {
		t.Fatal("expected error for a non-history failure")
	}
	if res.Complete || res.BlocksScanned != 1 {
		t.Errorf("partial result = %+v", res)
	}
}

func TestMeasureMaxBlocks(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, make([]int, 50))

	r := NewReporter(Config{Client: chain, MaxBlocks: 10, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis, genesis.Add(49*time.Second), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete || res.BlocksScanned != 10 {
		t.Errorf("result = %+v, want 10 blocks and incomplete", res)
	}
	if chain.fetches > 11 {
		t.Errorf("fetched %d blocks, cap is 10", chain.fetches)
	}
}

func TestMeasureWindowFillsMaxBlocksExactly(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{1, 1, 1, 1, 1, 2, 2, 2, 2, 2})

	// Blocks 5..9 are the window; block 4 only ends the walk.
	r := NewReporter(Config{Client: chain, MaxBlocks: 5, Logger: slogt.New(t)})
	res, err := r.Measure(context.Background(), genesis.Add(5*time.Second), genesis.Add(9*time.Second), ByKind(types.TxKindTransfer, recipient))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete || res.Note != "" {
		t.Errorf("result = %+v, want a complete scan", res)
	}
	if res.BlocksScanned != 5 || res.TotalMatching != 10 {
		t.Errorf("scanned %d blocks with %d transactions, want 5 and 10", res.BlocksScanned, res.TotalMatching)
	}
}

func TestMeasureSubSecondStart(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	chain := newChain(genesis, []int{0, 4, 4})

	r := NewReporter(Config{Client: chain, Logger: slogt.New(t)})
	// A run starting mid-second still counts the block stamped at that second.
	start := genesis.Add(1*time.Second + 400*time.Millisecond)
	res, err := r.Measure(context.Background(), start, genesis.Add(2*time.Second+900*time.Millisecond), ByKind(types.TxKindTransfer, recipient))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatching != 8 {
		t.Errorf("TotalMatching = %d, want 8", res.TotalMatching)
	}
}

func TestTPS(t *testing.T) {
	start := time.Unix(100, 0)
	tests := []struct {
		total int
		dur   time.Duration
		want  float64
	}{
		{1000, 10 * time.Second, 100},
		{1500, 2500 * time.Millisecond, 600},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := TPS(tt.total, start, start.Add(tt.dur)); got != tt.want {
			t.Errorf("TPS(%d, %v) = %v, want %v", tt.total, tt.dur, got, tt.want)
		}
	}
}

func TestByKind(t *testing.T) {
	selector := txbuilder.ProxiedSelector()
	call := append(append([]byte{}, selector...), 0x00, 0x01)

	tests := []struct {
		name   string
		filter Filter
		tx     rpc.Transaction
		want   bool
	}{
		{"transfer match", ByKind(types.TxKindTransfer, recipient), rpc.Transaction{To: &recipient}, true},
		{"transfer with data", ByKind(types.TxKindTransfer, recipient), rpc.Transaction{To: &recipient, Input: []byte{1}}, false},
		{"transfer wrong target", ByKind(types.TxKindTransfer, recipient), rpc.Transaction{To: &other}, false},
		{"contract creation", ByKind(types.TxKindTransfer, recipient), rpc.Transaction{}, false},
		{"proxied match", ByKind(types.TxKindProxied, proxy), rpc.Transaction{To: &proxy, Input: call}, true},
		{"proxied wrong selector", ByKind(types.TxKindProxied, proxy), rpc.Transaction{To: &proxy, Input: []byte{9, 9, 9, 9}}, false},
		{"proxied short input", ByKind(types.TxKindProxied, proxy), rpc.Transaction{To: &proxy, Input: selector[:2]}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(tt.tx); got != tt.want {
				t.Errorf("filter() = %v, want %v", got, tt.want)
			}
		})
	}
}
