package sender

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/tpsbench/internal/rpc"
)

var errRejected = errors.New("nonce too low")

// mockClient implements Client for testing.
type mockClient struct {
	delay     time.Duration
	sendCount atomic.Int32
	batchSize atomic.Int32
	reject    []byte // payload to reject
	batchErr  error
}

var _ Client = (*mockClient)(nil)

func (m *mockClient) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	m.sendCount.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.reject != nil && bytes.Equal(txRLP, m.reject) {
		return errRejected
	}
	return nil
}

func (m *mockClient) BatchCall(ctx context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	m.batchSize.Store(int32(len(calls)))
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make([]rpc.BatchResponse, len(calls))
	for i, c := range calls {
		if c.Method != "eth_sendRawTransaction" {
			out[i].Error = errors.New("unexpected method " + c.Method)
			continue
		}
		if m.reject != nil && c.Params[0] == hexutil.Encode(m.reject) {
			out[i].Error = errRejected
			continue
		}
		out[i].Result = []byte(`"0x01"`)
	}
	return out, nil
}

func TestSenderBasic(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 10})

	var wg sync.WaitGroup
	wg.Add(1)
	err := s.Send(context.Background(), []byte("tx"), func(err error) {
		defer wg.Done()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	wg.Wait()

	if got := client.sendCount.Load(); got != 1 {
		t.Errorf("sendCount = %d, want 1", got)
	}
}

func TestSenderRejectCallback(t *testing.T) {
	client := &mockClient{reject: []byte("bad")}
	s := New(Config{Client: client, Concurrency: 10})

	var wg sync.WaitGroup
	var gotErr error
	wg.Add(1)
	_ = s.Send(context.Background(), []byte("bad"), func(err error) {
		gotErr = err
		wg.Done()
	})
	wg.Wait()

	if !errors.Is(gotErr, errRejected) {
		t.Errorf("callback error = %v, want %v", gotErr, errRejected)
	}
}

func TestSenderSendBlocksUntilSlotFree(t *testing.T) {
	s := New(Config{Client: &mockClient{delay: 30 * time.Millisecond}, Concurrency: 1})

	var wg sync.WaitGroup
	wg.Add(2)
	start := time.Now()
	_ = s.Send(context.Background(), []byte("a"), func(error) { wg.Done() })
	_ = s.Send(context.Background(), []byte("b"), func(error) { wg.Done() })
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("second Send returned after %v, expected it to wait for a slot", elapsed)
	}
	wg.Wait()
}

func TestSenderSendCancelled(t *testing.T) {
	s := New(Config{Client: &mockClient{delay: 200 * time.Millisecond}, Concurrency: 1})
	_ = s.Send(context.Background(), []byte("a"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	called := false
	err := s.Send(ctx, []byte("b"), func(error) { called = true })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want deadline exceeded", err)
	}
	if called {
		t.Error("callback must not run when the send was never started")
	}
}

func TestSenderInFlight(t *testing.T) {
	s := New(Config{Client: &mockClient{delay: 50 * time.Millisecond}, Concurrency: 5})

	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d, want 0", got)
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		_ = s.Send(context.Background(), []byte("tx"), func(error) { wg.Done() })
	}

	if got := s.InFlight(); got != 3 {
		t.Errorf("InFlight() = %d, want 3", got)
	}
	wg.Wait()
}

func TestSenderConcurrency(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 100})

	const numSends = 500
	var wg sync.WaitGroup
	wg.Add(numSends)
	for range numSends {
		if err := s.Send(context.Background(), []byte("tx"), func(error) { wg.Done() }); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	wg.Wait()

	if got := client.sendCount.Load(); got != numSends {
		t.Errorf("sendCount = %d, want %d", got, numSends)
	}
}

func TestSendBatch(t *testing.T) {
	client := &mockClient{reject: []byte{0x02}}
	s := New(Config{Client: client})

	errs := s.SendBatch(context.Background(), [][]byte{{0x01}, {0x02}, {0x03}})
	if client.batchSize.Load() != 3 {
		t.Errorf("batch size = %d, want 3", client.batchSize.Load())
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("unexpected errors: %v", errs)
	}
	if !errors.Is(errs[1], errRejected) {
		t.Errorf("errs[1] = %v, want rejection", errs[1])
	}
	if s.InFlight() != 0 {
		t.Error("batch slot not released")
	}
}

func TestSendBatchRequestFailure(t *testing.T) {
	failure := errors.New("connection refused")
	s := New(Config{Client: &mockClient{batchErr: failure}})

	errs := s.SendBatch(context.Background(), [][]byte{{0x01}, {0x02}})
	for i, err := range errs {
		if !errors.Is(err, failure) {
			t.Errorf("errs[%d] = %v, want request failure", i, err)
		}
	}
}

func TestSendBatchEmpty(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client})
	if errs := s.SendBatch(context.Background(), nil); len(errs) != 0 {
		t.Errorf("SendBatch(nil) = %v", errs)
	}
	if client.batchSize.Load() != 0 {
		t.Error("empty batch should not hit the node")
	}
}
