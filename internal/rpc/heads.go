package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// Head is a new chain head announced over a newHeads subscription.
type Head struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  time.Time
}

// HeadSubscriber streams new heads from a node's WebSocket endpoint.
type HeadSubscriber struct {
	url         string
	dialer      *websocket.Dialer
	readTimeout time.Duration
	logger      *slog.Logger
}

// NewHeadSubscriber creates a subscriber for the given ws:// or wss:// URL.
func NewHeadSubscriber(url string, logger *slog.Logger) *HeadSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadSubscriber{
		url:         url,
		dialer:      websocket.DefaultDialer,
		readTimeout: 30 * time.Second,
		logger:      logger,
	}
}

// WebSocketURL converts http://host:port to ws://host:port.
func WebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	return httpURL
}

type subscriptionMessage struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *JSONRPCError   `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number     hexutil.Uint64 `json:"number"`
			Hash       common.Hash    `json:"hash"`
			ParentHash common.Hash    `json:"parentHash"`
			Timestamp  hexutil.Uint64 `json:"timestamp"`
		} `json:"result"`
	} `json:"params"`
}

// Subscribe opens the connection and issues eth_subscribe("newHeads").
// The returned channel is closed when ctx ends or the connection fails.
func (s *HeadSubscriber) Subscribe(ctx context.Context) (<-chan Head, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	subscribe := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
		ID:      1,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe newHeads: %w", err)
	}

	var ack subscriptionMessage
	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscription ack: %w", err)
	}
	if ack.Error != nil {
		conn.Close()
		return nil, &RPCError{Code: ack.Error.Code, Message: ack.Error.Message}
	}

	heads := make(chan Head, 64)
	done := make(chan struct{})

	go closeWhenDone(ctx, conn, done)

	go func() {
		defer close(heads)
		defer close(done)
		defer conn.Close()

		for {
			if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				return
			}
			var msg subscriptionMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("newHeads subscription ended", slog.String("error", err.Error()))
				}
				return
			}
			if msg.Params == nil {
				continue
			}
			head := Head{
				Number:     uint64(msg.Params.Result.Number),
				Hash:       msg.Params.Result.Hash,
				ParentHash: msg.Params.Result.ParentHash,
				Timestamp:  time.Unix(int64(msg.Params.Result.Timestamp), 0),
			}
			select {
			case heads <- head:
			case <-ctx.Done():
				return
			}
		}
	}()

	return heads, nil
}

// closeWhenDone closes c if ctx ends before the reader finishes. It returns
// once either happens.
func closeWhenDone(ctx context.Context, c io.Closer, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		c.Close()
	case <-done:
	}
}
