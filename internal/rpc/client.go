// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrBlockNotFound is returned when the node answers null for a block query.
var ErrBlockNotFound = errors.New("block not found")

// ErrHistoryPruned is returned when the node reports that the requested
// block or its body is no longer retained.
var ErrHistoryPruned = errors.New("history pruned")

// Client is the interface for JSON-RPC communication.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
	BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error)

	// SendRawTransaction sends a signed transaction.
	SendRawTransaction(ctx context.Context, txRLP []byte) error

	// GetConfirmedNonce fetches the confirmed nonce directly from chain.
	GetConfirmedNonce(ctx context.Context, address string) (uint64, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetBlockByNumber fetches a block with full transaction data.
	GetBlockByNumber(ctx context.Context, blockNum uint64) (*Block, error)

	// GetBlockByHash fetches a block with full transaction data.
	GetBlockByHash(ctx context.Context, hash common.Hash) (*Block, error)

	// GetLatestBlock fetches the current head block.
	GetLatestBlock(ctx context.Context) (*Block, error)

	// ChainID returns the chain ID used for signing.
	ChainID(ctx context.Context) (*big.Int, error)

	// GetGasPrice returns the current gas price from the node.
	GetGasPrice(ctx context.Context) (*big.Int, error)

	// GetBalance returns the balance for an address.
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConns       int
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		MaxConns:       1000,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 1000
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns * 2,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns, // must cover sender concurrency
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// URL returns the endpoint this client talks to.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		// Application-level errors are final.
		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

// post sends body and returns the raw response body after checking the HTTP status.
func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Is maps node messages about discarded history onto ErrHistoryPruned.
func (e *RPCError) Is(target error) bool {
	if target != ErrHistoryPruned {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "pruned") ||
		strings.Contains(msg, "history") ||
		strings.Contains(msg, "missing trie node")
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// SendRawTransaction sends a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	_, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	return err
}

// GetConfirmedNonce fetches the confirmed nonce for an address directly from the chain.
func (c *HTTPClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	result, err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address, "latest"})
	if err != nil {
		return 0, err
	}
	return decodeQuantity(result, "nonce")
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return decodeQuantity(result, "block number")
}

// ChainID returns the chain ID reported by the node.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "chain id")
}

// GetGasPrice returns the current gas price.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "gas price")
}

// GetBalance returns the balance for an address.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "balance")
}

func decodeQuantity(raw json.RawMessage, what string) (uint64, error) {
	var v hexutil.Uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return uint64(v), nil
}

func decodeBig(raw json.RawMessage, what string) (*big.Int, error) {
	var v hexutil.Big
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return v.ToInt(), nil
}
