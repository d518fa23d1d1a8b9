package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// BatchRequest represents a single request in a batch.
type BatchRequest struct {
	Method string
	Params []interface{}
}

// BatchResponse represents a single response in a batch.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
// Results are returned in the same order as the input calls.
// Individual call errors are returned in BatchResponse.Error.
func (c *HTTPClient) BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	reqs := make([]JSONRPCRequest, len(calls))
	for i, call := range calls {
		reqs[i] = JSONRPCRequest{
			JSONRPC: "2.0",
			Method:  call.Method,
			Params:  call.Params,
			ID:      i + 1,
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
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

		results, err := c.doBatchRequest(ctx, body, len(calls))
		if err == nil {
			return results, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("batch RPC got retryable HTTP error, retrying",
				slog.Int("callCount", len(calls)),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		if isRPCError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all batch retries failed: %w", lastErr)
}

func (c *HTTPClient) doBatchRequest(ctx context.Context, body []byte, expectedCount int) ([]BatchResponse, error) {
	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var rpcResps []JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		// Some nodes answer a rejected batch with a single error object.
		var single JSONRPCResponse
		if json.Unmarshal(respBody, &single) == nil && single.Error != nil {
			return nil, &RPCError{Code: single.Error.Code, Message: single.Error.Message}
		}
		return nil, fmt.Errorf("failed to unmarshal batch response: %w", err)
	}

	respMap := make(map[int]*JSONRPCResponse, len(rpcResps))
	for i := range rpcResps {
		respMap[rpcResps[i].ID] = &rpcResps[i]
	}

	results := make([]BatchResponse, expectedCount)
	for i := range expectedCount {
		rpcResp, ok := respMap[i+1]
		if !ok {
			results[i] = BatchResponse{Error: fmt.Errorf("missing response for request %d", i+1)}
			continue
		}
		if rpcResp.Error != nil {
			results[i] = BatchResponse{Error: &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}}
			continue
		}
		results[i] = BatchResponse{Result: rpcResp.Result}
	}

	return results, nil
}
