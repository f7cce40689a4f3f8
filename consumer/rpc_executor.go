package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"signalflow/internal/endpoint"
)

// RPCExecutor submits orders to a relay RPC method over endpoints
// drawn from the pool. One instance per intent kind with the matching
// method name covers the default token and NFT routing.
type RPCExecutor struct {
	name   string
	method string
	pool   *endpoint.Pool
	client *http.Client
}

func NewRPCExecutor(name, method string, pool *endpoint.Pool, timeout time.Duration) *RPCExecutor {
	return &RPCExecutor{
		name:   name,
		method: method,
		pool:   pool,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *RPCExecutor) Name() string { return e.name }

// Execute posts the order to the relay. Transport failures are
// reported to the pool before being returned so the endpoint's
// failure counter stays honest.
func (e *RPCExecutor) Execute(ctx context.Context, order Order) (interface{}, error) {
	url := e.pool.GetRandom()
	if url == "" {
		return nil, fmt.Errorf("no rpc endpoint available")
	}

	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  e.method,
		"params": map[string]interface{}{
			"mint": order.Mint,
			"side": order.Side,
			"mode": order.Mode,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.pool.ReportFailure(url)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		e.pool.ReportFailure(url)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded struct {
		Result interface{} `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
