package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// JSON-RPC error codes the adapters react to.
const (
	codeMethodNotFound = -32601
	codeUserRejected   = 4001 // EIP-1193
)

// RPCError is an error object returned by a JSON-RPC endpoint.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// IsUserRejected reports whether err is a wallet's "user rejected the request".
func IsUserRejected(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeUserRejected
}

func isMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client is a JSON-RPC 2.0 client over HTTP.
type Client struct {
	url    string
	http   *resty.Client
	nextID atomic.Uint64
}

// NewClient creates a client posting to url.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: url,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Call invokes method and decodes its result into result. A JSON null result
// leaves result untouched.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	// Some nodes answer JSON-RPC errors with a non-200 status, so decode first.
	var out rpcResponse
	decodeErr := json.Unmarshal(resp.Body(), &out)
	if decodeErr == nil && out.Error != nil {
		return fmt.Errorf("%s: %w", method, out.Error)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: unexpected http status %d: %s", method, resp.StatusCode(), resp.String())
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decoding response: %w", method, decodeErr)
	}

	if result == nil || len(out.Result) == 0 || string(out.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}
