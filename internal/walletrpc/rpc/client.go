package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

const Version = "1.0"

var (
	ErrTransport    = errors.New("rpc transport failure")
	ErrUnauthorized = errors.New("rpc unauthorized")
)

// Well known daemon error codes
const (
	CodeInvalidAddress   = -5
	CodeInvalidParameter = -8
	CodeWarmingUp        = -28
	CodeMethodNotFound   = -32601
)

type (
	Request struct {
		JsonRpc string `json:"jsonrpc"`
		Id      uint64 `json:"id"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}
	Response struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		Id     uint64          `json:"id"`
	}
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

func (e *Error) Error() (s string) {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type Client struct {
	config Config
	ids    atomic.Uint64
}

func New(config Config) (c *Client) {
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	return &Client{config: config}
}

func (c *Client) newRequest(ctx context.Context, body []byte) (req *http.Request, err error) {
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.config.Url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.config.CustomHeaders {
		req.Header.Set(key, value)
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	return req, nil
}

// Call invokes method with positional params and decodes the result into result.
// result may be nil when the caller does not care about the returned value
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) (err error) {
	if c.config.Limiter != nil {
		err = c.config.Limiter.Wait(ctx)
		if err != nil {
			return fmt.Errorf("%w: rate limiter: %w", ErrTransport, err)
		}
	}

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(Request{
		JsonRpc: Version,
		Id:      c.ids.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return err
	}

	res, err := c.config.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, method, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, res.Status)
	}

	contents, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	// The daemon answers errors with non 200 codes but still sends a json body
	var response Response
	err = json.Unmarshal(contents, &response)
	if err != nil {
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s: %s", ErrTransport, method, res.Status)
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if response.Error != nil {
		return response.Error
	}

	if result == nil {
		return nil
	}
	err = json.Unmarshal(response.Result, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}
