package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Client defaults. Retries default to zero: the enrichment dispatcher owns
// retry policy, so the client only retries when asked to.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
	DefaultCommitment  = "confirmed"
)

const maxResponseBytes = 8 << 20

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	header     http.Header
	commitment string

	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64

	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times transport errors and 5xx responses are retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithRetryDelay sets the first retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retryDelay = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) { c.client = client }
}

// WithHeader adds a header to every request, e.g. a provider API key.
func WithHeader(key, value string) ClientOption {
	return func(c *HTTPClient) { c.header.Set(key, value) }
}

// WithCommitment sets the commitment level sent with account queries.
func WithCommitment(level string) ClientOption {
	return func(c *HTTPClient) { c.commitment = level }
}

// NewHTTPClient creates a Solana RPC client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		header:      make(http.Header),
		commitment:  DefaultCommitment,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ RPCClient = (*HTTPClient)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// MalformedError wraps a response that could not be decoded.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return "malformed rpc response: " + e.Err.Error() }
func (e *MalformedError) Unwrap() error { return e.Err }

// call runs method and decodes its result into out. Transport errors and 5xx
// responses are retried with capped exponential backoff; 429, other statuses,
// RPC errors and undecodable bodies return at once.
func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = min(time.Duration(float64(delay)*c.backoffMult), c.maxDelay)
		}

		retry, err := c.roundTrip(ctx, body, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s: retries exhausted: %w", method, lastErr)
}

// roundTrip performs one HTTP exchange and reports whether a failure is retryable.
func (c *HTTPClient) roundTrip(ctx context.Context, body []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return resp.StatusCode >= 500, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       snippet,
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return false, &MalformedError{Err: err}
	}
	if rpcResp.Error != nil {
		return false, rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return false, &MalformedError{Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return false, nil
}

func (c *HTTPClient) config(extra map[string]any) map[string]any {
	cfg := map[string]any{}
	if c.commitment != "" {
		cfg["commitment"] = c.commitment
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

type accountInfoResult struct {
	Value *struct {
		Lamports   uint64   `json:"lamports"`
		Owner      string   `json:"owner"`
		Data       []string `json:"data"` // [payload, encoding]
		Executable bool     `json:"executable"`
	} `json:"value"`
}

// GetAccountInfo fetches an account with base64 data. A missing account yields nil, nil.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error) {
	var res accountInfoResult
	params := []any{pubkey, c.config(map[string]any{"encoding": "base64"})}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Lamports:   res.Value.Lamports,
		Owner:      res.Value.Owner,
		Executable: res.Value.Executable,
	}
	if len(res.Value.Data) > 0 {
		info.Data = res.Value.Data[0]
	}
	return info, nil
}

type largestAccountsResult struct {
	Value []struct {
		Address        string   `json:"address"`
		Amount         string   `json:"amount"`
		Decimals       int      `json:"decimals"`
		UIAmount       *float64 `json:"uiAmount"`
		UIAmountString string   `json:"uiAmountString"`
	} `json:"value"`
}

// GetTokenLargestAccounts returns up to 20 largest holder accounts of a mint.
// uiAmount falls back to uiAmountString when a node omits it.
func (c *HTTPClient) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error) {
	var res largestAccountsResult
	if err := c.call(ctx, "getTokenLargestAccounts", []any{mint, c.config(nil)}, &res); err != nil {
		return nil, err
	}

	balances := make([]TokenAccountBalance, 0, len(res.Value))
	for _, v := range res.Value {
		b := TokenAccountBalance{Address: v.Address, Amount: v.Amount, Decimals: v.Decimals}
		switch {
		case v.UIAmount != nil:
			b.UIAmount = *v.UIAmount
		case v.UIAmountString != "":
			b.UIAmount, _ = strconv.ParseFloat(v.UIAmountString, 64)
		}
		balances = append(balances, b)
	}
	return balances, nil
}
