package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"stake-snapshot/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// HTTPClient implements Client using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	requestID  atomic.Uint64
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit caps outgoing requests at rps with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = newLimiter(rps, burst)
	}
}

// newLimiter returns a token bucket, or nil when rps is not positive.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// WithCircuitBreaker opens the circuit after failures consecutive failed
// calls and probes again after cooldown. Calls rejected by an open circuit
// fail fast with gobreaker.ErrOpenState.
func WithCircuitBreaker(failures uint32, cooldown time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.breaker = newBreaker("ledger-rpc", failures, cooldown)
	}
}

// newBreaker returns a breaker that trips after failures consecutive
// failures, or nil when failures is zero.
func newBreaker(name string, failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker {
	if failures == 0 {
		return nil
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
}

// NewHTTPClient creates a new ledger RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.maxDelay < c.retryDelay {
		c.maxDelay = c.retryDelay
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// newRequest builds a request envelope. Nil params encode as [].
func newRequest(id uint64, method string, params []interface{}) rpcRequest {
	if params == nil {
		params = []interface{}{}
	}
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// decodeResult unpacks a response into result.
func decodeResult(resp *rpcResponse, result interface{}) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// call performs a JSON-RPC call through the circuit breaker and records latency.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (interface{}, error) {
			return nil, c.callWithRetries(ctx, method, params, result)
		})
	} else {
		err = c.callWithRetries(ctx, method, params, result)
	}
	observability.RecordRPCCall(method, time.Since(start).Seconds(), err)
	return err
}

// callWithRetries performs a JSON-RPC call, retrying transport failures and
// non-200 statuses with capped exponential backoff. Node errors are final.
func (c *HTTPClient) callWithRetries(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(newRequest(c.requestID.Add(1), method, params))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	backoff := retry.NewExponential(c.retryDelay)
	backoff = retry.WithCappedDuration(c.maxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.maxRetries), backoff)

	var exhausted bool
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		rpcResp, err := c.post(ctx, body)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errNotRetryable) {
				return err
			}
			exhausted = true
			return retry.RetryableError(err)
		}
		exhausted = false
		return decodeResult(rpcResp, result)
	})
	if err != nil && exhausted && ctx.Err() == nil {
		return fmt.Errorf("max retries exceeded: %w", err)
	}
	return err
}

// errNotRetryable marks request failures a retry cannot fix.
var errNotRetryable = errors.New("not retryable")

// post sends one request and decodes the envelope.
func (c *HTTPClient) post(ctx context.Context, body []byte) (*rpcResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", errNotRetryable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (429)")
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &rpcResp, nil
}

// GetLogs retrieves logs matching q via eth_getLogs.
func (c *HTTPClient) GetLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	return getLogs(ctx, c.call, q)
}

// GetStorageAt reads one storage word via eth_getStorageAt.
func (c *HTTPClient) GetStorageAt(ctx context.Context, account common.Address, key common.Hash, block uint64) (common.Hash, error) {
	return getStorageAt(ctx, c.call, account, key, block)
}

// BlockNumber returns the head block number via eth_blockNumber.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	return blockNumber(ctx, c.call)
}

// ChainID returns the chain identifier via eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (uint64, error) {
	return chainID(ctx, c.call)
}
