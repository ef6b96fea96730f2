// Package zabbix is a JSON-RPC 2.0 client for the Zabbix API.
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/pkg/tlsutil"
	"github.com/rs/zerolog/log"
)

const (
	jsonRPCVersion  = "2.0"
	contentTypeRPC  = "application/json-rpc"
	maxErrorBodyLen = 2048
)

// DefaultBreaker names the breaker of clients that do not set one.
const DefaultBreaker = "zabbix-api"

// ErrEmptyToken is returned when user.login succeeds but yields no token.
var ErrEmptyToken = errors.New("login returned an empty token")

// Client talks to api_jsonrpc.php. It logs in once at construction and
// attaches the token to every subsequent call.
type Client struct {
	endpoint   string
	httpClient *http.Client
	config     ClientConfig
	breaker    *breaker

	mu     sync.RWMutex
	token  string
	nextID atomic.Int64
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL         string // full api_jsonrpc.php URL
	User        string
	Password    string
	VerifySSL   bool
	Fingerprint string
	Timeout     time.Duration
	// Breaker names the circuit breaker guarding this endpoint. Clients that
	// share a name share the breaker.
	Breaker       string
	OnStateChange StateChangeFunc
	Tracer        *logging.Tracer
	HTTPClient    *http.Client // optional, replaces the TLS-configured default
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
	Auth    string      `json:"auth,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
	ID      int64           `json:"id"`
}

// APIError is an error object returned by the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *APIError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("API error %d: %s %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// HTTPError is returned when the endpoint answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the status the endpoint answered with.
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

// NewClient creates a client and logs in with the configured credentials.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("zabbix API URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == "" {
		cfg.Breaker = DefaultBreaker
	}
	if strings.HasPrefix(cfg.URL, "http://") {
		log.Debug().Str("url", cfg.URL).Msg("Using HTTP for Zabbix API connection")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.NewHTTPClient(tlsutil.ClientOptions{
			VerifySSL:   cfg.VerifySSL,
			Fingerprint: cfg.Fingerprint,
			Timeout:     cfg.Timeout,
		})
	}

	client := &Client{
		endpoint:   cfg.URL,
		httpClient: httpClient,
		config:     cfg,
		breaker:    sharedBreaker(cfg.Breaker, cfg.OnStateChange),
	}

	if cfg.User != "" {
		if err := client.Login(ctx); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}
	return client, nil
}

// Login calls user.login and stores the returned token. Newer servers only
// accept "username", older ones only "user", so both are tried in that order.
func (c *Client) Login(ctx context.Context) error {
	attempts := []map[string]string{
		{"username": c.config.User, "password": c.config.Password},
		{"user": c.config.User, "password": c.config.Password},
	}

	var lastErr error
	for _, params := range attempts {
		var token string
		err := c.do(ctx, "user.login", params, "", &token)
		if err == nil {
			if token == "" {
				return ErrEmptyToken
			}
			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
			return nil
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != -32602 {
			// Only an "invalid params" answer means the other field name might work
			return err
		}
	}
	return lastErr
}

// Logout invalidates the API token. Errors are returned but the local token
// is cleared regardless.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	var ok bool
	return c.do(ctx, "user.logout", []string{}, token, &ok)
}

// Token returns the current API token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Call invokes method with params and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	return c.do(ctx, method, params, c.Token(), out)
}

func (c *Client) do(ctx context.Context, method string, params interface{}, token string, out interface{}) error {
	payload := rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
		Auth:    token,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.post(ctx, method, body)
	})
	if err != nil {
		return err
	}

	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeRPC+"; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.config.Tracer.Event().Str("method", method).Err(err).Msg("api call transport error")
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	c.config.Tracer.Event().
		Str("method", method).
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Dur("elapsed", time.Since(start)).
		Msg("api call")

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBodyLen)}
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.config.Tracer.Event().Str("method", method).Str("body", truncate(string(raw), maxErrorBodyLen)).Msg("api call undecodable body")
		return nil, fmt.Errorf("invalid API response for %s: %w", method, err)
	}
	if decoded.Error != nil {
		c.config.Tracer.Event().Str("method", method).Int("code", decoded.Error.Code).Str("data", decoded.Error.Data).Msg("api call error object")
		return nil, decoded.Error
	}
	return decoded.Result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
