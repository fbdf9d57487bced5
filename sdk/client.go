package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Client talks to the amora HTTP API. It is safe for concurrent use; the
// token set by Login is sent with every later call.
type Client struct {
	baseURL string
	hc      *client.Client

	mu    sync.RWMutex
	token string
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHertzClient replaces the default Hertz client
func WithHertzClient(hc *client.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithToken starts the client with an existing token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc != nil {
		return c, nil
	}

	hc, err := client.NewClient(
		client.WithDialTimeout(10*time.Second),
		client.WithClientReadTimeout(30*time.Second),
		client.WithWriteTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("sdk: create http client: %w", err)
	}
	c.hc = hc
	return c, nil
}

// MustNewClient is NewClient that panics on error
func MustNewClient(baseURL string, opts ...ClientOption) *Client {
	c, err := NewClient(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetToken replaces the token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// GetToken returns the current token
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the server address the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.call(ctx, consts.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.call(ctx, consts.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.call(ctx, consts.MethodPut, path, body, result)
}

// call performs one API round trip and unwraps the {code,msg,data} envelope
// into result. A non-zero code comes back as *Error.
func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	req, resp := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sdk: encode %s body: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBody(raw)
	}
	if token := c.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if err := c.hc.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("sdk: %s %s: %w", method, path, err)
	}

	var env Response
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("sdk: %s %s: status=%d: decode envelope: %w", method, path, resp.StatusCode(), err)
	}
	if env.Code != CodeSuccess {
		return &Error{Code: env.Code, Msg: env.Msg}
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("sdk: %s %s: decode data: %w", method, path, err)
	}
	return nil
}
