// Package rpc calls methods exposed by the device's plugin backend.
//
// Every call is a JSON POST to <base>/plugins/<plugin>/methods/<method>
// answered by an envelope {"success": bool, "result": any}.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/italolelis/crocstore/internal/logctx"
	"golang.org/x/oauth2"
)

const maxErrorBody = 4096

// Gateway invokes a named backend method. args is encoded as the JSON request
// body and the envelope result is decoded into out, which may be nil.
type Gateway interface {
	Call(ctx context.Context, method string, args, out any) error
}

// Envelope is the response shape shared by every backend method.
type Envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL    string
	plugin     string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithToken authenticates every call with a static bearer token.
// Apply it after WithHTTPClient so the token wraps the configured transport.
func WithToken(token string) Option {
	return func(cl *Client) {
		if token == "" {
			return
		}

		base := cl.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}

		wrapped := *cl.httpClient
		wrapped.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		}
		cl.httpClient = &wrapped
	}
}

// NewClient creates a gateway for plugin served at baseURL.
func NewClient(baseURL, plugin string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		plugin:     plugin,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/plugins/%s/methods/%s", c.baseURL, url.PathEscape(c.plugin), url.PathEscape(method))
}

// Call implements Gateway.
func (c *Client) Call(ctx context.Context, method string, args, out any) error {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	if args == nil {
		args = struct{}{}
	}

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal %s arguments: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Message: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &TransportError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &DecodeError{Method: method, Err: err}
	}

	if !env.Success {
		return &BackendError{Method: method, Message: resultMessage(env.Result)}
	}

	logger.DebugContext(ctx, "backend call succeeded", "result_bytes", len(env.Result))

	if out == nil || len(env.Result) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return &DecodeError{Method: method, Err: err}
	}

	return nil
}

// resultMessage renders a failed envelope's result for error messages.
func resultMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Error != "" {
			return obj.Error
		}

		if obj.Message != "" {
			return obj.Message
		}
	}

	return string(raw)
}
