package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

var _ Provider = (*Client)(nil)

// Client is the HTTP implementation of [Provider].
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option customises a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a telephony client for the provider API at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("telephony: base URL must not be empty")
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (*Call, error) {
	if req.To == "" {
		return nil, errors.New("telephony: place call: destination number must not be empty")
	}
	var call Call
	if err := c.do(ctx, http.MethodPost, "/v1/calls", req, &call); err != nil {
		return nil, fmt.Errorf("telephony: place call to %s: %w", req.To, err)
	}
	if call.ID == "" {
		return nil, errors.New("telephony: place call: provider response has no call id")
	}
	return &call, nil
}

func (c *Client) GetCallDetails(ctx context.Context, id string) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+id, nil, &call); err != nil {
		return nil, fmt.Errorf("telephony: get call %q: %w", id, err)
	}
	return &call, nil
}

func (c *Client) GetRecordingDetails(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	if err := c.do(ctx, http.MethodGet, "/v1/recordings/"+id, nil, &rec); err != nil {
		return nil, fmt.Errorf("telephony: get recording %q: %w", id, err)
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
