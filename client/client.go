// Package client is a typed consumer of the request, equipment and auth
// services. Mutations are never retried and never applied locally; callers
// refetch the server's state afterwards.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"urclec/internal/platform/httpx"
)

const defaultTimeout = 15 * time.Second

// Endpoints lets each service live behind its own base URL. Empty entries
// fall back to Config.BaseURL.
type Endpoints struct {
	Auth      string
	Requests  string
	Equipment string
}

type Config struct {
	BaseURL    string
	Endpoints  Endpoints
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	endpoints Endpoints
	token     string
	user      *User
	http      *http.Client
	newID     func() string
}

type Page[T any] httpx.Page[T]

func New(cfg Config) (*Client, error) {
	pick := func(value string) (string, error) {
		if value == "" {
			value = cfg.BaseURL
		}
		value = strings.TrimRight(strings.TrimSpace(value), "/")
		if value == "" {
			return "", errors.New("client: base URL is required")
		}
		if _, err := url.Parse(value); err != nil {
			return "", fmt.Errorf("client: base URL: %w", err)
		}
		return value, nil
	}
	var (
		endpoints Endpoints
		err       error
	)
	if endpoints.Auth, err = pick(cfg.Endpoints.Auth); err != nil {
		return nil, err
	}
	if endpoints.Requests, err = pick(cfg.Endpoints.Requests); err != nil {
		return nil, err
	}
	if endpoints.Equipment, err = pick(cfg.Endpoints.Equipment); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{endpoints: endpoints, token: cfg.Token, http: httpClient, newID: newRequestID}, nil
}

// SetToken replaces the bearer token sent with every call. The cached
// user is dropped until the next Login or Me.
func (c *Client) SetToken(token string) {
	c.token = token
	c.user = nil
}

func (c *Client) do(ctx context.Context, method, base, path string, query url.Values, body, out interface{}) error {
	op := method + " " + path
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	var envelope httpx.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		envelope.Error.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		envelope.Error.Message = strings.TrimSpace(string(raw))
		if envelope.Error.Message == "" {
			envelope.Error.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiError(op, resp.StatusCode, envelope.Error.Code, envelope.Error.Message, envelope.RequestID)
}
