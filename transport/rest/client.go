// Package rest is the HTTP boundary of remote collections.
//
// List accepts both page envelopes found in the API:
//
//	{"data": [...], "meta": {"page": 1, "limit": 10, "total": 42, "totalPages": 5}}
//	{"items": [...], "totalCount": 42, "totalPages": 5, "page": 1, "limit": 10}
//
// and returns them as cache.Page. Single entity endpoints may answer with
// the bare entity or with {"data": entity}.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/logging"
)

const maxErrorBody = 512

// Client performs JSON requests against one API root.
type Client struct {
	base    *url.URL
	http    *http.Client
	headers http.Header
	maxBody int64
	cb      *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout wins over Config.Timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rest config: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest base url: %w", err)
	}

	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		headers: make(http.Header, len(cfg.Headers)),
		maxBody: cfg.MaxBodyBytes,
		log:     logging.Component("rest").With().Str("host", base.Host).Logger(),
	}
	for k, v := range cfg.Headers {
		c.headers.Set(k, v)
	}
	for _, opt := range opts {
		opt(c)
	}

	settings := cfg.Breaker.settings("rest:" + base.Host)
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](settings)
	return c, nil
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.cb.State() }

// Delete removes resource/id.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.path(resource, id), nil, nil)
	return err
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			escaped = append(escaped, url.PathEscape(p))
		}
	}
	return strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	target := u.String()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", method, err)
		}
	}

	data, err := c.cb.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		for k, vs := range c.headers {
			req.Header[k] = vs
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if int64(len(data)) > c.maxBody {
			return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", method, target, ErrBodyTooLarge, c.maxBody)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if len(data) > maxErrorBody {
				data = data[:maxErrorBody]
			}
			return nil, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("url", target).Msg("request failed")
		return nil, breakerError(err)
	}
	return data, nil
}

// List fetches one page of resource. query is sent as is and its page and
// limit fill in what the response leaves out.
func List[T any](ctx context.Context, c *Client, resource string, query map[string]string) (cache.Page[T], error) {
	values := make(url.Values, len(query))
	for k, v := range query {
		values.Set(k, v)
	}

	data, err := c.do(ctx, http.MethodGet, c.path(resource), values, nil)
	if err != nil {
		return cache.Page[T]{}, err
	}
	return decodePage[T](data, query)
}

// Get fetches resource/id.
func Get[T any](ctx context.Context, c *Client, resource, id string) (T, error) {
	data, err := c.do(ctx, http.MethodGet, c.path(resource, id), nil, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeEntity[T](data)
}

// Create posts body to resource and returns the created entity.
func Create[T any](ctx context.Context, c *Client, resource string, body any) (T, error) {
	data, err := c.do(ctx, http.MethodPost, c.path(resource), nil, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeEntity[T](data)
}

// Update patches resource/id with body and returns the updated entity.
func Update[T any](ctx context.Context, c *Client, resource, id string, body any) (T, error) {
	data, err := c.do(ctx, http.MethodPatch, c.path(resource, id), nil, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeEntity[T](data)
}
