// Package leagueapi calls the league backend REST API with the bearer token of
// the current browser context.
package leagueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codr1/LeagueConsole/internal/config"
)

const defaultTimeout = 15 * time.Second

// TokenSource supplies the bearer token at request time.
// *credentials.Provider satisfies it.
type TokenSource interface {
	BearerToken(ctx context.Context) string
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) BearerToken(context.Context) string {
	return string(t)
}

// APIError is a non-2xx response. Body is the raw response body.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("league api: %s", e.Status)
	}
	return fmt.Sprintf("league api: %s: %s", e.Status, body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// NewClientFromConfig builds a client for the configured backend.
func NewClientFromConfig(cfg *config.Config, tokens TokenSource) *Client {
	return NewClient(cfg.Backend.BaseURL, tokens, &http.Client{Timeout: cfg.BackendTimeout()})
}

// Pagination is the paging block of list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a list response.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ListOptions are the query parameters shared by list endpoints.
type ListOptions struct {
	Page     int
	PageSize int
	Search   string
}

func (o ListOptions) values() url.Values {
	values := url.Values{}
	if o.Page > 0 {
		values.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	if o.Search != "" {
		values.Set("search", o.Search)
	}
	return values
}

// eventPath builds /events/{eventId}/segments... with escaped segments.
func eventPath(eventID string, segments ...string) string {
	parts := []string{"events", url.PathEscape(eventID)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return "/" + strings.Join(parts, "/")
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.BearerToken(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// send performs the request and returns the body of a 2xx response.
func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	return resp, data, nil
}

// do sends a JSON request and decodes the response into out. Empty bodies
// leave out untouched.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	_, data, err := c.send(req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mutate sends a write and returns the entity the backend echoed, or nil
// when the response body was empty.
func mutate[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var out *T
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func list[T any](ctx context.Context, c *Client, path string, opts ListOptions) (*Page[T], error) {
	var page Page[T]
	if err := c.do(ctx, http.MethodGet, path, opts.values(), nil, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return &page, nil
}

func get[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var out T
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
