// Package client talks to a stockledger server over HTTP, the websocket
// change feed and gRPC.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/stockledger/internal/core/domain"
)

const (
	actorHeader          = "X-Actor"
	idempotencyKeyHeader = "Idempotency-Key"
)

// APIError is a non-2xx response. It unwraps to the matching domain error so
// callers can use errors.Is on either side of the wire.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		if strings.Contains(e.Message, domain.ErrDuplicateRequest.Error()) {
			return domain.ErrDuplicateRequest
		}
		return domain.ErrConcurrencyConflict
	default:
		return domain.ErrPersistence
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	actor   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithActor sends actor as X-Actor on every write.
func WithActor(actor string) Option {
	return func(c *Client) { c.actor = actor }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) ListItems(ctx context.Context, q domain.ItemQuery) (domain.ItemPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	if q.Category != "" {
		params.Set("category", string(q.Category))
	}

	var page domain.ItemPage
	err := c.do(ctx, http.MethodGet, "/items?"+params.Encode(), nil, nil, &page)
	return page, err
}

func (c *Client) GetItem(ctx context.Context, id string) (domain.Item, error) {
	var item domain.Item
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, nil, &item)
	return item, err
}

// CreateItem creates an item. A non-empty idempotencyKey makes retries safe.
func (c *Client) CreateItem(ctx context.Context, in domain.NewItem, idempotencyKey string) (domain.Item, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{idempotencyKeyHeader: []string{idempotencyKey}}
	}
	var item domain.Item
	err := c.do(ctx, http.MethodPost, "/items", in, headers, &item)
	return item, err
}

func (c *Client) UpdateStock(ctx context.Context, id string, upd domain.StockUpdate) (domain.Item, error) {
	var item domain.Item
	err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(id), upd, nil, &item)
	return item, err
}

func (c *Client) UpdateDetails(ctx context.Context, id string, d domain.Details) (domain.Item, error) {
	var item domain.Item
	err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(id), d, nil, &item)
	return item, err
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil, nil)
}

// ListMovements returns the movements of one item, or of every item when
// itemID is empty, newest first.
func (c *Client) ListMovements(ctx context.Context, itemID string) ([]domain.Movement, error) {
	path := "/movements"
	if itemID != "" {
		path += "?itemId=" + url.QueryEscape(itemID)
	}
	var movements []domain.Movement
	err := c.do(ctx, http.MethodGet, path, nil, nil, &movements)
	return movements, err
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	var summary domain.Summary
	err := c.do(ctx, http.MethodGet, "/summary", nil, nil, &summary)
	return summary, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(actorHeader, c.actor)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
