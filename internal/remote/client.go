// Package remote is the HTTP client for the stash server. It implements
// the dispatcher's Remote and the list query used for paging.
package remote

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

	"stash/internal/feed"
)

// ErrNetwork wraps failures where no response arrived.
var ErrNetwork = errors.New("network failure")

// ErrNotFound is returned, wrapped in feed.NotFoundError, for 404 responses.
var ErrNotFound = feed.ErrNotFound

// RejectedError is a non-success response.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("rejected: %d %s", e.StatusCode, e.Body)
}

// Page is one response from the list query endpoint. Next is the offset of
// the following page.
type Page struct {
	Items []feed.Item `json:"items"`
	Next  int         `json:"next"`
}

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) Update(ctx context.Context, id string, p feed.Patch) error {
	p.ID = ""
	return c.do(ctx, http.MethodPatch, c.itemURL(id), p, id, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.itemURL(id), nil, id, nil)
}

func (c *Client) Create(ctx context.Context, it feed.Item) error {
	return c.do(ctx, http.MethodPost, c.base.JoinPath("items").String(), it, it.ID, nil)
}

// Query fetches one page of items matching f, newest first.
func (c *Client) Query(ctx context.Context, f feed.Filter, offset, limit int) (Page, error) {
	u := c.base.JoinPath("items")
	q := u.Query()
	q.Set("filter", string(f))
	q.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	var page Page
	if err := c.do(ctx, http.MethodGet, u.String(), nil, "", &page); err != nil {
		return Page{}, err
	}
	if page.Items == nil {
		page.Items = []feed.Item{}
	}
	return page, nil
}

func (c *Client) itemURL(id string) string {
	return c.base.JoinPath("items", id).String()
}

func (c *Client) do(ctx context.Context, method, target string, body any, id string, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrNetwork, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && id != "":
		_, _ = io.Copy(io.Discard, resp.Body)
		return feed.NotFoundError{ID: id}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
