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
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/icholy/digest"
)

type Client interface {
	Register(ctx context.Context, username, password string) error
	Fetch(ctx context.Context, since int64) ([]models.Item, error)
	Upsert(ctx context.Context, items []models.Item) (UpsertResult, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Ping(ctx context.Context) error
	Verify(ctx context.Context) error
}

type UpsertResult struct {
	Added   int
	Updated int
}

type response struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
}

type HTTPClient struct {
	baseURL *url.URL
	// plain serves the unauthenticated endpoints; authed answers digest
	// challenges and keeps the last nonce per host.
	plain  *http.Client
	authed *http.Client
}

func NewHTTPClient(baseURL, username, password string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}

	return &HTTPClient{
		baseURL: u,
		plain:   &http.Client{Timeout: timeout},
		authed: &http.Client{
			Timeout:   timeout,
			Transport: &digest.Transport{Username: username, Password: password},
		},
	}, nil
}

func (c *HTTPClient) Register(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/register", nil, body, false, nil)
	if errors.Is(err, common.ErrVersionConflict) {
		return fmt.Errorf("user %q: %w", username, common.ErrorAlreadyExists)
	}
	return err
}

// Fetch returns the items changed since the given unix time. since <= 0
// asks for everything.
func (c *HTTPClient) Fetch(ctx context.Context, since int64) ([]models.Item, error) {
	var query url.Values
	if since > 0 {
		query = url.Values{"since": []string{strconv.FormatInt(since, 10)}}
	}

	var items []models.Item
	if _, err := c.do(ctx, http.MethodGet, "/status", query, nil, true, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) Upsert(ctx context.Context, items []models.Item) (UpsertResult, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return UpsertResult{}, err
	}
	resp, err := c.do(ctx, http.MethodPut, "/status", nil, body, true, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Added: resp.Added, Updated: resp.Updated}, nil
}

func (c *HTTPClient) Delete(ctx context.Context, ids []string) (int, error) {
	body, err := json.Marshal(ids)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, http.MethodDelete, "/status", nil, body, true, nil)
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil, false, nil)
	return err
}

// Verify checks the credentials against the server without touching items.
func (c *HTTPClient) Verify(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/account/test", nil, nil, true, nil)
	return err
}

// do sends one API call. The digest transport answers the first challenge
// itself; a reply that still carries a stale challenge is retried once so the
// transport picks up the fresh nonce. When out is non-nil a 2xx body is
// decoded into it, otherwise into the returned response.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, auth bool, out any) (*response, error) {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	hc := c.plain
	if auth {
		hc = c.authed
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if res.StatusCode == http.StatusUnauthorized && auth && attempt == 0 && staleChallenge(res.Header) {
			continue
		}

		return decode(res.StatusCode, data, out)
	}
}

func staleChallenge(h http.Header) bool {
	ch, err := digest.FindChallenge(h)
	return err == nil && ch.Stale
}

func decode(status int, data []byte, out any) (*response, error) {
	var resp response
	if status >= 200 && status < 300 {
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			return &resp, nil
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &resp, nil
	}

	msg := http.StatusText(status)
	if json.Unmarshal(data, &resp) == nil && resp.Message != "" {
		msg = resp.Message
	}

	switch status {
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", common.ErrorInvalidSchema, msg)
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", common.ErrVersionConflict, msg)
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return nil, fmt.Errorf("server error %d: %s", status, msg)
	}
}

var _ Client = (*HTTPClient)(nil)
