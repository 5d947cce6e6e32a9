// Package api is the portal REST client shared by every shell component.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/models"
)

// ErrUnauthorized is returned for 401 responses after the stored token has
// been cleared.
var ErrUnauthorized = errors.New("api: unauthorized")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	tokens localstore.Store
	logger *zap.Logger
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// New builds a client for baseURL. hc may be nil.
func New(baseURL string, hc *http.Client, tokens localstore.Store, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if hc == nil {
		hc = NewHTTPClient(15 * time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: u, http: hc, tokens: tokens, logger: logger}, nil
}

// Token returns the stored bearer token, if any.
func (c *Client) Token() string {
	if c.tokens == nil {
		return ""
	}
	tok, _ := c.tokens.Get(localstore.KeyAccessToken)
	return tok
}

// Do sends a JSON request. in may be nil; out may be nil to discard the body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.tokens != nil {
			if err := c.tokens.Delete(localstore.KeyAccessToken); err != nil {
				c.logger.Warn("clear token failed", zap.Error(err))
			}
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.Do(ctx, http.MethodPost, "/auth/login", nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("api: login returned no token")
	}
	if c.tokens == nil {
		return nil
	}
	return c.tokens.Set(localstore.KeyAccessToken, resp.Token)
}

// CurrentUser returns the account the stored token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var resp struct {
		User models.User `json:"user"`
	}
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, nil, &resp); err != nil {
		return models.User{}, err
	}
	if resp.User.ID == 0 {
		return models.User{}, errors.New("api: no user in response")
	}
	return resp.User, nil
}

func (c *Client) Notifications(ctx context.Context, limit, offset int) (models.NotificationPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var page models.NotificationPage
	err := c.Do(ctx, http.MethodGet, "/notifications", q, nil, &page)
	return page, err
}

func (c *Client) MarkRead(ctx context.Context, ids []models.NotificationID) error {
	return c.Do(ctx, http.MethodPost, "/notifications/mark-read", nil, map[string]any{"ids": ids}, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, "/notifications/mark-all-read", nil, nil, nil)
}

func (c *Client) PushPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	if err := c.Do(ctx, http.MethodGet, "/push/public-key", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) PushSubscribe(ctx context.Context, sub models.Subscription) error {
	return c.Do(ctx, http.MethodPost, "/push/subscribe", nil, sub, nil)
}

func (c *Client) PushUnsubscribe(ctx context.Context, sub models.Subscription) error {
	return c.Do(ctx, http.MethodPost, "/push/unsubscribe", nil, sub, nil)
}
