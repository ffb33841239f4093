// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package openlist implements the client for the OpenList file-listing API.
// Every request passes through the QoS governor; the error taxonomy
// (NotFound / Unauthorized / Timeout / ServerError) is what the walker keys
// its per-directory failure isolation on.
package openlist

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

	"github.com/rs/zerolog/log"

	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/qos"
)

// sharedTransport enables connection pooling across clients.
var sharedTransport = func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 90 * time.Second
	t.ForceAttemptHTTP2 = true
	return t
}()

// Sentinel errors for the remote error taxonomy.
var (
	// ErrUnauthorized means the token was rejected; it aborts the whole run.
	ErrUnauthorized = errors.New("openlist: unauthorized")
	// ErrNotFound means the listed path does not exist remotely.
	ErrNotFound = errors.New("openlist: not found")
	// ErrTimeout means the per-call deadline elapsed.
	ErrTimeout = errors.New("openlist: timeout")
)

// APIError is a non-taxonomy OpenList failure (server error, bad payload).
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openlist: API error [%d] %s", e.Code, e.Message)
}

// Entry is one child of a remote directory.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
}

// FileInfo is the fs/get payload for a single path.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
	RawURL   string    `json:"raw_url"`
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Content []Entry `json:"content"`
	Total   int     `json:"total"`
}

const listPageSize = 100

// Client talks to one OpenList server.
type Client struct {
	host       string
	token      string
	httpClient *http.Client
	governor   *qos.Governor
}

// NewClient builds a client from config; governor gates every request.
func NewClient(cfg domain.OpenListConfig, governor *qos.Governor) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		host:  strings.TrimRight(cfg.Host, "/"),
		token: cfg.Token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: sharedTransport,
		},
		governor: governor,
	}
}

// Host returns the configured server URL without a trailing slash.
func (c *Client) Host() string {
	return c.host
}

// ListChildren lists every child of a remote directory, following the API's
// pagination until the reported total is reached. One logical call per
// directory; each page consumes one governor permit.
func (c *Client) ListChildren(ctx context.Context, remotePath string) ([]Entry, error) {
	var entries []Entry
	page := 1
	for {
		data, err := c.listPage(ctx, remotePath, page)
		if err != nil {
			return nil, err
		}
		entries = append(entries, data.Content...)
		if len(data.Content) == 0 || len(entries) >= data.Total {
			break
		}
		page++
	}
	return entries, nil
}

func (c *Client) listPage(ctx context.Context, remotePath string, page int) (*listData, error) {
	body, err := c.post(ctx, "/api/fs/list", map[string]any{
		"path":     remotePath,
		"page":     page,
		"per_page": listPageSize,
		"password": "",
		"refresh":  false,
	})
	if err != nil {
		return nil, err
	}

	var data listData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &APIError{Code: -1, Message: fmt.Sprintf("malformed list payload: %v", err)}
	}
	return &data, nil
}

// Get fetches metadata (including raw_url) for a single remote path.
func (c *Client) Get(ctx context.Context, remotePath string) (*FileInfo, error) {
	body, err := c.post(ctx, "/api/fs/get", map[string]any{
		"path":     remotePath,
		"password": "",
	})
	if err != nil {
		return nil, err
	}

	var info FileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &APIError{Code: -1, Message: fmt.Sprintf("malformed get payload: %v", err)}
	}
	return &info, nil
}

// DirectURL returns the download URL for a remote path: raw_url when the
// server reports one, otherwise the conventional /d endpoint.
func (c *Client) DirectURL(ctx context.Context, remotePath string) (string, error) {
	info, err := c.Get(ctx, remotePath)
	if err != nil {
		return "", err
	}
	if info.RawURL != "" {
		return info.RawURL, nil
	}
	return c.host + "/d" + (&url.URL{Path: remotePath}).EscapedPath(), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (json.RawMessage, error) {
	release, err := c.governor.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", endpoint, err)
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, &APIError{Code: resp.StatusCode, Message: "malformed response body"}
	}
	if api.Code != http.StatusOK {
		if err := classifyStatus(api.Code); err != nil {
			return nil, err
		}
		return nil, &APIError{Code: api.Code, Message: api.Message}
	}

	log.Trace().Str("endpoint", endpoint).Msg("openlist: request ok")
	return api.Data, nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return &APIError{Code: code, Message: http.StatusText(code)}
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("openlist: request failed: %w", err)
}
