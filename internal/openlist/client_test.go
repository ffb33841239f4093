// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package openlist

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/domain"
	"github.com/zfonlyone/openlist2strm/internal/qos"
)

func testGovernor() *qos.Governor {
	return qos.New(domain.QoSConfig{
		QPS:            1000,
		MaxConcurrent:  4,
		ThreadingMode:  domain.ThreadingModeMulti,
		ThreadPoolSize: 4,
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(domain.OpenListConfig{
		Host:           srv.URL,
		Token:          "test-token",
		TimeoutSeconds: 5,
	}, testGovernor())
}

func respond(w http.ResponseWriter, code int, message string, data any) {
	payload, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    json.RawMessage(payload),
	})
}

func TestClientListChildrenPaginates(t *testing.T) {
	const total = 250
	var requests atomic.Int32

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/fs/list", r.URL.Path)
		require.Equal(t, "test-token", r.Header.Get("Authorization"))

		var req struct {
			Path    string `json:"path"`
			Page    int    `json:"page"`
			PerPage int    `json:"per_page"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "/media", req.Path)
		requests.Add(1)

		start := (req.Page - 1) * req.PerPage
		var content []Entry
		for i := start; i < start+req.PerPage && i < total; i++ {
			content = append(content, Entry{Name: fmt.Sprintf("file-%03d.mkv", i), Size: int64(i)})
		}
		respond(w, http.StatusOK, "success", listData{Content: content, Total: total})
	}))

	entries, err := client.ListChildren(t.Context(), "/media")
	require.NoError(t, err)
	assert.Len(t, entries, total)
	assert.Equal(t, int32(3), requests.Load(), "250 entries at 100 per page takes 3 requests")
	assert.Equal(t, "file-000.mkv", entries[0].Name)
	assert.Equal(t, "file-249.mkv", entries[total-1].Name)
}

func TestClientListChildrenEmptyDir(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, "success", listData{Content: nil, Total: 0})
	}))

	entries, err := client.ListChildren(t.Context(), "/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClientErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		httpStatus int
		bodyCode   int
		wantErr    error
	}{
		{name: "http_unauthorized", httpStatus: http.StatusUnauthorized, wantErr: ErrUnauthorized},
		{name: "http_forbidden", httpStatus: http.StatusForbidden, wantErr: ErrUnauthorized},
		{name: "http_not_found", httpStatus: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "body_unauthorized", httpStatus: http.StatusOK, bodyCode: http.StatusUnauthorized, wantErr: ErrUnauthorized},
		{name: "body_not_found", httpStatus: http.StatusOK, bodyCode: http.StatusNotFound, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.httpStatus != http.StatusOK {
					w.WriteHeader(tt.httpStatus)
					return
				}
				respond(w, tt.bodyCode, "nope", nil)
			}))

			_, err := client.ListChildren(t.Context(), "/media")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ListChildren(t.Context(), "/media")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Code)
}

func TestClientDirectURL(t *testing.T) {
	t.Run("raw_url_preferred", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/fs/get", r.URL.Path)
			respond(w, http.StatusOK, "success", FileInfo{
				Name:   "a.mkv",
				RawURL: "http://cdn.example.com/a.mkv?sign=xyz",
			})
		}))

		got, err := client.DirectURL(t.Context(), "/media/a.mkv")
		require.NoError(t, err)
		assert.Equal(t, "http://cdn.example.com/a.mkv?sign=xyz", got)
	})

	t.Run("fallback_to_d_path", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusOK, "success", FileInfo{Name: "a b.mkv"})
		}))

		got, err := client.DirectURL(t.Context(), "/media/a b.mkv")
		require.NoError(t, err)
		assert.Equal(t, client.Host()+"/d/media/a%20b.mkv", got)
	})
}
