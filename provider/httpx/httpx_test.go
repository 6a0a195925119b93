package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(opts ...Option) *Client {
	return New(
		time.Second*5,
		append([]Option{WithRetry(3, time.Millisecond, time.Millisecond*2)}, opts...)...,
	)
}

func TestClient_PostJSON(t *testing.T) {
	t.Parallel()

	t.Run("body and headers", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "https://p2p.binance.com", r.Header.Get("Origin"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))

			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "USDT", body["asset"])

			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		c := newTestClient(WithHeaders(map[string]string{
			"Origin": "https://p2p.binance.com",
		}))

		out, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"asset": "USDT"})
		require.NoError(t, err)

		assert.JSONEq(t, `{"ok":true}`, string(out))
	})

	t.Run("retries 5xx and 429", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusServiceUnavailable)
			case 2:
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				_, _ = w.Write([]byte(`{}`))
			}
		}))
		defer srv.Close()

		_, err := newTestClient().PostJSON(context.Background(), srv.URL, struct{}{})
		require.NoError(t, err)

		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient().PostJSON(context.Background(), srv.URL, struct{}{})

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
		assert.Equal(t, int32(4), calls.Load()) // initial call + 3 retries
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newTestClient().PostJSON(context.Background(), srv.URL, struct{}{})

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_Get(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Content-Type"))

		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	out, err := newTestClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "<html></html>", string(out))
}
