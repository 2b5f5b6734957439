package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGet_StatusPassthroughAndUA(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("later"))
	}))
	defer srv.Close()

	cl, err := New(Options{UserAgent: "test-agent/1.0", Timeout: 2 * time.Second})
	require.NoError(t, err)
	res, err := cl.Get(context.Background(), srv.URL)
	require.NoError(t, err, "status codes are not transport errors")
	require.Equal(t, http.StatusServiceUnavailable, res.Status)
	require.Equal(t, "later", string(res.Body))
	require.Equal(t, "test-agent/1.0", gotUA)
}

func TestGet_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer srv.Close()

	cl, _ := New(Options{})
	res, err := cl.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "café", string(res.Body))
}

func TestOpen_RetryOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	cl, _ := New(Options{Retry: 1})
	rc, err := cl.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	require.Equal(t, "bytes", string(b))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpen_NoRetryOn404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cl, _ := New(Options{Retry: 3})
	_, err := cl.Open(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, IsStatus(err, http.StatusNotFound), "got %v", err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cl, _ := New(Options{Timeout: 100 * time.Millisecond})
	_, err := cl.Get(context.Background(), srv.URL)
	require.Error(t, err)
}

// slowBody 先发送响应头，再分段缓慢写出正文。
func slowBody(chunks int, pause time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < chunks; i++ {
			_, _ = w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			time.Sleep(pause)
		}
	}
}

func TestOpen_AssetTimeoutIsSeparateFromPageTimeout(t *testing.T) {
	srv := httptest.NewServer(slowBody(4, 100*time.Millisecond))
	defer srv.Close()

	cl, _ := New(Options{Timeout: 150 * time.Millisecond, AssetTimeout: 5 * time.Second})
	rc, err := cl.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err, "body read outlasting the page timeout is still within the asset bound")
	require.NoError(t, rc.Close())
	require.Equal(t, "xxxx", string(b))

	_, err = cl.Get(context.Background(), srv.URL)
	require.Error(t, err, "the same slow body exceeds the page timeout")
}

func TestOpen_AssetTimeoutBoundsBodyRead(t *testing.T) {
	srv := httptest.NewServer(slowBody(10, 100*time.Millisecond))
	defer srv.Close()

	cl, _ := New(Options{Timeout: 5 * time.Second, AssetTimeout: 250 * time.Millisecond})
	rc, err := cl.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer rc.Close()
	_, err = io.ReadAll(rc)
	require.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cl, _ := New(Options{RatePerSec: 10})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := cl.Get(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
