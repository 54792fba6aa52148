package robusthttp

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClientRetries(t *testing.T) {
	assert := assert.New(t)

	var calls int32
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewClient(WithRetryWait(time.Millisecond, 2*time.Millisecond), WithUserAgent("skyengage-test"))
	resp, err := client.Get(srv.URL)
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(int32(3), atomic.LoadInt32(&calls))
	assert.Equal("skyengage-test", ua.Load())
}

func TestNewClientNoRetryOnClientError(t *testing.T) {
	assert := assert.New(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(WithRetryWait(time.Millisecond, 2*time.Millisecond))
	resp, err := client.Get(srv.URL)
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Equal(int32(1), atomic.LoadInt32(&calls))
}
