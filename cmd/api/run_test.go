package api

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_DrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			time.Sleep(200 * time.Millisecond)
			_, _ = io.WriteString(w, "done")
		}),
		ReadHeaderTimeout: time.Second,
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()

	type result struct {
		body string
		err  error
	}
	resp := make(chan result, 1)
	go func() {
		r, err := http.Get("http://" + l.Addr().String())
		if err != nil {
			resp <- result{err: err}
			return
		}
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		resp <- result{body: string(b), err: err}
	}()

	<-entered
	require.NoError(t, shutdown(srv, 5*time.Second))

	got := <-resp
	require.NoError(t, got.err)
	assert.Equal(t, "done", got.body)
}

func TestShutdown_ZeroTimeoutUsesDefault(t *testing.T) {
	srv := &http.Server{ReadHeaderTimeout: time.Second}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()

	assert.NoError(t, shutdown(srv, 0))
}
