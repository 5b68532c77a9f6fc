package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributo-labs/defensor/pkg/config"
	"github.com/tributo-labs/defensor/pkg/contracts"
)

func completionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteReturnsText(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"decision\":\"APPROVE\"}"}}]}`))
	})

	p := NewHTTPProvider(srv.URL, "test-key", "gpt-test", nil)
	text, err := p.Complete(context.Background(), "evaluate", 1024, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"APPROVE"}`, text)
}

func TestCompleteClassifies5xxAsTransient(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	p := NewHTTPProvider(srv.URL, "k", "m", nil)
	_, err := p.Complete(context.Background(), "evaluate", 1024, time.Second)
	assert.ErrorIs(t, err, contracts.ErrTransient)
}

func TestCompleteClassifies429AsTransient(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	p := NewHTTPProvider(srv.URL, "k", "m", nil)
	_, err := p.Complete(context.Background(), "evaluate", 1024, time.Second)
	assert.ErrorIs(t, err, contracts.ErrTransient)
}

func TestComplete4xxIsNotTransient(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	p := NewHTTPProvider(srv.URL, "k", "m", nil)
	_, err := p.Complete(context.Background(), "evaluate", 1024, time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, contracts.ErrTransient)
	assert.NotErrorIs(t, err, contracts.ErrTimeout)
}

func TestCompleteHonorsTimeout(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	p := NewHTTPProvider(srv.URL, "k", "m", nil)
	_, err := p.Complete(context.Background(), "evaluate", 1024, 20*time.Millisecond)
	assert.ErrorIs(t, err, contracts.ErrTimeout)
}

func TestCompleteHonorsCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		time.Sleep(500 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := NewHTTPProvider(srv.URL, "k", "m", nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Complete(ctx, "evaluate", 1024, 5*time.Second)
		done <- err
	}()
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, contracts.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not release the call within 1s")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	p := NewHTTPProvider(srv.URL, "k", "m", nil)
	_, err := p.Complete(context.Background(), "evaluate", 1024, time.Second)
	assert.Error(t, err)
}

func TestDefaultConfigComposesSingleCompletionsPath(t *testing.T) {
	t.Setenv("LLM_SERVICE_URL", "")
	cfg := config.Load()

	// The configured default is a bare base URL; the provider owns the
	// completions path, so the two must not stack.
	require.False(t, strings.Contains(cfg.LLMServiceURL, "/v1/chat/completions"))

	var path string
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	p := NewHTTPProvider(srv.URL, cfg.LLMAPIKey, cfg.LLMModel, nil)
	_, err := p.Complete(context.Background(), "evaluate", 16, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", path)
}

func TestLocalLimiterBurst(t *testing.T) {
	l := NewLocalLimiter(60, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "m"))
	require.NoError(t, l.Acquire(ctx, "m"))
	// Bucket drained; the third acquisition cannot complete in time.
	assert.Error(t, l.Acquire(ctx, "m"))
}

func TestLimiterGatesProvider(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	l := NewLocalLimiter(60, 1)
	p := NewHTTPProvider(srv.URL, "k", "m", l)

	_, err := p.Complete(context.Background(), "one", 16, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Complete(ctx, "two", 16, time.Second)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
