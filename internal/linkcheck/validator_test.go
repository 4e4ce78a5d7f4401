package linkcheck

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
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

type noSleep struct{ calls atomic.Int32 }

func (n *noSleep) Sleep(ctx context.Context, _ time.Duration) error {
	n.calls.Add(1)
	return ctx.Err()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/valid", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h3>사업개요</h3><p>신청기간: 2025-01-01 ~ 2025-02-01</p></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="app"></div></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<p>신청기간 문의처</p>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`<p>문의처</p>`))
	})
	mux.HandleFunc("/ua", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.UserAgent(), "TestBrowser") {
			_, _ = w.Write([]byte(`<p>담당자</p>`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newValidator(timeout time.Duration) (*Validator, *noSleep) {
	sleeper := &noSleep{}
	v := New(Config{UserAgent: "TestBrowser/1.0", Timeout: timeout, Delay: time.Second}, zap.NewNop())
	return v.WithSleeper(sleeper), sleeper
}

func TestValidate(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, sleeper := newValidator(time.Second)
	ctx := context.Background()

	assert.True(t, v.Validate(ctx, srv.URL+"/valid"))
	assert.False(t, v.Validate(ctx, srv.URL+"/empty"), "200 without markers")
	assert.False(t, v.Validate(ctx, srv.URL+"/missing"), "non-200 with markers")
	assert.True(t, v.Validate(ctx, srv.URL+"/ua"), "user agent is sent")
	assert.Equal(t, int32(4), sleeper.calls.Load(), "politeness pause precedes every request")
}

func TestValidateTimeoutAndTransportError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, _ := newValidator(100 * time.Millisecond)

	assert.False(t, v.Validate(context.Background(), srv.URL+"/slow"))
	assert.False(t, v.Validate(context.Background(), "http://127.0.0.1:1/unreachable"))
}

func TestValidateRepeatable(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, _ := newValidator(time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, v.Validate(context.Background(), srv.URL+"/valid"), "call %d", i)
	}
}

func TestSafeLink(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, _ := newValidator(time.Second)
	builder := notice.Builder{
		DetailTemplate: srv.URL + "/detail?id={id}",
		SearchTemplate: srv.URL + "/search?schM=list&schStr={query}",
		Strategy:       notice.StrategyValidated,
	}
	ctx := context.Background()

	assert.Equal(t, srv.URL+"/valid", v.SafeLink(ctx, builder, "창업 지원", srv.URL+"/valid"))

	fallback := v.SafeLink(ctx, builder, "창업 지원", srv.URL+"/empty")
	assert.Equal(t, builder.SearchURL("창업 지원"), fallback)
	assert.Equal(t, fallback, v.SafeLink(ctx, builder, "창업 지원", srv.URL+"/empty"))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, sleeper := newValidator(time.Second)
	ctx := context.Background()

	static := notice.Builder{
		DetailTemplate: srv.URL + "/detail?id={id}",
		SearchTemplate: srv.URL + "/search?q={query}",
		Strategy:       notice.StrategySearch,
	}
	assert.Equal(t, static.SearchURL("t"), v.Resolve(ctx, static, "1", "t"))
	assert.Zero(t, sleeper.calls.Load(), "static strategies do not hit the network")

	validated := static
	validated.Strategy = notice.StrategyValidated
	validated.DetailTemplate = srv.URL + "/{id}"
	assert.Equal(t, srv.URL+"/valid", v.Resolve(ctx, validated, "valid", "t"))
	assert.Equal(t, validated.SearchURL("t"), v.Resolve(ctx, validated, "empty", "t"))
}

func TestValidateCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	v, _ := newValidator(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, v.Validate(ctx, srv.URL+"/valid"))
}
