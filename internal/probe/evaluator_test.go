package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitewatch-cli/internal/config"
	"github.com/sells-group/sitewatch-cli/internal/model"
)

func testEvaluator(policy string) *Evaluator {
	return NewEvaluator(config.ProbeConfig{
		TimeoutSecs:       2,
		MaxRedirects:      3,
		SlowResponseMs:    2000,
		RedirectChainLen:  2,
		LastModifiedYears: 2,
		CopyrightStaleYrs: 2,
		RequestsPerSecond: 1000,
		RequestBurst:      100,
	}, config.RetryConfig{
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
		Multiplier:       2.0,
	}, policy, nil)
}

func TestEvaluate_NotEvaluable(t *testing.T) {
	e := testEvaluator("score")
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "")
	assert.ErrorIs(t, err, ErrNotEvaluable)

	_, err = e.Evaluate(ctx, "   ")
	assert.ErrorIs(t, err, ErrNotEvaluable)

	_, err = e.Evaluate(ctx, "http://")
	assert.ErrorIs(t, err, ErrNotEvaluable)
}

func TestEvaluate_SocialOnlyPolicies(t *testing.T) {
	ctx := context.Background()

	findings, err := testEvaluator("score").Evaluate(ctx, "https://www.facebook.com/acmeplumbing")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.CodeSocialOnly, findings[0].Code)

	_, err = testEvaluator("skip").Evaluate(ctx, "https://www.facebook.com/acmeplumbing")
	assert.ErrorIs(t, err, ErrNotEvaluable)
}

func TestEvaluate_HealthyPageOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(healthyPage()))
	}))
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)

	// Plain-HTTP test server: the only expected signal is the TLS one.
	assert.Equal(t, []string{model.CodeNoHTTPS}, codes(findings))
}

func TestEvaluate_BlockedAndClientErrors(t *testing.T) {
	status := int32(404)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	e := testEvaluator("score")

	findings, err := e.Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, codes(findings), model.CodeHTTPBlocked)

	atomic.StoreInt32(&status, 410)
	findings, err = e.Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, codes(findings), model.CodeClientError)
}

func TestEvaluate_ServerErrorRetriedThenFinding(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL)
	require.NoError(t, err, "a persistent 5xx is a finding, not an error")
	assert.Contains(t, codes(findings), model.CodeServerError)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "5xx responses are retried to exhaustion")
}

func TestEvaluate_ServerErrorRecovers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(healthyPage()))
	}))
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotContains(t, codes(findings), model.CodeServerError)
}

func TestEvaluate_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), url)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, model.CodeUnreachable, findings[0].Code)
}

func TestEvaluate_RedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(healthyPage()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Contains(t, codes(findings), model.CodeRedirectChain)
}

func TestEvaluate_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, codes(findings), model.CodeTooManyRedirects)
}

func TestEvaluate_StaleLastModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", time.Now().AddDate(-5, 0, 0).UTC().Format(http.TimeFormat))
		w.Write([]byte(healthyPage()))
	}))
	defer srv.Close()

	findings, err := testEvaluator("score").Evaluate(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, codes(findings), model.CodeStaleLastModified)
}

func TestEvaluate_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testEvaluator("score").Evaluate(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://acme.example", normalizeURL("acme.example"))
	assert.Equal(t, "http://acme.example", normalizeURL("http://acme.example"))
	assert.Equal(t, "https://acme.example", normalizeURL("https://acme.example"))
}

func TestIsSocialHost(t *testing.T) {
	assert.True(t, isSocialHost("facebook.com"))
	assert.True(t, isSocialHost("www.instagram.com"))
	assert.True(t, isSocialHost("m.facebook.com"))
	assert.False(t, isSocialHost("facebook.example.com"))
	assert.False(t, isSocialHost("acme.example"))
}
