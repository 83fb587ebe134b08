// Package probe evaluates a business website and emits independent
// signal findings. Probe failures become findings, never crashes; only
// an absent or unparseable website reference is reported as not
// evaluable.
package probe

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sitewatch-cli/internal/config"
	"github.com/sells-group/sitewatch-cli/internal/model"
	"github.com/sells-group/sitewatch-cli/internal/resilience"
)

// ErrNotEvaluable marks a record whose website reference cannot be
// probed at all (missing, malformed, or social-only under the skip
// policy). The caller decides how such records are scored.
var ErrNotEvaluable = eris.New("probe: website not evaluable")

var errTooManyRedirects = errors.New("stopped after too many redirects")

const maxBodyBytes = 1 << 20 // pages beyond 1MB carry no extra signal

// Hosts that indicate the business has no real website of its own.
var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"yelp.com",
}

// Evaluator performs the network and markup probes for one website.
// Safe for concurrent use; the rate limiter paces all outbound fetches.
type Evaluator struct {
	client           *http.Client
	cfg              config.ProbeConfig
	retry            resilience.RetryConfig
	limiter          *rate.Limiter
	socialOnlyPolicy string
	now              func() time.Time
}

// NewEvaluator builds an Evaluator from probe and retry configuration.
// The retry budget, when non-nil, is shared across every evaluation of
// the run that owns it.
func NewEvaluator(cfg config.ProbeConfig, retryCfg config.RetryConfig, socialOnlyPolicy string, budget *resilience.Budget) *Evaluator {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = 1
	}

	return &Evaluator{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:    retryCfg.MaxAttempts,
			InitialBackoff: time.Duration(retryCfg.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(retryCfg.MaxBackoffMs) * time.Millisecond,
			Multiplier:     retryCfg.Multiplier,
			JitterFraction: retryCfg.JitterFraction,
			Budget:         budget,
		},
		limiter:          rate.NewLimiter(rate.Limit(rps), burst),
		socialOnlyPolicy: socialOnlyPolicy,
		now:              time.Now,
	}
}

// Evaluate probes the website and returns its signal findings. Every
// probe failure is converted into a finding; the only error returned
// is ErrNotEvaluable for references that cannot be probed at all.
func (e *Evaluator) Evaluate(ctx context.Context, website string) ([]model.Finding, error) {
	ref := strings.TrimSpace(website)
	if ref == "" {
		return nil, ErrNotEvaluable
	}

	target := normalizeURL(ref)
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil, eris.Wrapf(ErrNotEvaluable, "malformed reference %q", website)
	}

	if isSocialHost(parsed.Host) {
		if e.socialOnlyPolicy == "skip" {
			return nil, eris.Wrapf(ErrNotEvaluable, "social-only reference %q", website)
		}
		return []model.Finding{{
			Code:   model.CodeSocialOnly,
			Detail: "hosted on " + parsed.Host,
		}}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, fetchErr := e.fetch(ctx, target)
	if fetchErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f := classifyFetchError(fetchErr)
		zap.L().Debug("probe: fetch failed",
			zap.String("url", target),
			zap.String("code", f.Code),
			zap.Error(fetchErr),
		)
		return []model.Finding{f}, nil
	}

	findings := e.responseFindings(res)
	findings = append(findings, e.analyzeMarkup(string(res.body), res.finalURL, e.now())...)

	zap.L().Debug("probe: evaluation complete",
		zap.String("url", target),
		zap.Int("status", res.status),
		zap.Int("findings", len(findings)),
	)
	return findings, nil
}

type fetchResult struct {
	status       int
	finalURL     string
	body         []byte
	latency      time.Duration
	redirectHops int
	lastModified string
	viaTLS       bool
}

func (e *Evaluator) fetch(ctx context.Context, target string) (*fetchResult, error) {
	return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*fetchResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", e.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")

		start := time.Now()
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		latency := time.Since(start)

		hops := 0
		for r := resp.Request; r != nil && r.Response != nil; r = r.Response.Request {
			hops++
		}

		res := &fetchResult{
			status:       resp.StatusCode,
			finalURL:     resp.Request.URL.String(),
			body:         body,
			latency:      latency,
			redirectHops: hops,
			lastModified: resp.Header.Get("Last-Modified"),
			viaTLS:       resp.TLS != nil,
		}

		if readErr != nil {
			// Keep what we got; a truncated body still scores.
			zap.L().Debug("probe: body read truncated", zap.String("url", target), zap.Error(readErr))
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) && resp.StatusCode >= 500 {
			return res, resilience.NewTransientError(
				fmt.Errorf("server returned %d", resp.StatusCode), resp.StatusCode)
		}
		return res, nil
	})
}

// responseFindings derives findings from transport-level observations:
// status class, TLS downgrade, redirect chain, latency, Last-Modified.
func (e *Evaluator) responseFindings(res *fetchResult) []model.Finding {
	var findings []model.Finding

	switch {
	case res.status >= 500:
		findings = append(findings, model.Finding{
			Code:   model.CodeServerError,
			Detail: fmt.Sprintf("http %d", res.status),
		})
	case res.status == http.StatusForbidden || res.status == http.StatusNotFound:
		findings = append(findings, model.Finding{
			Code:   model.CodeHTTPBlocked,
			Detail: fmt.Sprintf("http %d", res.status),
		})
	case res.status >= 400:
		findings = append(findings, model.Finding{
			Code:   model.CodeClientError,
			Detail: fmt.Sprintf("http %d", res.status),
		})
	}

	if !res.viaTLS && !strings.HasPrefix(res.finalURL, "https://") {
		findings = append(findings, model.Finding{Code: model.CodeNoHTTPS})
	}

	if threshold := e.cfg.RedirectChainLen; threshold > 0 && res.redirectHops >= threshold {
		findings = append(findings, model.Finding{
			Code:   model.CodeRedirectChain,
			Detail: fmt.Sprintf("%d redirects", res.redirectHops),
		})
	}

	if slow := time.Duration(e.cfg.SlowResponseMs) * time.Millisecond; slow > 0 && res.latency > slow {
		findings = append(findings, model.Finding{
			Code:   model.CodeSlowResponse,
			Detail: fmt.Sprintf("%dms", res.latency.Milliseconds()),
		})
	}

	if res.lastModified != "" && e.cfg.LastModifiedYears > 0 {
		if t, err := http.ParseTime(res.lastModified); err == nil {
			age := e.now().Sub(t)
			if age > time.Duration(e.cfg.LastModifiedYears)*365*24*time.Hour {
				findings = append(findings, model.Finding{
					Code:   model.CodeStaleLastModified,
					Detail: "last modified " + t.Format("2006-01-02"),
				})
			}
		}
	}

	return findings
}

// classifyFetchError maps a terminal fetch failure onto a finding.
func classifyFetchError(err error) model.Finding {
	var certErr *x509.CertificateInvalidError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError

	msg := strings.ToLower(err.Error())

	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		strings.Contains(msg, "tls:"), strings.Contains(msg, "x509:"), strings.Contains(msg, "certificate"):
		return model.Finding{Code: model.CodeTLSError, Detail: err.Error()}
	case errors.Is(err, errTooManyRedirects), strings.Contains(msg, "too many redirects"):
		return model.Finding{Code: model.CodeTooManyRedirects}
	case isTimeout(err):
		return model.Finding{Code: model.CodeTimeout, Detail: err.Error()}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "network is unreachable"):
		return model.Finding{Code: model.CodeUnreachable, Detail: err.Error()}
	default:
		var te *resilience.TransientError
		if errors.As(err, &te) && te.StatusCode >= 500 {
			return model.Finding{Code: model.CodeServerError, Detail: fmt.Sprintf("http %d", te.StatusCode)}
		}
		return model.Finding{Code: model.CodeFetchFailed, Detail: err.Error()}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isSocialHost(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// normalizeURL ensures the reference has a scheme.
func normalizeURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return "https://" + ref
}
