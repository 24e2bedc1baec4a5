package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

const robotsFallbackReasonTLSHandshake = "TLS handshake timeout"

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries transient failures of robots.txt fetches. When the fetch
// keeps timing out it answers with an allow-all document so the real request is not
// blocked by an unreachable robots.txt.
type robotsAwareTransport struct {
	base    http.RoundTripper
	backoff []time.Duration

	mu     sync.Mutex
	reason string
}

func newRobotsAwareTransport(base http.RoundTripper) *robotsAwareTransport {
	return &robotsAwareTransport{base: base, backoff: robotsRetryBackoff}
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		return t.base.RoundTrip(req)
	}
	return t.roundTripWithRetry(req)
}

// fallbackReason is non-empty once a robots.txt fetch fell back to allow-all.
func (t *robotsAwareTransport) fallbackReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func (t *robotsAwareTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(t.backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			t.markFallback(robotsFallbackReasonTLSHandshake)
			return syntheticRobotsAllowAllResponse(req), nil
		}
		metrics.ObserveRetry("robots")
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("robots roundtrip exhausted retries")
}

func (t *robotsAwareTransport) markFallback(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reason = reason
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
