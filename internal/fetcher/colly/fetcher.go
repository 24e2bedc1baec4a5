// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps response bodies in bytes. Zero means unlimited; layer queries
	// routinely exceed colly's 10MB default.
	MaxBodySize int
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type outcome struct {
	response harvest.FetchResponse
	err      error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = newRobotsAwareTransport(transport)
	}
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx statuses surface as
// *harvest.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	done := make(chan outcome, 1)
	go func() {
		var (
			result   harvest.FetchResponse
			fetchErr error
		)
		collector := f.buildCollector(request, time.Now(), &result, &fetchErr)
		visitErr := collector.Visit(request.URL)
		switch {
		case fetchErr != nil:
			done <- outcome{err: fmt.Errorf("colly response failed: %w", fetchErr)}
		case visitErr != nil:
			done <- outcome{err: fmt.Errorf("colly visit failed: %w", visitErr)}
		default:
			done <- outcome{response: result}
		}
	}()

	select {
	case <-ctx.Done():
		return harvest.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		return out.response, out.err
	}
}

func (f *Fetcher) buildCollector(
	request harvest.FetchRequest,
	start time.Time,
	result *harvest.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.AllowURLRevisit = true
	collector.MaxBodySize = f.cfg.MaxBodySize
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request harvest.FetchRequest,
	start time.Time,
	result *harvest.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = harvest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 300 {
			*fetchErr = &harvest.StatusError{Code: r.StatusCode, URL: request.URL}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) copyHeaders(request harvest.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
