package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "harvester-test", RespectRobots: false, Timeout: time.Second, MaxBodySize: 42})
	collector := f.buildCollector(harvest.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0), &harvest.FetchResponse{}, new(error))
	assert.Equal(t, "harvester-test", collector.UserAgent)
	assert.True(t, collector.IgnoreRobotsTxt)
	assert.True(t, collector.AllowURLRevisit)
	assert.Equal(t, 42, collector.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := harvest.FetchRequest{
		URL:     "https://example.com/arcgis/rest/services?f=json",
		Headers: http.Header{"Accept": {"application/json"}},
	}
	var result harvest.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "application/json", collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"folders":[]}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request:    &colly.Request{URL: mustParseURL(t, req.URL)},
	})
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"folders":[]}`, string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	var statusErr *harvest.StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "harvester-test", r.UserAgent())
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"currentVersion":10.9}`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "harvester-test", Timeout: 2 * time.Second})

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL + "/ok?f=json"})
		require.NoError(t, err, "revisiting the same URL must succeed")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"currentVersion":10.9}`, string(resp.Body))
	}

	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL + "/broken"})
	var statusErr *harvest.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, harvest.FetchRequest{URL: srv.URL + "/slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
		default:
			_, _ = w.Write([]byte(`{"currentVersion":10.91}`))
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "harvester-test", RespectRobots: true, Timeout: time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL + "/private/services?f=json"})
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	resp, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL + "/arcgis/rest/services?f=json"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(harvest.FetchRequest{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
