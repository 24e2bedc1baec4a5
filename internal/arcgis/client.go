// Package arcgis talks to an ArcGIS REST services directory: catalog documents,
// service metadata, layer queries and map image exports.
package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

// Endpoint labels a request for metrics and logs.
type Endpoint string

// Endpoints the client calls.
const (
	EndpointCatalog  Endpoint = "catalog"
	EndpointMetadata Endpoint = "metadata"
	EndpointQuery    Endpoint = "query"
	EndpointExport   Endpoint = "export"
)

// Limiter gates outbound requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy runs an operation under a retry budget with per-attempt deadlines.
type RetryPolicy interface {
	Do(ctx context.Context, onRetry func(attempt int, err error), op func(ctx context.Context) error) error
}

// ExportOptions controls map image exports.
type ExportOptions struct {
	BBox     string
	BBoxSR   int
	Size     string
	Format   string
	MinBytes int
}

// DefaultExportOptions covers Colombia in Web Mercator at 1920x1080.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		BBox:     "-9098767,-471243,-7320364,1504865",
		BBoxSR:   102100,
		Size:     "1920,1080",
		Format:   "png",
		MinBytes: 1000,
	}
}

// Client issues rate-limited, retried requests against one services root.
type Client struct {
	root    string
	fetcher harvest.Fetcher
	limiter Limiter
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewClient creates a Client. limiter and retry may be nil.
func NewClient(rootURL string, fetcher harvest.Fetcher, limiter Limiter, retry RetryPolicy, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(rootURL))
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("root url must be http or https, got %q", rootURL)
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	u.RawQuery = ""
	return &Client{
		root:    strings.TrimRight(u.String(), "/"),
		fetcher: fetcher,
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}, nil
}

// Root returns the normalized services root URL.
func (c *Client) Root() string {
	return c.root
}

// ServiceURL returns the base URL of a service.
func (c *Client) ServiceURL(svc harvest.ServiceDescriptor) string {
	parts := make([]string, 0, len(svc.FolderPath)+3)
	parts = append(parts, c.root)
	for _, folder := range svc.FolderPath {
		parts = append(parts, url.PathEscape(folder))
	}
	parts = append(parts, url.PathEscape(svc.Name), string(svc.Kind))
	return strings.Join(parts, "/")
}

// Catalog fetches the root catalog when folder is empty, otherwise the folder's catalog.
func (c *Client) Catalog(ctx context.Context, folder string) (CatalogResponse, error) {
	target := c.root
	if folder != "" {
		target += "/" + url.PathEscape(folder)
	}
	var out CatalogResponse
	body, err := c.getJSON(ctx, EndpointCatalog, target+"?f=json")
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode catalog: %w", err)
	}
	return out, nil
}

// ServiceMetadata fetches a service document and returns it parsed and verbatim.
func (c *Client) ServiceMetadata(ctx context.Context, svc harvest.ServiceDescriptor) (ServiceMetadata, []byte, error) {
	var out ServiceMetadata
	body, err := c.getJSON(ctx, EndpointMetadata, c.ServiceURL(svc)+"?f=json")
	if err != nil {
		return out, nil, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, nil, fmt.Errorf("decode service metadata: %w", err)
	}
	return out, body, nil
}

// QueryLayer requests every feature of a layer, capped at pageSize records. Numeric
// attributes decode as json.Number so values survive re-encoding unchanged.
func (c *Client) QueryLayer(ctx context.Context, svc harvest.ServiceDescriptor, layerID, pageSize int) (QueryResponse, error) {
	params := url.Values{}
	params.Set("where", "1=1")
	params.Set("outFields", "*")
	params.Set("returnGeometry", "true")
	params.Set("f", "json")
	if pageSize > 0 {
		params.Set("resultRecordCount", strconv.Itoa(pageSize))
	}
	target := fmt.Sprintf("%s/%d/query?%s", c.ServiceURL(svc), layerID, params.Encode())

	var out QueryResponse
	body, err := c.getJSON(ctx, EndpointQuery, target)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode layer query: %w", err)
	}
	return out, nil
}

// ExportImage renders the service as an image. A JSON body or a body smaller than
// opts.MinBytes counts as a failed export.
func (c *Client) ExportImage(ctx context.Context, svc harvest.ServiceDescriptor, opts ExportOptions) ([]byte, error) {
	params := url.Values{}
	params.Set("bbox", opts.BBox)
	params.Set("bboxSR", strconv.Itoa(opts.BBoxSR))
	params.Set("size", opts.Size)
	params.Set("format", opts.Format)
	params.Set("f", "image")
	target := c.ServiceURL(svc) + "/export?" + params.Encode()

	resp, err := c.get(ctx, EndpointExport, target, false)
	if err != nil {
		return nil, err
	}
	if ct := resp.Headers.Get("Content-Type"); strings.Contains(ct, "json") || looksLikeJSON(resp.Body) {
		if peerErr := decodeEnvelope(resp.Body); peerErr != nil {
			return nil, peerErr
		}
		return nil, fmt.Errorf("export returned %q instead of an image", ct)
	}
	if len(resp.Body) < opts.MinBytes {
		return nil, fmt.Errorf("export body of %d bytes is below the %d byte minimum", len(resp.Body), opts.MinBytes)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint Endpoint, target string) ([]byte, error) {
	resp, err := c.get(ctx, endpoint, target, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get runs one logical request: rate limit, fetch, and for JSON endpoints the error
// envelope check, all under the retry policy except for exports. The peer reports most failures as an
// envelope inside a 200 response, so the envelope is checked before any decoding.
func (c *Client) get(ctx context.Context, endpoint Endpoint, target string, wantJSON bool) (harvest.FetchResponse, error) {
	start := time.Now()
	logger := c.logger.With(zap.String("endpoint", string(endpoint)), zap.String("url", target))

	var resp harvest.FetchResponse
	op := func(attemptCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, target); err != nil {
				return err
			}
		}
		r, err := c.fetcher.Fetch(attemptCtx, harvest.FetchRequest{URL: target, Headers: requestHeaders(wantJSON)})
		if err != nil {
			return err
		}
		if wantJSON {
			if peerErr := decodeEnvelope(r.Body); peerErr != nil {
				return peerErr
			}
		}
		resp = r
		return nil
	}
	onRetry := func(attempt int, err error) {
		metrics.ObserveRetry(string(endpoint))
		logger.Debug("retrying peer request", zap.Int("attempt", attempt), zap.Error(err))
	}

	var err error
	// Map images are requested once per service.
	if c.retry != nil && endpoint != EndpointExport {
		err = c.retry.Do(ctx, onRetry, op)
	} else {
		err = op(ctx)
	}
	outcome := "ok"
	if err != nil {
		outcome = classifyOutcome(err)
		logger.Debug("peer request failed", zap.Error(err))
	}
	metrics.ObservePeerRequest(string(endpoint), outcome, time.Since(start))
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("%s %s: %w", endpoint, target, err)
	}
	return resp, nil
}

func requestHeaders(wantJSON bool) http.Header {
	if wantJSON {
		return http.Header{"Accept": {"application/json"}}
	}
	return http.Header{"Accept": {"image/*"}}
}

func decodeEnvelope(body []byte) *harvest.PeerError {
	if !looksLikeJSON(body) {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Error
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func classifyOutcome(err error) string {
	var peerErr *harvest.PeerError
	var statusErr *harvest.StatusError
	switch {
	case errors.Is(err, harvest.ErrTimeoutExceeded):
		return "timeout"
	case errors.As(err, &peerErr):
		return "peer_error"
	case errors.As(err, &statusErr):
		return "http_" + strconv.Itoa(statusErr.Code)
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
