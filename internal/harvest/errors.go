package harvest

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Only ErrCatalogUnavailable aborts a run; the rest are scoped to a
// service, a layer, a feature or an artifact.
var (
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrLayerFetch         = errors.New("layer fetch failed")
	ErrTimeoutExceeded    = errors.New("timeout exceeded")
	ErrMalformedGeometry  = errors.New("malformed geometry")
	ErrProjectionDomain   = errors.New("projection domain error")
	ErrPersist            = errors.New("persist failed")
)

// PeerError is the error envelope the peer returns inside an otherwise valid JSON body.
type PeerError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *PeerError) Error() string {
	msg := fmt.Sprintf("peer error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// StatusError reports a non-2xx HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// Classify returns the taxonomy label for err, or "unknown".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrTimeoutExceeded):
		return "timeout_exceeded"
	case errors.Is(err, ErrLayerFetch):
		return "layer_fetch"
	case errors.Is(err, ErrMalformedGeometry):
		return "malformed_geometry"
	case errors.Is(err, ErrProjectionDomain):
		return "projection_domain"
	case errors.Is(err, ErrPersist):
		return "persist"
	default:
		return "unknown"
	}
}
