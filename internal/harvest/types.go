// Package harvest defines core types shared across the harvesting subsystems.
package harvest

import (
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// ServiceKind is the protocol variant a catalog service exposes.
type ServiceKind string

// Service kinds the harvester understands. Everything else in a catalog is skipped.
const (
	KindMapServer     ServiceKind = "MapServer"
	KindFeatureServer ServiceKind = "FeatureServer"
)

// ParseServiceKind maps the peer's service type string to a ServiceKind.
func ParseServiceKind(raw string) (ServiceKind, bool) {
	switch raw {
	case string(KindMapServer):
		return KindMapServer, true
	case string(KindFeatureServer):
		return KindFeatureServer, true
	default:
		return "", false
	}
}

// ServiceDescriptor identifies one service in the remote catalog.
type ServiceDescriptor struct {
	Name       string      `json:"name"`
	Kind       ServiceKind `json:"kind"`
	FolderPath []string    `json:"folder_path,omitempty"`
}

// FullName joins the folder path and name the way the peer addresses the service.
func (s ServiceDescriptor) FullName() string {
	if len(s.FolderPath) == 0 {
		return s.Name
	}
	return strings.Join(s.FolderPath, "/") + "/" + s.Name
}

// Key is the identity used for de-duplication: (folder path, name, kind).
func (s ServiceDescriptor) Key() string {
	return s.FullName() + "/" + string(s.Kind)
}

// SafeName is FullName with path separators flattened, suitable for artifact names.
func (s ServiceDescriptor) SafeName() string {
	return strings.ReplaceAll(s.FullName(), "/", "_")
}

// GeometryKind is the declared geometry type of a layer.
type GeometryKind string

// Geometry kinds declared by layers.
const (
	GeometryUnknown  GeometryKind = "unknown"
	GeometryPolygon  GeometryKind = "polygon"
	GeometryPolyline GeometryKind = "polyline"
	GeometryPoint    GeometryKind = "point"
)

// ParseGeometryKind maps the peer's esriGeometry* identifiers.
func ParseGeometryKind(raw string) GeometryKind {
	switch raw {
	case "esriGeometryPolygon":
		return GeometryPolygon
	case "esriGeometryPolyline":
		return GeometryPolyline
	case "esriGeometryPoint":
		return GeometryPoint
	default:
		return GeometryUnknown
	}
}

// LayerDescriptor identifies a layer inside a service.
type LayerDescriptor struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	GeometryKind GeometryKind `json:"geometry_kind"`
}

// RawGeometry is a peer geometry before projection. Exactly one variant should be present.
type RawGeometry struct {
	Rings    [][][2]float64
	HasRings bool
	Paths    [][][2]float64
	HasPaths bool
	Point    *[2]float64
}

// Variants reports how many geometry variants are populated.
func (g RawGeometry) Variants() int {
	n := 0
	if g.HasRings {
		n++
	}
	if g.HasPaths {
		n++
	}
	if g.Point != nil {
		n++
	}
	return n
}

// Feature is a projected feature. Geometry is one of orb.Polygon, orb.MultiLineString or orb.Point.
type Feature struct {
	Attributes map[string]any
	Geometry   orb.Geometry
}

// FeatureCollection holds a layer's features in peer order.
type FeatureCollection struct {
	Features []Feature
}

// UnitState is the lifecycle state of a HarvestUnit.
type UnitState string

// Unit states. Succeeded, Failed and Cancelled are terminal.
const (
	UnitPending   UnitState = "pending"
	UnitFetching  UnitState = "fetching"
	UnitSucceeded UnitState = "succeeded"
	UnitFailed    UnitState = "failed"
	UnitCancelled UnitState = "cancelled"
)

// Terminal reports whether the state can no longer change.
func (s UnitState) Terminal() bool {
	return s == UnitSucceeded || s == UnitFailed || s == UnitCancelled
}

// HarvestUnit is one (service, layer) pair scheduled for harvesting.
type HarvestUnit struct {
	Service  ServiceDescriptor
	Layer    LayerDescriptor
	Category Category
	State    UnitState
	Err      error
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
