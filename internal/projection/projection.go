// Package projection converts peer geometries from Web Mercator (EPSG:3857) into
// WGS84 longitude/latitude orb geometries.
package projection

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// HalfCircumference is the Web Mercator half-extent in meters.
const HalfCircumference = 20037508.34

// Mode selects whether coordinates are transformed or only validated.
type Mode int

const (
	// ModeProject applies the spherical Mercator inverse.
	ModeProject Mode = iota
	// ModePassThrough keeps coordinates that are already geographic.
	ModePassThrough
)

func (m Mode) String() string {
	if m == ModePassThrough {
		return "pass-through"
	}
	return "project"
}

// Project maps a Web Mercator (x, y) to (lon, lat).
func Project(x, y float64) (orb.Point, error) {
	if !finite(x) || !finite(y) {
		return orb.Point{}, fmt.Errorf("%w: non-finite input (%v, %v)", harvest.ErrProjectionDomain, x, y)
	}
	lon := x / HalfCircumference * 180
	e := math.Exp(y * math.Pi / HalfCircumference)
	if math.IsInf(e, 0) || e == 0 {
		return orb.Point{}, fmt.Errorf("%w: y=%v hits the pole singularity", harvest.ErrProjectionDomain, y)
	}
	lat := math.Atan(e)*360/math.Pi - 90
	return checkRange(lon, lat)
}

// Inverse maps (lon, lat) back to Web Mercator (x, y).
func Inverse(lon, lat float64) (orb.Point, error) {
	if _, err := checkRange(lon, lat); err != nil {
		return orb.Point{}, err
	}
	x := lon * HalfCircumference / 180
	y := math.Log(math.Tan((90+lat)*math.Pi/360)) * HalfCircumference / math.Pi
	return orb.Point{x, y}, nil
}

// checkRange enforces lon in [-180, 180] and lat strictly inside (-90, 90).
func checkRange(lon, lat float64) (orb.Point, error) {
	if !finite(lon) || !finite(lat) {
		return orb.Point{}, fmt.Errorf("%w: non-finite coordinate (%v, %v)", harvest.ErrProjectionDomain, lon, lat)
	}
	if lon < -180 || lon > 180 {
		return orb.Point{}, fmt.Errorf("%w: longitude %v out of range", harvest.ErrProjectionDomain, lon)
	}
	if lat <= -90 || lat >= 90 {
		return orb.Point{}, fmt.Errorf("%w: latitude %v out of range", harvest.ErrProjectionDomain, lat)
	}
	return orb.Point{lon, lat}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ProjectGeometry dispatches on the populated variant: rings become an orb.Polygon,
// paths an orb.MultiLineString, and x/y an orb.Point. When several variants are
// present the one matching kind wins.
func ProjectGeometry(raw harvest.RawGeometry, kind harvest.GeometryKind, mode Mode) (orb.Geometry, error) {
	variant, err := selectVariant(raw, kind)
	if err != nil {
		return nil, err
	}
	transform := Project
	if mode == ModePassThrough {
		transform = checkRange
	}

	switch variant {
	case harvest.GeometryPolygon:
		poly := make(orb.Polygon, 0, len(raw.Rings))
		for _, ring := range raw.Rings {
			out, err := transformSeq(ring, transform)
			if err != nil {
				return nil, err
			}
			poly = append(poly, orb.Ring(out))
		}
		return poly, nil
	case harvest.GeometryPolyline:
		mls := make(orb.MultiLineString, 0, len(raw.Paths))
		for _, path := range raw.Paths {
			out, err := transformSeq(path, transform)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(out))
		}
		return mls, nil
	default:
		return transform(raw.Point[0], raw.Point[1])
	}
}

func selectVariant(raw harvest.RawGeometry, kind harvest.GeometryKind) (harvest.GeometryKind, error) {
	switch raw.Variants() {
	case 0:
		return "", fmt.Errorf("%w: no geometry variant present", harvest.ErrMalformedGeometry)
	case 1:
		switch {
		case raw.HasRings:
			return harvest.GeometryPolygon, nil
		case raw.HasPaths:
			return harvest.GeometryPolyline, nil
		default:
			return harvest.GeometryPoint, nil
		}
	}
	switch {
	case kind == harvest.GeometryPolygon && raw.HasRings,
		kind == harvest.GeometryPolyline && raw.HasPaths,
		kind == harvest.GeometryPoint && raw.Point != nil:
		return kind, nil
	}
	return "", fmt.Errorf("%w: ambiguous geometry for declared kind %s", harvest.ErrMalformedGeometry, kind)
}

func transformSeq(seq [][2]float64, transform func(x, y float64) (orb.Point, error)) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(seq))
	for _, c := range seq {
		p, err := transform(c[0], c[1])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
