package projection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

type wireGeometry struct {
	Rings [][][]*float64 `json:"rings"`
	Paths [][][]*float64 `json:"paths"`
	X     *float64       `json:"x"`
	Y     *float64       `json:"y"`
}

// DecodeRaw parses a peer geometry object. A missing or null geometry, a coordinate
// with fewer than two members, or a non-numeric member is malformed. Z and M values
// are dropped.
func DecodeRaw(data json.RawMessage) (harvest.RawGeometry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return harvest.RawGeometry{}, fmt.Errorf("%w: geometry missing", harvest.ErrMalformedGeometry)
	}
	var wire wireGeometry
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return harvest.RawGeometry{}, fmt.Errorf("%w: %w", harvest.ErrMalformedGeometry, err)
	}

	var raw harvest.RawGeometry
	if wire.Rings != nil {
		rings, err := decodeSeqs(wire.Rings)
		if err != nil {
			return harvest.RawGeometry{}, err
		}
		raw.Rings, raw.HasRings = rings, true
	}
	if wire.Paths != nil {
		paths, err := decodeSeqs(wire.Paths)
		if err != nil {
			return harvest.RawGeometry{}, err
		}
		raw.Paths, raw.HasPaths = paths, true
	}
	if wire.X != nil || wire.Y != nil {
		if wire.X == nil || wire.Y == nil {
			return harvest.RawGeometry{}, fmt.Errorf("%w: point needs both x and y", harvest.ErrMalformedGeometry)
		}
		raw.Point = &[2]float64{*wire.X, *wire.Y}
	}
	return raw, nil
}

func decodeSeqs(in [][][]*float64) ([][][2]float64, error) {
	out := make([][][2]float64, 0, len(in))
	for i, seq := range in {
		coords := make([][2]float64, 0, len(seq))
		for j, c := range seq {
			if len(c) < 2 || c[0] == nil || c[1] == nil {
				return nil, fmt.Errorf("%w: coordinate %d of part %d is incomplete", harvest.ErrMalformedGeometry, j, i)
			}
			coords = append(coords, [2]float64{*c[0], *c[1]})
		}
		out = append(out, coords)
	}
	return out, nil
}
