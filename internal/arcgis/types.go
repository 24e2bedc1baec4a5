package arcgis

import (
	"encoding/json"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// CatalogResponse is the JSON document served at the services root and at each folder.
type CatalogResponse struct {
	CurrentVersion json.Number    `json:"currentVersion"`
	Folders        []string       `json:"folders"`
	Services       []ServiceEntry `json:"services"`
}

// ServiceEntry is one service listed in a catalog document. Name carries the folder
// prefix for services inside folders.
type ServiceEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ServiceMetadata is the subset of a MapServer/FeatureServer document the harvester reads.
type ServiceMetadata struct {
	ServiceDescription string      `json:"serviceDescription"`
	Layers             []LayerInfo `json:"layers"`
}

// LayerInfo describes one layer in service metadata.
type LayerInfo struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	GeometryType  string `json:"geometryType"`
	ParentLayerID int    `json:"parentLayerId"`
	SubLayerIDs   []int  `json:"subLayerIds"`
}

// Group reports whether the layer only groups other layers and holds no features.
func (l LayerInfo) Group() bool {
	return len(l.SubLayerIDs) > 0 || l.Type == "Group Layer"
}

// QueryResponse is a layer query result.
type QueryResponse struct {
	GeometryType          string       `json:"geometryType"`
	Features              []RawFeature `json:"features"`
	ExceededTransferLimit bool         `json:"exceededTransferLimit"`
}

// RawFeature keeps geometry undecoded so each feature can fail on its own.
type RawFeature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry"`
}

type envelope struct {
	Error *harvest.PeerError `json:"error"`
}
