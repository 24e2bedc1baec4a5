package harvest

import "time"

// RunState is the coordinator's position in a run.
type RunState string

// Run states, in order.
const (
	RunDiscovering RunState = "discovering"
	RunHarvesting  RunState = "harvesting"
	RunSummarizing RunState = "summarizing"
	RunDone        RunState = "done"
)

// Warning scopes.
const (
	ScopeCatalog  = "catalog"
	ScopeService  = "service"
	ScopeLayer    = "layer"
	ScopeFeature  = "feature"
	ScopeArtifact = "artifact"
)

// Warning is a non-fatal event recorded during a run.
type Warning struct {
	Scope   string `json:"scope"`
	Service string `json:"service,omitempty"`
	LayerID *int   `json:"layer_id,omitempty"`
	Reason  string `json:"reason"`
}

// LayerWarning builds a layer-scoped warning.
func LayerWarning(svc ServiceDescriptor, layerID int, reason string) Warning {
	id := layerID
	return Warning{Scope: ScopeLayer, Service: svc.Key(), LayerID: &id, Reason: reason}
}

// Counts aggregates unit outcomes for one category.
type Counts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Warnings  int `json:"warnings"`
}

// UnitFailure names one failed unit.
type UnitFailure struct {
	Category Category `json:"category"`
	Service  string   `json:"service"`
	LayerID  *int     `json:"layer_id,omitempty"`
	Kind     string   `json:"kind"`
	Reason   string   `json:"reason"`
}

// ArtifactFailure names a non-unit artifact (metadata, image) that could not be produced.
type ArtifactFailure struct {
	Service  string `json:"service"`
	Artifact string `json:"artifact"`
	Reason   string `json:"reason"`
}

// RunReport summarizes one completed run.
type RunReport struct {
	RunID             string              `json:"run_id"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
	State             RunState            `json:"state"`
	ServicesFound     int                 `json:"services_found"`
	ServicesCancelled int                 `json:"services_cancelled"`
	TotalUnits        int                 `json:"total_units"`
	Succeeded         int                 `json:"succeeded"`
	Failed            int                 `json:"failed"`
	Cancelled         int                 `json:"cancelled"`
	Warnings          int                 `json:"warnings"`
	PerCategory       map[Category]Counts `json:"per_category"`
	Failures          []UnitFailure       `json:"failures"`
	WarningDetails    []Warning           `json:"warning_details"`
	ArtifactFailures  []ArtifactFailure   `json:"artifact_failures"`
}

// UnitRecord is the ledger row written for each terminal unit.
type UnitRecord struct {
	RunID        string
	Service      string
	Kind         ServiceKind
	LayerID      int
	Category     Category
	State        UnitState
	Reason       string
	ArtifactURI  string
	ContentHash  string
	FeatureCount int
	RecordedAt   time.Time
}
