package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

// Summary accumulates unit outcomes from concurrent workers.
type Summary struct {
	mu                sync.Mutex
	perCategory       map[harvest.Category]*harvest.Counts
	succeeded         int
	failed            int
	cancelled         int
	servicesCancelled int
	failures          []harvest.UnitFailure
	warnings          []harvest.Warning
	artifactFailures  []harvest.ArtifactFailure
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{perCategory: make(map[harvest.Category]*harvest.Counts)}
}

func (s *Summary) counts(cat harvest.Category) *harvest.Counts {
	c, ok := s.perCategory[cat]
	if !ok {
		c = &harvest.Counts{}
		s.perCategory[cat] = c
	}
	return c
}

// Warn records warnings. An empty category keeps them out of the per-category counts.
func (s *Summary) Warn(cat harvest.Category, warnings ...harvest.Warning) {
	if len(warnings) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, warnings...)
	if cat != "" {
		s.counts(cat).Warnings += len(warnings)
	}
	for _, w := range warnings {
		metrics.ObserveWarning(w.Scope)
	}
}

// Succeeded records a succeeded unit.
func (s *Summary) Succeeded(cat harvest.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	c := s.counts(cat)
	c.Total++
	c.Succeeded++
	metrics.ObserveUnit(string(cat), string(harvest.UnitSucceeded))
}

// Failed records a failed unit.
func (s *Summary) Failed(cat harvest.Category, failure harvest.UnitFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	c := s.counts(cat)
	c.Total++
	c.Failed++
	s.failures = append(s.failures, failure)
	metrics.ObserveUnit(string(cat), string(harvest.UnitFailed))
}

// Cancelled records a unit that was never dispatched.
func (s *Summary) Cancelled(cat harvest.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	c := s.counts(cat)
	c.Total++
	c.Cancelled++
	metrics.ObserveUnit(string(cat), string(harvest.UnitCancelled))
}

// ServiceCancelled records a service whose metadata was never fetched.
func (s *Summary) ServiceCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servicesCancelled++
}

// ArtifactFailed records a metadata or image artifact that could not be produced.
func (s *Summary) ArtifactFailed(failures ...harvest.ArtifactFailure) {
	if len(failures) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactFailures = append(s.artifactFailures, failures...)
}

// Report renders the accumulated outcomes. Lists are sorted so the report does not
// depend on worker scheduling.
func (s *Summary) Report(runID string, started, finished time.Time, servicesFound int) harvest.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	perCategory := make(map[harvest.Category]harvest.Counts, len(s.perCategory))
	for cat, c := range s.perCategory {
		perCategory[cat] = *c
	}
	failures := append([]harvest.UnitFailure{}, s.failures...)
	sort.SliceStable(failures, func(i, j int) bool {
		if failures[i].Category != failures[j].Category {
			return failures[i].Category < failures[j].Category
		}
		if failures[i].Service != failures[j].Service {
			return failures[i].Service < failures[j].Service
		}
		return layerOrder(failures[i].LayerID) < layerOrder(failures[j].LayerID)
	})
	warnings := append([]harvest.Warning{}, s.warnings...)
	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Service != warnings[j].Service {
			return warnings[i].Service < warnings[j].Service
		}
		return layerOrder(warnings[i].LayerID) < layerOrder(warnings[j].LayerID)
	})
	artifactFailures := append([]harvest.ArtifactFailure{}, s.artifactFailures...)
	sort.SliceStable(artifactFailures, func(i, j int) bool {
		return artifactFailures[i].Artifact < artifactFailures[j].Artifact
	})

	return harvest.RunReport{
		RunID:             runID,
		StartedAt:         started,
		FinishedAt:        finished,
		State:             harvest.RunDone,
		ServicesFound:     servicesFound,
		ServicesCancelled: s.servicesCancelled,
		TotalUnits:        s.succeeded + s.failed + s.cancelled,
		Succeeded:         s.succeeded,
		Failed:            s.failed,
		Cancelled:         s.cancelled,
		Warnings:          len(s.warnings),
		PerCategory:       perCategory,
		Failures:          failures,
		WarningDetails:    warnings,
		ArtifactFailures:  artifactFailures,
	}
}

func layerOrder(id *int) int {
	if id == nil {
		return -1
	}
	return *id
}
