// Package coordinator drives a harvest run: discovery, the two-stage worker pool and the
// end-of-run report.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/catalog"
	"github.com/JakeFAU/arcgis-harvester/internal/dispatcher"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/harvester"
)

const (
	publishTimeout = 30 * time.Second
	tracerName     = "github.com/JakeFAU/arcgis-harvester/internal/coordinator"
)

// Discoverer lists the services to harvest.
type Discoverer interface {
	Discover(ctx context.Context) (catalog.Discovery, error)
}

// ServiceHarvester prepares services and harvests their layers.
type ServiceHarvester interface {
	Category(svc harvest.ServiceDescriptor) harvest.Category
	Prepare(ctx context.Context, svc harvest.ServiceDescriptor) (harvester.ServicePlan, error)
	HarvestLayer(ctx context.Context, plan harvester.ServicePlan, layer harvest.LayerDescriptor) harvester.LayerResult
}

// Config controls the pool and end-of-run notifications.
type Config struct {
	Concurrency int
	QueueSize   int
	// Topic receives the run report when a publisher is configured.
	Topic string
}

// Deps are the collaborators of a Coordinator. Ledger and Publisher are optional; a nil
// Tracer uses the global provider.
type Deps struct {
	Walker    Discoverer
	Harvester ServiceHarvester
	Ledger    harvest.Ledger
	Publisher harvest.Publisher
	IDs       harvest.IDGenerator
	Clock     harvest.Clock
	Tracer    trace.Tracer
}

// Coordinator runs harvests and remembers the last report.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	state  harvest.RunState
	latest *harvest.RunReport
}

// New constructs a Coordinator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	switch {
	case deps.Walker == nil:
		return nil, errors.New("walker is required")
	case deps.Harvester == nil:
		return nil, errors.New("harvester is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Coordinator{deps: deps, cfg: cfg, logger: logger.Named("coordinator")}, nil
}

// State reports the current run state. It is empty before the first run.
func (c *Coordinator) State() harvest.RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Latest returns the report of the last finished run.
func (c *Coordinator) Latest() (harvest.RunReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return harvest.RunReport{}, false
	}
	return *c.latest, true
}

func (c *Coordinator) setState(state harvest.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Run performs one harvest. Unit failures never abort the run; only an unreachable
// catalog (or cancellation before discovery finishes) returns an error. Canceling ctx
// stops dispatching: units already handed to a worker finish, the rest are reported
// as cancelled.
func (c *Coordinator) Run(ctx context.Context) (harvest.RunReport, error) {
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return harvest.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	started := c.deps.Clock.Now()
	logger := c.logger.With(zap.String("run_id", runID))
	ctx, span := c.deps.Tracer.Start(ctx, "harvest.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	c.setState(harvest.RunDiscovering)
	logger.Info("discovering services")
	disc, err := c.deps.Walker.Discover(ctx)
	if err != nil {
		c.setState(harvest.RunDone)
		logger.Error("discovery failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return harvest.RunReport{RunID: runID, StartedAt: started, FinishedAt: c.deps.Clock.Now(), State: harvest.RunDone}, err
	}
	summary := NewSummary()
	summary.Warn("", disc.Warnings...)
	logger.Info("services discovered", zap.Int("services", len(disc.Services)), zap.Int("warnings", len(disc.Warnings)))

	c.setState(harvest.RunHarvesting)
	plans := c.prepareServices(ctx, runID, disc.Services, summary, logger)
	c.harvestUnits(ctx, runID, plans, summary, logger)

	c.setState(harvest.RunSummarizing)
	report := summary.Report(runID, started, c.deps.Clock.Now(), len(disc.Services))
	c.publish(ctx, report, logger)

	c.mu.Lock()
	c.state = harvest.RunDone
	c.latest = &report
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("services_found", report.ServicesFound),
		attribute.Int("total_units", report.TotalUnits),
		attribute.Int("failed", report.Failed),
		attribute.Int("cancelled", report.Cancelled),
	)

	logger.Info("harvest finished",
		zap.Int("total_units", report.TotalUnits),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("warnings", report.Warnings),
		zap.Int("services_cancelled", report.ServicesCancelled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// prepareServices fetches metadata for every service through the pool and returns the
// successful plans in discovery order.
func (c *Coordinator) prepareServices(
	ctx context.Context,
	runID string,
	services []harvest.ServiceDescriptor,
	summary *Summary,
	logger *zap.Logger,
) []harvester.ServicePlan {
	var mu sync.Mutex
	prepared := make(map[string]harvester.ServicePlan, len(services))

	pool := dispatcher.New(c.dispatchConfig(), func(ctx context.Context, svc harvest.ServiceDescriptor) {
		ctx, span := c.deps.Tracer.Start(ctx, "harvest.prepare", trace.WithAttributes(attribute.String("service", svc.Key())))
		defer span.End()
		defer func() {
			if r := recover(); r != nil {
				err := panicError(r)
				logger.Error("service handler panicked", zap.String("service", svc.Key()), zap.Error(err))
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")
				c.serviceFailed(ctx, runID, svc, c.deps.Harvester.Category(svc), err, summary, logger)
			}
		}()
		plan, err := c.deps.Harvester.Prepare(ctx, svc)
		summary.ArtifactFailed(plan.ArtifactFailures...)
		summary.Warn(plan.Category, plan.Warnings...)
		span.SetAttributes(attribute.String("category", string(plan.Category)), attribute.Int("layers", len(plan.Layers)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, harvest.Classify(err))
			c.serviceFailed(ctx, runID, svc, plan.Category, err, summary, logger)
			return
		}
		mu.Lock()
		prepared[svc.Key()] = plan
		mu.Unlock()
	}, logger)

	for _, svc := range pool.Process(ctx, services) {
		summary.ServiceCancelled()
		logger.Debug("service cancelled before metadata fetch", zap.String("service", svc.Key()))
	}

	plans := make([]harvester.ServicePlan, 0, len(prepared))
	for _, svc := range services {
		if plan, ok := prepared[svc.Key()]; ok {
			plans = append(plans, plan)
		}
	}
	return plans
}

// harvestUnits dispatches one unit per (service, layer).
func (c *Coordinator) harvestUnits(
	ctx context.Context,
	runID string,
	plans []harvester.ServicePlan,
	summary *Summary,
	logger *zap.Logger,
) {
	byService := make(map[string]harvester.ServicePlan, len(plans))
	var units []harvest.HarvestUnit
	for _, plan := range plans {
		byService[plan.Service.Key()] = plan
		for _, layer := range plan.Layers {
			units = append(units, harvest.HarvestUnit{
				Service:  plan.Service,
				Layer:    layer,
				Category: plan.Category,
				State:    harvest.UnitPending,
			})
		}
	}
	logger.Info("harvesting layers", zap.Int("units", len(units)), zap.Int("concurrency", c.cfg.Concurrency))

	pool := dispatcher.New(c.dispatchConfig(), func(ctx context.Context, unit harvest.HarvestUnit) {
		ctx, span := c.deps.Tracer.Start(ctx, "harvest.unit", trace.WithAttributes(
			attribute.String("service", unit.Service.Key()),
			attribute.Int("layer_id", unit.Layer.ID),
			attribute.String("category", string(unit.Category)),
		))
		defer span.End()
		record := harvest.UnitRecord{
			Service:  unit.Service.FullName(),
			Kind:     unit.Service.Kind,
			LayerID:  unit.Layer.ID,
			Category: unit.Category,
		}
		settled := false
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err := panicError(r)
			logger.Error("layer handler panicked",
				zap.String("service", unit.Service.Key()),
				zap.Int("layer_id", unit.Layer.ID),
				zap.String("state", string(unit.State)),
				zap.Error(err),
			)
			// A settled unit is already counted.
			if !settled {
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")
				c.unitFailed(ctx, runID, unit, record, err, summary, logger)
			}
		}()

		unit.State = harvest.UnitFetching
		res := c.deps.Harvester.HarvestLayer(ctx, byService[unit.Service.Key()], unit.Layer)
		summary.Warn(unit.Category, res.Warnings...)

		record.ArtifactURI = res.Artifact.URI
		record.ContentHash = res.Artifact.ContentHash
		record.FeatureCount = len(res.Collection.Features)
		settled = true
		span.SetAttributes(attribute.Int("features", record.FeatureCount), attribute.Int("warnings", len(res.Warnings)))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, harvest.Classify(res.Err))
			c.unitFailed(ctx, runID, unit, record, res.Err, summary, logger)
			return
		}
		unit.State = harvest.UnitSucceeded
		summary.Succeeded(unit.Category)
		record.State = unit.State
		c.record(ctx, runID, record, logger)
	}, logger)

	for _, unit := range pool.Process(ctx, units) {
		summary.Cancelled(unit.Category)
		c.record(context.WithoutCancel(ctx), runID, harvest.UnitRecord{
			Service:  unit.Service.FullName(),
			Kind:     unit.Service.Kind,
			LayerID:  unit.Layer.ID,
			Category: unit.Category,
			State:    harvest.UnitCancelled,
		}, logger)
	}
}

// serviceFailed counts a service whose metadata could not be prepared as one failed unit.
func (c *Coordinator) serviceFailed(
	ctx context.Context,
	runID string,
	svc harvest.ServiceDescriptor,
	cat harvest.Category,
	err error,
	summary *Summary,
	logger *zap.Logger,
) {
	summary.Failed(cat, harvest.UnitFailure{
		Category: cat,
		Service:  svc.Key(),
		Kind:     harvest.Classify(err),
		Reason:   err.Error(),
	})
	c.record(ctx, runID, harvest.UnitRecord{
		Service:  svc.FullName(),
		Kind:     svc.Kind,
		LayerID:  -1,
		Category: cat,
		State:    harvest.UnitFailed,
		Reason:   err.Error(),
	}, logger)
}

func (c *Coordinator) unitFailed(
	ctx context.Context,
	runID string,
	unit harvest.HarvestUnit,
	record harvest.UnitRecord,
	err error,
	summary *Summary,
	logger *zap.Logger,
) {
	unit.State, unit.Err = harvest.UnitFailed, err
	summary.Failed(unit.Category, harvest.UnitFailure{
		Category: unit.Category,
		Service:  unit.Service.Key(),
		LayerID:  intPtr(unit.Layer.ID),
		Kind:     harvest.Classify(err),
		Reason:   err.Error(),
	})
	record.State = unit.State
	record.Reason = err.Error()
	c.record(ctx, runID, record, logger)
}

// panicError turns a recovered handler panic into the unit's failure reason, so the
// unit still reaches a terminal state instead of vanishing from the report.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func (c *Coordinator) dispatchConfig() dispatcher.Config {
	return dispatcher.Config{Workers: c.cfg.Concurrency, QueueSize: c.cfg.QueueSize}
}

func (c *Coordinator) record(ctx context.Context, runID string, rec harvest.UnitRecord, logger *zap.Logger) {
	if c.deps.Ledger == nil {
		return
	}
	rec.RunID = runID
	rec.RecordedAt = c.deps.Clock.Now()
	if err := c.deps.Ledger.RecordUnit(ctx, rec); err != nil {
		logger.Warn("ledger write failed",
			zap.String("service", rec.Service),
			zap.Int("layer_id", rec.LayerID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, report harvest.RunReport, logger *zap.Logger) {
	if c.deps.Publisher == nil || c.cfg.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := c.deps.Publisher.Publish(pubCtx, c.cfg.Topic, report)
	if err != nil {
		logger.Warn("run report not published", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("run report published", zap.String("topic", c.cfg.Topic), zap.String("message_id", id))
}

func intPtr(v int) *int {
	return &v
}
