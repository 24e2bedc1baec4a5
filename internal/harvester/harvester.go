// Package harvester turns one catalog service into archived artifacts: its verbatim
// metadata, an optional map image, and one GeoJSON feature collection per layer.
package harvester

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/archive"
	"github.com/JakeFAU/arcgis-harvester/internal/arcgis"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
	"github.com/JakeFAU/arcgis-harvester/internal/projection"
)

// DefaultPageSize matches the record cap most servers enforce.
const DefaultPageSize = 10000

// Peer is the subset of the ArcGIS client the harvester uses.
type Peer interface {
	ServiceMetadata(ctx context.Context, svc harvest.ServiceDescriptor) (arcgis.ServiceMetadata, []byte, error)
	QueryLayer(ctx context.Context, svc harvest.ServiceDescriptor, layerID, pageSize int) (arcgis.QueryResponse, error)
	ExportImage(ctx context.Context, svc harvest.ServiceDescriptor, opts arcgis.ExportOptions) ([]byte, error)
}

// Categorizer routes a service name to its archive partition.
type Categorizer interface {
	Categorize(name string) harvest.Category
}

// PassThroughPolicy decides whether a layer already carries geographic coordinates.
type PassThroughPolicy interface {
	PassThrough(svc harvest.ServiceDescriptor, layerID int) bool
}

// Config tunes a Harvester.
type Config struct {
	PageSize          int
	ExportEnabled     bool
	ExportAllServices bool
	Export            arcgis.ExportOptions
}

// ServicePlan is the outcome of preparing a service: its category and the layers to harvest.
type ServicePlan struct {
	Service          harvest.ServiceDescriptor
	Category         harvest.Category
	Layers           []harvest.LayerDescriptor
	Metadata         archive.Artifact
	Warnings         []harvest.Warning
	ArtifactFailures []harvest.ArtifactFailure
}

// LayerResult is the outcome of one (service, layer) unit.
type LayerResult struct {
	Layer      harvest.LayerDescriptor
	Collection harvest.FeatureCollection
	Artifact   archive.Artifact
	Dropped    int
	Warnings   []harvest.Warning
	Err        error
}

// ServiceResult is the outcome of harvesting every layer of one service.
type ServiceResult struct {
	Service          harvest.ServiceDescriptor
	Category         harvest.Category
	Layers           []LayerResult
	Warnings         []harvest.Warning
	ArtifactFailures []harvest.ArtifactFailure
	Err              error
}

// Harvester fetches, projects and persists one service at a time. It holds no mutable
// state and is safe for concurrent use.
type Harvester struct {
	peer        Peer
	archive     *archive.Archive
	categorizer Categorizer
	passThrough PassThroughPolicy
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Harvester. passThrough may be nil, in which case every layer is projected.
func New(peer Peer, arc *archive.Archive, categorizer Categorizer, passThrough PassThroughPolicy, cfg Config, logger *zap.Logger) (*Harvester, error) {
	if peer == nil {
		return nil, errors.New("peer is required")
	}
	if arc == nil {
		return nil, errors.New("archive is required")
	}
	if categorizer == nil {
		return nil, errors.New("categorizer is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Export == (arcgis.ExportOptions{}) {
		cfg.Export = arcgis.DefaultExportOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		peer:        peer,
		archive:     arc,
		categorizer: categorizer,
		passThrough: passThrough,
		cfg:         cfg,
		logger:      logger.Named("harvester"),
	}, nil
}

// Category returns the archive partition for a service.
func (h *Harvester) Category(svc harvest.ServiceDescriptor) harvest.Category {
	return h.categorizer.Categorize(svc.FullName())
}

// Harvest prepares svc and harvests every layer sequentially.
func (h *Harvester) Harvest(ctx context.Context, svc harvest.ServiceDescriptor) ServiceResult {
	plan, err := h.Prepare(ctx, svc)
	result := ServiceResult{
		Service:          svc,
		Category:         plan.Category,
		Warnings:         plan.Warnings,
		ArtifactFailures: plan.ArtifactFailures,
		Err:              err,
	}
	if err != nil {
		return result
	}
	for _, layer := range plan.Layers {
		result.Layers = append(result.Layers, h.HarvestLayer(ctx, plan, layer))
	}
	return result
}

// Prepare fetches and archives service metadata, exports the map image when enabled,
// and lists the layers to harvest. A metadata failure returns harvest.ErrServiceUnavailable;
// image export failures are recorded on the plan and never fail the service.
func (h *Harvester) Prepare(ctx context.Context, svc harvest.ServiceDescriptor) (ServicePlan, error) {
	plan := ServicePlan{Service: svc, Category: h.Category(svc)}
	logger := h.logger.With(zap.String("service", svc.Key()), zap.String("category", string(plan.Category)))

	meta, raw, err := h.peer.ServiceMetadata(ctx, svc)
	if err != nil {
		logger.Warn("service metadata unavailable", zap.Error(err))
		return plan, fmt.Errorf("%w: %s: %w", harvest.ErrServiceUnavailable, svc.Key(), err)
	}

	art, err := h.archive.Persist(ctx, plan.Category, archive.MetadataName(svc), archive.ContentTypeJSON, raw)
	if err != nil {
		logger.Warn("metadata not archived", zap.Error(err))
		plan.ArtifactFailures = append(plan.ArtifactFailures, harvest.ArtifactFailure{
			Service:  svc.Key(),
			Artifact: archive.MetadataName(svc),
			Reason:   err.Error(),
		})
	} else {
		plan.Metadata = art
	}

	if h.shouldExport(svc) {
		if failure := h.exportImage(ctx, svc, plan.Category); failure != nil {
			logger.Warn("map image export failed", zap.String("reason", failure.Reason))
			plan.ArtifactFailures = append(plan.ArtifactFailures, *failure)
		}
	}

	for _, info := range meta.Layers {
		if info.Group() {
			logger.Debug("skipping group layer", zap.Int("layer_id", info.ID), zap.String("layer", info.Name))
			continue
		}
		plan.Layers = append(plan.Layers, harvest.LayerDescriptor{
			ID:           info.ID,
			Name:         info.Name,
			GeometryKind: harvest.ParseGeometryKind(info.GeometryType),
		})
	}
	logger.Debug("service prepared", zap.Int("layers", len(plan.Layers)))
	return plan, nil
}

func (h *Harvester) shouldExport(svc harvest.ServiceDescriptor) bool {
	if !h.cfg.ExportEnabled {
		return false
	}
	return svc.Kind == harvest.KindMapServer || h.cfg.ExportAllServices
}

func (h *Harvester) exportImage(ctx context.Context, svc harvest.ServiceDescriptor, cat harvest.Category) *harvest.ArtifactFailure {
	name := archive.ImageName(svc, h.cfg.Export.Format)
	img, err := h.peer.ExportImage(ctx, svc, h.cfg.Export)
	if err == nil {
		_, err = h.archive.Persist(ctx, cat, name, "image/"+h.cfg.Export.Format, img)
	}
	if err == nil {
		return nil
	}
	return &harvest.ArtifactFailure{Service: svc.Key(), Artifact: name, Reason: err.Error()}
}

// HarvestLayer queries one layer, projects its features and archives the collection.
// Features with missing, malformed or out-of-domain geometry are dropped with a warning.
// A failed query is returned as harvest.ErrLayerFetch, a failed write as harvest.ErrPersist.
func (h *Harvester) HarvestLayer(ctx context.Context, plan ServicePlan, layer harvest.LayerDescriptor) LayerResult {
	svc := plan.Service
	result := LayerResult{Layer: layer}
	logger := h.logger.With(zap.String("service", svc.Key()), zap.Int("layer_id", layer.ID))

	resp, err := h.peer.QueryLayer(ctx, svc, layer.ID, h.cfg.PageSize)
	if err != nil {
		result.Err = fmt.Errorf("%w: %s layer %d: %w", harvest.ErrLayerFetch, svc.Key(), layer.ID, err)
		logger.Warn("layer query failed", zap.Error(err))
		return result
	}
	if len(resp.Features) >= h.cfg.PageSize || resp.ExceededTransferLimit {
		result.Warnings = append(result.Warnings, harvest.LayerWarning(svc, layer.ID,
			fmt.Sprintf("result truncated at %d features; the layer holds more", len(resp.Features))))
	}

	kind := layer.GeometryKind
	if kind == harvest.GeometryUnknown {
		kind = harvest.ParseGeometryKind(resp.GeometryType)
	}
	mode := projection.ModeProject
	if h.passThrough != nil && h.passThrough.PassThrough(svc, layer.ID) {
		mode = projection.ModePassThrough
	}

	features := make([]harvest.Feature, 0, len(resp.Features))
	for i, raw := range resp.Features {
		geom, err := decodeFeature(raw, kind, mode)
		if err != nil {
			result.Dropped++
			result.Warnings = append(result.Warnings, harvest.Warning{
				Scope:   harvest.ScopeFeature,
				Service: svc.Key(),
				LayerID: intPtr(layer.ID),
				Reason:  fmt.Sprintf("feature %d dropped: %v", i, err),
			})
			continue
		}
		features = append(features, harvest.Feature{Attributes: raw.Attributes, Geometry: geom})
	}
	result.Collection = harvest.FeatureCollection{Features: features}
	metrics.ObserveFeatures(string(plan.Category), len(features), result.Dropped)

	payload, err := archive.EncodeCollection(result.Collection)
	if err != nil {
		err = fmt.Errorf("%w: %w", harvest.ErrPersist, err)
	} else {
		result.Artifact, err = h.archive.Persist(ctx, plan.Category, archive.LayerName(svc, layer.ID), archive.ContentTypeGeoJSON, payload)
	}
	if err != nil {
		result.Err = err
		logger.Warn("layer not archived", zap.Error(err))
		return result
	}
	logger.Debug("layer harvested",
		zap.Int("features", len(features)),
		zap.Int("dropped", result.Dropped),
		zap.String("uri", result.Artifact.URI),
	)
	return result
}

func decodeFeature(raw arcgis.RawFeature, kind harvest.GeometryKind, mode projection.Mode) (orb.Geometry, error) {
	rawGeom, err := projection.DecodeRaw(raw.Geometry)
	if err != nil {
		return nil, err
	}
	return projection.ProjectGeometry(rawGeom, kind, mode)
}

func intPtr(v int) *int {
	return &v
}
