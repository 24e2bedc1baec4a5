// Package archive persists harvest artifacts under category partitions and encodes
// feature collections as GeoJSON.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

// Content types of archived artifacts.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

// Artifact kinds used in metrics and failure reports.
const (
	KindMetadata = "metadata"
	KindImage    = "image"
	KindLayer    = "layer"
)

// Config controls where artifacts land inside the blob store.
type Config struct {
	// Prefix is prepended to every object key. Empty writes at the store root.
	Prefix string
}

// Artifact describes one persisted object.
type Artifact struct {
	Key         string
	URI         string
	ContentHash string
	Size        int
}

// Archive writes artifacts to a BlobStore.
type Archive struct {
	store  harvest.BlobStore
	hasher harvest.Hasher
	prefix string
	logger *zap.Logger
}

// New constructs an Archive.
func New(store harvest.BlobStore, hasher harvest.Hasher, cfg Config, logger *zap.Logger) (*Archive, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("archive"),
	}, nil
}

// Key returns the object key for an artifact in a category partition.
func (a *Archive) Key(category harvest.Category, name string) string {
	if a.prefix == "" {
		return path.Join(category.Dir(), name)
	}
	return path.Join(a.prefix, category.Dir(), name)
}

// Persist writes payload under the category partition. A failed write is retried once;
// a second failure returns harvest.ErrPersist.
func (a *Archive) Persist(ctx context.Context, category harvest.Category, name, contentType string, payload []byte) (Artifact, error) {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return Artifact{}, fmt.Errorf("%w: invalid artifact name %q", harvest.ErrPersist, name)
	}
	hash, err := a.hasher.Hash(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: hash %s: %w", harvest.ErrPersist, name, err)
	}
	key := a.Key(category, name)

	var uri string
	for attempt := 1; attempt <= 2; attempt++ {
		uri, err = a.store.PutObject(ctx, key, contentType, bytes.NewReader(payload))
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		a.logger.Warn("artifact write failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %w", harvest.ErrPersist, key, err)
	}
	metrics.ObserveArtifact(ArtifactKind(name), len(payload))
	return Artifact{Key: key, URI: uri, ContentHash: hash, Size: len(payload)}, nil
}

// ArtifactKind classifies an artifact name produced by MetadataName, ImageName or LayerName.
func ArtifactKind(name string) string {
	switch {
	case strings.HasSuffix(name, "_meta.json"):
		return KindMetadata
	case strings.HasSuffix(name, ".geojson"):
		return KindLayer
	default:
		return KindImage
	}
}

// MetadataName is the artifact name of a service's verbatim metadata document.
func MetadataName(svc harvest.ServiceDescriptor) string {
	return baseName(svc) + "_meta.json"
}

// ImageName is the artifact name of a service's exported map image.
func ImageName(svc harvest.ServiceDescriptor, format string) string {
	if format == "" {
		format = "png"
	}
	return baseName(svc) + "." + strings.ToLower(format)
}

// LayerName is the artifact name of a layer's feature collection.
func LayerName(svc harvest.ServiceDescriptor, layerID int) string {
	return baseName(svc) + "_L" + strconv.Itoa(layerID) + ".geojson"
}

func baseName(svc harvest.ServiceDescriptor) string {
	return svc.SafeName() + "_" + string(svc.Kind)
}

// EncodeCollection renders fc as a GeoJSON FeatureCollection. Properties are written
// with sorted keys, so identical input always yields identical bytes.
func EncodeCollection(fc harvest.FeatureCollection) ([]byte, error) {
	out := geojson.NewFeatureCollection()
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature %d has no geometry", i)
		}
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		out.Append(gf)
	}
	data, err := out.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return data, nil
}
