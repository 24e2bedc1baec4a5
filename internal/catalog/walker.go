// Package catalog enumerates the services published under a services root.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/arcgis"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

// Source serves catalog documents; *arcgis.Client satisfies it.
type Source interface {
	Catalog(ctx context.Context, folder string) (arcgis.CatalogResponse, error)
}

// Discovery is the walker's result.
type Discovery struct {
	Services []harvest.ServiceDescriptor
	Warnings []harvest.Warning
}

// Walker visits the root and every non-skipped folder one level below it.
type Walker struct {
	source Source
	skip   map[string]struct{}
	logger *zap.Logger
}

// NewWalker creates a Walker. Folder names in skip are matched exactly.
func NewWalker(source Source, skip []string, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		set[name] = struct{}{}
	}
	return &Walker{source: source, skip: set, logger: logger}
}

// Discover returns the de-duplicated service set. A failed root fetch is fatal and
// wraps harvest.ErrCatalogUnavailable; a failed folder becomes a warning.
func (w *Walker) Discover(ctx context.Context) (Discovery, error) {
	var out Discovery
	seen := make(map[string]struct{})

	root, err := w.source.Catalog(ctx, "")
	if err != nil {
		return out, fmt.Errorf("%w: %w", harvest.ErrCatalogUnavailable, err)
	}
	w.logger.Info("root catalog fetched",
		zap.String("version", root.CurrentVersion.String()),
		zap.Int("folders", len(root.Folders)),
		zap.Int("services", len(root.Services)),
	)
	w.collect(&out, seen, "", root.Services)

	for _, folder := range root.Folders {
		if _, skip := w.skip[folder]; skip {
			w.logger.Debug("folder skipped by policy", zap.String("folder", folder))
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("discovery interrupted: %w", err)
		}
		doc, err := w.source.Catalog(ctx, folder)
		if err != nil {
			w.logger.Warn("folder catalog failed", zap.String("folder", folder), zap.Error(err))
			metrics.ObserveWarning(harvest.ScopeCatalog)
			out.Warnings = append(out.Warnings, harvest.Warning{
				Scope:  harvest.ScopeCatalog,
				Reason: fmt.Sprintf("folder %s: %v", folder, err),
			})
			continue
		}
		w.collect(&out, seen, folder, doc.Services)
	}
	w.logger.Info("discovery complete", zap.Int("services", len(out.Services)), zap.Int("warnings", len(out.Warnings)))
	return out, nil
}

func (w *Walker) collect(out *Discovery, seen map[string]struct{}, folder string, entries []arcgis.ServiceEntry) {
	for _, entry := range entries {
		kind, ok := harvest.ParseServiceKind(entry.Type)
		if !ok {
			w.logger.Debug("service type not harvested", zap.String("service", entry.Name), zap.String("type", entry.Type))
			continue
		}
		svc := describe(folder, entry.Name, kind)
		if svc.Name == "" {
			continue
		}
		key := svc.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Services = append(out.Services, svc)
	}
}

// describe splits the peer's "Folder/Name" service naming into FolderPath and Name.
func describe(folder, name string, kind harvest.ServiceKind) harvest.ServiceDescriptor {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	svc := harvest.ServiceDescriptor{Name: parts[len(parts)-1], Kind: kind}
	if len(parts) > 1 {
		svc.FolderPath = parts[:len(parts)-1]
	} else if folder != "" {
		svc.FolderPath = []string{folder}
	}
	return svc
}
