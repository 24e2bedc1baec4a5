// Package simple contains allow-list policies driven by static configuration.
package simple

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// Policy selects which layers already carry geographic coordinates and must skip
// projection. Entries are "Folder/Service" for a whole service or
// "Folder/Service:LayerID" for a single layer. Service names match case-insensitively.
type Policy struct {
	services map[string]struct{}
	layers   map[string]struct{}
}

// New creates a Policy from configuration entries. Blank entries are ignored.
func New(entries []string) *Policy {
	p := &Policy{
		services: make(map[string]struct{}),
		layers:   make(map[string]struct{}),
	}
	for _, entry := range entries {
		entry = strings.Trim(strings.TrimSpace(entry), "/")
		if entry == "" {
			continue
		}
		name, layer, hasLayer := strings.Cut(entry, ":")
		name = strings.ToLower(name)
		if !hasLayer {
			p.services[name] = struct{}{}
			continue
		}
		if _, err := strconv.Atoi(layer); err == nil {
			p.layers[name+":"+layer] = struct{}{}
		}
	}
	return p
}

// PassThrough reports whether the layer's coordinates are already geographic.
func (p *Policy) PassThrough(svc harvest.ServiceDescriptor, layerID int) bool {
	if p == nil {
		return false
	}
	name := strings.ToLower(svc.FullName())
	if _, ok := p.services[name]; ok {
		return true
	}
	_, ok := p.layers[name+":"+strconv.Itoa(layerID)]
	return ok
}
