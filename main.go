// Command arcgis-harvester archives the layers of a public ArcGIS REST services
// directory as categorized GeoJSON.
//
// Architecture overview:
//   - Discovery: internal/catalog walks the root directory and its folders (skipping
//     utility folders) and returns every MapServer and FeatureServer descriptor.
//   - Coordinator: internal/coordinator fetches each service's metadata, expands it into
//     one unit per layer and fans the units out to a bounded worker pool
//     (internal/dispatcher over internal/queue/memory). Unit failures are recorded and
//     never abort the run.
//   - Harvester: internal/harvester queries a layer, decodes the Esri geometries, projects
//     them from Web Mercator to longitude/latitude (internal/projection) and persists the
//     FeatureCollection through internal/archive.
//   - Persistence and fanout: artifacts land in the configured BlobStore (local, GCS or
//     memory) under per-category directories. Unit outcomes are optionally written to a
//     Postgres ledger and the run report is optionally published to Pub/Sub.
//   - Plumbing: Viper config (HARVEST_ env overrides), zap logging, Prometheus metrics and
//     an optional chi ops server exposing /healthz, /readyz, /metrics and /v1/runs/latest.
//
// Quick checklist:
//   - Run once: arcgis-harvester harvest --root-url https://host/server/rest/services
//   - Check categories offline: arcgis-harvester categorize Military/CNR_SEP_2025_MIL1
package main

import (
	"github.com/JakeFAU/arcgis-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
