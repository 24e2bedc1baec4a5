package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-harvester/internal/archive"
	"github.com/JakeFAU/arcgis-harvester/internal/arcgis"
	"github.com/JakeFAU/arcgis-harvester/internal/category"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/hash/sha256"
	"github.com/JakeFAU/arcgis-harvester/internal/policy/simple"
	"github.com/JakeFAU/arcgis-harvester/internal/storage/memory"
)

type fakePeer struct {
	meta      map[string]string
	metaErr   map[string]error
	queries   map[string]arcgis.QueryResponse
	queryErr  map[string]error
	image     []byte
	imageErr  error
	exports   int
	pageSizes []int
}

func (f *fakePeer) ServiceMetadata(_ context.Context, svc harvest.ServiceDescriptor) (arcgis.ServiceMetadata, []byte, error) {
	if err := f.metaErr[svc.Key()]; err != nil {
		return arcgis.ServiceMetadata{}, nil, err
	}
	raw := []byte(f.meta[svc.Key()])
	var meta arcgis.ServiceMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, nil, err
	}
	return meta, raw, nil
}

func (f *fakePeer) QueryLayer(_ context.Context, svc harvest.ServiceDescriptor, layerID, pageSize int) (arcgis.QueryResponse, error) {
	f.pageSizes = append(f.pageSizes, pageSize)
	key := fmt.Sprintf("%s:%d", svc.Key(), layerID)
	if err := f.queryErr[key]; err != nil {
		return arcgis.QueryResponse{}, err
	}
	return f.queries[key], nil
}

func (f *fakePeer) ExportImage(context.Context, harvest.ServiceDescriptor, arcgis.ExportOptions) ([]byte, error) {
	f.exports++
	return f.image, f.imageErr
}

var (
	mil1 = harvest.ServiceDescriptor{
		Name:       "CNR_SEP_2025_MIL1",
		Kind:       harvest.KindFeatureServer,
		FolderPath: []string{"Military"},
	}
	victims = harvest.ServiceDescriptor{
		Name:       "Registro",
		Kind:       harvest.KindMapServer,
		FolderPath: []string{"Victimas"},
	}
)

func feature(attrs map[string]any, geometry string) arcgis.RawFeature {
	f := arcgis.RawFeature{Attributes: attrs}
	if geometry != "" {
		f.Geometry = json.RawMessage(geometry)
	}
	return f
}

func newHarvester(t *testing.T, peer Peer, passThrough []string, cfg Config) (*Harvester, *memory.BlobStore) {
	t.Helper()

	store := memory.NewBlobStore()
	arc, err := archive.New(store, sha256.New(), archive.Config{}, nil)
	require.NoError(t, err)
	h, err := New(peer, arc, category.DefaultTable(), simple.New(passThrough), cfg, nil)
	require.NoError(t, err)
	return h, store
}

func TestHarvestProjectsPolygonIntoCategory(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{
		meta: map[string]string{
			mil1.Key(): `{"layers":[{"id":12,"name":"Zonas","geometryType":"esriGeometryPolygon"}]}`,
		},
		queries: map[string]arcgis.QueryResponse{
			mil1.Key() + ":12": {Features: []arcgis.RawFeature{
				feature(map[string]any{"OBJECTID": json.Number("1")}, `{"rings":[[[0,0],[0,100],[100,100],[100,0],[0,0]]]}`),
			}},
		},
	}
	h, store := newHarvester(t, peer, nil, Config{})

	res := h.Harvest(context.Background(), mil1)
	require.NoError(t, res.Err)
	assert.Equal(t, harvest.CategoryArmedGroups, res.Category)
	require.Len(t, res.Layers, 1)
	layer := res.Layers[0]
	require.NoError(t, layer.Err)
	assert.Empty(t, layer.Warnings)
	require.Len(t, layer.Collection.Features, 1)

	poly, ok := layer.Collection.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	require.Len(t, poly[0], 5)
	assert.InDelta(t, 0.00089831528, poly[0][2][0], 1e-10)
	assert.InDelta(t, 0.00089831528, poly[0][2][1], 1e-10)

	assert.Equal(t, "ARMED_GROUPS/Military_CNR_SEP_2025_MIL1_FeatureServer_L12.geojson", layer.Artifact.Key)
	assert.Equal(t, []string{
		"ARMED_GROUPS/Military_CNR_SEP_2025_MIL1_FeatureServer_L12.geojson",
		"ARMED_GROUPS/Military_CNR_SEP_2025_MIL1_FeatureServer_meta.json",
	}, store.Paths())
	assert.Equal(t, []int{DefaultPageSize}, peer.pageSizes)
	assert.Zero(t, peer.exports, "feature services are not exported unless configured")
}

func TestHarvestLayerDropsFeaturesWithoutGeometry(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{
		queries: map[string]arcgis.QueryResponse{
			mil1.Key() + ":0": {Features: []arcgis.RawFeature{
				feature(map[string]any{"id": json.Number("1")}, `{"x":-8248000,"y":516000}`),
				feature(map[string]any{"id": json.Number("2")}, ""),
				feature(map[string]any{"id": json.Number("3")}, `{"x":-8249000,"y":517000}`),
			}},
		},
	}
	h, _ := newHarvester(t, peer, nil, Config{})

	plan := ServicePlan{Service: mil1, Category: harvest.CategoryArmedGroups}
	res := h.HarvestLayer(context.Background(), plan, harvest.LayerDescriptor{ID: 0, GeometryKind: harvest.GeometryPoint})
	require.NoError(t, res.Err)
	assert.Len(t, res.Collection.Features, 2)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, harvest.ScopeFeature, res.Warnings[0].Scope)
	assert.Contains(t, res.Warnings[0].Reason, "feature 1")
}

func TestHarvestLayerWarnings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resp     arcgis.QueryResponse
		pageSize int
		wantWarn int
		wantKept int
	}{
		{
			name: "exceeded transfer limit",
			resp: arcgis.QueryResponse{ExceededTransferLimit: true, Features: []arcgis.RawFeature{
				feature(nil, `{"x":0,"y":0}`),
			}},
			pageSize: 100,
			wantWarn: 1,
			wantKept: 1,
		},
		{
			name: "count reaches cap",
			resp: arcgis.QueryResponse{Features: []arcgis.RawFeature{
				feature(nil, `{"x":0,"y":0}`),
				feature(nil, `{"x":1,"y":1}`),
			}},
			pageSize: 2,
			wantWarn: 1,
			wantKept: 2,
		},
		{
			name: "projection domain",
			resp: arcgis.QueryResponse{Features: []arcgis.RawFeature{
				feature(nil, `{"x":0,"y":1e12}`),
			}},
			pageSize: 100,
			wantWarn: 1,
		},
		{
			name: "malformed geometry",
			resp: arcgis.QueryResponse{Features: []arcgis.RawFeature{
				feature(nil, `{"rings":"nope"}`),
				feature(nil, `{}`),
			}},
			pageSize: 100,
			wantWarn: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			peer := &fakePeer{queries: map[string]arcgis.QueryResponse{mil1.Key() + ":3": tt.resp}}
			h, _ := newHarvester(t, peer, nil, Config{PageSize: tt.pageSize})

			plan := ServicePlan{Service: mil1, Category: harvest.CategoryArmedGroups}
			res := h.HarvestLayer(context.Background(), plan, harvest.LayerDescriptor{ID: 3, GeometryKind: harvest.GeometryPoint})
			require.NoError(t, res.Err)
			assert.Len(t, res.Warnings, tt.wantWarn)
			assert.Len(t, res.Collection.Features, tt.wantKept)
		})
	}
}

func TestHarvestLayerPassThrough(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{queries: map[string]arcgis.QueryResponse{
		mil1.Key() + ":1": {GeometryType: "esriGeometryPoint", Features: []arcgis.RawFeature{
			feature(nil, `{"x":-74.093,"y":4.6303}`),
		}},
	}}
	h, _ := newHarvester(t, peer, []string{"Military/CNR_SEP_2025_MIL1:1"}, Config{})

	plan := ServicePlan{Service: mil1, Category: harvest.CategoryArmedGroups}
	res := h.HarvestLayer(context.Background(), plan, harvest.LayerDescriptor{ID: 1})
	require.NoError(t, res.Err)
	require.Len(t, res.Collection.Features, 1)
	assert.Equal(t, orb.Point{-74.093, 4.6303}, res.Collection.Features[0].Geometry)
}

func TestHarvestLayerQueryFailure(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{queryErr: map[string]error{
		mil1.Key() + ":4": &harvest.PeerError{Code: 400, Message: "Invalid or missing input parameters."},
	}}
	h, store := newHarvester(t, peer, nil, Config{})

	res := h.HarvestLayer(context.Background(), ServicePlan{Service: mil1}, harvest.LayerDescriptor{ID: 4})
	require.ErrorIs(t, res.Err, harvest.ErrLayerFetch)
	var peerErr *harvest.PeerError
	require.ErrorAs(t, res.Err, &peerErr)
	assert.Equal(t, 400, peerErr.Code)
	assert.Empty(t, store.Paths())
}

func TestPrepareMetadataFailure(t *testing.T) {
	t.Parallel()

	peer := &fakePeer{metaErr: map[string]error{victims.Key(): &harvest.PeerError{Code: 499, Message: "Token Required"}}}
	h, store := newHarvester(t, peer, nil, Config{ExportEnabled: true})

	res := h.Harvest(context.Background(), victims)
	require.ErrorIs(t, res.Err, harvest.ErrServiceUnavailable)
	assert.Empty(t, res.Layers)
	assert.Equal(t, harvest.CategoryVictims, res.Category)
	assert.Empty(t, store.Paths())
	assert.Zero(t, peer.exports)
}

func TestPrepareExportsMapServerImage(t *testing.T) {
	t.Parallel()

	meta := `{"layers":[{"id":0,"name":"Grupo","subLayerIds":[1]},{"id":1,"name":"Puntos","parentLayerId":0,"geometryType":"esriGeometryPoint"}]}`

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		peer := &fakePeer{meta: map[string]string{victims.Key(): meta}, image: make([]byte, 2048)}
		h, store := newHarvester(t, peer, nil, Config{ExportEnabled: true})

		plan, err := h.Prepare(context.Background(), victims)
		require.NoError(t, err)
		assert.Empty(t, plan.ArtifactFailures)
		assert.Equal(t, []harvest.LayerDescriptor{{ID: 1, Name: "Puntos", GeometryKind: harvest.GeometryPoint}}, plan.Layers)
		assert.Equal(t, "VICTIMS/Victimas_Registro_MapServer_meta.json", plan.Metadata.Key)

		stored, ok := store.Get("VICTIMS/Victimas_Registro_MapServer_meta.json")
		require.True(t, ok)
		assert.Equal(t, meta, string(stored))
		_, ok = store.Get("VICTIMS/Victimas_Registro_MapServer.png")
		assert.True(t, ok)
	})

	t.Run("failure is not fatal", func(t *testing.T) {
		t.Parallel()

		peer := &fakePeer{meta: map[string]string{victims.Key(): meta}, imageErr: errors.New("export body of 12 bytes is below the 1000 byte minimum")}
		h, _ := newHarvester(t, peer, nil, Config{ExportEnabled: true})

		plan, err := h.Prepare(context.Background(), victims)
		require.NoError(t, err)
		require.Len(t, plan.ArtifactFailures, 1)
		assert.Equal(t, "Victimas_Registro_MapServer.png", plan.ArtifactFailures[0].Artifact)
		assert.Len(t, plan.Layers, 1)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		peer := &fakePeer{meta: map[string]string{victims.Key(): meta}}
		h, _ := newHarvester(t, peer, nil, Config{})

		_, err := h.Prepare(context.Background(), victims)
		require.NoError(t, err)
		assert.Zero(t, peer.exports)
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	arc, err := archive.New(memory.NewBlobStore(), sha256.New(), archive.Config{}, nil)
	require.NoError(t, err)

	_, err = New(nil, arc, category.DefaultTable(), nil, Config{}, nil)
	assert.Error(t, err)
	_, err = New(&fakePeer{}, nil, category.DefaultTable(), nil, Config{}, nil)
	assert.Error(t, err)
	_, err = New(&fakePeer{}, arc, nil, nil, Config{}, nil)
	assert.Error(t, err)
}
