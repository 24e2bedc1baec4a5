package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/arcgis"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

type fakeSource struct {
	docs  map[string]arcgis.CatalogResponse
	fails map[string]error
	calls []string
}

func (f *fakeSource) Catalog(_ context.Context, folder string) (arcgis.CatalogResponse, error) {
	f.calls = append(f.calls, folder)
	if err := f.fails[folder]; err != nil {
		return arcgis.CatalogResponse{}, err
	}
	return f.docs[folder], nil
}

func TestDiscoverSkipsFoldersAndDedupes(t *testing.T) {
	t.Parallel()

	src := &fakeSource{docs: map[string]arcgis.CatalogResponse{
		"": {
			Folders: []string{"Military", "Utilities", "DDHH"},
			Services: []arcgis.ServiceEntry{
				{Name: "Hosted_Layer", Type: "FeatureServer"},
				{Name: "Hosted_Layer", Type: "MapServer"},
				{Name: "Geocoder", Type: "GeocodeServer"},
			},
		},
		"Military": {Services: []arcgis.ServiceEntry{
			{Name: "Military/CNR_SEP_2025_MIL1", Type: "FeatureServer"},
			{Name: "Military/CNR_SEP_2025_MIL1", Type: "FeatureServer"},
			{Name: "Military/PrintingTools", Type: "GPServer"},
		}},
		"DDHH": {Services: []arcgis.ServiceEntry{{Name: "Alertas", Type: "MapServer"}}},
	}}

	got, err := NewWalker(src, []string{"Utilities", "System"}, zap.NewNop()).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Warnings)
	assert.Equal(t, []string{"", "Military", "DDHH"}, src.calls)
	assert.Equal(t, []harvest.ServiceDescriptor{
		{Name: "Hosted_Layer", Kind: harvest.KindFeatureServer},
		{Name: "Hosted_Layer", Kind: harvest.KindMapServer},
		{Name: "CNR_SEP_2025_MIL1", Kind: harvest.KindFeatureServer, FolderPath: []string{"Military"}},
		{Name: "Alertas", Kind: harvest.KindMapServer, FolderPath: []string{"DDHH"}},
	}, got.Services)
}

func TestDiscoverRootFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{fails: map[string]error{"": errors.New("connection refused")}}
	_, err := NewWalker(src, nil, nil).Discover(context.Background())
	require.ErrorIs(t, err, harvest.ErrCatalogUnavailable)
}

func TestDiscoverFolderFailureIsWarning(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		docs: map[string]arcgis.CatalogResponse{
			"":         {Folders: []string{"Broken", "Victimas"}},
			"Victimas": {Services: []arcgis.ServiceEntry{{Name: "Victimas/Registro", Type: "MapServer"}}},
		},
		fails: map[string]error{"Broken": &harvest.PeerError{Code: 403, Message: "Forbidden"}},
	}
	got, err := NewWalker(src, nil, nil).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, harvest.ScopeCatalog, got.Warnings[0].Scope)
	assert.Contains(t, got.Warnings[0].Reason, "Broken")
	require.Len(t, got.Services, 1)
	assert.Equal(t, "Victimas/Registro", got.Services[0].FullName())
}

func TestDiscoverEmptyCatalog(t *testing.T) {
	t.Parallel()

	got, err := NewWalker(&fakeSource{}, nil, nil).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Services)
}

func TestDiscoverStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{docs: map[string]arcgis.CatalogResponse{"": {Folders: []string{"A"}}}}
	_, err := NewWalker(src, nil, nil).Discover(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{""}, src.calls)
}
