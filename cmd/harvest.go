package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/api"
	"github.com/JakeFAU/arcgis-harvester/internal/archive"
	"github.com/JakeFAU/arcgis-harvester/internal/arcgis"
	"github.com/JakeFAU/arcgis-harvester/internal/catalog"
	"github.com/JakeFAU/arcgis-harvester/internal/category"
	"github.com/JakeFAU/arcgis-harvester/internal/clock/system"
	"github.com/JakeFAU/arcgis-harvester/internal/config"
	"github.com/JakeFAU/arcgis-harvester/internal/coordinator"
	collyfetcher "github.com/JakeFAU/arcgis-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
	"github.com/JakeFAU/arcgis-harvester/internal/harvester"
	"github.com/JakeFAU/arcgis-harvester/internal/hash/sha256"
	"github.com/JakeFAU/arcgis-harvester/internal/id/uuid"
	"github.com/JakeFAU/arcgis-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/arcgis-harvester/internal/policy/retry"
	"github.com/JakeFAU/arcgis-harvester/internal/policy/simple"
	pubsubpublisher "github.com/JakeFAU/arcgis-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/arcgis-harvester/internal/storage/gcs"
	"github.com/JakeFAU/arcgis-harvester/internal/storage/local"
	"github.com/JakeFAU/arcgis-harvester/internal/storage/memory"
	"github.com/JakeFAU/arcgis-harvester/internal/storage/postgres"
	"github.com/JakeFAU/arcgis-harvester/internal/tracing"
)

// newHarvestCmd creates the 'harvest' subcommand, which performs one full run.
func newHarvestCmd() *cobra.Command {
	var (
		rootURL string
		serve   bool
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvests every layer of the configured services directory",
		Long: `Discovers all MapServer and FeatureServer services under peer.root_url, archives
their metadata, map exports and layer features, and prints the run report as JSON.
Interrupting the command stops dispatch; in-flight units finish and the rest are
reported as cancelled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if rootURL != "" {
				cfg.Peer.RootURL = rootURL
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runHarvest(cmd, cfg, serve, rt.logger)
		},
	}
	cmd.Flags().StringVar(&rootURL, "root-url", "", "services directory root, overrides peer.root_url")
	cmd.Flags().BoolVar(&serve, "serve", false, "keep the ops server running after the run until interrupted")
	return cmd
}

func runHarvest(cmd *cobra.Command, cfg config.Config, serve bool, logger *zap.Logger) error {
	if strings.TrimSpace(cfg.Peer.RootURL) == "" {
		return errors.New("peer.root_url is required")
	}
	ctx := cmd.Context()

	tp, err := tracing.InitTracerProvider(ctx, "arcgis-harvester", logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	coord, cleanup, err := buildCoordinator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = startOpsServer(cfg.Server.Port, coord, logger)
		defer shutdownOpsServer(srv, logger)
	}

	report, runErr := coord.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("harvest run: %w", runErr)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if serve && srv != nil {
		logger.Info("run finished; ops server stays up until interrupted")
		<-ctx.Done()
	}
	return nil
}

// buildCoordinator wires the peer client, archive backend, ledger and publisher
// selected by cfg. The returned cleanup releases every client that was opened.
func buildCoordinator(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (*coordinator.Coordinator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*coordinator.Coordinator, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	client, err := arcgis.NewClient(
		cfg.Peer.RootURL,
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Peer.UserAgent,
			RespectRobots: cfg.Peer.RespectRobots,
			Timeout:       cfg.RequestTimeout(),
			MaxBodySize:   cfg.Peer.MaxBodyBytes,
		}),
		ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RatePerSecond, Burst: cfg.HTTP.RateBurst}),
		retry.New(retry.Config{
			MaxAttempts:    cfg.MaxAttempts(),
			BaseDelay:      cfg.BackoffInitial(),
			MaxDelay:       cfg.BackoffMax(),
			AttemptTimeout: cfg.RequestTimeout(),
		}),
		logger,
	)
	if err != nil {
		return fail(fmt.Errorf("init peer client: %w", err))
	}

	store, closeStore, err := openBlobStore(ctx, cfg.Archive)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStore)

	arc, err := archive.New(store, sha256.New(), archive.Config{Prefix: cfg.Archive.Prefix}, logger)
	if err != nil {
		return fail(fmt.Errorf("init archive: %w", err))
	}

	h, err := harvester.New(
		client,
		arc,
		category.DefaultTable(),
		simple.New(cfg.Harvest.GeographicLayers),
		harvester.Config{
			PageSize:          cfg.Harvest.PageSize,
			ExportEnabled:     cfg.Export.Enabled,
			ExportAllServices: cfg.Export.AllServices,
			Export: arcgis.ExportOptions{
				BBox:     cfg.Export.BBox,
				BBoxSR:   cfg.Export.BBoxSR,
				Size:     cfg.Export.Size,
				Format:   cfg.Export.Format,
				MinBytes: cfg.Export.MinBytes,
			},
		},
		logger,
	)
	if err != nil {
		return fail(fmt.Errorf("init harvester: %w", err))
	}

	deps := coordinator.Deps{
		Walker:    catalog.NewWalker(client, cfg.Catalog.SkipFolders, logger),
		Harvester: h,
		IDs:       uuid.New(),
		Clock:     system.New(),
	}

	if cfg.DB.DSN != "" {
		ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fail(fmt.Errorf("init ledger: %w", err))
		}
		closers = append(closers, ledger.Close)
		deps.Ledger = ledger
	} else {
		deps.Ledger = memory.NewLedger()
	}

	if cfg.PubSub.TopicName != "" {
		psClient, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("init pubsub client: %w", err))
		}
		publisher := pubsubpublisher.New(psClient)
		closers = append(closers, func() {
			publisher.Close()
			if cerr := psClient.Close(); cerr != nil {
				logger.Warn("pubsub client close failed", zap.Error(cerr))
			}
		})
		deps.Publisher = publisher
	}

	coord, err := coordinator.New(deps, coordinator.Config{
		Concurrency: cfg.Harvest.Concurrency,
		QueueSize:   cfg.Harvest.QueueDepth,
		Topic:       cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("init coordinator: %w", err))
	}
	return coord, cleanup, nil
}

func openBlobStore(ctx context.Context, cfg config.ArchiveConfig) (harvest.BlobStore, func(), error) {
	switch cfg.Backend {
	case config.BackendGCS:
		store, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, func() { _ = closeFn() }, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), func() {}, nil
	default:
		store, err := local.New(local.Config{BaseDir: cfg.Root})
		if err != nil {
			return nil, nil, fmt.Errorf("init local store: %w", err)
		}
		return store, func() {}, nil
	}
}

func startOpsServer(port int, runs api.RunSource, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(runs, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()
	return srv
}

func shutdownOpsServer(srv *http.Server, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}
}
