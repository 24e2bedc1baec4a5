// Package postgres provides the Postgres-backed harvest ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

const defaultTable = "harvest_units"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for ledger rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger writes one row per terminal harvest unit.
type Ledger struct {
	pool  execCloser
	table string
}

// NewLedger connects to Postgres using the provided config.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// RecordUnit upserts the ledger row for a unit. Re-running a harvest with the same
// run id overwrites the earlier row instead of duplicating it.
func (l *Ledger) RecordUnit(ctx context.Context, record harvest.UnitRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	service,
	service_kind,
	layer_id,
	category,
	state,
	reason,
	artifact_uri,
	content_hash,
	feature_count,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (run_id, service, service_kind, layer_id) DO UPDATE SET
	state = EXCLUDED.state,
	reason = EXCLUDED.reason,
	artifact_uri = EXCLUDED.artifact_uri,
	content_hash = EXCLUDED.content_hash,
	feature_count = EXCLUDED.feature_count,
	recorded_at = EXCLUDED.recorded_at`, l.table)

	args := []any{
		record.RunID,
		record.Service,
		string(record.Kind),
		record.LayerID,
		string(record.Category),
		string(record.State),
		record.Reason,
		record.ArtifactURI,
		record.ContentHash,
		record.FeatureCount,
		record.RecordedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}
