package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// Ledger keeps unit records in-memory, keyed by run.
type Ledger struct {
	mu   sync.Mutex
	runs map[string][]harvest.UnitRecord
}

// NewLedger returns an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{runs: make(map[string][]harvest.UnitRecord)}
}

// RecordUnit appends a unit record to its run.
func (l *Ledger) RecordUnit(ctx context.Context, record harvest.UnitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.RunID == "" {
		return errors.New("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[record.RunID] = append(l.runs[record.RunID], record)
	return nil
}

// Records returns a copy of the records stored for runID.
func (l *Ledger) Records(runID string) []harvest.UnitRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]harvest.UnitRecord(nil), l.runs[runID]...)
}
