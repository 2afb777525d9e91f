// Package etl is the external-collaborator boundary spec.md §1 calls out:
// the weekly FDA flat-file refresh is out of scope for the core engine,
// so DataIngestor only wires the shape of that boundary (kept in the
// teacher's DataIngestor idiom) plus a mock generator used for demos and
// tests, grounded on the teacher's sine-wave MockDataGenerator.
package etl

import (
	"fmt"
	"time"

	"github.com/lgd-analytics/maude-signals/config"
	"github.com/lgd-analytics/maude-signals/eventstore"
)

// DataIngestor is the seam where a real weekly MAUDE flat-file loader
// would plug in (master_events/devices/patients/mdr_text per spec §6's
// ingestion contract). The core only reads from the store; it never
// writes events outside of ingestion or the mock generator below.
type DataIngestor struct {
	config *config.Config
	store  *eventstore.Store
}

// NewDataIngestor creates a new data ingestor.
func NewDataIngestor(cfg *config.Config, store *eventstore.Store) *DataIngestor {
	return &DataIngestor{config: cfg, store: store}
}

// IngestData is the ingestion entry point. Real ingestion from the FDA
// flat files is out of scope for this engine (spec §1) and returns an
// error; in mock mode it generates and inserts synthetic MAUDE-shaped
// data over the configured mock time range. startTime and endTime are
// not used by either path.
func (d *DataIngestor) IngestData(startTime, endTime time.Time) (map[string]int, error) {
	if d.config.MockData.Enabled {
		return d.ingestMockData()
	}
	return nil, fmt.Errorf("real MAUDE flat-file ingestion not implemented in this engine - it is an external collaborator per spec §1; use mock data mode")
}

func (d *DataIngestor) ingestMockData() (map[string]int, error) {
	generator := NewMockDataGenerator(&d.config.MockData)
	events, devices := generator.Generate()

	db, err := d.store.Events()
	if err != nil {
		return nil, fmt.Errorf("ingest: open event store: %w", err)
	}

	if err := eventstore.BulkInsertEvents(db, events); err != nil {
		return nil, fmt.Errorf("failed to insert events: %w", err)
	}
	if err := eventstore.BulkInsertDevices(db, devices); err != nil {
		return nil, fmt.Errorf("failed to insert devices: %w", err)
	}

	return map[string]int{
		"events":  len(events),
		"devices": len(devices),
	}, nil
}

// RunMockGeneration orchestrates mock data generation and insertion,
// mirroring the teacher's RunMockGeneration entrypoint used both from
// the CLI --mock flag and from the startup auto-seed path.
func RunMockGeneration(store *eventstore.Store, cfg *config.Config) error {
	fmt.Println("Generating mock MAUDE data...")

	mockCfg := cfg.MockData
	if len(mockCfg.Manufacturers) == 0 {
		mockCfg = defaultMockConfig()
	}

	generator := NewMockDataGenerator(&mockCfg)
	events, devices := generator.Generate()

	db, err := store.Events()
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	fmt.Printf("Generated %d events, %d device rows\n", len(events), len(devices))
	if err := eventstore.BulkInsertEvents(db, events); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	if err := eventstore.BulkInsertDevices(db, devices); err != nil {
		return fmt.Errorf("failed to insert devices: %w", err)
	}

	fmt.Println("Mock data generation complete!")
	return nil
}
