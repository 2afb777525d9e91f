// Package eventstore owns the columnar event/device store (DuckDB) and the
// application-state store (SQLite: jobs, result cache, signal logs, the
// entity group registry's persistence). It is the only package that knows
// the store's SQL dialect; everything above it talks in terms of
// filterpred.Predicate and domain structs.
package eventstore

import "time"

// EventType is the canonical, already-translated store code.
type EventType string

const (
	EventTypeDeath       EventType = "D"
	EventTypeInjury      EventType = "IN"
	EventTypeMalfunction EventType = "M"
	EventTypeOther       EventType = "O"
	EventTypeUnknown     EventType = "*"
)

// Event is the master adverse-event row, immutable after ingestion.
type Event struct {
	MDRReportKey      string
	DateReceived      time.Time
	DateOfEvent       *time.Time
	EventType         EventType
	ManufacturerClean string
	ProductCode       string
}

// Device is a child row of an Event, joined by MDRReportKey (one event
// may have zero or more devices).
type Device struct {
	MDRReportKey            string
	BrandName               string
	GenericName             string
	ModelNumber             string
	ManufacturerDClean      string
	DeviceReportProductCode string
	ImplantFlag             bool
}
