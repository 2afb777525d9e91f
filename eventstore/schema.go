package eventstore

// eventsSchemaDuckDB mirrors the teacher's schema_duckdb.sql pattern
// (applied lazily on first connect by Store.Events' double-checked locking,
// grounded on the teacher's GetAnalyticsDB) but over the MAUDE Event/
// Device tables rather than manufacturing inspection rows.
const eventsSchemaDuckDB = `
CREATE TABLE IF NOT EXISTS events (
	mdr_report_key TEXT PRIMARY KEY,
	date_received DATE NOT NULL,
	date_of_event DATE,
	event_type TEXT NOT NULL,
	manufacturer_clean TEXT NOT NULL,
	product_code TEXT,
	received_year INTEGER NOT NULL,
	received_month INTEGER NOT NULL,
	narrative TEXT
);

CREATE TABLE IF NOT EXISTS devices (
	mdr_report_key TEXT NOT NULL,
	brand_name TEXT,
	generic_name TEXT,
	model_number TEXT,
	manufacturer_d_clean TEXT,
	device_report_product_code TEXT,
	implant_flag BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_events_received ON events (date_received);
CREATE INDEX IF NOT EXISTS idx_events_manufacturer ON events (manufacturer_clean);
CREATE INDEX IF NOT EXISTS idx_devices_report_key ON devices (mdr_report_key);
`

// appSchemaSQLite creates the SQLite-side job/cache/log tables, adapted
// from the teacher's repository.go CreateSchema / analysis_jobs /
// analysis_cache / analysis_logs tables.
const appSchemaSQLite = `
CREATE TABLE IF NOT EXISTS signal_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	request_json TEXT NOT NULL,
	result_json TEXT,
	error TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_cache (
	cache_key TEXT PRIMARY KEY,
	response_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS signal_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	level TEXT NOT NULL,
	methods TEXT NOT NULL,
	entity_count INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`
