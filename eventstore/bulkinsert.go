package eventstore

import (
	"database/sql"
	"fmt"
)

// BulkInsertEvents inserts event rows within a single transaction,
// mirroring the teacher's BulkInsertInspection/BulkInsertHistory
// (batched prepared-statement transaction) pattern.
func BulkInsertEvents(db *sql.DB, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("eventstore: begin events tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (mdr_report_key, date_received, date_of_event, event_type, manufacturer_clean, product_code, received_year, received_month, narrative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mdr_report_key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("eventstore: prepare events insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var dateOfEvent any
		if e.DateOfEvent != nil {
			dateOfEvent = e.DateOfEvent.Format(dateLayout)
		}
		if _, err := stmt.Exec(
			e.MDRReportKey, e.DateReceived.Format(dateLayout), dateOfEvent, string(e.EventType),
			e.ManufacturerClean, e.ProductCode, e.DateReceived.Year(), int(e.DateReceived.Month()), "",
		); err != nil {
			return fmt.Errorf("eventstore: insert event %s: %w", e.MDRReportKey, err)
		}
	}

	return tx.Commit()
}

// BulkInsertDevices inserts device rows within a single transaction.
func BulkInsertDevices(db *sql.DB, devices []Device) error {
	if len(devices) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("eventstore: begin devices tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO devices (mdr_report_key, brand_name, generic_name, model_number, manufacturer_d_clean, device_report_product_code, implant_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("eventstore: prepare devices insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range devices {
		if _, err := stmt.Exec(
			d.MDRReportKey, d.BrandName, d.GenericName, d.ModelNumber,
			d.ManufacturerDClean, d.DeviceReportProductCode, d.ImplantFlag,
		); err != nil {
			return fmt.Errorf("eventstore: insert device for %s: %w", d.MDRReportKey, err)
		}
	}

	return tx.Commit()
}
