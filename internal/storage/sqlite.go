// Package storage persists therapy records in SQLite. The engine itself is
// purely functional; this layer feeds it windows of records.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mrcode/nocturne-server/internal/models"
)

// ErrInvalidSpan rejects state spans that fail ingestion validation.
var ErrInvalidSpan = errors.New("invalid state span")

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS treatments (
        id TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        date INTEGER NOT NULL,
        created_at TEXT,
        insulin REAL NOT NULL DEFAULT 0,
        carbs REAL NOT NULL DEFAULT 0,
        duration REAL NOT NULL DEFAULT 0,
        percent REAL,
        absolute REAL,
        relative REAL,
        notes TEXT,
        entered_by TEXT,
        device TEXT,
        profile TEXT,
        reason TEXT
    );

    CREATE TABLE IF NOT EXISTS entries (
        id TEXT PRIMARY KEY,
        sgv INTEGER NOT NULL,
        date INTEGER NOT NULL,
        date_string TEXT,
        trend INTEGER NOT NULL DEFAULT 0,
        direction TEXT,
        device TEXT,
        type TEXT
    );

    CREATE TABLE IF NOT EXISTS profiles (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        activation_date INTEGER NOT NULL,
        basal_json TEXT NOT NULL,
        sensitivity REAL NOT NULL DEFAULT 0,
        carb_ratio REAL NOT NULL DEFAULT 0,
        dia REAL NOT NULL DEFAULT 0,
        units TEXT
    );

    CREATE TABLE IF NOT EXISTS state_spans (
        id TEXT PRIMARY KEY,
        category TEXT NOT NULL,
        state TEXT,
        start_ms INTEGER NOT NULL,
        end_ms INTEGER,
        rate REAL,
        origin TEXT
    );

    CREATE TABLE IF NOT EXISTS device_statuses (
        id TEXT PRIMARY KEY,
        date INTEGER NOT NULL,
        device TEXT,
        iob REAL,
        cob REAL
    );

    CREATE INDEX IF NOT EXISTS idx_treatments_date ON treatments(date);
    CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
    CREATE INDEX IF NOT EXISTS idx_profiles_activation ON profiles(activation_date);
    CREATE INDEX IF NOT EXISTS idx_spans_category_start ON state_spans(category, start_ms);
    CREATE INDEX IF NOT EXISTS idx_statuses_date ON device_statuses(date);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveTreatment stores one treatment, minting an ID when the uploader did
// not supply one. The stored ID is written back to the record.
func (s *SQLiteStorage) SaveTreatment(t *models.Treatment) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	query := `
        INSERT INTO treatments (id, event_type, date, created_at, insulin, carbs, duration,
            percent, absolute, relative, notes, entered_by, device, profile, reason)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query,
		t.ID, t.EventType, t.Date, t.CreatedAt, t.Insulin, t.Carbs, t.Duration,
		t.Percent, t.Absolute, t.Relative, t.Notes, t.EnteredBy, t.Device, t.Profile, t.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert treatment: %w", err)
	}
	return nil
}

// TreatmentsBetween returns treatments with date in [from, to], oldest first.
func (s *SQLiteStorage) TreatmentsBetween(from, to time.Time) ([]models.Treatment, error) {
	query := `
        SELECT id, event_type, date, created_at, insulin, carbs, duration,
            percent, absolute, relative, notes, entered_by, device, profile, reason
        FROM treatments
        WHERE date >= ? AND date <= ?
        ORDER BY date ASC
    `
	rows, err := s.db.Query(query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query treatments: %w", err)
	}
	defer rows.Close()

	var treatments []models.Treatment
	for rows.Next() {
		var t models.Treatment
		err := rows.Scan(
			&t.ID, &t.EventType, &t.Date, &t.CreatedAt, &t.Insulin, &t.Carbs, &t.Duration,
			&t.Percent, &t.Absolute, &t.Relative, &t.Notes, &t.EnteredBy, &t.Device, &t.Profile, &t.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan treatment: %w", err)
		}
		treatments = append(treatments, t)
	}
	return treatments, rows.Err()
}

func (s *SQLiteStorage) SaveEntry(e *models.GlucoseEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `
        INSERT INTO entries (id, sgv, date, date_string, trend, direction, device, type)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query,
		e.ID, e.SGV, e.Date, e.DateStr, e.Trend, e.Direction, e.Device, e.Type)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// EntriesBetween returns glucose entries with date in [from, to], oldest first.
func (s *SQLiteStorage) EntriesBetween(from, to time.Time) ([]models.GlucoseEntry, error) {
	query := `
        SELECT id, sgv, date, date_string, trend, direction, device, type
        FROM entries
        WHERE date >= ? AND date <= ?
        ORDER BY date ASC
    `
	rows, err := s.db.Query(query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.GlucoseEntry
	for rows.Next() {
		var e models.GlucoseEntry
		err := rows.Scan(&e.ID, &e.SGV, &e.Date, &e.DateStr, &e.Trend, &e.Direction, &e.Device, &e.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveProfile stores a profile. The basal schedule is kept as a JSON column:
// segments are only ever read back whole.
func (s *SQLiteStorage) SaveProfile(p *models.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	basalJSON, err := json.Marshal(p.Basal)
	if err != nil {
		return fmt.Errorf("failed to encode basal schedule: %w", err)
	}

	query := `
        INSERT INTO profiles (id, name, activation_date, basal_json, sensitivity, carb_ratio, dia, units)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.Exec(query,
		p.ID, p.Name, p.ActivationDate, string(basalJSON), p.Sensitivity, p.CarbRatio, p.DIA, p.Units)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// Profiles returns all stored profiles ordered by activation date.
func (s *SQLiteStorage) Profiles() ([]models.Profile, error) {
	query := `
        SELECT id, name, activation_date, basal_json, sensitivity, carb_ratio, dia, units
        FROM profiles
        ORDER BY activation_date ASC
    `
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		var basalJSON string
		err := rows.Scan(&p.ID, &p.Name, &p.ActivationDate, &basalJSON, &p.Sensitivity, &p.CarbRatio, &p.DIA, &p.Units)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if err := json.Unmarshal([]byte(basalJSON), &p.Basal); err != nil {
			return nil, fmt.Errorf("failed to decode basal schedule: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SaveStateSpan validates and stores a device-confirmed span. Basal-delivery
// spans must carry a reportable origin and, unless suspended, a rate.
func (s *SQLiteStorage) SaveStateSpan(span *models.StateSpan) error {
	if span.End != nil && *span.End < span.Start {
		return fmt.Errorf("%w: end before start", ErrInvalidSpan)
	}
	if span.Category == models.SpanBasalDelivery {
		if !models.ValidBasalOrigin(span.Origin) {
			return fmt.Errorf("%w: origin %q not reportable", ErrInvalidSpan, span.Origin)
		}
		if span.Rate == nil && span.Origin != models.OriginSuspended {
			return fmt.Errorf("%w: missing rate", ErrInvalidSpan)
		}
	}

	if span.ID == "" {
		span.ID = uuid.NewString()
	}

	query := `
        INSERT INTO state_spans (id, category, state, start_ms, end_ms, rate, origin)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query,
		span.ID, string(span.Category), span.State, span.Start, span.End, span.Rate, string(span.Origin))
	if err != nil {
		return fmt.Errorf("failed to insert state span: %w", err)
	}
	return nil
}

// SpansByCategory returns spans of one category overlapping [from, to],
// ordered by start. Open-ended spans overlap everything after their start.
func (s *SQLiteStorage) SpansByCategory(category models.SpanCategory, from, to time.Time) ([]models.StateSpan, error) {
	query := `
        SELECT id, category, state, start_ms, end_ms, rate, origin
        FROM state_spans
        WHERE category = ? AND start_ms <= ? AND (end_ms IS NULL OR end_ms >= ?)
        ORDER BY start_ms ASC
    `
	rows, err := s.db.Query(query, string(category), to.UnixMilli(), from.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query state spans: %w", err)
	}
	defer rows.Close()

	var spans []models.StateSpan
	for rows.Next() {
		var span models.StateSpan
		var cat, origin string
		err := rows.Scan(&span.ID, &cat, &span.State, &span.Start, &span.End, &span.Rate, &origin)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state span: %w", err)
		}
		span.Category = models.SpanCategory(cat)
		span.Origin = models.BasalOrigin(origin)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

func (s *SQLiteStorage) SaveDeviceStatus(d *models.DeviceStatus) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	query := `
        INSERT INTO device_statuses (id, date, device, iob, cob)
        VALUES (?, ?, ?, ?, ?)
    `
	_, err := s.db.Exec(query, d.ID, d.Date, d.Device, d.IOB, d.COB)
	if err != nil {
		return fmt.Errorf("failed to insert device status: %w", err)
	}
	return nil
}

// DeviceStatusesBetween returns device statuses with date in [from, to],
// oldest first.
func (s *SQLiteStorage) DeviceStatusesBetween(from, to time.Time) ([]models.DeviceStatus, error) {
	query := `
        SELECT id, date, device, iob, cob
        FROM device_statuses
        WHERE date >= ? AND date <= ?
        ORDER BY date ASC
    `
	rows, err := s.db.Query(query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query device statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.DeviceStatus
	for rows.Next() {
		var d models.DeviceStatus
		err := rows.Scan(&d.ID, &d.Date, &d.Device, &d.IOB, &d.COB)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device status: %w", err)
		}
		statuses = append(statuses, d)
	}
	return statuses, rows.Err()
}
