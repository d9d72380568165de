/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: catalog.go
Description: SQLite catalog of exploration runs. Indexes every persisted snapshot,
error observation and authentication probe so earlier runs can be listed and compared
without walking the artifact tree. Uses the pure-Go modernc driver.
*/

package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	_ "modernc.org/sqlite"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	device      TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS snapshots (
	run_id         TEXT NOT NULL,
	device         TEXT NOT NULL,
	viewport       TEXT NOT NULL,
	capture_index  INTEGER NOT NULL,
	state_name     TEXT NOT NULL,
	description    TEXT NOT NULL,
	url            TEXT NOT NULL,
	digest_hash    TEXT NOT NULL,
	captured_at    TEXT NOT NULL,
	visual_path    TEXT NOT NULL,
	structure_path TEXT NOT NULL,
	metadata_path  TEXT NOT NULL,
	PRIMARY KEY (run_id, device, viewport, capture_index)
);
CREATE TABLE IF NOT EXISTS observations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	device           TEXT NOT NULL,
	viewport         TEXT NOT NULL,
	page             TEXT NOT NULL,
	field_id         TEXT NOT NULL,
	category         TEXT NOT NULL,
	invalid_value    TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	error_detected   INTEGER NOT NULL,
	error_message    TEXT NOT NULL,
	matched_expected INTEGER NOT NULL,
	observed_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_probes (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	device          TEXT NOT NULL,
	viewport        TEXT NOT NULL,
	credential_kind TEXT NOT NULL,
	error_visible   INTEGER NOT NULL,
	banner_visible  INTEGER NOT NULL,
	still_on_auth   INTEGER NOT NULL,
	error_message   TEXT NOT NULL,
	probed_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device, started_at);
CREATE INDEX IF NOT EXISTS idx_observations_run ON observations(run_id, page);
`

// Catalog indexes run artifacts in SQLite
type Catalog struct {
	db *sql.DB
}

// RunKey identifies the device session a record belongs to
type RunKey struct {
	RunID    string
	Device   string
	Viewport string
}

// RunSummary is one row of the run history
type RunSummary struct {
	RunID        string
	Device       string
	Model        string
	Status       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Snapshots    int
	Observations int
}

// OutcomeCount is the number of observations with a given outcome
type OutcomeCount struct {
	Outcome string
	Count   int
}

// OpenCatalog opens (creating if needed) the catalog database at path
func OpenCatalog(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("mkdir catalog dir: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BeginRun records a run as started
func (c *Catalog) BeginRun(ctx context.Context, run *interfaces.DeviceRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, device, model, status, started_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		run.RunID, run.Device, run.Model, "running", ts(run.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal status of a run
func (c *Catalog) FinishRun(ctx context.Context, run *interfaces.DeviceRun) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, device, model, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			model = excluded.model, status = excluded.status,
			error = excluded.error, finished_at = excluded.finished_at`,
		run.RunID, run.Device, run.Model, string(run.Status), run.Error, ts(run.StartedAt), ts(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RecordSnapshot indexes one persisted snapshot
func (c *Catalog) RecordSnapshot(ctx context.Context, key RunKey, snap *interfaces.StateSnapshot) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, device, viewport, capture_index, state_name, description,
			url, digest_hash, captured_at, visual_path, structure_path, metadata_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.RunID, key.Device, key.Viewport, snap.CaptureIndex, snap.StateName, snap.Description,
		snap.URL, snap.DigestHash, ts(snap.Timestamp), snap.Refs.Visual, snap.Refs.Structure, snap.Refs.Metadata)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.CaptureIndex, err)
	}
	return nil
}

// RecordObservation indexes one executed test case
func (c *Catalog) RecordObservation(ctx context.Context, key RunKey, obs *interfaces.ErrorObservation) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO observations (run_id, device, viewport, page, field_id, category, invalid_value,
			outcome, error_detected, error_message, matched_expected, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.RunID, key.Device, key.Viewport, obs.Page, obs.TestCase.FieldID, string(obs.TestCase.Category),
		obs.TestCase.InvalidValue, string(obs.Outcome), boolInt(obs.ErrorDetected), obs.ErrorMessage,
		boolInt(obs.MatchedExpected), ts(obs.Timestamp))
	if err != nil {
		return fmt.Errorf("insert observation %s: %w", obs.TestCase.ID(), err)
	}
	return nil
}

// RecordAuthProbe indexes one authentication probe result
func (c *Catalog) RecordAuthProbe(ctx context.Context, key RunKey, res *interfaces.AuthProbeResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO auth_probes (run_id, device, viewport, credential_kind, error_visible,
			banner_visible, still_on_auth, error_message, probed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.RunID, key.Device, key.Viewport, string(res.CredentialKind), boolInt(res.ErrorVisible),
		boolInt(res.BannerVisible), boolInt(res.StillOnAuthSurface), res.ErrorMessage, ts(res.Timestamp))
	if err != nil {
		return fmt.Errorf("insert auth probe: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally for one device
func (c *Catalog) ListRuns(ctx context.Context, device string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.run_id, r.device, r.model, r.status, r.error, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM snapshots s WHERE s.run_id = r.run_id),
			(SELECT COUNT(*) FROM observations o WHERE o.run_id = r.run_id)
		FROM runs r
		WHERE ? = '' OR r.device = ?
		ORDER BY r.started_at DESC
		LIMIT ?`, device, device, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started, finished string
		if err := rows.Scan(&rs.RunID, &rs.Device, &rs.Model, &rs.Status, &rs.Error,
			&started, &finished, &rs.Snapshots, &rs.Observations); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.StartedAt = parseTS(started)
		rs.FinishedAt = parseTS(finished)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// OutcomeCounts aggregates observation outcomes for a run
func (c *Catalog) OutcomeCounts(ctx context.Context, runID string) ([]OutcomeCount, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM observations WHERE run_id = ?
		GROUP BY outcome ORDER BY outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeCount
	for rows.Next() {
		var oc OutcomeCount
		if err := rows.Scan(&oc.Outcome, &oc.Count); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

// SnapshotIndices returns the capture indices stored for a device session in order
func (c *Catalog) SnapshotIndices(ctx context.Context, key RunKey) ([]int, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT capture_index FROM snapshots
		WHERE run_id = ? AND device = ? AND viewport = ?
		ORDER BY capture_index`, key.RunID, key.Device, key.Viewport)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}
