package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Source represents a row from the import_sources table.
type Source struct {
	AdapterID   string
	Description string
	Input       string
	LastCheck   *int64
	LastStatus  *int
	LastError   *string
	UpdatedAt   int64
}

// Run represents a row from the import_runs table.
type Run struct {
	ID         string
	AdapterID  string
	Input      string
	StartedAt  int64
	FinishedAt *int64
	Records    int
	Entities   int
	Unresolved int
	Unmatched  int
	Status     string
	Error      *string
}

// Ledger records the configured input of every adapter and the history of
// import runs in SQLite.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the SQLite database at path and ensures its
// tables exist.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS import_sources (
			adapter_id   TEXT PRIMARY KEY,
			description  TEXT NOT NULL,
			input        TEXT NOT NULL,
			last_check   INTEGER,
			last_status  INTEGER,
			last_error   TEXT,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS import_runs (
			run_id       TEXT PRIMARY KEY,
			adapter_id   TEXT NOT NULL,
			input        TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER,
			records      INTEGER NOT NULL DEFAULT 0,
			entities     INTEGER NOT NULL DEFAULT 0,
			unresolved   INTEGER NOT NULL DEFAULT 0,
			unmatched    INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS import_runs_started ON import_runs(started_at)`,
	}
	for _, q := range ddl {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("create ledger tables: %w", err)
		}
	}

	return &Ledger{db: db}, nil
}

// Close closes the SQLite connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Seed inserts default rows for each adapter (INSERT OR IGNORE: existing rows
// are left untouched so that manual input overrides survive restarts).
func (l *Ledger) Seed(adapters []Adapter) error {
	const q = `INSERT OR IGNORE INTO import_sources
		(adapter_id, description, input, updated_at)
		VALUES (?, ?, ?, ?)`

	now := time.Now().Unix()
	for _, a := range adapters {
		if _, err := l.db.Exec(q, a.ID(), a.Description(), a.DefaultInput(), now); err != nil {
			return fmt.Errorf("seed %s: %w", a.ID(), err)
		}
	}
	return nil
}

// GetInput returns the current input for a given adapter ID.
func (l *Ledger) GetInput(adapterID string) (string, error) {
	var input string
	err := l.db.QueryRow(`SELECT input FROM import_sources WHERE adapter_id = ?`, adapterID).Scan(&input)
	if err != nil {
		return "", fmt.Errorf("get input for %s: %w", adapterID, err)
	}
	return input, nil
}

// SetInput updates the input for a given adapter and records the change timestamp.
func (l *Ledger) SetInput(adapterID, input string) error {
	res, err := l.db.Exec(
		`UPDATE import_sources SET input = ?, updated_at = ? WHERE adapter_id = ?`,
		input, time.Now().Unix(), adapterID,
	)
	if err != nil {
		return fmt.Errorf("set input for %s: %w", adapterID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("adapter %s not found in import_sources", adapterID)
	}
	return nil
}

// UpdateCheck persists the result of an availability check.
func (l *Ledger) UpdateCheck(adapterID string, status int, checkErr string) error {
	now := time.Now().Unix()
	var errPtr *string
	if checkErr != "" {
		errPtr = &checkErr
	}
	_, err := l.db.Exec(
		`UPDATE import_sources SET last_check = ?, last_status = ?, last_error = ? WHERE adapter_id = ?`,
		now, status, errPtr, adapterID,
	)
	if err != nil {
		return fmt.Errorf("update check for %s: %w", adapterID, err)
	}
	return nil
}

// ListSources returns all rows from import_sources ordered by adapter_id.
func (l *Ledger) ListSources() ([]Source, error) {
	rows, err := l.db.Query(`SELECT adapter_id, description, input,
		last_check, last_status, last_error, updated_at
		FROM import_sources ORDER BY adapter_id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.AdapterID, &src.Description, &src.Input,
			&src.LastCheck, &src.LastStatus, &src.LastError, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// StartRun records the start of an import and returns its run id.
func (l *Ledger) StartRun(adapterID, input string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.Exec(
		`INSERT INTO import_runs (run_id, adapter_id, input, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		id, adapterID, input, time.Now().Unix(), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("start run for %s: %w", adapterID, err)
	}
	return id, nil
}

// FinishRun records the outcome of a run. rep may be nil when runErr is set.
func (l *Ledger) FinishRun(runID string, rep *Report, runErr error) error {
	status := StatusOK
	var errPtr *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errPtr = &msg
	}
	var records, entities, unresolved, unmatched int
	if rep != nil {
		records = rep.Stats.Records
		entities = rep.Stats.Entities
		unresolved = rep.Stats.UnresolvedCount()
		unmatched = rep.Stats.Unmatched
	}

	res, err := l.db.Exec(
		`UPDATE import_runs SET finished_at = ?, records = ?, entities = ?, unresolved = ?,
			unmatched = ?, status = ?, error = ? WHERE run_id = ?`,
		time.Now().Unix(), records, entities, unresolved, unmatched, status, errPtr, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns every run.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	q := `SELECT run_id, adapter_id, input, started_at, finished_at, records, entities,
		unresolved, unmatched, status, error
		FROM import_runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.AdapterID, &r.Input, &r.StartedAt, &r.FinishedAt,
			&r.Records, &r.Entities, &r.Unresolved, &r.Unmatched, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Execute runs adapter a and records the run in the ledger. When req.Input
// is empty the ledger's configured input is used.
func Execute(ctx context.Context, l *Ledger, a Adapter, req Request) (*Report, error) {
	if req.Input == "" {
		input, err := l.GetInput(a.ID())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		req.Input = input
	}
	if req.Input == "" {
		req.Input = a.DefaultInput()
	}

	runID, err := l.StartRun(a.ID(), req.Input)
	if err != nil {
		return nil, err
	}
	rep, importErr := a.Import(ctx, req)
	if err := l.FinishRun(runID, rep, importErr); err != nil {
		req.logger().Error("ledger: finish run", "run", runID, "error", err)
	}
	if importErr != nil {
		return nil, fmt.Errorf("%s: %w", a.ID(), importErr)
	}
	return rep, nil
}
