// Package manifest records each tiling run and the tiles it emitted in SQLite.
package manifest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the manifest database name inside the output directory.
const FileName = "tiles.sqlite"

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the tiler.
type Run struct {
	ID          string     `json:"run_id"`
	Status      RunStatus  `json:"status"`
	InputPath   string     `json:"input_path"`
	ParamsYAML  string     `json:"params_yaml"`
	Transcripts int        `json:"transcripts"`
	Tiles       int        `json:"tiles"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Tile is one emitted tile file.
type Tile struct {
	Col         int     `json:"col"`
	Row         int     `json:"row"`
	MinX        float64 `json:"min_x"`
	MaxX        float64 `json:"max_x"`
	MinY        float64 `json:"min_y"`
	MaxY        float64 `json:"max_y"`
	CoreMinX    float64 `json:"core_min_x"`
	CoreMaxX    float64 `json:"core_max_x"`
	CoreMinY    float64 `json:"core_min_y"`
	CoreMaxY    float64 `json:"core_max_y"`
	Transcripts int     `json:"transcripts"`
	Expansions  int     `json:"expansions"`
	Saturated   bool    `json:"saturated"`
	Path        string  `json:"path"`
	Bytes       int64   `json:"bytes"`
	SHA256      string  `json:"sha256"`
}

// Store provides persistent storage for runs and tiles using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the manifest at dbPath.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		input_path TEXT NOT NULL,
		params_yaml TEXT NOT NULL,
		transcripts INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS tiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		col INTEGER NOT NULL,
		row INTEGER NOT NULL,
		min_x REAL NOT NULL,
		max_x REAL NOT NULL,
		min_y REAL NOT NULL,
		max_y REAL NOT NULL,
		core_min_x REAL NOT NULL,
		core_max_x REAL NOT NULL,
		core_min_y REAL NOT NULL,
		core_max_y REAL NOT NULL,
		transcripts INTEGER NOT NULL,
		expansions INTEGER NOT NULL,
		saturated INTEGER NOT NULL,
		path TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_run ON tiles(run_id, row, col);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new run with status=running and returns its id.
func (s *Store) CreateRun(inputPath, paramsYAML string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	run := &Run{
		ID:         id.String(),
		Status:     RunStatusRunning,
		InputPath:  inputPath,
		ParamsYAML: paramsYAML,
		StartedAt:  time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, status, input_path, params_yaml, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, string(run.Status), run.InputPath, run.ParamsYAML, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// InsertTile records one emitted tile.
func (s *Store) InsertTile(runID string, t *Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tiles (run_id, col, row, min_x, max_x, min_y, max_y,
			core_min_x, core_max_x, core_min_y, core_max_y,
			transcripts, expansions, saturated, path, bytes, sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID, t.Col, t.Row, t.MinX, t.MaxX, t.MinY, t.MaxY,
		t.CoreMinX, t.CoreMaxX, t.CoreMinY, t.CoreMaxY,
		t.Transcripts, t.Expansions, t.Saturated, t.Path, t.Bytes, t.SHA256,
	)
	return err
}

// FinishRun marks a run completed (errMsg empty) or failed.
func (s *Store) FinishRun(runID string, transcripts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := RunStatusCompleted
	if errMsg != "" {
		status = RunStatusFailed
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, transcripts = ?, error = ?, finished_at = ?
		WHERE run_id = ?
	`, string(status), transcripts, errMsg, time.Now().UTC().Format(time.RFC3339Nano), runID)
	return err
}

// GetRun retrieves a run by ID, with its tile count. Returns nil if absent.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT r.run_id, r.status, r.input_path, r.params_yaml, r.transcripts, r.error,
			r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM tiles t WHERE t.run_id = r.run_id)
		FROM runs r WHERE r.run_id = ?
	`, runID)

	var run Run
	var startedAtStr string
	var finishedAtStr sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.InputPath,
		&run.ParamsYAML,
		&run.Transcripts,
		&run.Error,
		&startedAtStr,
		&finishedAtStr,
		&run.Tiles,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAtStr.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// ListTiles returns the tiles of a run in grid order.
func (s *Store) ListTiles(runID string) ([]*Tile, error) {
	rows, err := s.db.Query(`
		SELECT col, row, min_x, max_x, min_y, max_y,
			core_min_x, core_max_x, core_min_y, core_max_y,
			transcripts, expansions, saturated, path, bytes, sha256
		FROM tiles WHERE run_id = ? ORDER BY row, col
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiles []*Tile
	for rows.Next() {
		var t Tile
		if err := rows.Scan(
			&t.Col, &t.Row, &t.MinX, &t.MaxX, &t.MinY, &t.MaxY,
			&t.CoreMinX, &t.CoreMaxX, &t.CoreMinY, &t.CoreMaxY,
			&t.Transcripts, &t.Expansions, &t.Saturated, &t.Path, &t.Bytes, &t.SHA256,
		); err != nil {
			return nil, err
		}
		tiles = append(tiles, &t)
	}
	return tiles, rows.Err()
}
