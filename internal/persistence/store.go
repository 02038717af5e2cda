// Package persistence stores tensions and pipeline results in SQLite.
// The store is the durable sink behind the reasoning coordinator and
// the capability evolver; everything else holds state in memory.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/tension"
)

// Store persists tensions, reasoning results, and evolution records.
// It implements reasoning.ResultSink and agent.EvolutionSink.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an already-open database and ensures the schema
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for sharing with the event store
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tensions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		tension_type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analyses (
		tension_id TEXT PRIMARY KEY,
		analysis TEXT NOT NULL,
		saved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS solutions (
		tension_id TEXT NOT NULL,
		solution_id TEXT NOT NULL,
		solution TEXT NOT NULL,
		saved_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tension_id, solution_id)
	);

	CREATE TABLE IF NOT EXISTS priorities (
		tension_id TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		saved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evolutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		result TEXT NOT NULL,
		evolved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS template_stats (
		template_name TEXT PRIMARY KEY,
		stats TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tensions_status ON tensions(status);
	CREATE INDEX IF NOT EXISTS idx_solutions_tension ON solutions(tension_id);
	CREATE INDEX IF NOT EXISTS idx_evolutions_agent ON evolutions(agent_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SaveTension upserts a tension
func (s *Store) SaveTension(t *tension.Tension) error {
	if t == nil {
		return fmt.Errorf("nil tension")
	}
	_, err := s.db.Exec(`
		INSERT INTO tensions (id, title, description, tension_type, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			tension_type = excluded.tension_type,
			priority = excluded.priority,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Description, string(t.Type), int(t.Priority), t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save tension %s: %w", t.ID, err)
	}
	return nil
}

// GetTension loads a tension by id. Returns nil, nil when absent.
func (s *Store) GetTension(id string) (*tension.Tension, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, tension_type, priority, status, created_at, updated_at
		FROM tensions WHERE id = ?`, id)

	var (
		t            tension.Tension
		tensionType  string
		priority     int
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &tensionType, &priority, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tension %s: %w", id, err)
	}
	t.Type = tension.Type(tensionType)
	t.Priority = tension.Priority(priority)
	return &t, nil
}

// ListTensions returns tensions matching status, newest first. An empty
// status matches everything.
func (s *Store) ListTensions(status string, limit int) ([]*tension.Tension, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, title, description, tension_type, priority, status, created_at, updated_at
		FROM tensions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tensions: %w", err)
	}
	defer rows.Close()

	var out []*tension.Tension
	for rows.Next() {
		var (
			t           tension.Tension
			tensionType string
			priority    int
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &tensionType, &priority, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tension: %w", err)
		}
		t.Type = tension.Type(tensionType)
		t.Priority = tension.Priority(priority)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SaveAnalysis persists the analysis for a tension, replacing any prior
// one
func (s *Store) SaveAnalysis(tensionID string, analysis *reasoning.Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO analyses (tension_id, analysis, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(tension_id) DO UPDATE SET analysis = excluded.analysis, saved_at = excluded.saved_at`,
		tensionID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save analysis for %s: %w", tensionID, err)
	}
	return nil
}

// GetAnalysis loads the stored analysis for a tension. Returns nil, nil
// when absent.
func (s *Store) GetAnalysis(tensionID string) (*reasoning.Analysis, error) {
	var data string
	err := s.db.QueryRow(`SELECT analysis FROM analyses WHERE tension_id = ?`, tensionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis for %s: %w", tensionID, err)
	}
	var analysis reasoning.Analysis
	if err := json.Unmarshal([]byte(data), &analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis for %s: %w", tensionID, err)
	}
	return &analysis, nil
}

// SaveSolutions persists generated solutions for a tension
func (s *Store) SaveSolutions(tensionID string, solutions []*reasoning.Solution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, solution := range solutions {
		data, err := json.Marshal(solution)
		if err != nil {
			return fmt.Errorf("failed to marshal solution %s: %w", solution.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO solutions (tension_id, solution_id, solution, saved_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(tension_id, solution_id) DO UPDATE SET solution = excluded.solution, saved_at = excluded.saved_at`,
			tensionID, solution.ID, string(data), time.Now()); err != nil {
			return fmt.Errorf("failed to save solution %s: %w", solution.ID, err)
		}
	}
	return tx.Commit()
}

// GetSolutions loads stored solutions for a tension
func (s *Store) GetSolutions(tensionID string) ([]*reasoning.Solution, error) {
	rows, err := s.db.Query(`SELECT solution FROM solutions WHERE tension_id = ? ORDER BY saved_at ASC`, tensionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solutions for %s: %w", tensionID, err)
	}
	defer rows.Close()

	var out []*reasoning.Solution
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		var solution reasoning.Solution
		if err := json.Unmarshal([]byte(data), &solution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal solution: %w", err)
		}
		out = append(out, &solution)
	}
	return out, rows.Err()
}

// SavePriority persists the priority calculation for a tension
func (s *Store) SavePriority(tensionID string, result *reasoning.CalcResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal priority result: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO priorities (tension_id, result, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(tension_id) DO UPDATE SET result = excluded.result, saved_at = excluded.saved_at`,
		tensionID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save priority for %s: %w", tensionID, err)
	}
	return nil
}

// GetPriority loads the stored priority result for a tension. Returns
// nil, nil when absent.
func (s *Store) GetPriority(tensionID string) (*reasoning.CalcResult, error) {
	var data string
	err := s.db.QueryRow(`SELECT result FROM priorities WHERE tension_id = ?`, tensionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load priority for %s: %w", tensionID, err)
	}
	var result reasoning.CalcResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal priority for %s: %w", tensionID, err)
	}
	return &result, nil
}

// SaveEvolution appends an evolution record for an agent
func (s *Store) SaveEvolution(agentID string, result *agent.EvolutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal evolution result: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO evolutions (agent_id, result, evolved_at) VALUES (?, ?, ?)`,
		agentID, string(data), result.EvolvedAt)
	if err != nil {
		return fmt.Errorf("failed to save evolution for %s: %w", agentID, err)
	}
	return nil
}

// GetEvolutions loads evolution records for an agent, oldest first
func (s *Store) GetEvolutions(agentID string) ([]*agent.EvolutionResult, error) {
	rows, err := s.db.Query(`SELECT result FROM evolutions WHERE agent_id = ? ORDER BY id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evolutions for %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []*agent.EvolutionResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan evolution: %w", err)
		}
		var result agent.EvolutionResult
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evolution: %w", err)
		}
		out = append(out, &result)
	}
	return out, rows.Err()
}

// SaveTemplateStats upserts the stats snapshot for a template
func (s *Store) SaveTemplateStats(templateName string, stats *agent.TemplateStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal template stats: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO template_stats (template_name, stats, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(template_name) DO UPDATE SET stats = excluded.stats, updated_at = excluded.updated_at`,
		templateName, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save stats for %s: %w", templateName, err)
	}
	return nil
}

// GetTemplateStats loads all persisted template stats
func (s *Store) GetTemplateStats() (map[string]*agent.TemplateStats, error) {
	rows, err := s.db.Query(`SELECT template_name, stats FROM template_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to load template stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*agent.TemplateStats)
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan template stats: %w", err)
		}
		var stats agent.TemplateStats
		if err := json.Unmarshal([]byte(data), &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats for %s: %w", name, err)
		}
		out[name] = &stats
	}
	return out, rows.Err()
}
