package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/devassist/pkg/models"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteKnowledgeLog is an append-only knowledge log in a single SQLite
// database. Rows are only ever inserted.
type SQLiteKnowledgeLog struct {
	db   *sql.DB
	path string

	// mu admits one writer at a time within the process.
	mu sync.Mutex
}

// NewSQLiteKnowledgeLog opens (creating if needed) knowledge.db under dir.
func NewSQLiteKnowledgeLog(dir string) (*SQLiteKnowledgeLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("knowledge: create data dir: %w", err)
	}

	path := filepath.Join(dir, "knowledge.db")
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("knowledge: pragma %q: %w", p, err)
		}
	}

	l := &SQLiteKnowledgeLog{db: db, path: path}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("knowledge: migration: %w", err)
	}
	return l, nil
}

func (l *SQLiteKnowledgeLog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS knowledge_records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			kind       TEXT    NOT NULL,
			category   TEXT    NOT NULL,
			session_id TEXT,
			created_at TEXT    NOT NULL,
			body       TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_kind ON knowledge_records(kind);
		CREATE INDEX IF NOT EXISTS idx_knowledge_session ON knowledge_records(session_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (l *SQLiteKnowledgeLog) Path() string { return l.path }

// Close closes the underlying database connection.
func (l *SQLiteKnowledgeLog) Close() error {
	return l.db.Close()
}

// Append inserts rec as a new row.
func (l *SQLiteKnowledgeLog) Append(rec models.KnowledgeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding knowledge record %s: %w", rec.ID, err)
	}
	var sessionID any
	if rec.SessionID != "" {
		sessionID = rec.SessionID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(
		`INSERT INTO knowledge_records (id, kind, category, session_id, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Category, sessionID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(body),
	)
	if err != nil {
		return fmt.Errorf("inserting knowledge record %s: %w", rec.ID, err)
	}
	return nil
}

// ReadAll returns every row in insertion order. Rows whose body cannot be
// decoded are skipped and reported through an error wrapping
// ErrCorruptRecords.
func (l *SQLiteKnowledgeLog) ReadAll() ([]models.KnowledgeRecord, error) {
	rows, err := l.db.Query(`SELECT body FROM knowledge_records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying knowledge records: %v", ErrCorruptRecords, err)
	}
	defer rows.Close()

	var (
		out     []models.KnowledgeRecord
		skipped int
	)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			skipped++
			continue
		}
		rec, ok := decodeRecord([]byte(body))
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("%w: iterating knowledge records: %v", ErrCorruptRecords, err)
	}
	if skipped > 0 {
		return out, fmt.Errorf("%w: %d malformed rows in %s", ErrCorruptRecords, skipped, l.path)
	}
	return out, nil
}
