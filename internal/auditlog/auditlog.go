// Package auditlog provides a SQLite-backed append-only ledger of
// persona and kex-key lifecycle events, independent of filesystem
// mtimes: create, load, generate-kex, import-kex, delete, shred.
package auditlog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// Event identifies the kind of lifecycle row being recorded.
type Event string

const (
	EventPersonaCreated  Event = "persona_created"
	EventPersonaLoaded   Event = "persona_loaded"
	EventKexGenerated    Event = "kex_generated"
	EventKexImported     Event = "kex_imported"
	EventKexDeleted      Event = "kex_deleted"
	EventKexPrivateShred Event = "kex_private_shredded"
	EventPersonaDeleted  Event = "persona_deleted"
)

var ErrNotInitialized = errors.New("audit database not initialized")

// Row is one ledger entry.
type Row struct {
	ID         string
	Event      Event
	PersonaHex string
	KexHex     string
	Detail     string
	CreatedAt  time.Time
}

// Ledger is a SQLite-backed append-only audit log.
type Ledger struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if absent) the audit database at dbPath and
// ensures its schema exists.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: dbPath}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			persona_hex TEXT NOT NULL,
			kex_hex TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_persona ON lifecycle_events(persona_hex);
		CREATE INDEX IF NOT EXISTS idx_events_created ON lifecycle_events(created_at);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}

	var version int
	err := l.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := l.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("set audit schema version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("query audit schema version: %w", err)
	}
	return nil
}

// Record appends one lifecycle event. kexHex may be empty for
// persona-level events.
func (l *Ledger) Record(event Event, personaHex, kexHex, detail string) error {
	if l == nil || l.db == nil {
		return ErrNotInitialized
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	row := Row{
		ID:         uuid.NewString(),
		Event:      event,
		PersonaHex: personaHex,
		KexHex:     kexHex,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := l.db.Exec(
		`INSERT INTO lifecycle_events (id, event, persona_hex, kex_hex, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, string(row.Event), row.PersonaHex, row.KexHex, row.Detail, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// ForPersona returns every recorded event for a persona, oldest first.
func (l *Ledger) ForPersona(personaHex string) ([]Row, error) {
	if l == nil || l.db == nil {
		return nil, ErrNotInitialized
	}
	rows, err := l.db.Query(
		`SELECT id, event, persona_hex, kex_hex, detail, created_at FROM lifecycle_events WHERE persona_hex = ? ORDER BY created_at ASC`,
		personaHex,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var event string
		if err := rows.Scan(&r.ID, &event, &r.PersonaHex, &r.KexHex, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		r.Event = Event(event)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DB exposes the underlying connection for health checks.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
