// Package index keeps a SQLite ledger of fresh renders.
//
// The ledger is informational: it lets "readmetex cache list" show what was
// rendered when and by which engine. Failures here never fail a render run.
package index

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/FocuswithJustin/readmetex/core/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS renders (
	name        TEXT PRIMARY KEY,
	expression  TEXT NOT NULL,
	engine      TEXT NOT NULL,
	display     INTEGER NOT NULL,
	rendered_at TEXT NOT NULL
);`

// Entry is one recorded render.
type Entry struct {
	Name       string
	Expression string
	Engine     string
	Display    bool
	RenderedAt time.Time
}

// Index is the render ledger backed by a SQLite database file.
type Index struct {
	db *sql.DB
}

// Open opens (and if necessary initializes) the ledger at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing render ledger")
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Record upserts one fresh render. Re-rendering the same expression
// refreshes its timestamp.
func (ix *Index) Record(name, expression, engine string, display bool) error {
	_, err := ix.db.Exec(`
		INSERT INTO renders (name, expression, engine, display, rendered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			expression = excluded.expression,
			engine = excluded.engine,
			display = excluded.display,
			rendered_at = excluded.rendered_at`,
		name, expression, engine, boolToInt(display), time.Now().UTC().Format(time.RFC3339))
	return errors.Wrap(err, "recording render")
}

// List returns all recorded renders, most recent first.
func (ix *Index) List() ([]Entry, error) {
	rows, err := ix.db.Query(`
		SELECT name, expression, engine, display, rendered_at
		FROM renders ORDER BY rendered_at DESC, name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing renders")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var display int
		var renderedAt string
		if err := rows.Scan(&e.Name, &e.Expression, &e.Engine, &display, &renderedAt); err != nil {
			return nil, errors.Wrap(err, "scanning render row")
		}
		e.Display = display != 0
		e.RenderedAt, _ = time.Parse(time.RFC3339, renderedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes every recorded render.
func (ix *Index) Clear() error {
	_, err := ix.db.Exec(`DELETE FROM renders`)
	return errors.Wrap(err, "clearing render ledger")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
