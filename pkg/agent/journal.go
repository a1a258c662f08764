package agent

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wgnet/pkg/iface"
)

const journalSchema = `CREATE TABLE IF NOT EXISTS iface_ops(
	iface TEXT NOT NULL,
	op TEXT NOT NULL,
	state TEXT NOT NULL,
	stage TEXT,
	error TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_iface_ops_iface ON iface_ops(iface, ts);`

// Entry is one journaled interface outcome.
type Entry struct {
	Iface string
	Op    string
	State string
	Stage string
	Error string
	Time  time.Time
}

// Journal appends interface outcomes to a local sqlite table.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// OpenJournal opens or creates the database at path.
func OpenJournal(path string, log *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db, log: log.With("component", "journal"), now: time.Now}, nil
}

// Report implements Reporter. Write failures are logged, never returned.
func (j *Journal) Report(op string, st iface.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `INSERT INTO iface_ops(iface, op, state, stage, error, ts) VALUES(?,?,?,?,?,?)`,
		st.Name, op, st.State, st.Stage, st.Error, j.now().UnixMilli())
	if err != nil {
		j.log.Warn("journal write failed", "iface", st.Name, "op", op, "err", err)
	}
}

// Recent returns up to limit entries for name, newest first. An empty name
// matches every interface.
func (j *Journal) Recent(name string, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q := `SELECT iface, op, state, COALESCE(stage,''), COALESCE(error,''), ts FROM iface_ops`
	args := []any{}
	if name != "" {
		q += ` WHERE iface = ?`
		args = append(args, name)
	}
	q += ` ORDER BY ts DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.Iface, &e.Op, &e.State, &e.Stage, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune drops entries older than maxAge.
func (j *Journal) Prune(maxAge time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := j.db.ExecContext(ctx, `DELETE FROM iface_ops WHERE ts < ?`, j.now().Add(-maxAge).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error { return j.db.Close() }
