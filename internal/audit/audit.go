// Package audit журналирует ходы диалога в SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vgpt/internal/dialog"
	"vgpt/internal/middleware"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT,
	session_id TEXT,
	model TEXT NOT NULL,
	user_text TEXT NOT NULL,
	reply TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
`

// Entry строка журнала.
type Entry struct {
	ID        int64
	RequestID string
	SessionID string
	Model     string
	UserText  string
	Reply     string
	Outcome   string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Log реализует dialog.Recorder поверх SQLite.
type Log struct {
	db    *sql.DB
	model string
	now   func() time.Time
}

func Open(path string, model string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// SQLite не любит параллельных писателей.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &Log{db: db, model: model, now: time.Now}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) RecordTurn(ctx context.Context, rec dialog.TurnRecord) error {
	errText := ""
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turns (request_id, session_id, model, user_text, reply, outcome, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		middleware.GetRequestID(ctx), rec.SessionID, l.model, rec.UserText, rec.Reply,
		string(rec.Outcome), errText, rec.Duration.Milliseconds(), l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Session возвращает ходы сессии в порядке записи.
func (l *Log) Session(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, request_id, session_id, model, user_text, reply, outcome, error, duration_ms, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			requestID  sql.NullString
			errText    sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &requestID, &e.SessionID, &e.Model, &e.UserText, &e.Reply, &e.Outcome, &errText, &durationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.RequestID = requestID.String
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count количество записей по исходу.
func (l *Log) Count(ctx context.Context, outcome dialog.Outcome) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE outcome = ?`, string(outcome)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}
