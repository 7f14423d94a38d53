package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	workspace TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_log(tool_name);
`

// SQLiteTrail persists audit entries to a local sqlite database.
type SQLiteTrail struct {
	db *sql.DB
}

// OpenSQLiteTrail opens (creating if needed) the audit database at path.
func OpenSQLiteTrail(path string) (*SQLiteTrail, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLiteTrail{db: db}, nil
}

// Close closes the underlying database.
func (t *SQLiteTrail) Close() error { return t.db.Close() }

func (t *SQLiteTrail) Record(entry Entry) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		params = []byte("{}")
	}
	success := 0
	if entry.Success {
		success = 1
	}
	_, err = t.db.Exec(
		`INSERT INTO audit_log (ts, session_id, tool_name, params, success, error, workspace, mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Time.UTC().Format(time.RFC3339Nano),
		entry.SessionID, entry.ToolName, string(params), success,
		entry.Error, entry.Workspace, entry.Mode,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (t *SQLiteTrail) Entries(filter Filter) ([]Entry, error) {
	query := `SELECT ts, session_id, tool_name, params, success, error, workspace, mode FROM audit_log`
	var conds []string
	var args []any
	if filter.ToolName != "" {
		conds = append(conds, "tool_name = ?")
		args = append(args, filter.ToolName)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.OnlyFailures {
		conds = append(conds, "success = 0")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := t.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, params string
		var success int
		if err := rows.Scan(&ts, &e.SessionID, &e.ToolName, &params, &success, &e.Error, &e.Workspace, &e.Mode); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Success = success == 1
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			e.Params = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
