package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/spaceai-pacer/internal/audit"
)

// Schema — таблица журнала политических событий
const Schema = `
CREATE TABLE IF NOT EXISTS policy_audit (
	id           UUID PRIMARY KEY,
	trace_id     TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	action_id    TEXT NOT NULL,
	type         TEXT NOT NULL,
	action       TEXT NOT NULL,
	params       JSONB NOT NULL,
	policy_event TEXT NOT NULL,
	profile      TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS policy_audit_session_ts ON policy_audit (session_id, timestamp);
`

// Количество колонок в таблице policy_audit
const numFields = 10

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns, minConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if minConns > 0 {
		db.SetMaxIdleConns(minConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate создает таблицу, если ее нет
func (r *AuditRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate policy_audit: %w", err)
	}
	return nil
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	query, vals, err := buildInsert(events)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("failed to insert audit batch: %w", err)
	}
	return nil
}

// buildInsert динамически строит запрос для пакетной вставки
func buildInsert(events []audit.AuditEvent) (string, []interface{}, error) {
	var sb strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		params, err := json.Marshal(e.Params)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode params of event %s: %w", e.ID, err)
		}

		vals = append(vals,
			e.ID, e.TraceID, e.SessionID, e.ActionID, e.Type, e.Action,
			params, e.Result.PolicyEvent, e.Result.Profile, e.Timestamp,
		)
	}

	query := "INSERT INTO policy_audit (id, trace_id, session_id, action_id, type, action, params, policy_event, profile, timestamp) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals, nil
}
