package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/dz-approval-bridge/internal/audit"
	"github.com/xela07ax/dz-approval-bridge/internal/infra"
)

const outcomeColumns = "id, message_id, group_id, command, domain_id, subscription_req_id, issue_key, backend, disposition, reason, receive_count, duration_ms, timestamp"

const schema = `
CREATE TABLE IF NOT EXISTS workflow_outcomes (
	id                  UUID PRIMARY KEY,
	message_id          TEXT NOT NULL,
	group_id            TEXT NOT NULL DEFAULT '',
	command             TEXT NOT NULL,
	domain_id           TEXT NOT NULL DEFAULT '',
	subscription_req_id TEXT NOT NULL DEFAULT '',
	issue_key           TEXT NOT NULL DEFAULT '',
	backend             TEXT NOT NULL DEFAULT '',
	disposition         TEXT NOT NULL,
	reason              TEXT NOT NULL DEFAULT '',
	receive_count       BIGINT NOT NULL DEFAULT 0,
	duration_ms         BIGINT NOT NULL DEFAULT 0,
	timestamp           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_outcomes_message_idx ON workflow_outcomes (message_id);
CREATE INDEX IF NOT EXISTS workflow_outcomes_request_idx ON workflow_outcomes (domain_id, subscription_req_id);
`

// OutcomeFilter — фильтры чтения журнала. Пустые строки не фильтруют.
type OutcomeFilter struct {
	MessageID         string
	DomainID          string
	SubscriptionReqID string
	Limit             int
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo открывает пул и проверяет доступность базы.
func NewAuditRepo(ctx context.Context, cfg infra.DatabaseConfig) (*AuditRepo, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return &AuditRepo{pool: pool}, nil
}

// EnsureSchema создает таблицу журнала, если ее нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to ensure schema: %w", err)
	}
	return nil
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.OutcomeEvent) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildInsert(events)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to write outcomes: %w", err)
	}
	return nil
}

func (r *AuditRepo) FetchOutcomes(ctx context.Context, f OutcomeFilter) ([]audit.OutcomeEvent, error) {
	query, args := buildSelect(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]audit.OutcomeEvent, 0)
	for rows.Next() {
		var e audit.OutcomeEvent
		var disposition string
		if err := rows.Scan(&e.ID, &e.MessageID, &e.GroupID, &e.Command, &e.DomainID, &e.SubscriptionReqID,
			&e.IssueKey, &e.Backend, &disposition, &e.Reason, &e.ReceiveCount, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan outcome: %w", err)
		}
		e.Disposition = audit.Disposition(disposition)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Close() {
	r.pool.Close()
}

// buildInsert строит один INSERT на всю пачку
func buildInsert(events []audit.OutcomeEvent) (string, []any) {
	const numFields = 13
	var sb strings.Builder
	args := make([]any, 0, len(events)*numFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 1; j <= numFields; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+j)
		}
		sb.WriteByte(')')

		args = append(args,
			e.ID, e.MessageID, e.GroupID, e.Command, e.DomainID, e.SubscriptionReqID,
			e.IssueKey, e.Backend, string(e.Disposition), e.Reason, e.ReceiveCount, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf("INSERT INTO workflow_outcomes (%s) VALUES %s ON CONFLICT (id) DO NOTHING", outcomeColumns, sb.String())
	return query, args
}

func buildSelect(f OutcomeFilter) (string, []any) {
	var where []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("message_id", f.MessageID)
	add("domain_id", f.DomainID)
	add("subscription_req_id", f.SubscriptionReqID)

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := "SELECT " + outcomeColumns + " FROM workflow_outcomes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	return query, args
}
