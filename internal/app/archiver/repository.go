package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventLogSQL = `
CREATE TABLE IF NOT EXISTS event_log (
  event_seq bigint PRIMARY KEY,
  subject text NOT NULL,
  event_name text NOT NULL,
  actor_id text NOT NULL DEFAULT '',
  task_id text NOT NULL DEFAULT '',
  comment_id text NOT NULL DEFAULT '',
  team_id text NOT NULL DEFAULT '',
  message text NOT NULL DEFAULT '',
  payload jsonb NOT NULL,
  emitted_at timestamptz,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createEventLogNameIdxSQL = `
CREATE INDEX IF NOT EXISTS event_log_name_idx ON event_log (event_name, inserted_at)`

const insertEntrySQL = `
INSERT INTO event_log (
  event_seq, subject, event_name, actor_id, task_id, comment_id, team_id,
  message, payload, emitted_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_seq) DO NOTHING
`

const listEntriesSQL = `
SELECT event_seq, subject, event_name, actor_id, task_id, comment_id, team_id,
       message, payload, emitted_at, inserted_at
FROM event_log`

// Entry is one archived push event. The stream sequence makes redelivered
// messages idempotent.
type Entry struct {
	EventSeq   uint64          `json:"eventSeq"`
	Subject    string          `json:"subject"`
	EventName  string          `json:"event"`
	ActorID    string          `json:"actorId,omitempty"`
	TaskID     string          `json:"taskId,omitempty"`
	CommentID  string          `json:"commentId,omitempty"`
	TeamID     string          `json:"teamId,omitempty"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EmittedAt  time.Time       `json:"emittedAt"`
	InsertedAt time.Time       `json:"insertedAt"`
}

// ListFilter narrows the activity log. Zero values mean "no constraint".
// Page and Limit are expected to be normalized by the caller.
type ListFilter struct {
	EventName string
	ActorID   string
	TaskID    string
	Page      int
	Limit     int
}

type Repository interface {
	InsertEntry(ctx context.Context, entry Entry) error
}

type EventLogRepository struct {
	Pool *pgxpool.Pool
}

func NewEventLogRepository(pool *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{Pool: pool}
}

func (r *EventLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createEventLogSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createEventLogNameIdxSQL); err != nil {
		return err
	}
	return nil
}

func (r *EventLogRepository) InsertEntry(ctx context.Context, entry Entry) error {
	var emittedAt any
	if !entry.EmittedAt.IsZero() {
		emittedAt = entry.EmittedAt
	}
	_, err := r.Pool.Exec(ctx, insertEntrySQL,
		int64(entry.EventSeq),
		entry.Subject,
		entry.EventName,
		entry.ActorID,
		entry.TaskID,
		entry.CommentID,
		entry.TeamID,
		entry.Message,
		entry.Payload,
		emittedAt,
	)
	return err
}

// ListEntries returns one page of the activity log, newest first, plus the
// total number of matching entries.
func (r *EventLogRepository) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	where, args := buildLogFilter(filter)

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT count(*) FROM event_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	listSQL := listEntriesSQL + where +
		fmt.Sprintf(` ORDER BY inserted_at DESC, event_seq DESC LIMIT %d OFFSET %d`, filter.Limit, offset)
	rows, err := r.Pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		var seq int64
		var emittedAt *time.Time
		if err := rows.Scan(&seq, &entry.Subject, &entry.EventName, &entry.ActorID,
			&entry.TaskID, &entry.CommentID, &entry.TeamID, &entry.Message,
			&entry.Payload, &emittedAt, &entry.InsertedAt); err != nil {
			return nil, 0, err
		}
		entry.EventSeq = uint64(seq)
		if emittedAt != nil {
			entry.EmittedAt = *emittedAt
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func buildLogFilter(filter ListFilter) (string, []any) {
	clauses := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.EventName != "" {
		clauses = append(clauses, `event_name = `+arg(filter.EventName))
	}
	if filter.ActorID != "" {
		clauses = append(clauses, `actor_id = `+arg(filter.ActorID))
	}
	if filter.TaskID != "" {
		clauses = append(clauses, `task_id = `+arg(filter.TaskID))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
