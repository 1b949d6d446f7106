// Package journal persists the agent's connection lifecycle in SQLite:
// state transitions, credential issuance and publish outcomes.
//
// Rows are written off the event loop by a Recorder; the status server
// reads them back through Repository.List.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a journal entry.
type Kind string

// Entry kinds.
const (
	KindState      Kind = "state"
	KindCredential Kind = "credential"
	KindPublish    Kind = "publish"
)

// timeLayout has fixed-width fractions so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Event is a single journal entry.
type Event struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Device    string     `json:"device"`
	FromState string     `json:"from_state,omitempty"`
	ToState   string     `json:"to_state,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Error     string     `json:"error,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Filter controls which events to return.
type Filter struct {
	Kind   Kind // optional
	Limit  int  // default 50, max 200
	Offset int
}

// ListResult contains a page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists journal events.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the connection_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts ev. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var expiresAt any
	if ev.ExpiresAt != nil {
		expiresAt = ev.ExpiresAt.UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (id, kind, device, from_state, to_state, topic, error, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Device,
		nullableString(ev.FromState), nullableString(ev.ToState),
		nullableString(ev.Topic), nullableString(ev.Error),
		expiresAt,
		ev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM connection_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal events: %w", err)
	}

	query := "SELECT id, kind, device, from_state, to_state, topic, error, expires_at, created_at FROM connection_events " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var kind, createdAt string
	var from, to, topic, errText, expiresAt sql.NullString

	if err := rows.Scan(&ev.ID, &kind, &ev.Device, &from, &to, &topic, &errText, &expiresAt, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning journal event: %w", err)
	}
	ev.Kind = Kind(kind)
	ev.FromState = from.String
	ev.ToState = to.String
	ev.Topic = topic.String
	ev.Error = errText.String

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return Event{}, fmt.Errorf("parsing journal expiry %q: %w", expiresAt.String, err)
		}
		ev.ExpiresAt = &t
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	ev.CreatedAt = t

	return ev, nil
}
