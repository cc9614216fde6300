// Package journal records the alerts routed to stations in the
// station_alerts table. The journal is history only; station state is
// never restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeFormat is fixed-width UTC so received_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Entry is one routed alert.
type Entry struct {
	ID          string    `json:"id"`
	SensorID    string    `json:"sensor_id"`
	StreetID    string    `json:"street_id"`
	Topic       string    `json:"topic"`
	PayloadKind string    `json:"payload_kind"`
	AlertText   string    `json:"alert_text"`
	FromMode    string    `json:"from_mode"`
	ToMode      string    `json:"to_mode"`
	ModeChanged bool      `json:"mode_changed"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	SensorID    string // optional: one station only
	ChangedOnly bool   // only alerts that switched the mode
	Limit       int    // default 50, max 500
	Offset      int    // pagination offset
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is the journal storage.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record appends an entry. ID and ReceivedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "alr-" + uuid.NewString()[:8]
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	changed := 0
	if entry.ModeChanged {
		changed = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO station_alerts
		 (id, sensor_id, street_id, topic, payload_kind, alert_text, from_mode, to_mode, mode_changed, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SensorID, entry.StreetID, entry.Topic, entry.PayloadKind,
		entry.AlertText, entry.FromMode, entry.ToMode, changed,
		entry.ReceivedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting station alert: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
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
	if filter.SensorID != "" {
		conditions = append(conditions, "sensor_id = ?")
		args = append(args, filter.SensorID)
	}
	if filter.ChangedOnly {
		conditions = append(conditions, "mode_changed = 1")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM station_alerts " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting station alerts: %w", err)
	}

	query := "SELECT id, sensor_id, street_id, topic, payload_kind, alert_text, from_mode, to_mode, mode_changed, received_at " + //nolint:gosec // WHERE built from parameterised conditions
		"FROM station_alerts " + where + " ORDER BY received_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying station alerts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var changed int
		var receivedAt string

		if err := rows.Scan(&e.ID, &e.SensorID, &e.StreetID, &e.Topic, &e.PayloadKind,
			&e.AlertText, &e.FromMode, &e.ToMode, &changed, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning station alert: %w", err)
		}

		e.ModeChanged = changed != 0
		t, err := time.Parse(timeFormat, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing station alert timestamp %q: %w", receivedAt, err)
		}
		e.ReceivedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating station alerts: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
