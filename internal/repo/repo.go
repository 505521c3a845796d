// Package repo reads the evaluation journal.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"etica/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EventFilter narrows journal queries. Zero values match everything.
type EventFilter struct {
	SystemID string
	Type     string
	RunID    string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.SystemID != "" {
		clauses = append(clauses, "system_id=?")
		args = append(args, f.SystemID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	return clauses, args
}

const eventColumns = `id,ts,type,run_id,COALESCE(system_id,''),payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.SystemID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom returns events older than cursor, newest first. A zero
// cursor starts from the most recent event.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM events WHERE id=?`, eventColumns), id)
	if err != nil {
		return domain.Event{}, err
	}
	events, err := scanEvents(rows)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, ErrNotFound
	}
	return events[0], nil
}

func (r Repo) LatestEventID(ctx context.Context, f EventFilter) (int64, error) {
	clauses, args := f.clauses()
	var id sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(id) FROM events WHERE %s`, strings.Join(clauses, " AND "))
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// RuleFrequencies aggregates the findings journaled for a system, most
// frequent rule first. An empty systemID covers every system.
func (r Repo) RuleFrequencies(ctx context.Context, systemID string) ([]domain.RuleFrequency, error) {
	query := `SELECT f.rule_id, COUNT(*), MAX(f.severity), MAX(e.id)
FROM run_findings f JOIN events e ON e.run_id = f.run_id
WHERE (? = '' OR e.system_id = ?)
GROUP BY f.rule_id
ORDER BY COUNT(*) DESC, f.rule_id ASC`
	rows, err := r.DB.QueryContext(ctx, query, systemID, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type row struct {
		freq    domain.RuleFrequency
		eventID int64
	}
	var found []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.freq.RuleID, &rw.freq.Runs, &rw.freq.MaxSeverity, &rw.eventID); err != nil {
			return nil, err
		}
		found = append(found, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.RuleFrequency, 0, len(found))
	for _, rw := range found {
		e, err := r.GetEvent(ctx, rw.eventID)
		if err != nil {
			return nil, err
		}
		rw.freq.LastRunID = e.RunID
		res = append(res, rw.freq)
	}
	return res, nil
}
