// Package events appends evaluation runs to the journal.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"etica/internal/domain"
)

// Journal event types.
const (
	TypeDetect    = "detect.run"
	TypeScore     = "score.run"
	TypeAssess    = "assess.run"
	TypeReconcile = "reconcile.run"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID, systemID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,system_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, runID, nullable(systemID), string(data))
	return err
}

// AppendFindings records which rules fired during a run.
func (w Writer) AppendFindings(ctx context.Context, tx *sql.Tx, runID string, findings []domain.DetectedTension) error {
	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO run_findings(run_id,rule_id,severity) VALUES (?,?,?)`,
			runID, f.RuleID, f.Severity); err != nil {
			return fmt.Errorf("record finding %s: %w", f.RuleID, err)
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
