// Package engine runs detection and scoring for callers and journals every run.
package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"etica/internal/assessment"
	"etica/internal/config"
	"etica/internal/detect"
	"etica/internal/domain"
	"etica/internal/events"
	"etica/internal/metrics"
	"etica/internal/repo"
	"etica/internal/scoring"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Detector *detect.Detector
	Metrics  *metrics.Recorder
	Tracer   trace.Tracer
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// New wires an engine for cfg. db may be nil, in which case nothing is
// journaled.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := slog.Default().With("component", "engine")
	opts, err := cfg.DetectorOptions()
	if err != nil {
		return Engine{}, fmt.Errorf("detector: %w", err)
	}
	rec, err := metrics.New(nil)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Detector: detect.New(opts...),
		Metrics:  rec,
		Tracer:   otel.Tracer(instrumentationName),
		Logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}, nil
}

const instrumentationName = "etica/internal/engine"

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newRunID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) detector() *detect.Detector {
	if e.Detector != nil {
		return e.Detector
	}
	return detect.New()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// startSpan opens the span of one run. The returned end func records err.
func (e Engine) startSpan(ctx context.Context, op, runID, systemID string) (context.Context, func(*error)) {
	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	ctx, span := tracer.Start(ctx, "etica."+op, trace.WithAttributes(
		attribute.String("etica.run_id", runID),
		attribute.String("etica.system_id", systemID),
	))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// inputDigest is the SHA-256 of the canonical (RFC 8785) JSON of v.
func inputDigest(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// withDigest adds the input digest to payload. Inputs that cannot be encoded
// (NaN exposure scores) are journaled without one.
func (e Engine) withDigest(payload events.EventPayload, input any) events.EventPayload {
	digest, err := inputDigest(input)
	if err != nil {
		e.logger().Debug("input digest skipped", "error", err)
		return payload
	}
	payload["input_sha256"] = digest
	return payload
}

func (e Engine) journalEnabled() bool {
	return e.DB != nil && (e.Config == nil || e.Config.JournalEnabled())
}

// DetectRequest is the input of a detection run.
type DetectRequest struct {
	SystemID string               `json:"system_id,omitempty"`
	Profile  domain.SystemProfile `json:"profile"`
	Nodes    []domain.Node        `json:"nodes,omitempty"`
	Edges    []domain.Edge        `json:"edges,omitempty"`
}

type DetectResult struct {
	RunID        string                   `json:"run_id"`
	Tensions     []domain.DetectedTension `json:"tensions"`
	SkippedRules []string                 `json:"skipped_rules"`
}

// Detect evaluates the rule catalog. Failing rules are skipped and listed in
// the result.
func (e Engine) Detect(ctx context.Context, req DetectRequest) (_ DetectResult, err error) {
	runID := e.newRunID()
	ctx, end := e.startSpan(ctx, "detect", runID, req.SystemID)
	defer end(&err)
	res := e.detector().Evaluate(req.Profile, req.Nodes, req.Edges)
	skipped := skippedRules(res)
	e.Metrics.RecordDetection(ctx, "detect", res.Tensions, skipped)

	payload := e.withDigest(events.EventPayload{
		"tensions":      len(res.Tensions),
		"rule_ids":      ruleIDs(res.Tensions),
		"skipped_rules": skipped,
	}, req)
	if err := e.journal(ctx, events.TypeDetect, runID, req.SystemID, payload, res.Tensions); err != nil {
		return DetectResult{}, err
	}
	return DetectResult{RunID: runID, Tensions: res.Tensions, SkippedRules: skipped}, nil
}

// ScoreRequest is the input of a scoring run.
type ScoreRequest struct {
	SystemID string               `json:"system_id,omitempty"`
	Profile  domain.SystemProfile `json:"profile"`
	Edges    []domain.Edge        `json:"edges,omitempty"`
	Tensions []domain.Tension     `json:"tensions,omitempty"`
	Actions  []domain.Action      `json:"actions,omitempty"`
}

type ScoreResult struct {
	RunID  string                  `json:"run_id"`
	Scores scoring.VigilanceScores `json:"scores"`
}

// Score computes vigilance scores from the tensions and actions as given.
func (e Engine) Score(ctx context.Context, req ScoreRequest) (_ ScoreResult, err error) {
	runID := e.newRunID()
	ctx, end := e.startSpan(ctx, "score", runID, req.SystemID)
	defer end(&err)
	scores := scoring.Score(req.Profile, req.Edges, req.Tensions, req.Actions)
	e.Metrics.RecordScore(ctx, "score", scores.Global, scores.GlobalLevel)

	if err := e.journal(ctx, events.TypeScore, runID, req.SystemID, e.withDigest(scorePayload(scores), req), nil); err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{RunID: runID, Scores: scores}, nil
}

type ReconcileResult struct {
	RunID        string                    `json:"run_id"`
	Detected     []domain.DetectedTension  `json:"detected"`
	SkippedRules []string                  `json:"skipped_rules"`
	Result       assessment.Reconciliation `json:"reconciliation"`
}

// Reconcile detects tensions for doc and merges them into the tensions the
// document already records.
func (e Engine) Reconcile(ctx context.Context, doc assessment.Document) (_ ReconcileResult, err error) {
	runID := e.newRunID()
	ctx, end := e.startSpan(ctx, "reconcile", runID, doc.SystemID)
	defer end(&err)
	res, rec, skipped := e.reconcile(ctx, "reconcile", doc)

	payload := e.withDigest(reconcilePayload(res, rec, skipped), doc)
	if err := e.journal(ctx, events.TypeReconcile, runID, doc.SystemID, payload, res.Tensions); err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{RunID: runID, Detected: res.Tensions, SkippedRules: skipped, Result: rec}, nil
}

type AssessResult struct {
	RunID        string                    `json:"run_id"`
	Detected     []domain.DetectedTension  `json:"detected"`
	SkippedRules []string                  `json:"skipped_rules"`
	Result       assessment.Reconciliation `json:"reconciliation"`
	Scores       scoring.VigilanceScores   `json:"scores"`
}

// Assess runs the whole pipeline on a document: detection, reconciliation
// with the recorded tensions, then scoring of the reconciled tensions.
func (e Engine) Assess(ctx context.Context, doc assessment.Document) (_ AssessResult, err error) {
	runID := e.newRunID()
	ctx, end := e.startSpan(ctx, "assess", runID, doc.SystemID)
	defer end(&err)
	res, rec, skipped := e.reconcile(ctx, "assess", doc)
	scores := scoring.Score(doc.Profile, doc.Edges, rec.Tensions, doc.Actions)
	e.Metrics.RecordScore(ctx, "assess", scores.Global, scores.GlobalLevel)

	payload := e.withDigest(reconcilePayload(res, rec, skipped), doc)
	for k, v := range scorePayload(scores) {
		payload[k] = v
	}
	if err := e.journal(ctx, events.TypeAssess, runID, doc.SystemID, payload, res.Tensions); err != nil {
		return AssessResult{}, err
	}
	return AssessResult{
		RunID:        runID,
		Detected:     res.Tensions,
		SkippedRules: skipped,
		Result:       rec,
		Scores:       scores,
	}, nil
}

func (e Engine) reconcile(ctx context.Context, operation string, doc assessment.Document) (detect.Result, assessment.Reconciliation, []string) {
	res := e.detector().Evaluate(doc.Profile, doc.Nodes, doc.Edges)
	skipped := skippedRules(res)
	e.Metrics.RecordDetection(ctx, operation, res.Tensions, skipped)
	return res, assessment.Reconcile(doc.SystemID, doc.Tensions, res.Tensions), skipped
}

// journal records one run with the rules that fired.
func (e Engine) journal(ctx context.Context, evtType, runID, systemID string, payload events.EventPayload, findings []domain.DetectedTension) error {
	if !e.journalEnabled() {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal %s: %w", evtType, err)
	}
	defer tx.Rollback()

	w := e.Events
	w.Now = e.now
	if err := w.Append(ctx, tx, evtType, runID, systemID, payload); err != nil {
		return fmt.Errorf("journal %s: %w", evtType, err)
	}
	if err := w.AppendFindings(ctx, tx, runID, findings); err != nil {
		return fmt.Errorf("journal %s: %w", evtType, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal %s: %w", evtType, err)
	}
	e.logger().Debug("run journaled", "type", evtType, "run_id", runID, "system_id", systemID)
	return nil
}

// Journal returns the most recent runs, newest first.
func (e Engine) Journal(ctx context.Context, limit int, f repo.EventFilter) ([]domain.Event, error) {
	if e.DB == nil {
		return []domain.Event{}, nil
	}
	return e.Repo.LatestEvents(ctx, limit, f)
}

func skippedRules(res detect.Result) []string {
	out := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		out = append(out, f.RuleID)
	}
	return out
}

func ruleIDs(ts []domain.DetectedTension) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.RuleID)
	}
	return out
}

func scorePayload(s scoring.VigilanceScores) events.EventPayload {
	return events.EventPayload{
		"global":              s.Global,
		"global_level":        s.GlobalLevel,
		"coverage":            s.Coverage,
		"tension_count":       s.TensionCount,
		"active_action_count": s.ActiveActionCount,
	}
}

func reconcilePayload(res detect.Result, rec assessment.Reconciliation, skipped []string) events.EventPayload {
	return events.EventPayload{
		"tensions":      len(res.Tensions),
		"rule_ids":      ruleIDs(res.Tensions),
		"skipped_rules": skipped,
		"created":       len(rec.Created),
		"updated":       len(rec.Updated),
		"stale":         len(rec.Stale),
	}
}
