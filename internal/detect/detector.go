// Package detect evaluates the tension rule catalog against a system profile
// and its mapped data/decision flows.
package detect

import (
	"errors"
	"fmt"
	"log/slog"

	"etica/internal/domain"
)

// Rule is one entry of the catalog. Match decides whether the rule fires;
// Related lists the edges and nodes that satisfied it; Adjust returns a
// severity delta applied on top of BaseSeverity.
type Rule struct {
	ID           string
	Name         string
	PatternID    string
	Domains      [2]domain.EthicalDomain
	BaseSeverity int
	Confidence   domain.Confidence
	Custom       bool

	Match   func(in *Input) (bool, error)
	Related func(in *Input) (edgeIDs, nodeIDs []string, err error)
	Adjust  func(in *Input) (int, error)
}

// RuleEvaluationError reports a rule that failed and was skipped.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Result is the outcome of one evaluation: findings in catalog order plus the
// rules that had to be skipped.
type Result struct {
	Tensions []domain.DetectedTension `json:"tensions"`
	Failures []*RuleEvaluationError   `json:"-"`
}

type Detector struct {
	rules    []Rule
	disabled map[string]bool
	keywords Keywords
	logger   *slog.Logger
}

type Option func(*Detector)

func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDisabledRules skips the given rule ids.
func WithDisabledRules(ids ...string) Option {
	return func(d *Detector) {
		for _, id := range ids {
			d.disabled[id] = true
		}
	}
}

// WithKeywords replaces the keyword lists that are non-empty in k.
func WithKeywords(k Keywords) Option {
	return func(d *Detector) {
		d.keywords = d.keywords.merge(k)
	}
}

// WithRules appends rules after the built-in catalog, in the given order.
func WithRules(rules ...Rule) Option {
	return func(d *Detector) {
		d.rules = append(d.rules, rules...)
	}
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(rules []Rule) Option {
	return func(d *Detector) {
		d.rules = append([]Rule(nil), rules...)
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{
		rules:    Catalog(),
		disabled: map[string]bool{},
		keywords: DefaultKeywords(),
		logger:   slog.Default().With("component", "detect"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Rules returns the active rules in evaluation order.
func (d *Detector) Rules() []Rule {
	out := make([]Rule, 0, len(d.rules))
	for _, r := range d.rules {
		if !d.disabled[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Detect returns the tensions implied by the inputs. Failing rules are logged
// and skipped.
func (d *Detector) Detect(profile domain.SystemProfile, nodes []domain.Node, edges []domain.Edge) []domain.DetectedTension {
	return d.Evaluate(profile, nodes, edges).Tensions
}

// Evaluate runs every active rule once, in declaration order. The inputs are
// never modified.
func (d *Detector) Evaluate(profile domain.SystemProfile, nodes []domain.Node, edges []domain.Edge) Result {
	in := newInput(profile, nodes, edges, d.keywords)
	res := Result{Tensions: []domain.DetectedTension{}}
	for _, r := range d.rules {
		if d.disabled[r.ID] {
			continue
		}
		t, fired, err := evaluateRule(r, in)
		if err != nil {
			var rerr *RuleEvaluationError
			if !errors.As(err, &rerr) {
				rerr = &RuleEvaluationError{RuleID: r.ID, Err: err}
			}
			d.logger.Warn("rule evaluation failed; skipping", "rule_id", r.ID, "error", rerr.Err)
			res.Failures = append(res.Failures, rerr)
			continue
		}
		if fired {
			res.Tensions = append(res.Tensions, t)
		}
	}
	return res
}

func evaluateRule(r Rule, in *Input) (t domain.DetectedTension, fired bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			t, fired = domain.DetectedTension{}, false
			err = &RuleEvaluationError{RuleID: r.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if r.Match == nil {
		return t, false, errors.New("rule has no predicate")
	}
	ok, err := r.Match(in)
	if err != nil || !ok {
		return t, false, err
	}
	edgeIDs, nodeIDs := []string{}, []string{}
	if r.Related != nil {
		e, n, err := r.Related(in)
		if err != nil {
			return t, false, err
		}
		edgeIDs, nodeIDs = uniq(e), uniq(n)
	}
	severity := r.BaseSeverity
	if r.Adjust != nil {
		delta, err := r.Adjust(in)
		if err != nil {
			return t, false, err
		}
		severity += delta
	}
	return domain.DetectedTension{
		PatternID:       r.PatternID,
		RuleID:          r.ID,
		RuleName:        r.Name,
		ImpactedDomains: r.Domains,
		Severity:        domain.ClampInt(severity, 1, 5),
		RelatedEdgeIDs:  edgeIDs,
		RelatedNodeIDs:  nodeIDs,
		Confidence:      r.Confidence,
	}, true, nil
}

func uniq(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
