package detect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"etica/internal/domain"
)

// PatternCustom is used by configured rules that do not name a pattern.
const PatternCustom = "CUSTOM"

// CELRuleSpec declares a rule whose predicate is a CEL expression over
// `profile`, `nodes` and `edges`. EdgeFilter, when set, is evaluated once per
// edge (bound to `edge`) to collect the related flows.
type CELRuleSpec struct {
	ID         string
	Name       string
	PatternID  string
	Domains    [2]domain.EthicalDomain
	Severity   int
	Confidence domain.Confidence
	When       string
	EdgeFilter string
}

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("profile", cel.DynType),
		cel.Variable("nodes", cel.ListType(cel.DynType)),
		cel.Variable("edges", cel.ListType(cel.DynType)),
		cel.Variable("edge", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return env, nil
}

// CompileCELRules turns rule declarations into catalog entries.
func CompileCELRules(specs []CELRuleSpec) ([]Rule, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		r, err := compileCELRule(env, spec)
		if err != nil {
			return nil, fmt.Errorf("custom rule %s: %w", spec.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func compileCELRule(env *cel.Env, spec CELRuleSpec) (Rule, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return Rule{}, errors.New("id is required")
	}
	for _, d := range spec.Domains {
		if !d.Valid() {
			return Rule{}, fmt.Errorf("unknown ethical domain %q", d)
		}
	}
	when, err := compileBool(env, spec.When)
	if err != nil {
		return Rule{}, fmt.Errorf("when: %w", err)
	}
	var filter cel.Program
	if strings.TrimSpace(spec.EdgeFilter) != "" {
		if filter, err = compileBool(env, spec.EdgeFilter); err != nil {
			return Rule{}, fmt.Errorf("edge_filter: %w", err)
		}
	}
	confidence := spec.Confidence
	if confidence == "" {
		confidence = domain.ConfidenceMedium
	}
	pattern := spec.PatternID
	if pattern == "" {
		pattern = PatternCustom
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	r := Rule{
		ID:           spec.ID,
		Name:         name,
		PatternID:    pattern,
		Domains:      spec.Domains,
		BaseSeverity: spec.Severity,
		Confidence:   confidence,
		Custom:       true,
		Match: func(in *Input) (bool, error) {
			return evalBool(when, in.celVariables())
		},
	}
	if filter != nil {
		r.Related = func(in *Input) ([]string, []string, error) {
			return in.related(func(in *Input, e domain.Edge) (bool, error) {
				vars := make(map[string]any, 4)
				for k, v := range in.celVariables() {
					vars[k] = v
				}
				vars["edge"] = edgeValue(e)
				return evalBool(filter, vars)
			})
		}
	}
	return r, nil
}

func compileBool(env *cel.Env, expr string) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.New("expression is empty")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile: %w", iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}
	prg, err := env.Program(ast, cel.CostLimit(100000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return b, nil
}

// celVariables exposes the input with the JSON field names. Unqualified
// edge dimensions are left out so expressions must test for them with has().
func (in *Input) celVariables() map[string]any {
	if in.celVars != nil {
		return in.celVars
	}
	dataTypes := make([]any, 0, len(in.Profile.DataTypes))
	for _, c := range in.Profile.DataTypes {
		dataTypes = append(dataTypes, c)
	}
	profile := map[string]any{
		"sector":         string(in.Profile.Sector),
		"decision_type":  string(in.Profile.DecisionType),
		"user_scale":     string(in.Profile.UserScale),
		"has_vulnerable": in.Profile.HasVulnerable,
		"data_types":     dataTypes,
	}
	nodes := make([]any, 0, len(in.Nodes))
	for _, n := range in.Nodes {
		attrs := n.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		nodes = append(nodes, map[string]any{
			"id":         n.ID,
			"type":       string(n.Type),
			"label":      n.Label,
			"attributes": attrs,
		})
	}
	edges := make([]any, 0, len(in.Edges))
	for _, e := range in.Edges {
		edges = append(edges, edgeValue(e))
	}
	in.celVars = map[string]any{"profile": profile, "nodes": nodes, "edges": edges}
	return in.celVars
}

func edgeValue(e domain.Edge) map[string]any {
	cats := make([]any, 0, len(e.DataCategories))
	for _, c := range e.DataCategories {
		cats = append(cats, c)
	}
	m := map[string]any{
		"id":              e.ID,
		"source":          e.Source,
		"target":          e.Target,
		"nature":          string(e.Nature),
		"sensitivity":     string(e.Sensitivity),
		"automation":      string(e.Automation),
		"data_categories": cats,
	}
	for _, d := range domain.Dimensions {
		if v, ok := e.Dimension(d); ok {
			m[string(d)] = int64(v)
		}
	}
	return m
}
