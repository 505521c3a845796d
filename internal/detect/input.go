package detect

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"etica/internal/domain"
)

// Input is the read-only view a rule evaluates.
type Input struct {
	Profile domain.SystemProfile
	Nodes   []domain.Node
	Edges   []domain.Edge

	keywords Keywords
	nodes    map[string]int
	celVars  map[string]any
}

func newInput(profile domain.SystemProfile, nodes []domain.Node, edges []domain.Edge, kw Keywords) *Input {
	in := &Input{
		Profile:  profile,
		Nodes:    nodes,
		Edges:    edges,
		keywords: kw.folded(),
		nodes:    make(map[string]int, len(nodes)),
	}
	for i, n := range nodes {
		if _, dup := in.nodes[n.ID]; !dup {
			in.nodes[n.ID] = i
		}
	}
	return in
}

// Node returns the node with the given id.
func (in *Input) Node(id string) (domain.Node, bool) {
	i, ok := in.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return in.Nodes[i], true
}

type edgePredicate func(in *Input, e domain.Edge) (bool, error)

func (in *Input) matchingEdges(pred edgePredicate) ([]domain.Edge, error) {
	var out []domain.Edge
	for _, e := range in.Edges {
		ok, err := pred(in, e)
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", e.ID, err)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (in *Input) anyEdge(pred edgePredicate) (bool, error) {
	edges, err := in.matchingEdges(pred)
	return len(edges) > 0, err
}

// related returns matching edges and their endpoints.
func (in *Input) related(pred edgePredicate) ([]string, []string, error) {
	edges, err := in.matchingEdges(pred)
	if err != nil {
		return nil, nil, err
	}
	var edgeIDs, nodeIDs []string
	for _, e := range edges {
		edgeIDs = append(edgeIDs, e.ID)
		for _, id := range []string{e.Source, e.Target} {
			if _, ok := in.Node(id); ok {
				nodeIDs = append(nodeIDs, id)
			}
		}
	}
	return edgeIDs, nodeIDs, nil
}

// humansMatching returns the HUMAN nodes whose label or population attributes
// contain one of the keywords of kind.
func (in *Input) humansMatching(kind KeywordKind) ([]domain.Node, error) {
	var out []domain.Node
	for _, n := range in.Nodes {
		if n.Type != domain.NodeHuman {
			continue
		}
		texts, err := nodeTexts(n)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		if in.keywords.matchAny(kind, texts) {
			out = append(out, n)
		}
	}
	return out, nil
}

func nodeIDs(nodes []domain.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

var textAttributes = []string{"population", "role", "description"}

func nodeTexts(n domain.Node) ([]string, error) {
	texts := []string{n.Label}
	for _, key := range textAttributes {
		raw, ok := n.Attributes[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			texts = append(texts, v)
		case []string:
			texts = append(texts, v...)
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("attribute %s: unexpected element type %T", key, item)
				}
				texts = append(texts, s)
			}
		default:
			return nil, fmt.Errorf("attribute %s: unexpected type %T", key, raw)
		}
	}
	return texts, nil
}

// stringAttribute returns a string attribute; a present value of another type is an error.
func stringAttribute(n domain.Node, key string) (string, bool, error) {
	raw, ok := n.Attributes[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("attribute %s: expected string, got %T", key, raw)
	}
	return strings.TrimSpace(s), true, nil
}

func boolAttribute(n domain.Node, key string) (bool, error) {
	raw, ok := n.Attributes[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("attribute %s: expected bool, got %T", key, raw)
	}
	return b, nil
}

type KeywordKind string

const (
	KeywordsVulnerable  KeywordKind = "vulnerable"
	KeywordsSubordinate KeywordKind = "subordinate"
	KeywordsMinors      KeywordKind = "minors"
)

// Keywords drive the population heuristics. Matching is a case- and
// accent-insensitive substring test.
type Keywords struct {
	Vulnerable  []string `json:"vulnerable,omitempty" yaml:"vulnerable,omitempty"`
	Subordinate []string `json:"subordinate,omitempty" yaml:"subordinate,omitempty"`
	Minors      []string `json:"minors,omitempty" yaml:"minors,omitempty"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		Vulnerable: []string{
			"minor", "child", "enfant", "mineur", "elderly", "senior", "personne agée",
			"patient", "disabled", "handicap", "refugee", "migrant", "precarious", "précaire",
		},
		Subordinate: []string{
			"employee", "worker", "staff", "salarié", "agent", "candidate", "candidat",
			"intern", "stagiaire",
		},
		Minors: []string{
			"minor", "mineur", "child", "enfant", "pupil", "élève", "student", "teen", "adolescent",
		},
	}
}

func (k Keywords) merge(o Keywords) Keywords {
	if len(o.Vulnerable) > 0 {
		k.Vulnerable = append([]string(nil), o.Vulnerable...)
	}
	if len(o.Subordinate) > 0 {
		k.Subordinate = append([]string(nil), o.Subordinate...)
	}
	if len(o.Minors) > 0 {
		k.Minors = append([]string(nil), o.Minors...)
	}
	return k
}

func (k Keywords) list(kind KeywordKind) []string {
	switch kind {
	case KeywordsVulnerable:
		return k.Vulnerable
	case KeywordsSubordinate:
		return k.Subordinate
	case KeywordsMinors:
		return k.Minors
	}
	return nil
}

func (k Keywords) folded() Keywords {
	f := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = fold(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return Keywords{Vulnerable: f(k.Vulnerable), Subordinate: f(k.Subordinate), Minors: f(k.Minors)}
}

// matchAny expects k to be folded already.
func (k Keywords) matchAny(kind KeywordKind, texts []string) bool {
	words := k.list(kind)
	for _, t := range texts {
		ft := fold(t)
		if ft == "" {
			continue
		}
		for _, w := range words {
			if strings.Contains(ft, w) {
				return true
			}
		}
	}
	return false
}

// fold lowercases s and strips diacritics. Casers and transformers carry
// state, so each call builds its own.
func fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
