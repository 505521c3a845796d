package eticasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ETICA HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Profile is the system profile sent with every evaluation.
type Profile struct {
	Sector        string   `json:"sector,omitempty"`
	DecisionType  string   `json:"decision_type"`
	UserScale     string   `json:"user_scale"`
	HasVulnerable bool     `json:"has_vulnerable"`
	DataTypes     []string `json:"data_types,omitempty"`
}

// Document is an assessment document. Nodes, edges, tensions and actions are
// passed through as decoded JSON.
type Document struct {
	SystemID string           `json:"system_id"`
	Name     string           `json:"name,omitempty"`
	Profile  Profile          `json:"profile"`
	Nodes    []map[string]any `json:"nodes,omitempty"`
	Edges    []map[string]any `json:"edges,omitempty"`
	Tensions []map[string]any `json:"tensions,omitempty"`
	Actions  []map[string]any `json:"actions,omitempty"`
}

// DetectedTension represents a detector finding (partial).
type DetectedTension struct {
	PatternID       string    `json:"pattern_id"`
	RuleID          string    `json:"rule_id"`
	ImpactedDomains [2]string `json:"impacted_domains"`
	Severity        int       `json:"severity"`
	Confidence      string    `json:"confidence"`
	RelatedEdgeIDs  []string  `json:"related_edge_ids"`
	RelatedNodeIDs  []string  `json:"related_node_ids"`
}

type DetectResult struct {
	RunID        string            `json:"run_id"`
	Tensions     []DetectedTension `json:"tensions"`
	SkippedRules []string          `json:"skipped_rules"`
}

type DomainScore struct {
	Score        float64 `json:"score"`
	Level        int     `json:"level"`
	Exposure     float64 `json:"exposure"`
	Coverage     float64 `json:"coverage"`
	TensionCount int     `json:"tension_count"`
}

type VigilanceScores struct {
	Global            float64                `json:"global"`
	GlobalLevel       int                    `json:"global_level"`
	ByDomain          map[string]DomainScore `json:"by_domain"`
	Coverage          float64                `json:"coverage"`
	TensionCount      int                    `json:"tension_count"`
	ActiveActionCount int                    `json:"active_action_count"`
}

type Reconciliation struct {
	Tensions []map[string]any `json:"tensions"`
	Created  []string         `json:"created"`
	Updated  []string         `json:"updated"`
	Stale    []string         `json:"stale"`
}

type AssessResult struct {
	RunID          string            `json:"run_id"`
	Detected       []DetectedTension `json:"detected"`
	SkippedRules   []string          `json:"skipped_rules"`
	Reconciliation Reconciliation    `json:"reconciliation"`
	Scores         VigilanceScores   `json:"scores"`
}

// Event represents a journal entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	RunID    string         `json:"run_id"`
	SystemID string         `json:"system_id"`
	Payload  map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Detect runs the detector on a profile and its flow graph.
func (c *Client) Detect(ctx context.Context, doc Document) (DetectResult, error) {
	body := map[string]any{
		"system_id": doc.SystemID,
		"profile":   doc.Profile,
		"nodes":     doc.Nodes,
		"edges":     doc.Edges,
	}
	var resp DetectResult
	err := c.do(ctx, http.MethodPost, "detect", body, &resp)
	return resp, err
}

// Score computes vigilance scores for the tensions and actions of doc as given.
func (c *Client) Score(ctx context.Context, doc Document) (VigilanceScores, error) {
	body := map[string]any{
		"system_id": doc.SystemID,
		"profile":   doc.Profile,
		"edges":     doc.Edges,
		"tensions":  doc.Tensions,
		"actions":   doc.Actions,
	}
	var resp struct {
		Scores VigilanceScores `json:"scores"`
	}
	err := c.do(ctx, http.MethodPost, "score", body, &resp)
	return resp.Scores, err
}

// Assess detects, reconciles and scores a document.
func (c *Client) Assess(ctx context.Context, doc Document) (AssessResult, error) {
	var resp AssessResult
	err := c.do(ctx, http.MethodPost, "assess", doc, &resp)
	return resp, err
}

// Journal returns recent runs.
func (c *Client) Journal(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.JournalPage(ctx, limit, "")
	return page.Items, err
}

// JournalPage returns a paginated journal listing.
func (c *Client) JournalPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "journal"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) endpoint(p string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
