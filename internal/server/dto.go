package server

import (
	"encoding/json"

	"etica/internal/domain"
)

type RuleResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	PatternID    string                  `json:"pattern_id"`
	PatternTitle string                  `json:"pattern_title,omitempty"`
	Description  string                  `json:"description,omitempty"`
	Domains      [2]domain.EthicalDomain `json:"domains"`
	BaseSeverity int                     `json:"base_severity"`
	Confidence   domain.Confidence       `json:"confidence"`
	Custom       bool                    `json:"custom"`
}

type RulesResponse struct {
	Items []RuleResponse `json:"items"`
}

type DomainsResponse struct {
	Items []domain.DomainInfo `json:"items"`
}

type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Type     string         `json:"type"`
	RunID    string         `json:"run_id"`
	SystemID string         `json:"system_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type RuleFrequenciesResponse struct {
	Items []domain.RuleFrequency `json:"items"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:       evt.ID,
		TS:       evt.TS,
		Type:     evt.Type,
		RunID:    evt.RunID,
		SystemID: evt.SystemID,
		Payload:  payload,
	}
}
