package domain

import "strings"

type TensionStatus string

const (
	TensionDetected   TensionStatus = "DETECTED"
	TensionQualified  TensionStatus = "QUALIFIED"
	TensionInProgress TensionStatus = "IN_PROGRESS"
	TensionArbitrated TensionStatus = "ARBITRATED"
	TensionResolved   TensionStatus = "RESOLVED"
	TensionDismissed  TensionStatus = "DISMISSED"
)

var tensionTransitions = map[TensionStatus][]TensionStatus{
	TensionDetected:   {TensionQualified, TensionInProgress, TensionArbitrated, TensionDismissed},
	TensionQualified:  {TensionInProgress, TensionArbitrated, TensionDismissed},
	TensionInProgress: {TensionArbitrated, TensionResolved, TensionDismissed},
	TensionArbitrated: {TensionResolved, TensionInProgress},
	TensionResolved:   {},
	TensionDismissed:  {TensionDetected},
}

// CanTransition reports whether a tension may move from one status to another.
func CanTransition(from, to TensionStatus) bool {
	for _, next := range tensionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active is false only for dismissed tensions; resolved ones still count as exposure.
func (s TensionStatus) Active() bool { return s != TensionDismissed }

// Settled reports whether a human decision has been recorded on the tension.
func (s TensionStatus) Settled() bool { return s == TensionArbitrated || s == TensionResolved }

type ActionStatus string

const (
	ActionTodo       ActionStatus = "TODO"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionDone       ActionStatus = "DONE"
)

var actionAliases = map[string]ActionStatus{
	"TODO":        ActionTodo,
	"OPEN":        ActionTodo,
	"PLANNED":     ActionTodo,
	"IN_PROGRESS": ActionInProgress,
	"ONGOING":     ActionInProgress,
	"STARTED":     ActionInProgress,
	"DONE":        ActionDone,
	"COMPLETED":   ActionDone,
	"CLOSED":      ActionDone,
}

// Normalize maps equivalent spellings onto the canonical statuses. Unknown
// values come back unchanged and count as not started.
func (s ActionStatus) Normalize() ActionStatus {
	key := strings.ToUpper(strings.TrimSpace(string(s)))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if v, ok := actionAliases[key]; ok {
		return v
	}
	return s
}
