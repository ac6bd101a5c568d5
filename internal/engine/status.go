package engine

import "time"

// State is the engine lifecycle state, the single source of truth.
// NotStarted -> Running -> Stopped; Stopped is terminal.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RealmSummary is the read-only status projection of one realm.
type RealmSummary struct {
	Name       string         `json:"name"`
	BackendURI string         `json:"backend_uri"`
	Status     map[string]any `json:"status"`
}

// FlowSummary is the read-only status projection of one flow.
type FlowSummary struct {
	Kind   string         `json:"kind"`
	Status map[string]any `json:"status"`
}

// StatusSnapshot is an immutable, consistent copy of the engine state.
// It never carries live references into the engine's registries.
type StatusSnapshot struct {
	State            string         `json:"state"`
	Running          bool           `json:"running"`
	StartedAt        *time.Time     `json:"started_at"`
	UptimeSeconds    float64        `json:"uptime_seconds"`
	LastDiagnosticAt *time.Time     `json:"last_diagnostic_at"`
	LastBalanceScore float64        `json:"last_balance_score"`
	TotalRecords     int            `json:"total_records"`
	Realms           []RealmSummary `json:"realms"`
	Flows            []FlowSummary  `json:"flows"`
}

// DiagnosticReport is the result of one diagnostic pass.
type DiagnosticReport struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Insights  Insights      `json:"insights"`
	Balanced  bool          `json:"balanced"`
}
