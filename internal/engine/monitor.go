package engine

import (
	"context"
	"time"

	"lodestar/internal/flow"
	"lodestar/internal/realm"
)

// Score weights, mirroring the composite the balancer acts on: realm
// health dominates, then flow availability, capacity pressure and
// component integration.
const (
	realmWeight       = 0.4
	flowWeight        = 0.3
	capacityWeight    = 0.2
	integrationWeight = 0.1

	// softRecordLimit is the record count at which capacity pressure
	// reaches its maximum penalty.
	softRecordLimit = 100000

	countTimeout = 5 * time.Second
)

// Insights is the point-in-time measurement produced by a monitor pass.
type Insights struct {
	ActiveRealms  int     `json:"active_realms"`
	ActiveFlows   int     `json:"active_flows"`
	HealthyRealms int     `json:"healthy_realms"`
	RunningFlows  int     `json:"running_flows"`
	TotalRecords  int     `json:"total_records"`
	Score         float64 `json:"score"`
}

// MonitorFunc computes insights from a snapshot of realm and flow
// handles. It must be deterministic for the same inputs, must not mutate
// them, and must keep Score within [0,100].
type MonitorFunc func(ctx context.Context, realms []realm.Realm, flows []flow.Flow) Insights

// ComputeInsights is the default monitor. A realm counts as healthy when
// its record count can be read; a flow counts when it reports running.
func ComputeInsights(ctx context.Context, realms []realm.Realm, flows []flow.Flow) Insights {
	in := Insights{
		ActiveRealms: len(realms),
		ActiveFlows:  len(flows),
	}

	for _, r := range realms {
		countCtx, cancel := context.WithTimeout(ctx, countTimeout)
		n, err := r.Count(countCtx)
		cancel()
		if err != nil {
			continue
		}
		in.HealthyRealms++
		in.TotalRecords += n
	}

	for _, f := range flows {
		if f.IsRunning() {
			in.RunningFlows++
		}
	}

	in.Score = scoreInsights(in)
	return in
}

func scoreInsights(in Insights) float64 {
	score := realmWeight*realmScore(in) +
		flowWeight*flowScore(in) +
		capacityWeight*capacityScore(in) +
		integrationWeight*integrationScore(in)

	return clampScore(score)
}

func realmScore(in Insights) float64 {
	if in.ActiveRealms == 0 {
		return 0
	}
	return 100 * float64(in.HealthyRealms) / float64(in.ActiveRealms)
}

// flowScore ramps with running flow count rather than scaling linearly:
// a single channel is a degraded deployment, two is near-full service.
func flowScore(in Insights) float64 {
	switch {
	case in.RunningFlows == 0:
		return 0
	case in.RunningFlows == 1:
		return 40
	case in.RunningFlows == 2:
		return 70
	default:
		return 100
	}
}

func capacityScore(in Insights) float64 {
	if in.TotalRecords >= softRecordLimit {
		return 0
	}
	return 100 * (1 - float64(in.TotalRecords)/float64(softRecordLimit))
}

func integrationScore(in Insights) float64 {
	score := 100.0
	if in.ActiveRealms == 0 {
		score -= 60
	}
	if in.ActiveFlows == 0 {
		score -= 40
	}
	return score
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
