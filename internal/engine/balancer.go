package engine

import (
	"context"
	"time"

	"lodestar/pkg/logging"
)

const (
	optimizeTimeout = 10 * time.Second

	// Diagnostic history is trimmed by the balancer once it grows past
	// historyHighWater, down to historyLowWater entries.
	historyHighWater = 50
	historyLowWater  = 30
)

// runBalance performs one best-effort corrective pass: every realm and
// flow that can shed idle resources is asked to, and oversized engine
// history is trimmed. Balancing is advisory; individual failures are
// logged and never propagate.
func (e *Engine) runBalance(trigger string) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	realms := append([]realmEntry(nil), e.realms...)
	flows := append([]flowEntry(nil), e.flows...)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), optimizeTimeout)
	defer cancel()

	optimized := 0
	for _, entry := range realms {
		opt, ok := entry.handle.(interface{ Optimize(context.Context) error })
		if !ok {
			continue
		}
		if err := opt.Optimize(ctx); err != nil {
			e.logger.WithError(err).WithField("realm", entry.name).Warn("Realm optimize failed")
			continue
		}
		optimized++
	}
	for _, entry := range flows {
		opt, ok := entry.handle.(interface{ Optimize(context.Context) error })
		if !ok {
			continue
		}
		if err := opt.Optimize(ctx); err != nil {
			e.logger.WithError(err).WithField("flow", entry.kind).Warn("Flow optimize failed")
			continue
		}
		optimized++
	}

	e.mu.Lock()
	if len(e.history) > historyHighWater {
		e.history = append([]DiagnosticReport(nil), e.history[len(e.history)-historyLowWater:]...)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveBalance(trigger)
	}
	e.logger.WithFields(logging.Fields{"trigger": trigger, "optimized": optimized}).Debug("Balance pass complete")
}
