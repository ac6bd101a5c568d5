package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lodestar/internal/config"
	"lodestar/internal/flow"
	"lodestar/internal/realm"
	"lodestar/pkg/logging"
	"lodestar/pkg/monitoring"
)

type realmEntry struct {
	name      string
	uri       string
	handle    realm.Realm
	createdAt time.Time
}

type flowEntry struct {
	kind   string
	handle flow.Flow
	opts   flow.Options
}

// Engine is the coordinator: it owns the realm and flow registries,
// enforces the lifecycle state machine, drives the background cycles and
// aggregates status. All shared state is guarded by one mutex; Status
// takes a consistent snapshot under it.
//
// Callers pair every Start with a Stop on all exit paths. Stop is
// idempotent and bounded: a cycle that does not confirm cancellation
// within the shutdown timeout may outlive the call briefly, but teardown
// always completes.
type Engine struct {
	cfg      config.Config
	logger   logging.Logger
	backends *realm.Registry
	channels *flow.Registry

	metrics   *monitoring.MetricsCollector
	monitorFn MonitorFunc

	mu               sync.Mutex
	state            State
	starting         bool
	startedAt        time.Time
	lastDiagnosticAt time.Time
	lastBalanceScore float64
	totalRecords     int
	realms           []realmEntry
	flows            []flowEntry
	history          []DiagnosticReport
	sched            *scheduler
}

// New builds an engine with the default backend and channel registries.
func New(cfg config.Config, logger logging.Logger) *Engine {
	return NewWithRegistries(cfg, logger, realm.DefaultRegistry(), flow.DefaultRegistry())
}

// NewWithRegistries builds an engine against explicit registries, for
// wiring custom backends or channels.
func NewWithRegistries(cfg config.Config, logger logging.Logger, backends *realm.Registry, channels *flow.Registry) *Engine {
	return &Engine{
		cfg:              cfg,
		logger:           logger,
		backends:         backends,
		channels:         channels,
		monitorFn:        ComputeInsights,
		lastBalanceScore: 100,
	}
}

// SetMetrics attaches a metrics collector. Call before Start.
func (e *Engine) SetMetrics(mc *monitoring.MetricsCollector) {
	e.metrics = mc
}

// SetMonitor replaces the monitor function. Call before Start.
func (e *Engine) SetMonitor(fn MonitorFunc) {
	e.monitorFn = fn
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start validates configuration, constructs realms and flows in
// configuration order, launches the background cycles and runs one
// synchronous diagnostic pass so the first Status call reflects real
// numbers. Any construction failure aborts startup, tears down whatever
// was already built, and leaves the engine startable state untouched.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != StateNotStarted || e.starting {
		e.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, e.state)
	}
	e.starting = true
	e.mu.Unlock()

	fail := func(err error) error {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return err
	}

	if err := e.cfg.Validate(); err != nil {
		return fail(fmt.Errorf("invalid configuration: %w", err))
	}

	startAt := time.Now()
	e.logger.Info("Engine starting")

	builtRealms, err := e.buildRealms()
	if err != nil {
		return fail(err)
	}

	builtFlows, err := e.buildFlows()
	if err != nil {
		closeRealms(builtRealms, e.logger)
		return fail(err)
	}

	e.mu.Lock()
	e.state = StateRunning
	e.starting = false
	e.startedAt = time.Now()
	e.lastDiagnosticAt = time.Time{}
	e.lastBalanceScore = 100
	e.totalRecords = 0
	e.realms = builtRealms
	e.flows = builtFlows
	e.history = nil
	e.sched = newScheduler(e.logger)
	sched := e.sched
	e.mu.Unlock()

	sched.start(
		cycle{name: "diagnostic", interval: e.cfg.DiagnosticInterval, run: e.diagnosticPass},
		cycle{name: "balance", interval: e.cfg.BalanceInterval, run: e.balancePass},
	)

	// First pass runs synchronously inside Start.
	if _, err := e.RunDiagnostic(); err != nil {
		e.logger.WithError(err).Warn("Initial diagnostic pass failed")
	}

	e.logger.WithFields(logging.Fields{
		"realms":   len(builtRealms),
		"flows":    len(builtFlows),
		"duration": time.Since(startAt),
	}).Info("Engine started")
	return nil
}

func (e *Engine) buildRealms() ([]realmEntry, error) {
	built := make([]realmEntry, 0, len(e.cfg.Realms))
	for _, name := range realmOrder(e.cfg) {
		uri := e.cfg.Realms[name]
		handle, err := e.backends.Open(name, uri, e.logger)
		if err != nil {
			closeRealms(built, e.logger)
			return nil, fmt.Errorf("construct realm %q: %w", name, err)
		}
		built = append(built, realmEntry{name: name, uri: uri, handle: handle, createdAt: time.Now()})
	}
	return built, nil
}

func (e *Engine) buildFlows() ([]flowEntry, error) {
	src := &engineSource{e: e}
	built := make([]flowEntry, 0, len(e.cfg.Channels))
	for _, kind := range channelOrder(e.cfg) {
		opts := e.cfg.Channels[kind]
		handle, err := e.channels.Open(kind, opts, src, e.logger)
		if err == nil {
			err = handle.Start()
		}
		if err != nil {
			stopFlows(built, e.cfg.ShutdownTimeout, e.logger)
			return nil, fmt.Errorf("start flow %q: %w", kind, err)
		}
		built = append(built, flowEntry{kind: kind, handle: handle, opts: opts})
	}
	return built, nil
}

// Stop shuts the engine down: the scheduler is cancelled and joined with
// a bounded timeout, then flows are stopped and realms closed in reverse
// creation order. Individual teardown failures are logged and never
// abort the remaining steps. Calling Stop on a non-running engine is a
// no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	// Flip state first so cycles checking it stop scheduling work.
	e.state = StateStopped
	sched := e.sched
	e.sched = nil
	flows := e.flows
	e.flows = nil
	realms := e.realms
	e.realms = nil
	e.mu.Unlock()

	e.logger.Info("Engine stopping")

	if sched != nil && !sched.stop(e.cfg.ShutdownTimeout) {
		e.logger.WithField("timeout", e.cfg.ShutdownTimeout).
			Warn("Scheduler cycles did not confirm termination in time; proceeding with teardown")
	}

	stopFlows(flows, e.cfg.ShutdownTimeout, e.logger)
	closeRealms(realms, e.logger)

	e.logger.Info("Engine stopped")
}

// CreateRealm constructs and registers a new realm while running. The
// backend construction happens outside the engine lock so it cannot
// stall Status or other callers.
func (e *Engine) CreateRealm(name, uri string) (realm.Realm, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: create realm %q", ErrNotRunning, name)
	}
	if e.realmIndex(name) >= 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateRealm, name)
	}
	e.mu.Unlock()

	handle, err := e.backends.Open(name, uri, e.logger)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		_ = handle.Close()
		return nil, fmt.Errorf("%w: create realm %q", ErrNotRunning, name)
	}
	if e.realmIndex(name) >= 0 {
		e.mu.Unlock()
		_ = handle.Close()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateRealm, name)
	}
	e.realms = append(e.realms, realmEntry{name: name, uri: uri, handle: handle, createdAt: time.Now()})
	e.mu.Unlock()

	e.logger.WithFields(logging.Fields{"realm": name, "uri": uri}).Info("Realm created")
	return handle, nil
}

// RemoveRealm closes and deregisters a realm. Permitted only while running.
func (e *Engine) RemoveRealm(name string) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("%w: remove realm %q", ErrNotRunning, name)
	}
	idx := e.realmIndex(name)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRealmNotFound, name)
	}
	entry := e.realms[idx]
	e.realms = append(e.realms[:idx], e.realms[idx+1:]...)
	e.mu.Unlock()

	if err := entry.handle.Close(); err != nil {
		e.logger.WithError(err).WithField("realm", name).Warn("Realm close failed")
	}
	e.logger.WithField("realm", name).Info("Realm removed")
	return nil
}

// GetRealm returns a realm handle by name.
func (e *Engine) GetRealm(name string) (realm.Realm, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.realmIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrRealmNotFound, name)
	}
	return e.realms[idx].handle, nil
}

// ListRealmNames returns a snapshot of realm names in insertion order.
func (e *Engine) ListRealmNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.realms))
	for i, entry := range e.realms {
		names[i] = entry.name
	}
	return names
}

// RunDiagnostic performs one monitor pass, updates the engine state and,
// when the computed score falls below the balance threshold, invokes one
// balance pass synchronously before returning the report.
func (e *Engine) RunDiagnostic() (DiagnosticReport, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return DiagnosticReport{}, ErrNotRunning
	}
	realmHandles := make([]realm.Realm, len(e.realms))
	for i, entry := range e.realms {
		realmHandles[i] = entry.handle
	}
	flowHandles := make([]flow.Flow, len(e.flows))
	for i, entry := range e.flows {
		flowHandles[i] = entry.handle
	}
	monitorFn := e.monitorFn
	e.mu.Unlock()

	passStart := time.Now()
	insights := monitorFn(context.Background(), realmHandles, flowHandles)
	insights.Score = clampScore(insights.Score)

	e.mu.Lock()
	if e.state != StateRunning {
		// Stopped while measuring; discard rather than mutate frozen state.
		e.mu.Unlock()
		return DiagnosticReport{}, ErrNotRunning
	}
	now := time.Now()
	e.lastDiagnosticAt = now
	e.lastBalanceScore = insights.Score
	e.totalRecords = insights.TotalRecords
	needBalance := insights.Score < e.cfg.BalanceThreshold
	report := DiagnosticReport{
		Timestamp: now,
		Duration:  time.Since(passStart),
		Insights:  insights,
		Balanced:  needBalance,
	}
	// History grows per pass; the balance pass owns trimming it.
	e.history = append(e.history, report)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ObserveDiagnostic(insights.Score, insights.ActiveRealms, insights.ActiveFlows, insights.TotalRecords, false)
	}

	if needBalance {
		e.runBalance("auto")
	}

	e.publish(report)

	e.logger.WithFields(logging.Fields{
		"score":    insights.Score,
		"realms":   insights.ActiveRealms,
		"flows":    insights.ActiveFlows,
		"records":  insights.TotalRecords,
		"balanced": needBalance,
		"duration": report.Duration,
	}).Debug("Diagnostic pass complete")
	return report, nil
}

// Balance manually triggers one balance pass irrespective of the score.
func (e *Engine) Balance() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.mu.Unlock()

	e.runBalance("manual")
	return nil
}

// Status returns a consistent snapshot of the engine state. It holds the
// engine lock for the duration of the copy, so a reader never observes a
// half-updated state.
func (e *Engine) Status() StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := StatusSnapshot{
		State:            e.state.String(),
		Running:          e.state == StateRunning,
		LastBalanceScore: e.lastBalanceScore,
		TotalRecords:     e.totalRecords,
		Realms:           make([]RealmSummary, len(e.realms)),
		Flows:            make([]FlowSummary, len(e.flows)),
	}
	if !e.startedAt.IsZero() {
		t := e.startedAt
		snap.StartedAt = &t
		if e.state == StateRunning {
			snap.UptimeSeconds = time.Since(e.startedAt).Seconds()
		}
	}
	if !e.lastDiagnosticAt.IsZero() {
		t := e.lastDiagnosticAt
		snap.LastDiagnosticAt = &t
	}
	for i, entry := range e.realms {
		snap.Realms[i] = RealmSummary{
			Name:       entry.name,
			BackendURI: entry.uri,
			Status:     entry.handle.Status(),
		}
	}
	for i, entry := range e.flows {
		snap.Flows[i] = FlowSummary{
			Kind:   entry.kind,
			Status: entry.handle.Status(),
		}
	}
	return snap
}

// LastBalanceScore returns the score from the most recent diagnostic pass.
func (e *Engine) LastBalanceScore() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBalanceScore
}

// History returns a copy of the retained diagnostic reports, oldest first.
func (e *Engine) History() []DiagnosticReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DiagnosticReport(nil), e.history...)
}

// diagnosticPass adapts RunDiagnostic for the scheduler: a pass skipped
// because the engine stopped is not an error.
func (e *Engine) diagnosticPass() error {
	_, err := e.RunDiagnostic()
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

func (e *Engine) balancePass() error {
	e.runBalance("cycle")
	return nil
}

// publish pushes a diagnostic report to every flow that can stream events.
func (e *Engine) publish(report DiagnosticReport) {
	e.mu.Lock()
	flows := append([]flowEntry(nil), e.flows...)
	e.mu.Unlock()

	for _, entry := range flows {
		if pub, ok := entry.handle.(flow.Publisher); ok {
			pub.Publish(report)
		}
	}
}

// realmIndex returns the slice index of a realm by name. Caller holds e.mu.
func (e *Engine) realmIndex(name string) int {
	for i, entry := range e.realms {
		if entry.name == name {
			return i
		}
	}
	return -1
}

func realmOrder(cfg config.Config) []string {
	if len(cfg.RealmOrder) == len(cfg.Realms) {
		return cfg.RealmOrder
	}
	names := make([]string, 0, len(cfg.Realms))
	for name := range cfg.Realms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func channelOrder(cfg config.Config) []string {
	if len(cfg.ChannelOrder) == len(cfg.Channels) {
		return cfg.ChannelOrder
	}
	kinds := make([]string, 0, len(cfg.Channels))
	for kind := range cfg.Channels {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// closeRealms closes handles in reverse creation order.
func closeRealms(entries []realmEntry, logger logging.Logger) {
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].handle.Close(); err != nil {
			logger.WithError(err).WithField("realm", entries[i].name).Warn("Realm close failed")
		}
	}
}

// stopFlows stops handles in reverse registration order.
func stopFlows(entries []flowEntry, timeout time.Duration, logger logging.Logger) {
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].handle.Stop(timeout); err != nil {
			logger.WithError(err).WithField("flow", entries[i].kind).Warn("Flow stop failed")
		}
	}
}

// engineSource is the read-only surface handed to flows.
type engineSource struct {
	e *Engine
}

func (s *engineSource) Snapshot() any                          { return s.e.Status() }
func (s *engineSource) Realm(name string) (realm.Realm, error) { return s.e.GetRealm(name) }
func (s *engineSource) RealmNames() []string                   { return s.e.ListRealmNames() }
