package engine

import (
	"sync"
	"time"

	"lodestar/pkg/logging"
)

// cycle is one periodic background pass.
type cycle struct {
	name     string
	interval time.Duration
	run      func() error
}

// scheduler drives the diagnostic and balance cycles. Cancellation is
// cooperative: each cycle checks the stop channel before sleeping and
// again after waking, so worst-case shutdown latency is bounded by one
// interval plus one invocation.
type scheduler struct {
	logger logging.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newScheduler(logger logging.Logger) *scheduler {
	return &scheduler{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// start launches one goroutine per cycle.
func (s *scheduler) start(cycles ...cycle) {
	for _, c := range cycles {
		s.wg.Add(1)
		go s.loop(c)
	}
}

func (s *scheduler) loop(c cycle) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	s.logger.WithFields(logging.Fields{"cycle": c.name, "interval": c.interval}).Info("Cycle started")

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			// Re-check after waking: stop may have been signalled while
			// this cycle was asleep, and acting on stale intent would
			// mutate state past shutdown.
			select {
			case <-s.stopCh:
				return
			default:
			}
			if err := c.run(); err != nil {
				// One failed pass must not kill future passes.
				s.logger.WithError(err).WithField("cycle", c.name).Error("Cycle pass failed")
			}
		}
	}
}

// stop signals all cycles and waits up to timeout for them to exit.
// Returns false if the join timed out; the caller proceeds with teardown
// regardless.
func (s *scheduler) stop(timeout time.Duration) bool {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
