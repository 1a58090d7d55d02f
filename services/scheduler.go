package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"chorus/presence-engine/utils"
)

// PresenceScheduler drives the two periodic sweep passes over the durable
// store. The tickers run on independent random phases; each sweep predicate
// is idempotent, so a failed or missed tick self-heals on the next one.
// Sweeps bypass the registry and the cache.
type PresenceScheduler struct {
	presence *PresenceService
	logger   *utils.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPresenceScheduler(presence *PresenceService, interval time.Duration, logger *utils.Logger) *PresenceScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &PresenceScheduler{
		presence: presence,
		logger:   logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches both sweep loops.
func (s *PresenceScheduler) Start() {
	s.logger.Info("Starting presence scheduler", "interval", s.interval.String())

	s.wg.Add(2)
	go s.runSweep("away-sweep", s.presence.DetectAwayUsers)
	go s.runSweep("stale-sweep", s.presence.CleanupStaleConnections)
}

// Stop cancels both loops and waits for them to drain.
func (s *PresenceScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Presence scheduler stopped")
}

func (s *PresenceScheduler) runSweep(name string, sweep func(context.Context) error) {
	defer s.wg.Done()

	// Jittered start keeps the two sweeps off a shared phase
	jitter := time.Duration(rand.Int63n(int64(s.interval)))
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(jitter):
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	run := func() {
		if err := sweep(s.ctx); err != nil {
			// Not retried within the tick; next interval re-evaluates
			s.logger.Error("Sweep failed", "sweep", name, "error", err)
		}
	}

	run()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
