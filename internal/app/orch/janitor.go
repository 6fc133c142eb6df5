package orch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Janitor periodically expires old sessions and prunes the create rate
// limiter.
type Janitor struct {
	orch      *Orchestrator
	interval  time.Duration
	log       zerolog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewJanitor(o *Orchestrator, interval time.Duration) *Janitor {
	return &Janitor{
		orch:     o,
		interval: interval,
		log:      log.With().Str("module", "orch.janitor").Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in background. Only the first call has an
// effect.
func (j *Janitor) Start(ctx context.Context) {
	j.startOnce.Do(func() {
		j.wg.Add(1)
		go j.run(ctx)
		j.log.Info().Dur("interval", j.interval).Msg("janitor started")
	})
}

// Stop shuts the loop down and waits for it. Only the first call has an
// effect.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		j.log.Info().Msg("janitor stopped")
	})
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass.
func (j *Janitor) Sweep(ctx context.Context) {
	n, err := j.orch.Expire(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("expire sessions")
	} else if n > 0 {
		j.log.Info().Int("expired", n).Msg("sessions expired")
	}
	j.orch.Limiter.Prune()
}
