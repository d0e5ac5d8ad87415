package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// StartSchedule drains the pending queue on the given cron spec (standard five
// fields or descriptors such as "@every 30m"). Ticks that find the runner busy
// or the queue empty are skipped.
func (m *Manager) StartSchedule(spec string) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(spec, m.scheduledDrain); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	m.mu.Lock()
	if m.scheduler != nil {
		m.mu.Unlock()
		return errors.New("schedule already started")
	}
	m.scheduler = scheduler
	m.mu.Unlock()

	scheduler.Start()
	log.Info().Str("schedule", spec).Msg("pending queue drain scheduled")
	return nil
}

// StopSchedule stops the scheduler. The returned context is done once a tick
// that is currently starting a run has returned.
func (m *Manager) StopSchedule() context.Context {
	m.mu.Lock()
	scheduler := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()
	if scheduler == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return scheduler.Stop()
}

func (m *Manager) scheduledDrain() {
	run, err := m.DrainPending()
	switch {
	case errors.Is(err, ErrNothingPending):
		log.Debug().Msg("scheduled drain: queue empty")
	case errors.Is(err, ErrRunnerBusy):
		log.Info().Msg("scheduled drain skipped: run in progress")
	case err != nil:
		log.Warn().Err(err).Msg("scheduled drain failed to start")
	default:
		log.Info().Str("run_id", run.ID).Int("companies", len(run.Tickers)).Msg("scheduled drain started")
	}
}
