// Package runner executes company scans in the background, one at a time.
package runner

import (
	"context"
	"sync"
	"time"

	"hedgeintel/internal/download"
	"hedgeintel/internal/pipeline"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// RunFunc scans one company. (*download.Orchestrator).RunWithID satisfies it.
type RunFunc func(ctx context.Context, runID, ticker, cik string) (*download.CompanyMetadata, error)

// Queue is the read side of the pipeline state the manager needs.
type Queue interface {
	Lookup(ticker string) (pipeline.Entry, pipeline.List, bool)
	Pending() []pipeline.Entry
}

// Manager serializes scans: at most one run, company or drain, is in flight.
type Manager struct {
	mu        sync.RWMutex
	queue     Queue
	runFunc   RunFunc
	semaphore chan struct{}
	workersWG sync.WaitGroup
	baseCtx   context.Context
	current   *Run
	history   []Run
	holds     int
	scheduler *cron.Cron
}

func NewManager(queue Queue, runFunc RunFunc) *Manager {
	return &Manager{
		queue:     queue,
		runFunc:   runFunc,
		semaphore: make(chan struct{}, 1),
		baseCtx:   context.Background(),
	}
}

// IsBusy reports whether a run is in progress.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// SetBaseContext sets the context runs are started under. Cancel it on shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// UseRunFunc swaps the scan implementation; intended for test setup only.
func (m *Manager) UseRunFunc(fn RunFunc) {
	m.mu.Lock()
	m.runFunc = fn
	m.mu.Unlock()
}

// Submit starts a background scan of a known company.
func (m *Manager) Submit(ticker string) (Run, error) {
	entry, _, found := m.queue.Lookup(ticker)
	if !found {
		return Run{}, ErrCompanyNotFound
	}
	return m.start(KindCompany, []pipeline.Entry{entry})
}

// Retry re-runs a company left in active by a failed or interrupted scan.
func (m *Manager) Retry(ticker string) (Run, error) {
	entry, list, found := m.queue.Lookup(ticker)
	if !found {
		return Run{}, ErrCompanyNotFound
	}
	if list != pipeline.ListActive {
		return Run{}, ErrNotRetryable
	}
	return m.start(KindCompany, []pipeline.Entry{entry})
}

// DrainPending starts a background pass that scans every pending company in
// queue order. Companies that fail stay active and are not retried.
func (m *Manager) DrainPending() (Run, error) {
	pending := m.queue.Pending()
	if len(pending) == 0 {
		return Run{}, ErrNothingPending
	}
	return m.start(KindDrain, pending)
}

// Current returns the run in progress, if any.
func (m *Manager) Current() (Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Run{}, false
	}
	return copyRun(*m.current), true
}

// History returns finished runs, most recent first.
func (m *Manager) History() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Run, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, copyRun(m.history[i]))
	}
	return out
}

// WaitAll blocks until in-flight runs finish or ctx is done. It reports whether
// everything finished.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Hold keeps new runs from starting until release is called, so company
// directories stay still while they are read. Holds may overlap; each fails with
// ErrRunnerBusy while a run is in progress.
func (m *Manager) Hold() (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.semaphore) > 0 {
		return nil, ErrRunnerBusy
	}
	m.holds++
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.holds--
			m.mu.Unlock()
		})
	}, nil
}

func (m *Manager) start(kind Kind, entries []pipeline.Entry) (Run, error) {
	select {
	case m.semaphore <- struct{}{}:
	default:
		return Run{}, ErrRunnerBusy
	}
	m.mu.Lock()
	held := m.holds > 0
	m.mu.Unlock()
	if held {
		<-m.semaphore
		return Run{}, ErrRunnerBusy
	}

	tickers := make([]string, 0, len(entries))
	for _, e := range entries {
		tickers = append(tickers, e.Ticker)
	}
	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Tickers:   tickers,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.current = run
	ctx := m.baseCtx
	runFunc := m.runFunc
	started := copyRun(*run)
	m.mu.Unlock()

	log.Info().Str("run_id", run.ID).Str("kind", string(kind)).Strs("tickers", tickers).Msg("run started")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.process(ctx, runFunc, run, entries)
	}()
	return started, nil
}

func (m *Manager) process(ctx context.Context, runFunc RunFunc, run *Run, entries []pipeline.Entry) {
	var lastErr error
	succeeded, failed := 0, 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		// each company in a drain gets its own run id in the pipeline state
		scanID := run.ID
		if run.Kind == KindDrain {
			scanID = uuid.NewString()
		}
		meta, err := runFunc(ctx, scanID, entry.Ticker, entry.CIK)
		if err != nil {
			failed++
			lastErr = err
			log.Warn().Str("run_id", run.ID).Str("ticker", entry.Ticker).Err(err).Msg("company scan failed")
			continue
		}
		succeeded++
		log.Info().Str("run_id", run.ID).Str("ticker", entry.Ticker).
			Int("valid_files", meta.ValidFiles).Int("junk_files", meta.JunkFiles).
			Msg("company scan finished")
	}

	finished := time.Now()
	m.mu.Lock()
	run.Succeeded = succeeded
	run.Failed = failed
	run.FinishedAt = &finished
	run.Status = StatusSucceeded
	if lastErr != nil && (failed > 0 || succeeded == 0) {
		run.Status = StatusFailed
		run.Error = lastErr.Error()
	}
	m.history = append(m.history, copyRun(*run))
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.current = nil
	m.mu.Unlock()

	log.Info().Str("run_id", run.ID).Str("status", string(run.Status)).
		Int("succeeded", succeeded).Int("failed", failed).Dur("elapsed", finished.Sub(run.StartedAt)).
		Msg("run finished")
}

func copyRun(r Run) Run {
	r.Tickers = append([]string(nil), r.Tickers...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
