package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	fileutil "hedgeintel/internal/file"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyTicker     = errors.New("ticker is required")
	ErrInvalidCIK      = errors.New("cik must be 1 to 10 digits")
	ErrCompanyNotFound = errors.New("company not found")
	ErrCompanyActive   = errors.New("company is already active")
	ErrNotActive       = errors.New("company is not active")
)

// Persister reads and writes the whole pipeline state. The default
// implementation is a single JSON file.
type Persister interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

type fileStore struct {
	path string
}

// NewFileStore persists state as JSON at path, replacing the file atomically on
// every save.
func NewFileStore(path string) Persister { //nolint:ireturn
	if path == "" {
		path = filepath.Join("data", "pipeline.json")
	}
	return &fileStore{path: path}
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err //nolint:wrapcheck
	}
	data, err := os.ReadFile(s.path) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			state := State{}
			state.normalize()
			return state, nil
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var state State
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return State{}, fmt.Errorf("decode state %s: %w", s.path, err)
		}
	}
	state.normalize()
	return state, nil
}

func (s *fileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := fileutil.EnsureDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	state.normalize()
	return fileutil.WriteJSONAtomic(s.path, state) //nolint:wrapcheck
}

// Store owns the in-memory pipeline state and writes it through after every
// transition. Readers get copies via Snapshot.
type Store struct {
	mu      sync.RWMutex
	state   State
	persist Persister
	now     func() time.Time
}

func NewStore(p Persister) *Store {
	s := &Store{persist: p, now: time.Now}
	s.state.normalize()
	return s
}

// Load replaces the in-memory state with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("load pipeline state: %w", err)
	}
	s.mu.Lock()
	s.state = loaded
	s.mu.Unlock()
	log.Info().
		Int("pending", len(loaded.Pending)).
		Int("active", len(loaded.Active)).
		Int("completed", len(loaded.Completed)).
		Msg("pipeline state loaded")
	return nil
}

// Save writes the current state.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// persistLocked writes the state while s.mu is held for writing, so the file
// always reflects the latest transition.
func (s *Store) persistLocked(ctx context.Context) error {
	return s.persist.Save(ctx, s.state.Clone())
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Lookup returns a copy of the entry for ticker and the list it is in.
func (s *Store) Lookup(ticker string) (Entry, List, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, list, ok := s.state.Find(ticker)
	if !ok {
		return Entry{}, "", false
	}
	return cloneEntries([]Entry{*entry})[0], list, true
}

// Pending returns the queued companies in order.
func (s *Store) Pending() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.state.Pending)
}

// Enqueue adds a company to pending. A company already pending is left as is;
// a completed one is queued again for a rescan.
func (s *Store) Enqueue(ctx context.Context, ticker, cik string) (Entry, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return Entry{}, ErrEmptyTicker
	}
	cik, err := normalizeCIK(cik)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, list, found := s.state.Find(ticker)
	switch {
	case found && list == ListPending:
		return *entry, nil
	case found && list == ListActive:
		return Entry{}, ErrCompanyActive
	case found && list == ListCompleted:
		entry.CIK = cik
		entry.QueuedAt = s.now()
		entry.Phase = PhaseNotStarted
		s.state.Move(ticker, ListCompleted, ListPending)
	default:
		s.state.Pending = append(s.state.Pending, Entry{
			Ticker:   ticker,
			CIK:      cik,
			QueuedAt: s.now(),
			Phase:    PhaseNotStarted,
		})
	}
	queued, _, _ := s.state.Find(ticker)
	return *queued, s.persistLocked(ctx)
}

// Begin marks a company as being scanned, moving it into active from whichever
// list holds it. Unknown companies are added straight to active.
func (s *Store) Begin(ctx context.Context, ticker, cik, runID string) (Entry, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return Entry{}, ErrEmptyTicker
	}
	cik, err := normalizeCIK(cik)
	if err != nil {
		return Entry{}, err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, list, found := s.state.Find(ticker)
	switch {
	case !found:
		s.state.Active = append(s.state.Active, Entry{Ticker: ticker, CIK: cik, QueuedAt: now})
	case list != ListActive:
		s.state.Move(ticker, list, ListActive)
	}
	entry, _, _ := s.state.Find(ticker)
	entry.CIK = cik
	entry.StartedAt = &now
	entry.CompletedAt = nil
	entry.Phase = PhaseFetchingIndex
	entry.RunID = runID
	entry.LastError = ""
	return *entry, s.persistLocked(ctx)
}

// Update applies fn to an active company's entry and persists the result.
func (s *Store) Update(ctx context.Context, ticker string, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, list, found := s.state.Find(ticker)
	if !found || list != ListActive {
		return ErrNotActive
	}
	fn(entry)
	return s.persistLocked(ctx)
}

// SetPhase records the step an active company has reached.
func (s *Store) SetPhase(ctx context.Context, ticker string, phase Phase) error {
	return s.Update(ctx, ticker, func(e *Entry) { e.Phase = phase })
}

// Summary carries the counts recorded when a scan completes.
type Summary struct {
	Name       string
	TotalFiles int
	ValidFiles int
	JunkFiles  int
}

// Complete moves an active company to completed with its final counts.
func (s *Store) Complete(ctx context.Context, ticker string, sum Summary) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, list, found := s.state.Find(ticker)
	if !found || list != ListActive {
		return ErrNotActive
	}
	if sum.Name != "" {
		entry.Name = sum.Name
	}
	entry.TotalFiles = sum.TotalFiles
	entry.ValidFiles = sum.ValidFiles
	entry.JunkFiles = sum.JunkFiles
	entry.Phase = PhaseCompleted
	entry.CompletedAt = &now
	entry.LastError = ""
	s.state.Move(ticker, ListActive, ListCompleted)
	return s.persistLocked(ctx)
}

// Fail records cause on an active company, which stays in active for a retry.
func (s *Store) Fail(ctx context.Context, ticker string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, list, found := s.state.Find(ticker)
	if !found || list != ListActive {
		return ErrNotActive
	}
	entry.Phase = PhaseFailed
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return s.persistLocked(ctx)
}

// Remove drops a company that is not being scanned.
func (s *Store) Remove(ctx context.Context, ticker string) error {
	ticker = NormalizeTicker(ticker)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, list, found := s.state.Find(ticker)
	if !found {
		return ErrCompanyNotFound
	}
	if list == ListActive {
		return ErrCompanyActive
	}
	entries := s.state.list(list)
	i := indexOf(*entries, ticker)
	*entries = append((*entries)[:i:i], (*entries)[i+1:]...)
	return s.persistLocked(ctx)
}

func normalizeCIK(cik string) (string, error) {
	cik = strings.TrimSpace(cik)
	if cik == "" || len(cik) > 10 {
		return "", ErrInvalidCIK
	}
	for _, r := range cik {
		if r < '0' || r > '9' {
			return "", ErrInvalidCIK
		}
	}
	return cik, nil
}
