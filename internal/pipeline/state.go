// Package pipeline tracks which companies are waiting, being scanned, or done.
package pipeline

import (
	"strings"
	"time"
)

// List names one of the three queues.
type List string

const (
	ListPending   List = "pending"
	ListActive    List = "active"
	ListCompleted List = "completed"
)

// ParseList maps a queue name to a List.
func ParseList(name string) (List, bool) {
	switch l := List(strings.ToLower(strings.TrimSpace(name))); l {
	case ListPending, ListActive, ListCompleted:
		return l, true
	}
	return "", false
}

// Phase is the orchestrator step a company last reached.
type Phase string

const (
	PhaseNotStarted        Phase = "not_started"
	PhaseFetchingIndex     Phase = "fetching_index"
	PhaseFetchingDocuments Phase = "fetching_documents"
	PhaseClassifying       Phase = "classifying"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

// Entry is the record kept for one company in whichever list it sits in.
type Entry struct {
	Ticker      string     `json:"ticker"`
	CIK         string     `json:"cik"`
	Name        string     `json:"name,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Phase       Phase      `json:"phase"`
	RunID       string     `json:"run_id,omitempty"`
	TotalFiles  int        `json:"total_files"`
	ValidFiles  int        `json:"valid_files"`
	JunkFiles   int        `json:"junk_files"`
	LastError   string     `json:"last_error,omitempty"`
}

// State is the persisted shape: three ordered lists.
type State struct {
	Pending   []Entry `json:"pending"`
	Active    []Entry `json:"active"`
	Completed []Entry `json:"completed"`
}

// NormalizeTicker is the canonical form used for lookups and directory names.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Move removes ticker from one list and appends it to another. It reports false
// and leaves the state untouched when ticker is not in from. An entry already
// present in to is replaced rather than duplicated.
func (s *State) Move(ticker string, from, to List) bool {
	src, dst := s.list(from), s.list(to)
	if src == nil || dst == nil {
		return false
	}
	ticker = NormalizeTicker(ticker)
	i := indexOf(*src, ticker)
	if i < 0 {
		return false
	}
	if from == to {
		return true
	}
	entry := (*src)[i]
	*src = append((*src)[:i:i], (*src)[i+1:]...)
	if j := indexOf(*dst, ticker); j >= 0 {
		(*dst)[j] = entry
		return true
	}
	*dst = append(*dst, entry)
	return true
}

// Find returns the entry for ticker and the list holding it.
func (s *State) Find(ticker string) (*Entry, List, bool) {
	ticker = NormalizeTicker(ticker)
	for _, l := range []List{ListActive, ListPending, ListCompleted} {
		entries := s.list(l)
		if i := indexOf(*entries, ticker); i >= 0 {
			return &(*entries)[i], l, true
		}
	}
	return nil, "", false
}

// Clone returns a deep copy safe to hand to readers.
func (s *State) Clone() State {
	return State{
		Pending:   cloneEntries(s.Pending),
		Active:    cloneEntries(s.Active),
		Completed: cloneEntries(s.Completed),
	}
}

func (s *State) list(l List) *[]Entry {
	switch l {
	case ListPending:
		return &s.Pending
	case ListActive:
		return &s.Active
	case ListCompleted:
		return &s.Completed
	}
	return nil
}

// normalize replaces nil lists so the file always carries three arrays.
func (s *State) normalize() {
	if s.Pending == nil {
		s.Pending = []Entry{}
	}
	if s.Active == nil {
		s.Active = []Entry{}
	}
	if s.Completed == nil {
		s.Completed = []Entry{}
	}
}

func indexOf(entries []Entry, ticker string) int {
	for i := range entries {
		if entries[i].Ticker == ticker {
			return i
		}
	}
	return -1
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		if e.StartedAt != nil {
			t := *e.StartedAt
			e.StartedAt = &t
		}
		if e.CompletedAt != nil {
			t := *e.CompletedAt
			e.CompletedAt = &t
		}
		out[i] = e
	}
	return out
}
