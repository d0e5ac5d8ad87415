package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "pipeline.json")
	return NewStore(NewFileStore(path)), path
}

func readStateFile(t *testing.T, path string) map[string][]Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string][]Entry
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Load(context.Background()))
	snap := s.Snapshot()
	assert.Empty(t, snap.Pending)
	assert.Empty(t, snap.Active)
	assert.Empty(t, snap.Completed)
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	err := NewStore(NewFileStore(path)).Load(context.Background())
	assert.Error(t, err)
}

func TestEnqueueValidatesAndPersists(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)

	_, err := s.Enqueue(ctx, " ", "1876042")
	assert.ErrorIs(t, err, ErrEmptyTicker)
	_, err = s.Enqueue(ctx, "crcl", "18a")
	assert.ErrorIs(t, err, ErrInvalidCIK)

	entry, err := s.Enqueue(ctx, "crcl", "1876042")
	require.NoError(t, err)
	assert.Equal(t, "CRCL", entry.Ticker)
	assert.Equal(t, PhaseNotStarted, entry.Phase)

	// enqueueing again is a no-op
	_, err = s.Enqueue(ctx, "CRCL", "1876042")
	require.NoError(t, err)

	raw := readStateFile(t, path)
	assert.Len(t, raw["pending"], 1)
	assert.NotNil(t, raw["active"])
	assert.NotNil(t, raw["completed"])
}

func TestLifecyclePersistsEachTransition(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)

	_, err := s.Enqueue(ctx, "CRCL", "1876042")
	require.NoError(t, err)

	entry, err := s.Begin(ctx, "CRCL", "1876042", "run-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseFetchingIndex, entry.Phase)
	assert.NotNil(t, entry.StartedAt)

	raw := readStateFile(t, path)
	assert.Empty(t, raw["pending"])
	require.Len(t, raw["active"], 1)
	assert.Equal(t, "run-1", raw["active"][0].RunID)

	require.NoError(t, s.SetPhase(ctx, "CRCL", PhaseClassifying))
	assert.Equal(t, PhaseClassifying, readStateFile(t, path)["active"][0].Phase)

	require.NoError(t, s.Complete(ctx, "CRCL", Summary{Name: "Circle", TotalFiles: 3, ValidFiles: 3}))
	raw = readStateFile(t, path)
	assert.Empty(t, raw["active"])
	require.Len(t, raw["completed"], 1)
	done := raw["completed"][0]
	assert.Equal(t, PhaseCompleted, done.Phase)
	assert.Equal(t, 3, done.ValidFiles)
	assert.Equal(t, "Circle", done.Name)
	assert.NotNil(t, done.CompletedAt)

	// a reload sees the same thing
	reloaded := NewStore(NewFileStore(path))
	require.NoError(t, reloaded.Load(ctx))
	_, list, ok := reloaded.Lookup("crcl")
	assert.True(t, ok)
	assert.Equal(t, ListCompleted, list)
}

func TestFailLeavesCompanyActive(t *testing.T) {
	ctx := context.Background()
	s, path := newTestStore(t)

	_, err := s.Begin(ctx, "HLEO", "2000000", "run-2")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "HLEO", errors.New("index unreachable")))

	raw := readStateFile(t, path)
	require.Len(t, raw["active"], 1)
	assert.Equal(t, PhaseFailed, raw["active"][0].Phase)
	assert.Equal(t, "index unreachable", raw["active"][0].LastError)
	assert.Empty(t, raw["completed"])

	// retry keeps a single active entry and clears the error
	entry, err := s.Begin(ctx, "HLEO", "2000000", "run-3")
	require.NoError(t, err)
	assert.Empty(t, entry.LastError)
	assert.Len(t, s.Snapshot().Active, 1)
}

func TestRescanMovesCompletedBackThroughPending(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Begin(ctx, "CRCL", "1876042", "r1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "CRCL", Summary{TotalFiles: 1}))

	_, err = s.Enqueue(ctx, "CRCL", "1876042")
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Len(t, snap.Pending, 1)
	assert.Empty(t, snap.Completed)

	_, err = s.Begin(ctx, "CRCL", "1876042", "r2")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "CRCL", "1876042")
	assert.ErrorIs(t, err, ErrCompanyActive)
}

func TestMutatorsRequireActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.Enqueue(ctx, "CRCL", "1876042")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(ctx, "CRCL", Summary{}), ErrNotActive)
	assert.ErrorIs(t, s.Fail(ctx, "CRCL", nil), ErrNotActive)
	assert.ErrorIs(t, s.SetPhase(ctx, "NOPE", PhaseClassifying), ErrNotActive)
}

func TestSnapshotIsDetached(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.Begin(ctx, "CRCL", "1876042", "r1")
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Active[0].Ticker = "MUTATED"
	*snap.Active[0].StartedAt = snap.Active[0].StartedAt.AddDate(-1, 0, 0)

	entry, _, ok := s.Lookup("CRCL")
	require.True(t, ok)
	assert.Equal(t, "CRCL", entry.Ticker)
	assert.NotEqual(t, *snap.Active[0].StartedAt, *entry.StartedAt)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.Enqueue(ctx, "CRCL", "1876042")
	require.NoError(t, err)
	_, err = s.Begin(ctx, "HLEO", "2000000", "r")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Remove(ctx, "HLEO"), ErrCompanyActive)
	assert.ErrorIs(t, s.Remove(ctx, "NOPE"), ErrCompanyNotFound)
	require.NoError(t, s.Remove(ctx, "crcl"))
	assert.Empty(t, s.Pending())
}

func TestConcurrentTransitionsPersistLatestState(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		s, path := newTestStore(t)
		_, err := s.Begin(ctx, "LIVE", "1", "run")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Enqueue(ctx, "T"+strconv.Itoa(i), strconv.Itoa(i+1))
				assert.NoError(t, err)
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SetPhase(ctx, "LIVE", PhaseClassifying))
			assert.NoError(t, s.Complete(ctx, "LIVE", Summary{ValidFiles: 1}))
		}()
		wg.Wait()

		reloaded, err := NewFileStore(path).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, summarize(s.Snapshot()), summarize(reloaded), "round %d", round)
	}
}

// summarize flattens a state to comparable strings; timestamps lose their
// monotonic reading in JSON, so they are left out.
func summarize(st State) map[List][]string {
	out := map[List][]string{}
	for _, l := range []List{ListPending, ListActive, ListCompleted} {
		out[l] = []string{}
		for _, e := range *st.list(l) {
			out[l] = append(out[l], e.Ticker+":"+e.CIK+":"+string(e.Phase))
		}
	}
	return out
}
