package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomicOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"a": 1}))
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"b": 2}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]int{"b": 2}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteJSONAtomicNeverHidesTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("rename over an existing file is not atomic on windows")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"n": 0}))

	var (
		stop    atomic.Bool
		missing atomic.Int64
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			if _, err := os.ReadFile(path); os.IsNotExist(err) {
				missing.Add(1)
			}
		}
	}()
	for i := 1; i <= 300; i++ {
		require.NoError(t, WriteJSONAtomic(path, map[string]int{"n": i}))
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, missing.Load(), "readers must always see the previous or the new file")
}

func TestWriteFileAtomicAndExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.htm")

	assert.False(t, Exists(path))
	require.NoError(t, WriteFileAtomic(path, []byte("hello")))
	assert.True(t, Exists(path))
	assert.False(t, Exists(dir), "directories are not files")
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"S-1/A_20250601_d1.htm": "S-1_A_20250601_d1.htm",
		"  ../etc/passwd ":      "_etc_passwd",
		"424B4 final (1).htm":   "424B4_final_1_.htm",
		"":                      "_",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeName(in), "SafeName(%q)", in)
	}
}

func TestEnsureDirRejectsEmpty(t *testing.T) {
	assert.Error(t, EnsureDir(""))
}
