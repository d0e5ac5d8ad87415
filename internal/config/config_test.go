package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100, cfg.MaxFilings)
	assert.Equal(t, 3, cfg.MaxDocsPerFiling)
	assert.Equal(t, 1000, cfg.MinDocumentBytes)

	got := normalizeExtensions([]string{"HTM", ".txt", "htm", "  .HTML"})
	assert.Equal(t, []string{".htm", ".txt", ".html"}, got)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "not_exists.yml"))
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, filepath.Join(defaultDataDir, defaultStateFileName), cfg.StateFile)
}

func TestLoadReadsAndValidates(t *testing.T) {
	path := writeConfig(t, `
port: 9090
data_dir: testdata
min_delay: 150ms
jitter: 0s
backoff_base: 2s
max_filings: 20
allowed_extensions: [HTM, .txt]
index_source: HTML
sec_base_url: https://www.sec.gov/
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "testdata", cfg.DataDir)
	assert.Equal(t, filepath.Join("testdata", "pipeline.json"), cfg.StateFile)
	assert.Equal(t, 150*time.Millisecond, cfg.MinDelay)
	assert.Equal(t, time.Duration(0), cfg.Jitter)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 20, cfg.MaxFilings)
	assert.Equal(t, []string{".htm", ".txt"}, cfg.AllowedExtensions)
	assert.Equal(t, IndexSourceHTML, cfg.IndexSource)
	assert.Equal(t, "https://www.sec.gov", cfg.SECBaseURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"attempts":     "max_attempts: 0\n",
		"filings":      "max_filings: 0\n",
		"docs":         "max_docs_per_filing: 0\n",
		"user agent":   "user_agent: python-requests/2.31\n",
		"index source": "index_source: rss\n",
		"negative":     "min_delay: -1s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEDGE_PORT", "7070")
	t.Setenv("HEDGE_DATA_DIR", "/srv/hedge")
	t.Setenv("HEDGE_USER_AGENT", "Research Desk research@example.com")
	t.Setenv("HEDGE_SCHEDULE", "@every 1h")

	cfg, err := Load(writeConfig(t, "port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "/srv/hedge", cfg.DataDir)
	assert.Equal(t, filepath.Join("/srv/hedge", "pipeline.json"), cfg.StateFile)
	assert.Equal(t, filepath.Join("/srv/hedge", "company_cik_map.json"), cfg.CIKMapFile)
	assert.Equal(t, "Research Desk research@example.com", cfg.UserAgent)
	assert.Equal(t, "@every 1h", cfg.Schedule)
}

func TestEnvOverrideRejectsBadPort(t *testing.T) {
	t.Setenv("HEDGE_PORT", "eighty")
	_, err := Load(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestExplicitStateFileKeptWhenDataDirMoves(t *testing.T) {
	cfg, err := Load(writeConfig(t, "data_dir: other\nstate_file: data/pipeline.json\ncik_map_file: data/company_cik_map.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.DataDir)
	assert.Equal(t, "data/pipeline.json", cfg.StateFile)
	assert.Equal(t, "data/company_cik_map.json", cfg.CIKMapFile)

	cfg, err = Load(writeConfig(t, "data_dir: other\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("other", "pipeline.json"), cfg.StateFile)
	assert.Equal(t, filepath.Join("other", "company_cik_map.json"), cfg.CIKMapFile)
}

func TestEnvStateFileCountsAsExplicit(t *testing.T) {
	t.Setenv("HEDGE_DATA_DIR", "/srv/hedge")
	t.Setenv("HEDGE_STATE_FILE", "data/pipeline.json")
	t.Setenv("HEDGE_CIK_MAP_FILE", "/etc/hedge/cik.json")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "data/pipeline.json", cfg.StateFile)
	assert.Equal(t, "/etc/hedge/cik.json", cfg.CIKMapFile)
}
