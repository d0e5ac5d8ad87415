package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort             = 8080
	defaultDataDir          = "data"
	defaultStateFileName    = "pipeline.json"
	defaultCIKMapFileName   = "company_cik_map.json"
	defaultLogLevel         = "info"
	defaultUserAgent        = "HedgeIntelligence/1.0 (admin@hedgeintelligence.ai)"
	defaultSECBaseURL       = "https://www.sec.gov"
	defaultSECDataURL       = "https://data.sec.gov"
	defaultMinDelay         = 200 * time.Millisecond
	defaultJitter           = 100 * time.Millisecond
	defaultRequestsPerSec   = 10
	defaultMaxAttempts      = 3
	defaultBackoffBase      = time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultMaxFilings       = 100
	defaultMaxDocsPerFiling = 3
	defaultMaxIndexPages    = 5
	defaultMinDocumentBytes = 1000

	IndexSourceJSON = "json"
	IndexSourceHTML = "html"
)

var defaultExtensions = []string{".htm", ".html", ".txt"}

// Config describes runtime configuration for the service.
type Config struct {
	Port       int    `yaml:"port"`
	DataDir    string `yaml:"data_dir"`
	StateFile  string `yaml:"state_file"`
	CIKMapFile string `yaml:"cik_map_file"`
	LogLevel   string `yaml:"log_level"`
	Schedule   string `yaml:"schedule"`

	UserAgent   string `yaml:"user_agent"`
	SECBaseURL  string `yaml:"sec_base_url"`
	SECDataURL  string `yaml:"sec_data_url"`
	IndexSource string `yaml:"index_source"`

	MinDelay             time.Duration `yaml:"min_delay"`
	Jitter               time.Duration `yaml:"jitter"`
	MaxRequestsPerSecond int           `yaml:"max_requests_per_second"`
	MaxAttempts          int           `yaml:"max_attempts"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`

	MaxFilings        int      `yaml:"max_filings"`
	MaxDocsPerFiling  int      `yaml:"max_docs_per_filing"`
	MaxIndexPages     int      `yaml:"max_index_pages"`
	MinDocumentBytes  int      `yaml:"min_document_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		DataDir:              defaultDataDir,
		StateFile:            filepath.Join(defaultDataDir, defaultStateFileName),
		CIKMapFile:           filepath.Join(defaultDataDir, defaultCIKMapFileName),
		LogLevel:             defaultLogLevel,
		UserAgent:            defaultUserAgent,
		SECBaseURL:           defaultSECBaseURL,
		SECDataURL:           defaultSECDataURL,
		IndexSource:          IndexSourceJSON,
		MinDelay:             defaultMinDelay,
		Jitter:               defaultJitter,
		MaxRequestsPerSecond: defaultRequestsPerSec,
		MaxAttempts:          defaultMaxAttempts,
		BackoffBase:          defaultBackoffBase,
		RequestTimeout:       defaultRequestTimeout,
		MaxFilings:           defaultMaxFilings,
		MaxDocsPerFiling:     defaultMaxDocsPerFiling,
		MaxIndexPages:        defaultMaxIndexPages,
		MinDocumentBytes:     defaultMinDocumentBytes,
		AllowedExtensions:    append([]string(nil), defaultExtensions...),
	}
}

// Load reads YAML config from the provided path, then applies HEDGE_* environment
// overrides. If the file does not exist or is empty, defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	explicit := map[string]bool{}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
		var keys map[string]any
		if err := yaml.Unmarshal(fileData, &keys); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
		for key := range keys {
			explicit[key] = true
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv, explicit); err != nil {
		return cfg, err
	}

	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	// files under the data dir follow data_dir unless set explicitly
	if !explicit["state_file"] || cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.DataDir, defaultStateFileName)
	}
	if !explicit["cik_map_file"] || cfg.CIKMapFile == "" {
		cfg.CIKMapFile = filepath.Join(cfg.DataDir, defaultCIKMapFileName)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.IndexSource = strings.ToLower(strings.TrimSpace(cfg.IndexSource))
	if cfg.IndexSource == "" {
		cfg.IndexSource = IndexSourceJSON
	}
	cfg.SECBaseURL = strings.TrimRight(cfg.SECBaseURL, "/")
	cfg.SECDataURL = strings.TrimRight(cfg.SECDataURL, "/")
	cfg.AllowedExtensions = normalizeExtensions(cfg.AllowedExtensions)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	ua := strings.TrimSpace(c.UserAgent)
	if ua == "" || !strings.Contains(ua, "@") {
		return fmt.Errorf("invalid user_agent %q: must include a contact email", c.UserAgent)
	}
	if c.IndexSource != IndexSourceJSON && c.IndexSource != IndexSourceHTML {
		return fmt.Errorf("invalid index_source %q (json or html)", c.IndexSource)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid max_attempts: %d (must be >= 1)", c.MaxAttempts)
	}
	if c.MaxRequestsPerSecond < 1 {
		return fmt.Errorf("invalid max_requests_per_second: %d (must be >= 1)", c.MaxRequestsPerSecond)
	}
	if c.MaxFilings < 1 {
		return fmt.Errorf("invalid max_filings: %d (must be >= 1)", c.MaxFilings)
	}
	if c.MaxDocsPerFiling < 1 {
		return fmt.Errorf("invalid max_docs_per_filing: %d (must be >= 1)", c.MaxDocsPerFiling)
	}
	if c.MaxIndexPages < 1 {
		return fmt.Errorf("invalid max_index_pages: %d (must be >= 1)", c.MaxIndexPages)
	}
	if c.MinDelay < 0 || c.Jitter < 0 || c.BackoffBase < 0 || c.RequestTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	if c.MinDocumentBytes < 0 {
		return fmt.Errorf("invalid min_document_bytes: %d", c.MinDocumentBytes)
	}
	return nil
}

// applyEnv overlays HEDGE_* variables and marks the keys it set in explicit.
func applyEnv(cfg *Config, lookup func(string) (string, bool), explicit map[string]bool) error {
	if v, ok := lookup("HEDGE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HEDGE_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := lookup("HEDGE_DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := lookup("HEDGE_STATE_FILE"); ok && v != "" {
		cfg.StateFile = v
		explicit["state_file"] = true
	}
	if v, ok := lookup("HEDGE_CIK_MAP_FILE"); ok && v != "" {
		cfg.CIKMapFile = v
		explicit["cik_map_file"] = true
	}
	if v, ok := lookup("HEDGE_USER_AGENT"); ok && v != "" {
		cfg.UserAgent = v
	}
	if v, ok := lookup("HEDGE_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("HEDGE_SCHEDULE"); ok {
		cfg.Schedule = v
	}
	return nil
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return append([]string(nil), defaultExtensions...)
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
