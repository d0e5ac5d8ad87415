package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"hedgeintel/internal/fetch"
	fileutil "hedgeintel/internal/file"

	"github.com/rs/zerolog/log"
)

const defaultRefreshInterval = 24 * time.Hour

var ErrUnknownTicker = errors.New("ticker not found in the SEC ticker list")

// Fetcher retrieves one URL. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, expectedContentType string) ([]byte, error)
}

// Mapping is one ticker's entry in the CIK map file.
type Mapping struct {
	CIK   string    `json:"cik"`
	Name  string    `json:"name"`
	Added time.Time `json:"added"`
}

// Resolver maps tickers to CIKs. Known mappings live in a JSON file; unknown
// tickers trigger a download of the SEC ticker list, at most once per refresh
// interval, merged into the file without overwriting entries added by hand.
type Resolver struct {
	mu         sync.Mutex
	fetcher    Fetcher
	tickersURL string
	cachePath  string
	interval   time.Duration
	mappings   map[string]Mapping
	loaded     bool
	refreshed  time.Time
	now        func() time.Time
}

// TickersURL is the SEC ticker list under baseURL (normally https://www.sec.gov).
func TickersURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/files/company_tickers.json"
}

func NewResolver(fetcher Fetcher, tickersURL, cachePath string) *Resolver {
	return &Resolver{
		fetcher:    fetcher,
		tickersURL: tickersURL,
		cachePath:  cachePath,
		interval:   defaultRefreshInterval,
		mappings:   map[string]Mapping{},
		now:        time.Now,
	}
}

// Resolve returns the mapping for ticker.
func (r *Resolver) Resolve(ctx context.Context, ticker string) (Mapping, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return Mapping{}, ErrUnknownTicker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	if m, ok := r.mappings[ticker]; ok {
		return m, nil
	}
	if !r.refreshed.IsZero() && r.now().Sub(r.refreshed) < r.interval {
		return Mapping{}, ErrUnknownTicker
	}
	if err := r.refreshLocked(ctx); err != nil {
		return Mapping{}, err
	}
	if m, ok := r.mappings[ticker]; ok {
		return m, nil
	}
	return Mapping{}, ErrUnknownTicker
}

// Add records a mapping supplied by an operator and persists it.
func (r *Resolver) Add(ticker, cik, name string) error {
	ticker = normalizeTicker(ticker)
	cik = TrimCIK(cik)
	if ticker == "" {
		return ErrUnknownTicker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	if existing, ok := r.mappings[ticker]; ok && existing.CIK == cik {
		return nil
	}
	if name == "" {
		name = ticker
	}
	r.mappings[ticker] = Mapping{CIK: cik, Name: name, Added: r.now().UTC()}
	return r.saveLocked()
}

// loadLocked reads the map file once. An unreadable file is logged and treated
// as empty; the next refresh rewrites it.
func (r *Resolver) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true
	data, err := os.ReadFile(r.cachePath) //nolint:gosec // path comes from config
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", r.cachePath).Msg("reading cik map failed")
		}
		return
	}
	var stored map[string]Mapping
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Warn().Err(err).Str("path", r.cachePath).Msg("cik map is corrupt, ignoring")
		return
	}
	for ticker, m := range stored {
		r.mappings[normalizeTicker(ticker)] = m
	}
}

type tickerRow struct {
	CIK    json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
	Title  string      `json:"title"`
}

func (r *Resolver) refreshLocked(ctx context.Context) error {
	body, err := r.fetcher.Fetch(ctx, r.tickersURL, fetch.ContentJSON)
	if err != nil {
		return fmt.Errorf("fetch ticker list: %w", err)
	}
	var rows map[string]tickerRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("decode ticker list: %w", err)
	}
	r.refreshed = r.now()

	added := 0
	for _, row := range rows {
		ticker := normalizeTicker(row.Ticker)
		if ticker == "" || row.CIK == "" {
			continue
		}
		if _, ok := r.mappings[ticker]; ok {
			continue
		}
		if _, err := strconv.ParseUint(row.CIK.String(), 10, 64); err != nil {
			continue
		}
		r.mappings[ticker] = Mapping{CIK: TrimCIK(row.CIK.String()), Name: row.Title, Added: r.refreshed.UTC()}
		added++
	}
	log.Info().Int("rows", len(rows)).Int("added", added).Msg("sec ticker list merged")
	if added == 0 {
		return nil
	}
	return r.saveLocked()
}

func (r *Resolver) saveLocked() error {
	if err := fileutil.WriteJSONAtomic(r.cachePath, r.mappings); err != nil {
		return fmt.Errorf("save cik map: %w", err)
	}
	return nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
