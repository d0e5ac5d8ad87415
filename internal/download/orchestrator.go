// Package download runs one company's scan: walk its filing list, fetch each
// filing's documents, classify them, and record the outcome.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"hedgeintel/internal/classify"
	"hedgeintel/internal/edgar"
	"hedgeintel/internal/fetch"
	fileutil "hedgeintel/internal/file"
	"hedgeintel/internal/pipeline"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	IndexSourceJSON = "json"
	IndexSourceHTML = "html"

	defaultMaxFilings       = 100
	defaultMaxDocsPerFiling = 3
	defaultMaxIndexPages    = 5
)

var defaultExtensions = []string{".htm", ".html", ".txt"}

// Fetcher retrieves one URL. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, expectedContentType string) ([]byte, error)
}

// Tracker records a company's progress. *pipeline.Store satisfies it.
type Tracker interface {
	Begin(ctx context.Context, ticker, cik, runID string) (pipeline.Entry, error)
	SetPhase(ctx context.Context, ticker string, phase pipeline.Phase) error
	Complete(ctx context.Context, ticker string, sum pipeline.Summary) error
	Fail(ctx context.Context, ticker string, cause error) error
}

type Options struct {
	DataDir           string
	BaseURL           string
	DataURL           string
	IndexSource       string
	MaxFilings        int
	MaxDocsPerFiling  int
	MaxIndexPages     int
	AllowedExtensions []string
	Classifier        *classify.Classifier
}

// Orchestrator scans one company at a time. It is not safe for concurrent Runs
// against the same company.
type Orchestrator struct {
	fetcher    Fetcher
	tracker    Tracker
	classifier *classify.Classifier
	opts       Options
	allowed    map[string]struct{}
	now        func() time.Time
}

func New(fetcher Fetcher, tracker Tracker, opts Options) *Orchestrator {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.sec.gov"
	}
	if opts.DataURL == "" {
		opts.DataURL = "https://data.sec.gov"
	}
	if opts.IndexSource == "" {
		opts.IndexSource = IndexSourceJSON
	}
	if opts.MaxFilings <= 0 {
		opts.MaxFilings = defaultMaxFilings
	}
	if opts.MaxDocsPerFiling <= 0 {
		opts.MaxDocsPerFiling = defaultMaxDocsPerFiling
	}
	if opts.MaxIndexPages <= 0 {
		opts.MaxIndexPages = defaultMaxIndexPages
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = defaultExtensions
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.New(classify.DefaultMinBytes)
	}
	return &Orchestrator{
		fetcher:    fetcher,
		tracker:    tracker,
		classifier: classifier,
		opts:       opts,
		allowed:    allowed,
		now:        time.Now,
	}
}

// Run scans ticker under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context, ticker, cik string) (*CompanyMetadata, error) {
	return o.RunWithID(ctx, uuid.NewString(), ticker, cik)
}

// RunWithID scans ticker and returns the metadata written for it. Failures to
// fetch single filings or documents are logged and counted; only an unreachable
// filing list, a storage error or cancellation abort the run, in which case the
// company is left active and an *OrchestratorError is returned.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, ticker, cik string) (*CompanyMetadata, error) {
	ticker = pipeline.NormalizeTicker(ticker)
	cik = strings.TrimSpace(cik)
	logger := log.With().Str("ticker", ticker).Str("cik", cik).Str("run_id", runID).Logger()

	// state writes must land even after ctx is cancelled
	stateCtx := context.WithoutCancel(ctx)

	if _, err := o.tracker.Begin(stateCtx, ticker, cik, runID); err != nil {
		reason := ReasonState
		if errors.Is(err, pipeline.ErrEmptyTicker) || errors.Is(err, pipeline.ErrInvalidCIK) {
			reason = ReasonInvalidInput
		}
		return nil, &OrchestratorError{Ticker: ticker, Reason: reason, Err: err}
	}
	logger.Info().Msg("company scan started")

	fail := func(reason string, err error) (*CompanyMetadata, error) {
		orchErr := &OrchestratorError{Ticker: ticker, Reason: reason, Err: err}
		if ferr := o.tracker.Fail(stateCtx, ticker, orchErr); ferr != nil {
			logger.Warn().Err(ferr).Msg("record failure in pipeline state failed")
		}
		logger.Error().Err(err).Str("reason", reason).Msg("company scan failed")
		return nil, orchErr
	}

	companyDir := CompanyDir(o.opts.DataDir, ticker)
	if err := fileutil.EnsureDir(filepath.Join(companyDir, junkDirName)); err != nil {
		return fail(ReasonStorage, err)
	}

	meta := &CompanyMetadata{
		Ticker:           ticker,
		CIK:              cik,
		RunID:            runID,
		FilingTypeCounts: map[string]int{},
		Documents:        []DocumentRecord{},
	}

	descriptors, name, err := o.collectFilings(ctx, cik)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ReasonCancelled, ctx.Err())
		}
		return fail(ReasonIndexUnreachable, err)
	}
	meta.Name = name
	meta.FilingsSeen = len(descriptors)
	logger.Info().Int("filings", len(descriptors)).Msg("filing index collected")

	o.setPhase(stateCtx, ticker, pipeline.PhaseFetchingDocuments)
	staged, err := o.fetchDocuments(ctx, ticker, descriptors, meta)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ReasonCancelled, ctx.Err())
		}
		return fail(ReasonStorage, err)
	}

	o.setPhase(stateCtx, ticker, pipeline.PhaseClassifying)
	if err := o.classifyDocuments(ticker, staged, meta); err != nil {
		return fail(ReasonStorage, err)
	}

	meta.LastScan = o.now().UTC()
	if err := writeMetadata(o.opts.DataDir, meta); err != nil {
		return fail(ReasonStorage, fmt.Errorf("write metadata: %w", err))
	}
	if err := o.tracker.Complete(stateCtx, ticker, pipeline.Summary{
		Name:       meta.Name,
		TotalFiles: meta.TotalFiles,
		ValidFiles: meta.ValidFiles,
		JunkFiles:  meta.JunkFiles,
	}); err != nil {
		return nil, &OrchestratorError{Ticker: ticker, Reason: ReasonState, Err: err}
	}

	logger.Info().
		Int("total_files", meta.TotalFiles).
		Int("valid_files", meta.ValidFiles).
		Int("junk_files", meta.JunkFiles).
		Int("downloaded", meta.Downloaded).
		Int("failed_filings", meta.FailedFilings).
		Int("failed_documents", meta.FailedDocuments).
		Msg("company scan completed")
	return meta, nil
}

// collectFilings walks the filing list pages, newest first, up to the filing and
// page caps. Only a failure on the first page is an error.
func (o *Orchestrator) collectFilings(ctx context.Context, cik string) ([]edgar.FilingDescriptor, string, error) {
	parser := edgar.NewIndexParser(o.opts.BaseURL, cik)

	firstPage, contentType := edgar.SubmissionsURL(o.opts.DataURL, cik), fetch.ContentJSON
	if o.opts.IndexSource == IndexSourceHTML {
		firstPage, contentType = edgar.BrowseURL(o.opts.BaseURL, cik), fetch.ContentHTML
	}

	var (
		descriptors []edgar.FilingDescriptor
		name        string
		queue       = []string{firstPage}
		visited     = map[string]struct{}{}
	)
	for pages := 0; len(queue) > 0 && pages < o.opts.MaxIndexPages && len(descriptors) < o.opts.MaxFilings; pages++ {
		pageURL := queue[0]
		queue = queue[1:]
		if _, seen := visited[pageURL]; seen {
			continue
		}
		visited[pageURL] = struct{}{}

		body, err := o.fetcher.Fetch(ctx, pageURL, contentType)
		if err != nil {
			if pages == 0 {
				return nil, "", err
			}
			log.Warn().Err(err).Str("url", pageURL).Msg("filing list page failed, stopping pagination")
			break
		}
		if pages == 0 {
			name = edgar.CompanyName(body)
		}
		descriptors = edgar.Dedupe(append(descriptors, parser.ParseIndex(body)...))
		queue = append(queue, parser.NextPages(body, pageURL)...)
	}

	if len(descriptors) > o.opts.MaxFilings {
		descriptors = descriptors[:o.opts.MaxFilings]
	}
	return descriptors, name, nil
}

// stagedDocument is a document present on disk and waiting for classification.
type stagedDocument struct {
	filing    edgar.FilingDescriptor
	sourceURL string
	name      string
	path      string
}

// fetchDocuments downloads up to MaxDocsPerFiling documents per filing into the
// company directory. Documents already on disk, as valid or junk, are reused.
func (o *Orchestrator) fetchDocuments(ctx context.Context, ticker string, descriptors []edgar.FilingDescriptor, meta *CompanyMetadata) ([]stagedDocument, error) {
	companyDir := CompanyDir(o.opts.DataDir, ticker)
	junkDir := JunkDir(o.opts.DataDir, ticker)

	var staged []stagedDocument
	names := make(map[string]string)

	for _, filing := range descriptors {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		flog := log.With().Str("ticker", ticker).Str("filing_type", filing.FilingType).Str("filed_date", filing.FiledDate).Logger()

		links, err := o.documentLinks(ctx, filing)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err() //nolint:wrapcheck
			}
			meta.FailedFilings++
			flog.Warn().Err(err).Str("url", filing.IndexURL).Msg("filing index failed, skipping filing")
			continue
		}

		for _, link := range links {
			name, fresh := uniqueName(names, LocalName(filing, link.Filename), link.URL)
			if !fresh {
				continue
			}
			doc := stagedDocument{filing: filing, sourceURL: link.URL, name: name}

			switch {
			case fileutil.Exists(filepath.Join(companyDir, name)):
				doc.path = filepath.Join(companyDir, name)
				meta.Reused++
			case fileutil.Exists(filepath.Join(junkDir, name)):
				doc.path = filepath.Join(junkDir, name)
				meta.Reused++
			default:
				body, err := o.fetcher.Fetch(ctx, link.URL, fetch.ContentAny)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err() //nolint:wrapcheck
					}
					meta.FailedDocuments++
					flog.Warn().Err(err).Str("url", link.URL).Msg("document fetch failed, skipping")
					continue
				}
				doc.path = filepath.Join(companyDir, name)
				if err := fileutil.WriteFileAtomic(doc.path, body); err != nil {
					return nil, fmt.Errorf("write %s: %w", name, err)
				}
				meta.Downloaded++
				flog.Debug().Str("file", name).Int("bytes", len(body)).Msg("document saved")
			}
			staged = append(staged, doc)
		}
	}
	return staged, nil
}

// documentLinks lists the documents to take from one filing, falling back to the
// primary document named in the filing list when the filing index is unusable.
func (o *Orchestrator) documentLinks(ctx context.Context, filing edgar.FilingDescriptor) ([]edgar.DocumentLink, error) {
	body, err := o.fetcher.Fetch(ctx, filing.IndexURL, fetch.ContentHTML)
	if err != nil {
		if fetch.IsKind(err, fetch.KindNotFound) && filing.PrimaryDocument != "" {
			return o.selectLinks(filing, []edgar.DocumentLink{primaryLink(filing)}), nil
		}
		return nil, err
	}
	links := edgar.ParseDocumentIndex(body, filing.IndexURL)
	if len(links) == 0 && filing.PrimaryDocument != "" {
		links = []edgar.DocumentLink{primaryLink(filing)}
	}
	return o.selectLinks(filing, links), nil
}

func (o *Orchestrator) selectLinks(filing edgar.FilingDescriptor, links []edgar.DocumentLink) []edgar.DocumentLink {
	selected := make([]edgar.DocumentLink, 0, o.opts.MaxDocsPerFiling)
	for _, link := range links {
		if len(selected) == o.opts.MaxDocsPerFiling {
			break
		}
		if _, ok := o.allowed[strings.ToLower(filepath.Ext(link.Filename))]; !ok {
			continue
		}
		// the complete submission text file repeats every document
		if filing.Accession != "" && link.Filename == filing.Accession+".txt" {
			continue
		}
		selected = append(selected, link)
	}
	return selected
}

func primaryLink(filing edgar.FilingDescriptor) edgar.DocumentLink {
	dir := filing.IndexURL[:strings.LastIndex(filing.IndexURL, "/")+1]
	return edgar.DocumentLink{
		Sequence: 1,
		URL:      dir + filing.PrimaryDocument,
		Filename: filing.PrimaryDocument,
	}
}

// classifyDocuments tags every staged document, moves it into the junk or valid
// directory as its verdict requires, and fills the metadata counts.
func (o *Orchestrator) classifyDocuments(ticker string, staged []stagedDocument, meta *CompanyMetadata) error {
	companyDir := CompanyDir(o.opts.DataDir, ticker)
	junkDir := JunkDir(o.opts.DataDir, ticker)

	for _, doc := range staged {
		content, err := os.ReadFile(doc.path) //nolint:gosec // path is built from the data dir
		if err != nil {
			meta.FailedDocuments++
			log.Warn().Err(err).Str("ticker", ticker).Str("file", doc.name).Msg("read staged document failed")
			continue
		}
		result := o.classifier.Classify(doc.name, content)

		target := filepath.Join(companyDir, doc.name)
		if !result.IsValid {
			target = filepath.Join(junkDir, doc.name)
		}
		if target != doc.path {
			if err := os.Rename(doc.path, target); err != nil {
				return fmt.Errorf("move %s: %w", doc.name, err)
			}
		}

		meta.Documents = append(meta.Documents, DocumentRecord{
			SourceURL:     doc.sourceURL,
			LocalFilename: doc.name,
			ByteSize:      int64(len(content)),
			FilingType:    result.FilingType,
			IsValid:       result.IsValid,
			JunkReason:    result.JunkReason,
			FormType:      doc.filing.FilingType,
			FiledDate:     doc.filing.FiledDate,
			Accession:     doc.filing.Accession,
		})
		meta.TotalFiles++
		if result.IsValid {
			meta.ValidFiles++
			meta.FilingTypeCounts[result.FilingType]++
		} else {
			meta.JunkFiles++
			log.Warn().Str("ticker", ticker).Str("file", doc.name).Str("reason", result.JunkReason).Msg("document classified as junk")
		}
	}
	sort.SliceStable(meta.Documents, func(i, j int) bool {
		return meta.Documents[i].LocalFilename < meta.Documents[j].LocalFilename
	})
	return nil
}

func (o *Orchestrator) setPhase(ctx context.Context, ticker string, phase pipeline.Phase) {
	if err := o.tracker.SetPhase(ctx, ticker, phase); err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Str("phase", string(phase)).Msg("record phase failed")
	}
}

// LocalName derives the on-disk name of a document:
// <TYPE>_<YYYYMMDD|Unknown>_<original filename>.
func LocalName(filing edgar.FilingDescriptor, original string) string {
	date := strings.ReplaceAll(filing.FiledDate, "-", "")
	if date == "" || filing.FiledDate == edgar.UnknownDate {
		date = edgar.UnknownDate
	}
	filingType := strings.ReplaceAll(strings.ToUpper(filing.FilingType), "/", "_")
	return fileutil.SafeName(filingType + "_" + date + "_" + original)
}

// uniqueName returns name, or name with -<n> before its extension when another
// URL already claimed it in this run. fresh is false when sourceURL was named
// before.
func uniqueName(names map[string]string, name, sourceURL string) (string, bool) {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		owner, taken := names[candidate]
		if !taken {
			names[candidate] = sourceURL
			return candidate, true
		}
		if owner == sourceURL {
			return candidate, false
		}
		candidate = stem + "-" + strconv.Itoa(i) + ext
	}
}
