package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"hedgeintel/internal/archive"
	"hedgeintel/internal/download"
	"hedgeintel/internal/edgar"
	"hedgeintel/internal/fetch"
	"hedgeintel/internal/pipeline"
	"hedgeintel/internal/runner"
)

type enqueueRequest struct {
	Ticker string `json:"ticker"`
	CIK    string `json:"cik"`
}

type pipelineResponse struct {
	Pending   []pipeline.Entry `json:"pending"`
	Active    []pipeline.Entry `json:"active"`
	Completed []pipeline.Entry `json:"completed"`
	Current   *runner.Run      `json:"current_run,omitempty"`
	History   []runner.Run     `json:"history"`
}

type companyResponse struct {
	Entry pipeline.Entry `json:"entry"`
	List  pipeline.List  `json:"list"`
}

// CIKResolver maps tickers to CIKs. *edgar.Resolver satisfies it.
type CIKResolver interface {
	Resolve(ctx context.Context, ticker string) (edgar.Mapping, error)
	Add(ticker, cik, name string) error
}

type API struct {
	store    *pipeline.Store
	manager  *runner.Manager
	resolver CIKResolver
	dataDir  string
}

// NewAPI wires the handlers. resolver may be nil, in which case every enqueue
// must carry a CIK.
func NewAPI(store *pipeline.Store, manager *runner.Manager, resolver CIKResolver, dataDir string) *API {
	return &API{store: store, manager: manager, resolver: resolver, dataDir: dataDir}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/pipeline", a.GetPipeline)
		api.POST("/pipeline/drain", a.DrainPending)
		api.POST("/companies", a.EnqueueCompany)
		api.GET("/companies/:ticker", a.GetCompany)
		api.DELETE("/companies/:ticker", a.RemoveCompany)
		api.POST("/companies/:ticker/run", a.RunCompany)
		api.POST("/companies/:ticker/retry", a.RetryCompany)
		api.GET("/companies/:ticker/metadata", a.GetMetadata)
		api.GET("/companies/:ticker/archive", a.DownloadArchive)
		api.GET("/runs", a.ListRuns)
	}
}

// GetPipeline returns the three lists together with the run in progress.
func (a *API) GetPipeline(c *gin.Context) {
	snapshot := a.store.Snapshot()
	resp := pipelineResponse{
		Pending:   snapshot.Pending,
		Active:    snapshot.Active,
		Completed: snapshot.Completed,
		History:   a.manager.History(),
	}
	if run, ok := a.manager.Current(); ok {
		resp.Current = &run
	}
	c.JSON(http.StatusOK, resp)
}

// EnqueueCompany adds a ticker to the pending list. The CIK is looked up when
// the request leaves it out.
func (a *API) EnqueueCompany(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid enqueue request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	entry, err := a.enqueue(c.Request.Context(), req.Ticker, req.CIK)
	if err != nil {
		c.JSON(enqueueStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (a *API) enqueue(ctx context.Context, ticker, cik string) (pipeline.Entry, error) {
	ticker = pipeline.NormalizeTicker(ticker)
	if ticker == "" {
		return pipeline.Entry{}, pipeline.ErrEmptyTicker
	}
	cik = strings.TrimSpace(cik)
	supplied := cik != ""
	if !supplied && a.resolver != nil {
		mapping, err := a.resolver.Resolve(ctx, ticker)
		if err != nil {
			return pipeline.Entry{}, err
		}
		cik = mapping.CIK
	}
	entry, err := a.store.Enqueue(ctx, ticker, cik)
	if err != nil {
		return pipeline.Entry{}, err
	}
	if supplied && a.resolver != nil {
		if err := a.resolver.Add(ticker, entry.CIK, ""); err != nil {
			log.Warn().Str("ticker", ticker).Err(err).Msg("recording cik mapping failed")
		}
	}
	log.Info().Str("ticker", entry.Ticker).Str("cik", entry.CIK).Msg("company queued")
	return entry, nil
}

func enqueueStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrEmptyTicker), errors.Is(err, pipeline.ErrInvalidCIK):
		return http.StatusBadRequest
	case errors.Is(err, edgar.ErrUnknownTicker):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrCompanyActive):
		return http.StatusConflict
	case fetchFailed(err):
		return http.StatusBadGateway
	default:
		log.Error().Err(err).Msg("enqueue failed")
		return http.StatusInternalServerError
	}
}

func fetchFailed(err error) bool {
	var ferr *fetch.Error
	return errors.As(err, &ferr)
}

func (a *API) GetCompany(c *gin.Context) {
	entry, list, found := a.store.Lookup(c.Param("ticker"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": pipeline.ErrCompanyNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, companyResponse{Entry: entry, List: list})
}

func (a *API) RemoveCompany(c *gin.Context) {
	ticker := c.Param("ticker")
	err := a.store.Remove(c.Request.Context(), ticker)
	switch {
	case errors.Is(err, pipeline.ErrCompanyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrCompanyActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Str("ticker", ticker).Err(err).Msg("remove failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist pipeline state"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// RunCompany starts a background scan of one queued company.
func (a *API) RunCompany(c *gin.Context) {
	run, err := a.manager.Submit(c.Param("ticker"))
	a.respondRun(c, run, err)
}

// RetryCompany re-runs a company stuck in active.
func (a *API) RetryCompany(c *gin.Context) {
	run, err := a.manager.Retry(c.Param("ticker"))
	a.respondRun(c, run, err)
}

// DrainPending scans every pending company in queue order.
func (a *API) DrainPending(c *gin.Context) {
	run, err := a.manager.DrainPending()
	a.respondRun(c, run, err)
}

func (a *API) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, a.manager.History())
}

func (a *API) respondRun(c *gin.Context, run runner.Run, err error) {
	switch {
	case errors.Is(err, runner.ErrCompanyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, runner.ErrRunnerBusy), errors.Is(err, runner.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, runner.ErrNothingPending):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		log.Error().Err(err).Msg("starting run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, run)
	}
}

// GetMetadata serves the company's last recorded scan.
func (a *API) GetMetadata(c *gin.Context) {
	ticker := pipeline.NormalizeTicker(c.Param("ticker"))
	meta, err := download.LoadMetadata(a.dataDir, ticker)
	if errors.Is(err, download.ErrNoMetadata) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Str("ticker", ticker).Err(err).Msg("loading metadata failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metadata unreadable"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DownloadArchive zips the company's valid documents and metadata and serves
// the result.
func (a *API) DownloadArchive(c *gin.Context) {
	ticker := pipeline.NormalizeTicker(c.Param("ticker"))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": pipeline.ErrEmptyTicker.Error()})
		return
	}
	// a scan moves files between the company dir and junk/, so none may start
	// while the zip is written
	release, err := a.manager.Hold()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "scan in progress"})
		return
	}
	dest := filepath.Join(a.dataDir, "exports", ticker+".zip")
	results, err := archive.BuildArchive(c.Request.Context(), dest, download.CompanyDir(a.dataDir, ticker))
	release()
	if errors.Is(err, archive.ErrEmptySource) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Str("ticker", ticker).Err(err).Msg("building archive failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive failed"})
		return
	}
	log.Info().Str("ticker", ticker).Int("files", len(results)).Str("path", dest).Msg("serving archive download")
	c.FileAttachment(dest, ticker+".zip")
}
