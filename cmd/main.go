package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hedgeintel/internal/api"
	"hedgeintel/internal/classify"
	"hedgeintel/internal/config"
	"hedgeintel/internal/download"
	"hedgeintel/internal/edgar"
	"hedgeintel/internal/fetch"
	fileutil "hedgeintel/internal/file"
	"hedgeintel/internal/pipeline"
	"hedgeintel/internal/runner"
)

const defaultConfigPath = "config.yml"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// a missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("reading .env failed")
	}

	configPath := os.Getenv("HEDGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	store := pipeline.NewStore(pipeline.NewFileStore(cfg.StateFile))
	if err := store.Load(context.Background()); err != nil {
		log.Fatal().Err(err).Str("path", cfg.StateFile).Msg("load pipeline state")
	}

	fetcher, err := fetch.New(fetch.Options{
		UserAgent:         cfg.UserAgent,
		MinDelay:          cfg.MinDelay,
		Jitter:            cfg.Jitter,
		RequestsPerSecond: cfg.MaxRequestsPerSecond,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffBase:       cfg.BackoffBase,
		Timeout:           cfg.RequestTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build fetcher")
	}
	manager := buildManager(cfg, fetcher, store)
	resolver := edgar.NewResolver(fetcher, edgar.TickersURL(cfg.SECBaseURL), cfg.CIKMapFile)

	router := setupRouter()
	handler := api.NewAPI(store, manager, resolver, cfg.DataDir)
	handler.RegisterRoutes(router)
	handler.RegisterUIRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	if cfg.Schedule != "" {
		if err := manager.StartSchedule(cfg.Schedule); err != nil {
			log.Fatal().Err(err).Msg("invalid schedule")
		}
	}

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

// buildManager wires the scan pipeline. The fetcher is shared so ticker lookups
// and scans obey one request budget.
func buildManager(cfg config.Config, fetcher *fetch.Fetcher, store *pipeline.Store) *runner.Manager {
	orch := download.New(fetcher, store, download.Options{
		DataDir:           cfg.DataDir,
		BaseURL:           cfg.SECBaseURL,
		DataURL:           cfg.SECDataURL,
		IndexSource:       cfg.IndexSource,
		MaxFilings:        cfg.MaxFilings,
		MaxDocsPerFiling:  cfg.MaxDocsPerFiling,
		MaxIndexPages:     cfg.MaxIndexPages,
		AllowedExtensions: cfg.AllowedExtensions,
		Classifier:        classify.New(cfg.MinDocumentBytes),
	})
	return runner.NewManager(store, orch.RunWithID)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *runner.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-m.StopSchedule().Done():
	case <-ctx.Done():
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	// in-flight scans stop at the next request and leave their company active
	cancelBase()
	if !m.WaitAll(ctx) {
		log.Warn().Msg("background runs did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
