package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/api"
	"aem-reporter/internal/config"
	"aem-reporter/internal/graph"
	"aem-reporter/internal/listener"
	"aem-reporter/internal/reporter"
	"aem-reporter/internal/storage"
	"aem-reporter/props"
)

// Server bundles the long-lived components built from config.
type Server struct {
	cfg      config.Config
	store    storage.Store
	reporter *reporter.Reporter
	http     *http.Server
}

func New(ctx context.Context, cfg config.Config) (*Server, error) {
	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rep, err := reporter.New(reporter.Options{
		AppID:                  cfg.Graph.AppID,
		Transport:              transport,
		Store:                  store,
		RefreshCooldown:        cfg.RefreshCooldown(),
		RetentionWindow:        cfg.RetentionWindow(),
		RetainedConfigsPerMode: cfg.Reporter.RetainedConfigsPerMode,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init reporter: %w", err)
	}
	if cfg.Reporter.Enabled {
		rep.Enable()
	}

	return &Server{
		cfg:      cfg,
		store:    store,
		reporter: rep,
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.Router(api.NewAEMHandler(rep)),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// newTransport talks to the graph API when a base URL is configured and
// otherwise serves the seed file's rule sets.
func newTransport(cfg config.Config) (reporter.Transport, error) {
	if cfg.Graph.BaseURL != "" {
		return graph.NewClient(cfg.Graph.BaseURL, cfg.Graph.AccessToken, cfg.GraphTimeout(),
			cfg.Graph.RatePerSecond, cfg.Graph.Burst), nil
	}
	if cfg.Seed.File == "" {
		log.Warn().Msg("no graph endpoint or seed file configured; catalog stays empty")
		return graph.NewStatic(nil), nil
	}
	seed, err := props.Load(cfg.Seed.File)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	log.Info().Str("file", cfg.Seed.File).Int("rule_sets", len(seed.RuleSets)).Msg("serving seeded rule sets")
	return graph.NewStatic(seed.RuleSets), nil
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start launches the HTTP server, the reporting cycle and, on Postgres, the
// rule-set change listener. It returns immediately.
func (s *Server) Start(ctx context.Context) {
	go s.reporter.Run(ctx, s.cfg.ReportInterval())

	if pg, ok := s.store.(*storage.Postgres); ok {
		go listener.ListenAndRefresh(ctx, pg.PgxPool(), s.reporter, pg.ListenChannel(), s.cfg.Backoff())
	}

	go func() {
		log.Info().Str("addr", s.cfg.Server.Addr).Msg("http server starting")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.reporter.Close()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}
	srv.Start(rootCtx)

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
