package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"healthwatch/internal/clock"
	"healthwatch/internal/config"
	"healthwatch/internal/dedupe"
	"healthwatch/internal/engine"
	"healthwatch/internal/ingest"
	"healthwatch/internal/lifecycle"
	"healthwatch/internal/logging"
	"healthwatch/internal/notify"
	"healthwatch/internal/state"
	"healthwatch/internal/window"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable detection service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      state.Store
	seen       dedupe.Cache
	windows    *window.Aggregator
	dispatcher *notify.Dispatcher
	pipeline   *Pipeline
	alerts     *lifecycle.Manager
	httpSrv    *http.Server
	natsSub    interface{ Close() error }
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	service.store, err = buildStore(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.seen, err = buildDedupeCache(cfg, clk)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	publishers, err := buildPublishers(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.dispatcher = notify.NewDispatcher(cfg.Notify, publishers, logger)
	service.alerts = lifecycle.NewManager(service.store, service.dispatcher, clk, cfg.Rule, logger)
	service.windows = window.New(clk, config.MaxRuleWindow(cfg.Rule))
	evaluator := engine.New(service.windows, logger)
	service.pipeline = NewPipeline(cfg, service.windows, evaluator, service.alerts, service.seen, clk, logger)

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	compactInterval := time.Duration(s.cfg.Service.CompactIntervalSec) * time.Second
	ticker := time.NewTicker(compactInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				tracked := s.windows.Compact()
				s.logger.Debug("window compaction finished", "villages", tracked)
			}
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.pipeline.Close(); err != nil {
		s.logger.Error("pipeline close failed", "error", err.Error())
		markErr(fmt.Errorf("pipeline close: %w", err))
	}
	if err := s.dispatcher.Close(); err != nil {
		s.logger.Error("dispatcher close failed", "error", err.Error())
		markErr(fmt.Errorf("dispatcher close: %w", err))
	}
	if err := s.seen.Close(); err != nil {
		s.logger.Error("dedupe cache close failed", "error", err.Error())
		markErr(fmt.Errorf("dedupe cache close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.pipeline != nil {
		_ = s.pipeline.Close()
		s.pipeline = nil
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Close()
		s.dispatcher = nil
	}
	if s.seen != nil {
		_ = s.seen.Close()
		s.seen = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the intake and admin surface when enabled.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	if !s.cfg.Ingest.HTTP.Enabled {
		return nil
	}
	handler := ingest.NewHTTPHandler(s.cfg.Ingest.HTTP, s.pipeline, s.alerts, s.readyFlag.Load)
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.pipeline, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates the durable alert store from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendSQLite:
		return state.NewSQLiteStore(context.Background(), cfg.State.SQLite.Path)
	default:
		return state.NewMemoryStore(), nil
	}
}

// buildDedupeCache creates the report-id idempotency cache from config.
// Params: root config snapshot and clock.
// Returns: selected cache backend.
func buildDedupeCache(cfg config.Config, clk clock.Clock) (dedupe.Cache, error) {
	ttl := time.Duration(cfg.Dedupe.TTLSec) * time.Second
	switch cfg.Dedupe.Backend {
	case config.DedupeBackendRedis:
		return dedupe.NewRedisCache(cfg.Dedupe.Redis.Addr, cfg.Dedupe.Redis.Password, cfg.Dedupe.Redis.DB, cfg.Dedupe.Redis.KeyPrefix, ttl), nil
	default:
		return dedupe.NewMemoryCache(ttl, clk), nil
	}
}

// buildPublishers creates one publisher per enabled notification transport.
// Params: root config snapshot.
// Returns: publisher slice for the dispatcher.
func buildPublishers(cfg config.Config) ([]notify.Publisher, error) {
	publishers := make([]notify.Publisher, 0, 4)
	if cfg.Notify.NATS.Enabled {
		publisher, err := notify.NewNATSPublisher(cfg.Notify.NATS)
		if err != nil {
			closePublishers(publishers)
			return nil, err
		}
		publishers = append(publishers, publisher)
	}
	if cfg.Notify.Kafka.Enabled {
		publishers = append(publishers, notify.NewKafkaPublisher(cfg.Notify.Kafka))
	}
	if cfg.Notify.Telegram.Enabled {
		publishers = append(publishers, notify.NewTelegramPublisher(cfg.Notify.Telegram))
	}
	if cfg.Notify.Webhook.Enabled {
		publishers = append(publishers, notify.NewWebhookPublisher(cfg.Notify.Webhook))
	}
	return publishers, nil
}

// closePublishers closes already created publishers on setup failures.
// Params: publisher slice.
// Returns: none.
func closePublishers(publishers []notify.Publisher) {
	for _, publisher := range publishers {
		_ = publisher.Close()
	}
}
