package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"healthwatch/internal/clock"
	"healthwatch/internal/config"
	"healthwatch/internal/dedupe"
	"healthwatch/internal/domain"
	"healthwatch/internal/engine"
	"healthwatch/internal/window"
)

// TriggerHandler consumes evaluator triggers and owns the resulting alerts.
// Params: context and one trigger.
// Returns: resulting alert snapshot or persistence error.
type TriggerHandler interface {
	OnTrigger(ctx context.Context, trigger domain.Trigger) (domain.Alert, error)
}

// Pipeline fans validated reports out to per-village workers.
// Reports for one village are processed in arrival order; villages
// proceed independently of each other.
// Params: rules, window aggregator, evaluator, trigger handler, and dedupe cache.
// Returns: report sink feeding the detection path.
type Pipeline struct {
	rules      []config.RuleConfig
	windows    *window.Aggregator
	evaluator  *engine.Evaluator
	alerts     TriggerHandler
	seen       dedupe.Cache
	logger     *slog.Logger
	clock      clock.Clock
	queueDepth int

	mu      sync.Mutex
	workers map[string]chan domain.Report
	wg      sync.WaitGroup
	closed  bool
}

// NewPipeline creates the report processing pipeline.
// Params: service config, aggregator, evaluator, trigger handler, dedupe cache, clock, and logger.
// Returns: initialized pipeline ready to accept reports.
func NewPipeline(cfg config.Config, windows *window.Aggregator, evaluator *engine.Evaluator, alerts TriggerHandler, seen dedupe.Cache, clk clock.Clock, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		rules:      cfg.Rule,
		windows:    windows,
		evaluator:  evaluator,
		alerts:     alerts,
		seen:       seen,
		logger:     logger,
		clock:      clk,
		queueDepth: cfg.Service.VillageQueueDepth,
		workers:    make(map[string]chan domain.Report),
	}
}

// Push enqueues one report onto its village worker.
// Params: normalized report from an ingest interface.
// Returns: error when the pipeline is stopped or the village queue is full.
func (p *Pipeline) Push(report domain.Report) error {
	queue, err := p.worker(report.Village)
	if err != nil {
		return err
	}
	select {
	case queue <- report:
		return nil
	default:
		return fmt.Errorf("village %q queue is full", report.Village)
	}
}

// Close stops accepting reports and drains all village workers.
// Params: none.
// Returns: nil after every queued report finished processing.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, queue := range p.workers {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// worker returns the report queue for one village, starting it on first use.
// Params: village name.
// Returns: bounded channel or error after Close.
func (p *Pipeline) worker(village string) (chan domain.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("pipeline is stopped")
	}
	queue, ok := p.workers[village]
	if !ok {
		queue = make(chan domain.Report, p.queueDepth)
		p.workers[village] = queue
		p.wg.Add(1)
		go p.run(queue)
	}
	return queue, nil
}

// run processes one village queue until it is closed.
// Params: village report channel.
// Returns: none; failures are logged per report and never stop the worker.
func (p *Pipeline) run(queue chan domain.Report) {
	defer p.wg.Done()
	for report := range queue {
		p.process(report)
	}
}

// process runs dedupe, windowing, evaluation, and trigger hand-off for one report.
// Params: normalized report.
// Returns: none.
func (p *Pipeline) process(report domain.Report) {
	ctx := context.Background()

	duplicate, err := p.seen.Seen(ctx, report.ID)
	if err != nil {
		p.logger.Warn("report dedupe check failed",
			slog.String("report_id", report.ID),
			slog.String("error", err.Error()))
	} else if duplicate {
		p.logger.Debug("duplicate report skipped",
			slog.String("report_id", report.ID),
			slog.String("village", report.Village))
		return
	}

	p.windows.Record(report)

	triggers := p.evaluator.Evaluate(report, p.rules, p.clock.Now())
	for _, trigger := range triggers {
		if _, err := p.alerts.OnTrigger(ctx, trigger); err != nil {
			p.logger.Error("trigger processing failed",
				slog.String("rule", trigger.RuleName),
				slog.String("village", trigger.Village),
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()))
		}
	}
}
