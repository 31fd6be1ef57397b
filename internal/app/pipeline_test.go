package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"healthwatch/internal/clock"
	"healthwatch/internal/config"
	"healthwatch/internal/dedupe"
	"healthwatch/internal/domain"
	"healthwatch/internal/engine"
	"healthwatch/internal/window"
)

var pipelineStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type capturingHandler struct {
	mu       sync.Mutex
	triggers []domain.Trigger
}

func (h *capturingHandler) OnTrigger(_ context.Context, trigger domain.Trigger) (domain.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.triggers = append(h.triggers, trigger)
	return domain.Alert{ID: "a1"}, nil
}

func (h *capturingHandler) snapshot() []domain.Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Trigger(nil), h.triggers...)
}

func pipelineConfig() config.Config {
	return config.Config{
		Service: config.ServiceConfig{VillageQueueDepth: 64},
		Rule: []config.RuleConfig{{
			Name:      "diarrhea-outbreak",
			Type:      config.RuleTypeSymptomWindow,
			Symptom:   "diarrhea",
			Threshold: 5,
			Window:    24 * time.Hour,
			Severity:  domain.SeverityHigh,
			AlertType: domain.AlertTypeDiseaseOutbreak,
			Active:    true,
		}},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *capturingHandler, *clock.Manual) {
	t.Helper()
	cfg := pipelineConfig()
	clk := clock.NewManual(pipelineStart)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	windows := window.New(clk, config.MaxRuleWindow(cfg.Rule))
	evaluator := engine.New(windows, logger)
	handler := &capturingHandler{}
	seen := dedupe.NewMemoryCache(time.Hour, clk)
	pipeline := NewPipeline(cfg, windows, evaluator, handler, seen, clk, logger)
	return pipeline, handler, clk
}

func pipelineReport(id string, at time.Time) domain.Report {
	return domain.Report{
		ID:       id,
		Village:  "riverside",
		DT:       at.UnixMilli(),
		Symptoms: []string{"diarrhea"},
		Severity: domain.SeverityMedium,
	}
}

func TestPipelineTriggersAtThreshold(t *testing.T) {
	t.Parallel()

	pipeline, handler, clk := newTestPipeline(t)
	for i := 1; i <= 5; i++ {
		report := pipelineReport(fmt.Sprintf("r%d", i), clk.Now().Add(-time.Duration(6-i)*time.Minute))
		if err := pipeline.Push(report); err != nil {
			t.Fatalf("push r%d: %v", i, err)
		}
	}
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	triggers := handler.snapshot()
	if len(triggers) != 1 {
		t.Fatalf("expected exactly 1 trigger at the threshold crossing, got %d", len(triggers))
	}
	trigger := triggers[0]
	if trigger.Count != 5 || trigger.Threshold != 5 {
		t.Fatalf("unexpected trigger counts: %+v", trigger)
	}
	if len(trigger.ReportIDs) != 5 {
		t.Fatalf("expected 5 evidence report ids, got %+v", trigger.ReportIDs)
	}
}

func TestPipelineSkipsDuplicateReportIDs(t *testing.T) {
	t.Parallel()

	pipeline, handler, clk := newTestPipeline(t)
	report := pipelineReport("r1", clk.Now().Add(-time.Minute))
	for i := 0; i < 4; i++ {
		if err := pipeline.Push(report); err != nil {
			t.Fatalf("push attempt %d: %v", i, err)
		}
	}
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(handler.snapshot()) != 0 {
		t.Fatalf("expected duplicates to never reach the threshold")
	}
}

func TestPipelineRejectsPushAfterClose(t *testing.T) {
	t.Parallel()

	pipeline, _, clk := newTestPipeline(t)
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pipeline.Push(pipelineReport("r1", clk.Now())); err == nil {
		t.Fatalf("expected push to fail after close")
	}
}

func TestPipelineIsolatesVillages(t *testing.T) {
	t.Parallel()

	pipeline, handler, clk := newTestPipeline(t)
	for i := 1; i <= 5; i++ {
		report := pipelineReport(fmt.Sprintf("riverside-%d", i), clk.Now().Add(-time.Minute))
		if err := pipeline.Push(report); err != nil {
			t.Fatalf("push riverside: %v", err)
		}
	}
	for i := 1; i <= 2; i++ {
		report := pipelineReport(fmt.Sprintf("hilltop-%d", i), clk.Now().Add(-time.Minute))
		report.Village = "hilltop"
		if err := pipeline.Push(report); err != nil {
			t.Fatalf("push hilltop: %v", err)
		}
	}
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	triggers := handler.snapshot()
	if len(triggers) != 1 {
		t.Fatalf("expected only riverside to trigger, got %+v", triggers)
	}
	if triggers[0].Village != "riverside" {
		t.Fatalf("unexpected trigger village %q", triggers[0].Village)
	}
}
