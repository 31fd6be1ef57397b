package engine

import (
	"fmt"
	"log/slog"
	"time"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
	"healthwatch/internal/msgfmt"
	"healthwatch/internal/window"
)

// WindowReader provides aggregate counts for trailing windows.
// Params: village name and window duration per query.
// Returns: counts and satisfying report ids as of "now".
type WindowReader interface {
	Counts(village string, windowDuration time.Duration) window.Counts
	ReportIDs(village string, windowDuration time.Duration, symptom string) []string
}

// MessageContext is the data model for per-rule message templates.
// Params: rule/report facets available to template bodies.
// Returns: rendering input for msgfmt templates.
type MessageContext struct {
	Rule      string
	Village   string
	Symptom   string
	Count     int
	Threshold int
	Window    time.Duration
	Severity  domain.Severity
	Level     domain.ContaminationLevel
	ReportID  string
}

// Evaluator turns one report plus window state into candidate triggers.
// Params: window reader and logger for skipped-rule diagnostics.
// Returns: pure evaluation component; owns no mutable state.
type Evaluator struct {
	windows WindowReader
	logger  *slog.Logger
}

// New constructs a rule evaluator.
// Params: window reader and logger.
// Returns: initialized evaluator.
func New(windows WindowReader, logger *slog.Logger) *Evaluator {
	return &Evaluator{windows: windows, logger: logger}
}

// Evaluate runs every applicable active rule against one report.
// Params: validated report, rule snapshot, and evaluation time.
// Returns: zero or more triggers; malformed rules are skipped and logged.
func (e *Evaluator) Evaluate(report domain.Report, rules []config.RuleConfig, now time.Time) []domain.Trigger {
	triggers := make([]domain.Trigger, 0)
	for _, rule := range config.ActiveRules(rules, report.Village) {
		switch rule.Type {
		case config.RuleTypeContaminationLevel:
			if trigger, ok := e.evalContamination(rule, report, now); ok {
				triggers = append(triggers, trigger)
			}
		case config.RuleTypeSeverityAtLeast:
			if trigger, ok := e.evalSeverity(rule, report, now); ok {
				triggers = append(triggers, trigger)
			}
		case config.RuleTypeSymptomWindow:
			triggers = append(triggers, e.evalSymptomWindow(rule, report, now)...)
		case config.RuleTypeSymptomPresence:
			if trigger, ok := e.evalPresence(rule, report, now); ok {
				triggers = append(triggers, trigger)
			}
		default:
			e.skipRule(rule, report, "unsupported rule type")
		}
	}
	return triggers
}

// evalContamination matches the report's water test against the rule level.
// Params: rule, report, and evaluation time.
// Returns: single-report trigger and match flag.
func (e *Evaluator) evalContamination(rule config.RuleConfig, report domain.Report, now time.Time) (domain.Trigger, bool) {
	if rule.Level == "" {
		e.skipRule(rule, report, "contamination rule has no level")
		return domain.Trigger{}, false
	}
	if report.WaterTest == nil || report.WaterTest.ContaminationLevel != rule.Level {
		return domain.Trigger{}, false
	}

	msgCtx := MessageContext{
		Rule:     rule.Name,
		Village:  report.Village,
		Level:    rule.Level,
		Severity: rule.Severity,
		ReportID: report.ID,
	}
	return domain.Trigger{
		RuleName:  rule.Name,
		Village:   report.Village,
		Type:      rule.AlertType,
		Severity:  rule.Severity,
		Title:     fmt.Sprintf("Water contamination in %s", msgfmt.Title(report.Village)),
		Message:   e.renderMessage(rule, msgCtx, defaultContaminationMessage(msgCtx)),
		ReportIDs: []string{report.ID},
		At:        now,
	}, true
}

// evalSeverity matches report severity at or above the rule threshold.
// Params: rule, report, and evaluation time.
// Returns: single-report trigger and match flag.
func (e *Evaluator) evalSeverity(rule config.RuleConfig, report domain.Report, now time.Time) (domain.Trigger, bool) {
	if rule.MinSeverity == "" {
		e.skipRule(rule, report, "severity rule has no min_severity")
		return domain.Trigger{}, false
	}
	if report.Severity.Rank() < rule.MinSeverity.Rank() {
		return domain.Trigger{}, false
	}

	msgCtx := MessageContext{
		Rule:     rule.Name,
		Village:  report.Village,
		Severity: report.Severity,
		ReportID: report.ID,
	}
	return domain.Trigger{
		RuleName:  rule.Name,
		Village:   report.Village,
		Type:      rule.AlertType,
		Severity:  domain.MaxSeverity(rule.Severity, report.Severity),
		Title:     fmt.Sprintf("Severe case reported in %s", msgfmt.Title(report.Village)),
		Message:   e.renderMessage(rule, msgCtx, defaultSeverityMessage(msgCtx)),
		ReportIDs: []string{report.ID},
		At:        now,
	}, true
}

// evalSymptomWindow matches windowed symptom counts against the threshold.
// Params: rule, report, and evaluation time.
// Returns: one trigger per qualifying symptom present in the report.
func (e *Evaluator) evalSymptomWindow(rule config.RuleConfig, report domain.Report, now time.Time) []domain.Trigger {
	if rule.Window <= 0 {
		e.skipRule(rule, report, "count rule has no window")
		return nil
	}
	if rule.Threshold <= 0 {
		e.skipRule(rule, report, "count rule has no threshold")
		return nil
	}

	candidates := report.Symptoms
	if rule.Symptom != "" {
		if !report.HasSymptom(rule.Symptom) {
			return nil
		}
		candidates = []string{rule.Symptom}
	}

	counts := e.windows.Counts(report.Village, rule.Window)
	triggers := make([]domain.Trigger, 0, len(candidates))
	for _, symptom := range candidates {
		count := counts.Symptoms[symptom]
		if count < rule.Threshold {
			continue
		}
		msgCtx := MessageContext{
			Rule:      rule.Name,
			Village:   report.Village,
			Symptom:   symptom,
			Count:     count,
			Threshold: rule.Threshold,
			Window:    rule.Window,
			Severity:  rule.Severity,
			ReportID:  report.ID,
		}
		triggers = append(triggers, domain.Trigger{
			RuleName:  rule.Name,
			Village:   report.Village,
			Type:      rule.AlertType,
			Severity:  rule.Severity,
			Title:     fmt.Sprintf("Possible %s outbreak in %s", symptom, msgfmt.Title(report.Village)),
			Message:   e.renderMessage(rule, msgCtx, defaultOutbreakMessage(msgCtx)),
			Symptom:   symptom,
			Count:     count,
			Threshold: rule.Threshold,
			ReportIDs: e.windows.ReportIDs(report.Village, rule.Window, symptom),
			At:        now,
		})
	}
	return triggers
}

// evalPresence matches the mere presence of the rule symptom.
// Params: rule, report, and evaluation time.
// Returns: single-report trigger and match flag.
func (e *Evaluator) evalPresence(rule config.RuleConfig, report domain.Report, now time.Time) (domain.Trigger, bool) {
	if rule.Symptom == "" {
		e.skipRule(rule, report, "presence rule has no symptom")
		return domain.Trigger{}, false
	}
	if !report.HasSymptom(rule.Symptom) {
		return domain.Trigger{}, false
	}

	msgCtx := MessageContext{
		Rule:     rule.Name,
		Village:  report.Village,
		Symptom:  rule.Symptom,
		Severity: rule.Severity,
		ReportID: report.ID,
	}
	return domain.Trigger{
		RuleName:  rule.Name,
		Village:   report.Village,
		Type:      rule.AlertType,
		Severity:  rule.Severity,
		Title:     fmt.Sprintf("%s reported in %s", msgfmt.Title(rule.Symptom), msgfmt.Title(report.Village)),
		Message:   e.renderMessage(rule, msgCtx, defaultPresenceMessage(msgCtx)),
		Symptom:   rule.Symptom,
		ReportIDs: []string{report.ID},
		At:        now,
	}, true
}

// renderMessage renders the rule template or falls back to the default body.
// Params: rule, template context, and default message.
// Returns: rendered or default message; template failures are logged.
func (e *Evaluator) renderMessage(rule config.RuleConfig, msgCtx MessageContext, fallback string) string {
	if rule.MessageTemplate == "" {
		return fallback
	}
	compiled, err := msgfmt.ParseAlertTemplate(rule.Name, rule.MessageTemplate)
	if err == nil {
		var rendered string
		if rendered, err = msgfmt.Render(compiled, msgCtx); err == nil {
			return rendered
		}
	}
	if e.logger != nil {
		e.logger.Warn("alert message template failed",
			"rule", rule.Name, "village", msgCtx.Village, "report_id", msgCtx.ReportID, "error", err.Error())
	}
	return fallback
}

// skipRule logs one malformed/unsupported rule with reproduction context.
// Params: rule, report, and reason.
// Returns: none.
func (e *Evaluator) skipRule(rule config.RuleConfig, report domain.Report, reason string) {
	if e.logger == nil {
		return
	}
	e.logger.Warn("rule skipped during evaluation",
		"rule", rule.Name, "report_id", report.ID, "village", report.Village, "reason", reason)
}

// defaultContaminationMessage builds the stock contamination alert body.
// Params: message context.
// Returns: human-readable message.
func defaultContaminationMessage(msgCtx MessageContext) string {
	return fmt.Sprintf("Water test in %s returned %s contamination level", msgfmt.Title(msgCtx.Village), msgCtx.Level)
}

// defaultSeverityMessage builds the stock severity alert body.
// Params: message context.
// Returns: human-readable message.
func defaultSeverityMessage(msgCtx MessageContext) string {
	return fmt.Sprintf("A %s severity case was reported in %s", msgCtx.Severity, msgfmt.Title(msgCtx.Village))
}

// defaultOutbreakMessage builds the stock outbreak alert body.
// Params: message context.
// Returns: human-readable message.
func defaultOutbreakMessage(msgCtx MessageContext) string {
	return fmt.Sprintf("%s reported %d times in %s within %s (threshold %d)",
		msgfmt.Title(msgCtx.Symptom), msgCtx.Count, msgfmt.Title(msgCtx.Village),
		msgfmt.FormatDuration(msgCtx.Window), msgCtx.Threshold)
}

// defaultPresenceMessage builds the stock symptom-presence alert body.
// Params: message context.
// Returns: human-readable message.
func defaultPresenceMessage(msgCtx MessageContext) string {
	return fmt.Sprintf("%s was reported in %s and requires follow-up", msgfmt.Title(msgCtx.Symptom), msgfmt.Title(msgCtx.Village))
}
