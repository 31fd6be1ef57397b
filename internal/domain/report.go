package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is the canonical ordinal severity scale for reports and alerts.
// Params: low/medium/high/critical constants ordered by Rank.
// Returns: severity used across evaluation, alerts, and notifications.
type Severity string

const (
	// SeverityLow is the lowest canonical severity.
	SeverityLow Severity = "low"
	// SeverityMedium is elevated but not urgent severity.
	SeverityMedium Severity = "medium"
	// SeverityHigh is urgent severity.
	SeverityHigh Severity = "high"
	// SeverityCritical is the highest canonical severity.
	SeverityCritical Severity = "critical"
)

// severityRanks orders canonical severities for threshold comparisons.
var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// legacySeverityAliases maps the three-level field scale onto the canonical one.
var legacySeverityAliases = map[string]Severity{
	"mild":     SeverityLow,
	"moderate": SeverityMedium,
	"severe":   SeverityHigh,
}

// ParseSeverity normalizes an externally supplied severity value.
// Params: raw severity from either the canonical or the legacy field scale.
// Returns: canonical severity or error for unknown values.
func ParseSeverity(raw string) (Severity, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := severityRanks[Severity(normalized)]; ok {
		return Severity(normalized), nil
	}
	if mapped, ok := legacySeverityAliases[normalized]; ok {
		return mapped, nil
	}
	return "", fmt.Errorf("unsupported severity %q", raw)
}

// Rank returns severity position on the canonical scale.
// Params: none.
// Returns: 1..4 for canonical values, 0 for unknown.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// MaxSeverity picks the higher of two canonical severities.
// Params: two severities.
// Returns: severity with the greater rank.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ContaminationLevel grades a water-test contamination reading.
// Params: none/low/medium/high constants.
// Returns: categorical level matched by contamination rules.
type ContaminationLevel string

const (
	// ContaminationNone indicates a clean water test.
	ContaminationNone ContaminationLevel = "none"
	// ContaminationLow indicates trace contamination.
	ContaminationLow ContaminationLevel = "low"
	// ContaminationMedium indicates contamination requiring monitoring.
	ContaminationMedium ContaminationLevel = "medium"
	// ContaminationHigh indicates contamination requiring action.
	ContaminationHigh ContaminationLevel = "high"
)

// ParseContaminationLevel normalizes an externally supplied contamination level.
// Params: raw level string.
// Returns: canonical level or error for unknown values.
func ParseContaminationLevel(raw string) (ContaminationLevel, error) {
	normalized := ContaminationLevel(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case ContaminationNone, ContaminationLow, ContaminationMedium, ContaminationHigh:
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported contamination level %q", raw)
	}
}

// WaterTest is the optional water-quality section of a field report.
// Params: pH reading, categorical contamination level, and bacteria count.
// Returns: immutable water observation attached to one report.
type WaterTest struct {
	PH                 float64            `json:"ph"`
	ContaminationLevel ContaminationLevel `json:"contamination_level"`
	BacteriaCount      int64              `json:"bacteria_count"`
}

// Report is one validated field submission from a health worker.
// Params: identity, village, unix-milliseconds timestamp, symptom list,
// canonical severity, and optional water test.
// Returns: immutable input read by the detection pipeline.
type Report struct {
	ID        string     `json:"id"`
	Village   string     `json:"village"`
	DT        int64      `json:"dt"`
	Symptoms  []string   `json:"symptoms"`
	Severity  Severity   `json:"severity"`
	WaterTest *WaterTest `json:"water_test,omitempty"`
}

// ReportTime converts the milliseconds unix timestamp into UTC time.
// Params: report timestamp in unix milliseconds.
// Returns: converted UTC time.
func (r Report) ReportTime() time.Time {
	return time.UnixMilli(r.DT).UTC()
}

// HasSymptom reports whether the report lists the named symptom.
// Params: symptom name, matched case-insensitively.
// Returns: true when the symptom is present.
func (r Report) HasSymptom(symptom string) bool {
	for _, candidate := range r.Symptoms {
		if strings.EqualFold(candidate, symptom) {
			return true
		}
	}
	return false
}

// DecodeReport decodes and validates one report payload.
// Params: JSON document bytes.
// Returns: validated report or decode/validation error.
func DecodeReport(raw []byte) (Report, error) {
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if err := report.Normalize(); err != nil {
		return Report{}, err
	}
	return report, nil
}

// DecodeReportReader decodes and validates one report payload from stream.
// Params: reader positioned at one JSON object.
// Returns: validated report or decode/validation error.
func DecodeReportReader(reader *json.Decoder) (Report, error) {
	var report Report
	if err := reader.Decode(&report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if err := report.Normalize(); err != nil {
		return Report{}, err
	}
	return report, nil
}

// Normalize validates the report and maps external enums onto canonical ones.
// Params: report fields parsed from transport.
// Returns: validation error when the contract is violated.
func (r *Report) Normalize() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return errors.New("id is required")
	}
	r.Village = strings.TrimSpace(r.Village)
	if r.Village == "" {
		return errors.New("village is required")
	}
	if r.DT <= 0 {
		return errors.New("dt must be >0")
	}

	severity, err := ParseSeverity(string(r.Severity))
	if err != nil {
		return err
	}
	r.Severity = severity

	seen := make(map[string]struct{}, len(r.Symptoms))
	normalized := r.Symptoms[:0]
	for _, symptom := range r.Symptoms {
		name := strings.ToLower(strings.TrimSpace(symptom))
		if name == "" {
			return errors.New("symptom name must not be empty")
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	r.Symptoms = normalized

	if r.WaterTest != nil {
		level, err := ParseContaminationLevel(string(r.WaterTest.ContaminationLevel))
		if err != nil {
			return fmt.Errorf("water_test: %w", err)
		}
		r.WaterTest.ContaminationLevel = level
		if r.WaterTest.BacteriaCount < 0 {
			return errors.New("water_test: bacteria_count must be >=0")
		}
	}

	return nil
}
