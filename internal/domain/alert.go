package domain

import "time"

// AlertStatus is runtime alert lifecycle state.
// Params: active/acknowledged/resolved state constants.
// Returns: monotonic lifecycle positions for the alert state machine.
type AlertStatus string

const (
	// AlertStatusActive indicates a detected, unhandled condition.
	AlertStatusActive AlertStatus = "active"
	// AlertStatusAcknowledged indicates an operator has taken ownership.
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved indicates the alert was closed. Terminal.
	AlertStatusResolved AlertStatus = "resolved"
)

// AlertType categorizes the detected condition.
// Params: condition category constants.
// Returns: type tag carried by alerts and notifications.
type AlertType string

const (
	// AlertTypeWaterContamination marks contamination-rule alerts.
	AlertTypeWaterContamination AlertType = "water_contamination"
	// AlertTypeDiseaseOutbreak marks symptom-threshold alerts.
	AlertTypeDiseaseOutbreak AlertType = "disease_outbreak"
	// AlertTypeWaterShortage marks water-supply alerts.
	AlertTypeWaterShortage AlertType = "water_shortage"
	// AlertTypeInfrastructure marks facility/equipment alerts.
	AlertTypeInfrastructure AlertType = "infrastructure"
	// AlertTypeSystem marks engine-internal alerts.
	AlertTypeSystem AlertType = "system"
)

// Alert stores one persisted detection with its lifecycle metadata.
// Params: identity, dedupe key, classification, evidence, and transition fields.
// Returns: full snapshot written to the state backend on every transition.
type Alert struct {
	ID              string      `json:"id"`
	DedupeKey       string      `json:"dedupe_key"`
	RuleName        string      `json:"rule_name"`
	Title           string      `json:"title"`
	Type            AlertType   `json:"type"`
	Severity        Severity    `json:"severity"`
	Message         string      `json:"message"`
	Village         string      `json:"village,omitempty"`
	ReportIDs       []string    `json:"report_ids"`
	Status          AlertStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	CreatedBy       string      `json:"created_by,omitempty"`
	LastTriggeredAt time.Time   `json:"last_triggered_at"`
	AcknowledgedBy  string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedBy      string      `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNote  string      `json:"resolution_note,omitempty"`
}

// HasReport reports whether the alert already references the report id.
// Params: report id.
// Returns: true when the id is in the evidence list.
func (a Alert) HasReport(reportID string) bool {
	for _, existing := range a.ReportIDs {
		if existing == reportID {
			return true
		}
	}
	return false
}

// AlertEventKind identifies outbound alert event shape.
// Params: created/updated constants.
// Returns: event kind consumed by the notification dispatcher.
type AlertEventKind string

const (
	// AlertEventCreated marks a freshly created alert.
	AlertEventCreated AlertEventKind = "alert_created"
	// AlertEventUpdated marks a merge or lifecycle transition on an existing alert.
	AlertEventUpdated AlertEventKind = "alert_updated"
)

// AlertEvent is one outbound notification payload.
// Params: event kind, full alert snapshot, and emission time.
// Returns: payload fanned out by the notification dispatcher.
type AlertEvent struct {
	Kind      AlertEventKind `json:"kind"`
	Alert     Alert          `json:"alert"`
	Timestamp time.Time      `json:"timestamp"`
}
