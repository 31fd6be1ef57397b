package domain

import "time"

// Trigger is one candidate alert-worthy condition from rule evaluation.
// Params: originating rule, village, classification, and satisfying evidence.
// Returns: evaluator output consumed by the lifecycle manager.
type Trigger struct {
	RuleName  string
	Village   string
	Type      AlertType
	Severity  Severity
	Title     string
	Message   string
	Symptom   string
	Count     int
	Threshold int
	ReportIDs []string
	At        time.Time
}
