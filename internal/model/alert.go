package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// ParseSeverity normalizes free-form severity input. Anything it does not
// recognize maps to SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Urgent reports whether the severity warrants urgent visual treatment.
func (s Severity) Urgent() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Alert is a normalized record of an observed problem, its diagnosis, and
// any resulting ticket. AlertID is immutable once created. Analysis and the
// ticket fields are written by different pipeline stages and are disjoint,
// so concurrent writers never touch the same column.
type Alert struct {
	AlertID   string   `json:"alert_id"`
	Timestamp int64    `json:"timestamp"` // milliseconds since epoch
	Severity  Severity `json:"severity"`
	Source    string   `json:"source"`
	Message   string   `json:"message"`
	LogGroup  string   `json:"log_group,omitempty"`
	LogStream string   `json:"log_stream,omitempty"`

	// InfraContext is an opaque blob gathered by an external collaborator
	// before analysis.
	InfraContext json.RawMessage `json:"infrastructure_context,omitempty"`

	// Analysis is empty until the analyzer has run.
	Analysis string `json:"analysis,omitempty"`

	// Ticket fields are set once by the action processor.
	TicketRef string `json:"ticket_reference,omitempty"`
	TicketURL string `json:"ticket_url,omitempty"`

	Acknowledged   bool   `json:"acknowledged,omitempty"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	AcknowledgedAt int64  `json:"acknowledged_at,omitempty"`
}

// Time returns the alert timestamp as a time.Time.
func (a *Alert) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}
