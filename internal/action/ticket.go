package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/oktriage/first-responder/internal/model"
)

const (
	maxSummaryChars     = 200
	maxDescriptionChars = 3000
)

// PriorityForSeverity maps alert severity onto the ticketing system's
// priority vocabulary. UNKNOWN defaults to Medium.
func PriorityForSeverity(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "Highest"
	case model.SeverityHigh:
		return "High"
	case model.SeverityMedium:
		return "Medium"
	case model.SeverityLow:
		return "Low"
	default:
		return "Medium"
	}
}

// Summary builds the ticket summary line.
func Summary(alert *model.Alert) string {
	msg := alert.Message
	if len(msg) > maxSummaryChars {
		msg = msg[:maxSummaryChars]
	}
	return fmt.Sprintf("[%s] %s", alert.Severity, msg)
}

// Labels builds the fixed label set for a ticket.
func Labels(alert *model.Alert) []string {
	return []string{
		"automated-alert",
		"severity-" + strings.ToLower(string(alert.Severity)),
		alert.Source,
		"first-responder",
	}
}

// Description renders the incident description in wiki markup: analysis
// first, then alert details, log locators, infrastructure context, and the
// raw message.
func Description(alert *model.Alert) string {
	analysis := alert.Analysis
	if analysis == "" {
		analysis = "No analysis available"
	}
	if len(analysis) > maxDescriptionChars {
		analysis = analysis[:maxDescriptionChars]
	}

	parts := []string{
		"h2. Incident Summary",
		analysis,
		"",
		"h3. Alert Details",
		fmt.Sprintf("* *Source:* %s", alert.Source),
		fmt.Sprintf("* *Severity:* %s", alert.Severity),
		fmt.Sprintf("* *Timestamp:* %s", alert.Time().UTC().Format(time.RFC3339)),
		fmt.Sprintf("* *Alert ID:* %s", alert.AlertID),
		"",
	}

	if alert.LogGroup != "" {
		parts = append(parts,
			"h3. Log Information",
			fmt.Sprintf("* *Log Group:* {noformat}%s{noformat}", alert.LogGroup),
		)
		if alert.LogStream != "" {
			parts = append(parts, fmt.Sprintf("* *Log Stream:* {noformat}%s{noformat}", alert.LogStream))
		}
		parts = append(parts, "")
	}

	if len(alert.InfraContext) > 0 {
		parts = append(parts,
			"h3. Infrastructure Context",
			"{noformat}",
			string(alert.InfraContext),
			"{noformat}",
			"",
		)
	}

	parts = append(parts,
		"h3. Alert Message",
		"{noformat}",
		alert.Message,
		"{noformat}",
		"",
		"---",
		"_This ticket was created automatically by First Responder_",
	)

	return strings.Join(parts, "\n")
}
