package distribute

import (
	"fmt"
	"time"

	"github.com/oktriage/first-responder/internal/client"
	"github.com/oktriage/first-responder/internal/model"
)

// Control ids carried back by the interaction callback.
const (
	ActionAcknowledge  = "acknowledge_alert"
	ActionCreateTicket = "create_ticket"
)

// Slack caps a section block at 3000 characters.
const (
	maxMessageChars  = 500
	maxAnalysisChars = 2800
)

// SeverityColor maps severity to the attachment color bar. CRITICAL and
// HIGH get urgent treatment.
func SeverityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "#FF0000"
	case model.SeverityHigh:
		return "#FF6B00"
	case model.SeverityMedium:
		return "#FFD500"
	case model.SeverityLow:
		return "#36A64F"
	default:
		return "#808080"
	}
}

func severityEmoji(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "🔴"
	case model.SeverityHigh:
		return "🟠"
	case model.SeverityMedium:
		return "🟡"
	case model.SeverityLow:
		return "🟢"
	default:
		return "⚪"
	}
}

// BuildBlocks renders the notification: header, alert message, metadata
// fields, optional infrastructure and log sections, the analysis, and the
// two action buttons carrying the alert id as opaque state.
func BuildBlocks(dist *model.DistributionMessage, now time.Time) []client.Block {
	blocks := []client.Block{
		{
			"type": "header",
			"text": plainText(fmt.Sprintf("%s Alert: %s", severityEmoji(dist.Severity), dist.Severity)),
		},
		{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Alert Message:*\n```%s```", truncate(dist.Message, maxMessageChars))),
		},
		{
			"type": "section",
			"fields": []client.Block{
				mrkdwn(fmt.Sprintf("*Severity:*\n%s %s", severityEmoji(dist.Severity), dist.Severity)),
				mrkdwn(fmt.Sprintf("*Alert ID:*\n`%s`", dist.AlertID)),
				mrkdwn(fmt.Sprintf("*Timestamp:*\n%s", now.Format("2006-01-02 15:04:05 UTC"))),
				mrkdwn(fmt.Sprintf("*AI Model:*\n%s", dist.Model)),
			},
		},
	}

	if len(dist.InfraContext) > 0 {
		blocks = append(blocks, client.Block{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Infrastructure:*\n```%s```", truncate(string(dist.InfraContext), maxMessageChars))),
		})
	}

	if dist.LogGroup != "" {
		logText := fmt.Sprintf("*Log Location:*\n• Group: `%s`", dist.LogGroup)
		if dist.LogStream != "" {
			logText += fmt.Sprintf("\n• Stream: `%s`", truncate(dist.LogStream, 80))
		}
		blocks = append(blocks, client.Block{
			"type": "section",
			"text": mrkdwn(logText),
		})
	}

	blocks = append(blocks,
		client.Block{"type": "divider"},
		client.Block{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*🤖 AI Analysis:*\n%s", truncate(dist.Analysis, maxAnalysisChars))),
		},
		client.Block{
			"type": "actions",
			"elements": []client.Block{
				{
					"type":      "button",
					"text":      plainText("✅ Acknowledge"),
					"style":     "primary",
					"value":     dist.AlertID,
					"action_id": ActionAcknowledge,
				},
				{
					"type":      "button",
					"text":      plainText("🎫 Create Ticket"),
					"value":     dist.AlertID,
					"action_id": ActionCreateTicket,
				},
			},
		},
	)

	return blocks
}

func plainText(text string) client.Block {
	return client.Block{"type": "plain_text", "text": text, "emoji": true}
}

func mrkdwn(text string) client.Block {
	return client.Block{"type": "mrkdwn", "text": text}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
