package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oktriage/first-responder/internal/model"
)

// Block is one Block Kit element. The Block Kit schema is a union of shapes,
// so blocks are built as plain maps and serialized as-is.
type Block map[string]interface{}

// ChatMessage is a severity-colored notification with interactive controls.
type ChatMessage struct {
	Color  string
	Blocks []Block
}

// Notifier posts a notification to a chat channel.
type Notifier interface {
	Post(ctx context.Context, msg ChatMessage) error
}

// SlackClient implements Notifier against the Slack Web API using a bot
// token, so message timestamps come back and threads stay possible.
type SlackClient struct {
	botToken   string
	channelID  string
	apiURL     string
	httpClient *http.Client
}

type slackAttachment struct {
	Color  string  `json:"color"`
	Blocks []Block `json:"blocks"`
}

type slackRequest struct {
	Channel     string            `json:"channel"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// NewSlackClient creates a Slack notifier.
func NewSlackClient(botToken, channelID string, timeout time.Duration) *SlackClient {
	return &SlackClient{
		botToken:  botToken,
		channelID: channelID,
		apiURL:    "https://slack.com/api/chat.postMessage",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsConfigured reports whether both token and channel are set.
func (c *SlackClient) IsConfigured() bool {
	return c.botToken != "" && c.channelID != ""
}

// Post sends the message to the configured channel. Slack API errors are
// surfaced as 4xx StatusErrors (retrying an invalid token or channel cannot
// succeed); transport failures stay retryable.
func (c *SlackClient) Post(ctx context.Context, msg ChatMessage) error {
	payload, err := json.Marshal(slackRequest{
		Channel: c.channelID,
		Attachments: []slackAttachment{
			{Color: msg.Color, Blocks: msg.Blocks},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &model.StatusError{Service: "slack", Status: resp.StatusCode, Body: string(body)}
	}

	var slackResp slackResponse
	if err := json.Unmarshal(body, &slackResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !slackResp.OK {
		return &model.StatusError{Service: "slack", Status: http.StatusBadRequest, Body: slackResp.Error}
	}
	return nil
}
