package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oktriage/first-responder/internal/model"
)

// TicketFields is the minimal field set the ticketing system consumes.
type TicketFields struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Priority    string
	Labels      []string
}

// TicketRef identifies a created ticket.
type TicketRef struct {
	Key string
	URL string
}

// Ticketer creates tracking tickets in an external system.
type Ticketer interface {
	CreateTicket(ctx context.Context, fields TicketFields) (*TicketRef, error)
}

// JiraClient implements Ticketer against the Jira REST API.
type JiraClient struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

// NewJiraClient creates a Jira client. apiToken is "email:token", sent as
// Basic auth.
func NewJiraClient(baseURL, apiToken string, timeout time.Duration) *JiraClient {
	return &JiraClient{
		baseURL:    baseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(apiToken)),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type jiraIssueRequest struct {
	Fields jiraIssueFields `json:"fields"`
}

type jiraIssueFields struct {
	Project     jiraName `json:"project"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	IssueType   jiraType `json:"issuetype"`
	Priority    jiraType `json:"priority"`
	Labels      []string `json:"labels"`
}

type jiraName struct {
	Key string `json:"key"`
}

type jiraType struct {
	Name string `json:"name"`
}

type jiraIssueResponse struct {
	Key string `json:"key"`
}

// CreateTicket creates a Jira issue and returns its key and browse URL.
// 4xx responses (bad project, bad credentials) come back as permanent
// StatusErrors; 5xx and transport errors stay retryable.
func (c *JiraClient) CreateTicket(ctx context.Context, fields TicketFields) (*TicketRef, error) {
	payload, err := json.Marshal(jiraIssueRequest{
		Fields: jiraIssueFields{
			Project:     jiraName{Key: fields.ProjectKey},
			Summary:     fields.Summary,
			Description: fields.Description,
			IssueType:   jiraType{Name: fields.IssueType},
			Priority:    jiraType{Name: fields.Priority},
			Labels:      fields.Labels,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issue: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/api/2/issue", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call jira: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &model.StatusError{Service: "jira", Status: resp.StatusCode, Body: string(body)}
	}

	var issue jiraIssueResponse
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if issue.Key == "" {
		return nil, fmt.Errorf("jira response missing issue key")
	}

	return &TicketRef{
		Key: issue.Key,
		URL: fmt.Sprintf("%s/browse/%s", c.baseURL, issue.Key),
	}, nil
}
