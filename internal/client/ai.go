package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Analyst produces a free-form diagnosis for an alert. Implementations are
// selected by configuration; tests substitute a double.
type Analyst interface {
	Analyze(ctx context.Context, alertText, contextText string) (string, error)
}

// GeminiAnalyst implements Analyst against the Gemini API.
type GeminiAnalyst struct {
	client *genai.Client
	model  string
}

// NewGeminiAnalyst creates a Gemini-backed analyst.
func NewGeminiAnalyst(ctx context.Context, apiKey, model string) (*GeminiAnalyst, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing AI API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &GeminiAnalyst{client: client, model: model}, nil
}

// Model returns the configured model name.
func (a *GeminiAnalyst) Model() string {
	return a.model
}

// Analyze sends the triage prompt and returns the analysis text.
func (a *GeminiAnalyst) Analyze(ctx context.Context, alertText, contextText string) (string, error) {
	prompt := buildPrompt(alertText, contextText)

	res, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("empty analysis from model %s", a.model)
	}
	return text, nil
}

func buildPrompt(alertText, contextText string) string {
	var b strings.Builder
	b.WriteString("You are an expert SRE analyzing a production alert. ")
	b.WriteString("Analyze this alert with the provided infrastructure context and provide actionable insights.\n\n")
	b.WriteString("## Alert\n")
	b.WriteString(alertText)
	b.WriteString("\n\n")
	if contextText != "" {
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}
	b.WriteString(`## Analysis Required
Provide a structured analysis with:

1. **Severity Assessment** (CRITICAL/HIGH/MEDIUM/LOW)
   - Validate or adjust the severity based on context
   - Consider impact on users and systems

2. **Root Cause Analysis**
   - What is the most likely root cause?
   - Use infrastructure context to identify specific issues
   - Reference specific resources (Pod names, Task IDs, etc.)

3. **Impact Assessment**
   - Which systems/users are affected?
   - Is this a partial or total outage?

4. **Recommended Actions** (prioritized list)
   - Immediate mitigation steps
   - Investigation steps
   - Long-term fixes

5. **Monitoring Recommendations**
   - What metrics should be watched?
   - What would indicate the issue is resolved?

6. **Confidence Score** (0.0-1.0)
   - How confident are you in this analysis?

Format the response clearly with headers and bullet points.`)
	return b.String()
}
