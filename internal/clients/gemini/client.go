// Package gemini provides a client for the Google Gemini API
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	DefaultModel      = "gemini-3-flash-preview"
	DefaultMaxContent = 120_000 // characters of filing text per prompt
	maxHighlights     = 5
)

// Client implements the SummaryClient interface
type Client struct {
	client     *genai.Client
	model      string
	maxContent int
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithMaxContent caps the filing text included in the prompt
func WithMaxContent(chars int) ClientOption {
	return func(c *Client) {
		c.maxContent = chars
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:     genaiClient,
		model:      DefaultModel,
		maxContent: DefaultMaxContent,
		logger:     common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SummarizeFiling produces a short summary and highlight bullets for a
// processed filing and its comparison against the previous filing.
func (c *Client) SummarizeFiling(ctx context.Context, filing *models.Filing, comparison *models.Comparison) (string, []string, error) {
	c.logger.Debug().
		Str("model", c.model).
		Str("accession_no", filing.AccessionNo).
		Msg("Summarizing filing")

	prompt := c.buildSummaryPrompt(filing, comparison)

	contents := genai.Text(prompt)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	text, err := extractTextFromResponse(result)
	if err != nil {
		return "", nil, err
	}

	summary, highlights := parseSummaryResponse(text)
	return summary, highlights, nil
}

// buildSummaryPrompt creates the filing summary prompt
func (c *Client) buildSummaryPrompt(filing *models.Filing, comparison *models.Comparison) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `Summarize this SEC %s filing for an investor alert.
Company CIK: %s, filed %s.

Respond in exactly this format:
SUMMARY: <two or three sentences>
HIGHLIGHTS:
- <bullet>
- <bullet>

`, filing.FormType, filing.CIK, filing.FiledDate.Format("2006-01-02"))

	if comparison != nil && len(comparison.KeyChanges) > 0 {
		sb.WriteString("Most significant changes versus the previous filing:\n")
		for _, kc := range comparison.KeyChanges {
			sb.WriteString("- ")
			sb.WriteString(kc)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	content := filing.RawContent
	if len(content) > c.maxContent {
		content = content[:c.maxContent]
	}
	sb.WriteString("Filing text:\n")
	sb.WriteString(content)

	return sb.String()
}

// parseSummaryResponse splits the model output into summary and bullets.
// Unstructured output falls back to the whole text as summary.
func parseSummaryResponse(text string) (string, []string) {
	var summary string
	var highlights []string

	inHighlights := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "SUMMARY:"):
			summary = strings.TrimSpace(line[len("SUMMARY:"):])
		case strings.HasPrefix(strings.ToUpper(line), "HIGHLIGHTS:"):
			inHighlights = true
		case inHighlights && strings.HasPrefix(line, "- "):
			if len(highlights) < maxHighlights {
				highlights = append(highlights, strings.TrimPrefix(line, "- "))
			}
		case !inHighlights && summary != "" && line != "":
			// Continuation lines of a multi-line summary.
			summary += " " + line
		}
	}

	if summary == "" {
		summary = strings.TrimSpace(text)
	}

	return summary, highlights
}

// extractTextFromResponse extracts text from a generate content response
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	return text, nil
}

// Ensure Client implements SummaryClient
var _ interfaces.SummaryClient = (*Client)(nil)
