package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/clinical"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "claude-sonnet-4-5-20250929"

const systemPrompt = `You are a prior-authorization clinical reviewer. Given a
patient's clinical record and a procedure code, evaluate whether the payer's
medical-necessity criteria are satisfied. Respond with a single JSON object
and nothing else:
{
  "recommendation": "APPROVE" | "NEEDS_MORE_INFO" | "REQUIREMENTS_NOT_MET" | "NO_PA_REQUIRED",
  "confidence_score": <integer 0-100>,
  "criteria": [{"label": "...", "met": true|false|null, "reason": "..."}],
  "clinical_summary": "...",
  "field_mappings": {"<form field>": "<value>"}
}`

// AnthropicAnalyzer calls the Anthropic Messages API and parses the JSON
// verdict out of the model's reply.
type AnthropicAnalyzer struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
}

// NewAnthropicAnalyzer creates an analyzer using the given API key and
// model. An empty model selects DefaultModel.
func NewAnthropicAnalyzer(apiKey, model string, logger zerolog.Logger) *AnthropicAnalyzer {
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicAnalyzer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, bundle *clinical.Bundle, procedureCode string) (*Result, error) {
	userPrompt, err := buildPrompt(bundle, procedureCode)
	if err != nil {
		return nil, fmt.Errorf("build analysis prompt: %w", err)
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("analysis response contained no text content")
	}

	a.logger.Debug().
		Str("model", a.model).
		Int64("tokens_in", message.Usage.InputTokens).
		Int64("tokens_out", message.Usage.OutputTokens).
		Msg("analysis response received")

	result, err := ParseResult(text)
	if err != nil {
		return nil, fmt.Errorf("parse analysis response: %w", err)
	}
	return result, nil
}

// buildPrompt serialises the bundle into the reviewer prompt.
func buildPrompt(bundle *clinical.Bundle, procedureCode string) (string, error) {
	record, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Procedure code under review: %s\n\n", procedureCode)
	if bundle.Degraded() {
		b.WriteString("Note: some record categories were unavailable; treat absent data as unknown, not as negative findings.\n\n")
	}
	b.WriteString("Clinical record:\n")
	b.Write(record)
	return b.String(), nil
}

// ParseResult extracts the JSON verdict from a model reply, tolerating
// surrounding prose and markdown code fences.
func ParseResult(text string) (*Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var result Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, err
	}
	switch result.Recommendation {
	case RecommendationApprove, RecommendationNeedsMoreInfo,
		RecommendationRequirementsNotMet, RecommendationNoPaRequired:
	default:
		return nil, fmt.Errorf("unknown recommendation %q", result.Recommendation)
	}
	if result.ConfidenceScore < 0 {
		result.ConfidenceScore = 0
	}
	if result.ConfidenceScore > 100 {
		result.ConfidenceScore = 100
	}
	return &result, nil
}
