// File: internal/classifier/llm/gemini.go
// Description: Gemini-backed implementation of the content classifier
// contract. Callers must treat it as optional; every failure surfaces as an
// error the content-scan strategy converts into its heuristic fallback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotConfigured means the classifier was constructed without an API key.
var ErrNotConfigured = errors.New("content classifier not configured")

const maxRetries = 3

const systemPrompt = `You judge whether a web page is a contact page for a given business.
Respond with JSON only, no prose, matching this shape:
{"confidence": 0-100, "has_contact_form": bool, "has_contact_info": bool,
 "page_type": "contact"|"about"|"support"|"inquiry"|"other",
 "content_summary": "...", "reasoning": "..."}`

// GeminiClassifier implements schemas.ContentClassifier over the Gemini API.
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiClassifier builds the classifier. A missing API key is an error
// here so the caller can decide to run without one.
func NewGeminiClassifier(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClassifier{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.APITimeout,
		logger:  logger.Named("gemini_classifier"),
	}, nil
}

// AnalyzeContactPage asks the model for a confidence/page-type judgment.
// Transient API failures are retried with exponential backoff.
func (g *GeminiClassifier) AnalyzeContactPage(ctx context.Context, in schemas.AnalyzeInput) (*schemas.PageAnalysis, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := buildPrompt(in)

	var raw string
	operation := func() error {
		result, err := g.client.Models.GenerateContent(ctx, g.model,
			genai.Text(prompt),
			&genai.GenerateContentConfig{
				ResponseMIMEType: "application/json",
				SystemInstruction: &genai.Content{
					Parts: []*genai.Part{{Text: systemPrompt}},
				},
			})
		if err != nil {
			g.logger.Debug("Gemini call failed, may retry", zap.Error(err))
			return err
		}
		raw = result.Text()
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("analyzing page content: %w", err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Page analyzed",
		zap.String("url", in.URL),
		zap.Int("confidence", analysis.Confidence),
		zap.String("page_type", string(analysis.PageType)))
	return analysis, nil
}

func buildPrompt(in schemas.AnalyzeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business name: %s\n", in.SubjectName)
	fmt.Fprintf(&b, "Page URL: %s\n", in.URL)
	fmt.Fprintf(&b, "Page title: %s\n\n", in.Title)
	b.WriteString("Page content excerpt:\n")
	b.WriteString(in.ContentExcerpt)
	return b.String()
}

func parseAnalysis(raw string) (*schemas.PageAnalysis, error) {
	// Models occasionally wrap JSON in a code fence despite instructions.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var analysis schemas.PageAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &analysis); err != nil {
		return nil, fmt.Errorf("parsing model response: %w", err)
	}
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 100 {
		analysis.Confidence = 100
	}
	if analysis.PageType == "" {
		analysis.PageType = schemas.PageOther
	}
	return &analysis, nil
}
