package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/apperr"

	"google.golang.org/genai"
)

// Attributes written by the text analysis provider.
const (
	FieldAISummary = "ai_summary"
	FieldAIUrgency = "ai_urgency"
	FieldAISignals = "ai_signals"
)

const (
	maxAnalysisInput = 8000
	analysisPrompt   = `You analyse construction project descriptions for a sales team.
Return JSON with:
- summary: one or two sentences describing the project.
- urgency: 0-100, how soon the owner must commit to vendors.
- services: services the project will need (e.g. "low voltage", "wifi", "access control").
- signals: notable buying signals such as amenities or technology mentions.

Project description:
`
)

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":  {Type: genai.TypeString},
		"urgency":  {Type: genai.TypeNumber},
		"services": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"signals":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"summary", "urgency"},
}

// Generator returns a JSON document for a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator calls the Gemini API with a response schema.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

type analysis struct {
	Summary  string   `json:"summary"`
	Urgency  float64  `json:"urgency"`
	Services []string `json:"services"`
	Signals  []string `json:"signals"`
}

// TextAnalysisProvider extracts structured signals from the free-text description.
type TextAnalysisProvider struct {
	gen     Generator
	timeout time.Duration
}

func NewTextAnalysisProvider(gen Generator, timeout time.Duration) *TextAnalysisProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TextAnalysisProvider{gen: gen, timeout: timeout}
}

func (p *TextAnalysisProvider) Name() string           { return ProviderTextAnalysis }
func (p *TextAnalysisProvider) Feature() string        { return billing.FeatureAIEnrichment }
func (p *TextAnalysisProvider) Cost() int64            { return billing.CostOf(billing.FeatureAIEnrichment) }
func (p *TextAnalysisProvider) Timeout() time.Duration { return p.timeout }

func (p *TextAnalysisProvider) Fetch(ctx context.Context, attrs domain.Attributes) (Payload, error) {
	text := analysisInput(attrs)
	if text == "" {
		return Payload{}, apperr.Validation("lead has no description to analyse")
	}

	out, err := p.gen.GenerateJSON(ctx, analysisPrompt+text)
	if err != nil {
		return Payload{}, err
	}

	var a analysis
	if err := json.Unmarshal([]byte(out), &a); err != nil {
		return Payload{}, apperr.Wrap(apperr.KindProvider, "text_analysis returned malformed JSON", err)
	}

	fields := domain.Attributes{
		FieldAIUrgency: domain.Number(math.Max(0, math.Min(100, a.Urgency))),
	}
	setText(fields, FieldAISummary, a.Summary)
	if len(a.Services) > 0 {
		fields[domain.AttrServicesNeeded] = domain.Text(strings.Join(a.Services, ", "))
	}
	if len(a.Signals) > 0 {
		fields[FieldAISignals] = domain.Text(strings.Join(a.Signals, ", "))
	}
	return Payload{Fields: fields, Raw: []byte(out)}, nil
}

func analysisInput(attrs domain.Attributes) string {
	var parts []string
	for _, name := range []string{domain.AttrProjectName, domain.AttrDescription, domain.AttrNotes} {
		if v, ok := attrs.TextValue(name); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	text := strings.Join(parts, "\n\n")
	if len(text) > maxAnalysisInput {
		text = text[:maxAnalysisInput]
	}
	return text
}
