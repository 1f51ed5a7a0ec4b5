package llm

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-3-flash-preview"

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.50 // $0.50 per 1M input tokens (text/image/video)
	geminiOutputPricePerMillion = 3.00 // $3.00 per 1M output tokens (including thinking)
)

// maxImages caps how many photographs are sent in one call.
const maxImages = 10

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey  string
	Profile Profile
}

// GeminiProvider uses Google's Gemini API. When the profile enables live
// search, calls that request it are grounded with Google Search.
type GeminiProvider struct {
	client  *genai.Client
	profile Profile
}

// NewGeminiProvider creates a new Gemini-based provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	profile := cfg.Profile
	if profile.ID == "" {
		profile.ID = "gemini"
	}
	if profile.Model == "" {
		profile.Model = defaultGeminiModel
	}
	if profile.InputPricePerMillion == 0 && profile.OutputPricePerMillion == 0 {
		profile.InputPricePerMillion = geminiInputPricePerMillion
		profile.OutputPricePerMillion = geminiOutputPricePerMillion
	}
	profile.SupportsVision = true

	return &GeminiProvider{client: client, profile: profile}, nil
}

func (g *GeminiProvider) Profile() Profile { return g.profile }

// Complete sends the prompt followed by all images. It does not log: callers
// decide whether a completion is still wanted when it arrives.
func (g *GeminiProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	images := req.Images
	if len(images) > maxImages {
		images = images[:maxImages]
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
	}
	for _, imgData := range images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: imgData, MIMEType: http.DetectContentType(imgData)},
		})
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	var config *genai.GenerateContentConfig
	search := req.Search && g.profile.LiveSearch
	if search {
		config = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.profile.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateCost(usage.InputTokens, usage.OutputTokens, g.profile.InputPricePerMillion, g.profile.OutputPricePerMillion)
	}

	grounded := false
	if gm := result.Candidates[0].GroundingMetadata; search && gm != nil && len(gm.WebSearchQueries) > 0 {
		grounded = true
	}

	return &Completion{Text: result.Text(), Usage: usage, LiveSearch: grounded}, nil
}
