package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-5.2"
)

// GPT-5.2 pricing (per million tokens)
const (
	openaiInputPricePerMillion  = 1.75  // $1.75 per 1M input tokens
	openaiOutputPricePerMillion = 14.00 // $14.00 per 1M output tokens
)

// OpenAIConfig configures an OpenAIProvider. Any service exposing the
// /chat/completions API (OpenAI, DeepSeek, Qwen, local gateways) works.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Profile Profile
}

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	httpClient *resty.Client
	profile    Profile
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/chat/completions")

	profile := cfg.Profile
	if profile.ID == "" {
		profile.ID = "openai"
	}
	if profile.Model == "" {
		profile.Model = defaultOpenAIModel
	}
	if profile.InputPricePerMillion == 0 && profile.OutputPricePerMillion == 0 {
		profile.InputPricePerMillion = openaiInputPricePerMillion
		profile.OutputPricePerMillion = openaiOutputPricePerMillion
	}

	client := resty.New().
		SetDebug(false).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &OpenAIProvider{httpClient: client, profile: profile}
}

func (o *OpenAIProvider) Profile() Profile { return o.profile }

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt and images as one user message.
func (o *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	parts := []chatContentPart{{Type: "text", Text: req.Prompt}}
	if o.profile.SupportsVision {
		images := req.Images
		if len(images) > maxImages {
			images = images[:maxImages]
		}
		for _, img := range images {
			dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))
			parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}})
		}
	}

	result := &chatResponse{}
	res, err := o.httpClient.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:    o.profile.Model,
			Messages: []chatMessage{{Role: "user", Content: parts}},
		}).
		SetResult(result).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("chat completion failed: %s (status: %d)", o.profile.ID, res.StatusCode())
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%s: %w", o.profile.ID, ErrEmptyResponse)
	}

	usage := Usage{
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		TotalTokens:  result.Usage.TotalTokens,
		CostUSD:      calculateCost(result.Usage.PromptTokens, result.Usage.CompletionTokens, o.profile.InputPricePerMillion, o.profile.OutputPricePerMillion),
	}

	return &Completion{Text: result.Choices[0].Message.Content, Usage: usage}, nil
}
