// file: internal/providers/ai_text.go
// version: 1.2.0
// guid: 4e5f6a7b-8c9d-0e1f-2a3b-4c5d6e7f8a9b

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/jdfalk/library-manager/internal/ratelimit"
)

// textAITimeout bounds a single text-AI call.
const textAITimeout = 90 * time.Second

// OpenAICompatClient is a text-AI provider backed by any OpenAI-compatible
// chat-completions endpoint (Gemini and OpenRouter both expose one).
type OpenAICompatClient struct {
	name    string
	client  *openai.Client
	model   string
	limiter *ratelimit.Limiter
	enabled bool
}

// NewGeminiTextClient creates the Gemini text adapter.
func NewGeminiTextClient(apiKey string, limiter *ratelimit.Limiter) *OpenAICompatClient {
	return newCompatClient("gemini", apiKey,
		"https://generativelanguage.googleapis.com/v1beta/openai/",
		"gemini-2.0-flash", limiter)
}

// NewOpenRouterTextClient creates the OpenRouter text adapter.
func NewOpenRouterTextClient(apiKey string, limiter *ratelimit.Limiter) *OpenAICompatClient {
	return newCompatClient("openrouter", apiKey,
		"https://openrouter.ai/api/v1/",
		"meta-llama/llama-3.3-70b-instruct:free", limiter)
}

func newCompatClient(name, apiKey, baseURL, model string, limiter *ratelimit.Limiter) *OpenAICompatClient {
	if apiKey == "" {
		return &OpenAICompatClient{name: name, enabled: false}
	}
	// The shared limiter owns retry and backoff policy; the SDK must not
	// layer its own retries underneath it.
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &OpenAICompatClient{
		name:    name,
		client:  &client,
		model:   model,
		limiter: limiter,
		enabled: true,
	}
}

func (c *OpenAICompatClient) Name() string { return c.name }

// IsEnabled reports whether an API key was configured.
func (c *OpenAICompatClient) IsEnabled() bool { return c.enabled }

// Call implements TextAI. The prompt must ask for JSON; the response is
// stripped of markdown fences and returned raw for the caller to decode.
func (c *OpenAICompatClient) Call(ctx context.Context, prompt string, cfg TextConfig) (json.RawMessage, error) {
	if !c.enabled {
		return nil, fmt.Errorf("%s: not configured", c.name)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}

	ctx, cancel := context.WithTimeout(ctx, textAITimeout)
	defer cancel()

	var content string
	err := call(ctx, c.limiter, c.name, func(ctx context.Context) error {
		messages := []openai.ChatCompletionMessageParamUnion{}
		if cfg.System != "" {
			messages = append(messages, openai.SystemMessage(cfg.System))
		}
		messages = append(messages, openai.UserMessage(prompt))

		jsonObjectFormat := shared.NewResponseFormatJSONObjectParam()
		completion, apiErr := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages:    messages,
			Model:       shared.ChatModel(c.model),
			Temperature: param.NewOpt(cfg.Temperature),
			MaxTokens:   param.NewOpt(cfg.MaxTokens),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &jsonObjectFormat,
			},
		})
		if apiErr != nil {
			// The SDK surfaces non-2xx responses as its own error type; map
			// it onto HTTPError so the limiter's quota and retry-hint
			// classification sees the status and body.
			var oe *openai.Error
			if errors.As(apiErr, &oe) {
				return &HTTPError{StatusCode: oe.StatusCode, Body: oe.RawJSON()}
			}
			return apiErr
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	cleaned := stripFences(content)
	if cleaned == "" {
		return nil, nil
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("%s returned invalid JSON", c.name)
	}
	return json.RawMessage(cleaned), nil
}

// stripFences removes ```json fences some models wrap responses in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

var _ TextAI = (*OpenAICompatClient)(nil)
