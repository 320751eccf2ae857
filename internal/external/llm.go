package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"roadmap/internal/types"
)

// LLMConfig configures one content generation client.
type LLMConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// ---------------------------------------------------------------------------
// OpenAI
// ---------------------------------------------------------------------------

// OpenAIClient implements ChatCompleter over the chat completions endpoint.
type OpenAIClient struct {
	base *BaseClient
	cfg  LLMConfig
}

// NewOpenAIClient creates an OpenAIClient. base may be nil.
func NewOpenAIClient(base *BaseClient, cfg LLMConfig) *OpenAIClient {
	if base == nil {
		base = NewBaseClient(nil, "openai", types.ErrCodeUpstreamLLM, NoRetryPolicy())
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &OpenAIClient{base: base, cfg: cfg}
}

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []ChatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat *openAIRespFormat `json:"response_format,omitempty"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts messages and returns the first choice's content. jsonMode
// requests response_format json_object.
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage, jsonMode bool) (string, error) {
	payload := openAIRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	}
	if jsonMode {
		payload.ResponseFormat = &openAIRespFormat{Type: "json_object"}
	}

	var out openAIResponse
	err := postJSON(ctx, c.base, c.cfg.BaseURL+"/v1/chat/completions", payload, &out, "OpenAI",
		func(h http.Header) { h.Set("Authorization", "Bearer "+c.cfg.APIKey) })
	if err != nil {
		return "", err
	}

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "OpenAI returned no content", nil)
	}
	return out.Choices[0].Message.Content, nil
}

// ---------------------------------------------------------------------------
// Gemini
// ---------------------------------------------------------------------------

// GeminiClient implements ContentGenerator over generateContent.
type GeminiClient struct {
	base *BaseClient
	cfg  LLMConfig
}

// NewGeminiClient creates a GeminiClient. base may be nil.
func NewGeminiClient(base *BaseClient, cfg LLMConfig) *GeminiClient {
	if base == nil {
		base = NewBaseClient(nil, "gemini", types.ErrCodeUpstreamLLM, NoRetryPolicy())
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &GeminiClient{base: base, cfg: cfg}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Generate sends a single user prompt and joins the text parts of the first
// candidate.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	var payload geminiRequest
	payload.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	payload.GenerationConfig.Temperature = c.cfg.Temperature

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, url.PathEscape(c.cfg.Model))

	var out geminiResponse
	err := postJSON(ctx, c.base, endpoint, payload, &out, "Gemini",
		func(h http.Header) { h.Set("x-goog-api-key", c.cfg.APIKey) })
	if err != nil {
		return "", err
	}

	if len(out.Candidates) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "Gemini returned no candidates", nil)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM,
			"Gemini returned an empty candidate (finish reason "+out.Candidates[0].FinishReason+")", nil)
	}
	return sb.String(), nil
}

// postJSON sends payload and decodes a 200 response into out. Any other
// status is reported as ErrCodeUpstreamLLM.
func postJSON(ctx context.Context, base *BaseClient, endpoint string, payload, out any, vendor string, auth func(http.Header)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal "+vendor+" request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build "+vendor+" request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req.Header)

	resp, err := base.Do(req)
	if err != nil {
		return wrapTransportError(types.ErrCodeUpstreamLLM, vendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeUpstreamLLM,
			fmt.Sprintf("%s returned %d: %s", vendor, resp.StatusCode, readErrorBody(resp)), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamLLM, "failed to decode "+vendor+" response", err)
	}
	return nil
}

var (
	_ ChatCompleter    = (*OpenAIClient)(nil)
	_ ContentGenerator = (*GeminiClient)(nil)
)
