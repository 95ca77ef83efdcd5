package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// OpenAICompatibleModel talks to any OpenAI-shaped /chat/completions
// endpoint (OpenAI itself, and the many self-hosted servers that mirror
// its wire format).
type OpenAICompatibleModel struct {
	baseURL        string
	apiKey         string
	model          string
	headers        map[string]string
	jsonModeNative bool
	client         *http.Client
}

// NewOpenAICompatibleModel constructs a model client against baseURL
// (trailing "/chat/completions" stripped, a "/v1" suffix assumed present
// by the caller). jsonModeNative indicates the vendor accepts
// response_format: {type: "json_object"} natively; when false, JSON
// mode is emulated by appending an instruction to the final message.
func NewOpenAICompatibleModel(baseURL, apiKey, model string, headers map[string]string, jsonModeNative bool) *OpenAICompatibleModel {
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/chat/completions")
	return &OpenAICompatibleModel{
		baseURL:        baseURL,
		apiKey:         apiKey,
		model:          model,
		headers:        headers,
		jsonModeNative: jsonModeNative,
		client:         &http.Client{Timeout: 60 * time.Second},
	}
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []ChatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFmt  `json:"response_format,omitempty"`
}

type openAIResponseFmt struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate issues one chat completion call and returns the cleaned
// response text.
func (m *OpenAICompatibleModel) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	messages = withJSONModeInstruction(messages, opts)

	reqBody := openAIChatRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode && m.jsonModeNative {
		reqBody.ResponseFormat = &openAIResponseFmt{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal language model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build language model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	for k, v := range m.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("language model request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", newLanguageModelError(resp.StatusCode, string(respBody))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode language model response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return cleanJSONModeOutput("", opts), nil
	}
	return cleanJSONModeOutput(parsed.Choices[0].Message.Content, opts), nil
}

// OllamaModel talks to a local or remote Ollama /api/chat endpoint.
// Ollama has no native JSON-object response_format; JSON mode is always
// emulated by instruction.
type OllamaModel struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaModel constructs a model client against an Ollama server.
func NewOllamaModel(baseURL, model string) *OllamaModel {
	return &OllamaModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Generate issues one non-streaming chat request and returns the
// cleaned response text.
func (m *OllamaModel) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	messages = withJSONModeInstruction(messages, opts)

	reqBody := ollamaChatRequest{Model: m.model, Messages: messages, Stream: false}
	reqBody.Options.Temperature = opts.Temperature
	reqBody.Options.NumPredict = opts.MaxTokens

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal language model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build language model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("language model request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", newLanguageModelError(resp.StatusCode, string(respBody))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode language model response: %w", err)
	}
	return cleanJSONModeOutput(parsed.Message.Content, opts), nil
}

func withJSONModeInstruction(messages []ChatMessage, opts GenerateOptions) []ChatMessage {
	if !opts.JSONMode || len(messages) == 0 {
		return messages
	}
	out := make([]ChatMessage, len(messages))
	copy(out, messages)
	last := &out[len(out)-1]
	last.Content = last.Content + "\n\nRespond with JSON only, no prose, no markdown fences."
	return out
}

var (
	thinkTagRe   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thoughtRe    = regexp.MustCompile(`(?s)<\|begin_of_thought\|>.*?<\|end_of_thought\|>`)
	thinkFenceRe = regexp.MustCompile("(?s)```thinking.*?```")
	codeFenceRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// cleanJSONModeOutput strips reasoning-token noise providers prepend to
// otherwise-JSON output. On unparsable output in JSON mode it returns
// the literal "{}" so callers never fail on a malformed response.
func cleanJSONModeOutput(text string, opts GenerateOptions) string {
	if !opts.JSONMode {
		return text
	}
	cleaned := thinkTagRe.ReplaceAllString(text, "")
	cleaned = thoughtRe.ReplaceAllString(cleaned, "")
	cleaned = thinkFenceRe.ReplaceAllString(cleaned, "")
	if m := codeFenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || !json.Valid([]byte(cleaned)) {
		return "{}"
	}
	return cleaned
}
