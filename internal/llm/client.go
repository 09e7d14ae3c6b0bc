package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrEmptyCompletion reports a completion response with no choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a tool invocation the model asked for. Arguments is the raw
// JSON object the model produced; it is validated before dispatch.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Completion is the model's answer to one request: free text, tool calls,
// or both.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Client produces one completion for a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// Config holds the connection settings for the completions endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIClient is a chat-completions client with the assistant's tools
// attached to every request.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	tools      []wireTool
}

// NewOpenAIClient creates a completions client advertising the given tools.
func NewOpenAIClient(cfg Config, tools []Tool) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 45 * time.Second}
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	wired := make([]wireTool, len(tools))
	for i, t := range tools {
		wired[i] = wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	return &OpenAIClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
		tools:      wired,
	}, nil
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	Temperature float64    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseMessage struct {
	Content   *string        `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message responseMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat-completions request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (Completion, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       c.tools,
		Temperature: 1,
		MaxTokens:   2048,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Completion{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Completion{}, fmt.Errorf("chat completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return Completion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, ErrEmptyCompletion
	}

	msg := parsed.Choices[0].Message
	out := Completion{}
	if msg.Content != nil {
		out.Text = strings.TrimSpace(*msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:      name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return out, nil
}
