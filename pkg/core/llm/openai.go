package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"

	defaultMaxTokens   = 300
	defaultTemperature = 0.8
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat completions endpoint (OpenAI, Groq, Cerebras, OpenRouter, ...).
type OpenAIProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOpenAI creates a provider against the OpenAI API.
func NewOpenAI(apiKey string) *OpenAIProvider {
	return NewOpenAIWithClient(apiKey, &http.Client{})
}

// NewOpenAIWithClient creates a provider with a custom HTTP client.
func NewOpenAIWithClient(apiKey string, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		httpClient: client,
		baseURL:    openAIDefaultBaseURL,
		model:      openAIDefaultModel,
	}
}

// WithBaseURL points the provider at a compatible endpoint.
func (p *OpenAIProvider) WithBaseURL(base string) *OpenAIProvider {
	base = strings.TrimSpace(base)
	if base != "" {
		p.baseURL = strings.TrimRight(base, "/")
	}
	return p
}

// WithModel overrides the default model.
func (p *OpenAIProvider) WithModel(model string) *OpenAIProvider {
	if model != "" {
		p.model = model
	}
	return p
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is the OpenAI streaming chunk format.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// StreamReply generates a reply as a stream of text deltas.
func (p *OpenAIProvider) StreamReply(ctx context.Context, req ReplyRequest) (*ReplyStream, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserText})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat completions error %d: %s", resp.StatusCode, string(errBody))
	}

	stream := NewReplyStream()
	go p.readSSE(ctx, resp.Body, stream)
	return stream, nil
}

// readSSE parses "data: <json>" lines off the response body and pushes
// text deltas into the stream until [DONE] or EOF.
func (p *OpenAIProvider) readSSE(ctx context.Context, body io.ReadCloser, stream *ReplyStream) {
	defer stream.FinishSending()
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			stream.SetError(ctx.Err())
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				stream.SetError(err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip unparseable chunks
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if !stream.Send(delta) {
				return
			}
		}
	}
}
