// Package llm wraps the OpenAI-compatible chat and embedding endpoints the
// memory service talks to, and feeds model output through the extract
// package when a structured answer is wanted.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sirupsen/logrus"

	"memrelay/internal/config"
	"memrelay/internal/extract"
	"memrelay/internal/stream"
)

// DefaultTimeout bounds one API call when the caller supplies no client.
const DefaultTimeout = 120 * time.Second

// openRouterReferer identifies the application to OpenRouter.
const openRouterReferer = "https://github.com/memrelay/memrelay"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// ChatOptions overrides the client defaults for one call. Zero values keep
// the default.
type ChatOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Stream overrides the configured streaming mode when set.
	Stream *bool
}

// Float and Bool take the address of a literal for ChatOptions.
func Float(v float64) *float64 { return &v }
func Bool(v bool) *bool         { return &v }

// Client is bound to one API key.
type Client struct {
	api        openai.Client
	httpClient *http.Client
	cfg        config.LLM
	headers    map[string]string
}

// New builds a client from cfg. httpClient may be nil.
func New(cfg config.LLM, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLFor(cfg.Provider)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = config.DefaultEmbeddingModel
	}

	headers := map[string]string{}
	if isOpenRouter(cfg.Provider, cfg.APIKey) {
		appName := cfg.AppName
		if appName == "" {
			appName = config.DefaultAppName
		}
		headers["HTTP-Referer"] = openRouterReferer
		headers["X-Title"] = appName
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(httpClient),
	}
	for k, v := range headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &Client{
		api:        openai.NewClient(opts...),
		httpClient: httpClient,
		cfg:        cfg,
		headers:    headers,
	}
}

func baseURLFor(provider string) string {
	if provider == config.ProviderOpenRouter {
		return config.OpenRouterBaseURL
	}
	return config.DefaultBaseURL
}

func isOpenRouter(provider, key string) bool {
	return provider == config.ProviderOpenRouter || strings.HasPrefix(key, "sk-or-")
}

// Chat sends messages and returns the assistant's text.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	req := c.resolve(opts)
	log := logrus.WithFields(logrus.Fields{"model": req.Model, "messages": len(messages), "stream": req.Stream})
	start := time.Now()

	var (
		text string
		err  error
	)
	if req.Stream {
		text, err = c.chatStream(ctx, messages, req)
	} else {
		text, err = c.chatOnce(ctx, messages, req)
	}
	if err != nil {
		log.WithError(err).Warn("chat completion failed")
		return "", err
	}
	log.WithFields(logrus.Fields{"chars": len(text), "elapsed": time.Since(start).Round(time.Millisecond)}).Debug("chat completion done")
	return text, nil
}

// ChatJSON asks for JSON and extracts the value from whatever the model
// returned. It fails with extract.ErrNoJSON when nothing parses.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, opts ChatOptions) (any, error) {
	opts.JSON = true
	text, err := c.Chat(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	raw, strategy, ok := extract.ExtractWithStrategy(text)
	if !ok {
		return nil, extract.ErrNoJSON
	}
	logrus.WithField("strategy", strategy).Debug("extracted JSON from chat answer")
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode extracted JSON: %w", err)
	}
	return v, nil
}

// chatRequest is the wire body of a chat completion; it is also the
// resolved form of ChatOptions.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func (c *Client) resolve(opts ChatOptions) chatRequest {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      c.cfg.Streaming,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Stream != nil {
		req.Stream = *opts.Stream
	}
	if opts.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (c *Client) chatOnce(ctx context.Context, messages []Message, req chatRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    toParams(messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// chatStream posts the request with stream enabled and joins the content
// deltas of the event stream.
func (c *Client) chatStream(ctx context.Context, messages []Message, req chatRequest) (string, error) {
	req.Messages = messages
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat stream: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if !stream.IsEventStream(resp.Header.Get("Content-Type")) {
		// Some compatible servers ignore "stream" and answer in one piece.
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("chat stream: %w", err)
		}
		return messageContent(b)
	}
	text, err := stream.Accumulate(resp.Body, stream.ChatDelta)
	if err != nil {
		return text, fmt.Errorf("chat stream: %w", err)
	}
	return text, nil
}

func messageContent(body []byte) (string, error) {
	var completion struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("chat stream: decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat stream: no choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
