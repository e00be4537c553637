package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memrelay/internal/config"
	"memrelay/internal/extract"
)

// fakeAPI is a minimal OpenAI-compatible server.
type fakeAPI struct {
	mu       sync.Mutex
	bodies   []map[string]any
	headers  []http.Header
	answer   string
	stream   []string
	models   int
	status   int
	embedIdx []int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"denied","type":"invalid_request_error"}}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions") && body["stream"] == true:
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range f.stream {
			chunk, _ := json.Marshal(map[string]any{
				"object":  "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": part}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   body["model"],
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.answer},
			}},
		})
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		data := []any{}
		for _, i := range f.embedIdx {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float64{float64(i), float64(i) + 0.5}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": body["model"], "data": data})
	case strings.HasSuffix(r.URL.Path, "/models"):
		data := []any{}
		for i := 0; i < f.models; i++ {
			data = append(data, map[string]any{"id": fmt.Sprintf("model-%d", i), "object": "model", "created": 1, "owned_by": "test"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeAPI) lastHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[len(f.headers)-1]
}

func newTestClient(t *testing.T, api *fakeAPI, mutate func(*config.LLM)) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg := config.Default().LLM
	cfg.BaseURL = srv.URL + "/v1"
	cfg.APIKey = "sk-test"
	cfg.MaxRetries = 0
	cfg.Streaming = false
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, srv.Client())
}

func TestChatNonStreaming(t *testing.T) {
	api := &fakeAPI{answer: "Hello there"}
	c := newTestClient(t, api, nil)

	text, err := c.Chat(context.Background(), []Message{System("be brief"), User("hi")}, ChatOptions{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", text)

	body := api.lastBody()
	assert.Equal(t, config.DefaultModel, body["model"])
	assert.InDelta(t, 0.1, body["temperature"], 1e-9)
	assert.Equal(t, float64(64), body["max_tokens"])
	assert.NotContains(t, body, "response_format")
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Bearer sk-test", api.lastHeader().Get("Authorization"))
}

func TestChatOverrides(t *testing.T) {
	api := &fakeAPI{answer: "ok"}
	c := newTestClient(t, api, nil)

	_, err := c.Chat(context.Background(), []Message{User("x")}, ChatOptions{Model: "gpt-4o", Temperature: Float(0), JSON: true})
	require.NoError(t, err)

	body := api.lastBody()
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Equal(t, float64(0), body["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
}

func TestChatStreaming(t *testing.T) {
	api := &fakeAPI{stream: []string{"Hel", "lo", ", world"}}
	c := newTestClient(t, api, func(cfg *config.LLM) { cfg.Streaming = true })

	text, err := c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, true, api.lastBody()["stream"])
	assert.Equal(t, "text/event-stream", api.lastHeader().Get("Accept"))
}

func TestChatStreamingHTTPError(t *testing.T) {
	api := &fakeAPI{status: http.StatusTooManyRequests}
	c := newTestClient(t, api, nil)

	_, err := c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{Stream: Bool(true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestChatJSON(t *testing.T) {
	api := &fakeAPI{answer: "Here is the JSON:\n```json\n{\"entries\": [{\"topic\": \"coffee\"}]}\n```"}
	c := newTestClient(t, api, nil)

	v, err := c.ChatJSON(context.Background(), []Message{User("extract")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"entries": []any{map[string]any{"topic": "coffee"}}}, v)
	assert.Equal(t, map[string]any{"type": "json_object"}, api.lastBody()["response_format"])
}

func TestChatJSONWithoutJSON(t *testing.T) {
	api := &fakeAPI{answer: "I could not find anything."}
	c := newTestClient(t, api, nil)

	_, err := c.ChatJSON(context.Background(), []Message{User("extract")}, ChatOptions{})
	assert.ErrorIs(t, err, extract.ErrNoJSON)
}

func TestEmbedRestoresInputOrder(t *testing.T) {
	api := &fakeAPI{embedIdx: []int{2, 0, 1}}
	c := newTestClient(t, api, nil)

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0.5}, {1, 1.5}, {2, 2.5}}, vecs)
	assert.Equal(t, config.DefaultEmbeddingModel, api.lastBody()["model"])
	assert.Equal(t, []any{"a", "b", "c"}, api.lastBody()["input"])
}

func TestEmbedOne(t *testing.T) {
	api := &fakeAPI{embedIdx: []int{0}}
	c := newTestClient(t, api, nil)

	vec, err := c.EmbedOne(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5}, vec)
}

func TestEmbedCountMismatch(t *testing.T) {
	api := &fakeAPI{embedIdx: []int{0}}
	c := newTestClient(t, api, nil)

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOpenRouterHeaders(t *testing.T) {
	api := &fakeAPI{answer: "ok"}
	c := newTestClient(t, api, func(cfg *config.LLM) {
		cfg.Provider = config.ProviderOpenRouter
		cfg.APIKey = "sk-or-v1-abc"
		cfg.AppName = "Memory Tests"
	})

	_, err := c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Memory Tests", api.lastHeader().Get("X-Title"))
	assert.NotEmpty(t, api.lastHeader().Get("HTTP-Referer"))

	_, err = c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{Stream: Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, "Memory Tests", api.lastHeader().Get("X-Title"))
}

func TestOpenAIClientsSendNoOpenRouterHeaders(t *testing.T) {
	api := &fakeAPI{answer: "ok"}
	c := newTestClient(t, api, nil)

	_, err := c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})
	require.NoError(t, err)
	assert.Empty(t, api.lastHeader().Get("X-Title"))
}

func TestChatTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := config.Default().LLM
	cfg.BaseURL = base
	cfg.APIKey = "sk-test"
	cfg.MaxRetries = 0
	c := New(cfg, nil)

	_, err := c.Chat(context.Background(), []Message{User("hi")}, ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}
