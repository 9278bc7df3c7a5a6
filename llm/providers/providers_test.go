package providers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/llm"
)

func TestProviderRegistration(t *testing.T) {
	for _, name := range []string{"anthropic", "openai", "gemini", "grok"} {
		p := llm.GetProvider(name)
		require.NotNil(t, p, name)
		assert.Equal(t, name, p.Name())
	}
}

func TestOpenAIProvider_BuildURL(t *testing.T) {
	p := &OpenAIProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "custom base URL",
			baseURL: "https://openrouter.ai/api/v1",
			want:    "https://openrouter.ai/api/v1/chat/completions",
		},
		{
			name:    "trailing slash handled",
			baseURL: "https://api.openai.com/v1/",
			want:    "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "full path unchanged",
			baseURL: "https://api.openai.com/v1/chat/completions",
			want:    "https://api.openai.com/v1/chat/completions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.BuildURL(tt.baseURL, "gpt-4o"))
		})
	}
}

func TestOpenAIProvider_SetHeaders(t *testing.T) {
	p := &OpenAIProvider{}
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	req, _ := http.NewRequest("POST", "https://api.openai.com/v1/chat/completions", nil)
	p.SetHeaders(req)

	assert.Equal(t, "Bearer test-api-key", req.Header.Get("Authorization"))
}

func TestOpenAIProvider_BuildRequestBody(t *testing.T) {
	p := &OpenAIProvider{}
	temp := 0.5

	body, err := p.BuildRequestBody("gpt-4o", []llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, &temp, 256)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "gpt-4o", req["model"])
	assert.Equal(t, 0.5, req["temperature"])
	assert.Equal(t, float64(256), req["max_tokens"])

	messages := req["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestOpenAIProvider_ParseResponse(t *testing.T) {
	p := &OpenAIProvider{}

	t.Run("valid response", func(t *testing.T) {
		body := []byte(`{
			"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
			"model": "gpt-4o-2024-08-06",
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)

		resp, err := p.ParseResponse(body, "gpt-4o")
		require.NoError(t, err)
		assert.Equal(t, "hi there", resp.Content)
		assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
		assert.Equal(t, 15, resp.Usage.TotalTokens)
		assert.Equal(t, "stop", resp.FinishReason)
	})

	t.Run("empty choices", func(t *testing.T) {
		_, err := p.ParseResponse([]byte(`{"choices": []}`), "gpt-4o")
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := p.ParseResponse([]byte(`not json`), "gpt-4o")
		assert.Error(t, err)
	})
}

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := &AnthropicProvider{}

	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.BuildURL("", "claude-sonnet-4"))
	assert.Equal(t, "https://proxy.internal/v1/messages", p.BuildURL("https://proxy.internal/", "claude-sonnet-4"))
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	body, err := p.BuildRequestBody("claude-sonnet-4", []llm.Message{
		{Role: "system", Content: "stay on topic"},
		{Role: "user", Content: "hello"},
	}, nil, 0)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	// System messages become the top-level system field.
	assert.Equal(t, "stay on topic", req["system"])
	messages := req["messages"].([]any)
	require.Len(t, messages, 1)
	// Anthropic requires max_tokens, so a default is applied.
	assert.Equal(t, float64(4096), req["max_tokens"])
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"content": [{"type": "text", "text": "response text"}],
		"model": "claude-sonnet-4",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)

	resp, err := p.ParseResponse(body, "claude-sonnet-4")
	require.NoError(t, err)
	assert.Equal(t, "response text", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGeminiProvider_BuildURL(t *testing.T) {
	p := &GeminiProvider{}

	got := p.BuildURL("", "gemini-2.0-flash")
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent", got)
}

func TestGeminiProvider_SetHeaders(t *testing.T) {
	p := &GeminiProvider{}
	t.Setenv("GEMINI_API_KEY", "gem-key")

	req, _ := http.NewRequest("POST", "https://generativelanguage.googleapis.com/v1beta", nil)
	p.SetHeaders(req)

	assert.Equal(t, "gem-key", req.Header.Get("x-goog-api-key"))
}

func TestGeminiProvider_BuildRequestBody(t *testing.T) {
	p := &GeminiProvider{}

	body, err := p.BuildRequestBody("gemini-2.0-flash", []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, nil, 512)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	require.Contains(t, req, "system_instruction")

	contents := req["contents"].([]any)
	require.Len(t, contents, 2)
	// Assistant turns map to the "model" role.
	second := contents[1].(map[string]any)
	assert.Equal(t, "model", second["role"])
}

func TestGeminiProvider_ParseResponse(t *testing.T) {
	p := &GeminiProvider{}

	body := []byte(`{
		"candidates": [{
			"content": {"parts": [{"text": "part one "}, {"text": "part two"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4, "totalTokenCount": 12}
	}`)

	resp, err := p.ParseResponse(body, "gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestGrokProvider(t *testing.T) {
	p := &GrokProvider{}

	assert.Equal(t, "grok", p.Name())
	assert.Equal(t, "https://api.x.ai/v1/chat/completions", p.BuildURL("", "grok-3"))

	t.Setenv("XAI_API_KEY", "xai-key")
	req, _ := http.NewRequest("POST", "https://api.x.ai/v1/chat/completions", nil)
	p.SetHeaders(req)
	assert.Equal(t, "Bearer xai-key", req.Header.Get("Authorization"))
}
