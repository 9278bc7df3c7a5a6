package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/hivemind/llm"
)

// GrokProvider implements the xAI Grok API, which is OpenAI-compatible.
type GrokProvider struct{}

func init() {
	llm.RegisterProvider(&GrokProvider{})
}

// Name returns the provider identifier.
func (g *GrokProvider) Name() string {
	return "grok"
}

// BuildURL constructs the xAI API endpoint.
func (g *GrokProvider) BuildURL(baseURL, _ string) string {
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds xAI authentication headers.
func (g *GrokProvider) SetHeaders(req *http.Request) {
	apiKey := os.Getenv("XAI_API_KEY")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// BuildRequestBody creates the chat completions request body.
func (g *GrokProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return buildChatBody(model, messages, temperature, maxTokens)
}

// ParseResponse extracts content from the OpenAI-compatible response.
func (g *GrokProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	return parseChatResponse(body, model, "grok")
}
