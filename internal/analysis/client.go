package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/metrics"
	"github.com/intelligrit/quakesafe/internal/model"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Client calls the Anthropic Messages API.
type Client struct {
	APIKey     string
	Model      string
	MaxTokens  int
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a Client using the ANTHROPIC_API_KEY env var.
func NewClient(model string, maxTokens int) (*Client, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	return &Client{
		APIKey:     key,
		Model:      model,
		MaxTokens:  maxTokens,
		Endpoint:   anthropicAPI,
		HTTPClient: &http.Client{},
	}, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type apiResponse struct {
	Content []apiContentBlock `json:"content"`
	Usage   Usage             `json:"usage"`
	Error   *apiError         `json:"error,omitempty"`
}

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func textBlock(s string) apiContentBlock {
	return apiContentBlock{Type: "text", Text: s}
}

func imageBlock(url string) apiContentBlock {
	return apiContentBlock{Type: "image", Source: &apiImageSource{Type: "url", URL: url}}
}

// Assess asks for a safety score, magnitude survivability and summary of the
// image at imageURL and parses the reply.
func (c *Client) Assess(ctx context.Context, imageURL string) (*model.Assessment, error) {
	text, _, err := c.send(ctx, "assess", "", []apiMessage{
		{Role: "user", Content: []apiContentBlock{imageBlock(imageURL), textBlock(assessPrompt)}},
	})
	if err != nil {
		return nil, err
	}
	a, err := ParseAssessment(text)
	if err != nil {
		metrics.AnalysisRequestsTotal.WithLabelValues("assess", "parse_error").Inc()
		return nil, err
	}
	return a, nil
}

// Analyze returns free-text safety bullet points for the image at imageURL.
func (c *Client) Analyze(ctx context.Context, imageURL string) (string, error) {
	text, _, err := c.send(ctx, "analyze", "", []apiMessage{
		{Role: "user", Content: []apiContentBlock{imageBlock(imageURL), textBlock(analyzePrompt)}},
	})
	return text, err
}

// Reply continues a chat. history is oldest first and must not include
// message.
func (c *Client) Reply(ctx context.Context, history []model.ChatMessage, message string) (string, error) {
	msgs := make([]apiMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Sender == model.SenderAssistant {
			role = "assistant"
		}
		// The API requires alternating roles; merge consecutive turns.
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, textBlock(m.Text))
			continue
		}
		msgs = append(msgs, apiMessage{Role: role, Content: []apiContentBlock{textBlock(m.Text)}})
	}
	if len(msgs) > 0 && msgs[0].Role == "assistant" {
		msgs = msgs[1:]
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
		msgs[n-1].Content = append(msgs[n-1].Content, textBlock(message))
	} else {
		msgs = append(msgs, apiMessage{Role: "user", Content: []apiContentBlock{textBlock(message)}})
	}

	text, _, err := c.send(ctx, "chat", chatSystemPrompt, msgs)
	return text, err
}

func (c *Client) send(ctx context.Context, kind, system string, msgs []apiMessage) (string, Usage, error) {
	text, usage, err := c.do(ctx, system, msgs)
	if err != nil {
		metrics.AnalysisRequestsTotal.WithLabelValues(kind, "error").Inc()
		log.Error().Err(err).Str("kind", kind).Msg("Analysis request failed")
		return "", Usage{}, err
	}
	metrics.AnalysisRequestsTotal.WithLabelValues(kind, "ok").Inc()
	log.Debug().
		Str("kind", kind).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Msg("Analysis request done")
	return text, usage, nil
}

func (c *Client) do(ctx context.Context, system string, msgs []apiMessage) (string, Usage, error) {
	reqBody := apiRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		System:    system,
		Messages:  msgs,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing response: %w", err)
	}

	if apiResp.Error != nil {
		return "", Usage{}, fmt.Errorf("API error (%s): %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	if resp.StatusCode != 200 {
		return "", Usage{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	for _, block := range apiResp.Content {
		if block.Type == "text" {
			return block.Text, apiResp.Usage, nil
		}
	}
	return "", Usage{}, fmt.Errorf("empty response from API")
}
