package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Prompt   string
	Timeout  time.Duration
}

var config *Config

func Init(cfg *Config) {
	config = cfg
}

// Chat-completions API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
}

type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

// StatusError is returned for any non-200 response. Body carries the raw
// response body so the caller can surface it verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Body)
}

const (
	// DefaultPrompt instructs the model to return extracted text only.
	DefaultPrompt = "Extract ALL text from this image exactly as it appears.\n" +
		"Preserve original formatting, line breaks, punctuation and special characters.\n" +
		"Return ONLY the extracted text with NO additional commentary."

	DefaultTimeout = 120 * time.Second
)

// Ping verifies the client is initialized with a usable configuration.
func Ping() error {
	if config == nil {
		return fmt.Errorf("LLM client not initialized")
	}
	if config.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if config.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	return nil
}

// QueryVision sends one image to the vision chat-completions endpoint and
// returns the extracted text with surrounding whitespace trimmed. The model
// argument overrides the configured default when non-empty. No retries: a
// failure is terminal for this call.
func QueryVision(ctx context.Context, imageData []byte, mime, model string) (string, error) {
	if err := Ping(); err != nil {
		return "", err
	}
	if model == "" {
		model = config.Model
	}
	if model == "" {
		return "", fmt.Errorf("model is required")
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	base64Image := base64.StdEncoding.EncodeToString(imageData)
	imageURL := fmt.Sprintf("data:%s;base64,%s", mime, base64Image)

	prompt := config.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	request := ChatRequest{
		Messages: []Message{
			{
				Role: "user",
				Content: []Content{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
				},
			},
		},
		Model:  model,
		Stream: false,
	}

	response, err := makeAPIRequest(ctx, request)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func makeAPIRequest(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", config.APIKey))

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}

	return &response, nil
}
