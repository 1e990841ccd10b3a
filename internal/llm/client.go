package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client represents a generic LLM API client
// Thread-safe for concurrent use
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}

	return client, nil
}

// ChatCompletion creates a chat completion request to the configured LLM API
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (*ChatResponse, error) {
	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", request)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return response, nil
}

// SimpleChat sends one user prompt with an optional system prompt and
// returns the assistant's reply plus the token usage of the call.
func (c *Client) SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, Usage, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	response, err := c.ChatCompletion(ctx, messages)
	if err != nil {
		return "", Usage{}, err
	}

	if len(response.Choices) == 0 {
		return "", response.Usage, fmt.Errorf("no choices in response")
	}

	return response.Choices[0].Message.Content, response.Usage, nil
}

// makeRequest makes a raw HTTP request to the configured LLM API
func (c *Client) makeRequest(ctx context.Context, method, path string, payload interface{}) (*ChatResponse, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(data, &chatResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if chatResponse.Error != nil {
		return nil, fmt.Errorf("API error: %s (%s)", chatResponse.Error.Message, chatResponse.Error.Type)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	return &chatResponse, nil
}
