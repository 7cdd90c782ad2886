package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rageval/src/log"
)

const (
	DefaultURL = "http://localhost:11434/api"
)

// GenerateRequest represents the request structure for model generation
type GenerateRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// ErrTruncated is returned when the response was truncated
type ErrTruncated struct {
	Message string
}

func (e *ErrTruncated) Error() string {
	return e.Message
}

// GenerateResponse represents the response structure from generation
type GenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client represents an Ollama API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	options    map[string]interface{}
}

// NewClient creates a new Ollama API client
func NewClient(baseURL string, c *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if c == nil {
		c = http.DefaultClient
	}

	return &Client{
		httpClient: c,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// WithOptions sets the model options sent with every judge completion
func (c *Client) WithOptions(options map[string]interface{}) *Client {
	c.options = options
	return c
}

// Complete asks the model for a JSON formatted answer
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	return c.generate(ctx, GenerateRequest{
		Model:   model,
		System:  system,
		Prompt:  prompt,
		Stream:  true,
		Format:  "json",
		Options: c.options,
	})
}

// Generate performs model generation with the given prompt
func (c *Client) Generate(ctx context.Context, model, system, prompt string, options map[string]interface{}) (string, error) {
	return c.generate(ctx, GenerateRequest{
		Model:   model,
		System:  system,
		Prompt:  prompt,
		Stream:  true,
		Options: options,
	})
}

func (c *Client) generate(ctx context.Context, reqBody GenerateRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/generate", c.baseURL)
	log.Debug("sending request to ollama", "url", url, "model", reqBody.Model, "prompt_length", len(reqBody.Prompt))

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error(err, "failed to make request to ollama")
		return "", fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	reader := bufio.NewReader(resp.Body)
	var fullResponse strings.Builder

	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var response GenerateResponse
			if uerr := json.Unmarshal(line, &response); uerr != nil {
				log.Error(uerr, "failed to unmarshal response line", "line", string(line))
				return "", fmt.Errorf("error unmarshaling response: %w", uerr)
			}
			if response.Error != "" {
				return "", fmt.Errorf("ollama error: %s", response.Error)
			}

			fullResponse.WriteString(response.Response)

			if response.Truncated {
				return "", &ErrTruncated{Message: "Response was truncated by the model"}
			}

			if response.Done && fullResponse.Len() > 0 {
				return fullResponse.String(), nil
			}
		}

		if err != nil {
			if err == io.EOF {
				if fullResponse.Len() > 0 {
					return fullResponse.String(), nil
				}
				break
			}
			return "", fmt.Errorf("error reading response: %w", err)
		}
	}

	return "", fmt.Errorf("no response received from Ollama")
}
