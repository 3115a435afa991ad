package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// CommandCompleter runs the `llm` command line tool:
//
//	llm -m <model> -s <system> <user>
type CommandCompleter struct {
	Command string
}

func (c CommandCompleter) Complete(ctx context.Context, system, user, model string) (string, error) {
	name := c.Command
	if name == "" {
		name = "llm"
	}

	cmd := exec.CommandContext(ctx, name, "-m", model, "-s", system, user)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return "", fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.String(), nil
}

const defaultChatBaseURL = "https://openrouter.ai/api/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompleter talks to an OpenAI-compatible /chat/completions endpoint
// such as OpenRouter.
type ChatCompleter struct {
	baseURL    string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
}

// NewChatCompleter constructs a client with sane defaults.
func NewChatCompleter(apiKey string, opts ...func(*ChatCompleter)) *ChatCompleter {
	c := &ChatCompleter{
		baseURL:    defaultChatBaseURL,
		apiKey:     apiKey,
		maxTokens:  256,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithChatBaseURL overrides the API base URL (useful for tests).
func WithChatBaseURL(url string) func(*ChatCompleter) {
	return func(c *ChatCompleter) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithChatHTTPClient overrides the internal HTTP client.
func WithChatHTTPClient(hc *http.Client) func(*ChatCompleter) {
	return func(c *ChatCompleter) { c.httpClient = hc }
}

func (c *ChatCompleter) Complete(ctx context.Context, system, user, model string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("chat: missing API key")
	}

	body, err := json.Marshal(chatRequest{
		// "openrouter/<vendor>/<model>" is the llm CLI spelling.
		Model: strings.TrimPrefix(model, "openrouter/"),
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat: api error %d: %s", resp.StatusCode, string(data))
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("chat: empty choices")
	}
	return payload.Choices[0].Message.Content, nil
}

// DefaultAnthropicModel is used when the configured model is not an
// Anthropic model id (e.g. an llm CLI "vendor/model" path).
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicCompleter uses the Anthropic Messages API.
type AnthropicCompleter struct {
	client    anthropic.Client
	maxTokens int64
}

func NewAnthropicCompleter(apiKey string, opts ...option.RequestOption) *AnthropicCompleter {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicCompleter{
		client:    anthropic.NewClient(all...),
		maxTokens: 256,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, user, model string) (string, error) {
	if strings.Contains(model, "/") {
		model = DefaultAnthropicModel
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
