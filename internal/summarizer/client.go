package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mixelka/mailchat/internal/parser"
)

// ErrSummarization the model produced no usable text
var ErrSummarization = errors.New("summarization failed")

// DefaultModel used when Config.Model is empty
const DefaultModel = "gemini-2.0-flash"

// Config for Gemini client
type Config struct {
	BaseURL       string // empty means the public Gemini endpoint
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxBodyLength int // runes of mail body sent to the model
	MaxTokens     int // output budget for summaries
}

// Client generates summaries and drafts through the Gemini API
type Client struct {
	genai         *genai.Client
	model         string
	maxBodyLength int
	maxTokens     int
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = 2000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		genai:         gc,
		model:         cfg.Model,
		maxBodyLength: cfg.MaxBodyLength,
		maxTokens:     cfg.MaxTokens,
	}, nil
}

// Summarize turns an email into a short text-message style summary
func (c *Client) Summarize(ctx context.Context, sender, subject, body string) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, sender, subject, parser.Truncate(body, c.maxBodyLength))
	return c.generate(ctx, prompt, 0.3, c.maxTokens)
}

// ComposeEmail expands a chat message into an email body in the given tone
func (c *Client) ComposeEmail(ctx context.Context, text, tone string) (string, error) {
	return c.generate(ctx, fmt.Sprintf(composeBodyPrompt, tone, text), 0.7, 500)
}

// ComposeSubject produces a subject line for a chat message in the given tone
func (c *Client) ComposeSubject(ctx context.Context, text, tone string) (string, error) {
	subject, err := c.generate(ctx, fmt.Sprintf(composeSubjectPrompt, tone, text), 0.5, 50)
	if err != nil {
		return "", err
	}
	subject = strings.TrimPrefix(subject, "Subject:")
	return strings.Trim(strings.TrimSpace(subject), `"`), nil
}

func (c *Client) generate(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response from API", ErrSummarization)
	}
	return text, nil
}
