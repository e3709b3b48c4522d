package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
)

// cloudConfidence is the fixed confidence assigned to cloud-enhanced results.
// Cloud inference is never scored dynamically.
const cloudConfidence = 0.9

// CloudService escalates summarization and classification to a cloud
// chat-completion provider when local confidence is low.
type CloudService struct {
	client *openai.Client
	model  string
	apiKey string
	log    *zap.Logger
}

// CloudConfig holds cloud provider settings.
type CloudConfig struct {
	APIKey  string
	BaseURL string // empty for api.openai.com, or an OpenRouter-style endpoint
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewCloudService creates the cloud fallback client.
func NewCloudService(cfg CloudConfig) *CloudService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &CloudService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		apiKey: cfg.APIKey,
		log:    cfg.Logger,
	}
}

// ProcessText regenerates summary and classification in the cloud. The two
// calls are independent; either failing fails the enhancement.
func (c *CloudService) ProcessText(ctx context.Context, text string) (string, string, error) {
	if c.apiKey == "" {
		return "", "", domain.ErrCloudKeyMissing
	}

	summary, err := c.GenerateSummary(ctx, text)
	if err != nil {
		return "", "", err
	}
	classification, err := c.Classify(ctx, text)
	if err != nil {
		return "", "", err
	}

	c.log.Debug("cloud enhancement complete",
		zap.String("model", c.model),
		zap.String("classification", classification),
	)
	return summary, classification, nil
}

// GenerateSummary produces a 2-3 sentence cloud summary.
func (c *CloudService) GenerateSummary(ctx context.Context, text string) (string, error) {
	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizeSystemPrompt},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Summarize the following text in 2-3 sentences:\n\n" + truncate(text, 2000),
			},
		},
		MaxTokens: 150,
	})
	if err != nil {
		return "", err
	}
	if resp == "" {
		return "Summary unavailable", nil
	}
	return resp, nil
}

// Classify labels text with one of the closed classification set.
func (c *CloudService) Classify(ctx context.Context, text string) (string, error) {
	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Classify this content:\n\n" + truncate(text, 500)},
		},
		MaxTokens:   10,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	classification := strings.ToLower(strings.TrimSpace(resp))
	if classification == "" {
		classification = domain.ClassGeneral
	}
	return classification, nil
}

// ConfidenceScore is the fixed confidence of cloud results.
func (c *CloudService) ConfidenceScore() float64 { return cloudConfidence }

func (c *CloudService) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", parseCloudError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// parseCloudError converts provider failures into typed errors carrying the
// upstream HTTP status.
func parseCloudError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewCloudAPIError(reqErr.HTTPStatusCode,
			fmt.Sprintf("%d %s", reqErr.HTTPStatusCode, string(reqErr.Body)))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewCloudAPIError(apiErr.HTTPStatusCode,
			fmt.Sprintf("%d %s", apiErr.HTTPStatusCode, apiErr.Message))
	}

	return fmt.Errorf("cloud request failed: %v: %w", err, domain.ErrCloudProvider)
}

// truncate caps s at n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
