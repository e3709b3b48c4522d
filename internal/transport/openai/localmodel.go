// Package openai adapts OpenAI-compatible chat/embedding APIs: the local
// model runtime (llama-server style endpoint) and the cloud fallback provider.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
	"github.com/lyca499/cactus-app-1/internal/metrics"
)

const (
	extractPrompt         = "Extract all text from this image. Return only the extracted text."
	summarizeSystemPrompt = "You are a helpful assistant that summarizes text concisely."
	classifySystemPrompt  = "You are a content classifier. Respond with only one word: " +
		"email, message, note, calendar, code, or general."
)

// LocalModel drives an OpenAI-compatible local inference runtime. The runtime
// serves one generation request at a time; callers are responsible for not
// issuing concurrent generations.
type LocalModel struct {
	client        *openai.Client
	completion    string
	vision        string
	embedding     string
	embeddingDims int
	log           *zap.Logger
}

// LocalModelConfig holds the local runtime endpoint settings.
type LocalModelConfig struct {
	BaseURL         string
	APIKey          string
	CompletionModel string
	VisionModel     string
	EmbeddingModel  string
	EmbeddingDims   int
	Timeout         time.Duration
	Logger          *zap.Logger
}

var _ domain.LocalModel = (*LocalModel)(nil)

// NewLocalModel creates a client for the local model runtime.
func NewLocalModel(cfg LocalModelConfig) *LocalModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	vision := cfg.VisionModel
	if vision == "" {
		vision = cfg.CompletionModel
	}

	return &LocalModel{
		client:        openai.NewClientWithConfig(clientCfg),
		completion:    cfg.CompletionModel,
		vision:        vision,
		embedding:     cfg.EmbeddingModel,
		embeddingDims: cfg.EmbeddingDims,
		log:           cfg.Logger,
	}
}

// EmbeddingDims reports the configured embedding dimensionality.
func (m *LocalModel) EmbeddingDims() int { return m.embeddingDims }

// ExtractText runs the vision model over an image.
func (m *LocalModel) ExtractText(ctx context.Context, imagePath string) (string, error) {
	imageURL, err := resolveImageURL(imagePath)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: m.vision,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: extractPrompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
				},
			},
		}},
	}

	return m.chat(ctx, "extract", req)
}

// Summarize produces a 2-3 sentence summary.
func (m *LocalModel) Summarize(ctx context.Context, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: m.completion,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizeSystemPrompt},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Summarize the following text in 2-3 sentences:\n\n" + text,
			},
		},
	}

	return m.chat(ctx, "summarize", req)
}

// Classify labels text with one of the closed classification set.
func (m *LocalModel) Classify(ctx context.Context, text string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: m.completion,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Classify this content:\n\n" + text},
		},
		MaxTokens:   10,
		Temperature: 0.3,
	}

	return m.chat(ctx, "classify", req)
}

// Embed vectorizes text via the runtime's embeddings endpoint.
func (m *LocalModel) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(m.embedding),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if m.embeddingDims > 0 {
		req.Dimensions = m.embeddingDims
	}

	start := time.Now()
	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.ModelCallDuration.WithLabelValues("embed", "error").Observe(time.Since(start).Seconds())
		return nil, parseModelError(err)
	}
	if len(resp.Data) == 0 {
		metrics.ModelCallDuration.WithLabelValues("embed", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrModelProvider)
	}
	metrics.ModelCallDuration.WithLabelValues("embed", "success").Observe(time.Since(start).Seconds())

	return resp.Data[0].Embedding, nil
}

// Complete runs a raw system+user completion.
func (m *LocalModel) Complete(ctx context.Context, system, user string, opts domain.CompletionOptions) (string, error) {
	return m.chat(ctx, "complete", m.completionRequest(system, user, opts))
}

// CompleteStream runs a completion and delivers tokens as they arrive. The
// returned channel is closed after the terminal event; cancelling ctx aborts
// the stream.
func (m *LocalModel) CompleteStream(
	ctx context.Context, system, user string, opts domain.CompletionOptions,
) (<-chan domain.TokenEvent, error) {
	req := m.completionRequest(system, user, opts)
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, parseModelError(err)
	}

	events := make(chan domain.TokenEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		var full strings.Builder
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				sendEvent(ctx, events, domain.TokenEvent{Done: true, Response: full.String()})
				return
			}
			if recvErr != nil {
				sendEvent(ctx, events, domain.TokenEvent{Err: parseModelError(recvErr)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			full.WriteString(token)
			if !sendEvent(ctx, events, domain.TokenEvent{Token: token}) {
				return
			}
		}
	}()

	return events, nil
}

// sendEvent delivers an event unless the consumer has gone away.
func sendEvent(ctx context.Context, events chan<- domain.TokenEvent, ev domain.TokenEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *LocalModel) completionRequest(system, user string, opts domain.CompletionOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: m.completion,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	return req
}

// chat issues one chat completion and returns the first choice's content.
func (m *LocalModel) chat(ctx context.Context, op string, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ModelCallDuration.WithLabelValues(op, "error").Observe(duration.Seconds())
		return "", parseModelError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.ModelCallDuration.WithLabelValues(op, "error").Observe(duration.Seconds())
		return "", fmt.Errorf("empty completion response: %w", domain.ErrModelProvider)
	}
	metrics.ModelCallDuration.WithLabelValues(op, "success").Observe(duration.Seconds())

	m.log.Debug("model call",
		zap.String("op", op),
		zap.Duration("latency", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp.Choices[0].Message.Content, nil
}

// resolveImageURL passes remote and data URLs through and inlines local files
// as base64 data URLs, which is what llama-server style runtimes accept.
func resolveImageURL(imagePath string) (string, error) {
	if strings.HasPrefix(imagePath, "http://") ||
		strings.HasPrefix(imagePath, "https://") ||
		strings.HasPrefix(imagePath, "data:") {
		return imagePath, nil
	}

	path := strings.TrimPrefix(imagePath, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// parseModelError extracts a readable error from the runtime response. All
// errors are wrapped with domain.ErrModelProvider.
func parseModelError(err error) error {
	wrap := domain.ErrModelProvider

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("model API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("model API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("model request failed: %v: %w", err, wrap)
}
