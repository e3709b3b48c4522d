// Package routing decides, per request, whether to trust on-device inference
// or escalate to a cloud LLM, subject to a hard privacy veto.
package routing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
	"github.com/lyca499/cactus-app-1/internal/metrics"
)

// Config holds the decision policy thresholds.
type Config struct {
	// ConfidenceThreshold below which low-privacy content is escalated.
	ConfidenceThreshold float64
	// PrivacyThreshold at or above which cloud escalation is forbidden.
	PrivacyThreshold float64
}

// Service orchestrates the local model pipeline, the scorers, the decision
// policy, and the cloud fallback. It holds no per-request state; every call
// is an independent pipeline.
type Service struct {
	model domain.LocalModel
	cloud CloudService
	cfg   Config
	log   *zap.Logger
}

// New creates the routing service.
func New(model domain.LocalModel, cloud CloudService, cfg Config, log *zap.Logger) *Service {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.PrivacyThreshold <= 0 {
		cfg.PrivacyThreshold = 0.5
	}
	return &Service{model: model, cloud: cloud, cfg: cfg, log: log}
}

// ProcessScreenshot runs the full pipeline for one image: extract, summarize,
// classify, embed, score, decide, and optionally enhance via the cloud.
// Cloud enhancement failure degrades to the already-computed local results
// and never surfaces as an error.
func (s *Service) ProcessScreenshot(ctx context.Context, imagePath string) (domain.RouterResult, error) {
	extractedText, err := s.model.ExtractText(ctx, imagePath)
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("extract text: %w", err)
	}
	extractedText = strings.TrimSpace(extractedText)

	summary, err := s.model.Summarize(ctx, truncate(extractedText, 1000))
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)

	classification, err := s.model.Classify(ctx, truncate(extractedText, 500))
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("classify: %w", err)
	}
	classification = strings.ToLower(strings.TrimSpace(classification))

	embedding, err := s.model.Embed(ctx, summary+"\n"+truncate(extractedText, 500))
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("embed: %w", err)
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return domain.RouterResult{}, err
	}

	confidenceScore := ConfidenceScore(extractedText, summary)
	privacyScore := s.PrivacyScore(ctx, extractedText, classification)

	// Decision policy: privacy is checked first and is absolute. Content at
	// or above the privacy threshold never leaves the device, regardless of
	// confidence.
	mode := domain.ModeLocal
	switch {
	case privacyScore >= s.cfg.PrivacyThreshold:
		s.log.Debug("privacy veto, staying local",
			zap.Float64("privacy", privacyScore),
			zap.Float64("confidence", confidenceScore),
		)
	case confidenceScore < s.cfg.ConfidenceThreshold:
		mode = domain.ModeCloud
		s.log.Debug("low confidence, escalating to cloud",
			zap.Float64("privacy", privacyScore),
			zap.Float64("confidence", confidenceScore),
		)
	default:
		s.log.Debug("confident local result",
			zap.Float64("privacy", privacyScore),
			zap.Float64("confidence", confidenceScore),
		)
	}

	if mode == domain.ModeCloud {
		cloudSummary, cloudClassification, cloudErr := s.cloud.ProcessText(ctx, extractedText)
		if cloudErr != nil {
			// Degraded success: keep the local results and revert the mode.
			s.log.Warn("cloud enhancement failed, using local results", zap.Error(cloudErr))
			metrics.CloudFallbacksTotal.Inc()
			mode = domain.ModeLocal
		} else {
			summary = cloudSummary
			classification = cloudClassification
			confidenceScore = s.cloud.ConfidenceScore()
		}
	}

	metrics.RoutingDecisionsTotal.WithLabelValues(string(mode)).Inc()

	return domain.RouterResult{
		ExtractedText:   extractedText,
		Summary:         summary,
		Classification:  classification,
		Embedding:       embedding,
		ConfidenceScore: confidenceScore,
		PrivacyScore:    privacyScore,
		InferenceMode:   mode,
	}, nil
}

// ProcessQuery returns the embedding of a query for similarity search.
func (s *Service) ProcessQuery(ctx context.Context, query string) ([]float32, error) {
	embedding, err := s.model.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

// checkEmbedding enforces the fixed dimensionality the model advertises.
// A vector of the wrong size would silently score zero against every stored
// record, so a mismatch is an error, not a degraded result.
func (s *Service) checkEmbedding(embedding []float32) error {
	d, ok := s.model.(domain.EmbeddingDims)
	if !ok || d.EmbeddingDims() <= 0 {
		return nil
	}
	if len(embedding) != d.EmbeddingDims() {
		return fmt.Errorf("embedding has %d dimensions, model reports %d", len(embedding), d.EmbeddingDims())
	}
	return nil
}

const answerSystemPrompt = "You are a helpful assistant that answers questions based on provided context."

// GenerateAnswer builds one RAG prompt from the retrieved memories and issues
// a single local completion call.
func (s *Service) GenerateAnswer(ctx context.Context, query string, memories []domain.ScoredRecord) (string, error) {
	blocks := make([]string, 0, len(memories))
	for i, mem := range memories {
		text := truncate(mem.ExtractedText, 200)
		if text == "" {
			text = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf(
			"Memory %d:\nSummary: %s\nClassification: %s\nText: %s\n---",
			i+1, mem.Summary, mem.Classification, text,
		))
	}
	memoryContext := strings.Join(blocks, "\n\n")

	user := fmt.Sprintf(
		"Based on the following memories, answer the user's question.\n\nMemories:\n%s\n\nUser Question: %s",
		memoryContext, query,
	)

	answer, err := s.model.Complete(ctx, answerSystemPrompt, user, domain.CompletionOptions{})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}
