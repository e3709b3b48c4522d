package gateway

import (
	"context"

	"github.com/lyca499/cactus-app-1/internal/domain"
)

// InferenceService drives the screenshot pipeline and RAG answering.
// Implemented by usecase/routing.Service.
type InferenceService interface {
	ProcessScreenshot(ctx context.Context, imagePath string) (domain.RouterResult, error)
	ProcessQuery(ctx context.Context, query string) ([]float32, error)
	GenerateAnswer(ctx context.Context, query string, memories []domain.ScoredRecord) (string, error)
}

// MemoryStore persists pipeline results and ranks them by similarity.
// Implemented by repository/memory drivers.
type MemoryStore interface {
	Insert(ctx context.Context, rec domain.MemoryRecord) (int64, error)
	SearchSimilar(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]domain.ScoredRecord, error)
}
