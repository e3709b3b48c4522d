package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
	"github.com/lyca499/cactus-app-1/internal/logger"
)

// ServiceName identifies this backend in health responses.
const ServiceName = "cactus-memory-backend"

// Handlers wires the gateway routes to the inference service and memory
// store. All dependencies are injected at construction; there is no ambient
// state. Request-scoped logging comes from the context the server dispatches
// with.
type Handlers struct {
	inference     InferenceService
	store         MemoryStore
	minSimilarity float64
	batchWorkers  int
}

// HandlersConfig tunes handler behavior.
type HandlersConfig struct {
	// MinSimilarity filters memory search results.
	MinSimilarity float64
	// BatchWorkers bounds concurrent batch image processing. Values below 1
	// are treated as 1: the local model runtime serves a single generation
	// request at a time, so the safe default is strictly sequential.
	BatchWorkers int
}

// NewHandlers creates the gateway handler set.
func NewHandlers(inference InferenceService, store MemoryStore, cfg HandlersConfig) *Handlers {
	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	return &Handlers{
		inference:     inference,
		store:         store,
		minSimilarity: cfg.MinSimilarity,
		batchWorkers:  cfg.BatchWorkers,
	}
}

// Register installs all gateway routes on the router.
func (h *Handlers) Register(r *Router) {
	r.Handle("GET", "/health", h.Health)
	r.Handle("POST", "/api/process-image", h.ProcessImage)
	r.Handle("POST", "/api/process-images-batch", h.ProcessImagesBatch)
	r.Handle("POST", "/api/query-memory", h.QueryMemory)
}

// Health reports liveness.
func (h *Handlers) Health(_ context.Context, _ Request) (Response, error) {
	return Response{StatusCode: 200, Body: map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
	}}, nil
}

type processImageRequest struct {
	ImagePath   string `json:"imagePath"`
	ImageURI    string `json:"imageUri"`
	Base64Image string `json:"base64Image"`
}

func badRequest(message string) Response {
	return Response{StatusCode: 400, Body: map[string]string{
		"error":   "Invalid Request",
		"message": message,
	}}
}

// ProcessImage runs the full screenshot pipeline for one image and persists
// the result.
func (h *Handlers) ProcessImage(ctx context.Context, req Request) (Response, error) {
	var body processImageRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("request body must be valid JSON"), nil
	}

	imagePath := body.ImagePath
	if imagePath == "" {
		imagePath = body.ImageURI
	}
	if imagePath == "" {
		if body.Base64Image != "" {
			return badRequest("Please provide imagePath or imageUri. Base64 images not yet supported."), nil
		}
		return badRequest("Missing imagePath, imageUri, or base64Image"), nil
	}

	result, memoryID, err := h.processAndStore(ctx, imagePath)
	if err != nil {
		return Response{}, err
	}

	return Response{StatusCode: 200, Body: map[string]any{
		"success":         true,
		"memoryId":        memoryID,
		"extractedText":   result.ExtractedText,
		"summary":         result.Summary,
		"classification":  result.Classification,
		"embedding":       result.Embedding,
		"confidenceScore": result.ConfidenceScore,
		"privacyScore":    result.PrivacyScore,
		"inferenceMode":   result.InferenceMode,
	}}, nil
}

func (h *Handlers) processAndStore(ctx context.Context, imagePath string) (domain.RouterResult, int64, error) {
	result, err := h.inference.ProcessScreenshot(ctx, imagePath)
	if err != nil {
		return domain.RouterResult{}, 0, fmt.Errorf("process screenshot: %w", err)
	}

	id, err := h.store.Insert(ctx, domain.MemoryRecord{
		ScreenshotPath:  imagePath,
		ExtractedText:   result.ExtractedText,
		Summary:         result.Summary,
		Classification:  result.Classification,
		Embedding:       result.Embedding,
		ConfidenceScore: result.ConfidenceScore,
		PrivacyScore:    result.PrivacyScore,
		InferenceMode:   result.InferenceMode,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return domain.RouterResult{}, 0, fmt.Errorf("insert memory: %w", err)
	}
	return result, id, nil
}

type batchRequest struct {
	Images []batchImage `json:"images"`
}

type batchImage struct {
	ImagePath string `json:"imagePath"`
	ImageURI  string `json:"imageUri"`
}

type batchItemResult struct {
	Index    int   `json:"index"`
	Success  bool  `json:"success"`
	MemoryID int64 `json:"memoryId"`
	domain.RouterResult
}

type batchItemError struct {
	Index     int    `json:"index"`
	ImagePath string `json:"imagePath,omitempty"`
	Error     string `json:"error"`
}

// ProcessImagesBatch processes a list of images through a bounded worker
// pool. Per-entry failures are reported per index and never abort the batch;
// results and errors preserve input order.
func (h *Handlers) ProcessImagesBatch(ctx context.Context, req Request) (Response, error) {
	var body struct {
		Images json.RawMessage `json:"images"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("request body must be valid JSON"), nil
	}

	var images []batchImage
	if len(body.Images) == 0 || json.Unmarshal(body.Images, &images) != nil || len(images) == 0 {
		return badRequest("images must be a non-empty array"), nil
	}

	logger.FromContext(ctx).Info("processing image batch",
		zap.Int("total", len(images)),
		zap.Int("workers", h.batchWorkers),
	)

	resultSlots := make([]*batchItemResult, len(images))
	errorSlots := make([]*batchItemError, len(images))

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < h.batchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				h.processBatchEntry(ctx, i, images[i], resultSlots, errorSlots)
			}
		}()
	}
	for i := range images {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	// Compact in slot order so output order matches input order.
	results := make([]batchItemResult, 0, len(images))
	var errs []batchItemError
	for i := range images {
		if resultSlots[i] != nil {
			results = append(results, *resultSlots[i])
		}
		if errorSlots[i] != nil {
			errs = append(errs, *errorSlots[i])
		}
	}

	payload := map[string]any{
		"success":   true,
		"processed": len(results),
		"failed":    len(errs),
		"total":     len(images),
		"results":   results,
	}
	if len(errs) > 0 {
		payload["errors"] = errs
	}
	return Response{StatusCode: 200, Body: payload}, nil
}

func (h *Handlers) processBatchEntry(
	ctx context.Context, i int, img batchImage,
	resultSlots []*batchItemResult, errorSlots []*batchItemError,
) {
	imagePath := img.ImagePath
	if imagePath == "" {
		imagePath = img.ImageURI
	}
	if imagePath == "" {
		errorSlots[i] = &batchItemError{Index: i, Error: "Missing imagePath or imageUri"}
		return
	}

	result, id, err := h.processAndStore(ctx, imagePath)
	if err != nil {
		logger.FromContext(ctx).Warn("batch entry failed",
			zap.Int("index", i),
			zap.String("image", imagePath),
			zap.Error(err),
		)
		errorSlots[i] = &batchItemError{Index: i, ImagePath: imagePath, Error: err.Error()}
		return
	}
	resultSlots[i] = &batchItemResult{Index: i, Success: true, MemoryID: id, RouterResult: result}
}

type queryMemoryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

// QueryMemory embeds the query, retrieves the most similar memories, and
// generates a RAG answer over them.
func (h *Handlers) QueryMemory(ctx context.Context, req Request) (Response, error) {
	var body queryMemoryRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("request body must be valid JSON"), nil
	}
	if body.Query == "" {
		return badRequest("query is required and must be a string"), nil
	}
	if body.MaxResults <= 0 {
		body.MaxResults = 5
	}

	embedding, err := h.inference.ProcessQuery(ctx, body.Query)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	memories, err := h.store.SearchSimilar(ctx, embedding, body.MaxResults, h.minSimilarity)
	if err != nil {
		return Response{}, fmt.Errorf("search memories: %w", err)
	}

	answer, err := h.inference.GenerateAnswer(ctx, body.Query, memories)
	if err != nil {
		return Response{}, fmt.Errorf("generate answer: %w", err)
	}

	return Response{StatusCode: 200, Body: map[string]any{
		"answer":           answer,
		"relevantMemories": memories,
	}}, nil
}
