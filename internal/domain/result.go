package domain

import (
	"math"
	"time"
)

// InferenceMode is the routing decision for a single request: answer with the
// on-device model only, or enhance the answer with a cloud LLM.
type InferenceMode string

const (
	// ModeLocal keeps all inference on-device.
	ModeLocal InferenceMode = "local"
	// ModeCloud regenerates summary and classification via the cloud provider.
	ModeCloud InferenceMode = "cloud"
)

// Classification labels the local model is constrained to.
const (
	ClassEmail    = "email"
	ClassMessage  = "message"
	ClassNote     = "note"
	ClassCalendar = "calendar"
	ClassCode     = "code"
	ClassGeneral  = "general"
)

// RouterResult is the outcome of one screenshot pipeline run. Immutable once
// returned; ConfidenceScore and PrivacyScore are always clamped to [0,1].
type RouterResult struct {
	ExtractedText   string        `json:"extractedText"`
	Summary         string        `json:"summary"`
	Classification  string        `json:"classification"`
	Embedding       []float32     `json:"embedding"`
	ConfidenceScore float64       `json:"confidenceScore"`
	PrivacyScore    float64       `json:"privacyScore"`
	InferenceMode   InferenceMode `json:"inferenceMode"`
}

// MemoryRecord is a persisted pipeline result. IDs are unique and
// monotonically increasing within one store.
type MemoryRecord struct {
	ID              int64         `json:"id"`
	ScreenshotPath  string        `json:"screenshot_path"`
	ExtractedText   string        `json:"extracted_text"`
	Summary         string        `json:"summary"`
	Classification  string        `json:"classification"`
	Embedding       []float32     `json:"embedding"`
	ConfidenceScore float64       `json:"confidence_score"`
	PrivacyScore    float64       `json:"privacy_score"`
	InferenceMode   InferenceMode `json:"inference_mode"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ScoredRecord is a memory record ranked by cosine similarity to a query.
type ScoredRecord struct {
	MemoryRecord
	Similarity float64 `json:"similarity"`
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or a zero-norm vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
