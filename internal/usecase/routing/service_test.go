package routing

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
)

type mockModel struct {
	extractText string
	extractErr  error

	summary      string
	summarizeErr error

	classification string
	classifyErr    error

	embedding []float32
	embedErr  error

	completeOut   string
	completeErr   error
	completeCalls int
	lastSystem    string
	lastUser      string
	lastOpts      domain.CompletionOptions
}

func (m *mockModel) ExtractText(context.Context, string) (string, error) {
	return m.extractText, m.extractErr
}

func (m *mockModel) Summarize(context.Context, string) (string, error) {
	return m.summary, m.summarizeErr
}

func (m *mockModel) Classify(context.Context, string) (string, error) {
	return m.classification, m.classifyErr
}

func (m *mockModel) Embed(context.Context, string) ([]float32, error) {
	return m.embedding, m.embedErr
}

func (m *mockModel) Complete(_ context.Context, system, user string, opts domain.CompletionOptions) (string, error) {
	m.completeCalls++
	m.lastSystem = system
	m.lastUser = user
	m.lastOpts = opts
	return m.completeOut, m.completeErr
}

func (m *mockModel) CompleteStream(context.Context, string, string, domain.CompletionOptions) (<-chan domain.TokenEvent, error) {
	events := make(chan domain.TokenEvent, 1)
	events <- domain.TokenEvent{Done: true, Response: m.completeOut}
	close(events)
	return events, nil
}

type mockCloud struct {
	summary        string
	classification string
	err            error
	calls          int
}

func (m *mockCloud) ProcessText(context.Context, string) (string, string, error) {
	m.calls++
	return m.summary, m.classification, m.err
}

func (m *mockCloud) ConfidenceScore() float64 { return 0.9 }

// benignLong yields confidence 1.0 and privacy 0.0.
var benignLong = strings.Repeat("blue sky and green grass ", 10)

func TestProcessScreenshot_ConfidentLocal(t *testing.T) {
	model := &mockModel{
		extractText:    benignLong,
		summary:        "A long note about the weather outside.",
		classification: "General",
		embedding:      []float32{0.1, 0.2},
	}
	cloud := &mockCloud{summary: "cloud summary", classification: "document"}
	s := New(model, cloud, Config{}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("ProcessScreenshot: %v", err)
	}
	if result.InferenceMode != domain.ModeLocal {
		t.Errorf("mode = %q, want local", result.InferenceMode)
	}
	if cloud.calls != 0 {
		t.Errorf("cloud called %d times for a confident local result", cloud.calls)
	}
	if result.Classification != "general" {
		t.Errorf("classification = %q, want lowercased", result.Classification)
	}
	if result.Summary != model.summary {
		t.Errorf("summary = %q", result.Summary)
	}
	if result.ConfidenceScore != 1.0 || result.PrivacyScore != 0.0 {
		t.Errorf("scores = conf %v privacy %v", result.ConfidenceScore, result.PrivacyScore)
	}
}

func TestProcessScreenshot_LowConfidenceEscalates(t *testing.T) {
	model := &mockModel{
		extractText:    "short benign note here", // 22 chars: confidence 0.4, privacy 0.0
		summary:        "sum",
		classification: "general",
		embedding:      []float32{1},
	}
	cloud := &mockCloud{summary: "Cloud enhanced summary.", classification: "document"}
	s := New(model, cloud, Config{}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("ProcessScreenshot: %v", err)
	}
	if result.InferenceMode != domain.ModeCloud {
		t.Errorf("mode = %q, want cloud", result.InferenceMode)
	}
	if cloud.calls != 1 {
		t.Errorf("cloud calls = %d, want 1", cloud.calls)
	}
	if result.Summary != "Cloud enhanced summary." {
		t.Errorf("summary = %q, want cloud summary", result.Summary)
	}
	if result.Classification != "document" {
		t.Errorf("classification = %q, want cloud classification", result.Classification)
	}
	if result.ConfidenceScore != 0.9 {
		t.Errorf("confidence = %v, want cloud confidence 0.9", result.ConfidenceScore)
	}
}

func TestProcessScreenshot_PrivacyVetoOverridesLowConfidence(t *testing.T) {
	// Four keyword hits give privacy 0.6; 36 chars give confidence 0.4.
	model := &mockModel{
		extractText:    "password secret private confidential",
		summary:        "sum",
		classification: "general",
		embedding:      []float32{1},
	}
	cloud := &mockCloud{summary: "cloud summary"}
	s := New(model, cloud, Config{}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("ProcessScreenshot: %v", err)
	}
	if result.InferenceMode != domain.ModeLocal {
		t.Errorf("mode = %q, want local despite low confidence", result.InferenceMode)
	}
	if cloud.calls != 0 {
		t.Errorf("cloud called %d times under privacy veto", cloud.calls)
	}
	if result.Summary != "sum" {
		t.Errorf("summary = %q, want local summary", result.Summary)
	}
}

// TestProcessScreenshot_PrivacyVetoMatrix holds the privacy score at or above
// the 0.5 threshold while the confidence score moves through its bands. The
// veto must win every time: mode stays local and the cloud is never contacted.
// The threshold comparison is inclusive, so the 0.5 rows exercise exact
// equality.
func TestProcessScreenshot_PrivacyVetoMatrix(t *testing.T) {
	longSummary := "A summary long enough to add the confidence boost."

	tests := []struct {
		name           string
		text           string
		classification string
		summary        string
		wantPrivacy    float64
		wantConfidence float64
	}{
		{
			// Email pattern 0.2 + email classification 0.3 lands exactly on
			// the threshold; confidence 0.6 would otherwise escalate.
			name:           "privacy at threshold, low confidence",
			text:           "please reach me at someone@example.com about the garden",
			classification: "email",
			summary:        "sum",
			wantPrivacy:    0.5,
			wantConfidence: 0.6,
		},
		{
			name:           "privacy at threshold, full confidence",
			text:           "please reach me at someone@example.com " + benignLong,
			classification: "email",
			summary:        longSummary,
			wantPrivacy:    0.5,
			wantConfidence: 1.0,
		},
		{
			name:           "high privacy, minimal confidence",
			text:           "password pin cvv",
			classification: "note",
			summary:        "sum",
			wantPrivacy:    0.85,
			wantConfidence: 0.2,
		},
		{
			name:           "high privacy, mid confidence",
			text:           "password secret private confidential",
			classification: "note",
			summary:        "sum",
			wantPrivacy:    0.9,
			wantConfidence: 0.4,
		},
		{
			name:           "high privacy, full confidence",
			text:           "password secret private confidential " + benignLong,
			classification: "note",
			summary:        longSummary,
			wantPrivacy:    0.9,
			wantConfidence: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &mockModel{
				extractText:    tt.text,
				summary:        tt.summary,
				classification: tt.classification,
				embedding:      []float32{1},
				// Unparseable refinement output keeps the rule score intact
				// for the rows inside the ambiguous band.
				completeOut: "not a number",
			}
			cloud := &mockCloud{summary: "cloud summary", classification: "document"}
			s := New(model, cloud, Config{}, zap.NewNop())

			result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
			if err != nil {
				t.Fatalf("ProcessScreenshot: %v", err)
			}
			if math.Abs(result.PrivacyScore-tt.wantPrivacy) > 1e-9 {
				t.Errorf("privacy = %v, want %v", result.PrivacyScore, tt.wantPrivacy)
			}
			if result.ConfidenceScore != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", result.ConfidenceScore, tt.wantConfidence)
			}
			if result.InferenceMode != domain.ModeLocal {
				t.Errorf("mode = %q, want local under the veto", result.InferenceMode)
			}
			if cloud.calls != 0 {
				t.Errorf("cloud called %d times under the veto", cloud.calls)
			}
			if result.Summary != tt.summary {
				t.Errorf("summary = %q, want local summary kept", result.Summary)
			}
		})
	}
}

type dimsModel struct {
	*mockModel
	dims int
}

func (m *dimsModel) EmbeddingDims() int { return m.dims }

func TestProcessScreenshot_EmbeddingDimensionMismatch(t *testing.T) {
	base := &mockModel{
		extractText:    benignLong,
		summary:        "A long note about the weather outside.",
		classification: "general",
		embedding:      []float32{0.1, 0.2, 0.3},
	}
	model := &dimsModel{mockModel: base, dims: 4}
	s := New(model, &mockCloud{}, Config{}, zap.NewNop())

	_, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("err = %v, want dimension mismatch", err)
	}

	model.dims = 3
	if _, err := s.ProcessScreenshot(context.Background(), "/shot.png"); err != nil {
		t.Errorf("matching dimensions rejected: %v", err)
	}
}

func TestProcessQuery_EmbeddingDimensionMismatch(t *testing.T) {
	model := &dimsModel{mockModel: &mockModel{embedding: []float32{1, 2}}, dims: 4}
	s := New(model, &mockCloud{}, Config{}, zap.NewNop())

	if _, err := s.ProcessQuery(context.Background(), "q"); err == nil {
		t.Error("want dimension mismatch error")
	}

	model.dims = 2
	if _, err := s.ProcessQuery(context.Background(), "q"); err != nil {
		t.Errorf("matching dimensions rejected: %v", err)
	}
}

func TestProcessScreenshot_CloudFailureRevertsToLocal(t *testing.T) {
	model := &mockModel{
		extractText:    "short benign note here",
		summary:        "local summary",
		classification: "general",
		embedding:      []float32{1},
	}
	cloud := &mockCloud{err: errors.New("provider unavailable")}
	s := New(model, cloud, Config{}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("cloud failure must not surface: %v", err)
	}
	if result.InferenceMode != domain.ModeLocal {
		t.Errorf("mode = %q, want reverted local", result.InferenceMode)
	}
	if result.Summary != "local summary" {
		t.Errorf("summary = %q, want local summary kept", result.Summary)
	}
	if result.ConfidenceScore != 0.4 {
		t.Errorf("confidence = %v, want local 0.4", result.ConfidenceScore)
	}
	if cloud.calls != 1 {
		t.Errorf("cloud calls = %d, want 1", cloud.calls)
	}
}

func TestProcessScreenshot_EmptyExtractionStillEscalates(t *testing.T) {
	// Empty extraction is confidence 0.0 with privacy 0.1, so the cloud path
	// still runs on the (empty) text.
	model := &mockModel{
		extractText:    "   ",
		summary:        "",
		classification: "general",
		embedding:      []float32{1},
	}
	cloud := &mockCloud{summary: "nothing visible", classification: "other"}
	s := New(model, cloud, Config{}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("ProcessScreenshot: %v", err)
	}
	if result.ExtractedText != "" {
		t.Errorf("extracted text = %q, want trimmed empty", result.ExtractedText)
	}
	if result.InferenceMode != domain.ModeCloud {
		t.Errorf("mode = %q, want cloud", result.InferenceMode)
	}
}

func TestProcessScreenshot_PipelineErrorsPropagate(t *testing.T) {
	tests := []struct {
		name  string
		model *mockModel
		want  string
	}{
		{"extract", &mockModel{extractErr: errors.New("vision down")}, "extract text"},
		{"summarize", &mockModel{extractText: "x", summarizeErr: errors.New("gen down")}, "summarize"},
		{"classify", &mockModel{extractText: "x", classifyErr: errors.New("gen down")}, "classify"},
		{"embed", &mockModel{extractText: "x", embedErr: errors.New("embed down")}, "embed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.model, &mockCloud{}, Config{}, zap.NewNop())
			_, err := s.ProcessScreenshot(context.Background(), "/shot.png")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q wrap", err, tt.want)
			}
		})
	}
}

func TestProcessScreenshot_CustomThresholds(t *testing.T) {
	// With the confidence bar raised to 1.0 even a strong local result escalates.
	model := &mockModel{
		extractText:    benignLong,
		summary:        "short",
		classification: "general",
		embedding:      []float32{1},
	}
	cloud := &mockCloud{summary: "cloud", classification: "document"}
	s := New(model, cloud, Config{ConfidenceThreshold: 0.9, PrivacyThreshold: 0.5}, zap.NewNop())

	result, err := s.ProcessScreenshot(context.Background(), "/shot.png")
	if err != nil {
		t.Fatalf("ProcessScreenshot: %v", err)
	}
	if result.InferenceMode != domain.ModeCloud {
		t.Errorf("mode = %q, want cloud at raised threshold", result.InferenceMode)
	}
}

func TestProcessQuery(t *testing.T) {
	model := &mockModel{embedding: []float32{0.1, 0.9}}
	s := New(model, &mockCloud{}, Config{}, zap.NewNop())

	got, err := s.ProcessQuery(context.Background(), "what did I note")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if len(got) != 2 || got[1] != 0.9 {
		t.Errorf("embedding = %v", got)
	}

	model.embedErr = errors.New("embed down")
	if _, err := s.ProcessQuery(context.Background(), "x"); err == nil {
		t.Error("want error from embedding failure")
	}
}

func TestGenerateAnswer(t *testing.T) {
	model := &mockModel{completeOut: "You wrote about the garden."}
	s := New(model, &mockCloud{}, Config{}, zap.NewNop())

	memories := []domain.ScoredRecord{
		{MemoryRecord: domain.MemoryRecord{Summary: "garden notes", Classification: "note", ExtractedText: "plant tomatoes"}, Similarity: 0.9},
		{MemoryRecord: domain.MemoryRecord{Summary: "shopping list", Classification: "general", ExtractedText: ""}, Similarity: 0.7},
	}

	answer, err := s.GenerateAnswer(context.Background(), "what about the garden", memories)
	if err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}
	if answer != "You wrote about the garden." {
		t.Errorf("answer = %q", answer)
	}
	if model.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want 1", model.completeCalls)
	}

	for _, want := range []string{
		"Memory 1:",
		"Memory 2:",
		"Summary: garden notes",
		"Text: plant tomatoes",
		"Text: N/A",
		"User Question: what about the garden",
	} {
		if !strings.Contains(model.lastUser, want) {
			t.Errorf("prompt missing %q:\n%s", want, model.lastUser)
		}
	}
}

func TestGenerateAnswer_EmptyMemories(t *testing.T) {
	model := &mockModel{completeOut: "I have no memories about that."}
	s := New(model, &mockCloud{}, Config{}, zap.NewNop())

	answer, err := s.GenerateAnswer(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}
	if answer == "" {
		t.Error("empty answer")
	}
	if strings.Contains(model.lastUser, "Memory 1:") {
		t.Errorf("prompt has memory blocks for empty input:\n%s", model.lastUser)
	}
}
