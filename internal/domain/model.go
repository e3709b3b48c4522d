package domain

import "context"

// CompletionOptions tune a single model call. Zero values mean provider defaults.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float32
}

// TokenEvent is one element of a streamed completion. Exactly one terminal
// event is emitted: either Err is set or Done is true with the full Response.
type TokenEvent struct {
	Token    string
	Done     bool
	Response string
	Err      error
}

// LocalModel is the on-device inference capability. Implementations serialize
// on a single underlying model instance; callers must not issue concurrent
// generation requests.
type LocalModel interface {
	// ExtractText runs the vision model over an image and returns the text it contains.
	ExtractText(ctx context.Context, imagePath string) (string, error)
	// Summarize produces a 2-3 sentence summary of the text.
	Summarize(ctx context.Context, text string) (string, error)
	// Classify labels the text with one of the closed classification set.
	Classify(ctx context.Context, text string) (string, error)
	// Embed vectorizes the text at the model's configured dimensionality.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Complete runs a raw system+user completion.
	Complete(ctx context.Context, system, user string, opts CompletionOptions) (string, error)
	// CompleteStream runs a completion and delivers tokens as they arrive.
	// The channel is closed after the terminal event; cancel ctx to abort.
	CompleteStream(ctx context.Context, system, user string, opts CompletionOptions) (<-chan TokenEvent, error)
}

// EmbeddingDims reports the fixed embedding dimensionality of a model.
type EmbeddingDims interface {
	EmbeddingDims() int
}
