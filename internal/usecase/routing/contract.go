package routing

import "context"

// CloudService is the cloud enhancement provider consumed by the router.
// Implemented by transport/openai.CloudService.
type CloudService interface {
	// ProcessText regenerates summary and classification in the cloud.
	ProcessText(ctx context.Context, text string) (summary, classification string, err error)
	// ConfidenceScore is the fixed confidence assigned to cloud results.
	ConfidenceScore() float64
}
