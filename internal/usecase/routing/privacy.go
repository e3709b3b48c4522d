package routing

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lyca499/cactus-app-1/internal/domain"
	"github.com/lyca499/cactus-app-1/internal/metrics"
)

// privacyKeywords are sensitivity indicators matched as case-insensitive
// substrings. Each hit adds 0.15 to the rule-based score.
var privacyKeywords = []string{
	// Credentials and identifiers
	"password",
	"passcode",
	"pin",
	"ssn",
	"social security",
	"credit card",
	"card number",
	"cvv",
	"cvc",
	"bank account",
	"routing number",
	"account number",
	// Personal information
	"private",
	"confidential",
	"secret",
	"personal",
	"medical",
	"health",
	"diagnosis",
	"prescription",
	"financial",
	"salary",
	"income",
	"tax",
	// Personal communications
	"private message",
	"dm",
	"direct message",
	"personal email",
	"private email",
}

// privacyPatterns flag identifier-shaped content. Each match adds 0.2.
var privacyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                            // SSN-shaped
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),       // card-shaped
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), // email address
	regexp.MustCompile(`\b\d{10,}\b`),                                      // long digit runs
}

// highPrivacyClassifications add a 0.3 bonus: personal communications.
var highPrivacyClassifications = map[string]struct{}{
	domain.ClassMessage: {},
	domain.ClassEmail:   {},
	domain.ClassNote:    {},
}

const privacyRefineSystemPrompt = "You are a privacy assessment assistant. " +
	"Analyze the text and respond with only a number between 0.0 and 1.0, where 1.0 means " +
	"very private/sensitive data that should never be sent to cloud services, and 0.0 means " +
	"public/non-sensitive data. Consider: personal identifiers, financial info, medical info, " +
	"private communications."

// RulePrivacyScore computes the rule-based sensitivity score in [0,1].
func RulePrivacyScore(extractedText, classification string) float64 {
	textLower := strings.ToLower(extractedText)

	var score float64
	for _, kw := range privacyKeywords {
		if strings.Contains(textLower, kw) {
			score += 0.15
		}
	}

	if _, ok := highPrivacyClassifications[classification]; ok {
		score += 0.3
	}

	for _, p := range privacyPatterns {
		if p.MatchString(extractedText) {
			score += 0.2
		}
	}

	// Very short or very long content is flagged as potentially sensitive.
	if len(extractedText) < 20 || len(extractedText) > 1000 {
		score += 0.1
	}

	return clamp01(score)
}

// PrivacyScore computes the sensitivity score, refining rule-based results in
// the ambiguous band (0.3, 0.6) with one model call. Refinement failure never
// propagates: the rule-based score is kept, logged, and counted.
func (s *Service) PrivacyScore(ctx context.Context, extractedText, classification string) float64 {
	score := RulePrivacyScore(extractedText, classification)

	if score <= 0.3 || score >= 0.6 {
		return score
	}

	user := "Assess the privacy sensitivity of this text (respond with only a number 0.0-1.0):\n\n" +
		truncate(extractedText, 500)
	raw, err := s.model.Complete(ctx, privacyRefineSystemPrompt, user, domain.CompletionOptions{
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		s.log.Warn("privacy refinement failed, keeping rule-based score", zap.Error(err))
		metrics.PrivacyRefineTotal.WithLabelValues("error").Inc()
		return score
	}

	llmScore, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(llmScore) || llmScore < 0 || llmScore > 1 {
		s.log.Warn("privacy refinement output unparseable, keeping rule-based score",
			zap.String("output", raw),
		)
		metrics.PrivacyRefineTotal.WithLabelValues("unparseable").Inc()
		return score
	}

	metrics.PrivacyRefineTotal.WithLabelValues("blended").Inc()
	return clamp01(score*0.4 + llmScore*0.6)
}

// truncate caps s at n bytes before it goes into a prompt.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
