package routing

// ConfidenceScore estimates extraction quality in [0,1] from the extracted
// text length and summary presence. Empty extraction is terminal: no summary
// boost applies.
func ConfidenceScore(extractedText, summary string) float64 {
	if len(extractedText) == 0 {
		return 0.0
	}

	var confidence float64
	switch {
	case len(extractedText) < 20:
		confidence = 0.2
	case len(extractedText) < 50:
		confidence = 0.4
	case len(extractedText) < 200:
		confidence = 0.6
	default:
		confidence = 0.8
	}

	if len(summary) > 20 {
		confidence += 0.2
	}

	return clamp01(confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
