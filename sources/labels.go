package sources

// LabelSet returns the candidate labels a generative backend should choose
// from when standing in for the given source role.
func LabelSet(source string) []string {
	switch source {
	case "primary":
		return []string{
			"suicide ideation", "emotional distress", "self-harm", "hopelessness",
			"casual conversation", "positive sharing", "seeking support",
		}
	case "sentiment":
		return []string{"negative", "neutral", "positive"}
	case "irony":
		return []string{"irony", "non_irony"}
	case "emotion":
		return []string{
			"admiration", "amusement", "anger", "annoyance", "approval", "caring",
			"confusion", "curiosity", "desire", "disappointment", "disapproval",
			"disgust", "embarrassment", "excitement", "fear", "gratitude", "grief",
			"joy", "love", "nervousness", "optimism", "pride", "realization",
			"relief", "remorse", "sadness", "surprise", "neutral",
		}
	}
	return nil
}
