package classify

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/config"
)

// New builds the classifier selected by cfg. An "anthropic" classifier
// without an API key falls back to SubjectClassifier with a warning.
func New(cfg config.ClassifierConfig, logger *zap.Logger) (Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Kind {
	case "", "subject":
		return SubjectClassifier{}, nil
	case "anthropic":
		if cfg.APIKey == "" {
			logger.Warn("anthropic classifier selected without an api key, labelling by subject")
			return SubjectClassifier{}, nil
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", cfg.Kind)
	}
}
