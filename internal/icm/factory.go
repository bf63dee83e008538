package icm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/config"
)

// New builds the intent and time classifiers for the configured mode.
func New(cfg config.ICMConfig, logger *zap.Logger) (IntentClassifier, TimeClassifier, error) {
	switch cfg.Mode {
	case "heuristic":
		h := NewHeuristic()
		return h, h, nil
	case "llm":
		c, err := NewLLMClassifier(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown icm mode: %q", cfg.Mode)
	}
}
