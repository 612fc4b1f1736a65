// Package masking redacts credentials and other secrets from conversation
// content before it reaches storage.
package masking

import (
	"log/slog"
	"regexp"
	"slices"
)

// Config selects which patterns the service applies.
type Config struct {
	Enabled bool

	// Patterns restricts masking to the named built-in patterns. Empty
	// means all built-ins.
	Patterns []string
}

// compiledPattern is a built-in pattern with its regex compiled.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Service applies the configured masking patterns to content. Masking is
// fail-open: content that cannot be processed is stored unmasked rather
// than lost.
type Service struct {
	enabled  bool
	patterns []*compiledPattern
	logger   *slog.Logger
}

// NewService compiles the configured patterns. Invalid patterns are logged
// and skipped.
func NewService(cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		enabled: cfg.Enabled,
		logger:  logger.With("component", "masking"),
	}
	for _, p := range BuiltinPatterns() {
		if len(cfg.Patterns) > 0 && !slices.Contains(cfg.Patterns, p.Name) {
			continue
		}
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			s.logger.Error("Failed to compile masking pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &compiledPattern{
			name:        p.Name,
			regex:       compiled,
			replacement: p.Replacement,
		})
	}
	return s
}

// Enabled reports whether the service masks anything at all.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && len(s.patterns) > 0
}

// MaskContent applies every configured pattern to the content.
func (s *Service) MaskContent(content string) string {
	if !s.Enabled() || content == "" {
		return content
	}
	for _, p := range s.patterns {
		content = p.regex.ReplaceAllString(content, p.replacement)
	}
	return content
}
