package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// Factory maps a provider tag to a call-contract implementation at
// construction time. No runtime hierarchy: one switch, credentials read
// once per process.
type Factory struct {
	log     *logger.Logger
	timeout time.Duration
}

func NewFactory(log *logger.Logger) *Factory {
	return &Factory{
		log:     log.With("service", "LLMFactory"),
		timeout: envutil.Duration("LLM_TIMEOUT", 120*time.Second),
	}
}

func (f *Factory) Client(provider Provider) (Client, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(string(provider)))) {
	case ProviderOpenAI:
		return newOpenAIClient(
			f.log,
			envutil.Str("OPENAI_BASE_URL", ""),
			envutil.Str("OPENAI_API_KEY", ""),
			f.timeout,
		)
	case ProviderGemini:
		return newGeminiClient(
			f.log,
			envutil.Str("GEMINI_BASE_URL", ""),
			envutil.Str("GOOGLE_API_KEY", ""),
			f.timeout,
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}

// DefaultModel returns the configured default model for a provider.
func DefaultModel(provider Provider) string {
	switch provider {
	case ProviderGemini:
		return envutil.Str("GEMINI_MODEL", "gemini-2.0-flash")
	default:
		return envutil.Str("OPENAI_MODEL", "gpt-4o-mini")
	}
}

// Limits returns the configured temperature and max-token ceiling for a
// provider.
func Limits(provider Provider) (temperature float64, maxTokens int) {
	switch provider {
	case ProviderGemini:
		return envutil.Float("GEMINI_TEMPERATURE", 0.7), envutil.Int("GEMINI_MAX_TOKENS", 8192)
	default:
		return envutil.Float("OPENAI_TEMPERATURE", 0.7), envutil.Int("OPENAI_MAX_TOKENS", 4096)
	}
}
