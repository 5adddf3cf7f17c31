package enrichment

import (
	"context"

	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/retry"
)

// BuildProviders creates every provider that has credentials configured,
// each wrapped with the outbound rate limit and tracing.
func BuildProviders(ctx context.Context, cfg config.EnrichmentConfig, log *logger.Logger) []Provider {
	timeout := cfg.GetEnrichmentTimeout()
	rps := cfg.GetProviderRatePerSecond()

	var out []Provider
	if key := cfg.GetGooglePlacesAPIKey(); key != "" {
		out = append(out,
			Instrument(NewPlacesProvider(key, WithTimeout(timeout)), rps),
			Instrument(NewCompetitorsProvider(key, WithTimeout(timeout)), rps),
		)
	} else {
		log.Warn("GOOGLE_PLACES_API_KEY not set; places and competitors providers disabled")
	}

	if key := cfg.GetYouTubeAPIKey(); key != "" {
		out = append(out, Instrument(NewMediaProvider(key, WithTimeout(timeout)), rps))
	} else {
		log.Warn("YOUTUBE_API_KEY not set; media provider disabled")
	}

	if key := cfg.GetGeminiAPIKey(); key != "" {
		gen, err := NewGeminiGenerator(ctx, key, cfg.GetGeminiModel())
		if err != nil {
			log.Error("text analysis provider disabled", "error", err)
		} else {
			out = append(out, Instrument(NewTextAnalysisProvider(gen, timeout), rps))
		}
	} else {
		log.Warn("GEMINI_API_KEY not set; text analysis provider disabled")
	}
	return out
}

// OptionsFromConfig maps configuration onto orchestrator options.
func OptionsFromConfig(cfg config.EnrichmentConfig) Options {
	policy := retry.DefaultPolicy()
	if t := cfg.GetEnrichmentTimeout(); t > 0 {
		policy.Timeout = t
	}
	if n := cfg.GetEnrichmentMaxRetries(); n >= 0 {
		policy.MaxRetries = n
	}
	if b := cfg.GetEnrichmentRetryBase(); b > 0 {
		policy.BaseDelay = b
	}
	return Options{
		Policy:    policy,
		Freshness: cfg.GetEnrichmentFreshness(),
		CostCents: cfg.GetEnrichmentCostCents(),
	}
}
