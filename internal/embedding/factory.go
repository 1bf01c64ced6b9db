package embedding

import (
	"context"
	"fmt"

	"github.com/23skdu/bert-ruber/internal/config"
	"github.com/23skdu/bert-ruber/internal/logger"
)

// New builds the provider selected by cfg, connected and ready to encode.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case config.ProviderFlight:
		fp := NewFlightProvider(cfg.Host, cfg.Port, cfg.Dim, cfg.Timeout)
		if err := fp.Connect(ctx); err != nil {
			return nil, err
		}
		logger.Log.Info("embedding provider ready", "provider", cfg.Provider, "addr", fp.Addr(), "dim", cfg.Dim)
		p = fp
	case config.ProviderHTTP:
		p = NewHTTPProvider(cfg.URL, cfg.Dim, cfg.RetryMax, cfg.Timeout)
		logger.Log.Info("embedding provider ready", "provider", cfg.Provider, "url", cfg.URL, "dim", cfg.Dim)
	case config.ProviderMock:
		p = NewMockProvider(cfg.Dim)
		logger.Log.Warn("using mock embedding provider", "dim", cfg.Dim)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.Cache {
		p = NewCachedProvider(p, cfg.CacheTTL)
	}
	return p, nil
}
