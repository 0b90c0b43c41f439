package cache

import (
	"context"
	"time"

	"mercadinho/backend/internal/domain"
)

type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.PriceSuggestion, bool, error)
	Set(ctx context.Context, key string, value *domain.PriceSuggestion, ttl time.Duration) error
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.PriceSuggestion, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.PriceSuggestion, _ time.Duration) error {
	return nil
}
