package pricing

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"mercadinho/backend/internal/cache"
	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
)

// Engine computes suggested sale prices from a purchase price, a tax rate
// and a profit margin. Identical requests within the cache TTL are answered
// from the quote cache.
type Engine struct {
	cache    cache.QuoteCache
	cacheTTL time.Duration
}

func NewEngine(cacheStore cache.QuoteCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopQuoteCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Suggest applies tax on top of the purchase price, then margin on top of
// the taxed base, rounding to whole cents at the end.
func (e *Engine) Suggest(ctx context.Context, req domain.PriceSuggestionRequest) (*domain.PriceSuggestion, error) {
	if req.PurchasePriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return nil, store.ErrInvalidInput
	}
	if req.ProfitMarginPercent < 0 {
		return nil, store.ErrInvalidInput
	}

	cacheKey := buildCacheKey(req)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	base := float64(req.PurchasePriceCents) * (1 + req.TaxRatePercent/100)
	suggested := int64(math.Round(base * (1 + req.ProfitMarginPercent/100)))

	quote := &domain.PriceSuggestion{
		PurchasePriceCents:  req.PurchasePriceCents,
		TaxRatePercent:      req.TaxRatePercent,
		ProfitMarginPercent: req.ProfitMarginPercent,
		SuggestedPriceCents: suggested,
	}

	_ = e.cache.Set(ctx, cacheKey, quote, e.cacheTTL)
	return quote, nil
}

func buildCacheKey(req domain.PriceSuggestionRequest) string {
	raw := fmt.Sprintf("%d|%.4f|%.4f", req.PurchasePriceCents, req.TaxRatePercent, req.ProfitMarginPercent)
	hash := sha1.Sum([]byte(raw))
	return "pos:pricequote:" + hex.EncodeToString(hash[:])
}
