package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_DB",
		"PRICE_QUOTE_TTL_SECONDS", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %s", cfg.Address())
	}
	if cfg.PriceQuoteTTLSeconds != 60 {
		t.Fatalf("expected default quote TTL 60, got %d", cfg.PriceQuoteTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRICE_QUOTE_TTL_SECONDS", "300")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("AUTH_SECRET", "  secret-with-surrounding-space  ")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.PriceQuoteTTLSeconds != 300 {
		t.Fatalf("expected quote TTL 300, got %d", cfg.PriceQuoteTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Fatalf("expected token TTL 60, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.AuthSecret != "secret-with-surrounding-space" {
		t.Fatalf("expected trimmed auth secret, got %q", cfg.AuthSecret)
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("PRICE_QUOTE_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()

	if cfg.PriceQuoteTTLSeconds != 60 {
		t.Fatalf("expected fallback quote TTL 60, got %d", cfg.PriceQuoteTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
