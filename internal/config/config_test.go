package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SKU_PREFIX", "")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SKUPrefix != "OPS" {
		t.Fatalf("expected default SKU prefix OPS, got %q", cfg.SKUPrefix)
	}
	if cfg.SummaryCacheTTLSeconds != 60 {
		t.Fatalf("expected default cache TTL 60, got %d", cfg.SummaryCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
}

func TestLoadRejectsBadCacheTTL(t *testing.T) {
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "banana")

	cfg := Load()
	if cfg.SummaryCacheTTLSeconds != 60 {
		t.Fatalf("expected fallback cache TTL 60, got %d", cfg.SummaryCacheTTLSeconds)
	}
}
