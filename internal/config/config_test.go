package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadMarginAndExpiryDefaults(t *testing.T) {
	t.Setenv("MARGIN_PERCENT", "")
	t.Setenv("MEMBER_EXPIRY_DAYS", "")
	t.Setenv("MEMBER_NEAR_EXPIRY_DAYS", "")

	cfg := Load()
	if cfg.MarginPercent != 20 {
		t.Fatalf("expected default margin 20, got %v", cfg.MarginPercent)
	}
	if cfg.MarginRate() != 0.20 {
		t.Fatalf("expected margin rate 0.20, got %v", cfg.MarginRate())
	}
	if cfg.MemberExpiryDays != 30 || cfg.MemberNearExpiryDays != 23 {
		t.Fatalf("expected expiry defaults 30/23, got %d/%d", cfg.MemberExpiryDays, cfg.MemberNearExpiryDays)
	}
}

func TestLoadRejectsInvertedExpiryWindows(t *testing.T) {
	t.Setenv("MEMBER_EXPIRY_DAYS", "10")
	t.Setenv("MEMBER_NEAR_EXPIRY_DAYS", "15")

	cfg := Load()
	if cfg.MemberExpiryDays != 10 {
		t.Fatalf("expected expiry days 10, got %d", cfg.MemberExpiryDays)
	}
	if cfg.MemberNearExpiryDays >= cfg.MemberExpiryDays {
		t.Fatalf("near-expiry window %d must be shorter than expiry window %d", cfg.MemberNearExpiryDays, cfg.MemberExpiryDays)
	}
}
