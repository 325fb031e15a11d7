package voucher

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseRegistryDefaultEntry(t *testing.T) {
	loc := time.FixedZone("ART", -3*60*60)
	reg, err := ParseRegistry("EXPO2025:0.10:2025-10-24T23:59:59", loc)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	before := time.Date(2025, 10, 20, 12, 0, 0, 0, loc)
	rule, err := reg.Lookup("  expo2025 ", before)
	if err != nil {
		t.Fatalf("expected code accepted, got %v", err)
	}
	if !rule.Percent.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("expected 0.1 percent, got %s", rule.Percent)
	}
	if rule.Code != "EXPO2025" {
		t.Fatalf("expected normalized code, got %q", rule.Code)
	}
}

func TestLookupExpired(t *testing.T) {
	loc := time.FixedZone("ART", -3*60*60)
	reg, err := ParseRegistry("EXPO2025:0.10:2025-10-24T23:59:59", loc)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	after := time.Date(2025, 10, 25, 0, 0, 1, 0, loc)
	rule, err := reg.Lookup("EXPO2025", after)
	if !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if msg := Message(rule, err); msg != "This code expired on October 24, 2025" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestLookupExpiryIsInclusive(t *testing.T) {
	loc := time.UTC
	reg, err := ParseRegistry("LAST:0.05:2025-01-01T00:00:00", loc)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	if _, err := reg.Lookup("last", time.Date(2025, 1, 1, 0, 0, 0, 0, loc)); err != nil {
		t.Fatalf("expected code valid at expiry instant, got %v", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	reg, err := NewRegistry(Rule{Code: "expo2025", Percent: decimal.RequireFromString("0.1")})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Lookup("notreal", time.Now())
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid, got %v", err)
	}
	if msg := Message(Rule{}, err); msg != "Invalid or expired code" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNewRegistryRejectsFullDiscount(t *testing.T) {
	if _, err := NewRegistry(Rule{Code: "FREE", Percent: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("expected error for 100% code")
	}
}

func TestParseRegistryWithoutExpiry(t *testing.T) {
	reg, err := ParseRegistry("WELCOME:0.05, ,SPRING:0.15:2030-03-21T00:00:00", time.UTC)
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	codes := reg.Codes()
	if len(codes) != 2 || codes[0] != "SPRING" || codes[1] != "WELCOME" {
		t.Fatalf("unexpected codes %v", codes)
	}
	if _, err := reg.Lookup("welcome", time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("expected open-ended code valid, got %v", err)
	}
}

func TestParseRegistryMalformed(t *testing.T) {
	if _, err := ParseRegistry("BROKEN", time.UTC); err == nil {
		t.Fatal("expected malformed entry error")
	}
	if _, err := ParseRegistry("X:abc", time.UTC); err == nil {
		t.Fatal("expected percent parse error")
	}
}
