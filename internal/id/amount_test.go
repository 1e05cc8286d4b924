package id

import "testing"

func TestNormalizeAmountDecimal(t *testing.T) {
	base, dec, err := NormalizeAmount("1.25", "", 6)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base.String() != "1250000" || dec != "1.25" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountBaseUnits(t *testing.T) {
	base, dec, err := NormalizeAmount("", "40000000000000000000", 18)
	if err != nil {
		t.Fatalf("NormalizeAmount failed: %v", err)
	}
	if base.String() != "40000000000000000000" || dec != "40" {
		t.Fatalf("unexpected result: base=%s dec=%s", base, dec)
	}
}

func TestNormalizeAmountValidation(t *testing.T) {
	if _, _, err := NormalizeAmount("1", "10", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, _, err := NormalizeAmount("1.1234567", "", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if _, _, err := NormalizeAmount("0", "", 6); err == nil {
		t.Fatal("expected zero amount error")
	}
	if _, _, err := NormalizeAmount("", "", 6); err == nil {
		t.Fatal("expected missing amount error")
	}
}
