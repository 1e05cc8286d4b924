package id

import (
	"math/rand"
	"strings"
	"testing"
)

func TestIlkRoundTripKnownTickers(t *testing.T) {
	for _, ticker := range []string{"", "LQD", "ETH-A", "TSLA", strings.Repeat("X", 32), "a b~c"} {
		ilk, err := EncodeIlk(ticker)
		if err != nil {
			t.Fatalf("EncodeIlk(%q) failed: %v", ticker, err)
		}
		if got := DecodeIlk(ilk); got != ticker {
			t.Fatalf("round trip mismatch: %q -> %q", ticker, got)
		}
	}
}

func TestIlkRoundTripRandomAscii(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		n := rng.Intn(33)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte(1 + rng.Intn(0x7f))
		}
		ticker := string(buf)
		ilk, err := EncodeIlk(ticker)
		if err != nil {
			t.Fatalf("EncodeIlk(%q) failed: %v", ticker, err)
		}
		if got := DecodeIlk(ilk); got != ticker {
			t.Fatalf("round trip mismatch: %q -> %q", ticker, got)
		}
	}
}

func TestIlkEncodingLayout(t *testing.T) {
	ilk, err := EncodeIlk("LQD")
	if err != nil {
		t.Fatalf("EncodeIlk failed: %v", err)
	}
	want := "0x4c51440000000000000000000000000000000000000000000000000000000000"
	if ilk.Hex() != want {
		t.Fatalf("unexpected layout: %s", ilk.Hex())
	}
	parsed, err := ParseIlk(want)
	if err != nil || parsed != ilk {
		t.Fatalf("ParseIlk(hex) mismatch: %v %v", parsed, err)
	}
	lower, err := ParseIlk("lqd")
	if err != nil || lower != ilk {
		t.Fatalf("ParseIlk(lower) mismatch: %v %v", lower, err)
	}
}

func TestIlkRejectsOversizeAndNonASCII(t *testing.T) {
	if _, err := EncodeIlk(strings.Repeat("A", 33)); err == nil {
		t.Fatal("expected oversize error")
	}
	if _, err := EncodeIlk("Ünï"); err == nil {
		t.Fatal("expected non-ascii error")
	}
	if _, err := ParseIlk("  "); err == nil {
		t.Fatal("expected empty ilk error")
	}
}
