// Package fixedpoint converts the ledger's integer fixed-point formats to exact
// decimals and back. All arithmetic stays in *big.Int / *big.Rat; conversion to
// float64 is left to the display layer.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	WadDecimals = 18
	RayDecimals = 27
	RadDecimals = 45
)

var (
	WAD = pow10(WadDecimals)
	RAY = pow10(RayDecimals)
	RAD = pow10(RadDecimals)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Pow10 returns a fresh 10^n.
func Pow10(n int) *big.Int {
	if n < 0 {
		return big.NewInt(1)
	}
	return pow10(n)
}

// ToDecimal divides raw by 10^scale without losing precision. A nil raw is zero.
func ToDecimal(raw *big.Int, scale int) *big.Rat {
	if raw == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(raw, Pow10(scale))
}

// FromDecimal parses a decimal string such as "40.5" into an integer scaled by 10^scale.
// Inputs carrying more fractional digits than scale are rejected instead of rounded.
func FromDecimal(value string, scale int) (*big.Int, error) {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return nil, fmt.Errorf("empty decimal value")
	}
	if strings.HasPrefix(clean, "-") || strings.HasPrefix(clean, "+") {
		return nil, fmt.Errorf("decimal value must be unsigned: %q", value)
	}
	parts := strings.SplitN(clean, ".", 2)
	intPart, fracPart := parts[0], ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("invalid decimal value %q", value)
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid decimal value %q", value)
		}
	}
	if len(fracPart) > scale {
		return nil, fmt.Errorf("decimal precision exceeds %d places: %q", scale, value)
	}
	combined := intPart + fracPart + strings.Repeat("0", scale-len(fracPart))
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal value %q", value)
	}
	return out, nil
}

// Format renders an integer scaled by 10^scale with trailing zeros trimmed.
func Format(raw *big.Int, scale int) string {
	if raw == nil {
		return "0"
	}
	neg := raw.Sign() < 0
	s := new(big.Int).Abs(raw).String()
	if scale > 0 {
		if len(s) <= scale {
			s = strings.Repeat("0", scale-len(s)+1) + s
		}
		intPart := s[:len(s)-scale]
		fracPart := strings.TrimRight(s[len(s)-scale:], "0")
		s = intPart
		if fracPart != "" {
			s += "." + fracPart
		}
	}
	if neg && s != "0" {
		return "-" + s
	}
	return s
}

// FormatRat renders r with at most places fractional digits, rounding half away
// from zero, and trims trailing zeros.
func FormatRat(r *big.Rat, places int) string {
	if r == nil {
		return "0"
	}
	s := r.FloatString(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

// Rescale converts an amount between decimal scales. Downscaling truncates.
func Rescale(amount *big.Int, from, to int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(amount)
	case from < to:
		return new(big.Int).Mul(amount, Pow10(to-from))
	default:
		return new(big.Int).Quo(amount, Pow10(from-to))
	}
}

// NativeToWad lifts a token amount in its native decimals to WAD.
func NativeToWad(amount *big.Int, decimals int) *big.Int {
	return Rescale(amount, decimals, WadDecimals)
}

// WadToNative lowers a WAD amount to the token's native decimals, truncating dust.
func WadToNative(wad *big.Int, decimals int) *big.Int {
	return Rescale(wad, WadDecimals, decimals)
}
