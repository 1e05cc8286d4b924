package id

import (
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/fixedpoint"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts either a decimal amount ("40.5") or a raw base-unit
// integer and returns the base-unit value at decimals plus its decimal form.
func NormalizeAmount(decimal, baseUnits string, decimals int) (*big.Int, string, error) {
	decimal = strings.TrimSpace(decimal)
	baseUnits = strings.TrimSpace(baseUnits)
	if baseUnits != "" && decimal != "" {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-raw, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount-raw must be an integer string")
		}
		if n.Sign() <= 0 {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount-raw must be positive")
		}
		return n, fixedpoint.Format(n, decimals), nil
	}

	if !decimalPattern.MatchString(decimal) {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount must be in decimal form like 1.23")
	}
	n, err := fixedpoint.FromDecimal(decimal, decimals)
	if err != nil {
		return nil, "", clierr.Wrap(clierr.CodeUsage, "parse --amount", err)
	}
	if n.Sign() <= 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount must be positive")
	}
	return n, fixedpoint.Format(n, decimals), nil
}
