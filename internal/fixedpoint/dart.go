package fixedpoint

import (
	"math/big"

	clierr "github.com/spoutfi/spout-cli/internal/errors"
)

// BorrowDart converts a nominal stablecoin amount (WAD) into the normalized debt
// delta the ledger expects. At the unit rate the amount passes through untouched;
// otherwise dart = ceil(amount * RAY / rate) so the accrued debt never falls short
// of the amount minted.
func BorrowDart(amount, rate *big.Int) (*big.Int, error) {
	if rate == nil || rate.Sign() == 0 {
		return nil, clierr.New(clierr.CodeInvalidRate, "debt accumulator rate is zero")
	}
	if rate.Sign() < 0 {
		return nil, clierr.New(clierr.CodeInvalidRate, "debt accumulator rate is negative")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "borrow amount must be positive")
	}
	if rate.Cmp(RAY) == 0 {
		return new(big.Int).Set(amount), nil
	}
	return divCeil(new(big.Int).Mul(amount, RAY), rate), nil
}

// RepayDart returns the negative normalized debt delta for repaying amount (WAD).
// The RAD-scale debt amount*RAY is divided by rate and floored; when the result
// would reach the vault's whole art the full art is returned instead, so dust is
// never left behind by rounding.
func RepayDart(amount, rate, art *big.Int) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeInvalidRate, "debt accumulator rate is zero")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "repay amount must be positive")
	}
	var dart *big.Int
	if rate.Cmp(RAY) == 0 {
		dart = new(big.Int).Set(amount)
	} else {
		rad := new(big.Int).Mul(amount, RAY)
		dart = rad.Quo(rad, rate)
	}
	if art != nil && dart.Cmp(art) >= 0 {
		dart = new(big.Int).Set(art)
	}
	return dart.Neg(dart), nil
}
