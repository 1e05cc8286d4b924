package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
)

var (
	// MaxInt256 and MinInt256 bound the signed deltas frob accepts.
	MaxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	MinInt256 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
)

// FitsInt256 reports whether v is representable as a signed 256-bit delta.
func FitsInt256(v *big.Int) bool {
	return v != nil && v.Cmp(MaxInt256) <= 0 && v.Cmp(MinInt256) >= 0
}

// CheckDebtBounds rejects a debt delta whose result would not fit the ledger's
// uint256 art storage, or whose magnitude exceeds the int256 delta range.
func CheckDebtBounds(art, dart *big.Int) error {
	if dart == nil {
		return clierr.New(clierr.CodeUsage, "missing debt delta")
	}
	if !FitsInt256(dart) {
		return clierr.New(clierr.CodeDebtOverflow, fmt.Sprintf("debt delta %s exceeds int256 range", dart))
	}
	current, overflow := uint256.FromBig(nonNil(art))
	if overflow || nonNil(art).Sign() < 0 {
		return clierr.New(clierr.CodeDebtOverflow, "current normalized debt does not fit uint256")
	}
	if dart.Sign() >= 0 {
		delta, _ := uint256.FromBig(dart)
		if _, overflow := new(uint256.Int).AddOverflow(current, delta); overflow {
			return clierr.New(clierr.CodeDebtOverflow, fmt.Sprintf("art %s + dart %s overflows uint256", art, dart))
		}
		return nil
	}
	delta, _ := uint256.FromBig(new(big.Int).Neg(dart))
	if current.Lt(delta) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("debt decrease %s exceeds outstanding art %s", delta.Dec(), current.Dec()))
	}
	return nil
}

// CheckCollateralBounds applies the same storage rules to ink and dink.
func CheckCollateralBounds(ink, dink *big.Int) error {
	if dink == nil || !FitsInt256(dink) {
		return clierr.New(clierr.CodeUsage, "collateral delta exceeds int256 range")
	}
	next := new(big.Int).Add(nonNil(ink), dink)
	if next.Sign() < 0 {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("collateral decrease exceeds locked ink %s", nonNil(ink)))
	}
	if _, overflow := uint256.FromBig(next); overflow {
		return clierr.New(clierr.CodeUsage, "collateral would overflow uint256")
	}
	return nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
