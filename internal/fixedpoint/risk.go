package fixedpoint

import (
	"encoding/json"
	"math"
	"math/big"
)

type HealthState string

const (
	HealthUnknown  HealthState = "unknown"
	HealthInfinite HealthState = "infinite"
	HealthFinite   HealthState = "finite"
)

// Health is a health ratio that keeps "not computable" and "cannot be
// liquidated" distinct from any finite value.
type Health struct {
	State HealthState
	Ratio *big.Rat
}

func UnknownHealth() Health  { return Health{State: HealthUnknown} }
func InfiniteHealth() Health { return Health{State: HealthInfinite} }

func (h Health) Known() bool { return h.State != HealthUnknown }

// Liquidatable is true only for a finite ratio below 1.
func (h Health) Liquidatable() bool {
	return h.State == HealthFinite && h.Ratio != nil && h.Ratio.Cmp(big.NewRat(1, 1)) < 0
}

// Float64 returns the display value; +Inf for infinite, false for unknown.
func (h Health) Float64() (float64, bool) {
	switch h.State {
	case HealthInfinite:
		return math.Inf(1), true
	case HealthFinite:
		f, _ := h.Ratio.Float64()
		return f, true
	default:
		return 0, false
	}
}

func (h Health) String() string {
	switch h.State {
	case HealthInfinite:
		return "inf"
	case HealthFinite:
		return FormatRat(h.Ratio, 4)
	default:
		return "unknown"
	}
}

func (h Health) MarshalJSON() ([]byte, error) {
	out := map[string]any{"state": h.State}
	if h.State == HealthFinite {
		out["ratio"] = FormatRat(h.Ratio, 6)
	}
	return json.Marshal(out)
}

// CollateralizationRatio is (ink * spot) / (art * rate) with ink and art in WAD and
// spot and rate in RAY. ok is false when debt is zero or an input is missing.
func CollateralizationRatio(ink, art, spot, rate *big.Int) (*big.Rat, bool) {
	if ink == nil || art == nil || spot == nil || rate == nil {
		return nil, false
	}
	if art.Sign() <= 0 || rate.Sign() <= 0 {
		return nil, false
	}
	collateral := new(big.Int).Mul(ink, spot)
	debt := new(big.Int).Mul(art, rate)
	return new(big.Rat).SetFrac(collateral, debt), true
}

// ComputeHealthRatio is the collateralization ratio divided by liqRatio (RAY).
// A vault without debt is infinitely healthy. Missing parameters, a zero rate or a
// zero liquidation ratio yield HealthUnknown.
func ComputeHealthRatio(ink, art, spot, rate, liqRatio *big.Int) Health {
	if ink == nil || art == nil || ink.Sign() < 0 || art.Sign() < 0 {
		return UnknownHealth()
	}
	if art.Sign() == 0 {
		return InfiniteHealth()
	}
	if spot == nil || rate == nil || liqRatio == nil || rate.Sign() == 0 || liqRatio.Sign() == 0 {
		return UnknownHealth()
	}
	cr, ok := CollateralizationRatio(ink, art, spot, rate)
	if !ok {
		return UnknownHealth()
	}
	ratio := new(big.Rat).Quo(cr, ToDecimal(liqRatio, RayDecimals))
	return Health{State: HealthFinite, Ratio: ratio}
}

// ComputeMaxBorrowable returns max(0, collateralValue/defaultCollRatio - existingDebt).
// ok is false when the ratio is missing or not positive.
func ComputeMaxBorrowable(collateralValueUSD, defaultCollRatio, existingDebtValueUSD *big.Rat) (*big.Rat, bool) {
	if collateralValueUSD == nil || defaultCollRatio == nil || defaultCollRatio.Sign() <= 0 {
		return nil, false
	}
	capacity := new(big.Rat).Quo(collateralValueUSD, defaultCollRatio)
	if existingDebtValueUSD != nil {
		capacity.Sub(capacity, existingDebtValueUSD)
	}
	if capacity.Sign() < 0 {
		return new(big.Rat), true
	}
	return capacity, true
}

// DebtWad is the outstanding stablecoin debt art * rate expressed in WAD, rounded up
// so that a full repayment always clears the position.
func DebtWad(art, rate *big.Int) *big.Int {
	if art == nil || rate == nil || art.Sign() == 0 || rate.Sign() == 0 {
		return new(big.Int)
	}
	return divCeil(new(big.Int).Mul(art, rate), RAY)
}

func divCeil(num, den *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(num, den, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
