package vault

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spoutfi/spout-cli/internal/fixedpoint"
	"github.com/spoutfi/spout-cli/internal/id"
)

// Position is a vault's ledger state with the derived risk metrics.
// Decimal strings are exact; only Health carries a float view.
type Position struct {
	VaultID                uint64            `json:"vault_id,omitempty"`
	Ilk                    string            `json:"ilk"`
	Owner                  string            `json:"owner"`
	Collateral             string            `json:"collateral"`
	NormalizedDebt         string            `json:"normalized_debt"`
	Debt                   string            `json:"debt"`
	Rate                   string            `json:"rate,omitempty"`
	Spot                   string            `json:"spot,omitempty"`
	LiquidationRatio       string            `json:"liquidation_ratio,omitempty"`
	CollateralizationRatio string            `json:"collateralization_ratio,omitempty"`
	Health                 fixedpoint.Health `json:"health"`
	PriceUSD               string            `json:"price_usd,omitempty"`
	PriceSource            string            `json:"price_source,omitempty"`
	CollateralValueUSD     string            `json:"collateral_value_usd,omitempty"`
	MaxBorrowable          string            `json:"max_borrowable,omitempty"`
	Warnings               []string          `json:"warnings,omitempty"`
}

const displayPlaces = 6

// Position reads one vault. priceUSD overrides the ledger-implied price when
// non-nil. Missing risk parameters leave health unknown rather than failing.
func (s *Service) Position(ctx context.Context, ilk id.Ilk, owner common.Address, priceUSD *big.Rat) (Position, error) {
	urn, err := s.client.Urn(ctx, ilk, owner)
	if err != nil {
		return Position{}, err
	}
	pos := Position{
		Ilk:            ilk.String(),
		Owner:          owner.Hex(),
		Collateral:     fixedpoint.Format(urn.Ink, fixedpoint.WadDecimals),
		NormalizedDebt: fixedpoint.Format(urn.Art, fixedpoint.WadDecimals),
		Health:         fixedpoint.UnknownHealth(),
	}

	var rate, spot, mat *big.Int
	if state, err := s.client.Ilk(ctx, ilk); err != nil {
		pos.Warnings = append(pos.Warnings, "ilk parameters unavailable: "+err.Error())
	} else {
		rate, spot = state.Rate, state.Spot
		pos.Rate = fixedpoint.Format(rate, fixedpoint.RayDecimals)
		pos.Spot = fixedpoint.Format(spot, fixedpoint.RayDecimals)
		pos.Debt = fixedpoint.Format(fixedpoint.DebtWad(urn.Art, rate), fixedpoint.WadDecimals)
	}
	if v, err := s.client.Mat(ctx, ilk); err != nil {
		pos.Warnings = append(pos.Warnings, "liquidation ratio unavailable: "+err.Error())
	} else {
		mat = v
		pos.LiquidationRatio = fixedpoint.Format(mat, fixedpoint.RayDecimals)
	}

	pos.Health = fixedpoint.ComputeHealthRatio(urn.Ink, urn.Art, spot, rate, mat)
	if cr, ok := fixedpoint.CollateralizationRatio(urn.Ink, urn.Art, spot, rate); ok {
		pos.CollateralizationRatio = fixedpoint.FormatRat(cr, displayPlaces)
	}

	price, source := priceUSD, "feed"
	if price == nil && spot != nil && mat != nil {
		// spot is price discounted by the liquidation ratio.
		price = new(big.Rat).Mul(fixedpoint.ToDecimal(spot, fixedpoint.RayDecimals), fixedpoint.ToDecimal(mat, fixedpoint.RayDecimals))
		source = "ledger"
	}
	if price == nil {
		return pos, nil
	}
	pos.PriceUSD = fixedpoint.FormatRat(price, displayPlaces)
	pos.PriceSource = source
	collateralUSD := new(big.Rat).Mul(fixedpoint.ToDecimal(urn.Ink, fixedpoint.WadDecimals), price)
	pos.CollateralValueUSD = fixedpoint.FormatRat(collateralUSD, displayPlaces)
	if rate != nil && mat != nil {
		debtUSD := fixedpoint.ToDecimal(fixedpoint.DebtWad(urn.Art, rate), fixedpoint.WadDecimals)
		if maxBorrow, ok := fixedpoint.ComputeMaxBorrowable(collateralUSD, fixedpoint.ToDecimal(mat, fixedpoint.RayDecimals), debtUSD); ok {
			pos.MaxBorrowable = fixedpoint.FormatRat(maxBorrow, displayPlaces)
		}
	}
	return pos, nil
}

// List returns every vault of owner. Without a vault manager it falls back
// to the configured ilks and reports the non-empty ones.
func (s *Service) List(ctx context.Context, owner common.Address) ([]Position, error) {
	out := make([]Position, 0)
	if s.client.Contracts().VaultManager != (common.Address{}) {
		ids, err := s.client.VaultIDs(ctx, owner)
		if err != nil {
			return nil, err
		}
		for _, vaultID := range ids {
			info, err := s.client.VaultInfo(ctx, vaultID)
			if err != nil {
				return nil, err
			}
			pos, err := s.Position(ctx, info.Ilk, owner, nil)
			if err != nil {
				return nil, err
			}
			pos.VaultID = vaultID
			out = append(out, pos)
		}
		return out, nil
	}
	ilks := s.client.Contracts().Ilks()
	sort.Slice(ilks, func(i, j int) bool { return ilks[i].String() < ilks[j].String() })
	for _, ilk := range ilks {
		urn, err := s.client.Urn(ctx, ilk, owner)
		if err != nil {
			return nil, err
		}
		if urn.Ink.Sign() == 0 && urn.Art.Sign() == 0 {
			continue
		}
		pos, err := s.Position(ctx, ilk, owner, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}
