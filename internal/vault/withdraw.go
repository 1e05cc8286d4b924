package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
	"github.com/spoutfi/spout-cli/internal/fixedpoint"
	"github.com/spoutfi/spout-cli/internal/id"
)

// Withdraw frees amount (native decimals) of collateral from the vault and
// exits it to the signer's wallet. Withdrawals that leave an indebted vault
// below the liquidation threshold are refused before submission.
func (s *Service) Withdraw(ctx context.Context, ilk id.Ilk, amount *big.Int) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "withdraw amount must be positive")
	}
	col, err := s.client.Contracts().CollateralFor(ilk)
	if err != nil {
		return nil, err
	}
	r, unlock, err := s.begin(ctx, execution.IntentWithdraw, ilk, amount.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	owner := s.client.Account()

	decimals, err := s.client.TokenDecimals(ctx, col.Gem)
	if err != nil {
		return r.fail("preflight", err)
	}
	wad := fixedpoint.NativeToWad(amount, int(decimals))
	urn, err := s.client.Urn(ctx, ilk, owner)
	if err != nil {
		return r.fail("preflight", err)
	}
	if urn.Ink.Cmp(wad) < 0 {
		return r.fail("preflight", clierr.New(clierr.CodeUsage, fmt.Sprintf(
			"cannot withdraw %s: vault holds %s",
			fixedpoint.Format(wad, fixedpoint.WadDecimals), fixedpoint.Format(urn.Ink, fixedpoint.WadDecimals),
		)))
	}
	if urn.Art.Sign() > 0 {
		if err := s.checkWithdrawSafety(ctx, ilk, urn.Ink, urn.Art, wad); err != nil {
			return r.fail("preflight", err)
		}
	}
	dink := new(big.Int).Neg(wad)

	r.m.to(StateSubmittingPrimaryTx, "frob", "", nil)
	idx, hash, err := r.submit(execution.StepTypeFrob, s.client.Contracts().Vat, dink.String(), "free collateral", func() (common.Hash, error) {
		return s.client.Frob(ctx, ilk, dink, new(big.Int))
	})
	if err != nil {
		return r.fail("frob", err)
	}
	r.m.to(StateAwaitingPrimaryReceipt, "frob", hash.Hex(), nil)
	if _, err := r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "frob", hash, false, err)
		}
		return r.fail("frob", err)
	}
	frobHash := hash

	r.m.to(StateSubmittingPrimaryTx, "exit", "", nil)
	idx, hash, err = r.submit(execution.StepTypeExit, col.Join, amount.String(), "exit collateral", func() (common.Hash, error) {
		return s.client.GemExit(ctx, col.Join, owner, amount)
	})
	if err != nil {
		return r.fail("exit", partialWithdraw(frobHash, err))
	}
	r.m.to(StateAwaitingPrimaryReceipt, "exit", hash.Hex(), nil)
	if _, err := r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "exit", hash, true, err)
		}
		return r.fail("exit", partialWithdraw(frobHash, err))
	}
	return r.succeed(ctx, "exit", hash)
}

func (s *Service) checkWithdrawSafety(ctx context.Context, ilk id.Ilk, ink, art, wad *big.Int) error {
	state, err := s.client.Ilk(ctx, ilk)
	if err != nil {
		return err
	}
	mat, err := s.client.Mat(ctx, ilk)
	if err != nil {
		return err
	}
	after := new(big.Int).Sub(ink, wad)
	// Spot already discounts the liquidation ratio, so the ledger's own
	// safety check is ink*spot >= art*rate.
	health := fixedpoint.ComputeHealthRatio(after, art, state.Spot, state.Rate, fixedpoint.RAY)
	if !health.Known() {
		return clierr.New(clierr.CodeUnavailable, "cannot verify vault safety: risk parameters unavailable")
	}
	if health.Liquidatable() {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf(
			"withdrawal would leave the vault unsafe (health %s at liquidation ratio %s)",
			health, fixedpoint.Format(mat, fixedpoint.RayDecimals),
		))
	}
	return nil
}

func partialWithdraw(frobHash common.Hash, cause error) error {
	return clierr.Wrap(clierr.CodePartialSuccess, fmt.Sprintf(
		"collateral was freed from the vault by %s but the token exit failed; it remains in the ledger's internal balance",
		frobHash.Hex(),
	), cause)
}
