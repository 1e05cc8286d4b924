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
	"go.uber.org/zap"
)

// Repay returns amount (WAD) of stablecoin and wipes the matching normalized
// debt. Amounts above the outstanding debt are clamped to it.
func (s *Service) Repay(ctx context.Context, ilk id.Ilk, amount *big.Int) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "repay amount must be positive")
	}
	contracts := s.client.Contracts()
	if contracts.StablecoinJoin == (common.Address{}) || contracts.Stablecoin == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "contracts.stablecoin and contracts.stablecoin_join must be configured")
	}
	r, unlock, err := s.begin(ctx, execution.IntentRepay, ilk, amount.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	owner := s.client.Account()

	state, err := s.client.Ilk(ctx, ilk)
	if err != nil {
		return r.fail("preflight", err)
	}
	if state.Rate == nil || state.Rate.Sign() <= 0 {
		return r.fail("preflight", clierr.New(clierr.CodeInvalidRate, "debt accumulator rate is zero"))
	}
	urn, err := s.client.Urn(ctx, ilk, owner)
	if err != nil {
		return r.fail("preflight", err)
	}
	if urn.Art.Sign() == 0 {
		return r.fail("preflight", clierr.New(clierr.CodeUsage, "vault has no debt to repay"))
	}
	wad := new(big.Int).Set(amount)
	if owed := fixedpoint.DebtWad(urn.Art, state.Rate); wad.Cmp(owed) > 0 {
		r.log.Info("clamping repay to outstanding debt", zap.String("requested", amount.String()), zap.String("owed", owed.String()))
		wad = owed
	}
	dart, err := fixedpoint.RepayDart(wad, state.Rate, urn.Art)
	if err != nil {
		return r.fail("preflight", err)
	}
	if err := fixedpoint.CheckDebtBounds(urn.Art, dart); err != nil {
		return r.fail("preflight", err)
	}
	if err := s.checkBalance(ctx, s.client, contracts.Stablecoin, owner, wad, fixedpoint.WadDecimals); err != nil {
		return r.fail("preflight", err)
	}
	r.action.Metadata = map[string]any{"wad": wad.String(), "dart": dart.String(), "rate": state.Rate.String()}

	allowance, err := s.client.TokenAllowance(ctx, contracts.Stablecoin, owner, contracts.StablecoinJoin)
	if err != nil {
		return r.fail("preflight", err)
	}
	if allowance.Cmp(wad) < 0 {
		r.m.to(StateApproving, "approve", "", nil)
		idx, hash, err := r.submit(execution.StepTypeApproval, contracts.Stablecoin, wad.String(), "approve stablecoin for burn", func() (common.Hash, error) {
			return s.client.Approve(ctx, contracts.Stablecoin, contracts.StablecoinJoin, wad)
		})
		if err != nil {
			return r.fail("approve", asApprovalError(err))
		}
		r.m.to(StateAwaitingApprovalReceipt, "approve", hash.Hex(), nil)
		if _, err := r.wait(ctx, idx, hash); err != nil {
			if clierr.Is(err, clierr.CodePending) {
				return r.submitted(ctx, "approve", hash, false, err)
			}
			return r.fail("approve", asApprovalError(err))
		}
	}

	r.m.to(StateSubmittingPrimaryTx, "join", "", nil)
	idx, hash, err := r.submit(execution.StepTypeJoin, contracts.StablecoinJoin, wad.String(), "burn stablecoin into ledger balance", func() (common.Hash, error) {
		return s.client.StablecoinJoin(ctx, owner, wad)
	})
	if err != nil {
		return r.fail("join", err)
	}
	r.m.to(StateAwaitingPrimaryReceipt, "join", hash.Hex(), nil)
	if _, err := r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "join", hash, false, err)
		}
		return r.fail("join", err)
	}

	joinHash := hash
	r.m.to(StateSubmittingPrimaryTx, "frob", "", nil)
	idx, hash, err = r.submit(execution.StepTypeFrob, contracts.Vat, dart.String(), "wipe debt", func() (common.Hash, error) {
		return s.client.Frob(ctx, ilk, new(big.Int), dart)
	})
	if err != nil {
		return r.fail("frob", partialRepay(wad, joinHash, err))
	}
	r.m.to(StateAwaitingPrimaryReceipt, "frob", hash.Hex(), nil)
	if _, err := r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "frob", hash, true, err)
		}
		return r.fail("frob", partialRepay(wad, joinHash, err))
	}
	return r.succeed(ctx, "frob", hash)
}

func partialRepay(wad *big.Int, joinHash common.Hash, cause error) error {
	return clierr.Wrap(clierr.CodePartialSuccess, fmt.Sprintf(
		"%s stablecoin was burned into the ledger balance by %s but no debt was wiped; repay again to apply it",
		fixedpoint.Format(wad, fixedpoint.WadDecimals), joinHash.Hex(),
	), cause)
}
