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

// Borrow draws amount (WAD) of stablecoin against the signer's vault.
// The exit is only sent once the frob is confirmed or presumed pending.
func (s *Service) Borrow(ctx context.Context, ilk id.Ilk, amount *big.Int) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "borrow amount must be positive")
	}
	contracts := s.client.Contracts()
	if contracts.StablecoinJoin == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "contracts.stablecoin_join is not configured")
	}
	r, unlock, err := s.begin(ctx, execution.IntentBorrow, ilk, amount.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	owner := s.client.Account()

	state, err := s.client.Ilk(ctx, ilk)
	if err != nil {
		return r.fail("preflight", err)
	}
	dart, err := fixedpoint.BorrowDart(amount, state.Rate)
	if err != nil {
		return r.fail("preflight", err)
	}
	urn, err := s.client.Urn(ctx, ilk, owner)
	if err != nil {
		return r.fail("preflight", err)
	}
	if err := fixedpoint.CheckDebtBounds(urn.Art, dart); err != nil {
		return r.fail("preflight", err)
	}
	r.action.Metadata = map[string]any{"dart": dart.String(), "rate": state.Rate.String()}

	if err := r.ensureHope(ctx, owner, contracts.StablecoinJoin); err != nil {
		return r.fail("hope", err)
	}

	r.m.to(StateSubmittingPrimaryTx, "frob", "", nil)
	idx, frobHash, err := r.submit(execution.StepTypeFrob, contracts.Vat, dart.String(), "draw debt", func() (common.Hash, error) {
		return s.client.Frob(ctx, ilk, new(big.Int), dart)
	})
	if err != nil {
		return r.fail("frob", err)
	}
	r.m.to(StateAwaitingPrimaryReceipt, "frob", frobHash.Hex(), nil)
	frobPending := false
	if _, err := r.wait(ctx, idx, frobHash); err != nil {
		if !clierr.Is(err, clierr.CodePending) {
			return r.fail("frob", err)
		}
		// Do not resubmit: the frob may still land. The exit is nonce-ordered after it.
		frobPending = true
	}

	r.m.to(StateSubmittingPrimaryTx, "exit", "", nil)
	idx, exitHash, err := r.submit(execution.StepTypeExit, contracts.StablecoinJoin, amount.String(), "mint stablecoin", func() (common.Hash, error) {
		return s.client.StablecoinExit(ctx, owner, amount)
	})
	if err != nil {
		return r.fail("exit", partialBorrow(amount, frobHash, frobPending, err))
	}
	r.m.to(StateAwaitingPrimaryReceipt, "exit", exitHash.Hex(), nil)
	if _, err := r.wait(ctx, idx, exitHash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "exit", exitHash, true, err)
		}
		return r.fail("exit", partialBorrow(amount, frobHash, frobPending, err))
	}
	if frobPending {
		return r.submitted(ctx, "exit", exitHash, true, clierr.New(clierr.CodePending,
			fmt.Sprintf("stablecoin minted but debt transaction %s confirmation pending", frobHash.Hex())))
	}
	return r.succeed(ctx, "exit", exitHash)
}

// ensureHope authorizes usr to move the owner's internal balance, once.
// A failed hope is ignored when a fresh read shows the permission exists.
func (r *run) ensureHope(ctx context.Context, owner, usr common.Address) error {
	can, err := r.s.client.Can(ctx, owner, usr)
	if err != nil {
		return err
	}
	if can {
		idx := r.action.AddStep(execution.StepTypeAuthorize, r.s.client.Contracts().Vat.Hex(), "", "authorize "+usr.Hex())
		r.markStep(idx, execution.StepStatusSkipped, nil)
		return nil
	}
	r.m.to(StateApproving, "hope", "", nil)
	idx, hash, err := r.submit(execution.StepTypeAuthorize, r.s.client.Contracts().Vat, "", "authorize "+usr.Hex(), func() (common.Hash, error) {
		return r.s.client.Hope(ctx, usr)
	})
	if err == nil {
		r.m.to(StateAwaitingApprovalReceipt, "hope", hash.Hex(), nil)
		_, err = r.wait(ctx, idx, hash)
		if err == nil || clierr.Is(err, clierr.CodePending) {
			return nil
		}
	}
	if clierr.Is(err, clierr.CodeUserRejected) {
		return err
	}
	if ok, readErr := r.s.fresh().Can(ctx, owner, usr); readErr == nil && ok {
		r.log.Info("hope failed but permission already granted", zap.Error(err))
		return nil
	}
	return err
}

func partialBorrow(amount *big.Int, frobHash common.Hash, frobPending bool, cause error) error {
	created := "was created"
	if frobPending {
		created = "may have been created (confirmation pending)"
	}
	return clierr.Wrap(clierr.CodePartialSuccess, fmt.Sprintf(
		"debt of %s %s on the ledger by %s but stablecoin issuance failed; the debt exists without minted tokens and needs manual reconciliation",
		fixedpoint.Format(amount, fixedpoint.WadDecimals), created, frobHash.Hex(),
	), cause)
}
