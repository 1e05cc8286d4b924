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
	"github.com/spoutfi/spout-cli/internal/ledger"
)

// Deposit moves amount of the ilk's collateral token (native decimals) into
// the signer's vault: approve, join, then frob with +dink.
func (s *Service) Deposit(ctx context.Context, ilk id.Ilk, amount *big.Int) (*Result, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "deposit amount must be positive")
	}
	col, err := s.client.Contracts().CollateralFor(ilk)
	if err != nil {
		return nil, err
	}
	r, unlock, err := s.begin(ctx, execution.IntentDeposit, ilk, amount.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	owner := s.client.Account()

	decimals, err := s.client.TokenDecimals(ctx, col.Gem)
	if err != nil {
		return r.fail("preflight", err)
	}
	dink := fixedpoint.NativeToWad(amount, int(decimals))
	urn, err := s.client.Urn(ctx, ilk, owner)
	if err != nil {
		return r.fail("preflight", err)
	}
	if err := fixedpoint.CheckCollateralBounds(urn.Ink, dink); err != nil {
		return r.fail("preflight", err)
	}
	if err := s.checkBalance(ctx, s.client, col.Gem, owner, amount, int(decimals)); err != nil {
		return r.fail("preflight", err)
	}

	r.m.to(StateApproving, "approve", "", nil)
	idx, hash, err := r.submit(execution.StepTypeApproval, col.Gem, amount.String(), "approve collateral for gem join", func() (common.Hash, error) {
		return s.client.Approve(ctx, col.Gem, col.Join, amount)
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

	// The balance shown before approval may be stale by now.
	if err := s.checkBalance(ctx, s.fresh(), col.Gem, owner, amount, int(decimals)); err != nil {
		return r.fail("join", err)
	}

	hash, err = r.primaryWithReauth(ctx, "join", col.Join, func() (int, common.Hash, error) {
		return r.submit(execution.StepTypeJoin, col.Join, amount.String(), "join collateral", func() (common.Hash, error) {
			return s.client.GemJoin(ctx, col.Join, owner, amount)
		})
	})
	if err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "join", hash, false, err)
		}
		return r.fail("join", err)
	}

	joinHash := hash
	r.m.to(StateSubmittingPrimaryTx, "frob", "", nil)
	idx, hash, err = r.submit(execution.StepTypeFrob, s.client.Contracts().Vat, dink.String(), "credit collateral to vault", func() (common.Hash, error) {
		return s.client.Frob(ctx, ilk, dink, new(big.Int))
	})
	if err != nil {
		return r.fail("frob", partialDeposit(joinHash, err))
	}
	r.m.to(StateAwaitingPrimaryReceipt, "frob", hash.Hex(), nil)
	if _, err := r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "frob", hash, true, err)
		}
		return r.fail("frob", partialDeposit(joinHash, err))
	}
	return r.succeed(ctx, "frob", hash)
}

// primaryWithReauth submits a primary call and waits for it. An
// authorization-class revert, at estimation or on-chain, triggers exactly one
// hope(spender) followed by exactly one retry.
func (r *run) primaryWithReauth(ctx context.Context, step string, spender common.Address, send func() (int, common.Hash, error)) (common.Hash, error) {
	r.m.to(StateSubmittingPrimaryTx, step, "", nil)
	idx, hash, err := send()
	if err == nil {
		r.m.to(StateAwaitingPrimaryReceipt, step, hash.Hex(), nil)
		_, err = r.wait(ctx, idx, hash)
		if err == nil || !clierr.Is(err, clierr.CodeAuthorization) {
			return hash, err
		}
	} else if !clierr.Is(err, clierr.CodeAuthorization) {
		return common.Hash{}, err
	}

	r.m.to(StateReauthorizing, "hope", "", err)
	r.s.opts.Metrics.Reauthorized()
	r.log.Info("primary call needs authorization, retrying once")
	hopeIdx, hopeHash, hopeErr := r.submit(execution.StepTypeAuthorize, r.s.client.Contracts().Vat, "", "authorize "+spender.Hex(), func() (common.Hash, error) {
		return r.s.client.Hope(ctx, spender)
	})
	if hopeErr != nil {
		return common.Hash{}, hopeErr
	}
	if _, hopeErr = r.wait(ctx, hopeIdx, hopeHash); hopeErr != nil && !clierr.Is(hopeErr, clierr.CodePending) {
		return common.Hash{}, hopeErr
	}

	r.m.to(StateRetryPrimaryTx, step, "", nil)
	idx, hash, err = send()
	if err != nil {
		return common.Hash{}, terminalAfterRetry(step, err)
	}
	r.m.to(StateAwaitingPrimaryReceipt, step, hash.Hex(), nil)
	if _, err = r.wait(ctx, idx, hash); err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return hash, err
		}
		return hash, terminalAfterRetry(step, err)
	}
	return hash, nil
}

// terminalAfterRetry turns a second authorization failure into a plain revert.
func terminalAfterRetry(step string, err error) error {
	if clierr.Is(err, clierr.CodeAuthorization) {
		return clierr.Wrap(clierr.CodeReverted, step+" still unauthorized after re-authorization", err)
	}
	return err
}

func partialDeposit(joinHash common.Hash, cause error) error {
	return clierr.Wrap(clierr.CodePartialSuccess, fmt.Sprintf(
		"collateral was joined by %s but locking it into the vault failed; it remains in the ledger's internal balance",
		joinHash.Hex(),
	), cause)
}

func asApprovalError(err error) error {
	switch {
	case clierr.Is(err, clierr.CodeApproval), clierr.Is(err, clierr.CodeUserRejected):
		return err
	default:
		return clierr.Wrap(clierr.CodeApproval, "approval failed", err)
	}
}

func (s *Service) checkBalance(ctx context.Context, reader ledger.Reader, token, owner common.Address, amount *big.Int, decimals int) error {
	balance, err := reader.TokenBalance(ctx, token, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient balance: have %s, need %s",
			fixedpoint.Format(balance, decimals), fixedpoint.Format(amount, decimals),
		))
	}
	return nil
}
