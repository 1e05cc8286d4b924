package vault

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/ledger"
	"go.uber.org/zap"
)

// Open registers a new vault for ilk. Each owner holds at most one vault per ilk.
func (s *Service) Open(ctx context.Context, ilk id.Ilk) (*Result, error) {
	manager := s.client.Contracts().VaultManager
	if manager == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "contracts.vault_manager is not configured")
	}
	r, unlock, err := s.begin(ctx, execution.IntentOpen, ilk, "")
	if err != nil {
		return nil, err
	}
	defer unlock()
	owner := s.client.Account()

	existing, err := s.findVault(ctx, owner, ilk)
	if err != nil {
		return r.fail("preflight", err)
	}
	if existing != 0 {
		return r.fail("preflight", clierr.New(clierr.CodeUsage, fmt.Sprintf("vault %d already exists for ilk %s", existing, ilk)))
	}

	r.m.to(StateSubmittingPrimaryTx, "open", "", nil)
	idx, hash, err := r.submit(execution.StepTypeOpen, manager, "", "open vault", func() (common.Hash, error) {
		return s.client.OpenVault(ctx, ilk)
	})
	if err != nil {
		return r.fail("open", err)
	}
	r.m.to(StateAwaitingPrimaryReceipt, "open", hash.Hex(), nil)
	receipt, err := r.wait(ctx, idx, hash)
	if err != nil {
		if clierr.Is(err, clierr.CodePending) {
			return r.submitted(ctx, "open", hash, true, err)
		}
		return r.fail("open", err)
	}
	vaultID, ok := ledger.VaultIDFromReceipt(receipt)
	if !ok {
		// Fall back to the manager's registry when the log is missing.
		if vaultID, err = s.findVault(ctx, owner, ilk); err != nil {
			r.log.Warn("vault opened but id lookup failed", zap.Error(err))
		}
	}
	r.action.Metadata = map[string]any{"vault_id": vaultID}
	res, err := r.succeed(ctx, "open", hash)
	if res != nil {
		res.VaultID = vaultID
	}
	return res, err
}

func (s *Service) findVault(ctx context.Context, owner common.Address, ilk id.Ilk) (uint64, error) {
	ids, err := s.fresh().VaultIDs(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, vaultID := range ids {
		info, err := s.fresh().VaultInfo(ctx, vaultID)
		if err != nil {
			return 0, err
		}
		if info.Ilk == ilk {
			return vaultID, nil
		}
	}
	return 0, nil
}
