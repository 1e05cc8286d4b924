package vault

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
	"github.com/spoutfi/spout-cli/internal/id"
	"go.uber.org/zap"
)

// Resume re-checks the receipts of steps that were broadcast but never
// observed confirmed. It never resubmits anything.
func (s *Service) Resume(ctx context.Context, action execution.Action) (execution.Action, error) {
	pending := action.PendingSteps()
	if len(pending) == 0 {
		return action, nil
	}
	var firstErr error
	stillPending := false
	for _, idx := range pending {
		step := &action.Steps[idx]
		hash := common.HexToHash(step.TxHash)
		_, err := s.client.WaitReceipt(ctx, hash, s.opts.ReceiptTimeout)
		switch {
		case err == nil:
			step.Status = execution.StepStatusConfirmed
			step.Error = ""
		case clierr.Is(err, clierr.CodePending):
			stillPending = true
		default:
			step.Status = execution.StepStatusFailed
			step.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		s.log.Debug("resumed step", zap.String("step_id", step.StepID), zap.String("status", string(step.Status)))
	}
	switch {
	case firstErr != nil:
		action.Status = execution.ActionStatusFailed
		action.Error = firstErr.Error()
	case stillPending:
		action.Status = execution.ActionStatusPending
	case action.Metadata[metaIncomplete] == true:
		action.Status = execution.ActionStatusPartial
		action.Error = "broadcast steps confirmed but the sequence stopped early; re-run the operation to finish it"
	default:
		action.Status = execution.ActionStatusCompleted
	}
	action.Touch()
	if s.opts.Journal != nil {
		if err := s.opts.Journal.Save(action); err != nil {
			return action, clierr.Wrap(clierr.CodeInternal, "save resumed action", err)
		}
	}
	if firstErr == nil && !stillPending {
		ev := RefreshEvent{Operation: action.IntentType, Owner: common.HexToAddress(action.Owner)}
		if ilk, err := id.EncodeIlk(action.Ilk); err == nil {
			ev.Ilk = ilk
		}
		s.afterWrite(ctx, ev)
	}
	return action, firstErr
}
