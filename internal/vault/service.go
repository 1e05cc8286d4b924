// Package vault drives the multi-transaction deposit, withdraw, borrow,
// repay and open sequences against the ledger.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/ledger"
	"github.com/spoutfi/spout-cli/internal/logging"
	"github.com/spoutfi/spout-cli/internal/metrics"
	"go.uber.org/zap"
)

// Journal persists sequence records. *execution.Store satisfies it.
type Journal interface {
	Save(action execution.Action) error
}

type invalidator interface {
	Invalidate()
}

type freshReader interface {
	Fresh() ledger.Client
}

type Options struct {
	Journal        Journal
	Locks          *Locks
	Observer       Observer
	Metrics        *metrics.Sequence
	Logger         *zap.Logger
	ReceiptTimeout time.Duration
	SettleDelay    time.Duration
	// Refresh runs after every successful write, once the settle delay has
	// elapsed and cached reads have been invalidated.
	Refresh func(ctx context.Context, ev RefreshEvent)
}

// RefreshEvent names the vault whose ledger state a sequence just changed.
type RefreshEvent struct {
	Operation string
	Ilk       id.Ilk
	Owner     common.Address
}

type Service struct {
	client ledger.Client
	opts   Options
	log    *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewService(client ledger.Client, opts Options) *Service {
	if opts.Locks == nil {
		opts.Locks = NewLocks()
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = ledger.DefaultReceiptTimeout
	}
	return &Service{
		client: client,
		opts:   opts,
		log:    logging.OrNop(opts.Logger),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Result is the outcome of one sequence.
type Result struct {
	Action      execution.Action `json:"action"`
	State       State            `json:"state"`
	Pending     bool             `json:"pending"`
	Transitions []Transition     `json:"transitions"`
	VaultID     uint64           `json:"vault_id,omitempty"`
}

// metaIncomplete marks a journal record whose sequence stopped before its
// last step was sent.
const metaIncomplete = "incomplete"

// run carries one sequence's machine and journal record.
type run struct {
	s      *Service
	m      *machine
	action *execution.Action
	ilk    id.Ilk
	log    *zap.Logger
}

func (s *Service) begin(ctx context.Context, op string, ilk id.Ilk, amount string) (*run, func(), error) {
	owner := s.client.Account()
	unlock, err := s.opts.Locks.Lock(ctx, vaultKey(s.client.ChainID(), owner, ilk))
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "wait for vault lock", err)
	}
	action := execution.NewAction(execution.NewActionID(), op, fmt.Sprintf("eip155:%d", s.client.ChainID()))
	action.Owner = owner.Hex()
	action.Ilk = ilk.String()
	action.InputAmount = amount
	action.Status = execution.ActionStatusRunning
	log := s.log.With(zap.String("operation", op), zap.String("ilk", ilk.String()), zap.String("action_id", action.ActionID))
	r := &run{
		s:      s,
		m:      newMachine(op, s.opts.Observer, log, s.now),
		action: &action,
		ilk:    ilk,
		log:    log,
	}
	r.save()
	return r, unlock, nil
}

func (r *run) save() {
	if r.s.opts.Journal == nil {
		return
	}
	r.action.Touch()
	if err := r.s.opts.Journal.Save(*r.action); err != nil {
		r.log.Warn("journal save failed", zap.Error(err))
	}
}

// submit broadcasts one step. The machine must already be in a submitting state.
func (r *run) submit(stepType execution.StepType, target common.Address, amount, description string, send func() (common.Hash, error)) (int, common.Hash, error) {
	idx := r.action.AddStep(stepType, target.Hex(), amount, description)
	hash, err := send()
	if err != nil {
		r.markStep(idx, execution.StepStatusFailed, err)
		return idx, common.Hash{}, err
	}
	if hash == (common.Hash{}) {
		err := clierr.New(clierr.CodeUnavailable, string(stepType)+": no transaction hash returned")
		r.markStep(idx, execution.StepStatusFailed, err)
		return idx, common.Hash{}, err
	}
	r.action.Steps[idx].TxHash = hash.Hex()
	r.markStep(idx, execution.StepStatusSubmitted, nil)
	return idx, hash, nil
}

// wait blocks for the step's receipt. Pending outcomes leave the step submitted.
func (r *run) wait(ctx context.Context, idx int, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.s.client.WaitReceipt(ctx, hash, r.s.opts.ReceiptTimeout)
	switch {
	case err == nil:
		r.markStep(idx, execution.StepStatusConfirmed, nil)
	case clierr.Is(err, clierr.CodePending):
		r.s.opts.Metrics.Pending()
		r.log.Info("confirmation pending", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		r.action.Steps[idx].Error = err.Error()
		r.save()
	default:
		r.markStep(idx, execution.StepStatusFailed, err)
	}
	return receipt, err
}

func (r *run) markStep(idx int, status execution.StepStatus, err error) {
	r.action.Steps[idx].Status = status
	if err != nil {
		r.action.Steps[idx].Error = err.Error()
	}
	r.save()
}

func (r *run) fail(step string, err error) (*Result, error) {
	r.m.to(StateFailed, step, "", err)
	r.action.Status = execution.ActionStatusFailed
	outcome := "failed"
	if clierr.Is(err, clierr.CodePartialSuccess) {
		r.action.Status = execution.ActionStatusPartial
		outcome = "partial_success"
	}
	r.action.Error = err.Error()
	r.save()
	r.s.opts.Metrics.Observe(r.m.op, outcome)
	r.log.Info("vault sequence failed", zap.String("step", step), zap.Error(err))
	if outcome == "partial_success" {
		// Some steps landed, so cached reads are already wrong.
		r.s.invalidate()
	}
	return r.result(), err
}

// submitted ends the sequence optimistically: the last transaction was
// broadcast but its confirmation was not observed.
func (r *run) submitted(ctx context.Context, step string, hash common.Hash, final bool, cause error) (*Result, error) {
	r.m.to(StateSubmitted, step, hash.Hex(), nil)
	r.action.Status = execution.ActionStatusPending
	if !final {
		if r.action.Metadata == nil {
			r.action.Metadata = map[string]any{}
		}
		r.action.Metadata[metaIncomplete] = true
	}
	r.save()
	r.s.opts.Metrics.Observe(r.m.op, "submitted")
	r.s.afterWrite(ctx, r.event())
	res := r.result()
	res.Pending = true
	return res, cause
}

func (r *run) succeed(ctx context.Context, step string, hash common.Hash) (*Result, error) {
	r.m.to(StateSucceeded, step, hash.Hex(), nil)
	r.action.Status = execution.ActionStatusCompleted
	r.save()
	r.s.opts.Metrics.Observe(r.m.op, "succeeded")
	r.log.Info("vault sequence succeeded", zap.String("tx_hash", hash.Hex()))
	r.s.afterWrite(ctx, r.event())
	return r.result(), nil
}

func (r *run) event() RefreshEvent {
	return RefreshEvent{Operation: r.m.op, Ilk: r.ilk, Owner: r.s.client.Account()}
}

func (r *run) result() *Result {
	return &Result{
		Action:      *r.action,
		State:       r.m.state,
		Transitions: append([]Transition(nil), r.m.history...),
	}
}

// afterWrite lets read replicas catch up, drops cached reads and fires the
// refresh hook. It never fails the sequence.
func (s *Service) afterWrite(ctx context.Context, ev RefreshEvent) {
	if s.opts.SettleDelay > 0 {
		if err := s.sleep(ctx, s.opts.SettleDelay); err != nil {
			s.log.Debug("settle delay interrupted", zap.Error(err))
		}
	}
	s.invalidate()
	if s.opts.Refresh != nil {
		s.opts.Refresh(ctx, ev)
	}
}

func (s *Service) invalidate() {
	if inv, ok := s.client.(invalidator); ok {
		inv.Invalidate()
	}
}

// fresh returns a reader that bypasses any read cache.
func (s *Service) fresh() ledger.Client {
	if f, ok := s.client.(freshReader); ok {
		return f.Fresh()
	}
	return s.client
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
