package vault

import (
	"time"

	"go.uber.org/zap"
)

// State is a named step of a vault sequence.
type State string

const (
	StateIdle                    State = "IDLE"
	StateApproving               State = "APPROVING"
	StateAwaitingApprovalReceipt State = "AWAITING_APPROVAL_RECEIPT"
	StateSubmittingPrimaryTx     State = "SUBMITTING_PRIMARY_TX"
	StateAwaitingPrimaryReceipt  State = "AWAITING_PRIMARY_RECEIPT"
	StateReauthorizing           State = "REAUTHORIZING"
	StateRetryPrimaryTx          State = "RETRY_PRIMARY_TX"
	StateSucceeded               State = "SUCCEEDED"
	// StateSubmitted ends a sequence whose last broadcast could not be
	// observed confirmed in time. It is not a failure.
	StateSubmitted State = "SUBMITTED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateSubmitted || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StateIdle:                    {StateApproving, StateSubmittingPrimaryTx, StateFailed},
	StateApproving:               {StateAwaitingApprovalReceipt, StateSubmittingPrimaryTx, StateFailed},
	StateAwaitingApprovalReceipt: {StateSubmittingPrimaryTx, StateSubmitted, StateFailed},
	StateSubmittingPrimaryTx:     {StateAwaitingPrimaryReceipt, StateReauthorizing, StateFailed},
	StateAwaitingPrimaryReceipt:  {StateSubmittingPrimaryTx, StateReauthorizing, StateSucceeded, StateSubmitted, StateFailed},
	StateReauthorizing:           {StateRetryPrimaryTx, StateFailed},
	StateRetryPrimaryTx:          {StateAwaitingPrimaryReceipt, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	Operation string    `json:"operation"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Step      string    `json:"step,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives every transition of every sequence.
type Observer func(Transition)

type machine struct {
	op       string
	state    State
	observer Observer
	log      *zap.Logger
	history  []Transition
	now      func() time.Time
}

func newMachine(op string, observer Observer, log *zap.Logger, now func() time.Time) *machine {
	return &machine{op: op, state: StateIdle, observer: observer, log: log, now: now}
}

func (m *machine) to(next State, step, txHash string, err error) {
	if !canTransition(m.state, next) {
		m.log.DPanic("illegal vault state transition",
			zap.String("operation", m.op),
			zap.String("from", string(m.state)),
			zap.String("to", string(next)),
		)
	}
	t := Transition{Operation: m.op, From: m.state, To: next, Step: step, TxHash: txHash, At: m.now()}
	if err != nil {
		t.Error = err.Error()
	}
	m.state = next
	m.history = append(m.history, t)
	m.log.Debug("vault transition",
		zap.String("operation", m.op),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("step", step),
		zap.String("tx_hash", txHash),
	)
	if m.observer != nil {
		m.observer(t)
	}
}
