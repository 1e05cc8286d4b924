package execution

import "time"

type ActionStatus string

type StepStatus string

type StepType string

const (
	ActionStatusPlanned   ActionStatus = "planned"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusPartial   ActionStatus = "partial"
	ActionStatusFailed    ActionStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
	// StepStatusSkipped marks a step that turned out to be unnecessary,
	// for example an authorization that was already granted.
	StepStatusSkipped StepStatus = "skipped"
)

const (
	StepTypeApproval  StepType = "approval"
	StepTypeJoin      StepType = "join"
	StepTypeAuthorize StepType = "authorize"
	StepTypeFrob      StepType = "frob"
	StepTypeExit      StepType = "exit"
	StepTypeOpen      StepType = "open"
)

const (
	IntentDeposit  = "deposit"
	IntentWithdraw = "withdraw"
	IntentBorrow   = "borrow"
	IntentRepay    = "repay"
	IntentOpen     = "open"
)

type ActionStep struct {
	StepID      string     `json:"step_id"`
	Type        StepType   `json:"type"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	Target      string     `json:"target"`
	Amount      string     `json:"amount,omitempty"`
	TxHash      string     `json:"tx_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Action is the journal record of one vault sequence.
type Action struct {
	ActionID    string         `json:"action_id"`
	IntentType  string         `json:"intent_type"`
	Status      ActionStatus   `json:"status"`
	ChainID     string         `json:"chain_id"`
	Owner       string         `json:"owner,omitempty"`
	Ilk         string         `json:"ilk,omitempty"`
	InputAmount string         `json:"input_amount,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Steps       []ActionStep   `json:"steps"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewAction(actionID, intentType, chainID string) Action {
	now := time.Now().UTC().Format(time.RFC3339)
	return Action{
		ActionID:   actionID,
		IntentType: intentType,
		Status:     ActionStatusPlanned,
		ChainID:    chainID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Steps:      []ActionStep{},
	}
}

func (a *Action) Touch() {
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// AddStep appends a pending step and returns its index.
func (a *Action) AddStep(stepType StepType, target, amount, description string) int {
	a.Steps = append(a.Steps, ActionStep{
		StepID:      stepID(stepType, len(a.Steps)+1),
		Type:        stepType,
		Status:      StepStatusPending,
		Description: description,
		Target:      target,
		Amount:      amount,
	})
	a.Touch()
	return len(a.Steps) - 1
}

// PendingSteps returns the indexes of steps that were broadcast but never confirmed.
func (a *Action) PendingSteps() []int {
	out := make([]int, 0)
	for i, step := range a.Steps {
		if step.Status == StepStatusSubmitted && step.TxHash != "" {
			out = append(out, i)
		}
	}
	return out
}
