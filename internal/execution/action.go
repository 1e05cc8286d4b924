package execution

import (
	"fmt"

	"github.com/google/uuid"
)

func NewActionID() string {
	return "act_" + uuid.NewString()
}

func stepID(stepType StepType, n int) string {
	return fmt.Sprintf("%s-%d", stepType, n)
}
