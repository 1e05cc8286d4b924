package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
)

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Inspect and resume journaled vault sequences"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled sequences, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			if status != "" && !validActionStatus(status) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown action status %q", status))
			}
			actions, err := s.actionStore.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), actions, nil, cacheMetaBypass(), nil, false)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (planned|running|pending|completed|partial|failed)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum actions to return")

	show := &cobra.Command{
		Use:   "show <action-id>",
		Short: "Show one journaled sequence with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := s.getAction(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}

	resume := &cobra.Command{
		Use:   "resume <action-id>",
		Short: "Re-check receipts of broadcast steps that were never confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := s.getAction(args[0])
			if err != nil {
				return err
			}
			if len(action.PendingSteps()) == 0 {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, []string{"no unconfirmed steps to resume"}, cacheMetaBypass(), nil, false)
			}
			ctx, cancel := s.writeContext()
			defer cancel()
			svc, err := s.ensureVaults(ctx, false)
			if err != nil {
				return err
			}
			if want := s.chainCAIP2(); action.ChainID != want {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("action %s belongs to %s, connected to %s", action.ActionID, action.ChainID, want))
			}
			resumed, err := svc.Resume(ctx, action)
			if err != nil {
				return err
			}
			var warnings []string
			if resumed.Status == execution.ActionStatusPending {
				warnings = append(warnings, "some steps are still unconfirmed")
			}
			if resumed.Status == execution.ActionStatusPartial {
				warnings = append(warnings, resumed.Error)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), resumed, warnings, cacheMetaBypass(), nil, false)
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	root.AddCommand(mutating(resume))
	return root
}

func (s *runtimeState) getAction(actionID string) (execution.Action, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "action id is required")
	}
	action, err := s.actionStore.Get(actionID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "load action", err)
	}
	return action, nil
}

func validActionStatus(status string) bool {
	switch execution.ActionStatus(status) {
	case execution.ActionStatusPlanned, execution.ActionStatusRunning, execution.ActionStatusPending,
		execution.ActionStatusCompleted, execution.ActionStatusPartial, execution.ActionStatusFailed:
		return true
	default:
		return false
	}
}
