package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spoutfi/spout-cli/internal/execution"
	"github.com/spoutfi/spout-cli/internal/metrics"
	"github.com/spoutfi/spout-cli/internal/vault"
)

func TestShouldOpenActionStore(t *testing.T) {
	for _, path := range []string{"vault deposit", "vault borrow", "vault open", "actions list", "actions resume"} {
		if !shouldOpenActionStore(path) {
			t.Fatalf("expected %s to require action store", path)
		}
	}
	for _, path := range []string{"vault show", "vault list", "activity", "price", "ilk encode"} {
		if shouldOpenActionStore(path) {
			t.Fatalf("did not expect %s to require action store", path)
		}
	}
}

func TestShouldOpenCacheOnlyForPrice(t *testing.T) {
	if !shouldOpenCache("price") {
		t.Fatal("expected price to open cache")
	}
	for _, path := range []string{"vault show", "vault list", "vault deposit", "vault repay", "actions list", "activity", "schema", "version"} {
		if shouldOpenCache(path) {
			t.Fatalf("did not expect %s to open cache", path)
		}
	}
}

func TestRunnerWriteCommandsMarkedMutating(t *testing.T) {
	isolateEnv(t)
	cases := map[string]bool{
		"vault deposit":  true,
		"vault withdraw": true,
		"vault borrow":   true,
		"vault repay":    true,
		"vault open":     true,
		"actions resume": true,
		"vault show":     false,
		"activity":       false,
	}
	for path, want := range cases {
		t.Run(path, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			r := NewRunnerWithWriters(&stdout, &stderr)
			code := r.Run(append([]string{"schema"}, append(strings.Fields(path), "--results-only")...))
			if code != 0 {
				t.Fatalf("expected exit 0 for %q, got %d stderr=%s", path, code, stderr.String())
			}
			var doc map[string]any
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("failed to parse schema output for %q: %v output=%s", path, err, stdout.String())
			}
			if got, _ := doc["path"].(string); got != "spout "+path {
				t.Fatalf("unexpected schema path for %q: got %q", path, got)
			}
			if got, _ := doc["mutating"].(bool); got != want {
				t.Fatalf("expected mutating=%v for %q, got %v", want, path, doc["mutating"])
			}
		})
	}
}

func TestRunnerActionsListBypassesCacheOpen(t *testing.T) {
	setUnopenableCacheEnv(t)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"actions", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}

	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse actions output json: %v output=%s", err, stdout.String())
	}
	if len(out) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(out))
	}
}

func TestRunnerActionsShowAndFilter(t *testing.T) {
	isolateEnv(t)
	completed := seedAction(t, execution.ActionStatusCompleted, false)
	seedAction(t, execution.ActionStatusFailed, false)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "show", completed.ActionID, "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var shown execution.Action
	if err := json.Unmarshal(stdout.Bytes(), &shown); err != nil {
		t.Fatalf("decode action: %v output=%s", err, stdout.String())
	}
	if shown.ActionID != completed.ActionID || len(shown.Steps) != 3 {
		t.Fatalf("unexpected action %+v", shown)
	}

	stdout.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "list", "--status", "completed", "--results-only"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var listed []execution.Action
	if err := json.Unmarshal(stdout.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v output=%s", err, stdout.String())
	}
	if len(listed) != 1 || listed[0].Status != execution.ActionStatusCompleted {
		t.Fatalf("expected one completed action, got %+v", listed)
	}
}

func TestRunnerActionsListRejectsUnknownStatus(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "list", "--status", "done"}); code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerActionsShowMissing(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "show", "act_missing"}); code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerActionsResumeWithoutPendingStepsSkipsRPC(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SPOUT_RPC_URL", "http://127.0.0.1:1")
	action := seedAction(t, execution.ActionStatusCompleted, false)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "resume", action.ActionID}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env struct {
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v output=%s", err, stdout.String())
	}
	if !containsWarning(env.Warnings, "no unconfirmed steps to resume") {
		t.Fatalf("expected no-op warning, got %+v", env.Warnings)
	}
}

func TestRunnerActionsResumeReportsUnreachableRPC(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SPOUT_RPC_URL", "http://127.0.0.1:1")
	action := seedAction(t, execution.ActionStatusPending, true)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"actions", "resume", action.ActionID}); code != 12 {
		t.Fatalf("expected unavailable exit 12, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerVaultShowReadsLedgerWithoutCache(t *testing.T) {
	setUnopenableCacheEnv(t)
	t.Setenv("SPOUT_RPC_URL", "http://127.0.0.1:1")

	for _, args := range [][]string{
		{"vault", "show", "--ilk", "LQD", "--owner", "0x00000000000000000000000000000000000000aa"},
		{"vault", "list", "--owner", "0x00000000000000000000000000000000000000aa"},
	} {
		var stdout, stderr bytes.Buffer
		r := NewRunnerWithWriters(&stdout, &stderr)
		// An opened cache would fail with exit 1 before the RPC is dialed.
		if code := r.Run(args); code != 12 {
			t.Fatalf("%v: expected ledger unavailable exit 12, got %d stderr=%s", args, code, stderr.String())
		}
	}
}

func TestRunnerPriceStillOpensCache(t *testing.T) {
	setUnopenableCacheEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"price", "--token", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}); code != 1 {
		t.Fatalf("expected cache open failure exit 1, got %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "open cache") {
		t.Fatalf("expected open cache error, got %s", stderr.String())
	}
}

func TestWriteOutputCarriesSequenceCounters(t *testing.T) {
	m := metrics.NewSequence()
	m.Observe(execution.IntentDeposit, "succeeded")
	state := &runtimeState{metrics: m}
	res := &vault.Result{Action: execution.NewAction("act_counters", execution.IntentDeposit, "eip155:84532")}

	output, warnings := state.writeOutput(res)
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", warnings)
	}
	if got := output.Counters["spout_sequence_total,operation=deposit,outcome=succeeded"]; got != 1 {
		t.Fatalf("expected deposit counter in output, got %+v", output.Counters)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		t.Fatalf("marshal output: %v", err)
	}
	if !strings.Contains(string(raw), `"counters"`) {
		t.Fatalf("expected counters in write output json: %s", raw)
	}
}

// seedAction journals a three-step deposit directly into the store.
func seedAction(t *testing.T, status execution.ActionStatus, lastPending bool) execution.Action {
	t.Helper()
	store, err := execution.OpenStore(os.Getenv("SPOUT_ACTIONS_PATH"), os.Getenv("SPOUT_ACTIONS_LOCK_PATH"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	action := execution.NewAction(execution.NewActionID(), execution.IntentDeposit, "eip155:84532")
	action.Owner = "0x00000000000000000000000000000000000000aa"
	action.Ilk = "LQD"
	action.InputAmount = "1000000"
	for _, step := range []execution.StepType{execution.StepTypeApproval, execution.StepTypeJoin, execution.StepTypeFrob} {
		idx := action.AddStep(step, "0x00000000000000000000000000000000000000b1", "1000000", string(step))
		action.Steps[idx].Status = execution.StepStatusConfirmed
		action.Steps[idx].TxHash = common.BigToHash(big.NewInt(int64(idx + 1))).Hex()
	}
	if lastPending {
		action.Steps[2].Status = execution.StepStatusSubmitted
	}
	action.Status = status
	if err := store.Save(action); err != nil {
		t.Fatalf("save action: %v", err)
	}
	return action
}

func TestWriteOutputUsesRefreshedPosition(t *testing.T) {
	state := &runtimeState{refreshErr: errors.New("stale")}
	state.refreshPosition(context.Background(), vault.RefreshEvent{Operation: execution.IntentOpen})
	if state.refreshed != nil || state.refreshErr != nil {
		t.Fatalf("expected refresh without an ilk to clear state, got %+v %v", state.refreshed, state.refreshErr)
	}

	state.refreshed = &vault.Position{Warnings: []string{"price unavailable"}}
	output, warnings := state.writeOutput(&vault.Result{})
	if output.Position != state.refreshed {
		t.Fatal("expected refreshed position in write output")
	}
	if !containsWarning(warnings, "price unavailable") {
		t.Fatalf("expected position warnings, got %+v", warnings)
	}

	state.refreshed, state.refreshErr = nil, errors.New("rpc down")
	_, warnings = state.writeOutput(&vault.Result{})
	if !containsWarning(warnings, "position refresh failed: rpc down") {
		t.Fatalf("expected refresh failure warning, got %+v", warnings)
	}
}
