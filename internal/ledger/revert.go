package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
)

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}

	// Revert fragments that mean the caller lacks a ledger permission which
	// a one-time authorization can grant.
	authorizationMarkers = []string{
		"not-allowed",
		"not-authorized",
		"not authorized",
		"unauthorized",
		"not-wish",
	}

	ambiguousReceiptMarkers = []string{
		"block not found",
		"resource not found",
		"header not found",
		"transaction indexing is in progress",
	}
)

type rpcDataError interface {
	error
	ErrorData() interface{}
}

// decodeRevertData renders revert return data as a human readable reason.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector := data[:4]
	payload := data[4:]
	switch {
	case bytes.Equal(selector, errorStringSelector):
		stringTy, _ := abi.NewType("string", "", nil)
		values, err := abi.Arguments{{Type: stringTy}}.Unpack(payload)
		if err == nil && len(values) == 1 {
			if reason, ok := values[0].(string); ok {
				return reason
			}
		}
		return "Error(string) with undecodable payload"
	case bytes.Equal(selector, panicSelector):
		if len(payload) >= 32 {
			code := new(big.Int).SetBytes(payload[:32])
			return fmt.Sprintf("panic 0x%x", code)
		}
		return "panic"
	default:
		return fmt.Sprintf("custom error 0x%s", hex.EncodeToString(selector))
	}
}

// decodeRevertFromError extracts revert data carried on a JSON-RPC error.
func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(v))
	case []byte:
		return decodeRevertData(v)
	default:
		return ""
	}
}

// revertReason prefers decoded revert data and falls back to the node's
// message, which usually embeds the reason after "execution reverted:".
func revertReason(err error) string {
	if reason := decodeRevertFromError(err); reason != "" {
		return reason
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted:"):])
	}
	return msg
}

func isAuthorizationReason(reason string) bool {
	lower := strings.ToLower(reason)
	for _, marker := range authorizationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpcDataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// wrapExecutionError maps a failed simulation or replay to a typed error.
// Authorization-class reverts get their own code so callers can re-authorize.
func wrapExecutionError(op string, err error) error {
	if !isRevert(err) {
		return clierr.Wrap(clierr.CodeUnavailable, op, err)
	}
	reason := revertReason(err)
	if isAuthorizationReason(reason) {
		return clierr.Wrap(clierr.CodeAuthorization, op+": "+reason, err)
	}
	return clierr.Wrap(clierr.CodeReverted, op+": "+reason, err)
}

// isAmbiguousReceiptError reports errors that mean "not visible yet" rather
// than "failed".
func isAmbiguousReceiptError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range ambiguousReceiptMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
