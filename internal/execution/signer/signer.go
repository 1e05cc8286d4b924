package signer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs ledger transactions for a single account.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

var rejectionMarkers = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"denied transaction signature",
}

// IsUserRejection reports whether a signing failure was a deliberate refusal
// by the key holder rather than a misconfiguration.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
