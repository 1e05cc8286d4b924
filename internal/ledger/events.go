package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// VaultIDFromReceipt extracts the vault id from a vault manager NewCdp log.
func VaultIDFromReceipt(receipt *types.Receipt) (uint64, bool) {
	if receipt == nil {
		return 0, false
	}
	topic := vaultManagerABI.Events["NewCdp"].ID
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) != 4 || lg.Topics[0] != topic {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[3].Bytes())
		if !id.IsUint64() {
			return 0, false
		}
		return id.Uint64(), true
	}
	return 0, false
}
