package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/spoutfi/spout-cli/internal/registry"
)

var (
	erc20ABI          = mustParseABI("erc20", registry.ERC20ABI)
	vatABI            = mustParseABI("vat", registry.VatABI)
	spotterABI        = mustParseABI("spotter", registry.SpotterABI)
	gemJoinABI        = mustParseABI("gem_join", registry.GemJoinABI)
	stablecoinJoinABI = mustParseABI("stablecoin_join", registry.StablecoinJoinABI)
	vaultManagerABI   = mustParseABI("vault_manager", registry.VaultManagerABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
