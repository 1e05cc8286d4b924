package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spoutfi/spout-cli/internal/config"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/id"
)

// Collateral locates the ERC-20 token and its join adapter for one ILK.
type Collateral struct {
	Gem  common.Address
	Join common.Address
}

type Contracts struct {
	Vat            common.Address
	Spotter        common.Address
	Stablecoin     common.Address
	StablecoinJoin common.Address
	VaultManager   common.Address
	Orders         common.Address
	Collateral     map[id.Ilk]Collateral
}

// ParseContracts validates every configured address. Empty entries stay zero
// and are rejected by the operation that needs them.
func ParseContracts(in config.Contracts) (Contracts, error) {
	out := Contracts{Collateral: map[id.Ilk]Collateral{}}
	fields := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"vat", in.Vat, &out.Vat},
		{"spotter", in.Spotter, &out.Spotter},
		{"stablecoin", in.Stablecoin, &out.Stablecoin},
		{"stablecoin_join", in.StablecoinJoin, &out.StablecoinJoin},
		{"vault_manager", in.VaultManager, &out.VaultManager},
		{"orders", in.Orders, &out.Orders},
	}
	for _, f := range fields {
		addr, err := parseOptionalAddress(f.name, f.raw)
		if err != nil {
			return Contracts{}, err
		}
		*f.dst = addr
	}
	for ticker, pair := range in.Ilks {
		ilk, err := id.EncodeIlk(strings.ToUpper(strings.TrimSpace(ticker)))
		if err != nil {
			return Contracts{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("contracts.ilks.%s", ticker), err)
		}
		gem, err := parseOptionalAddress("contracts.ilks."+ticker+".gem", pair.Gem)
		if err != nil {
			return Contracts{}, err
		}
		join, err := parseOptionalAddress("contracts.ilks."+ticker+".join", pair.Join)
		if err != nil {
			return Contracts{}, err
		}
		out.Collateral[ilk] = Collateral{Gem: gem, Join: join}
	}
	return out, nil
}

// CollateralFor returns the token and join adapter for ilk.
func (c Contracts) CollateralFor(ilk id.Ilk) (Collateral, error) {
	col, ok := c.Collateral[ilk]
	if !ok || col.Gem == (common.Address{}) || col.Join == (common.Address{}) {
		return Collateral{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no gem/join contracts configured for ilk %s", ilk))
	}
	return col, nil
}

// Ilks lists configured collateral types in no particular order.
func (c Contracts) Ilks() []id.Ilk {
	out := make([]id.Ilk, 0, len(c.Collateral))
	for ilk := range c.Collateral {
		out = append(out, ilk)
	}
	return out
}

func requireAddress(name string, addr common.Address) error {
	if addr == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("contracts.%s is not configured", name))
	}
	return nil
}

func parseOptionalAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s: invalid address %q", name, raw))
	}
	return common.HexToAddress(raw), nil
}
