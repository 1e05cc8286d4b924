package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spoutfi/spout-cli/internal/id"
)

// Urn is one vault's raw ledger state. Ink and Art are WAD.
type Urn struct {
	Ink *big.Int
	Art *big.Int
}

func (u Urn) clone() Urn {
	return Urn{Ink: cloneInt(u.Ink), Art: cloneInt(u.Art)}
}

// IlkState is the per-collateral accounting row of the ledger.
// Rate and Spot are RAY, Art is WAD, Line and Dust are RAD.
type IlkState struct {
	Art  *big.Int
	Rate *big.Int
	Spot *big.Int
	Line *big.Int
	Dust *big.Int
}

func (s IlkState) clone() IlkState {
	return IlkState{
		Art:  cloneInt(s.Art),
		Rate: cloneInt(s.Rate),
		Spot: cloneInt(s.Spot),
		Line: cloneInt(s.Line),
		Dust: cloneInt(s.Dust),
	}
}

// VaultInfo is a vault manager registration.
type VaultInfo struct {
	ID    uint64
	Owner common.Address
	Ilk   id.Ilk
}

// Reader is the read-only half of the ledger capability.
type Reader interface {
	Urn(ctx context.Context, ilk id.Ilk, owner common.Address) (Urn, error)
	Ilk(ctx context.Context, ilk id.Ilk) (IlkState, error)
	// Mat is the liquidation ratio of ilk, RAY.
	Mat(ctx context.Context, ilk id.Ilk) (*big.Int, error)
	Par(ctx context.Context) (*big.Int, error)
	Can(ctx context.Context, owner, usr common.Address) (bool, error)
	Debt(ctx context.Context) (*big.Int, error)
	// StablecoinBalance is the internal ledger balance of owner, RAD.
	StablecoinBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	VaultIDs(ctx context.Context, owner common.Address) ([]uint64, error)
	VaultInfo(ctx context.Context, vaultID uint64) (VaultInfo, error)
}

// Writer submits signed transactions. Each call returns once the transaction
// is broadcast; confirmation is observed with WaitReceipt.
type Writer interface {
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	GemJoin(ctx context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error)
	GemExit(ctx context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error)
	Frob(ctx context.Context, ilk id.Ilk, dink, dart *big.Int) (common.Hash, error)
	Hope(ctx context.Context, usr common.Address) (common.Hash, error)
	StablecoinJoin(ctx context.Context, usr common.Address, wad *big.Int) (common.Hash, error)
	StablecoinExit(ctx context.Context, usr common.Address, wad *big.Int) (common.Hash, error)
	OpenVault(ctx context.Context, ilk id.Ilk) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Client is the explicit ledger capability: signer account, endpoint and
// chain identity travel with it.
type Client interface {
	Reader
	Writer
	Account() common.Address
	ChainID() int64
	Contracts() Contracts
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
