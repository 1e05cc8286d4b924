package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution/signer"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/logging"
	"go.uber.org/zap"
)

// Backend is the subset of ethclient.Client the ledger client drives.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

type Options struct {
	Contracts Contracts
	// Signer may be nil for read-only use; writes then fail with CodeSigner.
	Signer signer.Signer
	// Account is the address reads default to when Signer is nil.
	Account            common.Address
	PollInterval       time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Logger             *zap.Logger
}

// RPCClient implements Client over a JSON-RPC endpoint.
type RPCClient struct {
	backend Backend
	chainID *big.Int
	opts    Options
	account common.Address
	log     *zap.Logger

	mu   sync.Mutex
	sent map[common.Hash]ethereum.CallMsg
}

var _ Client = (*RPCClient)(nil)

func NewRPCClient(ctx context.Context, backend Backend, opts Options) (*RPCClient, error) {
	if backend == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing ledger backend")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	account := opts.Account
	if opts.Signer != nil {
		account = opts.Signer.Address()
	}
	return &RPCClient{
		backend: backend,
		chainID: chainID,
		opts:    opts,
		account: account,
		log:     logging.OrNop(opts.Logger).With(zap.Int64("chain_id", chainID.Int64())),
		sent:    map[common.Hash]ethereum.CallMsg{},
	}, nil
}

func (c *RPCClient) Account() common.Address { return c.account }

func (c *RPCClient) ChainID() int64 { return c.chainID.Int64() }

func (c *RPCClient) Contracts() Contracts { return c.opts.Contracts }

func (c *RPCClient) Urn(ctx context.Context, ilk id.Ilk, owner common.Address) (Urn, error) {
	out, err := c.call(ctx, "vat", c.opts.Contracts.Vat, vatABI, "urns", [32]byte(ilk), owner)
	if err != nil {
		return Urn{}, err
	}
	return Urn{Ink: bigAt(out, 0), Art: bigAt(out, 1)}, nil
}

func (c *RPCClient) Ilk(ctx context.Context, ilk id.Ilk) (IlkState, error) {
	out, err := c.call(ctx, "vat", c.opts.Contracts.Vat, vatABI, "ilks", [32]byte(ilk))
	if err != nil {
		return IlkState{}, err
	}
	return IlkState{
		Art:  bigAt(out, 0),
		Rate: bigAt(out, 1),
		Spot: bigAt(out, 2),
		Line: bigAt(out, 3),
		Dust: bigAt(out, 4),
	}, nil
}

func (c *RPCClient) Mat(ctx context.Context, ilk id.Ilk) (*big.Int, error) {
	out, err := c.call(ctx, "spotter", c.opts.Contracts.Spotter, spotterABI, "ilks", [32]byte(ilk))
	if err != nil {
		return nil, err
	}
	return bigAt(out, 1), nil
}

func (c *RPCClient) Par(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "spotter", c.opts.Contracts.Spotter, spotterABI, "par")
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

func (c *RPCClient) Can(ctx context.Context, owner, usr common.Address) (bool, error) {
	out, err := c.call(ctx, "vat", c.opts.Contracts.Vat, vatABI, "can", owner, usr)
	if err != nil {
		return false, err
	}
	return bigAt(out, 0).Sign() > 0, nil
}

func (c *RPCClient) Debt(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "vat", c.opts.Contracts.Vat, vatABI, "debt")
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

func (c *RPCClient) StablecoinBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "vat", c.opts.Contracts.Vat, vatABI, "dai", owner)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

func (c *RPCClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "token", token, erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

func (c *RPCClient) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "token", token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0), nil
}

func (c *RPCClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, "token", token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, clierr.New(clierr.CodeUnavailable, "decode token decimals")
	}
	return v, nil
}

// VaultIDs walks the vault manager's per-owner linked list.
func (c *RPCClient) VaultIDs(ctx context.Context, owner common.Address) ([]uint64, error) {
	out, err := c.call(ctx, "vault_manager", c.opts.Contracts.VaultManager, vaultManagerABI, "count", owner)
	if err != nil {
		return nil, err
	}
	count := bigAt(out, 0).Uint64()
	if count == 0 {
		return []uint64{}, nil
	}
	out, err = c.call(ctx, "vault_manager", c.opts.Contracts.VaultManager, vaultManagerABI, "first", owner)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, count)
	next := bigAt(out, 0)
	for next.Sign() > 0 && uint64(len(ids)) < count {
		ids = append(ids, next.Uint64())
		out, err = c.call(ctx, "vault_manager", c.opts.Contracts.VaultManager, vaultManagerABI, "list", next)
		if err != nil {
			return nil, err
		}
		next = bigAt(out, 1)
	}
	return ids, nil
}

func (c *RPCClient) VaultInfo(ctx context.Context, vaultID uint64) (VaultInfo, error) {
	arg := new(big.Int).SetUint64(vaultID)
	out, err := c.call(ctx, "vault_manager", c.opts.Contracts.VaultManager, vaultManagerABI, "owns", arg)
	if err != nil {
		return VaultInfo{}, err
	}
	owner, _ := out[0].(common.Address)
	out, err = c.call(ctx, "vault_manager", c.opts.Contracts.VaultManager, vaultManagerABI, "ilks", arg)
	if err != nil {
		return VaultInfo{}, err
	}
	raw, _ := out[0].([32]byte)
	return VaultInfo{ID: vaultID, Owner: owner, Ilk: id.Ilk(raw)}, nil
}

func (c *RPCClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	hash, err := c.transact(ctx, "approve", token, data)
	if err != nil && !clierr.Is(err, clierr.CodeUserRejected) {
		return common.Hash{}, clierr.Wrap(clierr.CodeApproval, "approve allowance", err)
	}
	return hash, err
}

func (c *RPCClient) GemJoin(ctx context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error) {
	return c.packAndTransact(ctx, "gem join", join, gemJoinABI, "join", usr, amount)
}

func (c *RPCClient) GemExit(ctx context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error) {
	return c.packAndTransact(ctx, "gem exit", join, gemJoinABI, "exit", usr, amount)
}

// Frob updates the signer's own urn: u, v and w are all the signer.
func (c *RPCClient) Frob(ctx context.Context, ilk id.Ilk, dink, dart *big.Int) (common.Hash, error) {
	if err := requireAddress("vat", c.opts.Contracts.Vat); err != nil {
		return common.Hash{}, err
	}
	acct := c.account
	return c.packAndTransact(ctx, "frob", c.opts.Contracts.Vat, vatABI, "frob", [32]byte(ilk), acct, acct, acct, dink, dart)
}

func (c *RPCClient) Hope(ctx context.Context, usr common.Address) (common.Hash, error) {
	if err := requireAddress("vat", c.opts.Contracts.Vat); err != nil {
		return common.Hash{}, err
	}
	return c.packAndTransact(ctx, "hope", c.opts.Contracts.Vat, vatABI, "hope", usr)
}

func (c *RPCClient) StablecoinJoin(ctx context.Context, usr common.Address, wad *big.Int) (common.Hash, error) {
	if err := requireAddress("stablecoin_join", c.opts.Contracts.StablecoinJoin); err != nil {
		return common.Hash{}, err
	}
	return c.packAndTransact(ctx, "stablecoin join", c.opts.Contracts.StablecoinJoin, stablecoinJoinABI, "join", usr, wad)
}

func (c *RPCClient) StablecoinExit(ctx context.Context, usr common.Address, wad *big.Int) (common.Hash, error) {
	if err := requireAddress("stablecoin_join", c.opts.Contracts.StablecoinJoin); err != nil {
		return common.Hash{}, err
	}
	return c.packAndTransact(ctx, "stablecoin exit", c.opts.Contracts.StablecoinJoin, stablecoinJoinABI, "exit", usr, wad)
}

func (c *RPCClient) OpenVault(ctx context.Context, ilk id.Ilk) (common.Hash, error) {
	if err := requireAddress("vault_manager", c.opts.Contracts.VaultManager); err != nil {
		return common.Hash{}, err
	}
	return c.packAndTransact(ctx, "open vault", c.opts.Contracts.VaultManager, vaultManagerABI, "open", [32]byte(ilk), c.account)
}

func (c *RPCClient) call(ctx context.Context, contract string, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := requireAddress(contract, to); err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.account, To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapExecutionError(fmt.Sprintf("call %s.%s", contract, method), err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s.%s result", contract, method), err)
	}
	return out, nil
}

func (c *RPCClient) packAndTransact(ctx context.Context, op string, to common.Address, parsed abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	if to == (common.Address{}) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, op+": missing target contract")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	return c.transact(ctx, op, to, data)
}

func bigAt(values []interface{}, i int) *big.Int {
	if i >= len(values) {
		return new(big.Int)
	}
	if v, ok := values[i].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}
