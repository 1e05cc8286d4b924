package vault

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/ledger"
)

var (
	testOwner          = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testVat            = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testStablecoinJoin = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	testStablecoin     = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	testManager        = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	testGem            = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testJoin           = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type ledgerCall struct {
	method string
	args   []string
}

func (c ledgerCall) String() string {
	return c.method + "(" + strings.Join(c.args, ",") + ")"
}

// fakeLedger is a scripted ledger.Client that records every write.
type fakeLedger struct {
	mu sync.Mutex

	contracts ledger.Contracts
	urn       ledger.Urn
	ilk       ledger.IlkState
	ilkErr    error
	mat       *big.Int
	can       bool
	decimals  uint8
	balances  map[common.Address]*big.Int
	allowance *big.Int
	vaultIDs  []uint64
	infos     map[uint64]ledger.VaultInfo
	openedID  uint64

	reads   int
	writes  []ledgerCall
	sendErr map[string][]error
	waitErr map[string][]error
	hashes  map[common.Hash]string
	onWrite func(method string)
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	ilk := testIlk(t)
	return &fakeLedger{
		contracts: ledger.Contracts{
			Vat:            testVat,
			StablecoinJoin: testStablecoinJoin,
			Stablecoin:     testStablecoin,
			VaultManager:   testManager,
			Collateral:     map[id.Ilk]ledger.Collateral{ilk: {Gem: testGem, Join: testJoin}},
		},
		urn:       ledger.Urn{Ink: new(big.Int), Art: new(big.Int)},
		ilk:       ledger.IlkState{Art: new(big.Int), Rate: new(big.Int).Set(ray(1)), Spot: ray(2), Line: new(big.Int), Dust: new(big.Int)},
		mat:       new(big.Int).Mul(big.NewInt(15), exp10(26)),
		decimals:  6,
		balances:  map[common.Address]*big.Int{},
		allowance: new(big.Int),
		infos:     map[uint64]ledger.VaultInfo{},
		sendErr:   map[string][]error{},
		waitErr:   map[string][]error{},
		hashes:    map[common.Hash]string{},
	}
}

func testIlk(t *testing.T) id.Ilk {
	t.Helper()
	ilk, err := id.EncodeIlk("LQD")
	if err != nil {
		t.Fatalf("encode ilk: %v", err)
	}
	return ilk
}

func exp10(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func wad(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), exp10(18)) }

func ray(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), exp10(27)) }

func native(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), exp10(6)) }

func (f *fakeLedger) Account() common.Address    { return testOwner }
func (f *fakeLedger) ChainID() int64             { return 84532 }
func (f *fakeLedger) Contracts() ledger.Contracts { return f.contracts }

func (f *fakeLedger) read() {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
}

func (f *fakeLedger) Urn(context.Context, id.Ilk, common.Address) (ledger.Urn, error) {
	f.read()
	return ledger.Urn{Ink: new(big.Int).Set(f.urn.Ink), Art: new(big.Int).Set(f.urn.Art)}, nil
}

func (f *fakeLedger) Ilk(context.Context, id.Ilk) (ledger.IlkState, error) {
	f.read()
	if f.ilkErr != nil {
		return ledger.IlkState{}, f.ilkErr
	}
	return f.ilk, nil
}

func (f *fakeLedger) Mat(context.Context, id.Ilk) (*big.Int, error) {
	f.read()
	return f.mat, nil
}

func (f *fakeLedger) Par(context.Context) (*big.Int, error) { f.read(); return ray(1), nil }

func (f *fakeLedger) Can(context.Context, common.Address, common.Address) (bool, error) {
	f.read()
	return f.can, nil
}

func (f *fakeLedger) Debt(context.Context) (*big.Int, error) { f.read(); return new(big.Int), nil }

func (f *fakeLedger) StablecoinBalance(context.Context, common.Address) (*big.Int, error) {
	f.read()
	return new(big.Int), nil
}

func (f *fakeLedger) TokenBalance(_ context.Context, token, _ common.Address) (*big.Int, error) {
	f.read()
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.balances[token]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeLedger) TokenAllowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.read()
	return f.allowance, nil
}

func (f *fakeLedger) TokenDecimals(context.Context, common.Address) (uint8, error) {
	f.read()
	return f.decimals, nil
}

func (f *fakeLedger) VaultIDs(context.Context, common.Address) ([]uint64, error) {
	f.read()
	return f.vaultIDs, nil
}

func (f *fakeLedger) VaultInfo(_ context.Context, vaultID uint64) (ledger.VaultInfo, error) {
	f.read()
	return f.infos[vaultID], nil
}

func (f *fakeLedger) write(method string, args ...string) (common.Hash, error) {
	f.mu.Lock()
	f.writes = append(f.writes, ledgerCall{method: method, args: args})
	if errs := f.sendErr[method]; len(errs) > 0 {
		f.sendErr[method] = errs[1:]
		f.mu.Unlock()
		return common.Hash{}, errs[0]
	}
	hash := common.BigToHash(big.NewInt(int64(len(f.writes))))
	f.hashes[hash] = method
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	return hash, nil
}

func (f *fakeLedger) Approve(_ context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return f.write("approve", token.Hex(), spender.Hex(), amount.String())
}

func (f *fakeLedger) GemJoin(_ context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error) {
	return f.write("join", join.Hex(), usr.Hex(), amount.String())
}

func (f *fakeLedger) GemExit(_ context.Context, join, usr common.Address, amount *big.Int) (common.Hash, error) {
	return f.write("gem_exit", join.Hex(), usr.Hex(), amount.String())
}

func (f *fakeLedger) Frob(_ context.Context, ilk id.Ilk, dink, dart *big.Int) (common.Hash, error) {
	return f.write("frob", ilk.String(), dink.String(), dart.String())
}

func (f *fakeLedger) Hope(_ context.Context, usr common.Address) (common.Hash, error) {
	return f.write("hope", usr.Hex())
}

func (f *fakeLedger) StablecoinJoin(_ context.Context, usr common.Address, amount *big.Int) (common.Hash, error) {
	return f.write("stablecoin_join", usr.Hex(), amount.String())
}

func (f *fakeLedger) StablecoinExit(_ context.Context, usr common.Address, amount *big.Int) (common.Hash, error) {
	return f.write("stablecoin_exit", usr.Hex(), amount.String())
}

func (f *fakeLedger) OpenVault(_ context.Context, ilk id.Ilk) (common.Hash, error) {
	return f.write("open", ilk.String())
}

func (f *fakeLedger) WaitReceipt(_ context.Context, hash common.Hash, _ time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	method := f.hashes[hash]
	if errs := f.waitErr[method]; len(errs) > 0 {
		f.waitErr[method] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
	}
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(100)}
	if method == "open" && f.openedID != 0 {
		receipt.Logs = []*types.Log{newCdpLog(f.openedID)}
	}
	return receipt, nil
}

func (f *fakeLedger) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, c := range f.writes {
		out = append(out, c.String())
	}
	return out
}

func newCdpLog(vaultID uint64) *types.Log {
	topic := crypto.Keccak256Hash([]byte("NewCdp(address,address,uint256)"))
	owner := common.BytesToHash(testOwner.Bytes())
	return &types.Log{Topics: []common.Hash{topic, owner, owner, common.BigToHash(new(big.Int).SetUint64(vaultID))}}
}

func authErr(msg string) error { return clierr.New(clierr.CodeAuthorization, msg) }

func pendingErr() error { return clierr.New(clierr.CodePending, "confirmation pending") }

func revertErr(msg string) error { return clierr.New(clierr.CodeReverted, msg) }

func expectWrites(t *testing.T, f *fakeLedger, want ...string) {
	t.Helper()
	got := f.writeLog()
	if len(got) != len(want) {
		t.Fatalf("expected %d writes, got %d:\n%s", len(want), len(got), strings.Join(got, "\n"))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func newTestService(f *fakeLedger, opts Options) *Service {
	s := NewService(f, opts)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func statesOf(res *Result) []State {
	out := []State{StateIdle}
	for _, t := range res.Transitions {
		out = append(out, t.To)
	}
	return out
}
