package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	mu sync.Mutex

	returns     map[string][]byte
	callCount   int
	estimateErr error
	replayErr   error
	receipts    map[common.Hash]*types.Receipt
	receiptErr  error
	sent        []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{returns: map[string][]byte{}, receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(84532), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if block != nil && f.replayErr != nil {
		return nil, f.replayErr
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("short calldata")
	}
	out, ok := f.returns[hex.EncodeToString(msg.Data[:4])]
	if !ok {
		return nil, errors.New("unexpected call")
	}
	return out, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) setReturn(t *testing.T, parsed abi.ABI, method string, values ...interface{}) {
	t.Helper()
	m, ok := parsed.Methods[method]
	if !ok {
		t.Fatalf("unknown method %s", method)
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack %s outputs: %v", method, err)
	}
	f.mu.Lock()
	f.returns[hex.EncodeToString(m.ID)] = out
	f.mu.Unlock()
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (staticSigner) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type rejectingSigner struct{ staticSigner }

func (rejectingSigner) SignTx(*big.Int, *types.Transaction) (*types.Transaction, error) {
	return nil, errors.New("user rejected the request")
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
