package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/id"
)

var testVat = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newTestClient(t *testing.T, backend *fakeBackend, opts Options) *RPCClient {
	t.Helper()
	if opts.Contracts.Vat == (common.Address{}) {
		opts.Contracts.Vat = testVat
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	client, err := NewRPCClient(context.Background(), backend, opts)
	if err != nil {
		t.Fatalf("NewRPCClient failed: %v", err)
	}
	return client
}

func mustIlk(t *testing.T, ticker string) id.Ilk {
	t.Helper()
	ilk, err := id.EncodeIlk(ticker)
	if err != nil {
		t.Fatalf("encode ilk: %v", err)
	}
	return ilk
}

func TestUrnDecodesVatUrns(t *testing.T) {
	backend := newFakeBackend()
	ink := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	backend.setReturn(t, vatABI, "urns", ink, big.NewInt(7))
	client := newTestClient(t, backend, Options{Account: staticSigner{}.Address()})

	urn, err := client.Urn(context.Background(), mustIlk(t, "LQD"), client.Account())
	if err != nil {
		t.Fatalf("Urn failed: %v", err)
	}
	if urn.Ink.Cmp(ink) != 0 || urn.Art.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("unexpected urn: ink=%s art=%s", urn.Ink, urn.Art)
	}
}

func TestReadWithoutContractIsUsageError(t *testing.T) {
	client := newTestClient(t, newFakeBackend(), Options{})
	_, err := client.Mat(context.Background(), mustIlk(t, "LQD"))
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing spotter, got %v", err)
	}
}

func TestFrobUsesSignerForEveryUrnAddress(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})

	dart := new(big.Int).Mul(big.NewInt(25), big.NewInt(1e18))
	hash, err := client.Frob(context.Background(), mustIlk(t, "LQD"), new(big.Int), dart)
	if err != nil {
		t.Fatalf("Frob failed: %v", err)
	}
	if len(backend.sent) != 1 || backend.sent[0].Hash() != hash {
		t.Fatalf("expected one broadcast matching returned hash")
	}
	tx := backend.sent[0]
	if *tx.To() != testVat {
		t.Fatalf("expected frob against vat, got %s", tx.To().Hex())
	}
	method, err := vatABI.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "frob" {
		t.Fatalf("expected frob selector, got %v %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack frob args: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if args[i].(common.Address) != client.Account() {
			t.Fatalf("expected arg %d to be signer, got %v", i, args[i])
		}
	}
	if args[4].(*big.Int).Sign() != 0 || args[5].(*big.Int).Cmp(dart) != 0 {
		t.Fatalf("unexpected deltas: dink=%v dart=%v", args[4], args[5])
	}
	if tx.Gas() <= 100_000 {
		t.Fatalf("expected gas multiplier applied, got %d", tx.Gas())
	}
}

func TestWriteWithoutSignerFails(t *testing.T) {
	client := newTestClient(t, newFakeBackend(), Options{})
	_, err := client.Hope(context.Background(), common.HexToAddress("0x01"))
	if !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestEstimateAuthorizationRevertIsTyped(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "Vat/not-allowed")),
	}
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	_, err := client.GemJoin(context.Background(), common.HexToAddress("0x02"), client.Account(), big.NewInt(1))
	if !clierr.Is(err, clierr.CodeAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatal("expected nothing broadcast after failed estimate")
	}
}

func TestEstimateGenericRevertIsReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: Vat/not-safe")
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	_, err := client.Frob(context.Background(), mustIlk(t, "LQD"), new(big.Int), big.NewInt(1))
	if !clierr.Is(err, clierr.CodeReverted) || !strings.Contains(err.Error(), "Vat/not-safe") {
		t.Fatalf("expected reverted error with reason, got %v", err)
	}
}

func TestUserRejectedSignature(t *testing.T) {
	client := newTestClient(t, newFakeBackend(), Options{Signer: rejectingSigner{}})
	_, err := client.Hope(context.Background(), common.HexToAddress("0x01"))
	if !clierr.Is(err, clierr.CodeUserRejected) {
		t.Fatalf("expected user rejected, got %v", err)
	}
}

func TestApproveFailureIsApprovalError(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: paused")
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	_, err := client.Approve(context.Background(), common.HexToAddress("0x03"), common.HexToAddress("0x04"), big.NewInt(1))
	if !clierr.Is(err, clierr.CodeApproval) {
		t.Fatalf("expected approval error, got %v", err)
	}
}

func TestWaitReceiptAmbiguousErrorsArePending(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErr = errors.New("resource not found")
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	_, err := client.WaitReceipt(context.Background(), common.HexToHash("0x01"), 30*time.Millisecond)
	if !clierr.Is(err, clierr.CodePending) {
		t.Fatalf("expected pending, got %v", err)
	}
}

func TestWaitReceiptSuccess(t *testing.T) {
	backend := newFakeBackend()
	hash := common.HexToHash("0x02")
	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	receipt, err := client.WaitReceipt(context.Background(), hash, time.Second)
	if err != nil || receipt.BlockNumber.Int64() != 5 {
		t.Fatalf("expected confirmed receipt, got %v %v", receipt, err)
	}
}

func TestWaitReceiptRevertReplaysForReason(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend, Options{Signer: staticSigner{}})
	hash, err := client.Frob(context.Background(), mustIlk(t, "LQD"), new(big.Int), big.NewInt(1))
	if err != nil {
		t.Fatalf("Frob failed: %v", err)
	}
	backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)}
	backend.replayErr = testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "Vat/ceiling-exceeded")),
	}
	_, err = client.WaitReceipt(context.Background(), hash, time.Second)
	if !clierr.Is(err, clierr.CodeReverted) {
		t.Fatalf("expected reverted, got %v", err)
	}
	if !strings.Contains(err.Error(), "Vat/ceiling-exceeded") {
		t.Fatalf("expected decoded reason, got %v", err)
	}
}

func TestDecodeRevertDataReasonString(t *testing.T) {
	reason := decodeRevertData(encodeErrorString(t, "slippage too high"))
	if reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertDataPanic(t *testing.T) {
	payload := append(common.FromHex("0x4e487b71"), common.LeftPadBytes([]byte{0x11}, 32)...)
	if reason := decodeRevertData(payload); reason != "panic 0x11" {
		t.Fatalf("unexpected panic decoding: %q", reason)
	}
}

func TestIsAmbiguousReceiptError(t *testing.T) {
	cases := map[error]bool{
		ethereum.NotFound:                      true,
		errors.New("block not found"):          true,
		errors.New("Resource Not Found"):       true,
		errors.New("connection refused"):       false,
		errors.New("execution reverted: nope"): false,
	}
	for err, want := range cases {
		if got := isAmbiguousReceiptError(err); got != want {
			t.Fatalf("isAmbiguousReceiptError(%q) = %v, want %v", err, got, want)
		}
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func TestCachedServesReadsUntilInvalidated(t *testing.T) {
	backend := newFakeBackend()
	backend.setReturn(t, vatABI, "urns", big.NewInt(1), big.NewInt(2))
	client := newTestClient(t, backend, Options{Account: staticSigner{}.Address()})
	cached := NewCached(client, 200*time.Millisecond)
	ilk := mustIlk(t, "LQD")

	first, err := cached.Urn(context.Background(), ilk, client.Account())
	if err != nil {
		t.Fatalf("Urn failed: %v", err)
	}
	first.Ink.SetInt64(99)
	second, _ := cached.Urn(context.Background(), ilk, client.Account())
	if backend.calls() != 1 {
		t.Fatalf("expected one ledger call, got %d", backend.calls())
	}
	if second.Ink.Int64() != 1 {
		t.Fatalf("cached value was mutated through a returned pointer: %s", second.Ink)
	}

	cached.Invalidate()
	_, _ = cached.Urn(context.Background(), ilk, client.Account())
	if backend.calls() != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", backend.calls())
	}

	time.Sleep(400 * time.Millisecond)
	_, _ = cached.Urn(context.Background(), ilk, client.Account())
	if backend.calls() != 3 {
		t.Fatalf("expected refetch after ttl, got %d calls", backend.calls())
	}
}

func TestVaultIDFromReceipt(t *testing.T) {
	topic := vaultManagerABI.Events["NewCdp"].ID
	owner := common.BytesToHash(staticSigner{}.Address().Bytes())
	receipt := &types.Receipt{Logs: []*types.Log{
		{Topics: []common.Hash{common.HexToHash("0x01")}},
		{Topics: []common.Hash{topic, owner, owner, common.BigToHash(big.NewInt(42))}},
	}}
	got, ok := VaultIDFromReceipt(receipt)
	if !ok || got != 42 {
		t.Fatalf("expected vault 42, got %d %v", got, ok)
	}
	if _, ok := VaultIDFromReceipt(&types.Receipt{}); ok {
		t.Fatal("expected no vault id without NewCdp log")
	}
}
