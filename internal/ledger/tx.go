package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution/signer"
	"go.uber.org/zap"
)

const DefaultReceiptTimeout = 2 * time.Minute

var nonceLocks sync.Map

// acquireSignerNonceLock serializes nonce allocation for one signer on one
// chain across every client in the process.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := chainID.String() + ":" + strings.ToLower(addr.Hex())
	v, _ := nonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *RPCClient) transact(ctx context.Context, op string, to common.Address, data []byte) (common.Hash, error) {
	if c.opts.Signer == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "missing signer: writes need a signing key")
	}
	from := c.opts.Signer.Address()
	unlock := acquireSignerNonceLock(c.chainID, from)
	defer unlock()

	msg := ethereum.CallMsg{From: from, To: &to, Value: new(big.Int), Data: data}
	gasLimit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapExecutionError(op+" (estimate gas)", err)
	}
	gasLimit = uint64(float64(gasLimit) * c.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, c.backend, c.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, c.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := c.opts.Signer.SignTx(c.chainID, tx)
	if err != nil {
		if signer.IsUserRejection(err) {
			return common.Hash{}, clierr.Wrap(clierr.CodeUserRejected, op+": signature rejected", err)
		}
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	hash := signed.Hash()
	msg.Gas = gasLimit
	c.mu.Lock()
	c.sent[hash] = msg
	c.mu.Unlock()
	c.log.Info("transaction submitted",
		zap.String("op", op),
		zap.String("to", to.Hex()),
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("nonce", nonce),
	)
	return hash, nil
}

// WaitReceipt polls until the receipt is visible or timeout elapses. A
// timeout, or RPC errors that only mean "not visible yet", yield CodePending:
// the transaction may still land and the caller must re-check later.
func (c *RPCClient) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, c.revertedReceiptError(ctx, hash, receipt)
		}
		if err != nil && waitCtx.Err() == nil {
			if !isAmbiguousReceiptError(err) {
				lastErr = err
			}
			c.log.Debug("receipt not yet available", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return nil, pendingError(hash, lastErr)
		case <-ticker.C:
		}
	}
}

func pendingError(hash common.Hash, cause error) error {
	msg := fmt.Sprintf("transaction %s submitted, confirmation pending", hash.Hex())
	if cause == nil {
		return clierr.New(clierr.CodePending, msg)
	}
	return clierr.Wrap(clierr.CodePending, msg, cause)
}

// revertedReceiptError replays the original call against the parent block to
// recover the revert reason.
func (c *RPCClient) revertedReceiptError(ctx context.Context, hash common.Hash, receipt *types.Receipt) error {
	base := fmt.Sprintf("transaction %s reverted on-chain", hash.Hex())
	c.mu.Lock()
	msg, ok := c.sent[hash]
	c.mu.Unlock()
	if !ok {
		return clierr.New(clierr.CodeReverted, base)
	}
	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	if _, err := c.backend.CallContract(ctx, msg, block); err != nil {
		wrapped := wrapExecutionError(base, err)
		if typed, ok := clierr.As(wrapped); ok && typed.Code == clierr.CodeUnavailable {
			return clierr.New(clierr.CodeReverted, base)
		}
		return wrapped
	}
	return clierr.New(clierr.CodeReverted, base)
}

type tipCapSuggester interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

func resolveTipCap(ctx context.Context, client tipCapSuggester, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
