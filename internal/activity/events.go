// Package activity rebuilds a wallet's BUY/SELL order history from ledger
// logs and keeps it live.
package activity

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/fixedpoint"
	"github.com/spoutfi/spout-cli/internal/registry"
	"go.uber.org/zap"
)

type Kind string

const (
	KindBuy  Kind = "BUY"
	KindSell Kind = "SELL"
)

const usdcDecimals = 6

// ErrUnexpectedShape is returned for logs whose topics or data do not match
// the order event ABI.
var ErrUnexpectedShape = errors.New("unexpected order log shape")

var (
	ordersABI = mustParseABI(registry.OrdersABI)

	buyEvent  = ordersABI.Events["BuyOrderCreated"]
	sellEvent = ordersABI.Events["SellOrderCreated"]

	kindByTopic = map[common.Hash]Kind{
		buyEvent.ID:  KindBuy,
		sellEvent.ID: KindSell,
	}
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Topic returns the event signature hash for kind.
func Topic(kind Kind) common.Hash {
	if kind == KindSell {
		return sellEvent.ID
	}
	return buyEvent.ID
}

// Event is one decoded order log.
type Event struct {
	Type        Kind   `json:"transaction_type"`
	User        string `json:"user"`
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	AssetAmount string `json:"asset_amount_base_units"`
	USDCAmount  string `json:"usdc_amount"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	TimestampMS int64  `json:"timestamp_ms"`
	Contract    string `json:"contract"`
}

// Key identifies a log across the live and backfilled paths.
type Key struct {
	TxHash   string
	LogIndex uint
}

func (e Event) Key() Key {
	return Key{TxHash: strings.ToLower(e.TxHash), LogIndex: e.LogIndex}
}

// Decode is the only way a log becomes an Event. Topic count, address
// padding and data length must all match the ABI exactly.
func Decode(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return Event{}, fmt.Errorf("%w: no topics", ErrUnexpectedShape)
	}
	kind, ok := kindByTopic[lg.Topics[0]]
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown signature %s", ErrUnexpectedShape, lg.Topics[0].Hex())
	}
	event := buyEvent
	if kind == KindSell {
		event = sellEvent
	}
	if len(lg.Topics) != 3 {
		return Event{}, fmt.Errorf("%w: %s has %d topics, want 3", ErrUnexpectedShape, event.Name, len(lg.Topics))
	}
	nonIndexed := event.Inputs.NonIndexed()
	if want := 32 * len(nonIndexed); len(lg.Data) != want {
		return Event{}, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrUnexpectedShape, event.Name, len(lg.Data), want)
	}
	user, err := topicAddress(lg.Topics[1])
	if err != nil {
		return Event{}, err
	}
	values, err := nonIndexed.Unpack(lg.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	token, ok := values[0].(common.Address)
	if !ok {
		return Event{}, fmt.Errorf("%w: token is %T", ErrUnexpectedShape, values[0])
	}
	usdc, ok := values[1].(*big.Int)
	if !ok {
		return Event{}, fmt.Errorf("%w: usdcAmount is %T", ErrUnexpectedShape, values[1])
	}
	asset, ok := values[2].(*big.Int)
	if !ok {
		return Event{}, fmt.Errorf("%w: assetAmount is %T", ErrUnexpectedShape, values[2])
	}
	return Event{
		Type:        kind,
		User:        user.Hex(),
		OrderID:     new(big.Int).SetBytes(lg.Topics[2].Bytes()).String(),
		Token:       token.Hex(),
		AssetAmount: asset.String(),
		USDCAmount:  fixedpoint.Format(usdc, usdcDecimals),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Contract:    lg.Address.Hex(),
	}, nil
}

func topicAddress(topic common.Hash) (common.Address, error) {
	for _, b := range topic[:12] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("%w: user topic %s is not a padded address", ErrUnexpectedShape, topic.Hex())
		}
	}
	return common.BytesToAddress(topic[12:]), nil
}

// Classify returns the log's kind from its signature hash. origin is the kind
// of the query that returned the log, or empty for live logs. On disagreement
// the signature wins and the mismatch is logged as an integrity warning.
func Classify(lg types.Log, origin Kind, log *zap.Logger) (Kind, error) {
	if len(lg.Topics) == 0 {
		return "", fmt.Errorf("%w: no topics", ErrUnexpectedShape)
	}
	kind, ok := kindByTopic[lg.Topics[0]]
	if !ok {
		return "", fmt.Errorf("%w: unknown signature %s", ErrUnexpectedShape, lg.Topics[0].Hex())
	}
	if origin != "" && origin != kind && log != nil {
		log.Warn("order log classification mismatch",
			zap.Int("code", int(clierr.CodeIntegrity)),
			zap.String("query_kind", string(origin)),
			zap.String("signature_kind", string(kind)),
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Uint("log_index", lg.Index),
		)
	}
	return kind, nil
}

// Dedupe drops later occurrences of the same (tx hash, log index). Order of
// first occurrences is preserved.
func Dedupe(events []Event) []Event {
	seen := make(map[Key]struct{}, len(events))
	out := make([]Event, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortNewestFirst orders by block number then log index, both descending.
func SortNewestFirst(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].LogIndex > events[j].LogIndex
	})
}

func fromLog(lg types.Log, origin Kind, user common.Address, log *zap.Logger) (Event, bool) {
	if lg.Removed {
		return Event{}, false
	}
	kind, err := Classify(lg, origin, log)
	if err != nil {
		log.Warn("skipping order log", zap.String("tx_hash", lg.TxHash.Hex()), zap.Error(err))
		return Event{}, false
	}
	ev, err := Decode(lg)
	if err != nil {
		log.Warn("skipping order log", zap.String("tx_hash", lg.TxHash.Hex()), zap.Error(err))
		return Event{}, false
	}
	if ev.Type != kind {
		return Event{}, false
	}
	if !strings.EqualFold(ev.User, user.Hex()) {
		return Event{}, false
	}
	return ev, true
}
