package activity

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/logging"
	"go.uber.org/zap"
)

// LogSource is satisfied by *ethclient.Client.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

const (
	DefaultBlockWindow = 10_000
	DefaultChunkSize   = 2_000
)

type ScannerOptions struct {
	ChunkSize uint64
	Logger    *zap.Logger
}

// Scanner reads order logs for one user from a bounded block range.
type Scanner struct {
	src    LogSource
	orders common.Address
	chunk  uint64
	log    *zap.Logger
}

func NewScanner(src LogSource, orders common.Address, opts ScannerOptions) *Scanner {
	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	return &Scanner{src: src, orders: orders, chunk: chunk, log: logging.OrNop(opts.Logger)}
}

func (s *Scanner) Head(ctx context.Context) (uint64, error) {
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "read head block", err)
	}
	return head, nil
}

// Scan returns user's order events in [from, to], queried per kind and per
// chunk, deduplicated and sorted newest first.
func (s *Scanner) Scan(ctx context.Context, user common.Address, from, to uint64) ([]Event, error) {
	if from > to {
		return nil, nil
	}
	var events []Event
	for start := from; start <= to; start += s.chunk {
		end := min(start+s.chunk-1, to)
		for _, kind := range []Kind{KindBuy, KindSell} {
			logs, err := s.src.FilterLogs(ctx, s.query(user, []common.Hash{Topic(kind)}, start, end))
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("filter %s logs in blocks %d-%d", kind, start, end), err)
			}
			for _, lg := range logs {
				if ev, ok := fromLog(lg, kind, user, s.log); ok {
					events = append(events, ev)
				}
			}
		}
		if end == to {
			break
		}
	}
	events = Dedupe(events)
	SortNewestFirst(events)
	s.log.Debug("scanned order logs", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("events", len(events)))
	return events, nil
}

func (s *Scanner) query(user common.Address, topic0 []common.Hash, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.orders},
		Topics:    [][]common.Hash{topic0, {common.BytesToHash(user.Bytes())}},
	}
}

// liveQuery matches both kinds from block from onward.
func (s *Scanner) liveQuery(user common.Address, from uint64) ethereum.FilterQuery {
	q := s.query(user, []common.Hash{Topic(KindBuy), Topic(KindSell)}, from, from)
	q.ToBlock = nil
	return q
}
