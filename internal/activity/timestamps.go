package activity

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spoutfi/spout-cli/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// HeaderSource is satisfied by *ethclient.Client.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type ResolverOptions struct {
	Concurrency int
	// RPS caps header lookups per second. Zero disables throttling.
	RPS    float64
	Logger *zap.Logger
}

// Resolver maps block numbers to millisecond timestamps. Successful lookups
// are cached for the resolver's lifetime.
type Resolver struct {
	src         HeaderSource
	limiter     *rate.Limiter
	concurrency int
	log         *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	cache map[uint64]int64
}

func NewResolver(src HeaderSource, opts ResolverOptions) *Resolver {
	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = max(1, int(opts.RPS))
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Resolver{
		src:         src,
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: concurrency,
		log:         logging.OrNop(opts.Logger),
		now:         time.Now,
		cache:       map[uint64]int64{},
	}
}

// Resolve fetches every distinct uncached block once. A block whose header
// cannot be read is stamped with the current time and retried next call.
func (r *Resolver) Resolve(ctx context.Context, blocks []uint64) map[uint64]int64 {
	out := make(map[uint64]int64, len(blocks))
	var missing []uint64
	r.mu.Lock()
	for _, b := range blocks {
		if _, done := out[b]; done {
			continue
		}
		if ts, ok := r.cache[b]; ok {
			out[b] = ts
			continue
		}
		out[b] = 0
		missing = append(missing, b)
	}
	r.mu.Unlock()
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, b := range missing {
		g.Go(func() error {
			ts, ok := r.lookup(ctx, b)
			mu.Lock()
			out[b] = ts
			mu.Unlock()
			if ok {
				r.mu.Lock()
				r.cache[b] = ts
				r.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) lookup(ctx context.Context, block uint64) (int64, bool) {
	if err := r.limiter.Wait(ctx); err != nil {
		r.log.Debug("timestamp lookup throttled out", zap.Uint64("block", block), zap.Error(err))
		return r.now().UnixMilli(), false
	}
	header, err := r.src.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil || header == nil {
		r.log.Debug("block timestamp unavailable, using now", zap.Uint64("block", block), zap.Error(err))
		return r.now().UnixMilli(), false
	}
	return int64(header.Time) * 1000, true
}

// Stamp fills TimestampMS on every event.
func (r *Resolver) Stamp(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	blocks := make([]uint64, 0, len(events))
	for _, e := range events {
		blocks = append(blocks, e.BlockNumber)
	}
	stamps := r.Resolve(ctx, blocks)
	for i := range events {
		events[i].TimestampMS = stamps[events[i].BlockNumber]
	}
}
