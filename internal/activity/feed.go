package activity

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/logging"
	"go.uber.org/zap"
)

// Subscriber is satisfied by *ethclient.Client on websocket endpoints.
type Subscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

const DefaultPageSize = 5

type FeedOptions struct {
	BlockWindow  uint64
	PageSize     int
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Feed is a user's order history, newest first, with a growing visible count.
type Feed struct {
	scanner  *Scanner
	resolver *Resolver
	user     common.Address
	window   uint64
	pageSize int
	poll     time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	events []Event
	seen   map[Key]struct{}
	show   int
	oldest uint64 // lowest block scanned
	newest uint64 // highest block scanned
	loaded bool
}

func NewFeed(scanner *Scanner, resolver *Resolver, user common.Address, opts FeedOptions) *Feed {
	window := opts.BlockWindow
	if window == 0 {
		window = DefaultBlockWindow
	}
	page := opts.PageSize
	if page <= 0 {
		page = DefaultPageSize
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Feed{
		scanner:  scanner,
		resolver: resolver,
		user:     user,
		window:   window,
		pageSize: page,
		poll:     poll,
		log:      logging.OrNop(opts.Logger).With(zap.String("user", user.Hex())),
		seen:     map[Key]struct{}{},
		show:     page,
	}
}

// Load backfills [head-window, head].
func (f *Feed) Load(ctx context.Context) error {
	head, err := f.scanner.Head(ctx)
	if err != nil {
		return err
	}
	from := uint64(0)
	if head > f.window {
		from = head - f.window
	}
	events, err := f.scanner.Scan(ctx, f.user, from, head)
	if err != nil {
		return err
	}
	f.resolver.Stamp(ctx, events)
	f.mu.Lock()
	f.oldest, f.newest, f.loaded = from, head, true
	f.mu.Unlock()
	f.Merge(events)
	return nil
}

// Merge adds events not already present. Existing entries are never
// overwritten. It returns how many were added.
func (f *Feed) Merge(events []Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := 0
	for _, e := range events {
		k := e.Key()
		if _, ok := f.seen[k]; ok {
			continue
		}
		f.seen[k] = struct{}{}
		f.events = append(f.events, e)
		added++
		if e.BlockNumber > f.newest {
			f.newest = e.BlockNumber
		}
	}
	if added > 0 {
		SortNewestFirst(f.events)
	}
	return added
}

// Apply classifies and merges one batch of live logs.
func (f *Feed) Apply(ctx context.Context, logs []types.Log) int {
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if ev, ok := fromLog(lg, "", f.user, f.log); ok {
			events = append(events, ev)
		}
	}
	events = Dedupe(events)
	f.resolver.Stamp(ctx, events)
	return f.Merge(events)
}

// Visible returns the first show-count events.
func (f *Feed) Visible() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(f.show, len(f.events))
	return append([]Event(nil), f.events[:n]...)
}

// All returns the whole in-memory superset.
func (f *Feed) All() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// LoadMore raises the visible count by one page. The window only extends
// backwards once the in-memory superset cannot fill the new count.
func (f *Feed) LoadMore(ctx context.Context) ([]Event, error) {
	f.mu.Lock()
	f.show += f.pageSize
	exhausted := f.show > len(f.events) && f.loaded && f.oldest > 0
	oldest := f.oldest
	f.mu.Unlock()

	if exhausted {
		to := oldest - 1
		from := uint64(0)
		if to > f.window {
			from = to - f.window
		}
		events, err := f.scanner.Scan(ctx, f.user, from, to)
		if err != nil {
			return f.Visible(), err
		}
		f.resolver.Stamp(ctx, events)
		f.mu.Lock()
		f.oldest = from
		f.mu.Unlock()
		f.Merge(events)
	}
	return f.Visible(), nil
}

// Watch keeps the feed live until ctx is done. With a subscriber it streams
// logs; otherwise it polls from the last scanned block. onUpdate runs after
// every batch that added events.
func (f *Feed) Watch(ctx context.Context, sub Subscriber, onUpdate func([]Event)) error {
	if sub != nil {
		return f.watchSubscription(ctx, sub, onUpdate)
	}
	return f.watchPolling(ctx, onUpdate)
}

func (f *Feed) watchSubscription(ctx context.Context, sub Subscriber, onUpdate func([]Event)) error {
	f.mu.Lock()
	from := f.newest + 1
	f.mu.Unlock()
	ch := make(chan types.Log, 64)
	subscription, err := sub.SubscribeFilterLogs(ctx, f.scanner.liveQuery(f.user, from), ch)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "subscribe to order logs", err)
	}
	defer subscription.Unsubscribe()
	f.log.Info("watching order logs", zap.String("mode", "subscription"))
	// Logs mined between the last scan and the subscription start.
	if err := f.pollOnce(ctx, onUpdate); err != nil {
		f.log.Warn("order log catch-up failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subscription.Err():
			if err == nil {
				return nil
			}
			return clierr.Wrap(clierr.CodeUnavailable, "order log subscription", err)
		case lg := <-ch:
			batch := []types.Log{lg}
		drain:
			for {
				select {
				case more := <-ch:
					batch = append(batch, more)
				default:
					break drain
				}
			}
			if f.Apply(ctx, batch) > 0 && onUpdate != nil {
				onUpdate(f.Visible())
			}
		}
	}
}

func (f *Feed) watchPolling(ctx context.Context, onUpdate func([]Event)) error {
	f.log.Info("watching order logs", zap.String("mode", "polling"), zap.Duration("interval", f.poll))
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.pollOnce(ctx, onUpdate); err != nil {
				f.log.Warn("order log poll failed", zap.Error(err))
			}
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context, onUpdate func([]Event)) error {
	head, err := f.scanner.Head(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	from := f.newest + 1
	f.mu.Unlock()
	if head < from {
		return nil
	}
	events, err := f.scanner.Scan(ctx, f.user, from, head)
	if err != nil {
		return err
	}
	f.resolver.Stamp(ctx, events)
	added := f.Merge(events)
	f.mu.Lock()
	if head > f.newest {
		f.newest = head
	}
	f.mu.Unlock()
	if added > 0 && onUpdate != nil {
		onUpdate(f.Visible())
	}
	return nil
}
