package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spoutfi/spout-cli/internal/activity"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/ledger"
	"github.com/spoutfi/spout-cli/internal/model"
	"go.uber.org/zap"
)

type activityOutput struct {
	User   string           `json:"user"`
	Orders string           `json:"orders_contract"`
	Total  int              `json:"total_loaded"`
	Events []activity.Event `json:"events"`
}

func (s *runtimeState) newActivityCommand() *cobra.Command {
	var (
		user  string
		limit int
		pages int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show a user's buy and sell order history, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 || pages < 1 {
				return clierr.New(clierr.CodeUsage, "--limit must be >= 0 and --pages >= 1")
			}
			addr, err := s.resolveOwner(user)
			if err != nil {
				return err
			}
			contracts, err := ledger.ParseContracts(s.settings.Contracts)
			if err != nil {
				return err
			}
			if contracts.Orders == (common.Address{}) {
				return clierr.New(clierr.CodeUsage, "contracts.orders is not configured")
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			conn, err := s.connect(ctx)
			if err != nil {
				return err
			}
			feed := s.newFeed(conn, contracts.Orders, addr, limit)
			err = feed.Load(ctx)
			for i := 1; err == nil && i < pages; i++ {
				_, err = feed.LoadMore(ctx)
			}
			statuses := []model.ProviderStatus{ledgerStatus(start, err)}
			if err != nil {
				s.captureCommandDiagnostics(nil, statuses, false)
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			emit := func(events []activity.Event) error {
				data := activityOutput{User: addr.Hex(), Orders: contracts.Orders.Hex(), Total: len(feed.All()), Events: events}
				return s.emitSuccess(path, data, nil, cacheMetaBypass(), statuses, false)
			}
			if err := emit(feed.Visible()); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			var sub activity.Subscriber
			if conn.subscribes() {
				sub = conn.client
			}
			err = feed.Watch(watchCtx, sub, func(events []activity.Event) {
				if err := emit(events); err != nil {
					s.log().Warn("render activity update failed", zap.Error(err))
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Account whose orders to list (defaults to the signer)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Events per page (defaults to activity.page_size)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Pages to load, extending the block window backwards as needed")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep streaming new orders until interrupted")
	return cmd
}

func (s *runtimeState) newFeed(conn *chainConn, orders, user common.Address, limit int) *activity.Feed {
	cfg := s.settings.Activity
	pageSize := cfg.PageSize
	if limit > 0 {
		pageSize = limit
	}
	scanner := activity.NewScanner(conn.client, orders, activity.ScannerOptions{ChunkSize: cfg.ChunkSize, Logger: s.log()})
	resolver := activity.NewResolver(conn.client, activity.ResolverOptions{
		Concurrency: cfg.LookupConcurrency,
		RPS:         cfg.LookupRPS,
		Logger:      s.log(),
	})
	return activity.NewFeed(scanner, resolver, user, activity.FeedOptions{
		BlockWindow:  cfg.BlockWindow,
		PageSize:     pageSize,
		PollInterval: s.settings.ReadPollInterval,
		Logger:       s.log(),
	})
}
