package app

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/model"
	"github.com/spoutfi/spout-cli/internal/providers"
)

const priceTTL = 60 * time.Second

func (s *runtimeState) newPriceCommand() *cobra.Command {
	var token, chainArg string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Quote a token's USD price from the market-data feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !id.IsAddress(token) {
				return clierr.New(clierr.CodeUsage, "--token must be an EVM address")
			}
			chain := id.ChainFromID(s.settings.ChainID)
			if chainArg != "" {
				parsed, err := id.ParseChain(chainArg)
				if err != nil {
					return err
				}
				chain = parsed
			}
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path, map[string]any{"chain": chain.CAIP2, "token": strings.ToLower(token)})
			return s.runCachedCommand(path, key, priceTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				feed := s.ensurePriceFeed()
				start := time.Now()
				quote, err := feed.Price(ctx, providers.PriceRequest{Chain: chain, Token: token})
				statuses := []model.ProviderStatus{{Name: feed.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, statuses, nil, false, err
				}
				return quote, statuses, nil, false, nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Token contract address")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain slug, id or CAIP-2 (defaults to --chain-id)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
