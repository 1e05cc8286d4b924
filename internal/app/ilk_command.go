package app

import (
	"strings"

	"github.com/spf13/cobra"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/model"
)

func (s *runtimeState) newIlkCommand() *cobra.Command {
	root := &cobra.Command{Use: "ilk", Short: "Collateral type identifier commands"}

	encode := &cobra.Command{
		Use:   "encode <ticker>",
		Short: "Encode a collateral ticker as its 32-byte ledger identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticker := strings.ToUpper(strings.TrimSpace(args[0]))
			if ticker == "" {
				return clierr.New(clierr.CodeUsage, "ticker is required")
			}
			ilk, err := id.EncodeIlk(ticker)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "encode ilk", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.IlkEncoding{Ticker: ilk.String(), Hex: ilk.Hex()}, nil, cacheMetaBypass(), nil, false)
		},
	}

	decode := &cobra.Command{
		Use:   "decode <0xhex>",
		Short: "Decode a 32-byte ledger identifier back to its ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(args[0])
			if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
				return clierr.New(clierr.CodeUsage, "ilk identifier must be 0x followed by 64 hex characters")
			}
			ilk, err := id.ParseIlk(raw)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.IlkEncoding{Ticker: ilk.String(), Hex: ilk.Hex()}, nil, cacheMetaBypass(), nil, false)
		},
	}

	root.AddCommand(encode)
	root.AddCommand(decode)
	return root
}
