package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/fixedpoint"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/model"
	"github.com/spoutfi/spout-cli/internal/providers"
	"github.com/spoutfi/spout-cli/internal/vault"
)

// maxSequenceTxs bounds the transactions of one sequence: approve, join,
// hope and a retried frob.
const maxSequenceTxs = 4

type vaultWriteOutput struct {
	*vault.Result
	Position *vault.Position `json:"position,omitempty"`
	// Counters are this process's sequence counters, keyed name,label=value.
	Counters map[string]float64 `json:"counters,omitempty"`
}

func (s *runtimeState) newVaultCommand() *cobra.Command {
	root := &cobra.Command{Use: "vault", Short: "Vault position and sequence commands"}
	root.AddCommand(s.newVaultListCommand())
	root.AddCommand(s.newVaultShowCommand())
	root.AddCommand(s.newVaultOpenCommand())
	root.AddCommand(s.newVaultAmountCommand("deposit", "Approve, join and lock collateral into the vault", collateralUnits,
		func(ctx context.Context, svc *vault.Service, ilk id.Ilk, amount *big.Int) (*vault.Result, error) {
			return svc.Deposit(ctx, ilk, amount)
		}))
	root.AddCommand(s.newVaultAmountCommand("withdraw", "Free collateral from the vault and exit it to the wallet", collateralUnits,
		func(ctx context.Context, svc *vault.Service, ilk id.Ilk, amount *big.Int) (*vault.Result, error) {
			return svc.Withdraw(ctx, ilk, amount)
		}))
	root.AddCommand(s.newVaultAmountCommand("borrow", "Draw stablecoin debt against the vault", stablecoinUnits,
		func(ctx context.Context, svc *vault.Service, ilk id.Ilk, amount *big.Int) (*vault.Result, error) {
			return svc.Borrow(ctx, ilk, amount)
		}))
	root.AddCommand(s.newVaultAmountCommand("repay", "Return stablecoin and wipe vault debt", stablecoinUnits,
		func(ctx context.Context, svc *vault.Service, ilk id.Ilk, amount *big.Int) (*vault.Result, error) {
			return svc.Repay(ctx, ilk, amount)
		}))
	return root
}

func (s *runtimeState) newVaultListCommand() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's vaults with risk metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := s.resolveOwner(owner)
			if err != nil {
				return err
			}
			return s.runLedgerRead(trimRootPath(cmd.CommandPath()), func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				svc, err := s.ensureVaults(ctx, false)
				if err != nil {
					return nil, nil, nil, false, err
				}
				positions, err := svc.List(ctx, addr)
				statuses := []model.ProviderStatus{ledgerStatus(start, err)}
				if err != nil {
					return nil, statuses, nil, false, err
				}
				var warnings []string
				for _, pos := range positions {
					for _, w := range pos.Warnings {
						warnings = append(warnings, pos.Ilk+": "+w)
					}
				}
				return positions, statuses, warnings, len(warnings) > 0, nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Vault owner address (defaults to the signer)")
	return cmd
}

func (s *runtimeState) newVaultShowCommand() *cobra.Command {
	var (
		ilkArg    string
		owner     string
		priceArg  string
		priceFeed bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one vault's ledger state, health and borrowing capacity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ilk, err := id.ParseIlk(ilkArg)
			if err != nil {
				return err
			}
			addr, err := s.resolveOwner(owner)
			if err != nil {
				return err
			}
			var override *big.Rat
			if strings.TrimSpace(priceArg) != "" {
				if priceFeed {
					return clierr.New(clierr.CodeUsage, "use either --price or --price-feed, not both")
				}
				p, ok := new(big.Rat).SetString(strings.TrimSpace(priceArg))
				if !ok || p.Sign() <= 0 {
					return clierr.New(clierr.CodeUsage, "--price must be a positive decimal")
				}
				override = p
			}
			return s.runLedgerRead(trimRootPath(cmd.CommandPath()), func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				svc, err := s.ensureVaults(ctx, false)
				if err != nil {
					return nil, nil, nil, false, err
				}
				var statuses []model.ProviderStatus
				var warnings []string
				if priceFeed {
					p, status, err := s.collateralPrice(ctx, ilk)
					statuses = append(statuses, status)
					if err != nil {
						warnings = append(warnings, "price feed unavailable: "+err.Error())
					} else {
						override = p
					}
				}
				pos, err := svc.Position(ctx, ilk, addr, override)
				statuses = append(statuses, ledgerStatus(start, err))
				if err != nil {
					return nil, statuses, warnings, false, err
				}
				warnings = append(warnings, pos.Warnings...)
				return pos, statuses, warnings, len(warnings) > 0, nil
			})
		},
	}
	cmd.Flags().StringVar(&ilkArg, "ilk", "", "Collateral type ticker or 0x identifier")
	cmd.Flags().StringVar(&owner, "owner", "", "Vault owner address (defaults to the signer)")
	cmd.Flags().StringVar(&priceArg, "price", "", "Collateral USD price override")
	cmd.Flags().BoolVar(&priceFeed, "price-feed", false, "Quote the collateral price from the market-data feed")
	_ = cmd.MarkFlagRequired("ilk")
	return cmd
}

// collateralPrice quotes ilk's collateral token from the price feed.
func (s *runtimeState) collateralPrice(ctx context.Context, ilk id.Ilk) (*big.Rat, model.ProviderStatus, error) {
	start := time.Now()
	feed := s.ensurePriceFeed()
	status := model.ProviderStatus{Name: feed.Info().Name}
	col, err := s.ledger.Contracts().CollateralFor(ilk)
	if err != nil {
		status.Status = statusFromErr(err)
		return nil, status, err
	}
	quote, err := feed.Price(ctx, providers.PriceRequest{Chain: id.ChainFromID(s.conn.chainID), Token: col.Gem.Hex()})
	status.Status = statusFromErr(err)
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return nil, status, err
	}
	p, ok := new(big.Rat).SetString(quote.PriceUSD)
	if !ok {
		return nil, status, clierr.New(clierr.CodeUnavailable, "price feed returned a malformed price")
	}
	return p, status, nil
}

func ledgerStatus(start time.Time, err error) model.ProviderStatus {
	return model.ProviderStatus{Name: "ledger", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}
}

func (s *runtimeState) newVaultOpenCommand() *cobra.Command {
	var ilkArg string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Register a new vault for a collateral type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ilk, err := id.ParseIlk(ilkArg)
			if err != nil {
				return err
			}
			ctx, cancel := s.writeContext()
			defer cancel()
			svc, err := s.ensureVaults(ctx, true)
			if err != nil {
				return err
			}
			res, err := svc.Open(ctx, ilk)
			return s.emitWrite(cmd, res, err)
		},
	}
	cmd.Flags().StringVar(&ilkArg, "ilk", "", "Collateral type ticker or 0x identifier")
	_ = cmd.MarkFlagRequired("ilk")
	return mutating(cmd)
}

// amountUnits resolves the base-unit decimals of a command's --amount.
type amountUnits func(ctx context.Context, s *runtimeState, ilk id.Ilk) (int, error)

func collateralUnits(ctx context.Context, s *runtimeState, ilk id.Ilk) (int, error) {
	col, err := s.ledger.Contracts().CollateralFor(ilk)
	if err != nil {
		return 0, err
	}
	decimals, err := s.ledger.TokenDecimals(ctx, col.Gem)
	if err != nil {
		return 0, err
	}
	return int(decimals), nil
}

func stablecoinUnits(context.Context, *runtimeState, id.Ilk) (int, error) {
	return fixedpoint.WadDecimals, nil
}

type vaultOp func(ctx context.Context, svc *vault.Service, ilk id.Ilk, amount *big.Int) (*vault.Result, error)

func (s *runtimeState) newVaultAmountCommand(use, short string, units amountUnits, op vaultOp) *cobra.Command {
	var ilkArg, amount, amountRaw string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ilk, err := id.ParseIlk(ilkArg)
			if err != nil {
				return err
			}
			if strings.TrimSpace(amount) == "" && strings.TrimSpace(amountRaw) == "" {
				return clierr.New(clierr.CodeUsage, "--amount or --amount-raw is required")
			}
			ctx, cancel := s.writeContext()
			defer cancel()
			svc, err := s.ensureVaults(ctx, true)
			if err != nil {
				return err
			}
			decimals, err := units(ctx, s, ilk)
			if err != nil {
				return err
			}
			base, _, err := id.NormalizeAmount(amount, amountRaw, decimals)
			if err != nil {
				return err
			}
			res, err := op(ctx, svc, ilk, base)
			return s.emitWrite(cmd, res, err)
		},
	}
	cmd.Flags().StringVar(&ilkArg, "ilk", "", "Collateral type ticker or 0x identifier")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in decimal units")
	cmd.Flags().StringVar(&amountRaw, "amount-raw", "", "Amount in base units")
	_ = cmd.MarkFlagRequired("ilk")
	return mutating(cmd)
}

// writeContext bounds a whole sequence and cancels it on interrupt.
func (s *runtimeState) writeContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout+maxSequenceTxs*s.settings.ReceiptTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// emitWrite renders a sequence outcome with the position refreshed after the
// write. Confirmation-pending sequences are a success with a warning; failures
// keep the journal id in the diagnostics.
func (s *runtimeState) emitWrite(cmd *cobra.Command, res *vault.Result, err error) error {
	path := trimRootPath(cmd.CommandPath())
	if err != nil && (res == nil || !res.Pending) {
		if res != nil {
			s.captureCommandDiagnostics([]string{fmt.Sprintf("sequence journaled as %s; inspect with `actions show %s`", res.Action.ActionID, res.Action.ActionID)}, nil, clierr.Is(err, clierr.CodePartialSuccess))
		}
		return err
	}
	output, warnings := s.writeOutput(res)
	return s.emitSuccess(path, output, warnings, cacheMetaBypass(), nil, false)
}

func (s *runtimeState) writeOutput(res *vault.Result) (vaultWriteOutput, []string) {
	var warnings []string
	if res.Pending {
		warnings = append(warnings, fmt.Sprintf("transaction broadcast but not yet confirmed; check with `actions resume %s`", res.Action.ActionID))
	}
	output := vaultWriteOutput{Result: res, Position: s.refreshed}
	switch {
	case s.refreshErr != nil:
		warnings = append(warnings, "position refresh failed: "+s.refreshErr.Error())
	case s.refreshed != nil:
		warnings = append(warnings, s.refreshed.Warnings...)
	}
	if snap, err := s.metrics.Snapshot(); err == nil && len(snap) > 0 {
		output.Counters = snap
	}
	return output, warnings
}
