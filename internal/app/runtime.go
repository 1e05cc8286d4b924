package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/execution"
	execsigner "github.com/spoutfi/spout-cli/internal/execution/signer"
	"github.com/spoutfi/spout-cli/internal/httpx"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/ledger"
	"github.com/spoutfi/spout-cli/internal/logging"
	"github.com/spoutfi/spout-cli/internal/providers"
	"github.com/spoutfi/spout-cli/internal/providers/defillama"
	"github.com/spoutfi/spout-cli/internal/registry"
	"github.com/spoutfi/spout-cli/internal/vault"
	"go.uber.org/zap"
)

// chainConn is the process-wide JSON-RPC connection.
type chainConn struct {
	client  *ethclient.Client
	url     string
	chainID int64
}

// subscribes reports whether the endpoint can stream logs.
func (c *chainConn) subscribes() bool {
	return registry.IsWebsocketURL(c.url)
}

func (s *runtimeState) ensureLogger() error {
	if s.logger != nil {
		return nil
	}
	logger, err := logging.New(s.settings.Log)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
	}
	s.logger = logger
	return nil
}

func (s *runtimeState) log() *zap.Logger {
	return logging.OrNop(s.logger)
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action store", err)
	}
	s.actionStore = store
	return nil
}

func (s *runtimeState) connect(ctx context.Context) (*chainConn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	url, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc endpoint", err)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "dial rpc endpoint", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if s.settings.ChainID > 0 && chainID.Int64() != s.settings.ChainID {
		client.Close()
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc endpoint serves chain %d, expected %d", chainID.Int64(), s.settings.ChainID))
	}
	s.conn = &chainConn{client: client, url: url, chainID: chainID.Int64()}
	s.log().Debug("connected", zap.Int64("chain_id", s.conn.chainID), zap.Bool("subscriptions", s.conn.subscribes()))
	return s.conn, nil
}

func (s *runtimeState) loadSigner() (execsigner.Signer, error) {
	txSigner, err := execsigner.NewLocalSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	return txSigner, nil
}

// resolveOwner returns --owner when set, otherwise the configured signer's address.
func (s *runtimeState) resolveOwner(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if !id.IsAddress(raw) {
			return common.Address{}, clierr.New(clierr.CodeUsage, "--owner must be an EVM address")
		}
		return common.HexToAddress(raw), nil
	}
	txSigner, err := execsigner.NewLocalSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeUsage, "--owner is required when no signer key is configured", err)
	}
	return txSigner.Address(), nil
}

// ensureLedger builds the cached ledger client. Write commands pass
// withSigner so the first client built carries the signing key.
func (s *runtimeState) ensureLedger(ctx context.Context, withSigner bool) (*ledger.Cached, error) {
	if s.ledger != nil {
		return s.ledger, nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	contracts, err := ledger.ParseContracts(s.settings.Contracts)
	if err != nil {
		return nil, err
	}
	opts := ledger.Options{
		Contracts:     contracts,
		PollInterval:  s.settings.TxPollInterval,
		GasMultiplier: s.settings.GasMultiplier,
		Logger:        s.log(),
	}
	if withSigner {
		txSigner, err := s.loadSigner()
		if err != nil {
			return nil, err
		}
		opts.Signer = txSigner
	}
	client, err := ledger.NewRPCClient(ctx, conn.client, opts)
	if err != nil {
		return nil, err
	}
	s.ledger = ledger.NewCached(client, s.settings.ReadCacheTTL)
	return s.ledger, nil
}

func (s *runtimeState) ensureVaults(ctx context.Context, withSigner bool) (*vault.Service, error) {
	if s.vaults != nil {
		return s.vaults, nil
	}
	client, err := s.ensureLedger(ctx, withSigner)
	if err != nil {
		return nil, err
	}
	if s.locks == nil {
		s.locks = vault.NewFileLocks(filepath.Join(filepath.Dir(s.settings.ActionLockPath), "vault-locks"))
	}
	opts := vault.Options{
		Locks:          s.locks,
		Observer:       s.progressObserver(),
		Metrics:        s.metrics,
		Logger:         s.log(),
		ReceiptTimeout: s.settings.ReceiptTimeout,
		SettleDelay:    s.settings.SettleDelay,
		Refresh:        s.refreshPosition,
	}
	if s.actionStore != nil {
		opts.Journal = s.actionStore
	}
	s.vaults = vault.NewService(client, opts)
	return s.vaults, nil
}

// refreshPosition re-reads the vault a sequence just changed. The reader
// cache was dropped before this runs, so every read reaches the ledger.
func (s *runtimeState) refreshPosition(ctx context.Context, ev vault.RefreshEvent) {
	s.refreshed, s.refreshErr = nil, nil
	if ev.Ilk.IsZero() {
		return
	}
	pos, err := s.vaults.Position(ctx, ev.Ilk, ev.Owner, nil)
	if err != nil {
		s.log().Warn("post-write position read failed", zap.String("operation", ev.Operation), zap.Error(err))
		s.refreshErr = err
		return
	}
	s.refreshed = &pos
}

// progressObserver streams transitions to stderr in plain mode, where a
// person is watching. JSON mode keeps stderr for the error envelope.
func (s *runtimeState) progressObserver() vault.Observer {
	if s.settings.OutputMode != "plain" {
		return nil
	}
	return func(t vault.Transition) {
		line := fmt.Sprintf("%s: %s", t.Operation, t.To)
		if t.TxHash != "" {
			line += " tx=" + t.TxHash
		}
		_, _ = fmt.Fprintln(s.runner.stderr, line)
	}
}

func (s *runtimeState) ensurePriceFeed() providers.PriceProvider {
	if s.priceFeed != nil {
		return s.priceFeed
	}
	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries).WithLogger(s.log())
	s.priceFeed = defillama.New(httpClient, s.settings.DefiLlamaAPIKey)
	return s.priceFeed
}

func (s *runtimeState) close() {
	if s.conn != nil {
		s.conn.client.Close()
	}
	if s.actionStore != nil {
		_ = s.actionStore.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.logger != nil {
		if snap, err := s.metrics.Snapshot(); err == nil && len(snap) > 0 {
			s.logger.Debug("sequence counters", zap.Any("counters", snap))
		}
		_ = s.logger.Sync()
	}
}
