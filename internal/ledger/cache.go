package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spoutfi/spout-cli/internal/id"
)

const (
	DefaultReadTTL = 5 * time.Second

	readCacheSize = 1024
)

// Cached wraps a Client with an in-memory TTL cache over its reads, keyed by
// method and arguments. Nothing is persisted. Invalidate must be called after
// every successful write so derived metrics never outlive a state change.
type Cached struct {
	Client

	entries *expirable.LRU[string, any]
}

var _ Client = (*Cached)(nil)

func NewCached(client Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultReadTTL
	}
	return &Cached{Client: client, entries: expirable.NewLRU[string, any](readCacheSize, nil, ttl)}
}

// Invalidate drops every cached read.
func (c *Cached) Invalidate() {
	c.entries.Purge()
}

// Len reports the number of cached reads.
func (c *Cached) Len() int {
	return c.entries.Len()
}

func (c *Cached) get(key string) (any, bool) {
	return c.entries.Get(key)
}

func (c *Cached) put(key string, value any) {
	c.entries.Add(key, value)
}

func cacheKey(method string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, a := range args {
		switch v := a.(type) {
		case common.Address:
			parts = append(parts, strings.ToLower(v.Hex()))
		case id.Ilk:
			parts = append(parts, v.Hex())
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "|")
}

func cachedRead[T any](c *Cached, key string, fetch func() (T, error), clone func(T) T) (T, error) {
	if v, ok := c.get(key); ok {
		return clone(v.(T)), nil
	}
	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.put(key, v)
	return clone(v), nil
}

func same[T any](v T) T { return v }

func (c *Cached) Urn(ctx context.Context, ilk id.Ilk, owner common.Address) (Urn, error) {
	return cachedRead(c, cacheKey("urn", ilk, owner), func() (Urn, error) {
		return c.Client.Urn(ctx, ilk, owner)
	}, Urn.clone)
}

func (c *Cached) Ilk(ctx context.Context, ilk id.Ilk) (IlkState, error) {
	return cachedRead(c, cacheKey("ilk", ilk), func() (IlkState, error) {
		return c.Client.Ilk(ctx, ilk)
	}, IlkState.clone)
}

func (c *Cached) Mat(ctx context.Context, ilk id.Ilk) (*big.Int, error) {
	return cachedRead(c, cacheKey("mat", ilk), func() (*big.Int, error) {
		return c.Client.Mat(ctx, ilk)
	}, cloneInt)
}

func (c *Cached) Par(ctx context.Context) (*big.Int, error) {
	return cachedRead(c, cacheKey("par"), func() (*big.Int, error) {
		return c.Client.Par(ctx)
	}, cloneInt)
}

func (c *Cached) Can(ctx context.Context, owner, usr common.Address) (bool, error) {
	return cachedRead(c, cacheKey("can", owner, usr), func() (bool, error) {
		return c.Client.Can(ctx, owner, usr)
	}, same[bool])
}

func (c *Cached) Debt(ctx context.Context) (*big.Int, error) {
	return cachedRead(c, cacheKey("debt"), func() (*big.Int, error) {
		return c.Client.Debt(ctx)
	}, cloneInt)
}

func (c *Cached) StablecoinBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return cachedRead(c, cacheKey("dai", owner), func() (*big.Int, error) {
		return c.Client.StablecoinBalance(ctx, owner)
	}, cloneInt)
}

func (c *Cached) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return cachedRead(c, cacheKey("balance", token, owner), func() (*big.Int, error) {
		return c.Client.TokenBalance(ctx, token, owner)
	}, cloneInt)
}

func (c *Cached) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return cachedRead(c, cacheKey("allowance", token, owner, spender), func() (*big.Int, error) {
		return c.Client.TokenAllowance(ctx, token, owner, spender)
	}, cloneInt)
}

func (c *Cached) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	return cachedRead(c, cacheKey("decimals", token), func() (uint8, error) {
		return c.Client.TokenDecimals(ctx, token)
	}, same[uint8])
}

func (c *Cached) VaultIDs(ctx context.Context, owner common.Address) ([]uint64, error) {
	return cachedRead(c, cacheKey("vault_ids", owner), func() ([]uint64, error) {
		return c.Client.VaultIDs(ctx, owner)
	}, func(v []uint64) []uint64 { return append([]uint64(nil), v...) })
}

func (c *Cached) VaultInfo(ctx context.Context, vaultID uint64) (VaultInfo, error) {
	return cachedRead(c, cacheKey("vault_info", vaultID), func() (VaultInfo, error) {
		return c.Client.VaultInfo(ctx, vaultID)
	}, same[VaultInfo])
}

// Fresh returns the uncached client for reads that must hit the ledger,
// such as the balance re-check right before a join.
func (c *Cached) Fresh() Client {
	return c.Client
}
