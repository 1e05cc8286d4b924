package defillama

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	clierr "github.com/spoutfi/spout-cli/internal/errors"
	"github.com/spoutfi/spout-cli/internal/httpx"
	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/model"
	"github.com/spoutfi/spout-cli/internal/providers"
	"github.com/spoutfi/spout-cli/internal/registry"
)

const (
	defaultProBase = "https://pro-api.llama.fi"
	KeyEnvVar      = "SPOUT_DEFILLAMA_API_KEY"
)

type Client struct {
	http      *httpx.Client
	coinsBase string
	apiKey    string
}

var _ providers.PriceProvider = (*Client)(nil)

// New builds a coins API client. With an API key requests go to the pro
// endpoint.
func New(httpClient *httpx.Client, apiKey string) *Client {
	base := registry.DefiLlamaCoinsURL
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		base = defaultProBase + "/" + apiKey + "/coins"
	}
	return &Client{http: httpClient, coinsBase: base, apiKey: apiKey}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "defillama",
		Type:          "price",
		RequiresKey:   false,
		Capabilities:  []string{"price.current"},
		KeyEnvVarName: KeyEnvVar,
	}
}

type coinsResp struct {
	Coins map[string]coinEntry `json:"coins"`
}

type coinEntry struct {
	Decimals   int     `json:"decimals"`
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

func (c *Client) Price(ctx context.Context, req providers.PriceRequest) (model.TokenPrice, error) {
	prefix, ok := registry.DefiLlamaChain(req.Chain.EVMChainID)
	if !ok {
		return model.TokenPrice{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no price feed for chain %s", req.Chain.CAIP2))
	}
	if !id.IsAddress(req.Token) {
		return model.TokenPrice{}, clierr.New(clierr.CodeUsage, "token must be an EVM address")
	}
	coin := prefix + ":" + strings.ToLower(req.Token)

	resp, err := c.fetch(ctx, coin)
	if err != nil {
		return model.TokenPrice{}, err
	}
	entry, ok := lookupCoin(resp.Coins, coin)
	if !ok || entry.Price <= 0 {
		return model.TokenPrice{}, clierr.New(clierr.CodeUnavailable, "price feed has no quote for "+coin)
	}
	return model.TokenPrice{
		Chain:      req.Chain.Slug,
		ChainID:    req.Chain.CAIP2,
		Token:      req.Token,
		Symbol:     entry.Symbol,
		Decimals:   entry.Decimals,
		PriceUSD:   strconv.FormatFloat(entry.Price, 'f', -1, 64),
		Confidence: entry.Confidence,
		Timestamp:  time.Unix(entry.Timestamp, 0).UTC(),
		Provider:   "defillama",
	}, nil
}

func (c *Client) fetch(ctx context.Context, coin string) (coinsResp, error) {
	url := c.coinsBase + "/prices/current/" + coin
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return coinsResp{}, clierr.Wrap(clierr.CodeInternal, "build price request", err)
	}
	var resp coinsResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return coinsResp{}, err
	}
	return resp, nil
}

func lookupCoin(coins map[string]coinEntry, coin string) (coinEntry, bool) {
	if entry, ok := coins[coin]; ok {
		return entry, true
	}
	for k, entry := range coins {
		if strings.EqualFold(k, coin) {
			return entry, true
		}
	}
	return coinEntry{}, false
}
