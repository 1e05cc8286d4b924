package registry

import (
	"net/url"
	"strings"
)

const (
	// DefiLlamaCoinsURL serves current token prices keyed by "<chain>:<address>".
	DefiLlamaCoinsURL = "https://coins.llama.fi"
)

var defiLlamaChainByID = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
}

// DefiLlamaChain maps an EVM chain id to the coins API chain prefix.
func DefiLlamaChain(chainID int64) (string, bool) {
	v, ok := defiLlamaChainByID[chainID]
	return v, ok
}

// IsWebsocketURL reports whether endpoint supports log subscriptions.
func IsWebsocketURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
		return true
	default:
		return false
	}
}
