package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/spoutfi/spout-cli/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	CAIP2      string `json:"caip2"`
	EVMChainID int64  `json:"evm_chain_id"`
}

var chainBySlug = map[string]Chain{
	"ethereum":     {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":      {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"sepolia":      {Name: "Sepolia", Slug: "sepolia", CAIP2: "eip155:11155111", EVMChainID: 11155111},
	"base":         {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"base-sepolia": {Name: "Base Sepolia", Slug: "base-sepolia", CAIP2: "eip155:84532", EVMChainID: 84532},
	"arbitrum":     {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"optimism":     {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"polygon":      {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, c := range chainBySlug {
		if existing, ok := out[c.EVMChainID]; ok && existing.Slug < c.Slug {
			continue
		}
		out[c.EVMChainID] = c
	}
	return out
}()

// ParseChain accepts a slug ("base"), a numeric chain id ("8453") or a CAIP-2 id.
func ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if c, ok := chainBySlug[norm]; ok {
		return c, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	n, err := strconv.ParseInt(norm, 10, 64)
	if err != nil || n <= 0 {
		return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain %q (known: %s)", input, strings.Join(KnownChainSlugs(), ", ")))
	}
	return ChainFromID(n), nil
}

// ChainFromID returns the registered chain or an anonymous EVM chain.
func ChainFromID(chainID int64) Chain {
	if c, ok := chainByID[chainID]; ok {
		return c
	}
	return Chain{
		Name:       fmt.Sprintf("EVM %d", chainID),
		Slug:       strconv.FormatInt(chainID, 10),
		CAIP2:      fmt.Sprintf("eip155:%d", chainID),
		EVMChainID: chainID,
	}
}

func KnownChainSlugs() []string {
	out := make([]string, 0, len(chainBySlug))
	for slug := range chainBySlug {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// IsAddress reports whether input is a 0x-prefixed 20-byte hex address.
func IsAddress(input string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(input))
}
