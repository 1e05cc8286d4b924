package providers

import (
	"context"

	"github.com/spoutfi/spout-cli/internal/id"
	"github.com/spoutfi/spout-cli/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

type PriceRequest struct {
	Chain id.Chain
	Token string
}

// PriceProvider quotes USD prices for collateral tokens.
type PriceProvider interface {
	Provider
	Price(ctx context.Context, req PriceRequest) (model.TokenPrice, error)
}
