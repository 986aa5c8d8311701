package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"token-sniffer/internal/solana"
)

// HeliusSource reads the price_info block of the DAS asset.
type HeliusSource struct {
	assets solana.AssetClient
}

// NewHeliusSource creates a source backed by DAS getAsset.
func NewHeliusSource(assets solana.AssetClient) *HeliusSource {
	return &HeliusSource{assets: assets}
}

// PriceUSD implements Source.
func (s *HeliusSource) PriceUSD(ctx context.Context, mint string, _ int) (decimal.Decimal, error) {
	asset, err := s.assets.GetAsset(ctx, mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get asset: %w", err)
	}
	if asset.PricePerToken == nil {
		return decimal.Zero, ErrPriceUnavailable
	}
	// DAS quotes in USDC; anything else is not a USD price.
	if c := strings.ToUpper(asset.Currency); c != "" && c != "USDC" && c != "USD" {
		return decimal.Zero, fmt.Errorf("%w: currency %s", ErrPriceUnavailable, asset.Currency)
	}
	return decimal.NewFromFloat(*asset.PricePerToken), nil
}
