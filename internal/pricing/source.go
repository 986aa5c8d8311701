// Package pricing resolves USD prices for token balances.
package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when a source has no price for a mint.
var ErrPriceUnavailable = errors.New("price unavailable")

// Source returns the USD price of one whole token.
type Source interface {
	PriceUSD(ctx context.Context, mint string, decimals int) (decimal.Decimal, error)
}

// Static serves fixed prices, keyed by mint.
type Static map[string]decimal.Decimal

// PriceUSD implements Source.
func (s Static) PriceUSD(_ context.Context, mint string, _ int) (decimal.Decimal, error) {
	p, ok := s[mint]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return p, nil
}

// None never has a price.
type None struct{}

// PriceUSD implements Source.
func (None) PriceUSD(context.Context, string, int) (decimal.Decimal, error) {
	return decimal.Zero, ErrPriceUnavailable
}
