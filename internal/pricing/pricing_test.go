package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sniffer/internal/solana"
)

func TestQuotePrice(t *testing.T) {
	// 1_000_000 raw units of a 6-decimal token = 1 token, sold for 0.25 USDC.
	p, err := QuotePrice("250000", 1_000_000, 6)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("0.25")), p.String())

	// Same quote for a 9-decimal token: 0.001 tokens for 0.25 USDC.
	p, err = QuotePrice("250000", 1_000_000, 9)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(250)), p.String())

	_, err = QuotePrice("0", 1_000_000, 6)
	assert.True(t, errors.Is(err, ErrPriceUnavailable))

	_, err = QuotePrice("abc", 1_000_000, 6)
	assert.Error(t, err)
}

func TestStaticAndNone(t *testing.T) {
	s := Static{"mintA": decimal.RequireFromString("1.5")}

	p, err := s.PriceUSD(context.Background(), "mintA", 6)
	require.NoError(t, err)
	assert.Equal(t, "1.5", p.String())

	_, err = s.PriceUSD(context.Background(), "mintB", 6)
	assert.True(t, errors.Is(err, ErrPriceUnavailable))

	_, err = None{}.PriceUSD(context.Background(), "mintA", 6)
	assert.True(t, errors.Is(err, ErrPriceUnavailable))
}

type fakeAssets struct {
	asset *solana.Asset
	err   error
}

func (f fakeAssets) GetAsset(context.Context, string) (*solana.Asset, error) {
	return f.asset, f.err
}

func TestHeliusSource(t *testing.T) {
	price := 0.0042
	src := NewHeliusSource(fakeAssets{asset: &solana.Asset{Mint: "m", PricePerToken: &price, Currency: "USDC"}})
	p, err := src.PriceUSD(context.Background(), "m", 6)
	require.NoError(t, err)
	assert.Equal(t, "0.0042", p.String())

	src = NewHeliusSource(fakeAssets{asset: &solana.Asset{Mint: "m"}})
	_, err = src.PriceUSD(context.Background(), "m", 6)
	assert.True(t, errors.Is(err, ErrPriceUnavailable))

	src = NewHeliusSource(fakeAssets{asset: &solana.Asset{Mint: "m", PricePerToken: &price, Currency: "SOL"}})
	_, err = src.PriceUSD(context.Background(), "m", 6)
	assert.True(t, errors.Is(err, ErrPriceUnavailable))

	src = NewHeliusSource(fakeAssets{err: errors.New("boom")})
	_, err = src.PriceUSD(context.Background(), "m", 6)
	assert.Error(t, err)
}
