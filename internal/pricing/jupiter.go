package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/ilkamo/jupiter-go/jupiter"
	"github.com/shopspring/decimal"

	"token-sniffer/internal/observability"
)

// USDCMint is the mint quoted against.
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

const (
	usdcDecimals = 6
	// quoteUnits is the raw amount of the token sold in a price quote.
	quoteUnits = 1_000_000
	// slippage does not affect outAmount but the API requires a value.
	quoteSlippageBps = 100
)

// JupiterSource prices tokens from a Jupiter swap quote into USDC.
type JupiterSource struct {
	client *jupiter.ClientWithResponses
}

// NewJupiterSource creates a source against apiURL (jupiter.DefaultAPIURL when empty).
func NewJupiterSource(apiURL string) (*JupiterSource, error) {
	if apiURL == "" {
		apiURL = jupiter.DefaultAPIURL
	}
	client, err := jupiter.NewClientWithResponses(apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jupiter client: %w", err)
	}
	return &JupiterSource{client: client}, nil
}

// PriceUSD implements Source.
func (s *JupiterSource) PriceUSD(ctx context.Context, mint string, decimals int) (price decimal.Decimal, err error) {
	start := time.Now()
	defer func() {
		observability.RecordUpstreamCall("jupiter", "quote", start, err)
	}()

	slippage := quoteSlippageBps
	resp, err := s.client.GetQuoteWithResponse(ctx, &jupiter.GetQuoteParams{
		InputMint:   mint,
		OutputMint:  USDCMint,
		Amount:      quoteUnits,
		SlippageBps: &slippage,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get quote: %w", err)
	}
	if resp.JSON200 == nil {
		return decimal.Zero, fmt.Errorf("%w: quote status %d", ErrPriceUnavailable, resp.StatusCode())
	}

	return QuotePrice(resp.JSON200.OutAmount, quoteUnits, decimals)
}

// QuotePrice converts a quote of inUnits raw token units into outAmount raw
// USDC units to the USD price of one whole token.
func QuotePrice(outAmount string, inUnits int64, decimals int) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(outAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse outAmount %q: %w", outAmount, err)
	}
	if inUnits <= 0 || out.Sign() <= 0 {
		return decimal.Zero, ErrPriceUnavailable
	}
	usd := out.Shift(-usdcDecimals)
	tokens := decimal.NewFromInt(inUnits).Shift(int32(-decimals))
	return usd.Div(tokens), nil
}
