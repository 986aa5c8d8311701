// Package notify publishes pipeline outcomes to external consumers.
package notify

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"token-sniffer/internal/domain"
)

// Notifier is told about every assessed token and every completed analysis run.
type Notifier interface {
	TokenAssessed(ctx context.Context, t *domain.TokenRecord) error
	RunCompleted(ctx context.Context, run *domain.AnalysisRun) error
	Close() error
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) TokenAssessed(context.Context, *domain.TokenRecord) error { return nil }
func (Nop) RunCompleted(context.Context, *domain.AnalysisRun) error  { return nil }
func (Nop) Close() error                                             { return nil }

// Multi fans a notification out to every notifier. All notifiers are called;
// their errors are joined.
type Multi []Notifier

func (m Multi) TokenAssessed(ctx context.Context, t *domain.TokenRecord) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.TokenAssessed(ctx, t))
	}
	return errors.Join(errs...)
}

func (m Multi) RunCompleted(ctx context.Context, run *domain.AnalysisRun) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.RunCompleted(ctx, run))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.Close())
	}
	return errors.Join(errs...)
}

// TokenEvent is the published form of an assessed token.
type TokenEvent struct {
	Mint       string              `json:"mint"`
	Name       string              `json:"name"`
	Symbol     string              `json:"symbol"`
	Creator    string              `json:"creator"`
	CreatedAt  int64               `json:"created_at"`
	Verdict    domain.Verdict      `json:"verdict"`
	Score      float64             `json:"score"`
	Factors    []domain.RiskFactor `json:"factors"`
	AssessedAt int64               `json:"assessed_at"`
}

// NewTokenEvent converts a token record.
func NewTokenEvent(t *domain.TokenRecord) TokenEvent {
	factors := t.Factors
	if factors == nil {
		factors = []domain.RiskFactor{}
	}
	return TokenEvent{
		Mint:       t.Mint,
		Name:       t.Name,
		Symbol:     t.Symbol,
		Creator:    t.Creator,
		CreatedAt:  t.CreatedAt,
		Verdict:    t.Verdict,
		Score:      t.Score,
		Factors:    factors,
		AssessedAt: t.AssessedAt,
	}
}

// RunEvent is the published summary of an analysis run.
type RunEvent struct {
	RunID          string          `json:"run_id"`
	Mint           string          `json:"mint"`
	RunAt          int64           `json:"run_at"`
	Wallets        int             `json:"wallets"`
	Dropped        int             `json:"dropped"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	PriceAvailable bool            `json:"price_available"`
	TopWallet      string          `json:"top_wallet,omitempty"`
	TopBalanceUSD  decimal.Decimal `json:"top_balance_usd"`
	DurationMs     int64           `json:"duration_ms"`
}

// NewRunEvent summarizes a run.
func NewRunEvent(run *domain.AnalysisRun) RunEvent {
	ev := RunEvent{
		RunID:          run.ID,
		Mint:           run.Mint,
		RunAt:          run.RunAt,
		Wallets:        len(run.Wallets),
		Dropped:        run.Dropped,
		PriceUSD:       run.PriceUSD,
		PriceAvailable: run.PriceAvailable,
		DurationMs:     run.DurationMs,
	}
	if len(run.Wallets) > 0 {
		ev.TopWallet = run.Wallets[0].Wallet
		ev.TopBalanceUSD = run.Wallets[0].BalanceUSD
	}
	return ev
}
