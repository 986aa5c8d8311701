package storage

import (
	"context"
	"fmt"

	"token-sniffer/internal/domain"
)

// Store persists tokens and their latest trader analysis.
type Store interface {
	// UpsertToken inserts or updates a token by mint. Idempotent. A pending verdict
	// may be upgraded; a final verdict is never replaced by a different one
	// (ErrVerdictConflict), and its score, factors and assessment time are kept.
	UpsertToken(ctx context.Context, t *domain.TokenRecord) error

	// UpsertAnalysisRun atomically replaces the run and wallet rows of the run's mint.
	UpsertAnalysisRun(ctx context.Context, run *domain.AnalysisRun) error

	// GetToken retrieves a token by mint. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, mint string) (*domain.TokenRecord, error)

	// GetAnalysisRun retrieves the latest run of a mint with its wallets ordered by rank.
	// Returns ErrNotFound if the token was never analyzed.
	GetAnalysisRun(ctx context.Context, mint string) (*domain.AnalysisRun, error)

	// ListTopTraders returns the wallets of the latest run ordered by rank.
	// Empty when the token was never analyzed.
	ListTopTraders(ctx context.Context, mint string) ([]domain.WalletMetrics, error)

	// ListTokens returns tokens matching the filter, newest first.
	ListTokens(ctx context.Context, f TokenFilter) ([]*domain.TokenRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// Default and maximum page size of ListTokens.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// TokenFilter selects tokens for ListTokens.
type TokenFilter struct {
	Verdict domain.Verdict // empty matches all
	Since   int64          // CreatedAt >= Since (ms), 0 matches all
	Limit   int            // 0 means DefaultListLimit, capped at MaxListLimit
}

// EffectiveLimit returns the clamped limit.
func (f TokenFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// WalletSnapshot is a wallet's metrics as recorded by one run.
type WalletSnapshot struct {
	RunID string
	RunAt int64
	domain.WalletMetrics
}

// HistoryStore keeps every run's wallet metrics, append-only.
type HistoryStore interface {
	// AppendRun records all wallets of a run.
	AppendRun(ctx context.Context, run *domain.AnalysisRun) error

	// WalletHistory returns the snapshots of a wallet for a mint, newest first.
	WalletHistory(ctx context.Context, mint, wallet string, limit int) ([]WalletSnapshot, error)
}

// ValidateToken checks the fields every store requires.
func ValidateToken(t *domain.TokenRecord) error {
	if t == nil || t.Mint == "" || !t.Verdict.IsValid() {
		return ErrInvalidInput
	}
	return nil
}

// ValidateRun checks the fields every store requires.
func ValidateRun(run *domain.AnalysisRun) error {
	if run == nil || run.Mint == "" || run.ID == "" {
		return ErrInvalidInput
	}
	for _, w := range run.Wallets {
		if w.Wallet == "" {
			return ErrInvalidInput
		}
		if w.SuccessfulTrades+w.FailedTrades > w.TotalTransactions {
			return fmt.Errorf("%w: trade counts exceed total for %s", ErrInvalidInput, w.Wallet)
		}
	}
	return nil
}
