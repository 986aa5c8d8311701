package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/storage"
	"token-sniffer/internal/storage/postgres"
)

func testToken(mint string, createdAt int64, v domain.Verdict) *domain.TokenRecord {
	return &domain.TokenRecord{
		Mint:      mint,
		Name:      "Test " + mint,
		Symbol:    "TST",
		Creator:   "creator1",
		CreatedAt: createdAt,
		Decimals:  6,
		Verdict:   v,
	}
}

func testRun(mint string, runAt int64, wallets ...string) *domain.AnalysisRun {
	run := &domain.AnalysisRun{
		ID:             mint + "-run",
		Mint:           mint,
		RunAt:          runAt,
		TopN:           20,
		HolderCount:    len(wallets),
		PriceUSD:       decimal.RequireFromString("0.000123456789"),
		PriceAvailable: true,
		DurationMs:     42,
	}
	for i, w := range wallets {
		run.Wallets = append(run.Wallets, domain.WalletMetrics{
			Wallet:            w,
			TokenAccount:      "acc-" + w,
			Rank:              i + 1,
			BalanceRaw:        ^uint64(0) - uint64(i),
			Decimals:          6,
			Balance:           decimal.RequireFromString("18446744073709.551615"),
			BalanceUSD:        decimal.RequireFromString("2277.372"),
			TotalTransactions: 5,
			SuccessfulTrades:  4,
			FailedTrades:      1,
			LastActiveAt:      1700000000000,
		})
	}
	return run
}

func TestStore_TokenRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewStore(pool)
	ctx := context.Background()

	tok := testToken("mint1", 1000, domain.VerdictRejected)
	tok.Score = 12000
	tok.Factors = []domain.RiskFactor{
		{Tag: "freeze-authority-present", Severity: domain.SeverityDanger, Description: "can freeze"},
		{Tag: "low-liquidity", Severity: domain.SeverityWarn},
	}
	tok.InitialBuy = 1234.5
	tok.AssessedAt = 2000
	require.NoError(t, store.UpsertToken(ctx, tok))

	got, err := store.GetToken(ctx, "mint1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictRejected, got.Verdict)
	assert.Equal(t, 12000.0, got.Score)
	assert.Equal(t, tok.Factors, got.Factors)
	assert.Equal(t, 1234.5, got.InitialBuy)
	assert.Equal(t, int64(2000), got.AssessedAt)

	_, err = store.GetToken(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_VerdictTransitions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewStore(pool)
	ctx := context.Background()

	tok := testToken("mint1", 1000, domain.VerdictPending)
	require.NoError(t, store.UpsertToken(ctx, tok))

	tok.Verdict = domain.VerdictApproved
	tok.Score = 80
	require.NoError(t, store.UpsertToken(ctx, tok), "pending may be upgraded")
	tok.AssessedAt = 2000
	require.NoError(t, store.UpsertToken(ctx, tok), "pending may be upgraded")

	repeat := tok.Clone()
	repeat.Score = 1
	repeat.AssessedAt = 3000
	repeat.Factors = []domain.RiskFactor{{Tag: "copycat", Severity: domain.SeverityWarn}}
	require.NoError(t, store.UpsertToken(ctx, repeat), "same verdict is idempotent")

	tok.Verdict = domain.VerdictRejected
	assert.True(t, errors.Is(store.UpsertToken(ctx, tok), storage.ErrVerdictConflict))

	tok.Verdict = domain.VerdictPending
	assert.True(t, errors.Is(store.UpsertToken(ctx, tok), storage.ErrVerdictConflict))

	got, err := store.GetToken(ctx, "mint1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictApproved, got.Verdict)
	assert.Equal(t, float64(80), got.Score)
	assert.Equal(t, int64(2000), got.AssessedAt)
	assert.Empty(t, got.Factors)
}

func TestStore_UpsertAnalysisRun(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewStore(pool)
	ctx := context.Background()

	run := testRun("mint1", 5000, "w1", "w2", "w3")
	require.NoError(t, store.UpsertAnalysisRun(ctx, run))
	require.NoError(t, store.UpsertAnalysisRun(ctx, run), "upsert is idempotent")

	traders, err := store.ListTopTraders(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, traders, 3)
	assert.Equal(t, "w1", traders[0].Wallet)
	assert.Equal(t, ^uint64(0), traders[0].BalanceRaw)
	assert.True(t, traders[0].Balance.Equal(decimal.RequireFromString("18446744073709.551615")))
	assert.True(t, traders[0].BalanceUSD.Equal(decimal.RequireFromString("2277.372")))
	assert.Equal(t, 4, traders[0].SuccessfulTrades)
	assert.Equal(t, 3, traders[2].Rank)

	got, err := store.GetAnalysisRun(ctx, "mint1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, got.PriceUSD.Equal(run.PriceUSD))
	assert.Len(t, got.Wallets, 3)

	// Replacement drops wallets absent from the new run.
	require.NoError(t, store.UpsertAnalysisRun(ctx, testRun("mint1", 6000, "w9")))
	traders, err = store.ListTopTraders(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "w9", traders[0].Wallet)

	empty, err := store.ListTopTraders(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = store.GetAnalysisRun(ctx, "unknown")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_UpsertAnalysisRunRejectsInconsistentCounts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewStore(pool)
	ctx := context.Background()

	require.NoError(t, store.UpsertAnalysisRun(ctx, testRun("mint1", 5000, "w1")))

	bad := testRun("mint1", 6000, "w2")
	bad.Wallets[0].SuccessfulTrades = 10
	err := store.UpsertAnalysisRun(ctx, bad)
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	// The failed transaction left the previous run intact.
	traders, err := store.ListTopTraders(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, traders, 1)
	assert.Equal(t, "w1", traders[0].Wallet)
}

func TestStore_ListTokens(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewStore(pool)
	ctx := context.Background()

	require.NoError(t, store.UpsertToken(ctx, testToken("a", 100, domain.VerdictApproved)))
	require.NoError(t, store.UpsertToken(ctx, testToken("b", 300, domain.VerdictRejected)))
	require.NoError(t, store.UpsertToken(ctx, testToken("c", 200, domain.VerdictApproved)))

	all, err := store.ListTokens(ctx, storage.TokenFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Mint)
	assert.Equal(t, "a", all[2].Mint)

	approved, err := store.ListTokens(ctx, storage.TokenFilter{Verdict: domain.VerdictApproved, Since: 150})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "c", approved[0].Mint)

	limited, err := store.ListTokens(ctx, storage.TokenFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
