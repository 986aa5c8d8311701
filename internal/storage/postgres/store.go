package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/storage"
)

const dbName = "postgres"

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// UpsertToken inserts or updates a token. The update only applies while the stored
// verdict is pending or equal to the new one; otherwise ErrVerdictConflict.
func (s *Store) UpsertToken(ctx context.Context, t *domain.TokenRecord) (err error) {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "upsert_token", start, err) }()

	factors, err := marshalFactors(t.Factors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tokens (
			mint, name, symbol, creator, created_at, decimals, verdict, score, factors,
			signature, uri, initial_buy, market_cap_sol, assessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (mint) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			creator = EXCLUDED.creator,
			created_at = EXCLUDED.created_at,
			decimals = EXCLUDED.decimals,
			verdict = CASE WHEN tokens.verdict = 'pending' THEN EXCLUDED.verdict ELSE tokens.verdict END,
			score = CASE WHEN tokens.verdict = 'pending' THEN EXCLUDED.score ELSE tokens.score END,
			factors = CASE WHEN tokens.verdict = 'pending' THEN EXCLUDED.factors ELSE tokens.factors END,
			signature = EXCLUDED.signature,
			uri = EXCLUDED.uri,
			initial_buy = EXCLUDED.initial_buy,
			market_cap_sol = EXCLUDED.market_cap_sol,
			assessed_at = CASE WHEN tokens.verdict = 'pending' THEN EXCLUDED.assessed_at ELSE tokens.assessed_at END,
			updated_at = now()
		WHERE tokens.verdict = 'pending' OR tokens.verdict = EXCLUDED.verdict
	`

	tag, err := s.pool.Exec(ctx, query,
		t.Mint,
		t.Name,
		t.Symbol,
		t.Creator,
		t.CreatedAt,
		t.Decimals,
		string(t.Verdict),
		t.Score,
		factors,
		t.Signature,
		t.URI,
		t.InitialBuy,
		t.MarketCapSol,
		t.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrVerdictConflict
	}
	return nil
}

// UpsertAnalysisRun replaces the run row and all wallet rows of the mint in one transaction.
func (s *Store) UpsertAnalysisRun(ctx context.Context, run *domain.AnalysisRun) (err error) {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "upsert_run", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_runs (
			mint, run_id, run_at, top_n, holder_count, price_usd, price_available, dropped, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9)
		ON CONFLICT (mint) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			run_at = EXCLUDED.run_at,
			top_n = EXCLUDED.top_n,
			holder_count = EXCLUDED.holder_count,
			price_usd = EXCLUDED.price_usd,
			price_available = EXCLUDED.price_available,
			dropped = EXCLUDED.dropped,
			duration_ms = EXCLUDED.duration_ms
	`,
		run.Mint, run.ID, run.RunAt, run.TopN, run.HolderCount,
		run.PriceUSD.String(), run.PriceAvailable, run.Dropped, run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_metrics WHERE mint = $1`, run.Mint); err != nil {
		return fmt.Errorf("delete wallet metrics: %w", err)
	}

	if len(run.Wallets) > 0 {
		batch := &pgx.Batch{}
		for _, w := range run.Wallets {
			batch.Queue(`
				INSERT INTO wallet_metrics (
					mint, wallet, token_account, rank, balance_raw, decimals, balance, balance_usd,
					total_transactions, successful_trades, failed_trades, global_transactions,
					distinct_tokens_traded, last_active_at, partial_data
				) VALUES (
					$1, $2, $3, $4, $5::text::numeric, $6, $7::text::numeric, $8::text::numeric,
					$9, $10, $11, $12, $13, $14, $15
				)
			`,
				run.Mint, w.Wallet, w.TokenAccount, w.Rank,
				strconv.FormatUint(w.BalanceRaw, 10), w.Decimals, w.Balance.String(), w.BalanceUSD.String(),
				w.TotalTransactions, w.SuccessfulTrades, w.FailedTrades, w.GlobalTransactions,
				w.DistinctTokensTraded, w.LastActiveAt, w.PartialData,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isCheckViolation(err) {
				return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
			}
			return fmt.Errorf("insert wallet metrics: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const tokenColumns = `
	mint, name, symbol, creator, created_at, decimals, verdict, score, factors,
	signature, uri, initial_buy, market_cap_sol, assessed_at
`

// GetToken retrieves a token by mint. Returns ErrNotFound if not exists.
func (s *Store) GetToken(ctx context.Context, mint string) (_ *domain.TokenRecord, err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "get_token", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE mint = $1`, mint)
	t, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// ListTokens returns tokens matching the filter, newest first.
func (s *Store) ListTokens(ctx context.Context, f storage.TokenFilter) (_ []*domain.TokenRecord, err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "list_tokens", start, err) }()

	query := `SELECT ` + tokenColumns + `
		FROM tokens
		WHERE ($1::text = '' OR verdict = $1::text) AND created_at >= $2
		ORDER BY created_at DESC, mint ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, string(f.Verdict), f.Since, f.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*domain.TokenRecord, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// GetAnalysisRun retrieves the latest run of a mint with its wallets.
func (s *Store) GetAnalysisRun(ctx context.Context, mint string) (_ *domain.AnalysisRun, err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "get_run", start, err) }()

	var (
		run   domain.AnalysisRun
		price string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT mint, run_id, run_at, top_n, holder_count, price_usd::text, price_available, dropped, duration_ms
		FROM analysis_runs
		WHERE mint = $1
	`, mint).Scan(
		&run.Mint, &run.ID, &run.RunAt, &run.TopN, &run.HolderCount,
		&price, &run.PriceAvailable, &run.Dropped, &run.DurationMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get analysis run: %w", err)
	}
	if run.PriceUSD, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}

	if run.Wallets, err = s.ListTopTraders(ctx, mint); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListTopTraders returns the wallets of the latest run ordered by rank.
func (s *Store) ListTopTraders(ctx context.Context, mint string) (_ []domain.WalletMetrics, err error) {
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "list_traders", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT mint, wallet, token_account, rank, balance_raw::text, decimals, balance::text, balance_usd::text,
			total_transactions, successful_trades, failed_trades, global_transactions,
			distinct_tokens_traded, last_active_at, partial_data
		FROM wallet_metrics
		WHERE mint = $1
		ORDER BY rank ASC
	`, mint)
	if err != nil {
		return nil, fmt.Errorf("list top traders: %w", err)
	}
	defer rows.Close()

	wallets := make([]domain.WalletMetrics, 0)
	for rows.Next() {
		var (
			w                        domain.WalletMetrics
			raw, balance, balanceUSD string
		)
		err := rows.Scan(
			&w.Mint, &w.Wallet, &w.TokenAccount, &w.Rank, &raw, &w.Decimals, &balance, &balanceUSD,
			&w.TotalTransactions, &w.SuccessfulTrades, &w.FailedTrades, &w.GlobalTransactions,
			&w.DistinctTokensTraded, &w.LastActiveAt, &w.PartialData,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet metrics: %w", err)
		}
		if w.BalanceRaw, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("parse balance_raw: %w", err)
		}
		if w.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("parse balance: %w", err)
		}
		if w.BalanceUSD, err = decimal.NewFromString(balanceUSD); err != nil {
			return nil, fmt.Errorf("parse balance_usd: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet metrics: %w", err)
	}
	return wallets, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanToken scans a single row into TokenRecord.
func scanToken(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		t       domain.TokenRecord
		verdict string
		factors []byte
	)

	err := row.Scan(
		&t.Mint,
		&t.Name,
		&t.Symbol,
		&t.Creator,
		&t.CreatedAt,
		&t.Decimals,
		&verdict,
		&t.Score,
		&factors,
		&t.Signature,
		&t.URI,
		&t.InitialBuy,
		&t.MarketCapSol,
		&t.AssessedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Verdict = domain.Verdict(verdict)
	if err := json.Unmarshal(factors, &t.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	return &t, nil
}

func marshalFactors(factors []domain.RiskFactor) ([]byte, error) {
	if factors == nil {
		factors = []domain.RiskFactor{}
	}
	b, err := json.Marshal(factors)
	if err != nil {
		return nil, fmt.Errorf("encode factors: %w", err)
	}
	return b, nil
}
