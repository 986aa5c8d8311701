// Package sqlite implements the token store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/shopspring/decimal"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/storage"
	"token-sniffer/internal/storage/migrations"
)

const dbName = "sqlite"

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// UpsertToken inserts or updates a token. Returns ErrVerdictConflict if a final
// verdict would change.
func (s *Store) UpsertToken(ctx context.Context, t *domain.TokenRecord) (err error) {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observability.RecordDBQuery(dbName, "upsert_token", start, err) }()

	factors := t.Factors
	if factors == nil {
		factors = []domain.RiskFactor{}
	}
	encoded, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (
			mint, name, symbol, creator, created_at, decimals, verdict, score, factors,
			signature, uri, initial_buy, market_cap_sol, assessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mint) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			creator = excluded.creator,
			created_at = excluded.created_at,
			decimals = excluded.decimals,
			verdict = CASE WHEN tokens.verdict = 'pending' THEN excluded.verdict ELSE tokens.verdict END,
			score = CASE WHEN tokens.verdict = 'pending' THEN excluded.score ELSE tokens.score END,
			factors = CASE WHEN tokens.verdict = 'pending' THEN excluded.factors ELSE tokens.factors END,
			signature = excluded.signature,
			uri = excluded.uri,
			initial_buy = excluded.initial_buy,
			market_cap_sol = excluded.market_cap_sol,
			assessed_at = CASE WHEN tokens.verdict = 'pending' THEN excluded.assessed_at ELSE tokens.assessed_at END
		WHERE tokens.verdict = 'pending' OR tokens.verdict = excluded.verdict
	`,
		t.Mint, t.Name, t.Symbol, t.Creator, t.CreatedAt, t.Decimals, string(t.Verdict), t.Score,
		string(encoded), t.Signature, t.URI, t.InitialBuy, t.MarketCapSol, t.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			mint, run_id, run_at, top_n, holder_count, price_usd, price_available, dropped, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mint) DO UPDATE SET
			run_id = excluded.run_id,
			run_at = excluded.run_at,
			top_n = excluded.top_n,
			holder_count = excluded.holder_count,
			price_usd = excluded.price_usd,
			price_available = excluded.price_available,
			dropped = excluded.dropped,
			duration_ms = excluded.duration_ms
	`,
		run.Mint, run.ID, run.RunAt, run.TopN, run.HolderCount,
		run.PriceUSD.String(), run.PriceAvailable, run.Dropped, run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wallet_metrics WHERE mint = ?`, run.Mint); err != nil {
		return fmt.Errorf("delete wallet metrics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_metrics (
			mint, wallet, token_account, rank, balance_raw, decimals, balance, balance_usd,
			total_transactions, successful_trades, failed_trades, global_transactions,
			distinct_tokens_traded, last_active_at, partial_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare wallet insert: %w", err)
	}
	defer stmt.Close()

	for _, w := range run.Wallets {
		_, err := stmt.ExecContext(ctx,
			run.Mint, w.Wallet, w.TokenAccount, w.Rank,
			strconv.FormatUint(w.BalanceRaw, 10), w.Decimals, w.Balance.String(), w.BalanceUSD.String(),
			w.TotalTransactions, w.SuccessfulTrades, w.FailedTrades, w.GlobalTransactions,
			w.DistinctTokensTraded, w.LastActiveAt, w.PartialData,
		)
		if err != nil {
			return fmt.Errorf("insert wallet %s: %w", w.Wallet, err)
		}
	}

	if err := tx.Commit(); err != nil {
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

	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE mint = ?`, mint)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := s.db.QueryContext(ctx, `SELECT `+tokenColumns+`
		FROM tokens
		WHERE (? = '' OR verdict = ?) AND created_at >= ?
		ORDER BY created_at DESC, mint ASC
		LIMIT ?
	`, string(f.Verdict), string(f.Verdict), f.Since, f.EffectiveLimit())
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
	err = s.db.QueryRowContext(ctx, `
		SELECT mint, run_id, run_at, top_n, holder_count, price_usd, price_available, dropped, duration_ms
		FROM analysis_runs
		WHERE mint = ?
	`, mint).Scan(
		&run.Mint, &run.ID, &run.RunAt, &run.TopN, &run.HolderCount,
		&price, &run.PriceAvailable, &run.Dropped, &run.DurationMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT mint, wallet, token_account, rank, balance_raw, decimals, balance, balance_usd,
			total_transactions, successful_trades, failed_trades, global_transactions,
			distinct_tokens_traded, last_active_at, partial_data
		FROM wallet_metrics
		WHERE mint = ?
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

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*domain.TokenRecord, error) {
	var (
		t       domain.TokenRecord
		verdict string
		factors string
	)

	err := row.Scan(
		&t.Mint, &t.Name, &t.Symbol, &t.Creator, &t.CreatedAt, &t.Decimals, &verdict, &t.Score,
		&factors, &t.Signature, &t.URI, &t.InitialBuy, &t.MarketCapSol, &t.AssessedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Verdict = domain.Verdict(verdict)
	if err := json.Unmarshal([]byte(factors), &t.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	return &t, nil
}
