package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/storage"
)

const defaultHistoryLimit = 100

// HistoryStore implements storage.HistoryStore using ClickHouse.
type HistoryStore struct {
	conn *Conn
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(conn *Conn) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// AppendRun inserts one row per wallet of the run in a single batch.
func (s *HistoryStore) AppendRun(ctx context.Context, run *domain.AnalysisRun) (err error) {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}
	if len(run.Wallets) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "append_run", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO wallet_history (
			run_id, run_at, mint, wallet, rank, balance_raw, decimals, balance, balance_usd,
			total_transactions, successful_trades, failed_trades, global_transactions,
			distinct_tokens_traded, last_active_at, partial_data
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, w := range run.Wallets {
		err = batch.Append(
			run.ID, uint64(run.RunAt), run.Mint, w.Wallet, uint32(w.Rank),
			w.BalanceRaw, uint8(w.Decimals), w.Balance, w.BalanceUSD,
			uint32(w.TotalTransactions), uint32(w.SuccessfulTrades), uint32(w.FailedTrades),
			uint32(w.GlobalTransactions), uint32(w.DistinctTokensTraded),
			uint64(w.LastActiveAt), w.PartialData,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// WalletHistory returns the snapshots of a wallet for a mint, newest first.
func (s *HistoryStore) WalletHistory(ctx context.Context, mint, wallet string, limit int) (_ []storage.WalletSnapshot, err error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "wallet_history", start, err) }()

	query := `
		SELECT run_id, run_at, mint, wallet, rank, balance_raw, decimals, balance, balance_usd,
			total_transactions, successful_trades, failed_trades, global_transactions,
			distinct_tokens_traded, last_active_at, partial_data
		FROM wallet_history FINAL
		WHERE mint = ? AND wallet = ?
		ORDER BY run_at DESC, run_id ASC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, mint, wallet, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query wallet history: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]storage.WalletSnapshot, error) {
	snapshots := make([]storage.WalletSnapshot, 0)

	for rows.Next() {
		var (
			snap                                      storage.WalletSnapshot
			runAt, lastActive                         uint64
			rank, total, ok, failed, global, distinct uint32
			decimals                                  uint8
		)

		err := rows.Scan(
			&snap.RunID, &runAt, &snap.Mint, &snap.Wallet, &rank,
			&snap.BalanceRaw, &decimals, &snap.Balance, &snap.BalanceUSD,
			&total, &ok, &failed, &global, &distinct, &lastActive, &snap.PartialData,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet history row: %w", err)
		}

		snap.RunAt = int64(runAt)
		snap.Rank = int(rank)
		snap.Decimals = int(decimals)
		snap.TotalTransactions = int(total)
		snap.SuccessfulTrades = int(ok)
		snap.FailedTrades = int(failed)
		snap.GlobalTransactions = int(global)
		snap.DistinctTokensTraded = int(distinct)
		snap.LastActiveAt = int64(lastActive)
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet history rows: %w", err)
	}

	return snapshots, nil
}
