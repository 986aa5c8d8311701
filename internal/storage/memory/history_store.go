package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
type HistoryStore struct {
	mu        sync.RWMutex
	snapshots map[historyKey][]storage.WalletSnapshot
}

type historyKey struct {
	mint   string
	wallet string
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{snapshots: make(map[historyKey][]storage.WalletSnapshot)}
}

// AppendRun records all wallets of a run.
func (s *HistoryStore) AppendRun(_ context.Context, run *domain.AnalysisRun) error {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range run.Wallets {
		w.Mint = run.Mint
		k := historyKey{run.Mint, w.Wallet}
		s.snapshots[k] = append(s.snapshots[k], storage.WalletSnapshot{RunID: run.ID, RunAt: run.RunAt, WalletMetrics: w})
	}
	return nil
}

// WalletHistory returns the snapshots of a wallet for a mint, newest first.
func (s *HistoryStore) WalletHistory(_ context.Context, mint, wallet string, limit int) ([]storage.WalletSnapshot, error) {
	s.mu.RLock()
	result := append([]storage.WalletSnapshot{}, s.snapshots[historyKey{mint, wallet}]...)
	s.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b storage.WalletSnapshot) int {
		return cmp.Compare(b.RunAt, a.RunAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.HistoryStore = (*HistoryStore)(nil)
