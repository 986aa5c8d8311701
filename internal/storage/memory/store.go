package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*domain.TokenRecord // keyed by mint
	runs   map[string]*domain.AnalysisRun // latest run keyed by mint
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]*domain.TokenRecord),
		runs:   make(map[string]*domain.AnalysisRun),
	}
}

// UpsertToken inserts or updates a token. Returns ErrVerdictConflict if a final
// verdict would change.
func (s *Store) UpsertToken(_ context.Context, t *domain.TokenRecord) error {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := t.Clone()
	if existing, ok := s.tokens[t.Mint]; ok && existing.Verdict.IsFinal() {
		if existing.Verdict != t.Verdict {
			return storage.ErrVerdictConflict
		}
		// A final assessment is immutable; only token metadata is refreshed.
		c.Score = existing.Score
		c.Factors = existing.Factors
		c.AssessedAt = existing.AssessedAt
	}
	s.tokens[t.Mint] = c
	return nil
}

// UpsertAnalysisRun replaces the latest run of the mint.
func (s *Store) UpsertAnalysisRun(_ context.Context, run *domain.AnalysisRun) error {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}

	c := run.Clone()
	for i := range c.Wallets {
		c.Wallets[i].Mint = c.Mint
	}
	sortByRank(c.Wallets)

	s.mu.Lock()
	s.runs[run.Mint] = c
	s.mu.Unlock()
	return nil
}

// GetToken retrieves a token by mint. Returns ErrNotFound if not exists.
func (s *Store) GetToken(_ context.Context, mint string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// GetAnalysisRun retrieves the latest run of a mint. Returns ErrNotFound if not exists.
func (s *Store) GetAnalysisRun(_ context.Context, mint string) (*domain.AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return run.Clone(), nil
}

// ListTopTraders returns the wallets of the latest run ordered by rank.
func (s *Store) ListTopTraders(_ context.Context, mint string) ([]domain.WalletMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[mint]
	if !ok {
		return []domain.WalletMetrics{}, nil
	}
	return append([]domain.WalletMetrics{}, run.Wallets...), nil
}

// ListTokens returns tokens matching the filter, newest first.
func (s *Store) ListTokens(_ context.Context, f storage.TokenFilter) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	result := make([]*domain.TokenRecord, 0)
	for _, t := range s.tokens {
		if f.Verdict != "" && t.Verdict != f.Verdict {
			continue
		}
		if t.CreatedAt < f.Since {
			continue
		}
		result = append(result, t.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b *domain.TokenRecord) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Mint, b.Mint)
	})
	if limit := f.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func sortByRank(wallets []domain.WalletMetrics) {
	slices.SortStableFunc(wallets, func(a, b domain.WalletMetrics) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
}

var _ storage.Store = (*Store)(nil)
