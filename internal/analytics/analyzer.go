// Package analytics computes trading metrics for the top holders of a token.
package analytics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/idhash"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/pricing"
	"token-sniffer/internal/solana"
	"token-sniffer/internal/upstream"
)

// Default configuration values.
const (
	DefaultTopN            = 20
	DefaultConcurrency     = 10
	DefaultGlobalLimit     = 40
	DefaultWalletTimeout   = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultSignatureLimit  = 100
	DefaultTxDetailLimit   = 10
	DefaultTokenDecimals   = 6
	defaultMaxRetryBackoff = 5 * time.Second
)

var (
	// ErrNoHolders means the token has no holders yet. Callers treat it as an empty result.
	ErrNoHolders = errors.New("token has no holders")
	// ErrHolderFetchFailed means the holder list could not be fetched; the run is aborted.
	ErrHolderFetchFailed = errors.New("holder fetch failed")

	errZeroBalance = errors.New("zero balance at snapshot")
)

// Options configures an Analyzer.
type Options struct {
	// TopN is used when Analyze is called with topN <= 0.
	TopN int
	// Concurrency bounds parallel wallet fetches within one run.
	Concurrency int
	// Global bounds parallel wallet fetches across all runs sharing it.
	// When nil a private semaphore of DefaultGlobalLimit is used.
	Global *semaphore.Weighted
	// WalletTimeout bounds all upstream work for one wallet.
	WalletTimeout time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	// SignatureLimit caps each transaction list.
	SignatureLimit int
	// TxDetailLimit is how many recent wallet transactions are inspected for traded mints.
	TxDetailLimit int
	// MinTransactions drops wallets with fewer token transactions. Zero disables the filter.
	MinTransactions int
	// SkipProgramOwners drops holders whose owner is off the ed25519 curve (pools, vaults).
	SkipProgramOwners bool
	Prices            pricing.Source
	Logger            *zap.Logger
	Now               func() time.Time
}

// Analyzer is the trader analytics engine.
type Analyzer struct {
	rpc    solana.RPCClient
	opts   Options
	global *semaphore.Weighted
	retry  upstream.Policy
	log    *zap.Logger
}

// NewAnalyzer creates an Analyzer reading chain data through rpc.
func NewAnalyzer(rpc solana.RPCClient, opts Options) *Analyzer {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Global == nil {
		opts.Global = semaphore.NewWeighted(DefaultGlobalLimit)
	}
	if opts.WalletTimeout <= 0 {
		opts.WalletTimeout = DefaultWalletTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.SignatureLimit <= 0 {
		opts.SignatureLimit = DefaultSignatureLimit
	}
	if opts.TxDetailLimit <= 0 {
		opts.TxDetailLimit = DefaultTxDetailLimit
	}
	if opts.Prices == nil {
		opts.Prices = pricing.None{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Analyzer{
		rpc:    rpc,
		opts:   opts,
		global: opts.Global,
		retry: upstream.Policy{
			MaxRetries:  opts.MaxRetries,
			Backoff:     opts.RetryBackoff,
			MaxBackoff:  defaultMaxRetryBackoff,
			Exponential: true,
		},
		log: opts.Logger.With(zap.String("component", "analytics")),
	}
}

// walletResult is the outcome of one per-wallet task.
type walletResult struct {
	holder  domain.Holder
	metrics *domain.WalletMetrics
	err     error
}

// Analyze ranks the top holders of mint by the USD value of their balance.
// Wallets whose primary data cannot be fetched are dropped; no single wallet
// failure aborts the run.
func (a *Analyzer) Analyze(ctx context.Context, mint string, topN int) (*domain.AnalysisRun, error) {
	if topN <= 0 {
		topN = a.opts.TopN
	}
	start := a.opts.Now()
	log := a.log.With(zap.String("mint", mint))

	holders, err := a.fetchHolders(ctx, mint)
	if err != nil {
		status := "failed"
		if errors.Is(err, ErrNoHolders) {
			status = "no_holders"
		}
		observability.RecordAnalysisRun(status, time.Since(start))
		return nil, err
	}

	selected := SelectTop(holders, topN, a.opts.SkipProgramOwners)
	log.Debug("holders selected", zap.Int("holders", len(holders)), zap.Int("selected", len(selected)))

	results := a.gather(ctx, mint, selected)
	if err := ctx.Err(); err != nil {
		observability.RecordAnalysisRun("cancelled", time.Since(start))
		return nil, fmt.Errorf("analyze %s: %w", mint, err)
	}

	wallets := make([]domain.WalletMetrics, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			log.Debug("wallet dropped", zap.String("wallet", r.holder.Owner), zap.Error(r.err))
			continue
		}
		// Partial wallets may be missing part of their transaction list.
		if a.opts.MinTransactions > 0 && !r.metrics.PartialData && r.metrics.TotalTransactions < a.opts.MinTransactions {
			continue
		}
		wallets = append(wallets, *r.metrics)
	}

	run := &domain.AnalysisRun{
		ID:          idhash.ComputeRunID(mint, start.UnixMilli()),
		Mint:        mint,
		RunAt:       start.UnixMilli(),
		TopN:        topN,
		HolderCount: len(holders),
		Dropped:     len(selected) - len(wallets),
	}

	decimals := DefaultTokenDecimals
	if len(wallets) > 0 {
		decimals = wallets[0].Decimals
	}
	price, err := a.opts.Prices.PriceUSD(ctx, mint, decimals)
	if err != nil {
		log.Warn("token price unavailable", zap.Error(err))
	} else {
		run.PriceUSD = price
		run.PriceAvailable = true
		for i := range wallets {
			wallets[i].BalanceUSD = wallets[i].Balance.Mul(price)
		}
	}

	Rank(wallets)
	run.Wallets = wallets
	run.DurationMs = a.opts.Now().Sub(start).Milliseconds()

	observability.RecordAnalysisRun("ok", time.Since(start))
	log.Info("analysis complete",
		zap.Int("wallets", len(wallets)),
		zap.Int("dropped", run.Dropped),
		zap.Bool("price_available", run.PriceAvailable))

	return run, nil
}

func (a *Analyzer) fetchHolders(ctx context.Context, mint string) ([]domain.Holder, error) {
	var holders []domain.Holder
	err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
		h, err := a.rpc.GetTokenHolders(ctx, mint)
		if err != nil {
			return err
		}
		holders = h
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch holders of %s: %w", mint, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrHolderFetchFailed, err)
	}
	if len(holders) == 0 {
		return nil, ErrNoHolders
	}
	return holders, nil
}

// gather runs one task per holder, at most Concurrency at a time and never more
// than the global semaphore allows. results[i] belongs to holders[i].
func (a *Analyzer) gather(ctx context.Context, mint string, holders []domain.Holder) []walletResult {
	results := make([]walletResult, len(holders))

	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, h := range holders {
		results[i].holder = h
		g.Go(func() error {
			if err := a.global.Acquire(ctx, 1); err != nil {
				results[i].err = err
				return nil
			}
			defer a.global.Release(1)

			observability.DefaultMetrics.WalletFetchesInFlight.Inc()
			defer observability.DefaultMetrics.WalletFetchesInFlight.Dec()

			m, err := a.fetchWallet(ctx, mint, h)
			results[i].metrics, results[i].err = m, err
			switch {
			case err != nil:
				observability.RecordWalletFetch("dropped")
			case m.PartialData:
				observability.RecordWalletFetch("partial")
			default:
				observability.RecordWalletFetch("ok")
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetchWallet collects the metrics of one holder. The holder is dropped only
// when none of its token account balances can be read; any other failure keeps
// it with PartialData set.
func (a *Analyzer) fetchWallet(ctx context.Context, mint string, h domain.Holder) (*domain.WalletMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.WalletTimeout)
	defer cancel()

	m := &domain.WalletMetrics{
		Mint:         mint,
		Wallet:       h.Owner,
		TokenAccount: h.TokenAccount,
	}

	accounts := h.Accounts()
	read := make([]string, 0, len(accounts))
	var balanceErr error
	for _, acc := range accounts {
		b, err := a.fetchBalance(ctx, acc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			balanceErr = err
			continue
		}
		if len(read) == 0 {
			m.Decimals = b.Decimals
		}
		m.BalanceRaw += b.Amount
		read = append(read, acc)
	}
	if len(read) == 0 {
		return nil, balanceErr
	}
	if m.BalanceRaw == 0 {
		return nil, errZeroBalance
	}
	m.Balance = RawToDecimal(m.BalanceRaw, m.Decimals)
	if len(read) < len(accounts) {
		m.PartialData = true
	}

	txs, err := a.fetchTokenTxs(ctx, read)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		m.PartialData = true
	}
	ApplyTrades(m, txs)

	activity, err := a.fetchActivity(ctx, h.Owner)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		m.PartialData = true
	}
	if activity != nil {
		m.GlobalTransactions = activity.TotalTransactions
		m.DistinctTokensTraded = activity.DistinctMints
		m.LastActiveAt = max(m.LastActiveAt, activity.LastActiveAt)
	}

	return m, nil
}

func (a *Analyzer) fetchBalance(ctx context.Context, account string) (*solana.TokenAmount, error) {
	var balance *solana.TokenAmount
	err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
		b, err := a.rpc.GetTokenAccountBalance(ctx, account)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", account, err)
	}
	return balance, nil
}

// fetchTokenTxs merges the transaction lists of the given token accounts.
// Any failed list fails the whole merge.
func (a *Analyzer) fetchTokenTxs(ctx context.Context, accounts []string) ([]domain.WalletTx, error) {
	seen := make(map[string]struct{})
	var merged []solana.SignatureInfo
	for _, acc := range accounts {
		var sigs []solana.SignatureInfo
		err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
			s, err := a.rpc.GetSignaturesForAddress(ctx, acc, &solana.SignaturesOpts{Limit: a.opts.SignatureLimit})
			if err != nil {
				return err
			}
			sigs = s
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("token transactions of %s: %w", acc, err)
		}
		for _, sig := range sigs {
			if _, ok := seen[sig.Signature]; ok {
				continue
			}
			seen[sig.Signature] = struct{}{}
			merged = append(merged, sig)
		}
	}
	return toWalletTxs(merged), nil
}

// fetchActivity summarizes wallet-wide activity. On a detail failure it returns
// the partial summary with DistinctMints zeroed and an error.
func (a *Analyzer) fetchActivity(ctx context.Context, wallet string) (*domain.WalletActivity, error) {
	var sigs []solana.SignatureInfo
	err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
		s, err := a.rpc.GetSignaturesForAddress(ctx, wallet, &solana.SignaturesOpts{Limit: a.opts.SignatureLimit})
		if err != nil {
			return err
		}
		sigs = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("wallet transactions: %w", err)
	}

	activity := &domain.WalletActivity{TotalTransactions: len(sigs)}
	for _, tx := range toWalletTxs(sigs) {
		activity.LastActiveAt = max(activity.LastActiveAt, tx.BlockTime)
	}

	mints := make(map[string]struct{})
	for i := 0; i < len(sigs) && i < a.opts.TxDetailLimit; i++ {
		var tx *solana.Transaction
		err := upstream.Retry(ctx, a.retry, func(ctx context.Context) error {
			t, err := a.rpc.GetTransaction(ctx, sigs[i].Signature)
			if err != nil {
				return err
			}
			tx = t
			return nil
		})
		if errors.Is(err, solana.ErrNotFound) {
			continue
		}
		if err != nil {
			return activity, fmt.Errorf("transaction %s: %w", sigs[i].Signature, err)
		}
		for _, m := range tx.MintsOwnedBy(wallet) {
			mints[m] = struct{}{}
		}
	}
	activity.DistinctMints = len(mints)

	return activity, nil
}

// SelectTop returns up to n holders by raw balance desc, ties by owner asc.
func SelectTop(holders []domain.Holder, n int, skipProgramOwners bool) []domain.Holder {
	sorted := make([]domain.Holder, 0, len(holders))
	for _, h := range holders {
		if h.AmountRaw == 0 {
			continue
		}
		if skipProgramOwners && !solana.IsOnCurve(h.Owner) {
			continue
		}
		sorted = append(sorted, h)
	}
	slices.SortFunc(sorted, func(x, y domain.Holder) int {
		if c := cmp.Compare(y.AmountRaw, x.AmountRaw); c != 0 {
			return c
		}
		return cmp.Compare(x.Owner, y.Owner)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Rank orders wallets by USD value desc, raw balance desc, wallet asc and
// assigns 1-based ranks.
func Rank(wallets []domain.WalletMetrics) {
	slices.SortFunc(wallets, func(x, y domain.WalletMetrics) int {
		if c := y.BalanceUSD.Cmp(x.BalanceUSD); c != 0 {
			return c
		}
		if c := cmp.Compare(y.BalanceRaw, x.BalanceRaw); c != 0 {
			return c
		}
		return cmp.Compare(x.Wallet, y.Wallet)
	})
	for i := range wallets {
		wallets[i].Rank = i + 1
	}
}

// ApplyTrades fills the transaction metrics of m from the token transaction list.
func ApplyTrades(m *domain.WalletMetrics, txs []domain.WalletTx) {
	m.TotalTransactions = len(txs)
	m.SuccessfulTrades, m.FailedTrades = 0, 0
	for _, tx := range txs {
		if tx.Failed {
			m.FailedTrades++
		} else {
			m.SuccessfulTrades++
		}
		m.LastActiveAt = max(m.LastActiveAt, tx.BlockTime)
	}
}

// RawToDecimal converts raw integer units to a decimal amount.
func RawToDecimal(raw uint64, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), int32(-decimals))
}

func toWalletTxs(sigs []solana.SignatureInfo) []domain.WalletTx {
	txs := make([]domain.WalletTx, len(sigs))
	for i, s := range sigs {
		txs[i] = domain.WalletTx{Signature: s.Signature, Failed: s.Failed()}
		if s.BlockTime != nil {
			txs[i].BlockTime = *s.BlockTime * 1000
		}
	}
	return txs
}
