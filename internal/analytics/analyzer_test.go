package analytics

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/pricing"
	"token-sniffer/internal/solana"
	"token-sniffer/internal/upstream"
)

const testMint = "MintTest111"

// fakeRPC serves chain data from maps. Token accounts are named "acc-<owner>".
type fakeRPC struct {
	mu          sync.Mutex
	holders     []domain.Holder
	holdersErr  error
	balances    map[string]uint64
	balanceErrs map[string]error
	sigs        map[string][]solana.SignatureInfo
	sigErrs     map[string]error
	txs         map[string]*solana.Transaction
	delay       time.Duration

	holderCalls atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		balances:    make(map[string]uint64),
		balanceErrs: make(map[string]error),
		sigs:        make(map[string][]solana.SignatureInfo),
		sigErrs:     make(map[string]error),
		txs:         make(map[string]*solana.Transaction),
	}
}

func (f *fakeRPC) addHolder(owner string, amount uint64) {
	f.holders = append(f.holders, domain.Holder{Owner: owner, TokenAccount: "acc-" + owner, AmountRaw: amount})
	f.balances["acc-"+owner] = amount
}

func (f *fakeRPC) GetTokenHolders(ctx context.Context, mint string) ([]domain.Holder, error) {
	f.holderCalls.Add(1)
	if f.holdersErr != nil {
		return nil, f.holdersErr
	}
	return f.holders, nil
}

func (f *fakeRPC) GetTokenAccountBalance(ctx context.Context, account string) (*solana.TokenAmount, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.balanceErrs[account]; err != nil {
		return nil, err
	}
	return &solana.TokenAmount{Amount: f.balances[account], Decimals: 6}, nil
}

func (f *fakeRPC) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sigErrs[address]; err != nil {
		return nil, err
	}
	return f.sigs[address], nil
}

func (f *fakeRPC) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[signature]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return tx, nil
}

func newTestAnalyzer(rpc solana.RPCClient, opts Options) *Analyzer {
	opts.RetryBackoff = time.Millisecond
	if opts.Prices == nil {
		opts.Prices = pricing.Static{testMint: decimal.NewFromInt(2)}
	}
	return NewAnalyzer(rpc, opts)
}

func blockTime(sec int64) *int64 { return &sec }

func TestAnalyze_TieBreakByAddress(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("C", 50)
	rpc.addHolder("B", 100)
	rpc.addHolder("A", 100)

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 3)

	assert.Equal(t, "A", run.Wallets[0].Wallet)
	assert.Equal(t, "B", run.Wallets[1].Wallet)
	assert.Equal(t, "C", run.Wallets[2].Wallet)
	for i, w := range run.Wallets {
		assert.Equal(t, i+1, w.Rank)
	}
	assert.True(t, run.PriceAvailable)
	assert.Equal(t, "0.0002", run.Wallets[0].BalanceUSD.String())
}

func TestAnalyze_ConcurrencyBound(t *testing.T) {
	rpc := newFakeRPC()
	rpc.delay = 20 * time.Millisecond
	for i := 0; i < 50; i++ {
		rpc.addHolder(fmt.Sprintf("W%02d", i), uint64(1000+i))
	}

	run, err := newTestAnalyzer(rpc, Options{Concurrency: 10}).Analyze(context.Background(), testMint, 50)
	require.NoError(t, err)

	assert.Len(t, run.Wallets, 50)
	assert.LessOrEqual(t, rpc.maxInFlight.Load(), int32(10))
	assert.Greater(t, rpc.maxInFlight.Load(), int32(1))
}

func TestAnalyze_GlobalLimitAcrossRuns(t *testing.T) {
	rpc := newFakeRPC()
	rpc.delay = 10 * time.Millisecond
	for i := 0; i < 20; i++ {
		rpc.addHolder(fmt.Sprintf("W%02d", i), uint64(1000+i))
	}

	global := semaphore.NewWeighted(3)
	a := newTestAnalyzer(rpc, Options{Concurrency: 10, Global: global})
	b := newTestAnalyzer(rpc, Options{Concurrency: 10, Global: global})

	var wg sync.WaitGroup
	for _, an := range []*Analyzer{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := an.Analyze(context.Background(), testMint, 20)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, rpc.maxInFlight.Load(), int32(3))
}

func TestAnalyze_FailedWalletsAreDropped(t *testing.T) {
	rpc := newFakeRPC()
	for i := 0; i < 20; i++ {
		rpc.addHolder(fmt.Sprintf("W%02d", i), uint64(1000+i))
	}
	for _, w := range []string{"W03", "W07", "W11"} {
		rpc.balanceErrs["acc-"+w] = errors.New("account unavailable")
	}

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)

	require.Len(t, run.Wallets, 17)
	assert.Equal(t, 3, run.Dropped)
	assert.Equal(t, 20, run.HolderCount)
	for i, w := range run.Wallets {
		assert.Equal(t, i+1, w.Rank)
		assert.NotContains(t, []string{"W03", "W07", "W11"}, w.Wallet)
	}
}

func TestAnalyze_TransientWalletErrorIsRetried(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	var calls atomic.Int32
	flaky := &flakyRPC{fakeRPC: rpc, failures: 2, calls: &calls}

	run, err := newTestAnalyzer(flaky, Options{MaxRetries: 2}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)
	assert.Equal(t, int32(3), calls.Load())
}

type flakyRPC struct {
	*fakeRPC
	failures int32
	calls    *atomic.Int32
}

func (f *flakyRPC) GetTokenAccountBalance(ctx context.Context, account string) (*solana.TokenAmount, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, upstream.Transient(errors.New("node busy"))
	}
	return f.fakeRPC.GetTokenAccountBalance(ctx, account)
}

func TestAnalyze_ZeroBalanceAtSnapshotIsDropped(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	rpc.addHolder("B", 90)
	rpc.balances["acc-B"] = 0 // sold between holder list and snapshot

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)
	assert.Equal(t, "A", run.Wallets[0].Wallet)
	assert.Equal(t, 1, run.Dropped)
}

func TestAnalyze_TradeMetrics(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 5_000_000)
	rpc.sigs["acc-A"] = []solana.SignatureInfo{
		{Signature: "t1", BlockTime: blockTime(1700000100)},
		{Signature: "t2", BlockTime: blockTime(1700000050), Err: map[string]interface{}{"InstructionError": 1}},
		{Signature: "t3", BlockTime: nil},
	}
	rpc.sigs["A"] = []solana.SignatureInfo{
		{Signature: "g1", BlockTime: blockTime(1700000200)},
		{Signature: "g2", BlockTime: blockTime(1700000000)},
		{Signature: "g3", BlockTime: blockTime(1699999999)},
	}
	rpc.txs["g1"] = &solana.Transaction{TokenBalances: []solana.TokenBalance{
		{Mint: testMint, Owner: "A"}, {Mint: "other1", Owner: "A"}, {Mint: "other9", Owner: "Z"},
	}}
	rpc.txs["g2"] = &solana.Transaction{TokenBalances: []solana.TokenBalance{{Mint: "other1", Owner: "A"}}}
	// g3 detail is not found and skipped.

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)

	w := run.Wallets[0]
	assert.Equal(t, 3, w.TotalTransactions)
	assert.Equal(t, 2, w.SuccessfulTrades)
	assert.Equal(t, 1, w.FailedTrades)
	assert.LessOrEqual(t, w.SuccessfulTrades+w.FailedTrades, w.TotalTransactions)
	assert.Equal(t, 3, w.GlobalTransactions)
	assert.Equal(t, 2, w.DistinctTokensTraded)
	assert.Equal(t, int64(1700000200000), w.LastActiveAt)
	assert.Equal(t, "5", w.Balance.String())
	assert.Equal(t, "10", w.BalanceUSD.String())
	assert.False(t, w.PartialData)
}

func TestAnalyze_SecondaryFailureMarksPartial(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	rpc.addHolder("B", 90)
	rpc.sigs["acc-A"] = []solana.SignatureInfo{{Signature: "t1"}}
	rpc.sigErrs["A"] = errors.New("wallet history unavailable")

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 2)

	a := run.Wallets[0]
	assert.Equal(t, "A", a.Wallet)
	assert.True(t, a.PartialData)
	assert.Equal(t, 1, a.TotalTransactions)
	assert.Zero(t, a.GlobalTransactions)
	assert.Zero(t, a.DistinctTokensTraded)
	assert.False(t, run.Wallets[1].PartialData)
}

func TestAnalyze_TokenTxFailureKeepsWallet(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	rpc.addHolder("B", 50)
	rpc.sigs["acc-A"] = []solana.SignatureInfo{{Signature: "t1"}}
	rpc.sigErrs["acc-B"] = upstream.Transient(errors.New("node busy"))

	run, err := newTestAnalyzer(rpc, Options{MaxRetries: 1}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 2)
	assert.Zero(t, run.Dropped)

	b := run.Wallets[1]
	assert.Equal(t, "B", b.Wallet)
	assert.True(t, b.PartialData)
	assert.Equal(t, uint64(50), b.BalanceRaw)
	assert.True(t, b.BalanceUSD.Equal(decimal.RequireFromString("0.0001")), b.BalanceUSD.String())
	assert.Zero(t, b.TotalTransactions)
	assert.Zero(t, b.SuccessfulTrades)
	assert.Zero(t, b.FailedTrades)
	assert.False(t, run.Wallets[0].PartialData)
}

func TestAnalyze_TokenTxRetryDoesNotRefetchBalance(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	rpc.sigs["acc-A"] = []solana.SignatureInfo{{Signature: "t1"}}
	counting := &countingRPC{fakeRPC: rpc, sigFailures: 1}

	run, err := newTestAnalyzer(counting, Options{MaxRetries: 2}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)
	assert.Equal(t, 1, run.Wallets[0].TotalTransactions)
	assert.False(t, run.Wallets[0].PartialData)
	assert.Equal(t, int32(1), counting.balanceCalls.Load())
}

// countingRPC counts balance calls and fails the first sigFailures token
// account transaction lists with a transient error.
type countingRPC struct {
	*fakeRPC
	sigFailures  int32
	sigCalls     atomic.Int32
	balanceCalls atomic.Int32
}

func (c *countingRPC) GetTokenAccountBalance(ctx context.Context, account string) (*solana.TokenAmount, error) {
	c.balanceCalls.Add(1)
	return c.fakeRPC.GetTokenAccountBalance(ctx, account)
}

func (c *countingRPC) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if address == "acc-A" && c.sigCalls.Add(1) <= c.sigFailures {
		return nil, upstream.Transient(errors.New("node busy"))
	}
	return c.fakeRPC.GetSignaturesForAddress(ctx, address, opts)
}

func TestAnalyze_SnapshotsEveryTokenAccount(t *testing.T) {
	rpc := newFakeRPC()
	rpc.holders = []domain.Holder{{
		Owner:         "A",
		TokenAccount:  "acc-A1",
		TokenAccounts: []string{"acc-A1", "acc-A2"},
		AmountRaw:     100,
	}}
	rpc.balances["acc-A1"] = 60
	rpc.balances["acc-A2"] = 40
	rpc.sigs["acc-A1"] = []solana.SignatureInfo{{Signature: "t1"}, {Signature: "t2"}}
	rpc.sigs["acc-A2"] = []solana.SignatureInfo{{Signature: "t2"}, {Signature: "t3"}}

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)

	w := run.Wallets[0]
	assert.Equal(t, uint64(100), w.BalanceRaw)
	assert.Equal(t, "acc-A1", w.TokenAccount)
	assert.Equal(t, 3, w.TotalTransactions)
	assert.False(t, w.PartialData)
}

func TestAnalyze_UnreadableSecondAccountMarksPartial(t *testing.T) {
	rpc := newFakeRPC()
	rpc.holders = []domain.Holder{{
		Owner:         "A",
		TokenAccount:  "acc-A1",
		TokenAccounts: []string{"acc-A1", "acc-A2"},
		AmountRaw:     100,
	}}
	rpc.balances["acc-A1"] = 60
	rpc.balanceErrs["acc-A2"] = errors.New("account unavailable")

	run, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)
	assert.Equal(t, uint64(60), run.Wallets[0].BalanceRaw)
	assert.True(t, run.Wallets[0].PartialData)
}

func TestNewAnalyzer_Defaults(t *testing.T) {
	a := NewAnalyzer(newFakeRPC(), Options{})
	assert.Equal(t, DefaultTxDetailLimit, a.opts.TxDetailLimit)
	assert.Equal(t, DefaultSignatureLimit, a.opts.SignatureLimit)
	assert.Equal(t, DefaultConcurrency, a.opts.Concurrency)
	assert.Equal(t, DefaultTopN, a.opts.TopN)
}

func TestAnalyze_PriceUnavailable(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 10)
	rpc.addHolder("B", 20)

	run, err := newTestAnalyzer(rpc, Options{Prices: pricing.None{}}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)

	assert.False(t, run.PriceAvailable)
	require.Len(t, run.Wallets, 2)
	assert.Equal(t, "B", run.Wallets[0].Wallet, "falls back to raw balance order")
	assert.True(t, run.Wallets[0].BalanceUSD.IsZero())
}

func TestAnalyze_MinTransactionsFilter(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	rpc.addHolder("B", 90)
	rpc.sigs["acc-A"] = []solana.SignatureInfo{{Signature: "1"}, {Signature: "2"}}

	run, err := newTestAnalyzer(rpc, Options{MinTransactions: 2}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 1)
	assert.Equal(t, "A", run.Wallets[0].Wallet)
}

func TestAnalyze_TopNLimit(t *testing.T) {
	rpc := newFakeRPC()
	for i := 0; i < 30; i++ {
		rpc.addHolder(fmt.Sprintf("W%02d", i), uint64(100+i))
	}

	run, err := newTestAnalyzer(rpc, Options{TopN: 5}).Analyze(context.Background(), testMint, 0)
	require.NoError(t, err)
	require.Len(t, run.Wallets, 5)
	assert.Equal(t, "W29", run.Wallets[0].Wallet)
	assert.Equal(t, 5, run.TopN)
	assert.Equal(t, 30, run.HolderCount)
}

func TestAnalyze_NoHolders(t *testing.T) {
	rpc := newFakeRPC()

	_, err := newTestAnalyzer(rpc, Options{}).Analyze(context.Background(), testMint, 20)
	assert.True(t, errors.Is(err, ErrNoHolders))
}

func TestAnalyze_HolderFetchFailure(t *testing.T) {
	rpc := newFakeRPC()
	rpc.holdersErr = upstream.Transient(errors.New("timeout"))

	_, err := newTestAnalyzer(rpc, Options{MaxRetries: 2}).Analyze(context.Background(), testMint, 20)
	assert.True(t, errors.Is(err, ErrHolderFetchFailed))
	assert.Equal(t, int32(3), rpc.holderCalls.Load())
}

func TestAnalyze_Cancelled(t *testing.T) {
	rpc := newFakeRPC()
	rpc.delay = time.Second
	for i := 0; i < 5; i++ {
		rpc.addHolder(fmt.Sprintf("W%d", i), 100)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestAnalyzer(rpc, Options{}).Analyze(ctx, testMint, 20)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAnalyze_RunIdentity(t *testing.T) {
	rpc := newFakeRPC()
	rpc.addHolder("A", 100)
	now := time.UnixMilli(1700000000000)

	run, err := newTestAnalyzer(rpc, Options{Now: func() time.Time { return now }}).Analyze(context.Background(), testMint, 20)
	require.NoError(t, err)
	assert.Equal(t, testMint, run.Mint)
	assert.Equal(t, int64(1700000000000), run.RunAt)
	assert.Len(t, run.ID, 64)
}

func TestSelectTop_SkipProgramOwners(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wallet := base58.Encode(pub)

	var pda string
	for i := 0; pda == ""; i++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("pool-%d", i)))
		if s := base58.Encode(h[:]); !solana.IsOnCurve(s) {
			pda = s
		}
	}

	holders := []domain.Holder{
		{Owner: pda, AmountRaw: 1_000_000},
		{Owner: wallet, AmountRaw: 10},
	}

	assert.Len(t, SelectTop(holders, 10, false), 2)
	top := SelectTop(holders, 10, true)
	require.Len(t, top, 1)
	assert.Equal(t, wallet, top[0].Owner)
}

func TestRank(t *testing.T) {
	wallets := []domain.WalletMetrics{
		{Wallet: "c", BalanceRaw: 1, BalanceUSD: decimal.NewFromInt(5)},
		{Wallet: "b", BalanceRaw: 2, BalanceUSD: decimal.NewFromInt(5)},
		{Wallet: "a", BalanceRaw: 2, BalanceUSD: decimal.NewFromInt(5)},
		{Wallet: "d", BalanceRaw: 9, BalanceUSD: decimal.NewFromInt(1)},
	}
	Rank(wallets)

	var order []string
	for _, w := range wallets {
		order = append(order, w.Wallet)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, 4, wallets[3].Rank)
}

func TestRawToDecimal(t *testing.T) {
	assert.Equal(t, "1.5", RawToDecimal(1_500_000, 6).String())
	assert.Equal(t, "18446744073709.551615", RawToDecimal(^uint64(0), 6).String())
}
