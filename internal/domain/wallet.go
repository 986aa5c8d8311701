package domain

import "github.com/shopspring/decimal"

// Holder is a wallet holding a token, as returned by the holder list.
type Holder struct {
	Owner         string   // wallet address
	TokenAccount  string   // largest token account of the owner for the mint
	TokenAccounts []string // every token account of the owner for the mint, largest first
	AmountRaw     uint64   // total balance across TokenAccounts, raw units
}

// Accounts returns the token accounts to snapshot for the holder.
func (h Holder) Accounts() []string {
	if len(h.TokenAccounts) > 0 {
		return h.TokenAccounts
	}
	return []string{h.TokenAccount}
}

// WalletTx is one entry of a wallet's transaction list.
type WalletTx struct {
	Signature string
	BlockTime int64 // ms, 0 if unknown
	Failed    bool
}

// WalletActivity is the wallet-wide activity summary.
type WalletActivity struct {
	TotalTransactions int   // recent wallet-wide transactions observed (bounded)
	DistinctMints     int   // unique mints seen in inspected transactions
	LastActiveAt      int64 // ms, 0 if unknown
}

// WalletMetrics are the per-wallet trading metrics of one analysis run.
// Identity is (Mint, Wallet).
type WalletMetrics struct {
	Mint                 string
	Wallet               string
	TokenAccount         string
	Rank                 int             // 1-based position in the run
	BalanceRaw           uint64          // raw integer units
	Decimals             int             // decimal precision of BalanceRaw
	Balance              decimal.Decimal // decimal-adjusted balance
	BalanceUSD           decimal.Decimal // estimated USD value at snapshot time
	TotalTransactions    int             // transactions involving the token
	SuccessfulTrades     int
	FailedTrades         int
	GlobalTransactions   int   // recent wallet-wide transaction count, 0 if unavailable
	DistinctTokensTraded int   // unique mints seen, 0 if unavailable
	LastActiveAt         int64 // ms, 0 if unknown
	PartialData          bool  // some metrics could not be fetched
}

// SuccessRate returns successful / total, 0 when total is 0.
func (w *WalletMetrics) SuccessRate() float64 {
	if w.TotalTransactions == 0 {
		return 0
	}
	return float64(w.SuccessfulTrades) / float64(w.TotalTransactions)
}

// AnalysisRun is one complete trader analysis of a token.
// Identity is (Mint, RunAt); a store keeps only the latest run per mint.
type AnalysisRun struct {
	ID             string          // deterministic hash of mint and run time
	Mint           string          // token mint address
	RunAt          int64           // run start (ms)
	TopN           int             // requested number of holders
	HolderCount    int             // holders returned by the upstream
	PriceUSD       decimal.Decimal // token price used for USD values
	PriceAvailable bool            // false when no price could be resolved
	Wallets        []WalletMetrics // ranked by BalanceUSD desc
	Dropped        int             // selected holders dropped from the run
	DurationMs     int64           // wall time of the run
}

// Clone returns a deep copy of the run.
func (r *AnalysisRun) Clone() *AnalysisRun {
	c := *r
	c.Wallets = append([]WalletMetrics(nil), r.Wallets...)
	return &c
}
