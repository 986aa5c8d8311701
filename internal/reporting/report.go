// Package reporting renders a token and its trader analysis for humans and spreadsheets.
package reporting

import (
	"time"

	"token-sniffer/internal/domain"
)

// Report is the one-shot analysis of a single token.
type Report struct {
	GeneratedAt time.Time
	Token       *domain.TokenRecord
	Run         *domain.AnalysisRun // nil when the token was not analyzed
	Summary     Summary
}

// Summary aggregates the wallets of a run.
type Summary struct {
	Wallets           int
	PartialWallets    int
	TotalTransactions int
	SuccessfulTrades  int
	FailedTrades      int
	SuccessRate       float64 // over all wallets' transactions
	MostActiveWallet  string
}

// NewReport builds a report. run may be nil.
func NewReport(tok *domain.TokenRecord, run *domain.AnalysisRun, generatedAt time.Time) *Report {
	r := &Report{GeneratedAt: generatedAt.UTC(), Token: tok, Run: run}
	if run == nil {
		return r
	}

	mostActive := -1
	for i := range run.Wallets {
		w := &run.Wallets[i]
		r.Summary.Wallets++
		r.Summary.TotalTransactions += w.TotalTransactions
		r.Summary.SuccessfulTrades += w.SuccessfulTrades
		r.Summary.FailedTrades += w.FailedTrades
		if w.PartialData {
			r.Summary.PartialWallets++
		}
		if w.TotalTransactions > mostActive {
			mostActive = w.TotalTransactions
			r.Summary.MostActiveWallet = w.Wallet
		}
	}
	if r.Summary.TotalTransactions > 0 {
		r.Summary.SuccessRate = float64(r.Summary.SuccessfulTrades) / float64(r.Summary.TotalTransactions)
	}
	return r
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
