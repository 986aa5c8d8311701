package reporting

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"token-sniffer/internal/domain"
)

func testReport(withRun bool) *Report {
	tok := &domain.TokenRecord{
		Mint:       "mint1",
		Name:       "Doge Two",
		Symbol:     "DOGE2",
		Creator:    "creator1",
		CreatedAt:  1700000000000,
		Decimals:   6,
		Verdict:    domain.VerdictApproved,
		Score:      250,
		Factors:    []domain.RiskFactor{{Tag: "low-liquidity", Severity: domain.SeverityWarn, Description: "pool | thin"}},
		AssessedAt: 1700000001000,
	}
	if !withRun {
		return NewReport(tok, nil, time.Unix(1700000100, 0))
	}

	run := &domain.AnalysisRun{
		ID:             "abc123",
		Mint:           "mint1",
		RunAt:          1700000002000,
		HolderCount:    40,
		PriceUSD:       decimal.RequireFromString("0.002"),
		PriceAvailable: true,
		Dropped:        1,
		Wallets: []domain.WalletMetrics{
			{Wallet: "w1", Rank: 1, BalanceRaw: 5000000, Balance: decimal.NewFromInt(5), BalanceUSD: decimal.RequireFromString("0.01"), TotalTransactions: 4, SuccessfulTrades: 3, FailedTrades: 1},
			{Wallet: "w,2", Rank: 2, BalanceRaw: 1000000, Balance: decimal.NewFromInt(1), BalanceUSD: decimal.RequireFromString("0.002"), TotalTransactions: 6, SuccessfulTrades: 6, PartialData: true},
		},
	}
	return NewReport(tok, run, time.Unix(1700000100, 0))
}

func TestNewReport_Summary(t *testing.T) {
	s := testReport(true).Summary

	if s.Wallets != 2 || s.PartialWallets != 1 {
		t.Errorf("wallets = %d partial = %d, want 2 and 1", s.Wallets, s.PartialWallets)
	}
	if s.TotalTransactions != 10 || s.SuccessfulTrades != 9 || s.FailedTrades != 1 {
		t.Errorf("unexpected trade totals: %+v", s)
	}
	if s.SuccessRate != 0.9 {
		t.Errorf("success rate = %v, want 0.9", s.SuccessRate)
	}
	if s.MostActiveWallet != "w,2" {
		t.Errorf("most active = %q, want w,2", s.MostActiveWallet)
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(testReport(true))

	for _, want := range []string{
		"# Doge Two (DOGE2)",
		"Generated: 2023-11-14T22:15:00Z",
		"Verdict: **APPROVED** | Score: 250",
		"| low-liquidity | warn | pool \\| thin |",
		"Price: $0.002 | Holders: 40 | Dropped: 1",
		"| 1 | `w1` | 5 | 0.01 | 4 | 3 | 1 | 0.75 |",
		"| 2 | `w,2` * |",
		"| Success Rate | 0.90 |",
		"1 wallet(s) with partial data.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestRenderMarkdown_NoRun(t *testing.T) {
	md := RenderMarkdown(testReport(false))

	if !strings.Contains(md, "No trader analysis available.") {
		t.Errorf("expected missing analysis note, got:\n%s", md)
	}
	if strings.Contains(md, "## Summary") {
		t.Error("summary should be omitted without a run")
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(testReport(true))
	if err != nil {
		t.Fatalf("RenderCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "mint,symbol,verdict,run_id,rank,wallet,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "mint1,DOGE2,approved,abc123,1,w1,5000000,5,0.01,4,3,1,0.750000,0,0,0,false" {
		t.Errorf("unexpected row: %s", lines[1])
	}
	if !strings.Contains(lines[2], `,"w,2",`) {
		t.Errorf("wallet with comma should be quoted: %s", lines[2])
	}

	empty, err := RenderCSV(testReport(false))
	if err != nil {
		t.Fatalf("RenderCSV: %v", err)
	}
	if strings.Count(empty, "\n") != 1 {
		t.Errorf("expected only header, got:\n%s", empty)
	}
}
