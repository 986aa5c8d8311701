package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder
	t := r.Token

	// Header
	sb.WriteString(fmt.Sprintf("# %s (%s)\n\n", t.Name, t.Symbol))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Token
	sb.WriteString("## Token\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Mint | `%s` |\n", t.Mint))
	sb.WriteString(fmt.Sprintf("| Creator | `%s` |\n", t.Creator))
	sb.WriteString(fmt.Sprintf("| Created | %s |\n", formatMs(t.CreatedAt)))
	sb.WriteString(fmt.Sprintf("| Decimals | %d |\n", t.Decimals))
	sb.WriteString(fmt.Sprintf("| Market Cap (SOL) | %.2f |\n", t.MarketCapSol))
	sb.WriteString("\n")

	// Risk
	sb.WriteString("## Risk\n\n")
	sb.WriteString(fmt.Sprintf("Verdict: **%s** | Score: %.0f | Assessed: %s\n\n",
		strings.ToUpper(string(t.Verdict)), t.Score, formatMs(t.AssessedAt)))
	if len(t.Factors) > 0 {
		sb.WriteString("| Factor | Severity | Description |\n")
		sb.WriteString("|--------|----------|-------------|\n")
		for _, f := range t.Factors {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", f.Tag, f.Severity, escapeCell(f.Description)))
		}
	} else {
		sb.WriteString("No risk factors reported.\n")
	}
	sb.WriteString("\n")

	// Top Traders
	sb.WriteString("## Top Traders\n\n")
	if r.Run == nil {
		sb.WriteString("No trader analysis available.\n")
		return sb.String()
	}

	run := r.Run
	price := "unavailable"
	if run.PriceAvailable {
		price = "$" + run.PriceUSD.String()
	}
	sb.WriteString(fmt.Sprintf("Run `%s` at %s | Price: %s | Holders: %d | Dropped: %d | Duration: %dms\n\n",
		run.ID, formatMs(run.RunAt), price, run.HolderCount, run.Dropped, run.DurationMs))

	if len(run.Wallets) == 0 {
		sb.WriteString("No wallets analyzed.\n")
		return sb.String()
	}

	sb.WriteString("| Rank | Wallet | Balance | USD | Txs | Success | Failed | Rate | Global Txs | Tokens | Last Active |\n")
	sb.WriteString("|------|--------|---------|-----|-----|---------|--------|------|------------|--------|-------------|\n")
	for _, w := range run.Wallets {
		wallet := "`" + w.Wallet + "`"
		if w.PartialData {
			wallet += " *"
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %d | %d | %d | %.2f | %d | %d | %s |\n",
			w.Rank, wallet, w.Balance.String(), w.BalanceUSD.StringFixed(2),
			w.TotalTransactions, w.SuccessfulTrades, w.FailedTrades, w.SuccessRate(),
			w.GlobalTransactions, w.DistinctTokensTraded, formatMs(w.LastActiveAt)))
	}
	sb.WriteString("\n")

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Wallets | %d |\n", s.Wallets))
	sb.WriteString(fmt.Sprintf("| Total Transactions | %d |\n", s.TotalTransactions))
	sb.WriteString(fmt.Sprintf("| Success Rate | %.2f |\n", s.SuccessRate))
	sb.WriteString(fmt.Sprintf("| Most Active | `%s` |\n", s.MostActiveWallet))
	if s.PartialWallets > 0 {
		sb.WriteString(fmt.Sprintf("\n\\* %d wallet(s) with partial data.\n", s.PartialWallets))
	}

	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
