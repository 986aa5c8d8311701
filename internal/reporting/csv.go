package reporting

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

var csvHeader = []string{
	"mint", "symbol", "verdict", "run_id", "rank", "wallet", "balance_raw", "balance", "balance_usd",
	"total_transactions", "successful_trades", "failed_trades", "success_rate",
	"global_transactions", "distinct_tokens_traded", "last_active_at", "partial_data",
}

// RenderCSV renders the top traders of a report as CSV, one row per wallet.
// Only the header is written when the report has no run.
func RenderCSV(r *Report) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", err
	}

	if r.Run != nil {
		for _, m := range r.Run.Wallets {
			err := w.Write([]string{
				r.Token.Mint,
				r.Token.Symbol,
				string(r.Token.Verdict),
				r.Run.ID,
				strconv.Itoa(m.Rank),
				m.Wallet,
				strconv.FormatUint(m.BalanceRaw, 10),
				m.Balance.String(),
				m.BalanceUSD.String(),
				strconv.Itoa(m.TotalTransactions),
				strconv.Itoa(m.SuccessfulTrades),
				strconv.Itoa(m.FailedTrades),
				strconv.FormatFloat(m.SuccessRate(), 'f', 6, 64),
				strconv.Itoa(m.GlobalTransactions),
				strconv.Itoa(m.DistinctTokensTraded),
				strconv.FormatInt(m.LastActiveAt, 10),
				strconv.FormatBool(m.PartialData),
			})
			if err != nil {
				return "", err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
