// Package api serves the read-only query API over a token store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/storage"
)

const requestTimeout = 15 * time.Second

// Handler serves tokens, top traders and wallet history.
type Handler struct {
	store   storage.Store
	history storage.HistoryStore // optional
	log     *zap.Logger
}

// NewHandler creates a Handler. history may be nil.
func NewHandler(store storage.Store, history storage.HistoryStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, history: history, log: log.With(zap.String("component", "api"))}
}

// Router returns the HTTP routes, including /healthz and /metrics.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1/tokens", func(r chi.Router) {
		r.Get("/", h.handleListTokens)
		r.Get("/{mint}", h.handleGetToken)
		r.Get("/{mint}/traders", h.handleListTraders)
		if h.history != nil {
			r.Get("/{mint}/history/{wallet}", h.handleWalletHistory)
		}
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/tokens?verdict=approved&since=1700000000000&limit=50
func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f storage.TokenFilter
	if v := q.Get("verdict"); v != "" {
		f.Verdict = domain.Verdict(v)
		if !f.Verdict.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid verdict")
			return
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if s := q.Get("since"); s != "" {
		if f.Since, err = strconv.ParseInt(s, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
	}

	tokens, err := h.store.ListTokens(r.Context(), f)
	if err != nil {
		h.internalError(w, "list tokens", err)
		return
	}

	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/tokens/{mint}
func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request) {
	mint := chi.URLParam(r, "mint")

	tok, err := h.store.GetToken(r.Context(), mint)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		h.internalError(w, "get token", err)
		return
	}

	resp := tokenDetail{tokenView: newTokenView(tok)}
	run, err := h.store.GetAnalysisRun(r.Context(), mint)
	switch {
	case err == nil:
		v := newRunView(run)
		resp.Analysis = &v
	case !errors.Is(err, storage.ErrNotFound):
		h.internalError(w, "get analysis run", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/tokens/{mint}/traders
func (h *Handler) handleListTraders(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.store.ListTopTraders(r.Context(), chi.URLParam(r, "mint"))
	if err != nil {
		h.internalError(w, "list top traders", err)
		return
	}

	out := make([]walletView, 0, len(wallets))
	for i := range wallets {
		out = append(out, newWalletView(&wallets[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/tokens/{mint}/history/{wallet}?limit=100
func (h *Handler) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	snaps, err := h.history.WalletHistory(r.Context(), chi.URLParam(r, "mint"), chi.URLParam(r, "wallet"), limit)
	if err != nil {
		h.internalError(w, "wallet history", err)
		return
	}

	out := make([]snapshotView, 0, len(snaps))
	for i := range snaps {
		out = append(out, snapshotView{
			RunID:      snaps[i].RunID,
			RunAt:      snaps[i].RunAt,
			walletView: newWalletView(&snaps[i].WalletMetrics),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type tokenView struct {
	Mint         string              `json:"mint"`
	Name         string              `json:"name"`
	Symbol       string              `json:"symbol"`
	Creator      string              `json:"creator"`
	CreatedAt    int64               `json:"created_at"`
	Decimals     int                 `json:"decimals"`
	Verdict      domain.Verdict      `json:"verdict"`
	Score        float64             `json:"score"`
	Factors      []domain.RiskFactor `json:"factors"`
	MarketCapSol float64             `json:"market_cap_sol"`
	URI          string              `json:"uri,omitempty"`
	AssessedAt   int64               `json:"assessed_at,omitempty"`
}

func newTokenView(t *domain.TokenRecord) tokenView {
	factors := t.Factors
	if factors == nil {
		factors = []domain.RiskFactor{}
	}
	return tokenView{
		Mint:         t.Mint,
		Name:         t.Name,
		Symbol:       t.Symbol,
		Creator:      t.Creator,
		CreatedAt:    t.CreatedAt,
		Decimals:     t.Decimals,
		Verdict:      t.Verdict,
		Score:        t.Score,
		Factors:      factors,
		MarketCapSol: t.MarketCapSol,
		URI:          t.URI,
		AssessedAt:   t.AssessedAt,
	}
}

type tokenDetail struct {
	tokenView
	Analysis *runView `json:"analysis,omitempty"`
}

type runView struct {
	RunID          string          `json:"run_id"`
	RunAt          int64           `json:"run_at"`
	TopN           int             `json:"top_n"`
	HolderCount    int             `json:"holder_count"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	PriceAvailable bool            `json:"price_available"`
	Dropped        int             `json:"dropped"`
	DurationMs     int64           `json:"duration_ms"`
	Wallets        []walletView    `json:"wallets"`
}

func newRunView(run *domain.AnalysisRun) runView {
	v := runView{
		RunID:          run.ID,
		RunAt:          run.RunAt,
		TopN:           run.TopN,
		HolderCount:    run.HolderCount,
		PriceUSD:       run.PriceUSD,
		PriceAvailable: run.PriceAvailable,
		Dropped:        run.Dropped,
		DurationMs:     run.DurationMs,
		Wallets:        make([]walletView, 0, len(run.Wallets)),
	}
	for i := range run.Wallets {
		v.Wallets = append(v.Wallets, newWalletView(&run.Wallets[i]))
	}
	return v
}

type walletView struct {
	Rank                 int             `json:"rank"`
	Wallet               string          `json:"wallet"`
	BalanceRaw           string          `json:"balance_raw"`
	Balance              decimal.Decimal `json:"balance"`
	BalanceUSD           decimal.Decimal `json:"balance_usd"`
	TotalTransactions    int             `json:"total_transactions"`
	SuccessfulTrades     int             `json:"successful_trades"`
	FailedTrades         int             `json:"failed_trades"`
	SuccessRate          float64         `json:"success_rate"`
	GlobalTransactions   int             `json:"global_transactions"`
	DistinctTokensTraded int             `json:"distinct_tokens_traded"`
	LastActiveAt         int64           `json:"last_active_at"`
	PartialData          bool            `json:"partial_data"`
}

// newWalletView renders raw balances as strings; they may exceed 2^53.
func newWalletView(w *domain.WalletMetrics) walletView {
	return walletView{
		Rank:                 w.Rank,
		Wallet:               w.Wallet,
		BalanceRaw:           strconv.FormatUint(w.BalanceRaw, 10),
		Balance:              w.Balance,
		BalanceUSD:           w.BalanceUSD,
		TotalTransactions:    w.TotalTransactions,
		SuccessfulTrades:     w.SuccessfulTrades,
		FailedTrades:         w.FailedTrades,
		SuccessRate:          w.SuccessRate(),
		GlobalTransactions:   w.GlobalTransactions,
		DistinctTokensTraded: w.DistinctTokensTraded,
		LastActiveAt:         w.LastActiveAt,
		PartialData:          w.PartialData,
	}
}

type snapshotView struct {
	RunID string `json:"run_id"`
	RunAt int64  `json:"run_at"`
	walletView
}
