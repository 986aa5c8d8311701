package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/observability"
	"token-sniffer/internal/upstream"
)

// Default configuration values.
const (
	DefaultEndpoint       = "https://mainnet.helius-rpc.com/"
	DefaultTimeout        = 15 * time.Second
	DefaultHolderPageSize = 1000
	DefaultMaxHolderPages = 20
	DefaultSignatureLimit = 100

	serviceName   = "helius"
	maxErrBodyLen = 256
)

// ErrNotFound is returned when the RPC node has no data for the request.
var ErrNotFound = errors.New("not found")

// HTTPClient implements RPCClient and AssetClient against a Helius JSON-RPC endpoint.
// Each method performs a single attempt; callers decide on retries using upstream.IsTransient.
type HTTPClient struct {
	endpoint       string
	client         *http.Client
	limiter        *rate.Limiter
	holderPageSize int
	maxHolderPages int
	requestID      atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimiter shares a token bucket across every call of the client.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = l
	}
}

// WithHolderPaging sets the page size and page cap of holder listing.
func WithHolderPaging(pageSize, maxPages int) ClientOption {
	return func(c *HTTPClient) {
		if pageSize > 0 {
			c.holderPageSize = pageSize
		}
		if maxPages > 0 {
			c.maxHolderPages = maxPages
		}
	}
}

// NewHTTPClient creates a new Helius RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:       endpoint,
		client:         &http.Client{Timeout: DefaultTimeout},
		limiter:        rate.NewLimiter(rate.Inf, 1),
		holderPageSize: DefaultHolderPageSize,
		maxHolderPages: DefaultMaxHolderPages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HeliusEndpoint appends the API key to a Helius base URL.
func HeliusEndpoint(base, apiKey string) (string, error) {
	if base == "" {
		base = DefaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse helius url: %w", err)
	}
	q := u.Query()
	q.Set("api-key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Compile-time interface checks.
var (
	_ RPCClient   = (*HTTPClient)(nil)
	_ AssetClient = (*HTTPClient)(nil)
)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Transient reports node-side conditions that clear on their own
// (node behind, rate limited, internal error).
func (e *RPCError) Transient() bool {
	switch e.Code {
	case -32005, -32429, -32603:
		return true
	}
	return false
}

// call performs one JSON-RPC call. params may be a positional array or a named object.
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, result interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordUpstreamCall(serviceName, method, start, err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstream.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return &upstream.StatusError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), maxErrBodyLen),
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return upstream.Transient(fmt.Errorf("%w: %v", upstream.ErrMalformedResponse, err))
	}

	if rpcResp.Error != nil {
		if rpcResp.Error.Transient() {
			return upstream.Transient(rpcResp.Error)
		}
		return rpcResp.Error
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %v", upstream.ErrMalformedResponse, err)
		}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetTokenHolders lists token accounts of mint via DAS getTokenAccounts,
// aggregated per owner and sorted by balance desc, owner asc.
func (c *HTTPClient) GetTokenHolders(ctx context.Context, mint string) ([]domain.Holder, error) {
	type tokenAccount struct {
		Address string `json:"address"`
		Mint    string `json:"mint"`
		Owner   string `json:"owner"`
		Amount  uint64 `json:"amount"`
	}
	type pageResult struct {
		Total         int            `json:"total"`
		Limit         int            `json:"limit"`
		Page          int            `json:"page"`
		TokenAccounts []tokenAccount `json:"token_accounts"`
	}

	byOwner := make(map[string][]tokenAccount)

	for page := 1; page <= c.maxHolderPages; page++ {
		params := map[string]interface{}{
			"mint":  mint,
			"page":  page,
			"limit": c.holderPageSize,
			"options": map[string]bool{
				"showZeroBalance": false,
			},
		}

		var result pageResult
		if err := c.call(ctx, "getTokenAccounts", params, &result); err != nil {
			return nil, fmt.Errorf("getTokenAccounts page %d: %w", page, err)
		}

		for _, acc := range result.TokenAccounts {
			if acc.Amount == 0 || acc.Owner == "" {
				continue
			}
			byOwner[acc.Owner] = append(byOwner[acc.Owner], acc)
		}

		if len(result.TokenAccounts) < c.holderPageSize {
			break
		}
	}

	holders := make([]domain.Holder, 0, len(byOwner))
	for owner, accounts := range byOwner {
		sort.Slice(accounts, func(i, j int) bool {
			if accounts[i].Amount != accounts[j].Amount {
				return accounts[i].Amount > accounts[j].Amount
			}
			return accounts[i].Address < accounts[j].Address
		})
		h := domain.Holder{
			Owner:         owner,
			TokenAccount:  accounts[0].Address,
			TokenAccounts: make([]string, len(accounts)),
		}
		for i, acc := range accounts {
			h.TokenAccounts[i] = acc.Address
			h.AmountRaw += acc.Amount
		}
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].AmountRaw != holders[j].AmountRaw {
			return holders[i].AmountRaw > holders[j].AmountRaw
		}
		return holders[i].Owner < holders[j].Owner
	})

	return holders, nil
}

// GetTokenAccountBalance returns the balance of a token account.
func (c *HTTPClient) GetTokenAccountBalance(ctx context.Context, tokenAccount string) (*TokenAmount, error) {
	var result struct {
		Value *struct {
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"value"`
	}

	params := []interface{}{
		tokenAccount,
		map[string]string{"commitment": "confirmed"},
	}
	if err := c.call(ctx, "getTokenAccountBalance", params, &result); err != nil {
		return nil, fmt.Errorf("getTokenAccountBalance: %w", err)
	}
	if result.Value == nil {
		return nil, ErrNotFound
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", upstream.ErrMalformedResponse, result.Value.Amount)
	}

	return &TokenAmount{Amount: amount, Decimals: result.Value.Decimals}, nil
}

// GetSignaturesForAddress retrieves signatures for an address with pagination.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": "confirmed",
		"limit":      DefaultSignatureLimit,
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	var result []struct {
		Signature string      `json:"signature"`
		Slot      int64       `json:"slot"`
		BlockTime *int64      `json:"blockTime"`
		Err       interface{} `json:"err"`
	}

	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, config}, &result); err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	sigs := make([]SignatureInfo, len(result))
	for i, r := range result {
		sigs[i] = SignatureInfo{
			Signature: r.Signature,
			Slot:      r.Slot,
			BlockTime: r.BlockTime,
			Err:       r.Err,
		}
	}

	return sigs, nil
}

// GetTransaction retrieves a jsonParsed transaction by signature.
// Returns ErrNotFound if the node does not have it.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	type tokenBalance struct {
		Mint          string `json:"mint"`
		Owner         string `json:"owner"`
		UITokenAmount struct {
			Amount string `json:"amount"`
		} `json:"uiTokenAmount"`
	}

	var result *struct {
		Slot      int64  `json:"slot"`
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			Err               interface{}    `json:"err"`
			PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	}

	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}

	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if result == nil {
		return nil, ErrNotFound
	}

	tx := &Transaction{
		Signature: signature,
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}
	if result.Meta != nil {
		tx.Failed = result.Meta.Err != nil
		for _, list := range [][]tokenBalance{result.Meta.PreTokenBalances, result.Meta.PostTokenBalances} {
			for _, b := range list {
				tx.TokenBalances = append(tx.TokenBalances, TokenBalance{
					Mint:   b.Mint,
					Owner:  b.Owner,
					Amount: b.UITokenAmount.Amount,
				})
			}
		}
	}

	return tx, nil
}

// GetAsset resolves token metadata and price via DAS getAsset.
func (c *HTTPClient) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	var result *struct {
		ID      string `json:"id"`
		Content struct {
			Metadata struct {
				Name   string `json:"name"`
				Symbol string `json:"symbol"`
			} `json:"metadata"`
		} `json:"content"`
		TokenInfo *struct {
			Symbol    string `json:"symbol"`
			Decimals  int    `json:"decimals"`
			PriceInfo *struct {
				PricePerToken float64 `json:"price_per_token"`
				Currency      string  `json:"currency"`
			} `json:"price_info"`
		} `json:"token_info"`
	}

	if err := c.call(ctx, "getAsset", map[string]string{"id": mint}, &result); err != nil {
		return nil, fmt.Errorf("getAsset: %w", err)
	}
	if result == nil {
		return nil, ErrNotFound
	}

	asset := &Asset{
		Mint:   mint,
		Name:   result.Content.Metadata.Name,
		Symbol: result.Content.Metadata.Symbol,
	}
	if result.TokenInfo != nil {
		asset.Decimals = result.TokenInfo.Decimals
		if asset.Symbol == "" {
			asset.Symbol = result.TokenInfo.Symbol
		}
		if pi := result.TokenInfo.PriceInfo; pi != nil {
			price := pi.PricePerToken
			asset.PricePerToken = &price
			asset.Currency = pi.Currency
		}
	}

	return asset, nil
}
