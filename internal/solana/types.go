package solana

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64 // Unix seconds, nil if unknown
	Err       interface{}
}

// Failed reports whether the transaction failed on chain.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// TokenAmount is a raw token balance with its precision.
type TokenAmount struct {
	Amount   uint64
	Decimals int
}

// Transaction is a parsed transaction reduced to what analytics needs.
type Transaction struct {
	Signature     string
	Slot          int64
	BlockTime     int64 // Unix seconds, 0 if unknown
	Failed        bool
	TokenBalances []TokenBalance // union of pre and post token balances
}

// TokenBalance is one token balance entry of a transaction.
type TokenBalance struct {
	Mint   string
	Owner  string
	Amount string
}

// MintsOwnedBy returns the distinct mints whose balances belong to owner.
func (t *Transaction) MintsOwnedBy(owner string) []string {
	seen := make(map[string]struct{})
	var mints []string
	for _, b := range t.TokenBalances {
		if b.Owner != owner || b.Mint == "" {
			continue
		}
		if _, ok := seen[b.Mint]; ok {
			continue
		}
		seen[b.Mint] = struct{}{}
		mints = append(mints, b.Mint)
	}
	return mints
}

// Asset is the subset of a DAS asset used for tokens.
type Asset struct {
	Mint          string
	Name          string
	Symbol        string
	Decimals      int
	PricePerToken *float64 // nil when the DAS API has no price
	Currency      string
}
