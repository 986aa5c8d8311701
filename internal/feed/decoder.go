package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"token-sniffer/internal/domain"
	"token-sniffer/internal/solana"
)

// PumpFunDecimals is the precision of every pump.fun mint.
const PumpFunDecimals = 6

var (
	// ErrMalformedEvent is returned for messages that cannot become a token record.
	ErrMalformedEvent = errors.New("malformed feed event")
	// ErrIgnored is returned for well-formed messages that are not token creations
	// (subscription acknowledgements, trade events).
	ErrIgnored = errors.New("not a token creation event")
)

// newTokenEvent is the PumpPortal token creation message.
type newTokenEvent struct {
	Signature             string   `json:"signature"`
	Mint                  string   `json:"mint"`
	TraderPublicKey       string   `json:"traderPublicKey"`
	Creator               string   `json:"creator"`
	TxType                string   `json:"txType"`
	InitialBuy            float64  `json:"initialBuy"`
	SolAmount             float64  `json:"solAmount"`
	BondingCurveKey       string   `json:"bondingCurveKey"`
	VTokensInBondingCurve float64  `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64  `json:"vSolInBondingCurve"`
	MarketCapSol          float64  `json:"marketCapSol"`
	Name                  string   `json:"name"`
	Symbol                string   `json:"symbol"`
	URI                   string   `json:"uri"`
	Timestamp             *int64   `json:"timestamp"`
	Message               string   `json:"message"`
	Errors                []string `json:"errors"`
}

// Decoder turns raw feed messages into token records.
type Decoder struct {
	// Decimals is assigned to every decoded token.
	Decimals int
	// Now supplies the creation time when the message has none.
	Now func() time.Time
}

// NewDecoder creates a Decoder for pump.fun tokens.
func NewDecoder() *Decoder {
	return &Decoder{Decimals: PumpFunDecimals, Now: time.Now}
}

// Decode parses one feed message into a pending TokenRecord.
// Returns ErrIgnored for control messages and ErrMalformedEvent (wrapped) for anything invalid.
func (d *Decoder) Decode(raw []byte) (*domain.TokenRecord, error) {
	var ev newTokenEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if ev.Mint == "" && (ev.Message != "" || len(ev.Errors) > 0) {
		return nil, ErrIgnored
	}
	if ev.TxType != "" && ev.TxType != "create" {
		return nil, ErrIgnored
	}

	creator := ev.TraderPublicKey
	if creator == "" {
		creator = ev.Creator
	}

	var missing []string
	if ev.Mint == "" {
		missing = append(missing, "mint")
	}
	if strings.TrimSpace(ev.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(ev.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if creator == "" {
		missing = append(missing, "creator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(missing, ", "))
	}

	if err := solana.ValidatePublicKey(ev.Mint); err != nil {
		return nil, fmt.Errorf("%w: mint: %v", ErrMalformedEvent, err)
	}
	if err := solana.ValidatePublicKey(creator); err != nil {
		return nil, fmt.Errorf("%w: creator: %v", ErrMalformedEvent, err)
	}

	createdAt := d.Now().UnixMilli()
	if ev.Timestamp != nil && *ev.Timestamp > 0 {
		createdAt = *ev.Timestamp
		// Seconds precision timestamps are promoted to milliseconds.
		if createdAt < 1e12 {
			createdAt *= 1000
		}
	}

	return &domain.TokenRecord{
		Mint:         ev.Mint,
		Name:         strings.TrimSpace(ev.Name),
		Symbol:       strings.TrimSpace(ev.Symbol),
		Creator:      creator,
		CreatedAt:    createdAt,
		Decimals:     d.Decimals,
		Verdict:      domain.VerdictPending,
		Signature:    ev.Signature,
		URI:          ev.URI,
		InitialBuy:   ev.InitialBuy,
		MarketCapSol: ev.MarketCapSol,
	}, nil
}
