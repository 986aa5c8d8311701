package domain

import "errors"

// ErrVerdictAlreadySet is returned when a verdict is applied to a token that already has one.
var ErrVerdictAlreadySet = errors.New("verdict already set")

// Well-known risk factor tags produced by the pipeline itself.
const (
	FactorUpstreamRejected = "upstream-rejected"
	FactorIncompleteReport = "incomplete-report"
	FactorAssessmentFailed = "assessment-failed"
)

// RiskFactor is a single normalized risk signal attached to a token.
type RiskFactor struct {
	Tag         string   `json:"tag"`                   // normalized tag, e.g. mint-authority-not-revoked
	Severity    Severity `json:"severity"`              // info | warn | danger
	Description string   `json:"description,omitempty"` // upstream description (may be empty)
}

// RiskVerdict is the outcome of one risk assessment.
type RiskVerdict struct {
	Approved bool
	Score    float64
	Factors  []RiskFactor
}

// Verdict converts the approval flag into a Verdict.
func (v *RiskVerdict) Verdict() Verdict {
	if v.Approved {
		return VerdictApproved
	}
	return VerdictRejected
}

// HasFactor reports whether the verdict carries the given tag.
func (v *RiskVerdict) HasFactor(tag string) bool {
	for _, f := range v.Factors {
		if f.Tag == tag {
			return true
		}
	}
	return false
}

// TokenRecord is a newly created token as seen on the feed, plus its risk verdict.
// Corresponds to tokens table.
type TokenRecord struct {
	Mint         string       // PRIMARY KEY, token mint address
	Name         string       // display name
	Symbol       string       // ticker symbol
	Creator      string       // creator wallet address
	CreatedAt    int64        // creation timestamp (ms)
	Decimals     int          // decimal precision
	Verdict      Verdict      // pending | approved | rejected
	Score        float64      // security score from the risk service
	Factors      []RiskFactor // ordered risk factors
	Signature    string       // creation transaction signature
	URI          string       // metadata URI
	InitialBuy   float64      // creator's initial buy (tokens)
	MarketCapSol float64      // market cap at creation (SOL)
	AssessedAt   int64        // when the verdict was applied (ms), 0 while pending
}

// ApplyVerdict records the risk verdict on the token.
// A token's verdict can be set only once.
func (t *TokenRecord) ApplyVerdict(v *RiskVerdict, nowMs int64) error {
	if t.Verdict.IsFinal() {
		return ErrVerdictAlreadySet
	}
	t.Verdict = v.Verdict()
	t.Score = v.Score
	t.Factors = append([]RiskFactor(nil), v.Factors...)
	t.AssessedAt = nowMs
	return nil
}

// Clone returns a deep copy of the record.
func (t *TokenRecord) Clone() *TokenRecord {
	c := *t
	c.Factors = append([]RiskFactor(nil), t.Factors...)
	return &c
}
