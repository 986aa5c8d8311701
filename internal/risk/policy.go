package risk

import (
	"strings"
	"unicode"

	"token-sniffer/internal/domain"
)

// Risk factor tags understood by the default policy.
const (
	TagMintAuthority     = "mint-authority-not-revoked"
	TagFreezeAuthority   = "freeze-authority-present"
	TagRugged            = "rugged"
	TagLPUnlocked        = "lp-unlocked"
	TagLowLiquidity      = "low-liquidity"
	TagSingleHolder      = "single-holder-concentration"
	TagTopHolders        = "top-holders-concentration"
	TagLowLPProviders    = "low-lp-providers"
	TagCopycat           = "copycat"
	TagCreatorRugHistory = "creator-rug-history"
	TagMutableMetadata   = "mutable-metadata"
	TagHolderCorrelation = "holder-correlation"
)

const (
	unmappedFactorPrefix = "other:"
	defaultMaxScore      = 5000
)

// Policy turns a raw report into a verdict.
type Policy struct {
	// MaxScore is the highest score still approved. Scores grow with risk.
	MaxScore float64 `yaml:"max_score"`
	// Veto lists tags that reject a token whatever its score.
	Veto []string `yaml:"veto"`
	// FactorTags maps upstream risk names (case-insensitive) to tags.
	FactorTags map[string]string `yaml:"factor_tags"`
}

// DefaultPolicy returns the built-in mapping of RugCheck risk names.
func DefaultPolicy() Policy {
	return Policy{
		MaxScore: defaultMaxScore,
		Veto:     []string{TagMintAuthority, TagFreezeAuthority, TagRugged},
		FactorTags: map[string]string{
			"mint authority still enabled":     TagMintAuthority,
			"freeze authority still enabled":   TagFreezeAuthority,
			"large amount of lp unlocked":      TagLPUnlocked,
			"low liquidity":                    TagLowLiquidity,
			"single holder ownership":          TagSingleHolder,
			"high ownership":                   TagTopHolders,
			"top 10 holders high ownership":    TagTopHolders,
			"low amount of lp providers":       TagLowLPProviders,
			"copycat token":                    TagCopycat,
			"creator history of rugged tokens": TagCreatorRugHistory,
			"mutable metadata":                 TagMutableMetadata,
			"high holder correlation":          TagHolderCorrelation,
		},
	}
}

// Tag maps an upstream risk name to a factor tag.
// Unknown names become "other:<slug>".
func (p Policy) Tag(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if tag, ok := p.FactorTags[key]; ok {
		return tag
	}
	return unmappedFactorPrefix + slug(key)
}

// Approve applies the score threshold and the veto list.
func (p Policy) Approve(score float64, factors []domain.RiskFactor) bool {
	for _, f := range factors {
		for _, v := range p.Veto {
			if f.Tag == v {
				return false
			}
		}
	}
	return score <= p.MaxScore
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
