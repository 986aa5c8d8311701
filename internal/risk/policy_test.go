package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"token-sniffer/internal/domain"
)

func TestPolicy_Tag(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, TagMintAuthority, p.Tag("Mint Authority still enabled"))
	assert.Equal(t, TagFreezeAuthority, p.Tag("  FREEZE AUTHORITY STILL ENABLED "))
	assert.Equal(t, "other:some-new-risk", p.Tag("Some new  risk"))
	assert.Equal(t, "other:", p.Tag("!!"))
}

func TestPolicy_Approve(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.Approve(80, nil))
	assert.True(t, p.Approve(5000, nil))
	assert.False(t, p.Approve(5001, nil))
	assert.False(t, p.Approve(0, []domain.RiskFactor{{Tag: TagFreezeAuthority}}))
	assert.True(t, p.Approve(0, []domain.RiskFactor{{Tag: TagLowLiquidity}}))
}
