package pillar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jroll/internal/config"
)

// TestCrossDCPillarReuse covers super in dcA; members m1,m2 in dcB;
// m3 in dcC. Expected: dump scp'd from h0
// to h1, then h1 to h2, then h0 to h3.
func TestCrossDCPillarReuse(t *testing.T) {
	members := []config.Member{
		{ID: "m1@h1.dcB", DC: "dcB"},
		{ID: "m2@h2.dcB", DC: "dcB"},
		{ID: "m3@h3.dcC", DC: "dcC"},
	}

	plan := PlanPillars("s@h0.dcA", "h0.dcA", "dcA", members)

	require.Equal(t, "h0.dcA", plan.PillarOf["m1@h1.dcB"], "first dcB member pulls from super")
	assert.Equal(t, "h1.dcB", plan.PillarOf["m2@h2.dcB"], "second dcB member pulls from its DC pillar")
	assert.Equal(t, "h0.dcA", plan.PillarOf["m3@h3.dcC"], "first dcC member pulls from super")

	assert.True(t, plan.IsPillar("dcB", "h1.dcB"))
	assert.True(t, plan.IsPillar("dcA", "h0.dcA"))
	assert.False(t, plan.IsPillar("dcB", "h2.dcB"))

	hosts := plan.PillarHosts()
	assert.ElementsMatch(t, []string{"h0.dcA", "h1.dcB", "h3.dcC"}, hosts)
}

func TestSameDCAsSuperSharesPillar(t *testing.T) {
	members := []config.Member{
		{ID: "n1@n1.dc1", DC: "dc1"},
	}
	plan := PlanPillars("w0@super.dc1", "super.dc1", "dc1", members)
	assert.Equal(t, "super.dc1", plan.PillarOf["n1@n1.dc1"])
	assert.Equal(t, 1, plan.DCs["dc1"].Consumers)
}
