package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanSweepKeepZeroIsNoOp(t *testing.T) {
	p := PlanSweep([]string{"jroll.2024-01-01.00:00:00"}, "jroll.2024-01-01.00:00:00", 0, false)
	assert.Empty(t, p.Candidates)
	assert.False(t, p.Commit)
}

func TestPlanSweepIgnoresUnmanagedNames(t *testing.T) {
	snaps := []string{"manual-snap", "jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}
	p := PlanSweep(snaps, "jroll.2024-01-01.00:00:00", 1, true)
	assert.Equal(t, []string{"jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}, p.Managed)
}

// TestAutoTriggerScenario covers keep=3, 7 managed snapshots
// S1..S7 newest-to-oldest, base S4. Without
// --sweep, candidates {S5,S6,S7} commit because 7 > 2*3.
func TestAutoTriggerScenario(t *testing.T) {
	// S1..S7 as managed names, newest first.
	s := []string{
		"jroll.2024-01-07.00:00:00", "jroll.2024-01-06.00:00:00", "jroll.2024-01-05.00:00:00",
		"jroll.2024-01-04.00:00:00", "jroll.2024-01-03.00:00:00", "jroll.2024-01-02.00:00:00",
		"jroll.2024-01-01.00:00:00",
	}
	p := PlanSweep(s, s[3], 3, false)

	assert.Equal(t, []string{s[4], s[5], s[6]}, p.Candidates)
	assert.True(t, p.Commit, "7 managed > 2*3 triggers auto-sweep")
	assert.Equal(t, []string{s[6], s[5], s[4]}, p.ToDelete(), "deletion proceeds oldest-first")
}

func TestNoAutoTriggerBelowDoubleExcess(t *testing.T) {
	// S1 — basic two-node deploy: managed count (2) <= 2*keep(3), no sweep.
	managed := []string{"jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}
	p := PlanSweep(managed, "jroll.2024-01-01.00:00:00", 3, false)
	assert.False(t, p.Commit)
}

func TestForceSweepCommitsEvenBelowThreshold(t *testing.T) {
	// 4 managed <= 2*keep(2), so only --sweep commits.
	managed := []string{"jroll.2024-01-04.00:00:00", "jroll.2024-01-03.00:00:00", "jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}
	p := PlanSweep(managed, managed[1], 2, true)
	assert.Equal(t, []string{managed[2], managed[3]}, p.Candidates)
	assert.True(t, p.Commit)
}

func TestBaseNeverSwept(t *testing.T) {
	managed := []string{"jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}
	p := PlanSweep(managed, managed[0], 0, true)
	assert.Empty(t, p.Candidates)

	three := []string{"jroll.2024-01-03.00:00:00", "jroll.2024-01-02.00:00:00", "jroll.2024-01-01.00:00:00"}
	p2 := PlanSweep(three, three[1], 1, true)
	assert.NotContains(t, p2.Candidates, three[1])
}

func TestSweepIdempotence(t *testing.T) {
	managed := []string{"S1", "S2", "S3", "S4"}
	first := PlanSweep(managed, "S4", 1, false)
	assert.Empty(t, first.ToDelete())

	remaining := managed
	if first.Commit {
		remaining = first.Managed[:1]
	}
	second := PlanSweep(remaining, "S4", 1, false)
	assert.Empty(t, second.ToDelete())
}
