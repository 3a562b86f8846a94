// Package sweep implements SweepPlanner: per-target bounded garbage
// collection of historical snapshots the engine itself created.
package sweep

import "regexp"

// managedPattern matches snapshot names the engine creates itself;
// anything else (hand-made snapshots, other tools' snapshots) is
// never touched.
var managedPattern = regexp.MustCompile(`^jroll\.\d{4}-\d{2}-\d{2}\.\d{2}:\d{2}:\d{2}$`)

// Plan is the outcome of planning a single target's sweep.
type Plan struct {
	// Managed is every engine-created snapshot, newest first.
	Managed []string
	// Candidates are snapshots past the keep window, with base removed.
	Candidates []string
	// Commit reports whether Candidates should actually be destroyed.
	Commit bool
}

// ToDelete returns the snapshots that should be destroyed, oldest
// first, or nil if the plan does not commit.
func (p *Plan) ToDelete() []string {
	if !p.Commit || len(p.Candidates) == 0 {
		return nil
	}
	out := make([]string, len(p.Candidates))
	for i, s := range p.Candidates {
		out[len(p.Candidates)-1-i] = s
	}
	return out
}

// PlanSweep computes a target's sweep plan. snapshots must already be
// newest-first, as JailInspector returns them. base is removed from
// candidates unconditionally, even if it would otherwise qualify.
func PlanSweep(snapshots []string, base string, keep int, forceSweep bool) *Plan {
	var managed []string
	for _, s := range snapshots {
		if managedPattern.MatchString(s) {
			managed = append(managed, s)
		}
	}

	plan := &Plan{Managed: managed}

	if keep == 0 {
		return plan
	}

	if keep >= len(managed) {
		return plan
	}

	var candidates []string
	for _, s := range managed[keep:] {
		if s == base {
			continue
		}
		candidates = append(candidates, s)
	}
	plan.Candidates = candidates

	if len(candidates) == 0 {
		return plan
	}

	plan.Commit = forceSweep || len(managed) > 2*keep
	return plan
}
