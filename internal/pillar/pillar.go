// Package pillar implements PillarPlanner: it assigns, for each
// target instance, the host from which its copy of the dump file
// should be pulled, so that each data center transfers the dump over
// the WAN at most once.
package pillar

import "jroll/internal/config"

// DC tracks one data center's pillar host and how many members pull from it.
type DC struct {
	Pillar    string
	Consumers int
}

// Plan is the result of planning: each member's id maps to the host
// it should scp the dump from, plus the per-DC bookkeeping table.
type Plan struct {
	PillarOf map[string]string // member id -> pillar host
	DCs      map[string]*DC
}

// PlanPillars assigns a pillar to every member in order, seeding the table
// with the super's own DC first.
func PlanPillars(superID, superHost, superDC string, members []config.Member) *Plan {
	plan := &Plan{
		PillarOf: make(map[string]string, len(members)),
		DCs: map[string]*DC{
			superDC: {Pillar: superHost, Consumers: 0},
		},
	}

	for _, m := range members {
		dc := plan.DCs[m.DC]
		if dc != nil {
			plan.PillarOf[m.ID] = dc.Pillar
			dc.Consumers++
			continue
		}

		plan.PillarOf[m.ID] = superHost
		plan.DCs[superDC].Consumers++

		memberHost, _ := m.Host()
		plan.DCs[m.DC] = &DC{Pillar: memberHost, Consumers: 0}
	}

	return plan
}

// IsPillar reports whether host is the pillar of dc according to the plan.
func (p *Plan) IsPillar(dc, host string) bool {
	entry, ok := p.DCs[dc]
	return ok && entry.Pillar == host
}

// PillarHosts returns every distinct pillar host recorded in the
// plan, for the final dump-cleanup pass.
func (p *Plan) PillarHosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, dc := range p.DCs {
		if dc.Pillar == "" || seen[dc.Pillar] {
			continue
		}
		seen[dc.Pillar] = true
		hosts = append(hosts, dc.Pillar)
	}
	return hosts
}
