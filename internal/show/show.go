// Package show implements ShowEngine: a read-only listing of every
// project's groups and member status, reusing JailInspector for fresh
// running-state. The configured inactive value is reported verbatim
// and compared literally against each group name; show never resolves
// it via HTTP, so it never issues outbound requests or fails because a
// resolver endpoint is unreachable.
package show

import (
	"context"
	"sort"

	"jroll/internal/config"
	"jroll/internal/jail"
)

// MemberStatus is one member's reported state.
type MemberStatus struct {
	ID      string
	Running bool
}

// GroupStatus is one group's reported state.
type GroupStatus struct {
	Name     string
	Inactive bool
	Members  []MemberStatus
}

// ProjectStatus is a project's full report.
type ProjectStatus struct {
	Name            string
	ConfiguredValue string // project.Inactive, shown verbatim (never HTTP-resolved)
	Groups          []GroupStatus
}

// Engine produces read-only status reports.
type Engine struct {
	Config  *config.Config
	Inspect *jail.Inspector
}

// Show reports status for the named projects, or every configured
// project when names is empty.
func (e *Engine) Show(ctx context.Context, names []string) ([]ProjectStatus, error) {
	if len(names) == 0 {
		for name := range e.Config.Projects {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	reports := make([]ProjectStatus, 0, len(names))
	for _, name := range names {
		project, err := e.Config.Project(name)
		if err != nil {
			return nil, err
		}
		report, err := e.showProject(ctx, project)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (e *Engine) showProject(ctx context.Context, project *config.Project) (ProjectStatus, error) {
	groupNames := make([]string, 0, len(project.Groups))
	for g := range project.Groups {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	groups := make([]GroupStatus, 0, len(groupNames))
	for _, g := range groupNames {
		members, err := e.showMembers(ctx, project.Groups[g])
		if err != nil {
			return ProjectStatus{}, err
		}
		groups = append(groups, GroupStatus{
			Name:     g,
			Inactive: g == project.Inactive,
			Members:  members,
		})
	}

	return ProjectStatus{
		Name:            project.Name,
		ConfiguredValue: project.Inactive,
		Groups:          groups,
	}, nil
}

func (e *Engine) showMembers(ctx context.Context, members []config.Member) ([]MemberStatus, error) {
	out := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		mj, err := m.Jail()
		if err != nil {
			return nil, err
		}
		mh, err := m.Host()
		if err != nil {
			return nil, err
		}
		info, err := e.Inspect.Inspect(ctx, mj, mh)
		if err != nil {
			return nil, err
		}
		out = append(out, MemberStatus{ID: m.ID, Running: info.Running})
	}
	return out, nil
}
