// Package restart implements RestartEngine: it reuses JailInspector
// and InactiveResolver to stop, refresh, and start a cohort without
// touching ZFS state, grounded on the same orchestration shape as
// internal/deploy but without the snapshot/send/receive steps.
package restart

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jroll/internal/config"
	"jroll/internal/jail"
	"jroll/internal/jrollerr"
	"jroll/internal/meta"
	"jroll/internal/resolve"
	"jroll/internal/sshexec"
)

const stopSettleDelay = 3 * time.Second

// Options configures one restart invocation.
type Options struct {
	Active bool
	DryRun bool
	Group  string
}

// Engine restarts cohorts for a loaded configuration.
type Engine struct {
	Config  *config.Config
	Inspect *jail.Inspector
	Resolve *resolve.Resolver
	Exec    sshexec.RemoteExec
	Copy    sshexec.RemoteCopy
	Log     *slog.Logger

	Now func() time.Time

	Username string
	Pid      int

	// Sleep lets tests avoid the real 3-second settle delay.
	Sleep func(time.Duration)
}

// Restart runs the restart pipeline for one project.
func (e *Engine) Restart(ctx context.Context, projectName string, opts Options) error {
	start := time.Now()

	project, err := e.Config.Project(projectName)
	if err != nil {
		return err
	}

	group, err := e.resolveGroup(ctx, project, opts)
	if err != nil {
		return err
	}
	members, ok := project.Groups[group]
	if !ok || len(members) == 0 {
		return &jrollerr.LookupError{Kind: "group", Name: group}
	}
	e.Log.Info("restart resolved group", "project", projectName, "group", group)

	for _, m := range members {
		mj, err := m.Jail()
		if err != nil {
			return err
		}
		mh, err := m.Host()
		if err != nil {
			return err
		}

		info, err := e.Inspect.Inspect(ctx, mj, mh)
		if err != nil {
			return err
		}

		if err := e.restartMember(ctx, project, group, m, mj, mh, info, opts.DryRun); err != nil {
			return err
		}
	}

	e.Log.Info("restart complete", "project", projectName, "group", group, "elapsed", time.Since(start).String())
	return nil
}

func (e *Engine) resolveGroup(ctx context.Context, project *config.Project, opts Options) (string, error) {
	if opts.Group != "" {
		return opts.Group, nil
	}
	if opts.Active {
		return e.Resolve.ResolveActive(ctx, project)
	}
	return e.Resolve.Resolve(ctx, project)
}

func (e *Engine) restartMember(ctx context.Context, project *config.Project, group string, m config.Member, mj, mh string, info *jail.Info, dryRun bool) error {
	if info.Running {
		if dryRun {
			e.Log.Info("dry-run: would stop member", "jail", mj, "host", mh)
		} else {
			if _, err := e.Exec.Run(ctx, mh, fmt.Sprintf("ezjail-admin stop %s", mj)); err != nil {
				return err
			}
			e.sleep(stopSettleDelay)
		}
	}

	for _, path := range project.EffectiveCopy(m) {
		if dryRun {
			e.Log.Info("dry-run: would refresh copy file", "path", path, "host", mh)
			continue
		}
		cmd := fmt.Sprintf("cp %s %s", shQuote(path), shQuote(info.RootDir+path))
		if _, err := e.Exec.Run(ctx, mh, cmd); err != nil {
			return err
		}
	}

	metaPath := project.EffectiveMeta(m)
	if metaPath != "" {
		if err := e.writeMetaFile(ctx, project, group, mj, mh, info, metaPath, dryRun); err != nil {
			return err
		}
	}

	if !m.Halt {
		if dryRun {
			e.Log.Info("dry-run: would start member", "jail", mj, "host", mh)
		} else if _, err := e.Exec.Run(ctx, mh, fmt.Sprintf("ezjail-admin start %s", mj)); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) writeMetaFile(ctx context.Context, project *config.Project, group, mj, mh string, info *jail.Info, metaPath string, dryRun bool) error {
	if dryRun {
		e.Log.Info("dry-run: would write meta file", "host", mh, "path", metaPath)
		return nil
	}

	doc := meta.New(e.now(), project.Name, group, mj, mh, project.Info)

	tmpDir, err := os.MkdirTemp("", "jroll-restart-meta")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, "deploy.meta.yml")
	if err := meta.Write(local, doc); err != nil {
		return err
	}

	remoteTmp := fmt.Sprintf("%s/tmp/deploy.meta.yml.%s.%d", info.RootDir, e.Username, e.Pid)
	if err := e.Copy.Copy(ctx, local, mh, remoteTmp); err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("mv %s %s", shQuote(remoteTmp), shQuote(info.RootDir+metaPath)),
		fmt.Sprintf("chown 0:0 %s", shQuote(info.RootDir+metaPath)),
		fmt.Sprintf("chmod 444 %s", shQuote(info.RootDir+metaPath)),
	}
	for _, cmd := range cmds {
		if _, err := e.Exec.Run(ctx, mh, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
