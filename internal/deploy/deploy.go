// Package deploy implements DeployEngine: the orchestrator that
// composes discovery, pillar planning, sweep planning, the
// snapshot/send/receive pipeline, and optional integrity verification
// into the full blue/green deployment for one project. The pipeline
// shape — discover, pick a base, fan out, clean up — runs
// discover/snapshot/send/receive as one sequential, fail-fast run.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jroll/internal/config"
	"jroll/internal/cryptoutil"
	"jroll/internal/integrity"
	"jroll/internal/jail"
	"jroll/internal/jrollerr"
	"jroll/internal/meta"
	"jroll/internal/pillar"
	"jroll/internal/resolve"
	"jroll/internal/sshexec"
	"jroll/internal/sweep"
)

// Options configures one deploy invocation.
type Options struct {
	DryRun  bool
	Group   string
	Sweep   bool
	NoSweep bool
}

// Validate rejects mutually exclusive flag combinations.
func (o Options) Validate() error {
	if o.Sweep && o.NoSweep {
		return &jrollerr.UsageError{Msg: "--sweep and --no-sweep are mutually exclusive"}
	}
	return nil
}

// Engine runs deployments for a loaded configuration.
type Engine struct {
	Config  *config.Config
	Inspect *jail.Inspector
	Resolve *resolve.Resolver
	Exec    sshexec.RemoteExec
	Copy    sshexec.RemoteCopy
	Log     *slog.Logger

	// Now, when set, overrides time.Now for deterministic snapshot
	// naming in tests.
	Now func() time.Time

	Progname string
	Username string
	Pid      int
}

// Deploy runs the full pipeline for one project.
func (e *Engine) Deploy(ctx context.Context, projectName string, opts Options) error {
	start := time.Now()
	if err := opts.Validate(); err != nil {
		return err
	}

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
	e.Log.Info("resolved group", "project", projectName, "group", group)

	superJail, err := project.SuperJail()
	if err != nil {
		return err
	}
	superHost, err := project.SuperHost()
	if err != nil {
		return err
	}

	super, err := e.Inspect.Inspect(ctx, superJail, superHost)
	if err != nil {
		return err
	}

	targets := make(map[string]*jail.Info, len(members))
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
		targets[m.ID] = info
	}
	e.Log.Info("discovery complete", "super", super.Host, "targets", len(targets))

	plan := pillar.PlanPillars(project.Super, super.Host, project.DC, members)

	base, err := selectBase(super, targets)
	if err != nil {
		return &jrollerr.NoCommonBase{Project: projectName}
	}
	e.Log.Info("selected base snapshot", "base", base)

	sweepPlans := make(map[string]*sweep.Plan, len(members))
	if !opts.NoSweep {
		for _, m := range members {
			info := targets[m.ID]
			keep := project.EffectiveKeep(m)
			sweepPlans[m.ID] = sweep.PlanSweep(info.Snapshots, base, keep, opts.Sweep)
		}
	}

	if err := e.quiesceAndClean(ctx, project, super, opts.DryRun); err != nil {
		return err
	}

	snapName, err := e.snapshotSuper(ctx, project, super, opts.DryRun)
	if err != nil {
		return err
	}

	dumpPath, dumpHash, encrypted, err := e.dumpDelta(ctx, project, super, base, snapName, opts.DryRun)
	if err != nil {
		return err
	}

	for _, m := range members {
		mj, _ := m.Jail()
		mh, _ := m.Host()
		if err := e.deployMember(ctx, project, group, plan, m, mj, mh, targets[m.ID], base, dumpPath, dumpHash, encrypted, sweepPlans[m.ID], opts.DryRun); err != nil {
			return err
		}
	}

	if err := e.reapPillarDumps(ctx, plan, dumpPath, opts.DryRun); err != nil {
		return err
	}

	e.Log.Info("deploy complete", "project", projectName, "group", group, "elapsed", time.Since(start).String())
	return nil
}

func (e *Engine) resolveGroup(ctx context.Context, project *config.Project, opts Options) (string, error) {
	if opts.Group != "" {
		return opts.Group, nil
	}
	return e.Resolve.Resolve(ctx, project)
}

// selectBase iterates the super's snapshots newest-first and returns
// the first present in every target's snapshot set, so the chosen
// base is the most recent common ancestor rather than the oldest one.
func selectBase(super *jail.Info, targets map[string]*jail.Info) (string, error) {
	for _, snap := range super.Snapshots {
		common := true
		for _, t := range targets {
			if !t.SnapshotSet[snap] {
				common = false
				break
			}
		}
		if common {
			return snap, nil
		}
	}
	return "", fmt.Errorf("no common base")
}

func (e *Engine) quiesceAndClean(ctx context.Context, project *config.Project, super *jail.Info, dryRun bool) error {
	clean := project.EffectiveClean()
	if len(clean) == 0 {
		return nil
	}

	e.Log.Info("quiescing super", "jail", super.Jail, "host", super.Host)
	if dryRun {
		e.Log.Info("dry-run: would stop super and clean directories", "dirs", clean)
		return nil
	}

	if _, err := e.Exec.Run(ctx, super.Host, fmt.Sprintf("ezjail-admin stop %s", super.Jail)); err != nil {
		return err
	}
	for _, d := range clean {
		cmd := fmt.Sprintf("find %s -type f -delete", shQuote(super.RootDir+d))
		if _, err := e.Exec.Run(ctx, super.Host, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) snapshotSuper(ctx context.Context, project *config.Project, super *jail.Info, dryRun bool) (string, error) {
	name := "jroll." + e.now().Format("2006-01-02.15:04:05")

	wasCleaned := len(project.EffectiveClean()) > 0
	if dryRun {
		e.Log.Info("dry-run: would snapshot super", "name", name)
		return name, nil
	}

	if _, err := e.Exec.Run(ctx, super.Host, fmt.Sprintf("zfs snapshot %s@%s", super.RootFS, name)); err != nil {
		return "", err
	}

	if wasCleaned {
		if _, err := e.Exec.Run(ctx, super.Host, fmt.Sprintf("ezjail-admin start %s", super.Jail)); err != nil {
			return "", err
		}
	}
	return name, nil
}

// dumpDelta runs `zfs send` on the super host, stats and hashes the
// resulting file, and optionally encrypts it in place. It returns the
// dump's path, its plaintext BLAKE3 digest, and whether it now sits
// on disk age-encrypted.
func (e *Engine) dumpDelta(ctx context.Context, project *config.Project, super *jail.Info, base, snapName string, dryRun bool) (path, hash string, encrypted bool, err error) {
	dumpPath := fmt.Sprintf("/tmp/%s.%s.%d.%s", e.Progname, e.Username, e.Pid, project.Name)

	if dryRun {
		e.Log.Info("dry-run: would send delta", "base", base, "to", snapName, "dump", dumpPath)
		return dumpPath, "", false, nil
	}

	send := fmt.Sprintf("zfs send -I %s@%s %s@%s", super.RootFS, base, super.RootFS, snapName)
	if project.Compress != "" {
		send = fmt.Sprintf("%s | %s", send, project.Compress)
	}
	send = fmt.Sprintf("%s > %s", send, shQuote(dumpPath))
	if _, err := e.Exec.Run(ctx, super.Host, send); err != nil {
		return "", "", false, err
	}

	sizeOut, err := e.Exec.Run(ctx, super.Host, fmt.Sprintf("stat -f %%z %s", shQuote(dumpPath)))
	if err != nil {
		return "", "", false, err
	}
	e.Log.Info("dump created", "host", super.Host, "path", dumpPath, "size", strings.TrimSpace(sizeOut))

	hash, err = integrity.HashRemote(ctx, e.Exec, super.Host, dumpPath)
	if err != nil {
		return "", "", false, err
	}
	e.Log.Info("dump hashed", "host", super.Host, "blake3", hash)

	if project.Encrypt != "" {
		if err := e.encryptRemoteDump(ctx, super.Host, dumpPath, project.Encrypt); err != nil {
			return "", "", false, err
		}
		encrypted = true
	}

	return dumpPath, hash, encrypted, nil
}

// encryptRemoteDump pulls the dump to a local temp file, encrypts it
// with age, pushes the encrypted file back over the dump's own path,
// and removes the local temp copy. The plaintext hash recorded by
// dumpDelta still covers the bytes a receiver verifies after
// decrypting (SPEC_FULL.md §4.5).
func (e *Engine) encryptRemoteDump(ctx context.Context, host, dumpPath, recipientStr string) error {
	recipient, err := cryptoutil.ParseRecipient(recipientStr)
	if err != nil {
		return fmt.Errorf("parsing encrypt recipient: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "jroll-encrypt")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, "dump")
	localEnc := filepath.Join(tmpDir, "dump.age")

	out, err := e.Exec.Run(ctx, host, "cat "+shQuote(dumpPath))
	if err != nil {
		return err
	}
	if err := os.WriteFile(local, []byte(out), 0o600); err != nil {
		return err
	}

	if err := cryptoutil.EncryptFile(local, localEnc, recipient); err != nil {
		return err
	}

	if err := e.Copy.Copy(ctx, localEnc, host, dumpPath); err != nil {
		return err
	}
	e.Log.Info("dump encrypted in place", "host", host, "path", dumpPath)
	return nil
}

// deployMember carries one member through fan-out, stop, rollback,
// receive, node-file copy, meta write, start, dump cleanup, and sweep.
func (e *Engine) deployMember(
	ctx context.Context,
	project *config.Project,
	group string,
	plan *pillar.Plan,
	m config.Member,
	mj, mh string,
	info *jail.Info,
	base, dumpPath, dumpHash string,
	encrypted bool,
	sweepPlan *sweep.Plan,
	dryRun bool,
) error {
	pillarHost := plan.PillarOf[m.ID]

	if pillarHost != mh {
		if dryRun {
			e.Log.Info("dry-run: would scp dump", "from", pillarHost, "to", mh)
		} else {
			cmd := fmt.Sprintf("scp %s %s:%s", shQuote(dumpPath), mh, shQuote(dumpPath))
			if _, err := e.Exec.Run(ctx, pillarHost, cmd); err != nil {
				return err
			}
		}
	}

	recvDump := dumpPath
	if !dryRun && encrypted {
		decrypted, err := e.decryptRemoteDump(ctx, mh, dumpPath, project.Encrypt)
		if err != nil {
			return err
		}
		defer func() { _, _ = e.Exec.Run(ctx, mh, "rm -f "+shQuote(decrypted)) }()
		recvDump = decrypted
	}

	if !dryRun && dumpHash != "" {
		actual, err := integrity.HashRemote(ctx, e.Exec, mh, recvDump)
		if err != nil {
			return err
		}
		if actual != dumpHash {
			return &jrollerr.IntegrityError{Host: mh, Expected: dumpHash, Actual: actual}
		}
	}

	if info.Running {
		if dryRun {
			e.Log.Info("dry-run: would stop member", "jail", mj, "host", mh)
		} else if _, err := e.Exec.Run(ctx, mh, fmt.Sprintf("ezjail-admin stop %s", mj)); err != nil {
			return err
		}
	}

	if dryRun {
		e.Log.Info("dry-run: would rollback and receive", "jail", mj, "host", mh)
	} else {
		if _, err := e.Exec.Run(ctx, mh, fmt.Sprintf("zfs rollback -r %s@%s", info.RootFS, base)); err != nil {
			return err
		}

		recv := fmt.Sprintf("zfs recv %s < %s", info.RootFS, shQuote(recvDump))
		if project.Decompress != "" {
			recv = fmt.Sprintf("cat %s | %s | zfs recv %s", shQuote(recvDump), project.Decompress, info.RootFS)
		}
		if _, err := e.Exec.Run(ctx, mh, recv); err != nil {
			return err
		}
	}

	for _, path := range project.EffectiveCopy(m) {
		if dryRun {
			e.Log.Info("dry-run: would copy file", "path", path, "host", mh)
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

	if !plan.IsPillar(m.DC, mh) {
		if dryRun {
			e.Log.Info("dry-run: would delete dump copy", "host", mh)
		} else if _, err := e.Exec.Run(ctx, mh, "rm -f "+shQuote(dumpPath)); err != nil {
			return err
		}
	}

	if sweepPlan != nil {
		for _, snap := range sweepPlan.ToDelete() {
			if dryRun {
				e.Log.Info("dry-run: would destroy snapshot", "host", mh, "snapshot", snap)
				continue
			}
			if _, err := e.Exec.Run(ctx, mh, fmt.Sprintf("zfs destroy %s@%s", info.RootFS, snap)); err != nil {
				return err
			}
		}
	}

	return nil
}

// decryptRemoteDump pulls the encrypted dump, decrypts it with an
// operator-supplied age identity, and pushes the plaintext back under
// a sibling path for zfs recv to consume. The identity is never
// stored in config (only the recipient public key is); it is read
// from a file named by JROLL_AGE_IDENTITY.
func (e *Engine) decryptRemoteDump(ctx context.Context, host, dumpPath, _ string) (string, error) {
	identityPath := os.Getenv("JROLL_AGE_IDENTITY")
	if identityPath == "" {
		return "", fmt.Errorf("project.encrypt is set but JROLL_AGE_IDENTITY is not configured")
	}
	identityData, err := os.ReadFile(identityPath)
	if err != nil {
		return "", fmt.Errorf("reading age identity: %w", err)
	}
	identity, err := cryptoutil.ParseIdentity(strings.TrimSpace(string(identityData)))
	if err != nil {
		return "", fmt.Errorf("parsing age identity: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "jroll-decrypt")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	encLocal := filepath.Join(tmpDir, "dump.age")
	out, err := e.Exec.Run(ctx, host, "cat "+shQuote(dumpPath))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(encLocal, []byte(out), 0o600); err != nil {
		return "", err
	}

	plainLocal := filepath.Join(tmpDir, "dump")
	if err := cryptoutil.DecryptFile(encLocal, plainLocal, identity); err != nil {
		return "", err
	}

	remotePlain := dumpPath + ".plain"
	if err := e.Copy.Copy(ctx, plainLocal, host, remotePlain); err != nil {
		return "", err
	}
	return remotePlain, nil
}

func (e *Engine) writeMetaFile(ctx context.Context, project *config.Project, group, mj, mh string, info *jail.Info, metaPath string, dryRun bool) error {
	if dryRun {
		e.Log.Info("dry-run: would write meta file", "host", mh, "path", metaPath)
		return nil
	}

	doc := meta.New(e.now(), project.Name, group, mj, mh, project.Info)

	tmpDir, err := os.MkdirTemp("", "jroll-meta")
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

func (e *Engine) reapPillarDumps(ctx context.Context, plan *pillar.Plan, dumpPath string, dryRun bool) error {
	for _, host := range plan.PillarHosts() {
		if dryRun {
			e.Log.Info("dry-run: would reap pillar dump", "host", host)
			continue
		}
		if _, err := e.Exec.Run(ctx, host, "rm -f "+shQuote(dumpPath)); err != nil {
			return err
		}
	}
	return nil
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
