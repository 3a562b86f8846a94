// Package jail implements JailInspector: given (jail, host), it
// produces a JailInfo record by running and parsing three remote
// commands — ezjail's per-jail config, `mount -ptzfs`, and `zfs list
// -Hrt snapshot` — plus `ezjail-admin list` for run state. Each
// command's output is split into lines and walked for fixed-position
// tokens rather than parsed with a general-purpose format.
package jail

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"jroll/internal/jrollerr"
	"jroll/internal/sshexec"
)

// Info is the discovered state of one (jail, host) pair.
type Info struct {
	Host     string
	Jail     string
	RootDir  string
	RootFS   string
	IP       string
	Hostname string

	// Snapshots is newest-first.
	Snapshots   []string
	SnapshotSet map[string]bool

	Running bool
}

// Inspector runs and parses the remote discovery commands.
type Inspector struct {
	Exec sshexec.RemoteExec
}

// New builds an Inspector backed by exec.
func New(exec sshexec.RemoteExec) *Inspector {
	return &Inspector{Exec: exec}
}

// Inspect discovers the JailInfo for (jailName, host).
func (insp *Inspector) Inspect(ctx context.Context, jailName, host string) (*Info, error) {
	safe := sanitize(jailName)

	attrs, err := insp.readEzjailConfig(ctx, safe, host)
	if err != nil {
		return nil, err
	}

	rootdir, ok := attrs["rootdir"]
	if !ok || rootdir == "" {
		return nil, &jrollerr.DiscoveryError{Jail: jailName, Host: host, Attr: "rootdir"}
	}

	rootfs, err := insp.findRootFS(ctx, host, rootdir)
	if err != nil {
		return nil, err
	}
	if rootfs == "" {
		return nil, &jrollerr.DiscoveryError{Jail: jailName, Host: host, Attr: "rootfs"}
	}

	snapshots, err := insp.listSnapshots(ctx, host, rootfs)
	if err != nil {
		return nil, err
	}

	running, err := insp.isRunning(ctx, host, attrs["ip"], attrs["hostname"])
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(snapshots))
	for _, s := range snapshots {
		set[s] = true
	}

	return &Info{
		Host:        host,
		Jail:        jailName,
		RootDir:     rootdir,
		RootFS:      rootfs,
		IP:          attrs["ip"],
		Hostname:    attrs["hostname"],
		Snapshots:   snapshots,
		SnapshotSet: set,
		Running:     running,
	}, nil
}

// sanitize replaces every non-alphanumeric character with '_', the
// same transform ezjail applies when deriving a config filename from
// a jail name.
func sanitize(jailName string) string {
	var b strings.Builder
	for _, r := range jailName {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (insp *Inspector) readEzjailConfig(ctx context.Context, safe, host string) (map[string]string, error) {
	out, err := insp.Exec.Run(ctx, host, fmt.Sprintf("cat /usr/local/etc/ezjail/%s", safe))
	if err != nil {
		return nil, err
	}

	lineRE := regexp.MustCompile(`^\s*export\s+jail_` + regexp.QuoteMeta(safe) + `_(\w+)="([^"]*)"\s*$`)

	attrs := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		m := lineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], m[2]
		if key == "ip" {
			if idx := strings.Index(value, "|"); idx >= 0 {
				value = value[idx+1:]
			}
		}
		attrs[key] = value
	}
	return attrs, nil
}

func (insp *Inspector) findRootFS(ctx context.Context, host, rootdir string) (string, error) {
	out, err := insp.Exec.Run(ctx, host, "mount -ptzfs")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		fs, mountpoint := fields[0], fields[1]
		if mountpoint == rootdir {
			return fs, nil
		}
	}
	return "", nil
}

func (insp *Inspector) listSnapshots(ctx context.Context, host, rootfs string) ([]string, error) {
	out, err := insp.Exec.Run(ctx, host, fmt.Sprintf("zfs list -Hrt snapshot -oname %s", rootfs))
	if err != nil {
		return nil, err
	}

	var snaps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		prefix := rootfs + "@"
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		snaps = append(snaps, strings.TrimPrefix(line, prefix))
	}

	// zfs list -r lists oldest first; callers need newest-first.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

func (insp *Inspector) isRunning(ctx context.Context, host, ip, hostname string) (bool, error) {
	out, err := insp.Exec.Run(ctx, host, "ezjail-admin list")
	if err != nil {
		return false, err
	}

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if fields[2] == ip && fields[3] == hostname {
			return strings.Contains(fields[0], "R"), nil
		}
	}
	return false, nil
}
