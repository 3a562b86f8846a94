// Package integrity computes and verifies BLAKE3 digests of dump
// files as they move across hops.
package integrity

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"jroll/internal/jrollerr"
	"jroll/internal/sshexec"
)

// HashFile returns the hex-encoded BLAKE3 digest of a local file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// Verify hashes path and compares it against expected, returning an
// IntegrityError identifying host on mismatch.
func Verify(host, path, expected string) error {
	actual, err := HashFile(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &jrollerr.IntegrityError{Host: host, Expected: expected, Actual: actual}
	}
	return nil
}

// HashRemote computes the BLAKE3 digest of a file that lives on a
// remote host, without pulling it permanently onto the control
// machine: it reads the file's bytes over the existing RemoteExec
// channel (`cat <path>`) and hashes them in memory. The dump itself
// never takes this path for its host-to-host fan-out (that always
// happens via a remote `scp` issued on the pillar host); this is only
// used to obtain a digest to compare against.
func HashRemote(ctx context.Context, exec sshexec.RemoteExec, host, path string) (string, error) {
	out, err := exec.Run(ctx, host, "cat "+shellQuote(path))
	if err != nil {
		return "", err
	}

	hasher := blake3.New()
	if _, err := io.Copy(hasher, strings.NewReader(out)); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// VerifyRemote is the remote-file counterpart of Verify.
func VerifyRemote(ctx context.Context, exec sshexec.RemoteExec, host, path, expected string) error {
	actual, err := HashRemote(ctx, exec, host, path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &jrollerr.IntegrityError{Host: host, Expected: expected, Actual: actual}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
