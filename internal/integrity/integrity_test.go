package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	responses map[string]string
}

func (f *fakeExec) Run(_ context.Context, host, command string) (string, error) {
	key := host + "|" + command
	out, ok := f.responses[key]
	if !ok {
		return "", fmt.Errorf("unexpected command %q on %q", command, host)
	}
	return out, nil
}

func TestHashFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	hash2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hash, hash2, "hashing is deterministic")
}

func TestVerifyDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	hash, err := HashFile(path)
	require.NoError(t, err)

	require.NoError(t, Verify("n1.dc1", path, hash))

	err = Verify("n1.dc1", path, "deadbeef")
	require.Error(t, err)
}

func TestHashRemoteMatchesLocalHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump")
	require.NoError(t, os.WriteFile(path, []byte("delta-bytes"), 0o644))

	local, err := HashFile(path)
	require.NoError(t, err)

	exec := &fakeExec{responses: map[string]string{
		"n1.dc1|cat '/tmp/dump'": "delta-bytes",
	}}

	remote, err := HashRemote(context.Background(), exec, "n1.dc1", "/tmp/dump")
	require.NoError(t, err)
	assert.Equal(t, local, remote)
}

func TestVerifyRemoteMismatch(t *testing.T) {
	exec := &fakeExec{responses: map[string]string{
		"n1.dc1|cat '/tmp/dump'": "actual-bytes",
	}}

	err := VerifyRemote(context.Background(), exec, "n1.dc1", "/tmp/dump", "deadbeef")
	require.Error(t, err)
}
