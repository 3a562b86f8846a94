package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, path, project, recipient string) {
	t.Helper()
	doc := map[string]any{
		"projects": map[string]any{
			project: map[string]any{
				"super":    "s0@super.dc1",
				"groups":   map[string]any{"blue": []any{map[string]any{"id": "w1@n1.dc1"}}},
				"inactive": "blue",
				"encrypt":  recipient,
			},
		},
	}
	data, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestTestDetectsMatchingIdentity(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "jroll.yml")
	writeConfig(t, configPath, "web", identity.Recipient().String())

	keyPath := filepath.Join(dir, "identity.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0o600))

	err = Test(context.Background(), configPath, "web", keyPath)
	require.NoError(t, err)
}

func TestTestRejectsMismatchedIdentity(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "jroll.yml")
	writeConfig(t, configPath, "web", identity.Recipient().String())

	keyPath := filepath.Join(dir, "identity.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(other.String()+"\n"), 0o600))

	err = Test(context.Background(), configPath, "web", keyPath)
	require.Error(t, err)
}
