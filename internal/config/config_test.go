package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
projects:
  web:
    super: w0@super.dc1
    dc: dc1
    groups:
      blue:
        - id: w1@n1.dc1
      green:
        - id: w2@n2.dc1
          halt: true
    inactive: green
    keep: 3
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jroll.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.Project("web")
	require.NoError(t, err)
	assert.Equal(t, "w0@super.dc1", p.Super)
	assert.Equal(t, "green", p.Inactive)
	assert.Equal(t, 3, p.Keep)
	assert.True(t, p.Groups["green"][0].Halt)
}

func TestLoadUnknownProject(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Project("missing")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestValidateRejectsBadID(t *testing.T) {
	cfg := &Config{Projects: map[string]*Project{
		"bad": {
			Super:    "not-a-valid-id",
			Groups:   map[string][]Member{"blue": {{ID: "a@b"}}},
			Inactive: "blue",
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRequiresGroups(t *testing.T) {
	cfg := &Config{Projects: map[string]*Project{
		"bad": {
			Super:    "s@h",
			Inactive: "blue",
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestEffectiveKeepPrecedence(t *testing.T) {
	p := Project{Keep: 5}
	memberKeep := 2
	assert.Equal(t, 2, p.EffectiveKeep(Member{Keep: &memberKeep}))
	assert.Equal(t, 5, p.EffectiveKeep(Member{}))

	p2 := Project{}
	assert.Equal(t, 23, p2.EffectiveKeep(Member{}))
}

func TestEffectiveCopyDefaults(t *testing.T) {
	p := Project{}
	assert.Equal(t, []string{"/etc/hosts", "/etc/resolv.conf"}, p.EffectiveCopy(Member{}))

	p2 := Project{Copy: []string{"/etc/custom"}}
	assert.Equal(t, []string{"/etc/custom"}, p2.EffectiveCopy(Member{}))

	m := Member{Copy: []string{"/etc/member-only"}}
	assert.Equal(t, []string{"/etc/member-only"}, p2.EffectiveCopy(m))
}

func TestEffectiveMetaDefaults(t *testing.T) {
	p := Project{}
	assert.Equal(t, "/etc/deploy.meta.yml", p.EffectiveMeta(Member{}))

	empty := ""
	m := Member{Meta: &empty}
	assert.Equal(t, "", p.EffectiveMeta(m))
}

func TestOtherGroups(t *testing.T) {
	p := Project{Groups: map[string][]Member{"blue": nil, "green": nil}}
	others := p.OtherGroups("green")
	require.Len(t, others, 1)
	assert.Equal(t, "blue", others[0])
}
