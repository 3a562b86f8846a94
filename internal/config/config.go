// Package config loads and validates the jroll configuration tree: a
// YAML document naming every project, its super jail, its blue/green
// groups, and its per-project defaults, loaded through a Load →
// Validate pair.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"jroll/internal/jrollerr"
)

// Member is a single deployment target within a group.
type Member struct {
	ID string `yaml:"id"`
	DC string `yaml:"dc,omitempty"`

	Keep *int     `yaml:"keep,omitempty"`
	Copy []string `yaml:"copy,omitempty"`
	Meta *string  `yaml:"meta,omitempty"`
	Halt bool     `yaml:"halt,omitempty"`
}

// Jail returns the jail name portion of Member.ID ("jail@host").
func (m Member) Jail() (string, error) { return splitID(m.ID) }

// Host returns the host portion of Member.ID ("jail@host").
func (m Member) Host() (string, error) {
	_, host, err := splitIDParts(m.ID)
	return host, err
}

// Project describes one deployable service spread across blue/green groups.
type Project struct {
	Name string `yaml:"-"`

	Super string `yaml:"super"`
	DC    string `yaml:"dc,omitempty"`

	Groups map[string][]Member `yaml:"groups"`

	Inactive string `yaml:"inactive"`
	Info     string `yaml:"info,omitempty"`

	Keep  int      `yaml:"keep,omitempty"`
	Clean []string `yaml:"clean,omitempty"`
	Copy  []string `yaml:"copy,omitempty"`
	Meta  string   `yaml:"meta,omitempty"`

	Compress   string `yaml:"compress,omitempty"`
	Decompress string `yaml:"decompress,omitempty"`

	// Encrypt, when set, is an age recipient (public key) string. The
	// dump is encrypted after send and decrypted before receive.
	// Off by default, leaving the transfer untouched when empty.
	Encrypt string `yaml:"encrypt,omitempty"`
}

// SuperJail returns the jail name portion of Project.Super.
func (p Project) SuperJail() (string, error) { return splitID(p.Super) }

// SuperHost returns the host portion of Project.Super.
func (p Project) SuperHost() (string, error) {
	_, host, err := splitIDParts(p.Super)
	return host, err
}

// EffectiveKeep resolves the retention count for a member, honoring
// the per-member override over the project default, over the
// built-in default of 23.
func (p Project) EffectiveKeep(m Member) int {
	if m.Keep != nil {
		return *m.Keep
	}
	if p.Keep != 0 {
		return p.Keep
	}
	return 23
}

// EffectiveCopy resolves the copy-file list for a member.
func (p Project) EffectiveCopy(m Member) []string {
	if len(m.Copy) > 0 {
		return m.Copy
	}
	if len(p.Copy) > 0 {
		return p.Copy
	}
	return []string{"/etc/hosts", "/etc/resolv.conf"}
}

// EffectiveMeta resolves the meta-file path for a member.
func (p Project) EffectiveMeta(m Member) string {
	if m.Meta != nil {
		return *m.Meta
	}
	if p.Meta != "" {
		return p.Meta
	}
	return "/etc/deploy.meta.yml"
}

// EffectiveClean resolves the clean-directory list for the project.
func (p Project) EffectiveClean() []string {
	if len(p.Clean) > 0 {
		return p.Clean
	}
	return []string{"/tmp", "/var/log"}
}

// OtherGroups returns every group name in the project aside from name.
func (p Project) OtherGroups(name string) []string {
	var others []string
	for g := range p.Groups {
		if g != name {
			others = append(others, g)
		}
	}
	return others
}

type file struct {
	Projects map[string]*Project `yaml:"projects"`
}

// Config is the fully loaded, validated configuration tree.
type Config struct {
	Projects map[string]*Project
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &jrollerr.ConfigError{Path: path, Err: err}
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &jrollerr.ConfigError{Path: path, Err: err}
	}

	for name, p := range f.Projects {
		p.Name = name
	}

	cfg := &Config{Projects: f.Projects}
	if err := cfg.Validate(); err != nil {
		return nil, &jrollerr.ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Validate checks every project for the invariants a deployable
// configuration must hold.
func (c *Config) Validate() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("no projects defined")
	}
	for name, p := range c.Projects {
		if err := p.validate(); err != nil {
			return fmt.Errorf("project %s: %w", name, err)
		}
	}
	return nil
}

func (p *Project) validate() error {
	if _, err := splitID(p.Super); err != nil {
		return fmt.Errorf("super: %w", err)
	}
	if len(p.Groups) == 0 {
		return fmt.Errorf("at least one group is required")
	}
	for group, members := range p.Groups {
		for _, m := range members {
			if _, err := splitID(m.ID); err != nil {
				return fmt.Errorf("group %s: %w", group, err)
			}
		}
	}
	if p.Inactive == "" && p.Info == "" {
		return fmt.Errorf("inactive or info must be set")
	}
	return nil
}

// Project looks up a project by name.
func (c *Config) Project(name string) (*Project, error) {
	p, ok := c.Projects[name]
	if !ok {
		return nil, &jrollerr.LookupError{Kind: "project", Name: name}
	}
	return p, nil
}

func splitID(id string) (string, error) {
	jail, _, err := splitIDParts(id)
	return jail, err
}

func splitIDParts(id string) (jail, host string, err error) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid id %q: must be jail@host", id)
	}
	return parts[0], parts[1], nil
}
