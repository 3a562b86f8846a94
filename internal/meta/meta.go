// Package meta encodes the small YAML breadcrumb written into each
// jail recording what was deployed and when.
package meta

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Doc is the deployment descriptor written to each target.
type Doc struct {
	Date    string `yaml:"date"`
	Group   string `yaml:"group"`
	Info    string `yaml:"info"`
	Jail    string `yaml:"jail"`
	Node    string `yaml:"node"`
	Project string `yaml:"project"`
}

// New builds a Doc for the given deployment, stamping date with now.
// info is set to the string "~" when the project has none set; the
// YAML encoder writes it quoted, as '~'.
func New(now time.Time, project, group, jail, node, info string) *Doc {
	if info == "" {
		info = "~"
	}
	return &Doc{
		Date:    now.Format("2006-01-02 15:04:05"),
		Group:   group,
		Info:    info,
		Jail:    jail,
		Node:    node,
		Project: project,
	}
}

// Write marshals the doc as YAML and writes it to a local path, which
// the caller then uploads via RemoteCopy before a remote mv into place.
func Write(path string, d *Doc) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal meta doc: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Read parses a meta doc from a local path. Only the tests call it;
// the show flow does not read meta files.
func Read(path string) (*Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal meta doc: %w", err)
	}
	return &d, nil
}
