package resolve

import (
	"errors"
	"fmt"
)

var (
	errNoSource    = errors.New("project has neither info nor inactive set")
	errMissingTail = errors.New("response YAML missing 'tail' field")
)

func errBadContentType(ct string) error {
	return fmt.Errorf("expected content-type text/yaml, got %q", ct)
}

func errBadStatus(code int) error {
	return fmt.Errorf("unexpected HTTP status %d", code)
}
