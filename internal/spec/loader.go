package spec

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"haven/pkg/platform/sentinel"
)

// Loader-level failures. ErrNotFound means the org/project combination is
// unknown (callers map to 404); ErrInvalid means the definition exists but
// cannot be used (callers map to 500). The distinction is load-bearing for
// operators.
var (
	ErrNotFound    = fmt.Errorf("form specification %w", sentinel.ErrNotFound)
	ErrInvalid     = fmt.Errorf("form specification %w", sentinel.ErrInvalidState)
	ErrPageUnknown = fmt.Errorf("page %w", sentinel.ErrNotFound)
)

// Loader reads form specifications from a directory laid out as
// <root>/<org>/<project>.yaml.
type Loader struct {
	root string
}

func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Load parses the spec for org/project from disk.
func (l *Loader) Load(org, project string) (*Spec, error) {
	if !safeSegment(org) || !safeSegment(project) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, org, project)
	}

	path := filepath.Join(l.root, org, project+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, org, project)
		}
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse %s/%s: %v", ErrInvalid, org, project, err)
	}
	s.Org = org
	s.Project = project
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", org, project, err)
	}
	return &s, nil
}

// safeSegment rejects path traversal in URL-supplied org/project names.
func safeSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\") && s != "." && s != ".."
}
