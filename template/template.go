// Package template provides prompt templates with variable substitution,
// single-parent inheritance, and semantic version tracking.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when a named template is not registered.
	ErrNotFound = errors.New("template: not found")
	// ErrMissingVariable is returned when rendering leaves a placeholder
	// unbound.
	ErrMissingVariable = errors.New("template: missing variable")
	// ErrInvalidTemplate is returned for malformed template definitions.
	ErrInvalidTemplate = errors.New("template: invalid template")
)

// BumpLevel selects which component of a semantic version to increment.
type BumpLevel string

const (
	BumpMajor BumpLevel = "major"
	BumpMinor BumpLevel = "minor"
	BumpPatch BumpLevel = "patch"
)

var (
	varPattern    = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	parentPattern = regexp.MustCompile(`\{\{>\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)
)

// Template is one named prompt with placeholder variables. Content may
// embed a parent template's rendered body with a {{>parent}} block.
type Template struct {
	Name     string
	Version  string
	Content  string
	Defaults map[string]string
}

// Registry holds templates by name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register stores a template, replacing any previous version under the
// same name. An empty Version defaults to 1.0.0.
func (r *Registry) Register(t Template) error {
	if t.Name == "" {
		return errors.Wrap(ErrInvalidTemplate, "name is required")
	}
	if t.Content == "" {
		return errors.Wrapf(ErrInvalidTemplate, "template %s has no content", t.Name)
	}
	if t.Version == "" {
		t.Version = "1.0.0"
	}
	if _, _, _, err := parseVersion(t.Version); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
	return nil
}

// Get returns a registered template by name.
func (r *Registry) Get(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, errors.Wrapf(ErrNotFound, "template %s", name)
	}
	return t, nil
}

// Names returns the registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render resolves the named template to its final prompt text. Parent
// blocks are expanded first, then variables are substituted from the
// merged defaults (parent first, child overrides) and the supplied vars,
// with vars taking precedence. Any unbound placeholder is an error.
func (r *Registry) Render(name string, vars map[string]string) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}

	content, defaults, err := r.expand(t, nil)
	if err != nil {
		return "", err
	}

	bindings := make(map[string]string, len(defaults)+len(vars))
	for k, v := range defaults {
		bindings[k] = v
	}
	for k, v := range vars {
		bindings[k] = v
	}

	var missing []string
	rendered := varPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := varPattern.FindStringSubmatch(match)[1]
		if v, ok := bindings[key]; ok {
			return v
		}
		missing = append(missing, key)
		return match
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.Wrapf(ErrMissingVariable, "template %s: %s", name, strings.Join(missing, ", "))
	}
	return rendered, nil
}

// expand resolves {{>parent}} blocks recursively, accumulating defaults
// ancestor-first so nearer templates win.
func (r *Registry) expand(t Template, seen []string) (string, map[string]string, error) {
	for _, name := range seen {
		if name == t.Name {
			return "", nil, errors.Wrapf(ErrInvalidTemplate, "inheritance cycle through %s", t.Name)
		}
	}
	seen = append(seen, t.Name)

	defaults := make(map[string]string)
	content := t.Content
	var expandErr error
	content = parentPattern.ReplaceAllStringFunc(content, func(match string) string {
		if expandErr != nil {
			return match
		}
		parentName := parentPattern.FindStringSubmatch(match)[1]
		parent, err := r.Get(parentName)
		if err != nil {
			expandErr = err
			return match
		}
		body, parentDefaults, err := r.expand(parent, seen)
		if err != nil {
			expandErr = err
			return match
		}
		for k, v := range parentDefaults {
			if _, ok := defaults[k]; !ok {
				defaults[k] = v
			}
		}
		return body
	})
	if expandErr != nil {
		return "", nil, expandErr
	}

	// Own defaults override anything inherited.
	for k, v := range t.Defaults {
		defaults[k] = v
	}
	return content, defaults, nil
}

// BumpVersion increments the named template's semantic version in place
// and returns the new version string. Minor and patch reset to zero when
// a higher component is bumped.
func (r *Registry) BumpVersion(name string, level BumpLevel) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[name]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "template %s", name)
	}
	major, minor, patch, err := parseVersion(t.Version)
	if err != nil {
		return "", err
	}
	switch level {
	case BumpMajor:
		major, minor, patch = major+1, 0, 0
	case BumpMinor:
		minor, patch = minor+1, 0
	case BumpPatch:
		patch++
	default:
		return "", errors.Newf("template: unknown bump level %q", level)
	}
	t.Version = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	r.templates[name] = t
	return t.Version, nil
}

func parseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, errors.Wrapf(ErrInvalidTemplate, "version %q is not major.minor.patch", v)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, convErr := strconv.Atoi(part)
		if convErr != nil || n < 0 {
			return 0, 0, 0, errors.Wrapf(ErrInvalidTemplate, "version %q is not major.minor.patch", v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
