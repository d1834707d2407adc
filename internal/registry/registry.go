// Package registry persists the template -> targets mapping of one
// workspace. Every mutation reloads the store, applies one change and writes
// the whole document back; nothing is cached between operations.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/tidwall/jsonc"

	"htmlporter/internal/logging"
	"htmlporter/internal/workspace"
)

var (
	// ErrCorrupt is returned when the store exists but cannot be parsed.
	ErrCorrupt = errors.New("template registry is corrupt")
	// ErrTemplateNotFound is returned when an identifier is not registered.
	ErrTemplateNotFound = errors.New("template not registered")
)

const templatesKey = "templates"

// Template is one registered template and the files it is embedded in.
type Template struct {
	Path    string   `json:"path"`
	Targets []string `json:"targets"`
}

// Registry is the decoded store. Keys other than "templates" are carried
// through a load/save cycle untouched.
type Registry struct {
	Templates []Template
	extra     map[string]json.RawMessage
}

// FindByTemplatePath returns the index of the template with identifier id,
// or -1.
func FindByTemplatePath(templates []Template, id string) int {
	return slices.IndexFunc(templates, func(t Template) bool { return t.Path == id })
}

// Find returns the index of the template with identifier id, or -1.
func (r *Registry) Find(id string) int {
	return FindByTemplatePath(r.Templates, id)
}

// Store reads and writes the registry file of one workspace.
type Store struct {
	root workspace.Root
	path string
	mu   sync.Mutex
}

// Open returns a Store for the registry file at relPath under root. The file
// is not touched until the first operation.
func Open(root workspace.Root, relPath string) *Store {
	return &Store{root: root, path: root.Abs(relPath)}
}

// Path returns the absolute path of the registry file.
func (s *Store) Path() string { return s.path }

// Root returns the workspace the store belongs to.
func (s *Store) Root() workspace.Root { return s.root }

// Load reads the registry. A missing file yields an empty registry.
func (s *Store) Load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Registry{}, nil
	}

	// Strip comments and trailing commas so hand-edited files still load.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	reg := &Registry{}
	if raw, ok := doc[templatesKey]; ok {
		if err := json.Unmarshal(raw, &reg.Templates); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		delete(doc, templatesKey)
	}
	for i := range reg.Templates {
		if reg.Templates[i].Targets == nil {
			reg.Templates[i].Targets = []string{}
		}
	}
	if len(doc) > 0 {
		reg.extra = doc
	}
	return reg, nil
}

// Save writes reg as the whole store, creating the directory if needed.
func (s *Store) Save(reg *Registry) error {
	doc := make(map[string]any, len(reg.extra)+1)
	for k, v := range reg.extra {
		doc[k] = v
	}
	templates := reg.Templates
	if templates == nil {
		templates = []Template{}
	}
	doc[templatesKey] = templates

	// Paths are written as typed; '&', '<' and '>' are not escaped.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	logging.RegistryDebug("saved %d templates to %s", len(templates), s.path)
	return nil
}

// update runs fn against a freshly loaded registry and saves the result
// when fn reports a change.
func (s *Store) update(fn func(reg *Registry) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.Load()
	if err != nil {
		return false, err
	}
	changed, err := fn(reg)
	if err != nil || !changed {
		return false, err
	}
	if err := s.Save(reg); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every registered template.
func (s *Store) List() ([]Template, error) {
	reg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return reg.Templates, nil
}

// Get returns the template registered under id.
func (s *Store) Get(id string) (Template, error) {
	reg, err := s.Load()
	if err != nil {
		return Template{}, err
	}
	i := reg.Find(id)
	if i < 0 {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return reg.Templates[i], nil
}

// AddTemplate registers id with no targets. It returns false when id is
// already registered; the existing record is left as is.
func (s *Store) AddTemplate(id string) (bool, error) {
	added, err := s.update(func(reg *Registry) (bool, error) {
		if reg.Find(id) >= 0 {
			return false, nil
		}
		reg.Templates = append(reg.Templates, Template{Path: id, Targets: []string{}})
		return true, nil
	})
	if added {
		logging.Registry("registered template %s", id)
	}
	return added, err
}

// AddTarget appends target to the targets of id unless already present.
func (s *Store) AddTarget(id, target string) (bool, error) {
	added, err := s.update(func(reg *Registry) (bool, error) {
		i := reg.Find(id)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		if slices.Contains(reg.Templates[i].Targets, target) {
			return false, nil
		}
		reg.Templates[i].Targets = append(reg.Templates[i].Targets, target)
		return true, nil
	})
	if added {
		logging.Registry("template %s now targets %s", id, target)
	}
	return added, err
}

// RemoveTarget drops target from the targets of id. A missing template or
// target is not an error.
func (s *Store) RemoveTarget(id, target string) (bool, error) {
	removed, err := s.update(func(reg *Registry) (bool, error) {
		i := reg.Find(id)
		if i < 0 {
			return false, nil
		}
		j := slices.Index(reg.Templates[i].Targets, target)
		if j < 0 {
			return false, nil
		}
		reg.Templates[i].Targets = slices.Delete(reg.Templates[i].Targets, j, j+1)
		return true, nil
	})
	if removed {
		logging.Registry("removed target %s from template %s", target, id)
	}
	return removed, err
}

// RemoveTemplate deletes the record for id.
func (s *Store) RemoveTemplate(id string) (bool, error) {
	removed, err := s.update(func(reg *Registry) (bool, error) {
		i := reg.Find(id)
		if i < 0 {
			return false, nil
		}
		reg.Templates = slices.Delete(reg.Templates, i, i+1)
		return true, nil
	})
	if removed {
		logging.Registry("unregistered template %s", id)
	}
	return removed, err
}
