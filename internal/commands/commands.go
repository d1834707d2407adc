// Package commands implements the user-invoked entry points: registering a
// template, inserting a template into a file, and forcing a resync. Every
// entry point reports problems through the notifier as well as returning
// them.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"

	"htmlporter/internal/config"
	"htmlporter/internal/logging"
	"htmlporter/internal/marker"
	"htmlporter/internal/propagate"
	"htmlporter/internal/registry"
	"htmlporter/internal/ux"
	"htmlporter/internal/workspace"
)

var (
	ErrNotMarkup      = errors.New("not a markup file")
	ErrLineNotEmpty   = errors.New("line is not empty")
	ErrLineOutOfRange = errors.New("line out of range")
	ErrNoTemplates    = errors.New("no templates registered")
	ErrSelfInsertion  = errors.New("template cannot target itself")
	ErrFileNotFound   = errors.New("file not found")
	ErrNotATarget     = errors.New("file is not a target of the template")
)

// Armer starts watching a newly registered template.
type Armer interface {
	Arm(ctx context.Context, id string) error
}

// Service wires the commands to the registry, engine and user surface.
type Service struct {
	cfg    *config.Config
	root   workspace.Root
	store  *registry.Store
	engine *propagate.Engine
	notify ux.Notifier
	picker ux.Picker
	armer  Armer
}

// New creates a Service. picker may be nil when UseTemplate is never called
// without an explicit template.
func New(cfg *config.Config, store *registry.Store, engine *propagate.Engine, notify ux.Notifier, picker ux.Picker) *Service {
	return &Service{
		cfg:    cfg,
		root:   store.Root(),
		store:  store,
		engine: engine,
		notify: notify,
		picker: picker,
	}
}

// SetArmer attaches the running change reactor, if any.
func (s *Service) SetArmer(a Armer) { s.armer = a }

// fail reports err to the user and returns it.
func (s *Service) fail(msg string, err error) error {
	s.notify.Error(msg)
	logging.Get(logging.CategoryCommands).Warnw(msg, "error", err)
	return err
}

// resolve turns a user-supplied file path into an identifier.
func (s *Service) resolve(file string) (string, error) {
	id, err := s.root.Rel(file)
	if err != nil {
		return "", s.fail(fmt.Sprintf("%s is not inside the workspace.", file), err)
	}
	if !s.root.Exists(id) {
		return "", s.fail(fmt.Sprintf("File not found: %s", file), fmt.Errorf("%w: %s", ErrFileNotFound, file))
	}
	return id, nil
}

// AddTemplate registers file as a template with no targets.
func (s *Service) AddTemplate(ctx context.Context, file string) error {
	if !s.cfg.IsMarkup(file) {
		return s.fail("Please open an HTML file to add it as a template.", fmt.Errorf("%w: %s", ErrNotMarkup, file))
	}
	id, err := s.resolve(file)
	if err != nil {
		return err
	}

	added, err := s.store.AddTemplate(id)
	if err != nil {
		return s.fail(fmt.Sprintf("Could not register template: %v", err), err)
	}
	if !added {
		s.notify.Warn("This file is already marked as a template.")
		return nil
	}

	if s.armer != nil {
		if err := s.armer.Arm(ctx, id); err != nil {
			return s.fail(fmt.Sprintf("Template added but not watched: %v", err), err)
		}
	}
	logging.Commands("added template %s", id)
	s.notify.Info("Template added successfully.")
	return nil
}

// UseTemplate inserts a template block into file at the start of line
// (1-based), which must be blank. When template is empty the picker asks
// which one to use. file becomes a target of the chosen template.
func (s *Service) UseTemplate(ctx context.Context, file string, line int, template string) error {
	if !s.cfg.IsMarkup(file) {
		return s.fail("Please open an HTML file to insert a template.", fmt.Errorf("%w: %s", ErrNotMarkup, file))
	}
	id, err := s.resolve(file)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(s.root.Abs(id))
	if err != nil {
		return s.fail(fmt.Sprintf("Could not read %s: %v", file, err), err)
	}
	text := string(data)

	offset, err := lineOffset(text, line)
	if err != nil {
		return s.fail("Please select an empty line to insert the template.", err)
	}

	templates, err := s.store.List()
	if err != nil {
		return s.fail(fmt.Sprintf("Could not load templates: %v", err), err)
	}
	if len(templates) == 0 {
		s.notify.Warn("No templates registered yet. Add one first.")
		return ErrNoTemplates
	}

	choice := template
	if choice == "" {
		if s.picker == nil {
			return s.fail("No template selected.", ux.ErrCancelled)
		}
		options := make([]string, len(templates))
		for i, t := range templates {
			options[i] = t.Path
		}
		choice, err = s.picker.Select(ctx, "Select a template", options)
		if errors.Is(err, ux.ErrCancelled) {
			return nil
		}
		if err != nil {
			return s.fail(fmt.Sprintf("Could not select a template: %v", err), err)
		}
	}
	if registry.FindByTemplatePath(templates, choice) < 0 {
		return s.fail(fmt.Sprintf("%s is not a registered template.", choice), fmt.Errorf("%w: %s", registry.ErrTemplateNotFound, choice))
	}
	if choice == id {
		return s.fail("A template cannot be inserted into itself.", ErrSelfInsertion)
	}

	content, err := s.root.ReadFile(choice)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", propagate.ErrTemplateMissing, choice)
		}
		return s.fail(fmt.Sprintf("Template not found at path: %s", s.root.Abs(choice)), err)
	}

	if _, err := s.store.AddTarget(choice, id); err != nil {
		return s.fail(fmt.Sprintf("Could not record target: %v", err), err)
	}

	block := propagate.RenderInsertion(choice, string(content))
	out := text[:offset] + block + text[offset:]
	if err := atomic.WriteFile(s.root.Abs(id), strings.NewReader(out)); err != nil {
		return s.fail(fmt.Sprintf("Could not write %s: %v", file, err), err)
	}

	logging.Commands("inserted %s into %s at line %d", choice, id, line)
	s.notify.Info(fmt.Sprintf("Inserted %s into %s.", choice, id))
	return nil
}

// lineOffset returns the byte offset of the start of line (1-based) after
// checking that the line holds only whitespace.
func lineOffset(text string, line int) (int, error) {
	lines := strings.SplitAfter(text, "\n")
	if line < 1 || line > len(lines) {
		return 0, fmt.Errorf("%w: %d", ErrLineOutOfRange, line)
	}
	if strings.TrimSpace(lines[line-1]) != "" {
		return 0, fmt.Errorf("%w: %d", ErrLineNotEmpty, line)
	}
	offset := 0
	for _, l := range lines[:line-1] {
		offset += len(l)
	}
	return offset, nil
}

// UpdateTemplates re-propagates every registered template regardless of
// whether a change was observed. A missing template source produces a
// warning and the remaining templates still run.
func (s *Service) UpdateTemplates(ctx context.Context) error {
	templates, err := s.store.List()
	if err != nil {
		return s.fail(fmt.Sprintf("Could not load templates: %v", err), err)
	}

	var errs []error
	for _, tmpl := range templates {
		res, err := s.engine.PropagateUpdate(ctx, tmpl)
		switch {
		case errors.Is(err, propagate.ErrTemplateMissing):
			s.notify.Warn(fmt.Sprintf("Template not found at path: %s", s.root.Abs(tmpl.Path)))
		case err != nil:
			s.notify.Error(fmt.Sprintf("Updating %s: %v", tmpl.Path, err))
			errs = append(errs, err)
		default:
			logging.Commands("updated %s: %d rewritten, %d pruned", tmpl.Path, res.Updated, res.Pruned)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.notify.Info("Templates updated successfully in all targets.")
	return nil
}

// Untarget detaches file from template and strips the template's block
// from it.
func (s *Service) Untarget(ctx context.Context, file, template string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := s.root.Rel(file)
	if err != nil {
		return s.fail(fmt.Sprintf("%s is not inside the workspace.", file), err)
	}

	removed, err := s.store.RemoveTarget(template, id)
	if err != nil {
		return s.fail(fmt.Sprintf("Could not update templates: %v", err), err)
	}
	if !removed {
		s.notify.Warn(fmt.Sprintf("%s is not a target of %s.", id, template))
		return ErrNotATarget
	}

	if _, err := s.engine.StripTarget(template, id); err != nil {
		return s.fail(fmt.Sprintf("Could not strip %s from %s: %v", template, id, err), err)
	}
	s.notify.Info(fmt.Sprintf("%s no longer receives %s.", id, template))
	return nil
}

// TargetStatus describes one target of a template.
type TargetStatus struct {
	Path   string
	Exists bool
	Blocks int
}

// TemplateStatus describes one registered template.
type TemplateStatus struct {
	Path    string
	Exists  bool
	Targets []TargetStatus
}

// List reports every template with the state of its targets on disk.
func (s *Service) List() ([]TemplateStatus, error) {
	templates, err := s.store.List()
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Could not load templates: %v", err), err)
	}

	out := make([]TemplateStatus, 0, len(templates))
	for _, tmpl := range templates {
		st := TemplateStatus{Path: tmpl.Path, Exists: s.root.Exists(tmpl.Path)}
		pattern := marker.BuildPattern(tmpl.Path)
		for _, target := range tmpl.Targets {
			ts := TargetStatus{Path: target}
			if data, err := s.root.ReadFile(target); err == nil {
				ts.Exists = true
				ts.Blocks = pattern.Count(string(data))
			}
			st.Targets = append(st.Targets, ts)
		}
		out = append(out, st)
	}
	return out, nil
}
