// Package propagate pushes template content into the targets registered for
// it, and strips it back out when the template goes away.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"htmlporter/internal/logging"
	"htmlporter/internal/marker"
	"htmlporter/internal/registry"
	"htmlporter/internal/workspace"
)

// ErrTemplateMissing is returned when a template's source file is gone.
var ErrTemplateMissing = errors.New("template not found")

// Result summarizes one propagation over a template's targets.
type Result struct {
	Template  string
	Updated   int // targets rewritten
	Unchanged int // targets without a block, or already current
	Pruned    int // missing targets dropped from the registry
	Skipped   int // missing targets ignored during removal
	Failed    int // targets whose read or write failed
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeUnchanged
	outcomeMissing
	outcomeFailed
)

// Engine rewrites marker blocks in target files.
type Engine struct {
	store     *registry.Store
	root      workspace.Root
	maxWrites int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrentWrites bounds how many targets of one template are
// rewritten at the same time.
func WithMaxConcurrentWrites(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWrites = n
		}
	}
}

// New creates an Engine over store.
func New(store *registry.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		root:      store.Root(),
		maxWrites: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RenderInsertion returns the block to insert for a template at a cursor.
func RenderInsertion(id, content string) string {
	return marker.Wrap(content, id)
}

// PropagateUpdate re-renders tmpl into each of its targets. Targets that no
// longer exist are removed from the registry one by one. A failing target
// does not stop the others; their errors are joined into the returned error.
func (e *Engine) PropagateUpdate(ctx context.Context, tmpl registry.Template) (Result, error) {
	res := Result{Template: tmpl.Path}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	content, err := e.root.ReadFile(tmpl.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, fmt.Errorf("%w: %s", ErrTemplateMissing, e.root.Abs(tmpl.Path))
		}
		return res, fmt.Errorf("reading template %s: %w", tmpl.Path, err)
	}

	block := marker.Wrap(string(content), tmpl.Path)
	err = e.forEachTarget("update", tmpl, block, &res, func(target string) error {
		if _, err := e.store.RemoveTarget(tmpl.Path, target); err != nil {
			return err
		}
		res.Pruned++
		return nil
	})
	return res, err
}

// PropagateRemoval strips the block of tmpl from every existing target.
// Missing targets are ignored; the caller is about to drop the record.
func (e *Engine) PropagateRemoval(ctx context.Context, tmpl registry.Template) (Result, error) {
	res := Result{Template: tmpl.Path}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	err := e.forEachTarget("removal", tmpl, "", &res, func(string) error {
		res.Skipped++
		return nil
	})
	return res, err
}

// StripTarget removes the block of template id from a single target.
func (e *Engine) StripTarget(id, target string) (bool, error) {
	if !e.root.Exists(target) {
		return false, nil
	}
	o, err := e.rewrite(target, marker.BuildPattern(id), "")
	return o == outcomeUpdated, err
}

// forEachTarget applies replacement to every target of tmpl concurrently.
// onMissing runs under the result lock for targets that do not exist.
func (e *Engine) forEachTarget(op string, tmpl registry.Template, replacement string, res *Result, onMissing func(target string) error) error {
	log := logging.Get(logging.CategoryPropagate).With("run", uuid.NewString(), "template", tmpl.Path, "op", op)
	pattern := marker.BuildPattern(tmpl.Path)

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(e.maxWrites)

	for _, target := range tmpl.Targets {
		g.Go(func() error {
			var (
				o   outcome
				err error
			)
			if e.root.Exists(target) {
				o, err = e.rewrite(target, pattern, replacement)
			} else {
				o = outcomeMissing
			}

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeUpdated:
				res.Updated++
				log.Debugw("target rewritten", "target", target)
			case outcomeUnchanged:
				res.Unchanged++
			case outcomeMissing:
				log.Infow("target missing", "target", target)
				if mErr := onMissing(target); mErr != nil {
					errs = append(errs, fmt.Errorf("pruning %s: %w", target, mErr))
				}
			case outcomeFailed:
				res.Failed++
				log.Warnw("target failed", "target", target, "error", err)
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infow("propagation finished",
		"updated", res.Updated, "unchanged", res.Unchanged,
		"pruned", res.Pruned, "skipped", res.Skipped, "failed", res.Failed)
	return errors.Join(errs...)
}

// rewrite replaces the first block matched by pattern in target. The file
// is written only when its content actually changes.
func (e *Engine) rewrite(target string, pattern *marker.Pattern, replacement string) (outcome, error) {
	path := e.root.Abs(target)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return outcomeMissing, nil
		}
		return outcomeFailed, fmt.Errorf("reading target %s: %w", target, err)
	}

	text := string(data)
	out, matched := pattern.ReplaceRegion(text, replacement)
	if !matched || out == text {
		return outcomeUnchanged, nil
	}

	if err := atomic.WriteFile(path, strings.NewReader(out)); err != nil {
		return outcomeFailed, fmt.Errorf("writing target %s: %w", target, err)
	}
	return outcomeUpdated, nil
}
