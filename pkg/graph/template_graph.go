package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lintestor-go/lintestor/pkg/model"
)

// TemplateLoader reads and parses a template file from disk, used by
// TemplateGraph to pull in transitively referenced templates that were not
// part of the initial discovery batch (spec §4.5).
type TemplateLoader func(path string) (*model.Template, error)

// TemplateGraph is a directed graph over template paths where an edge
// A -> B means "A references B" (spec §4.5). Grounded on
// original_source/src/template/dependency/mod.rs's TemplateDependencyManager.
type TemplateGraph struct {
	workDir  string
	load     TemplateLoader
	byPath   map[string]*model.Template
	deps     map[string]map[string]struct{}
	rdeps    map[string]map[string]struct{}
}

// NewTemplateGraph creates an empty graph rooted at workDir, used to
// resolve relative reference paths.
func NewTemplateGraph(workDir string, load TemplateLoader) *TemplateGraph {
	return &TemplateGraph{
		workDir: workDir,
		load:    load,
		byPath:  make(map[string]*model.Template),
		deps:    make(map[string]map[string]struct{}),
		rdeps:   make(map[string]map[string]struct{}),
	}
}

// Add registers an already-parsed template with the graph.
func (g *TemplateGraph) Add(t *model.Template) {
	path := g.normalize(t.Path)
	g.byPath[path] = t
	if g.deps[path] == nil {
		g.deps[path] = make(map[string]struct{})
	}
	if g.rdeps[path] == nil {
		g.rdeps[path] = make(map[string]struct{})
	}
}

func (g *TemplateGraph) normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Build resolves every template's references, loading transitive
// referents from disk as needed, and wires the dependency/reverse
// dependency edges. A referenced template that does not exist on disk is
// a fatal GraphError.
func (g *TemplateGraph) Build() error {
	var toLoad []string
	for _, t := range templatesSnapshot(g.byPath) {
		for _, ref := range t.Metadata.References {
			resolved, err := g.resolveTemplatePath(ref.Template)
			if err != nil {
				return fmt.Errorf("graph: template %s references %q: %w", t.ID, ref.Template, err)
			}
			if _, ok := g.byPath[resolved]; !ok {
				toLoad = append(toLoad, resolved)
			}
		}
	}

	for _, path := range toLoad {
		if _, ok := g.byPath[path]; ok {
			continue
		}
		loaded, err := g.load(path)
		if err != nil {
			return fmt.Errorf("graph: loading referenced template %s: %w", path, err)
		}
		g.Add(loaded)
	}

	for path, t := range g.byPath {
		for _, ref := range t.Metadata.References {
			resolved, err := g.resolveTemplatePath(ref.Template)
			if err != nil {
				return fmt.Errorf("graph: template %s references %q: %w", t.ID, ref.Template, err)
			}
			g.deps[path][resolved] = struct{}{}
			if g.rdeps[resolved] == nil {
				g.rdeps[resolved] = make(map[string]struct{})
			}
			g.rdeps[resolved][path] = struct{}{}
		}
	}

	return nil
}

func templatesSnapshot(m map[string]*model.Template) []*model.Template {
	out := make([]*model.Template, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}

// resolveTemplatePath resolves a reference's raw path against the work
// directory, with the original_source fallback chain: direct join, then
// with a ".test.md" extension appended, then by matching file name (or file
// name plus ".md", so "b.test" finds "b.test.md") against already-known
// templates, then a recursive search under
// reports/ and tests/ (spec §4.5).
func (g *TemplateGraph) resolveTemplatePath(raw string) (string, error) {
	if filepath.IsAbs(raw) {
		if fileExists(raw) {
			return g.normalize(raw), nil
		}
		return "", fmt.Errorf("absolute reference does not exist: %s", raw)
	}

	direct := filepath.Join(g.workDir, raw)
	if fileExists(direct) {
		return g.normalize(direct), nil
	}

	if filepath.Ext(direct) == "" {
		withExt := direct + ".test.md"
		if fileExists(withExt) {
			return g.normalize(withExt), nil
		}
	}

	base := filepath.Base(raw)
	for path := range g.byPath {
		if filepath.Base(path) == base || filepath.Base(path) == base+".md" {
			return path, nil
		}
	}

	for _, dir := range []string{"reports", "tests"} {
		root := filepath.Join(g.workDir, dir)
		if found, ok := searchByBaseName(root, base); ok {
			return g.normalize(found), nil
		}
	}

	return "", fmt.Errorf("referenced template does not exist: %s", raw)
}

func searchByBaseName(root, base string) (string, bool) {
	var found string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if d != nil && !d.IsDir() && filepath.Base(path) == base {
			found = path
		}
		return nil
	})
	return found, found != ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrTemplateCycle is returned by Order on a cyclic template graph.
type ErrTemplateCycle struct {
	Unresolved []string
}

func (e *ErrTemplateCycle) Error() string {
	return fmt.Sprintf("template graph: cycle among %d template(s): %v", len(e.Unresolved), e.Unresolved)
}

// Order returns templates in topological order (a template referencing
// another comes after it), Kahn's algorithm with stable path-sorted
// tie-breaks.
func (g *TemplateGraph) Order() ([]*model.Template, error) {
	inDegree := make(map[string]int, len(g.byPath))
	for path := range g.byPath {
		inDegree[path] = len(g.deps[path])
	}

	var ready []string
	for path, d := range inDegree {
		if d == 0 {
			ready = append(ready, path)
		}
	}

	var order []*model.Template
	for len(ready) > 0 {
		sort.Strings(ready)
		path := ready[0]
		ready = ready[1:]
		order = append(order, g.byPath[path])

		var newlyReady []string
		for dependent := range g.rdeps[path] {
			if _, ok := inDegree[dependent]; !ok {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		ready = append(ready, newlyReady...)
	}

	if len(order) < len(g.byPath) {
		seen := make(map[string]bool, len(order))
		for _, t := range order {
			seen[g.normalize(t.Path)] = true
		}
		var unresolved []string
		for path := range g.byPath {
			if !seen[path] {
				unresolved = append(unresolved, path)
			}
		}
		sort.Strings(unresolved)
		return nil, &ErrTemplateCycle{Unresolved: unresolved}
	}

	return order, nil
}

// AllSteps flattens every loaded template's execution steps, for building
// a single cross-template StepGraph.
func (g *TemplateGraph) AllSteps() []*model.ExecutionStep {
	var out []*model.ExecutionStep
	var paths []string
	for path := range g.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		out = append(out, g.byPath[path].ExecutionSteps...)
	}
	return out
}

// Templates returns every loaded template (including transitively pulled
// ones), in no particular order — use Order for execution order.
func (g *TemplateGraph) Templates() []*model.Template {
	return templatesSnapshot(g.byPath)
}

// ByPath looks up a loaded template by its normalized path.
func (g *TemplateGraph) ByPath(path string) (*model.Template, bool) {
	t, ok := g.byPath[g.normalize(path)]
	return t, ok
}
