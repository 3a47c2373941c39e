// Package discovery walks a work directory for `*.test.md` template files
// and filters the parsed results by target/unit/tag (spec §4.8). Grounded
// on original_source/src/template/discovery.rs's discover_templates /
// filter_templates / matches_filter.
package discovery

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lintestor-go/lintestor/pkg/model"
)

// Filter narrows a discovered template set by metadata.
type Filter struct {
	Target string   // matched against the target_config path's final component, extension stripped
	Unit   string   // matched against metadata.unit_name
	Tags   []string // a template matches if it carries at least one of these
}

// Parser is the markdown.Parse signature, injected so this package never
// imports pkg/markdown directly (keeps the dependency direction one-way:
// orchestrator wires parser + discovery together).
type Parser func(path string, content string) (*model.Template, error)

// DiscoverFiles walks dir (recursively, if recursive is true) collecting
// every file whose name ends in ".test.md".
func DiscoverFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var out []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".test.md") {
			out = append(out, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(out)
	return out, nil
}

// Load parses every discovered path, skipping (with a warning, never
// fatal) any file that fails to parse (spec §4.8).
func Load(paths []string, parse Parser, log *slog.Logger) []*model.Template {
	if log == nil {
		log = slog.Default()
	}
	var out []*model.Template
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warn("discovery: failed to read template", "path", path, "error", err)
			continue
		}
		t, err := parse(path, string(content))
		if err != nil {
			log.Warn("discovery: failed to parse template", "path", path, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out
}

// Matches reports whether t satisfies every set condition of f (spec
// §4.8's matches_filter: target compared against target_config's final
// path component without its extension, unit compared against unit_name, tags matched if the
// template carries any one of them).
func (f Filter) Matches(t *model.Template) bool {
	if f.Target != "" {
		comp := filepath.Base(t.Metadata.TargetConfig)
		comp = strings.TrimSuffix(comp, filepath.Ext(comp))
		if comp != f.Target {
			return false
		}
	}
	if f.Unit != "" && t.Metadata.UnitName != f.Unit {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, tag := range t.Metadata.Tags {
				if tag == want {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply filters templates down to those matching f, preserving order.
func Apply(templates []*model.Template, f Filter) []*model.Template {
	var out []*model.Template
	for _, t := range templates {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}
