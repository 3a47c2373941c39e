package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lintestor-go/lintestor/pkg/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDiscoverFilesCollectsTestMDOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "boot.test.md", "x")
	writeFile(t, dir, "notes.md", "x")
	writeFile(t, dir, "sub/child.test.md", "x")

	got, err := DiscoverFiles(dir, true)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 .test.md files, got %v", got)
	}
}

func TestDiscoverFilesNonRecursiveSkipsSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "boot.test.md", "x")
	writeFile(t, dir, "sub/child.test.md", "x")

	got, err := DiscoverFiles(dir, false)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 top-level .test.md file, got %v", got)
	}
}

func TestDiscoverFilesMissingDirReturnsEmpty(t *testing.T) {
	got, err := DiscoverFiles(filepath.Join(t.TempDir(), "nope"), true)
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestLoadSkipsUnparsableFilesWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.test.md", "good")
	bad := writeFile(t, dir, "bad.test.md", "bad")

	parse := func(path, content string) (*model.Template, error) {
		if content == "bad" {
			return nil, errors.New("boom")
		}
		return &model.Template{ID: "good", Path: path}, nil
	}

	got := Load([]string{good, bad}, parse, nil)
	if len(got) != 1 || got[0].ID != "good" {
		t.Errorf("expected only the parsable template, got %+v", got)
	}
}

func TestLoadSkipsUnreadableFile(t *testing.T) {
	parse := func(path, content string) (*model.Template, error) {
		return &model.Template{ID: "x", Path: path}, nil
	}
	got := Load([]string{"/nonexistent/path.test.md"}, parse, nil)
	if len(got) != 0 {
		t.Errorf("expected no templates for unreadable path, got %+v", got)
	}
}

func TestFilterMatchesTarget(t *testing.T) {
	tpl := &model.Template{Metadata: model.Metadata{TargetConfig: "targets/qemu-riscv.toml", UnitName: "boot", Tags: []string{"smoke"}}}

	f := Filter{Target: "qemu-riscv"}
	if !f.Matches(tpl) {
		t.Error("expected target match against final path component (sans extension)")
	}
	f = Filter{Target: "other"}
	if f.Matches(tpl) {
		t.Error("expected non-matching target to be filtered out")
	}
}

func TestFilterMatchesUnit(t *testing.T) {
	tpl := &model.Template{Metadata: model.Metadata{UnitName: "boot"}}
	if !(Filter{Unit: "boot"}).Matches(tpl) {
		t.Error("expected unit match")
	}
	if (Filter{Unit: "other"}).Matches(tpl) {
		t.Error("expected unit mismatch to filter out")
	}
}

func TestFilterMatchesAnyOneTag(t *testing.T) {
	tpl := &model.Template{Metadata: model.Metadata{Tags: []string{"smoke", "boot"}}}
	if !(Filter{Tags: []string{"nightly", "boot"}}).Matches(tpl) {
		t.Error("expected match when template carries at least one requested tag")
	}
	if (Filter{Tags: []string{"nightly"}}).Matches(tpl) {
		t.Error("expected no match when template carries none of the requested tags")
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	templates := []*model.Template{
		{ID: "a", Metadata: model.Metadata{UnitName: "boot"}},
		{ID: "b", Metadata: model.Metadata{UnitName: "other"}},
		{ID: "c", Metadata: model.Metadata{UnitName: "boot"}},
	}
	got := Apply(templates, Filter{Unit: "boot"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("expected [a c] in original order, got %+v", got)
	}
}
