package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lintestor-go/lintestor/pkg/connection"
	"github.com/lintestor-go/lintestor/pkg/graph"
	"github.com/lintestor-go/lintestor/pkg/logging"
	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/trace"
	"github.com/lintestor-go/lintestor/pkg/variables"
)

func writeLocalTarget(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "target.toml")
	if err := os.WriteFile(path, []byte("testing_type = \"local\"\nenabled = true\n"), 0o644); err != nil {
		t.Fatalf("write target config: %v", err)
	}
	return "target.toml"
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	vars := variables.New(logging.NewSilent())
	pool := connection.NewPool(connection.Options{})
	tr := trace.NewWriter(discardWriter{}, "test-run")
	return New(vars, pool, tr, logging.NewSilent(), Options{CommandTimeout: 2 * time.Second})
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func simpleTemplate(t *testing.T, dir, id, targetConfig string) *model.Template {
	t.Helper()
	return &model.Template{
		ID:   id,
		Path: filepath.Join(dir, id+".test.md"),
		Metadata: model.Metadata{
			Title:        id,
			UnitName:     id,
			TargetConfig: targetConfig,
		},
	}
}

func TestExecutePassingStep(t *testing.T) {
	dir := t.TempDir()
	target := writeLocalTarget(t, dir)
	tpl := simpleTemplate(t, dir, "boot", target)

	step := &model.ExecutionStep{
		GlobalID:     "boot::check",
		TemplateID:   "boot",
		LocalID:      "check",
		Kind:         model.StepCode,
		Command:      "echo hello",
		Executable:   true,
		Active:       true,
		Dependencies: map[string]struct{}{},
		Assertions:   []model.Assertion{{Kind: model.AssertStdoutContains, Pattern: "hello"}},
	}
	tpl.ExecutionSteps = []*model.ExecutionStep{step}

	exec := newTestExecutor(t)
	exec.RegisterTemplate(tpl)
	g := graph.NewStepGraph(tpl.ExecutionSteps)

	result, err := exec.Execute(context.Background(), tpl, g)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	sr := result.StepResults["boot::check"]
	if sr == nil {
		t.Fatal("missing step result")
	}
	if sr.Status != model.StatusPass {
		t.Errorf("Status = %v, want Pass (stderr=%q)", sr.Status, sr.AssertionError)
	}
	if result.OverallStatus != model.StatusPass {
		t.Errorf("OverallStatus = %v, want Pass", result.OverallStatus)
	}
}

func TestExecuteFailedAssertionBlocksDependent(t *testing.T) {
	dir := t.TempDir()
	target := writeLocalTarget(t, dir)
	tpl := simpleTemplate(t, dir, "boot", target)

	first := &model.ExecutionStep{
		GlobalID:     "boot::first",
		TemplateID:   "boot",
		LocalID:      "first",
		Kind:         model.StepCode,
		Command:      "echo nope",
		Executable:   true,
		Active:       true,
		Dependencies: map[string]struct{}{},
		Assertions:   []model.Assertion{{Kind: model.AssertStdoutContains, Pattern: "never-present"}},
	}
	second := &model.ExecutionStep{
		GlobalID:     "boot::second",
		TemplateID:   "boot",
		LocalID:      "second",
		Kind:         model.StepCode,
		Command:      "echo ok",
		Executable:   true,
		Active:       true,
		Dependencies: map[string]struct{}{"boot::first": {}},
	}
	tpl.ExecutionSteps = []*model.ExecutionStep{first, second}

	exec := newTestExecutor(t)
	exec.RegisterTemplate(tpl)
	g := graph.NewStepGraph(tpl.ExecutionSteps)

	result, err := exec.Execute(context.Background(), tpl, g)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.StepResults["boot::first"].Status != model.StatusFail {
		t.Errorf("first status = %v, want Fail", result.StepResults["boot::first"].Status)
	}
	if result.StepResults["boot::second"].Status != model.StatusBlocked {
		t.Errorf("second status = %v, want Blocked", result.StepResults["boot::second"].Status)
	}
	if result.OverallStatus != model.StatusFail {
		t.Errorf("OverallStatus = %v, want Fail", result.OverallStatus)
	}
}

func TestExecuteRegistersExtractionsAndHydratesNextStep(t *testing.T) {
	dir := t.TempDir()
	target := writeLocalTarget(t, dir)
	tpl := simpleTemplate(t, dir, "boot", target)

	first := &model.ExecutionStep{
		GlobalID:     "boot::first",
		TemplateID:   "boot",
		LocalID:      "first",
		Kind:         model.StepCode,
		Command:      "echo v1.2.3",
		Executable:   true,
		Active:       true,
		Dependencies: map[string]struct{}{},
		Extractions:  []model.Extraction{{VariableName: "version", Regex: `v[\d.]+`}},
	}
	second := &model.ExecutionStep{
		GlobalID:     "boot::second",
		TemplateID:   "boot",
		LocalID:      "second",
		Kind:         model.StepCode,
		Command:      "echo got ${first::version}",
		Executable:   true,
		Active:       true,
		Dependencies: map[string]struct{}{"boot::first": {}},
	}
	tpl.ExecutionSteps = []*model.ExecutionStep{first, second}

	exec := newTestExecutor(t)
	exec.RegisterTemplate(tpl)
	g := graph.NewStepGraph(tpl.ExecutionSteps)

	result, err := exec.Execute(context.Background(), tpl, g)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	secondResult := result.StepResults["boot::second"]
	if secondResult.Status != model.StatusPass {
		t.Fatalf("second status = %v, want Pass", secondResult.Status)
	}
	if secondResult.Stdout != "got v1.2.3\n" {
		t.Errorf("Stdout = %q, want hydrated extraction value", secondResult.Stdout)
	}
}
