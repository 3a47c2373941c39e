package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lintestor-go/lintestor/pkg/markdown"
	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/variables"
)

func sampleTemplate() *model.Template {
	return &model.Template{
		ID: "boot",
		ContentBlocks: []model.ContentBlock{
			{Kind: model.BlockMetadata, MetadataYAML: "title: Boot\nunit_name: boot"},
			{Kind: model.BlockHeading, HeadingLevel: 1, HeadingText: "Boot", HeadingID: "heading_1", Attributes: map[string]string{}},
			{
				Kind:     model.BlockCode,
				CodeID:   "check_uptime",
				CodeLang: "bash",
				CodeRaw:  "```bash {id=\"check_uptime\"}\nuptime\n```",
			},
			{Kind: model.BlockOutput, RefStepID: "check_uptime", Stream: "stdout"},
			{Kind: model.BlockSummaryTable},
		},
	}
}

func sampleResult() *model.ExecutionResult {
	return &model.ExecutionResult{
		TemplateRef:   "boot",
		UnitName:      "boot",
		TargetName:    "local",
		OverallStatus: model.StatusPass,
		StepResults: map[string]*model.StepResult{
			"boot::check_uptime": {
				LocalID:  "check_uptime",
				Status:   model.StatusPass,
				Stdout:   "up 3 days\n",
				Stderr:   "",
				ExitCode: 0,
			},
		},
	}
}

func TestRenderSplicesOutput(t *testing.T) {
	tpl := sampleTemplate()
	res := sampleResult()
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.Render(tpl, res, vars)

	if !strings.Contains(out, "```output {ref=\"check_uptime\"}\nup 3 days\n```") {
		t.Errorf("expected output block to be spliced in, got:\n%s", out)
	}
	if !strings.Contains(out, "# Boot") {
		t.Errorf("expected heading rendered, got:\n%s", out)
	}
}

func TestRenderOutputMissingRef(t *testing.T) {
	tpl := &model.Template{
		ID: "boot",
		ContentBlocks: []model.ContentBlock{
			{Kind: model.BlockOutput, RefStepID: "ghost", Stream: "stdout"},
		},
	}
	res := &model.ExecutionResult{StepResults: map[string]*model.StepResult{}}
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.Render(tpl, res, vars)
	if !strings.Contains(out, "Output for step 'ghost' not found") {
		t.Errorf("expected missing-ref marker, got:\n%s", out)
	}
}

func TestRenderOutputBothStreamOmitsEmptyHalf(t *testing.T) {
	tpl := &model.Template{
		ID: "t",
		ContentBlocks: []model.ContentBlock{
			{Kind: model.BlockOutput, RefStepID: "s", Stream: "both"},
		},
	}
	res := &model.ExecutionResult{
		StepResults: map[string]*model.StepResult{
			"t::s": {LocalID: "s", Stdout: "hello\n", Stderr: ""},
		},
	}
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.Render(tpl, res, vars)
	if strings.Contains(out, "[stderr]") {
		t.Errorf("expected no [stderr] marker when stderr is empty, got:\n%s", out)
	}
	if !strings.Contains(out, "[stdout]\nhello") {
		t.Errorf("expected [stdout] marker with content, got:\n%s", out)
	}
}

func TestRenderHeadingHiddenWhenNotVisible(t *testing.T) {
	tpl := &model.Template{
		ID: "t",
		ContentBlocks: []model.ContentBlock{
			{Kind: model.BlockHeading, HeadingLevel: 2, HeadingText: "Hidden", Attributes: map[string]string{"visible": "false"}},
		},
	}
	res := &model.ExecutionResult{StepResults: map[string]*model.StepResult{}}
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.Render(tpl, res, vars)
	if strings.Contains(out, "Hidden") {
		t.Errorf("expected heading with visible=false to be omitted, got:\n%s", out)
	}
}

// TestRenderHiddenHeadingFromRealParser is an integration test: it parses
// an actual template through pkg/markdown (rather than hand-constructing a
// ContentBlock) to catch the heading case taking the BlockText path instead
// of BlockHeading, which would leave {visible="false"} clutter in the
// report instead of hiding the heading.
func TestRenderHiddenHeadingFromRealParser(t *testing.T) {
	raw := `---
title: Boot
unit_name: boot
target_config: boot.toml
---

## Internal notes {id="notes" visible="false"}

` + "```bash {id=\"check_uptime\" assert.exit_code=\"0\"}\nuptime\n```"

	tpl, err := markdown.Parse("boot.test.md", raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var sawHeadingBlock bool
	for _, b := range tpl.ContentBlocks {
		if b.Kind == model.BlockHeading {
			sawHeadingBlock = true
		}
	}
	if !sawHeadingBlock {
		t.Fatalf("expected parser to emit a BlockHeading content block, content blocks: %+v", tpl.ContentBlocks)
	}

	res := &model.ExecutionResult{
		StepResults: map[string]*model.StepResult{
			"boot::check_uptime": {LocalID: "check_uptime", Status: model.StatusPass, Stdout: "up 3 days\n", ExitCode: 0},
		},
	}
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.Render(tpl, res, vars)

	if strings.Contains(out, "Internal notes") {
		t.Errorf("expected heading with visible=\"false\" to be hidden, got:\n%s", out)
	}
	if strings.Contains(out, "visible") {
		t.Errorf("expected no 'visible' attribute clutter to leak into the rendered report, got:\n%s", out)
	}
}

func TestCleanupStripsMachineAttributesButKeepsBraceFreeText(t *testing.T) {
	in := "Some {id=\"x\" assert.exit_code=0 description=\"d\"} text"
	out := cleanup(in)
	if strings.Contains(out, "id=") || strings.Contains(out, "assert.") || strings.Contains(out, "description=") {
		t.Errorf("expected machine attributes stripped, got %q", out)
	}
	if !strings.Contains(out, "Some") || !strings.Contains(out, "text") {
		t.Errorf("expected surrounding text preserved, got %q", out)
	}
}

func TestCleanupRemovesEmptyBraces(t *testing.T) {
	in := "before {id=\"x\"} after"
	out := cleanup(in)
	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		t.Errorf("expected empty attribute block to drop its braces entirely, got %q", out)
	}
}

func TestCleanupCollapsesExcessNewlines(t *testing.T) {
	in := "a\n\n\n\n\nb"
	out := cleanup(in)
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("expected runs of 3+ newlines collapsed to 2, got %q", out)
	}
}

func TestSummaryTableContainsStatusRow(t *testing.T) {
	tpl := sampleTemplate()
	res := sampleResult()
	vars := variables.New(nil)

	r := New(t.TempDir())
	out := r.renderSummaryTable(res, tpl, vars)
	if !strings.Contains(out, "check_uptime") {
		t.Errorf("expected step row in summary table, got:\n%s", out)
	}
	if !strings.Contains(out, "Pass") {
		t.Errorf("expected pass status icon in summary table, got:\n%s", out)
	}
}

func TestReportFileNameNormalized(t *testing.T) {
	got := reportFileName("Some/Template Name", "My:Target")
	if strings.ContainsAny(got, "/\\: ") {
		t.Errorf("expected slashes/backslashes/colons/spaces stripped, got %q", got)
	}
	if got != strings.ToLower(got) {
		t.Errorf("expected lowercased file name, got %q", got)
	}
}

func TestWriteTemplateReportWritesFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	tpl := sampleTemplate()
	res := sampleResult()
	vars := variables.New(nil)

	path, err := r.WriteTemplateReport(tpl, res, vars)
	if err != nil {
		t.Fatalf("WriteTemplateReport: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected report file to exist: %v", err)
	}
	if res.ReportPath != path {
		t.Errorf("expected result.ReportPath set to %q, got %q", path, res.ReportPath)
	}
}

func TestWriteAggregateWritesJSONAndSummary(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	res := sampleResult()
	res.ReportPath = filepath.Join(dir, "boot_local.report.md")

	if err := r.WriteAggregate([]*model.ExecutionResult{res}); err != nil {
		t.Fatalf("WriteAggregate: %v", err)
	}

	jsonPath := filepath.Join(dir, "reports.json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("reports.json: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("reports.json not valid JSON: %v", err)
	}
	if _, ok := parsed["boot"]; !ok {
		t.Errorf("expected reports.json keyed by template ref, got %v", parsed)
	}

	summaryPath := filepath.Join(dir, "summary.test.md.report.md")
	summary, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("summary.test.md.report.md: %v", err)
	}
	if !strings.Contains(string(summary), "boot") {
		t.Errorf("expected summary to mention template id, got:\n%s", summary)
	}
}
