package markdown

import (
	"testing"

	"github.com/lintestor-go/lintestor/pkg/model"
)

const sampleTemplate = `---
title: Boot smoke test
unit_name: boot
target_config: targets/qemu-riscv.toml
tags: [smoke, boot]
owner: infra-team
---

# Boot

` + "```bash {id=\"check_uptime\" description=\"reports uptime\" assert.exit_code=0 assert.stdout_contains=\"up\" extract.uptime=\"/up (\\d+) days/\"}" + `
uptime
` + "```" + `

## Result

` + "```output {ref=\"check_uptime\"}" + `
` + "```" + `

<!-- LINTESTOR_SUMMARY_TABLE -->
`

func TestParseMetadata(t *testing.T) {
	tpl, err := Parse("tests/boot.test.md", sampleTemplate)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tpl.ID != "boot" {
		t.Errorf("ID = %q, want %q", tpl.ID, "boot")
	}
	if tpl.Metadata.Title != "Boot smoke test" {
		t.Errorf("Title = %q", tpl.Metadata.Title)
	}
	if tpl.Metadata.UnitName != "boot" {
		t.Errorf("UnitName = %q", tpl.Metadata.UnitName)
	}
	if len(tpl.Metadata.Tags) != 2 || tpl.Metadata.Tags[0] != "smoke" {
		t.Errorf("Tags = %v", tpl.Metadata.Tags)
	}
	if tpl.Metadata.Custom["owner"] != "infra-team" {
		t.Errorf("Custom[owner] = %q, want %q", tpl.Metadata.Custom["owner"], "infra-team")
	}
}

func TestParseMissingFrontMatterIsError(t *testing.T) {
	_, err := Parse("x.test.md", "# no front matter\n")
	if err == nil {
		t.Fatal("expected error for missing front matter")
	}
}

func TestParseMissingRequiredFieldIsError(t *testing.T) {
	_, err := Parse("x.test.md", "---\ntitle: x\n---\nbody\n")
	if err == nil {
		t.Fatal("expected error for missing unit_name/target_config")
	}
}

func TestParseCodeBlockDescriptor(t *testing.T) {
	tpl, err := Parse("tests/boot.test.md", sampleTemplate)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	step := tpl.StepByLocalID("check_uptime")
	if step == nil {
		t.Fatal("expected step with local id 'check_uptime'")
	}
	if step.Kind != model.StepCode {
		t.Errorf("Kind = %v, want StepCode", step.Kind)
	}
	if step.Command != "uptime" {
		t.Errorf("Command = %q, want %q", step.Command, "uptime")
	}
	if step.Description != "reports uptime" {
		t.Errorf("Description = %q", step.Description)
	}
	if len(step.Assertions) != 2 {
		t.Fatalf("len(Assertions) = %d, want 2", len(step.Assertions))
	}
	if len(step.Extractions) != 1 || step.Extractions[0].VariableName != "uptime" {
		t.Fatalf("Extractions = %+v", step.Extractions)
	}

	if _, ok := step.Dependencies[tpl.ID+"::heading_1"]; !ok {
		t.Errorf("expected code block to implicitly depend on its parent heading, got %v", step.Dependencies)
	}
}

func TestParseOutputBlockDependsOnRefStep(t *testing.T) {
	tpl, err := Parse("tests/boot.test.md", sampleTemplate)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := tpl.StepByLocalID("check_uptime-outputplaceholder")
	if out == nil {
		t.Fatal("expected an output placeholder step")
	}
	if out.Kind != model.StepOutput || out.RefStepID != "check_uptime" {
		t.Errorf("output step = %+v", out)
	}
	if _, ok := out.Dependencies[tpl.ID+"::check_uptime"]; !ok {
		t.Errorf("expected output placeholder to depend on the step it references, got %v", out.Dependencies)
	}
}

func TestParseSummaryTableBlock(t *testing.T) {
	tpl, err := Parse("tests/boot.test.md", sampleTemplate)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var found bool
	for _, b := range tpl.ContentBlocks {
		if b.Kind == model.BlockSummaryTable {
			found = true
		}
	}
	if !found {
		t.Error("expected a summary table content block")
	}
}

func TestParseExplicitDependsOnAcrossNamespace(t *testing.T) {
	src := `---
title: Follow-up
unit_name: boot
target_config: targets/qemu-riscv.toml
references:
  - template: boot.test
    as: boot
---

` + "```bash {id=\"check\" depends_on=[\"boot::check_uptime\"]}" + `
echo ok
` + "```" + `
`
	tpl, err := Parse("tests/followup.test.md", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	step := tpl.StepByLocalID("check")
	if step == nil {
		t.Fatal("expected step 'check'")
	}
	if _, ok := step.Dependencies["boot::check_uptime"]; !ok {
		t.Errorf("expected cross-template dependency resolved through references[].as, got %v", step.Dependencies)
	}
}
