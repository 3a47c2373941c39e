// Package report implements the reporter of spec §4.7: it walks a
// template's content blocks, substitutes variables, splices step output
// into placeholders, and writes per-template Markdown reports plus a
// cross-template aggregate (spec §6).
//
// Grounded on original_source/src/template/reporter.rs's
// generate_report_content/generate_summary_table_string/
// clean_markdown_markup pipeline.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/variables"
)

// Reporter renders templates' content blocks back into Markdown reports.
type Reporter struct {
	OutputDir string
}

func New(outputDir string) *Reporter {
	return &Reporter{OutputDir: outputDir}
}

// Render produces the final Markdown text for one executed template.
func (r *Reporter) Render(t *model.Template, result *model.ExecutionResult, vars *variables.Store) string {
	var parts []string

	for _, block := range t.ContentBlocks {
		switch block.Kind {
		case model.BlockMetadata:
			processed := vars.Substitute(block.MetadataYAML, t.ID, variables.Global)
			parts = append(parts, "---\n"+strings.TrimSpace(processed)+"\n---\n")
		case model.BlockText:
			parts = append(parts, r.renderText(block.Text, t, result, vars))
		case model.BlockHeading:
			if rendered, ok := r.renderHeading(block, t, vars); ok {
				parts = append(parts, rendered)
			}
		case model.BlockCode:
			parts = append(parts, r.renderCode(block, t, vars))
		case model.BlockOutput:
			parts = append(parts, r.renderOutput(block, t, result))
		case model.BlockSummaryTable:
			parts = append(parts, r.renderSummaryTable(result, t, vars))
		}
	}

	final := strings.Join(parts, "\n")
	final = ensureBlankLineAfterFrontMatter(final)
	final = cleanup(final)
	return final
}

// renderText substitutes variables with no step context first, then in a
// second pass substitutes step-scoped variables for each known step, so
// prose can reference ${stepX::var} anywhere (spec §4.7).
func (r *Reporter) renderText(text string, t *model.Template, result *model.ExecutionResult, vars *variables.Store) string {
	processed := vars.Substitute(text, t.ID, variables.Global)

	var stepIDs []string
	for id := range result.StepResults {
		stepIDs = append(stepIDs, id)
	}
	sort.Strings(stepIDs)
	for _, globalID := range stepIDs {
		localID := globalID
		if idx := strings.LastIndex(globalID, "::"); idx >= 0 {
			localID = globalID[idx+2:]
		}
		processed = vars.Substitute(processed, t.ID, localID)
	}
	return processed + "\n"
}

func (r *Reporter) renderHeading(block model.ContentBlock, t *model.Template, vars *variables.Store) (string, bool) {
	if v, ok := block.Attributes["visible"]; ok && v == "false" {
		return "", false
	}
	id := block.HeadingID
	if id == "" {
		id = block.Attributes["id"]
	}
	processed := vars.Substitute(block.HeadingText, t.ID, id)
	processed = vars.Substitute(processed, t.ID, variables.Global)
	return strings.Repeat("#", block.HeadingLevel) + " " + strings.TrimSpace(processed) + "\n", true
}

func (r *Reporter) renderCode(block model.ContentBlock, t *model.Template, vars *variables.Store) string {
	if v, ok := block.Attributes["visible"]; ok && v == "false" {
		return ""
	}
	code := codeFromRaw(block.CodeRaw)
	processed := vars.Substitute(code, t.ID, block.CodeID)
	return "```" + block.CodeLang + "\n" + processed + "\n```"
}

// codeFromRaw strips the opening fence (with its attribute list) and
// trailing fence from a raw fenced code block, leaving just the code
// text, so substitution doesn't operate on the fence markers themselves.
func codeFromRaw(raw string) string {
	lines := strings.SplitN(raw, "\n", 2)
	if len(lines) < 2 {
		return ""
	}
	body := lines[1]
	body = strings.TrimSuffix(body, "\n")
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimRight(body, "\n")
}

func (r *Reporter) renderOutput(block model.ContentBlock, t *model.Template, result *model.ExecutionResult) string {
	globalID := t.ID + "::" + block.RefStepID
	sr, ok := result.StepResults[globalID]
	if !ok {
		return fmt.Sprintf("```output {ref=%q}\n[Output for step '%s' not found]\n```\n", block.RefStepID, block.RefStepID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "```output {ref=%q}\n", block.RefStepID)
	switch block.Stream {
	case "stderr":
		if s := strings.TrimRight(sr.Stderr, "\n"); s != "" {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	case "both":
		if s := strings.TrimRight(sr.Stdout, "\n"); s != "" {
			b.WriteString("[stdout]\n")
			b.WriteString(s)
			b.WriteByte('\n')
		}
		if s := strings.TrimRight(sr.Stderr, "\n"); s != "" {
			b.WriteString("[stderr]\n")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	default: // "stdout"
		if s := strings.TrimRight(sr.Stdout, "\n"); s != "" {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	b.WriteString("```\n")
	return b.String()
}

var statusIcon = map[model.StepStatus]string{
	model.StatusPass:    "✅ Pass",
	model.StatusFail:    "❌ Fail",
	model.StatusSkipped: "⚠️ Skipped",
	model.StatusBlocked: "❓ Blocked",
	model.StatusNotRun:  "❓ Not Run",
}

// renderSummaryTable emits the per-step status table at the
// `<!-- LINTESTOR_SUMMARY_TABLE -->` marker (spec §4.7).
func (r *Reporter) renderSummaryTable(result *model.ExecutionResult, t *model.Template, vars *variables.Store) string {
	var b strings.Builder
	b.WriteString("| Step ID | Description | Status | Exit | Stdout summary | Stderr summary |\n")
	b.WriteString("|---------|-------------|--------|------|----------------|----------------|\n")

	var ids []string
	for id := range result.StepResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, globalID := range ids {
		sr := result.StepResults[globalID]
		localID := globalID
		if idx := strings.LastIndex(globalID, "::"); idx >= 0 {
			localID = globalID[idx+2:]
		}
		desc := vars.Substitute(sr.Description, t.ID, localID)

		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
			escapeCell(localID),
			escapeCell(desc),
			statusIcon[sr.Status],
			sr.ExitCode,
			escapeCell(summarizeLine(sr.Stdout, 50)),
			escapeCell(summarizeLine(sr.Stderr, 30)),
		)
	}
	b.WriteString("\n")
	return b.String()
}

func summarizeLine(text string, max int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "-"
	}
	line := trimmed
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > max {
		line = line[:max] + "..."
	}
	return line
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", "<br>")
	return s
}

func ensureBlankLineAfterFrontMatter(content string) string {
	re := regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)
	m := re.FindStringIndex(content)
	if m == nil {
		return content
	}
	end := m[1]
	if end < len(content) && !strings.HasPrefix(content[end:], "\n") {
		return content[:end] + "\n" + content[end:]
	}
	return content
}

// cleanup strips machine-readable attributes from residual {...} blocks
// and collapses whitespace runs, per spec §4.7's post-processing pass.
var (
	cleanupRules = []*regexp.Regexp{
		regexp.MustCompile(`id=(?:"[^"]+"|'[^']+')\s*`),
		regexp.MustCompile(`exec=(?:true|false)\s*`),
		regexp.MustCompile(`active=(?:true|false)\s*`),
		regexp.MustCompile(`description=(?:"[^"]+"|'[^']+')\s*`),
		regexp.MustCompile(`assert\.[a-zA-Z0-9_]+=(?:"[^"]*"|'[^']*'|[^}\s]+)\s*`),
		regexp.MustCompile(`extract\.[a-zA-Z0-9_]+=/.*?/[dimsx]*\s*`),
		regexp.MustCompile(`depends_on=\[(?:"[^"]*"|'[^']*')(?:\s*,\s*(?:"[^"]*"|'[^']*'))*\]\s*`),
		regexp.MustCompile(`generate_summary=(?:true|false)\s*`),
		regexp.MustCompile(`timeout_ms=\d+\s*`),
	}
	reAttrBlock     = regexp.MustCompile(`\{([^{}]+)\}`)
	reSpaceCollapse = regexp.MustCompile(`\s\s+`)
	reTrailingWS    = regexp.MustCompile(`[^\S\r\n]{2,}`)
	reTrailingLine  = regexp.MustCompile(`[^\S\r\n]+\n`)
	reExcessNewline = regexp.MustCompile(`\n{3,}`)
)

func cleanup(content string) string {
	result := reAttrBlock.ReplaceAllStringFunc(content, func(block string) string {
		inner := block[1 : len(block)-1]
		for _, rule := range cleanupRules {
			inner = rule.ReplaceAllString(inner, "")
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return ""
		}
		inner = reSpaceCollapse.ReplaceAllString(inner, " ")
		return "{" + inner + "}"
	})

	result = reTrailingWS.ReplaceAllString(result, " ")
	result = reTrailingLine.ReplaceAllString(result, "\n")
	result = reExcessNewline.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result) + "\n"
}

// reportFileName derives the per-template report's file name: slashes,
// backslashes, colons and spaces replaced with "_", lowercased (spec §4.7).
func reportFileName(templateID, targetName string) string {
	name := templateID + "_" + targetName
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return strings.ToLower(replacer.Replace(name)) + ".report.md"
}

// WriteTemplateReport renders and writes one template's report, returning
// the file path written.
func (r *Reporter) WriteTemplateReport(t *model.Template, result *model.ExecutionResult, vars *variables.Store) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}
	content := r.Render(t, result, vars)
	path := filepath.Join(r.OutputDir, reportFileName(t.ID, result.TargetName))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	result.ReportPath = path
	return path, nil
}

// WriteAggregate writes the cross-template reports.json +
// summary.test.md.report.md aggregate (spec §6).
func (r *Reporter) WriteAggregate(results []*model.ExecutionResult) error {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return fmt.Errorf("report: create output dir: %w", err)
	}
	if err := r.writeSummaryJSON(results); err != nil {
		return err
	}
	return r.writeSummaryMarkdown(results)
}

func (r *Reporter) writeSummaryMarkdown(results []*model.ExecutionResult) error {
	var b strings.Builder
	b.WriteString("# Test Execution Summary\n\n")
	b.WriteString("| Template | Target | Overall Status | Pass | Fail | Skipped | Blocked | Not Run | Report |\n")
	b.WriteString("|----------|--------|-----------------|------|------|---------|---------|---------|--------|\n")

	sorted := append([]*model.ExecutionResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TemplateRef < sorted[j].TemplateRef })

	for _, res := range sorted {
		counts := map[model.StepStatus]int{}
		for _, sr := range res.StepResults {
			counts[sr.Status]++
		}
		link := "N/A"
		if res.ReportPath != "" {
			link = filepath.Base(res.ReportPath)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d | %d | %d | %s |\n",
			res.TemplateRef, res.TargetName, statusIcon[res.OverallStatus],
			counts[model.StatusPass], counts[model.StatusFail], counts[model.StatusSkipped],
			counts[model.StatusBlocked], counts[model.StatusNotRun], link,
		)
	}

	path := filepath.Join(r.OutputDir, "summary.test.md.report.md")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (r *Reporter) writeSummaryJSON(results []*model.ExecutionResult) error {
	type stepSummary struct {
		LocalID  string `json:"local_id"`
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
	}
	type templateSummary struct {
		TemplateRef   string        `json:"template_ref"`
		UnitName      string        `json:"unit_name"`
		TargetName    string        `json:"target_name"`
		OverallStatus string        `json:"overall_status"`
		ReportPath    string        `json:"report_path,omitempty"`
		Steps         []stepSummary `json:"steps"`
	}

	out := make(map[string]templateSummary, len(results))
	for _, res := range results {
		var ids []string
		for id := range res.StepResults {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var steps []stepSummary
		for _, id := range ids {
			sr := res.StepResults[id]
			steps = append(steps, stepSummary{LocalID: sr.LocalID, Status: string(sr.Status), ExitCode: sr.ExitCode})
		}
		out[res.TemplateRef] = templateSummary{
			TemplateRef:   res.TemplateRef,
			UnitName:      res.UnitName,
			TargetName:    res.TargetName,
			OverallStatus: string(res.OverallStatus),
			ReportPath:    res.ReportPath,
			Steps:         steps,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal reports.json: %w", err)
	}
	path := filepath.Join(r.OutputDir, "reports.json")
	return os.WriteFile(path, data, 0o644)
}
