// Package markdown implements the template parser of spec §4.2: it turns
// raw Markdown + YAML front matter into a Template's metadata, ordered
// content blocks, and execution steps. Grounded directly on
// original_source/src/template/parser.rs (the Rust predecessor this spec
// was distilled from) — same regex-alternation scanning strategy, same
// heading-stack dependency inference, same attribute grammar.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lintestor-go/lintestor/pkg/model"
)

var (
	reFrontMatter = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)
	reHeading     = regexp.MustCompile(`(?m)^(#+)\s+(.*?)(?:\s+(\{.*\})|\s*)$`)
	reOutputBlock = regexp.MustCompile(`(?ms)^` + "```" + `output\s+\{ref=(?:"([^"]+)"|'([^']+)')(?:\s+stream=(?:"([^"]+)"|'([^']+)'))?\}\n(?:.*?)` + "```" + `\s*$`)
	reSummary     = regexp.MustCompile(`(?im)^\s*<!--\s*LINTESTOR_SUMMARY_TABLE\s*-->\s*$`)
	reCodeBlock   = regexp.MustCompile("(?ms)^```(\\w*)\\s*(\\{([^}]*)\\})?\\n(.*?)```\\s*$")
)

// combined is built once: an alternation with named groups in the order
// the parser must prefer them — output blocks and the summary marker are
// tried before the generic fenced-code alternative so a ```output{...}```
// block is never misclassified as a plain displayable code block.
var combined = regexp.MustCompile(
	"(?P<heading>" + reHeading.String() + ")" +
		"|(?P<output>" + reOutputBlock.String() + ")" +
		"|(?P<summary>" + reSummary.String() + ")" +
		"|(?P<code>" + reCodeBlock.String() + ")",
)

// Parse reads a template file's content and produces its fully parsed
// form. path is used only to derive the template id (file stem) and is
// not read by this function — callers read the file themselves.
func Parse(path string, content string) (*model.Template, error) {
	id := templateIDFromPath(path)

	front, body, err := extractFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("markdown: %s: %w", path, err)
	}

	meta, err := parseMetadata(front)
	if err != nil {
		return nil, fmt.Errorf("markdown: %s: %w", path, err)
	}

	blocks := []model.ContentBlock{{Kind: model.BlockMetadata, MetadataYAML: front}}

	steps, bodyBlocks, err := parseBody(body, id, meta)
	if err != nil {
		return nil, fmt.Errorf("markdown: %s: %w", path, err)
	}
	blocks = append(blocks, bodyBlocks...)

	return &model.Template{
		ID:             id,
		Path:           path,
		Metadata:       *meta,
		ContentBlocks:  blocks,
		ExecutionSteps: steps,
	}, nil
}

// templateIDFromPath is the file stem: base name without its final
// extension(s). "tests/foo.test.md" -> "foo".
func templateIDFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}

// extractFrontMatter splits a template's raw text into its YAML front
// matter (without the "---" fences) and the remaining Markdown body.
// Absence of front matter is a hard ParseError, per spec §4.2.
func extractFrontMatter(content string) (yamlPart, body string, err error) {
	m := reFrontMatter.FindStringSubmatch(content)
	if m == nil {
		return "", "", fmt.Errorf("missing YAML front matter (expected '---\\n<yaml>\\n---\\n<markdown>')")
	}
	return m[1], m[2], nil
}

// parseMetadata decodes the front matter into model.Metadata and also as an
// unstructured map, so unrecognised top-level scalar keys join the `custom`
// map per spec §3 rather than causing a decode error.
func parseMetadata(yamlText string) (*model.Metadata, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(yamlText), &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML front matter: %w", err)
	}

	var meta model.Metadata
	if err := yaml.Unmarshal([]byte(yamlText), &meta); err != nil {
		return nil, fmt.Errorf("invalid YAML front matter: %w", err)
	}

	if meta.Title == "" {
		return nil, fmt.Errorf("metadata missing required field 'title'")
	}
	if meta.UnitName == "" {
		return nil, fmt.Errorf("metadata missing required field 'unit_name'")
	}
	if meta.TargetConfig == "" {
		return nil, fmt.Errorf("metadata missing required field 'target_config'")
	}
	for i, ref := range meta.References {
		if ref.Template == "" || ref.As == "" {
			return nil, fmt.Errorf("references[%d] requires both 'template' and 'as'", i)
		}
	}

	known := map[string]bool{
		"title": true, "unit_name": true, "target_config": true,
		"unit_version_command": true, "tags": true, "references": true,
	}
	if meta.Custom == nil {
		meta.Custom = make(map[string]string)
	}
	for k, v := range raw {
		if known[k] {
			continue
		}
		if v.Kind == yaml.ScalarNode {
			meta.Custom[k] = v.Value
		}
	}

	return &meta, nil
}

// headingFrame is one entry of the heading stack used to infer a code
// block or lower-level heading's implicit parent dependency.
type headingFrame struct {
	globalID string
	level    int
}

// parseBody scans the Markdown body with the combined regex alternation,
// emitting content blocks for rendering and execution steps for the
// dependency graph in document order.
func parseBody(body, templateID string, meta *model.Metadata) ([]*model.ExecutionStep, []model.ContentBlock, error) {
	var steps []*model.ExecutionStep
	var blocks []model.ContentBlock

	var headingStack []headingFrame
	localCounter := 0
	lastEnd := 0

	matches := combined.FindAllStringSubmatchIndex(body, -1)
	names := combined.SubexpNames()

	for _, m := range matches {
		start, end := m[0], m[1]
		if start > lastEnd {
			seg := body[lastEnd:start]
			if strings.TrimSpace(seg) != "" {
				blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: seg})
			}
		}

		whole := body[start:end]
		group := matchedGroup(names, m)

		switch group {
		case "heading":
			block, step := parseHeading(whole, templateID, meta, &headingStack, &localCounter)
			blocks = append(blocks, block)
			if step != nil {
				steps = append(steps, step)
			}
		case "output":
			block, step := parseOutputBlock(whole, templateID, meta, headingStack)
			blocks = append(blocks, block)
			steps = append(steps, step)
		case "summary":
			blocks = append(blocks, model.ContentBlock{Kind: model.BlockSummaryTable})
		case "code":
			block, step := parseCodeBlock(whole, templateID, meta, headingStack, &localCounter)
			blocks = append(blocks, block)
			steps = append(steps, step)
		}

		lastEnd = end
	}

	if lastEnd < len(body) {
		seg := body[lastEnd:]
		if strings.TrimSpace(seg) != "" {
			blocks = append(blocks, model.ContentBlock{Kind: model.BlockText, Text: seg})
		}
	}

	return steps, blocks, nil
}

// matchedGroup returns the name of the first named capture group that
// actually participated in the match (start offset >= 0).
func matchedGroup(names []string, m []int) string {
	for i, name := range names {
		if name == "" {
			continue
		}
		if m[2*i] >= 0 {
			return name
		}
	}
	return ""
}

func parseHeading(line, templateID string, meta *model.Metadata, stack *[]headingFrame, counter *int) (model.ContentBlock, *model.ExecutionStep) {
	hm := reHeading.FindStringSubmatch(line)
	if hm == nil {
		return model.ContentBlock{Kind: model.BlockText, Text: line}, nil
	}
	level := len(hm[1])
	text := strings.TrimSpace(hm[2])
	attrsStr := ""
	if hm[3] != "" {
		attrsStr = strings.Trim(hm[3], "{}")
	}
	_, attrs := parseAttrs(attrsStr)

	localID, hasID := attrs["id"]
	if !hasID || localID == "" {
		*counter++
		localID = fmt.Sprintf("heading_%d", *counter)
	}
	globalID := templateID + "::" + localID

	for len(*stack) > 0 && (*stack)[len(*stack)-1].level >= level {
		*stack = (*stack)[:len(*stack)-1]
	}

	deps := make(map[string]struct{})
	if len(*stack) > 0 {
		deps[(*stack)[len(*stack)-1].globalID] = struct{}{}
	}
	if raw, ok := attrs["depends_on"]; ok {
		for _, tok := range parseDependsOn(raw) {
			deps[resolveDependencyRef(tok, templateID, meta.References)] = struct{}{}
		}
	}

	step := &model.ExecutionStep{
		GlobalID:     globalID,
		TemplateID:   templateID,
		LocalID:      localID,
		Kind:         model.StepHeading,
		Dependencies: deps,
		HeadingLevel: level,
		Executable:   false,
		Active:       true,
		RawText:      line,
	}
	block := model.ContentBlock{
		Kind:         model.BlockHeading,
		HeadingLevel: level,
		HeadingText:  text,
		HeadingID:    localID,
		Attributes:   attrs,
	}
	*stack = append(*stack, headingFrame{globalID: globalID, level: level})
	return block, step
}

func parseOutputBlock(whole, templateID string, meta *model.Metadata, stack []headingFrame) (model.ContentBlock, *model.ExecutionStep) {
	m := reOutputBlock.FindStringSubmatch(whole)
	refID := firstNonEmpty(m[1], m[2])
	stream := firstNonEmpty(m[3], m[4])
	if stream == "" {
		stream = "stdout"
	}

	block := model.ContentBlock{Kind: model.BlockOutput, RefStepID: refID, Stream: stream}

	localID := refID + "-outputplaceholder"
	globalID := templateID + "::" + localID
	deps := make(map[string]struct{})
	deps[resolveDependencyRef(refID, templateID, meta.References)] = struct{}{}
	if len(stack) > 0 {
		deps[stack[len(stack)-1].globalID] = struct{}{}
	}

	step := &model.ExecutionStep{
		GlobalID:     globalID,
		TemplateID:   templateID,
		LocalID:      localID,
		Kind:         model.StepOutput,
		Dependencies: deps,
		Executable:   false,
		Active:       true,
		RawText:      whole,
		RefStepID:    refID,
		Stream:       stream,
	}
	return block, step
}

func parseCodeBlock(whole, templateID string, meta *model.Metadata, stack []headingFrame, counter *int) (model.ContentBlock, *model.ExecutionStep) {
	m := reCodeBlock.FindStringSubmatch(whole)
	lang := m[1]
	attrsStr := m[3]
	command := strings.TrimSpace(m[4])

	_, attrs := parseAttrs(attrsStr)

	localID, hasID := attrs["id"]
	if !hasID || localID == "" {
		*counter++
		localID = fmt.Sprintf("codeblock_%d", *counter)
	}
	globalID := templateID + "::" + localID

	deps := make(map[string]struct{})
	if len(stack) > 0 {
		deps[stack[len(stack)-1].globalID] = struct{}{}
	}
	if raw, ok := attrs["depends_on"]; ok {
		for _, tok := range parseDependsOn(raw) {
			deps[resolveDependencyRef(tok, templateID, meta.References)] = struct{}{}
		}
	}

	step := &model.ExecutionStep{
		GlobalID:     globalID,
		TemplateID:   templateID,
		LocalID:      localID,
		Kind:         model.StepCode,
		Dependencies: deps,
		Command:      command,
		RawText:      whole,
	}
	buildDescriptor(step, attrs)

	block := model.ContentBlock{
		Kind:       model.BlockCode,
		CodeID:     localID,
		CodeLang:   lang,
		CodeRaw:    whole,
		Attributes: attrs,
	}
	return block, step
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveDependencyRef rewrites a raw depends_on token (or output-block
// ref) to a global step id, per spec §4.2's resolution rules: a "ns::id"
// token is rewritten through the references table if ns is a declared
// namespace, else ns is used verbatim as a template id; a bare token is
// scoped to the current template.
func resolveDependencyRef(token, currentTemplateID string, references []model.Reference) string {
	if idx := strings.Index(token, "::"); idx >= 0 {
		left, right := token[:idx], token[idx+len("::"):]
		for _, ref := range references {
			if ref.As == left {
				return templateIDFromPath(ref.Template) + "::" + right
			}
		}
		return left + "::" + right
	}
	return currentTemplateID + "::" + token
}
