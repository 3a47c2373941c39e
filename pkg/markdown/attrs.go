package markdown

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lintestor-go/lintestor/pkg/model"
)

// reAttrPair parses one entry of a Pandoc-style attribute list:
// key="quoted value", key=bareword, or bare key.
var reAttrPair = regexp.MustCompile(`([A-Za-z_][\w.]*)(?:=(?:"([^"]*)"|(\S+)))?`)

// parseAttrs parses the contents of a `{...}` attribute list (without the
// braces) into an ordered map, preserving insertion order so cleanup can
// reproduce stable output.
func parseAttrs(raw string) (keys []string, values map[string]string) {
	values = make(map[string]string)
	for _, m := range reAttrPair.FindAllStringSubmatch(raw, -1) {
		key := m[1]
		val := m[2]
		if val == "" && m[3] != "" {
			val = m[3]
		}
		keys = append(keys, key)
		values[key] = val
	}
	return keys, values
}

// machineAttrKeys are the attribute keys the reporter's cleanup pass
// strips from residual `{...}` blocks (spec §4.7). "active" is stripped
// alongside "exec" even though the spec's cleanup list only names "exec" —
// both are machine-readable execution flags and neither belongs in a
// rendered report.
var machineAttrKeys = map[string]bool{
	"id": true, "exec": true, "active": true, "description": true,
	"depends_on": true, "generate_summary": true, "timeout_ms": true,
}

func isMachineAttr(key string) bool {
	if machineAttrKeys[key] {
		return true
	}
	return strings.HasPrefix(key, "assert.") || strings.HasPrefix(key, "extract.")
}

// parseDependsOn splits a `depends_on="[a, ns::b]"` value into tokens.
func parseDependsOn(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		tok = strings.Trim(tok, `'"`)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// buildDescriptor turns a code block's parsed attributes into the
// ExecutionStep fields that describe how to run and check it.
func buildDescriptor(step *model.ExecutionStep, attrValues map[string]string) {
	step.Executable = true
	step.Active = true

	if v, ok := attrValues["exec"]; ok {
		step.Executable = parseBool(v, true)
	}
	if v, ok := attrValues["active"]; ok {
		step.Active = parseBool(v, true)
	}
	if v, ok := attrValues["description"]; ok {
		step.Description = v
	}
	if v, ok := attrValues["timeout_ms"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			step.TimeoutMS = n
		}
	}

	for key, val := range attrValues {
		switch {
		case strings.HasPrefix(key, "assert."):
			if a, ok := assertionFromAttr(strings.TrimPrefix(key, "assert."), val); ok {
				step.Assertions = append(step.Assertions, a)
			}
		case strings.HasPrefix(key, "extract."):
			name := strings.TrimPrefix(key, "extract.")
			step.Extractions = append(step.Extractions, model.Extraction{
				VariableName: name,
				Regex:        strings.Trim(val, "/"),
			})
		}
	}
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func assertionFromAttr(kind, val string) (model.Assertion, bool) {
	switch kind {
	case "exit_code":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return model.Assertion{}, false
		}
		return model.Assertion{Kind: model.AssertExitCode, ExpectedInt: n}, true
	case "stdout_contains":
		return model.Assertion{Kind: model.AssertStdoutContains, Pattern: val}, true
	case "stdout_not_contains":
		return model.Assertion{Kind: model.AssertStdoutNotContain, Pattern: val}, true
	case "stdout_matches":
		return model.Assertion{Kind: model.AssertStdoutMatches, Pattern: val}, true
	case "stderr_contains":
		return model.Assertion{Kind: model.AssertStderrContains, Pattern: val}, true
	case "stderr_not_contains":
		return model.Assertion{Kind: model.AssertStderrNotContain, Pattern: val}, true
	case "stderr_matches":
		return model.Assertion{Kind: model.AssertStderrMatches, Pattern: val}, true
	default:
		return model.Assertion{}, false
	}
}
