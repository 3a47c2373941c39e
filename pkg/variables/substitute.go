package variables

import (
	"regexp"
	"strings"
)

// The three reference grammars of spec §4.3.
var (
	reDollarBrace = regexp.MustCompile(`\$\{([^{}]+)\}`)
	reDoubleBrace = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	reSingleBrace = regexp.MustCompile(`\{\s*([^{}]+?)\s*\}`)

	// reConditional recognizes a ternary inside {{ }} before the plain
	// variable grammar gets a chance to treat it as a bare name.
	reConditional = regexp.MustCompile(`^(.+?)\s*\?\s*(.+?)\s*:\s*(.+)$`)
)

// extractReferences returns every raw name referenced by text across all
// three grammars, skipping anything that looks like a conditional
// expression (those are evaluated separately, not looked up as names).
func extractReferences(text string) []string {
	var out []string
	for _, m := range reDollarBrace.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	for _, m := range reDoubleBrace.FindAllStringSubmatch(text, -1) {
		if reConditional.MatchString(m[1]) {
			continue
		}
		out = append(out, m[1])
	}
	for _, m := range reSingleBrace.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// maxSubstitutionPasses caps the fixed-point loop (spec §4.3: "capped at 10
// iterations").
const maxSubstitutionPasses = 10

// loopSuspectThreshold is the per-pass visit count past which a name is
// logged as a likely substitution loop rather than silently iterated.
const loopSuspectThreshold = 3

// Substitute resolves every ${name}, {{ name }} and { name } reference in
// text under the (templateID, stepID) context, iterating to a fixed point.
// {{ cond ? then : else }} forms are evaluated as conditionals, not looked
// up as variable names. Unresolved references are left in place verbatim.
func (s *Store) Substitute(text, templateID, stepID string) string {
	current := text
	for pass := 0; pass < maxSubstitutionPasses; pass++ {
		next, changed, visits := s.substitutePass(current, templateID, stepID)
		for name, n := range visits {
			if n >= loopSuspectThreshold {
				s.log.Warn("variable reference visited repeatedly during substitution, possible loop", "name", name, "pass", pass, "visits", n)
			}
		}
		if !changed {
			return next
		}
		current = next
	}
	return current
}

func (s *Store) substitutePass(text, templateID, stepID string) (string, bool, map[string]int) {
	changed := false
	visits := make(map[string]int)

	replace := func(whole, name string) string {
		visits[name]++
		if v, ok := s.Get(name, templateID, stepID); ok {
			changed = true
			return v
		}
		return whole
	}

	out := reDoubleBrace.ReplaceAllStringFunc(text, func(whole string) string {
		m := reDoubleBrace.FindStringSubmatch(whole)
		inner := m[1]
		if cm := reConditional.FindStringSubmatch(inner); cm != nil {
			result, ok := s.evalConditional(cm[1], cm[2], cm[3], templateID, stepID)
			if ok {
				changed = true
				return result
			}
			return whole
		}
		return replace(whole, inner)
	})

	out = reDollarBrace.ReplaceAllStringFunc(out, func(whole string) string {
		m := reDollarBrace.FindStringSubmatch(whole)
		return replace(whole, m[1])
	})

	// A { name } directly after '$' is the inside of a ${...} reference
	// (possibly one produced by the replacement above) and is left for the
	// ${} grammar on the next pass.
	var b strings.Builder
	last := 0
	for _, loc := range reSingleBrace.FindAllStringSubmatchIndex(out, -1) {
		if loc[0] > 0 && out[loc[0]-1] == '$' {
			continue
		}
		b.WriteString(out[last:loc[0]])
		b.WriteString(replace(out[loc[0]:loc[1]], out[loc[2]:loc[3]]))
		last = loc[1]
	}
	b.WriteString(out[last:])
	out = b.String()

	return out, changed, visits
}
