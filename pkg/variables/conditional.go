package variables

import (
	"regexp"
	"strings"
)

// condOps lists the comparison operators recognized inside a {{ cond ? a : b }}
// expression, longest-token-first so "!=" doesn't get cut by "=" and
// "not_contains"/"not_matches" aren't swallowed by "contains"/"matches".
var condOps = []string{"not_contains", "not_matches", "contains", "matches", "==", "!=", "<=", ">=", "<", ">"}

var condOpPattern = regexp.MustCompile(`^(.*?)\s+(` + strings.Join(quoteAll(condOps), "|") + `)\s+(.*)$`)

func quoteAll(ops []string) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = regexp.QuoteMeta(op)
	}
	return out
}

// evalConditional evaluates `lhs OP rhs` and returns thenVal or elseVal.
// ok is false if cond isn't a recognized comparison, in which case the
// caller leaves the original {{ ... }} text untouched.
func (s *Store) evalConditional(cond, thenVal, elseVal, templateID, stepID string) (string, bool) {
	m := condOpPattern.FindStringSubmatch(strings.TrimSpace(cond))
	if m == nil {
		return "", false
	}
	lhsRaw, op, rhsRaw := m[1], m[2], m[3]

	lhs := s.resolveOperand(lhsRaw, templateID, stepID)
	rhs := s.resolveOperand(rhsRaw, templateID, stepID)

	result, err := s.applyOperator(lhs, op, rhs)
	if err != nil {
		s.log.Warn("conditional expression evaluation failed", "cond", cond, "error", err)
		return "", false
	}

	out := strings.TrimSpace(thenVal)
	if !result {
		out = strings.TrimSpace(elseVal)
	}
	if len(out) >= 2 && (out[0] == '"' || out[0] == '\'') && out[len(out)-1] == out[0] {
		out = out[1 : len(out)-1] // a quoted branch is a literal; render it without the quotes
	}
	return s.Substitute(out, templateID, stepID), true
}

// resolveOperand treats a quoted token as a string literal and anything
// else as a variable name to resolve, falling back to the raw token when
// there's no such variable (so bare numeric/bool literals work unquoted).
func (s *Store) resolveOperand(token, templateID, stepID string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 2 && (token[0] == '"' || token[0] == '\'') && token[len(token)-1] == token[0] {
		return token[1 : len(token)-1]
	}
	if v, ok := s.Get(token, templateID, stepID); ok {
		return v
	}
	return token
}

func (s *Store) applyOperator(lhs, op, rhs string) (bool, error) {
	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "contains":
		return strings.Contains(lhs, rhs), nil
	case "not_contains":
		return !strings.Contains(lhs, rhs), nil
	case "matches":
		re, err := regexp.Compile(strings.Trim(rhs, "/"))
		if err != nil {
			return false, err
		}
		return re.MatchString(lhs), nil
	case "not_matches":
		re, err := regexp.Compile(strings.Trim(rhs, "/"))
		if err != nil {
			return false, err
		}
		return !re.MatchString(lhs), nil
	case "<", "<=", ">", ">=":
		return evalNumeric(lhs, rhs, op)
	default:
		return false, nil
	}
}
