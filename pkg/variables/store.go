// Package variables implements the scoped variable store of spec §4.3:
// canonical keys "template_id::step_id::name", namespace resolution,
// cycle-safe inserts, fixed-point substitution across three reference
// grammars, and ternary conditional evaluation.
package variables

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// Reserved template_id used for process-global / template-level scope.
const Global = "GLOBAL"

// Store is the flat, append-only (per run) variable table.
type Store struct {
	log *slog.Logger

	variables map[string]string // canonical key -> value
	namespace map[string]string // namespace -> template_id
	tplPath   map[string]string // template path -> template_id
}

// New creates a Store seeded with the built-in GLOBAL::GLOBAL::* variables.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:       log,
		variables: make(map[string]string),
		namespace: make(map[string]string),
		tplPath:   make(map[string]string),
	}
	now := time.Now()
	s.variables[key(Global, Global, "execution_date")] = now.Format("2006-01-02")
	s.variables[key(Global, Global, "execution_time")] = now.Format("15:04:05")
	s.variables[key(Global, Global, "execution_datetime")] = now.Format("2006-01-02 15:04:05")
	s.variables[key(Global, Global, "execution_timestamp")] = strconv.FormatInt(now.Unix(), 10)
	return s
}

func key(templateID, stepID, name string) string {
	return templateID + "::" + stepID + "::" + name
}

// RegisterNamespace maps a local reference alias to the template id it names.
func (s *Store) RegisterNamespace(namespace, templateID string) {
	s.namespace[namespace] = templateID
}

// RegisterTemplatePath records the template id that owns a source path.
func (s *Store) RegisterTemplatePath(path, templateID string) {
	s.tplPath[path] = templateID
}

// validateKeyParts enforces the naming rules of spec §4.3.
func validateKeyParts(templateID, stepID, name string) error {
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if strings.Contains(name, "::") {
		return fmt.Errorf("variable name %q must not contain '::'", name)
	}
	if templateID == "" {
		return fmt.Errorf("template id must not be empty")
	}
	if strings.Contains(templateID, "::") {
		return fmt.Errorf("template id %q must not contain '::'", templateID)
	}
	if templateID != Global && strings.HasSuffix(templateID, ".test") {
		return fmt.Errorf("template id %q must not end with '.test'", templateID)
	}
	if stepID == "" {
		return fmt.Errorf("step id must not be empty")
	}
	if strings.Contains(stepID, "::") {
		return fmt.Errorf("step id %q must not contain '::'", stepID)
	}
	return nil
}

// Set inserts templateID::stepID::name = value, after validating the key
// parts and verifying the value's reference closure does not cycle back to
// the key being inserted. Invalid or cyclic inserts are logged and skipped,
// never panicked (spec's VariableError is non-fatal).
func (s *Store) Set(templateID, stepID, name, value string) error {
	if err := validateKeyParts(templateID, stepID, name); err != nil {
		s.log.Warn("variable insert rejected", "error", err)
		return err
	}
	k := key(templateID, stepID, name)
	if s.wouldCycle(k, value, templateID, stepID) {
		err := fmt.Errorf("variable %q: value references itself transitively, insert skipped", k)
		s.log.Warn("variable cycle detected", "key", k)
		return err
	}
	s.variables[k] = value
	return nil
}

// wouldCycle traverses every variable reference reachable from value and
// reports whether any of them resolves to forbidden. forbidden is held in
// the table with the candidate value for the duration of the check, so a
// reference to the key being inserted resolves just as it would afterwards.
func (s *Store) wouldCycle(forbidden, value, templateID, stepID string) bool {
	old, had := s.variables[forbidden]
	s.variables[forbidden] = value
	seen := make(map[string]bool)
	cycle := s.referencesKey(value, templateID, stepID, forbidden, seen)
	if had {
		s.variables[forbidden] = old
	} else {
		delete(s.variables, forbidden)
	}
	return cycle
}

func (s *Store) referencesKey(value, templateID, stepID, forbidden string, seen map[string]bool) bool {
	for _, ref := range extractReferences(value) {
		resolvedValue, resolvedKey, ok := s.resolveWithKey(ref, templateID, stepID)
		if !ok {
			continue
		}
		if resolvedKey == forbidden {
			return true
		}
		if seen[resolvedKey] {
			continue
		}
		seen[resolvedKey] = true
		if s.referencesKey(resolvedValue, templateID, stepID, forbidden, seen) {
			return true
		}
	}
	return false
}

// Get resolves a name under the given (template_id, step_id) context using
// the five-step lookup order of spec §4.3. ok is false on a total miss.
func (s *Store) Get(name, templateID, stepID string) (string, bool) {
	v, _, ok := s.resolveWithKey(name, templateID, stepID)
	return v, ok
}

// resolveWithKey is Get, additionally returning the canonical key that was
// hit (used by the cycle checker).
func (s *Store) resolveWithKey(name, templateID, stepID string) (value string, canonicalKey string, ok bool) {
	// 1. Exact match as a fully qualified key.
	if v, found := s.variables[name]; found {
		return v, name, true
	}

	// 2. Namespaced / dotted form.
	if strings.Contains(name, "::") || strings.Contains(name, ".") {
		normalized := strings.ReplaceAll(name, ".", "::")
		parts := strings.SplitN(normalized, "::", 2)
		if len(parts) == 2 {
			ns, local := parts[0], parts[1]
			resolvedTemplate, found := s.namespace[ns]
			if !found {
				resolvedTemplate = ns
			}
			candidate := resolvedTemplate + "::" + local
			if v, found := s.variables[candidate]; found {
				return v, candidate, true
			}
		}
	}

	// 3. template_id::step_id::v
	candidate := key(templateID, stepID, name)
	if v, found := s.variables[candidate]; found {
		return v, candidate, true
	}

	// 4. template_id::v, which for a "step::var" name is that step's
	// variable in the current template; then the GLOBAL step scope.
	candidate = templateID + "::" + name
	if v, found := s.variables[candidate]; found {
		return v, candidate, true
	}
	candidate = key(templateID, Global, name)
	if v, found := s.variables[candidate]; found {
		return v, candidate, true
	}

	// 5. bare v
	if v, found := s.variables[name]; found {
		return v, name, true
	}

	return "", "", false
}

// Snapshot returns a copy of the entire variable table, for
// ExecutionResult.VariablesSnap.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.variables))
	for k, v := range s.variables {
		out[k] = v
	}
	return out
}

// evalNumeric compiles "lhs OP rhs" with expr-lang, treating lhs/rhs as
// float64 operands — used for the <, <=, >, >= comparisons of the
// conditional grammar (spec §4.3's small table). Equality/containment/regex
// are handled directly in conditional.go.
func evalNumeric(lhs, rhs string, op string) (bool, error) {
	lf, err := strconv.ParseFloat(strings.TrimSpace(lhs), 64)
	if err != nil {
		return false, fmt.Errorf("left operand %q is not numeric", lhs)
	}
	rf, err := strconv.ParseFloat(strings.TrimSpace(rhs), 64)
	if err != nil {
		return false, fmt.Errorf("right operand %q is not numeric", rhs)
	}
	program, err := expr.Compile(fmt.Sprintf("a %s b", op), expr.Env(map[string]any{"a": 0.0, "b": 0.0}), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile numeric comparison: %w", err)
	}
	out, err := expr.Run(program, map[string]any{"a": lf, "b": rf})
	if err != nil {
		return false, fmt.Errorf("eval numeric comparison: %w", err)
	}
	b, _ := out.(bool)
	return b, nil
}
