package variables

import (
	"testing"

	"github.com/lintestor-go/lintestor/pkg/logging"
)

func newTestStore() *Store {
	return New(logging.NewSilent())
}

func TestBuiltinGlobals(t *testing.T) {
	s := newTestStore()
	for _, name := range []string{"execution_date", "execution_time", "execution_datetime", "execution_timestamp"} {
		if _, ok := s.Get(name, Global, Global); !ok {
			t.Errorf("expected built-in %q to be set", name)
		}
	}
}

func TestSetAndLookupOrder(t *testing.T) {
	s := newTestStore()
	if err := s.Set("boot", "step1", "result", "ok"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, ok := s.Get("result", "boot", "step1"); !ok || v != "ok" {
		t.Fatalf("step-scoped lookup: got %q, %v", v, ok)
	}

	s.RegisterNamespace("ns", "boot")
	if v, ok := s.Get("ns::step1::result", "other", "other_step"); !ok || v != "ok" {
		t.Fatalf("namespaced lookup: got %q, %v", v, ok)
	}
}

func TestSetRejectsInvalidKeys(t *testing.T) {
	s := newTestStore()
	if err := s.Set("", "step1", "x", "v"); err == nil {
		t.Error("expected error for empty template id")
	}
	if err := s.Set("tpl", "step1", "bad::name", "v"); err == nil {
		t.Error("expected error for name containing ::")
	}
	if err := s.Set("mytpl.test", "step1", "x", "v"); err == nil {
		t.Error("expected error for non-GLOBAL template id ending in .test")
	}
}

func TestSetDetectsCycle(t *testing.T) {
	s := newTestStore()
	if err := s.Set("tpl", "s1", "a", "${tpl::s1::b}"); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := s.Set("tpl", "s1", "b", "${tpl::s1::a}"); err == nil {
		t.Error("expected cycle detection to reject b referencing a referencing b")
	}
}

func TestSubstituteThreeGrammars(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "name", "world")

	cases := []struct{ in, want string }{
		{"hello ${name}", "hello world"},
		{"hello {{ name }}", "hello world"},
		{"hello { name }", "hello world"},
	}
	for _, c := range cases {
		if got := s.Substitute(c.in, "tpl", "s1"); got != c.want {
			t.Errorf("Substitute(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSubstituteLeavesUnresolvedInPlace(t *testing.T) {
	s := newTestStore()
	got := s.Substitute("value is ${missing}", "tpl", "s1")
	if got != "value is ${missing}" {
		t.Errorf("got %q, want unresolved reference preserved", got)
	}
}

func TestSubstituteFixedPoint(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "a", "${tpl::s1::b}")
	_ = s.Set("tpl", "s1", "b", "final")

	got := s.Substitute("${tpl::s1::a}", "tpl", "s1")
	if got != "final" {
		t.Errorf("got %q, want chained substitution to reach %q", got, "final")
	}
}

func TestConditionalEquality(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "status", "ready")

	got := s.Substitute(`{{ status == "ready" ? "go" : "wait" }}`, "tpl", "s1")
	if got != "go" {
		t.Errorf("got %q, want %q", got, "go")
	}

	_ = s.Set("tpl", "s1", "status", "pending")
	got = s.Substitute(`{{ status == "ready" ? "go" : "wait" }}`, "tpl", "s1")
	if got != "wait" {
		t.Errorf("got %q, want %q", got, "wait")
	}
}

func TestConditionalNumericComparison(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "count", "5")

	got := s.Substitute("{{ count > 3 ? yes : no }}", "tpl", "s1")
	if got != "yes" {
		t.Errorf("got %q, want %q", got, "yes")
	}
}

func TestConditionalContains(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "output", "build succeeded with warnings")

	got := s.Substitute(`{{ output contains "succeeded" ? ok : bad }}`, "tpl", "s1")
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
}

func TestConditionalMatches(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "version", "v1.2.3")

	got := s.Substitute(`{{ version matches /^v\d+\.\d+\.\d+$/ ? ok : bad }}`, "tpl", "s1")
	if got != "ok" {
		t.Errorf("got %q, want %q (delimiting slashes must be stripped before compiling)", got, "ok")
	}

	got = s.Substitute(`{{ version matches /^nope$/ ? ok : bad }}`, "tpl", "s1")
	if got != "bad" {
		t.Errorf("got %q, want %q", got, "bad")
	}
}

func TestConditionalNotMatches(t *testing.T) {
	s := newTestStore()
	_ = s.Set("tpl", "s1", "status", "ready")

	got := s.Substitute(`{{ status not_matches /^error/ ? ok : bad }}`, "tpl", "s1")
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}

	_ = s.Set("tpl", "s1", "status", "error: boom")
	got = s.Substitute(`{{ status not_matches /^error/ ? ok : bad }}`, "tpl", "s1")
	if got != "bad" {
		t.Errorf("got %q, want %q", got, "bad")
	}
}
