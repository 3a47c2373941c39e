package assertion

import (
	"testing"

	"github.com/lintestor-go/lintestor/pkg/model"
)

func TestExitCodeAssertion(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertExitCode, ExpectedInt: 0}, "", "", 0)
	if !r.Passed {
		t.Error("expected pass for exit_code 0 == 0")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertExitCode, ExpectedInt: 0}, "", "", 1)
	if r.Passed {
		t.Error("expected fail for exit_code 1 != 0")
	}
}

func TestStdoutContainsAssertion(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertStdoutContains, Pattern: "world"}, "hello world", "", 0)
	if !r.Passed {
		t.Error("expected pass for stdout_contains 'world'")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertStdoutContains, Pattern: "missing"}, "hello world", "", 0)
	if r.Passed {
		t.Error("expected fail for stdout_contains 'missing'")
	}
}

func TestStdoutNotContainsAssertion(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertStdoutNotContain, Pattern: "missing"}, "hello world", "", 0)
	if !r.Passed {
		t.Error("expected pass for stdout_not_contains 'missing'")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertStdoutNotContain, Pattern: "world"}, "hello world", "", 0)
	if r.Passed {
		t.Error("expected fail for stdout_not_contains 'world'")
	}
}

func TestStdoutMatchesAssertion(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertStdoutMatches, Pattern: "status.*ok"}, "status: ok", "", 0)
	if !r.Passed {
		t.Error("expected pass for stdout_matches 'status.*ok'")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertStdoutMatches, Pattern: "status.*ok"}, "status: error", "", 0)
	if r.Passed {
		t.Error("expected fail for stdout_matches against 'status: error'")
	}
}

func TestStderrAssertions(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertStderrContains, Pattern: "warn"}, "", "warn: low disk", 0)
	if !r.Passed {
		t.Error("expected pass for stderr_contains 'warn'")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertStderrNotContain, Pattern: "fatal"}, "", "warn: low disk", 0)
	if !r.Passed {
		t.Error("expected pass for stderr_not_contains 'fatal'")
	}
	r = Evaluate(model.Assertion{Kind: model.AssertStderrMatches, Pattern: "^warn:"}, "", "warn: low disk", 0)
	if !r.Passed {
		t.Error("expected pass for stderr_matches '^warn:'")
	}
}

func TestMatchesInvalidRegexFails(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertStdoutMatches, Pattern: "("}, "anything", "", 0)
	if r.Passed {
		t.Error("expected fail for invalid regex")
	}
}

func TestUnknownKindFails(t *testing.T) {
	r := Evaluate(model.Assertion{Kind: model.AssertionKind("bogus")}, "", "", 0)
	if r.Passed {
		t.Error("expected fail for unknown assertion kind")
	}
}
