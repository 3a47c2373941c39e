// Package assertion evaluates the seven post-execution assertion kinds of
// spec §3, grounded on the teacher's pkg/assertions (contains/not_contains/
// matches/exit_code evaluators returning a typed result).
package assertion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lintestor-go/lintestor/pkg/model"
)

// Result is the outcome of evaluating a single assertion.
type Result struct {
	Kind    model.AssertionKind
	Passed  bool
	Message string
}

// Evaluate runs a assertions against the captured stdout/stderr/exit code.
func Evaluate(a model.Assertion, stdout, stderr string, exitCode int) Result {
	switch a.Kind {
	case model.AssertExitCode:
		return evalExitCode(exitCode, a.ExpectedInt)
	case model.AssertStdoutContains:
		return evalContains("stdout", stdout, a.Pattern)
	case model.AssertStdoutNotContain:
		return evalNotContains("stdout", stdout, a.Pattern)
	case model.AssertStdoutMatches:
		return evalMatches("stdout", stdout, a.Pattern)
	case model.AssertStderrContains:
		return evalContains("stderr", stderr, a.Pattern)
	case model.AssertStderrNotContain:
		return evalNotContains("stderr", stderr, a.Pattern)
	case model.AssertStderrMatches:
		return evalMatches("stderr", stderr, a.Pattern)
	default:
		return Result{Kind: a.Kind, Passed: false, Message: fmt.Sprintf("unknown assertion kind %q", a.Kind)}
	}
}

func evalExitCode(actual, expected int) Result {
	passed := actual == expected
	msg := fmt.Sprintf("exit code %d == %d", actual, expected)
	if !passed {
		msg = fmt.Sprintf("exit code %d != %d", actual, expected)
	}
	return Result{Kind: model.AssertExitCode, Passed: passed, Message: msg}
}

func evalContains(stream, output, expected string) Result {
	passed := strings.Contains(output, expected)
	msg := fmt.Sprintf("%s contains %q", stream, expected)
	if !passed {
		msg = fmt.Sprintf("%s does not contain %q", stream, expected)
	}
	return Result{Kind: kindFor(stream, "contains"), Passed: passed, Message: msg}
}

func evalNotContains(stream, output, expected string) Result {
	passed := !strings.Contains(output, expected)
	msg := fmt.Sprintf("%s does not contain %q", stream, expected)
	if !passed {
		msg = fmt.Sprintf("%s contains %q (unexpected)", stream, expected)
	}
	return Result{Kind: kindFor(stream, "not_contains"), Passed: passed, Message: msg}
}

// evalMatches anchors the regex exactly as written — spec §3 requires
// "Matches regexes are anchored as written", i.e. no implicit ^/$ wrapping.
func evalMatches(stream, output, pattern string) Result {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{Kind: kindFor(stream, "matches"), Passed: false, Message: fmt.Sprintf("invalid regex %q: %v", pattern, err)}
	}
	passed := re.MatchString(output)
	msg := fmt.Sprintf("%s matches /%s/", stream, pattern)
	if !passed {
		msg = fmt.Sprintf("%s does not match /%s/", stream, pattern)
	}
	return Result{Kind: kindFor(stream, "matches"), Passed: passed, Message: msg}
}

func kindFor(stream, op string) model.AssertionKind {
	return model.AssertionKind(stream + "_" + op)
}
