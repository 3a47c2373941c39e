// Package executor implements the batch executor of spec §4.6: per
// template, in topological step order, hydrate the command, dispatch it
// through the connection abstraction, run assertions/extractions, and
// record step status — propagating Blocked to transitive dependents of a
// failed step (spec §9's Open Question, treated as authoritative).
//
// Grounded on original_source/src/template/batch_executor.rs's single
// execution loop (per-step dispatch, stdout/stderr/exit_code variable
// registration, stdout_summary/stderr_summary truncation, assertion/
// extraction handling, continue_on_error early-exit).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lintestor-go/lintestor/pkg/assertion"
	"github.com/lintestor-go/lintestor/pkg/config"
	"github.com/lintestor-go/lintestor/pkg/connection"
	"github.com/lintestor-go/lintestor/pkg/graph"
	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/trace"
	"github.com/lintestor-go/lintestor/pkg/variables"
)

// Options carries the batch-level knobs spec §6 lists as CLI-supplied
// engine inputs.
type Options struct {
	ContinueOnError bool
	CommandTimeout  time.Duration
	RetryCount      int
}

// Executor owns the one variable store and connection pool shared across
// every template in a run (spec §4.6, §5's "only shared mutable state").
type Executor struct {
	Vars    *variables.Store
	Pool    *connection.Pool
	Trace   *trace.Writer
	log     *slog.Logger
	opts    Options
	targets map[string]*config.Target // cache of loaded target configs by path
	opened  map[string]bool           // target paths already announced via EventConnectionOpen
}

func New(vars *variables.Store, pool *connection.Pool, tr *trace.Writer, log *slog.Logger, opts Options) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{Vars: vars, Pool: pool, Trace: tr, log: log, opts: opts, targets: make(map[string]*config.Target), opened: make(map[string]bool)}
}

// noteConnectionOpened emits EventConnectionOpen the first time this
// executor sees a given target path, regardless of whether the pool
// actually dialed a fresh connection or returned a cached one — the trace
// records "this template started using this target", not pool internals.
func (e *Executor) noteConnectionOpened(targetPath, testingType string) {
	if e.opened[targetPath] {
		return
	}
	e.opened[targetPath] = true
	e.Trace.Emit(trace.EventConnectionOpen, map[string]any{"target": targetPath, "testing_type": testingType})
}

// RegisterTemplate registers a template's custom metadata fields as
// GLOBAL-scoped variables under "metadata.<key>", as spec §3 requires.
func (e *Executor) RegisterTemplate(t *model.Template) {
	for k, v := range t.Metadata.Custom {
		_ = e.Vars.Set(t.ID, variables.Global, "metadata."+k, v)
	}
	for _, ref := range t.Metadata.References {
		e.Vars.RegisterNamespace(ref.As, templateIDFromRef(ref.Template))
	}
	e.Vars.RegisterTemplatePath(t.Path, t.ID)
}

func templateIDFromRef(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}

// loadTarget loads (and caches) a target configuration relative to the
// template's directory.
func (e *Executor) loadTarget(t *model.Template) (*config.Target, error) {
	path := resolveTargetPath(t)
	if cached, ok := e.targets[path]; ok {
		return cached, nil
	}
	target, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	e.targets[path] = target
	return target, nil
}

func resolveTargetPath(t *model.Template) string {
	p := t.Metadata.TargetConfig
	if strings.HasPrefix(p, "/") {
		return p
	}
	dir := "."
	if i := strings.LastIndexAny(t.Path, "/\\"); i >= 0 {
		dir = t.Path[:i]
	}
	return dir + "/" + p
}

// Execute runs every step of t in the order g.Order() reports, mutating
// the shared variable store and returning the per-template result (spec
// §4.6).
func (e *Executor) Execute(ctx context.Context, t *model.Template, g *graph.StepGraph) (*model.ExecutionResult, error) {
	order, err := g.Order()
	if err != nil {
		e.Trace.EmitGraphError(t.ID, err.Error())
		return nil, fmt.Errorf("executor: %s: %w", t.ID, err)
	}

	result := &model.ExecutionResult{
		TemplateRef:   t.ID,
		UnitName:      t.Metadata.UnitName,
		TargetName:    t.Metadata.TargetConfig,
		OverallStatus: model.StatusPass,
		StepResults:   make(map[string]*model.StepResult),
	}

	target, targetErr := e.loadTarget(t)

	blocked := make(map[string]bool)

	for _, step := range order {
		if step == nil || step.TemplateID != t.ID {
			continue // steps pulled in only to satisfy a cross-template dependency reference
		}

		e.Trace.EmitStepStart(step.GlobalID, string(step.Kind))

		if blocked[step.GlobalID] {
			sr := &model.StepResult{LocalID: step.LocalID, Status: model.StatusBlocked}
			result.StepResults[step.GlobalID] = sr
			_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(model.StatusBlocked))
			e.Trace.EmitStepComplete(step.GlobalID, string(model.StatusBlocked), 0, 0)
			continue
		}

		if step.Kind == model.StepHeading || step.Kind == model.StepOutput {
			sr := &model.StepResult{LocalID: step.LocalID, Status: model.StatusSkipped}
			result.StepResults[step.GlobalID] = sr
			_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(model.StatusSkipped))
			e.Trace.EmitStepComplete(step.GlobalID, string(model.StatusSkipped), 0, 0)
			continue
		}

		if !step.Executable || !step.Active {
			sr := &model.StepResult{LocalID: step.LocalID, Status: model.StatusSkipped}
			result.StepResults[step.GlobalID] = sr
			_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(model.StatusSkipped))
			e.Trace.EmitStepComplete(step.GlobalID, string(model.StatusSkipped), 0, 0)
			continue
		}

		if targetErr != nil {
			sr := e.failStep(t, step, fmt.Sprintf("target config error: %v", targetErr))
			result.StepResults[step.GlobalID] = sr
			result.OverallStatus = model.StatusFail
			e.markDownstreamBlocked(g, step.GlobalID, blocked)
			if !e.opts.ContinueOnError {
				break
			}
			continue
		}

		sr := e.runStep(ctx, t, step, target)
		result.StepResults[step.GlobalID] = sr
		if sr.Status == model.StatusFail {
			result.OverallStatus = model.StatusFail
			e.markDownstreamBlocked(g, step.GlobalID, blocked)
			if !e.opts.ContinueOnError {
				break
			}
		}
	}

	// Steps left unvisited after a stop: dependents of the failure are
	// Blocked, the rest NotRun, so every step of the template has a result.
	for _, step := range order {
		if step == nil || step.TemplateID != t.ID || result.StepResults[step.GlobalID] != nil {
			continue
		}
		status := model.StatusNotRun
		if blocked[step.GlobalID] {
			status = model.StatusBlocked
		}
		result.StepResults[step.GlobalID] = &model.StepResult{LocalID: step.LocalID, Status: status}
		_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(status))
	}

	result.VariablesSnap = e.Vars.Snapshot()
	return result, nil
}

func (e *Executor) markDownstreamBlocked(g *graph.StepGraph, failed string, blocked map[string]bool) {
	for _, id := range g.DownstreamOf(failed) {
		blocked[id] = true
	}
}

func (e *Executor) failStep(t *model.Template, step *model.ExecutionStep, message string) *model.StepResult {
	_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(model.StatusFail))
	e.Trace.EmitStepComplete(step.GlobalID, string(model.StatusFail), 0, -1)
	return &model.StepResult{
		LocalID:        step.LocalID,
		Description:    step.Description,
		Status:         model.StatusFail,
		ExitCode:       -1,
		AssertionError: message,
	}
}

// runStep hydrates, dispatches, asserts, and extracts for a single
// executable code-block step (spec §4.6 steps 3-9).
func (e *Executor) runStep(ctx context.Context, t *model.Template, step *model.ExecutionStep, target *config.Target) *model.StepResult {
	start := time.Now()

	conn, err := e.Pool.Get(ctx, target)
	if err != nil {
		return e.failStep(t, step, fmt.Sprintf("connection setup failed: %v", err))
	}
	e.noteConnectionOpened(target.Path, target.TestingType)

	hydrated := e.Vars.Substitute(step.Command, t.ID, step.LocalID)

	timeout := e.stepTimeout(step)

	out, err := conn.Execute(ctx, hydrated, timeout)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(model.StatusFail))
		e.Trace.EmitStepComplete(step.GlobalID, string(model.StatusFail), duration, out.ExitCode)
		return &model.StepResult{
			LocalID:        step.LocalID,
			Description:    step.Description,
			Status:         model.StatusFail,
			Stderr:         err.Error(),
			ExitCode:       out.ExitCode,
			DurationMS:     duration,
			AssertionError: fmt.Sprintf("transport error: %v", err),
		}
	}

	e.registerOutputVariables(t.ID, step.LocalID, out)

	status := model.StatusPass
	var firstAssertionErr string
	var assertionFailed bool

	if len(step.Assertions) > 0 {
		for idx, a := range step.Assertions {
			res := assertion.Evaluate(a, out.Stdout, out.Stderr, out.ExitCode)
			_ = e.Vars.Set(t.ID, step.LocalID, fmt.Sprintf("status.assertion.%d", idx), passFailString(res.Passed))
			e.Trace.EmitAssertion(step.GlobalID, idx, string(a.Kind), res.Passed, res.Message)
			if !res.Passed {
				assertionFailed = true
				_ = e.Vars.Set(t.ID, step.LocalID, fmt.Sprintf("assertion_error.%d", idx), res.Message)
				if firstAssertionErr == "" {
					firstAssertionErr = res.Message
				}
			}
		}
		if assertionFailed {
			status = model.StatusFail
		}
		_ = e.Vars.Set(t.ID, step.LocalID, "status.assertion", passFailString(!assertionFailed))
	}

	if status == model.StatusPass {
		e.runExtractions(t.ID, step, out.Stdout)
	}

	_ = e.Vars.Set(t.ID, step.LocalID, "status.execution", string(status))
	e.Trace.EmitStepComplete(step.GlobalID, string(status), duration, out.ExitCode)

	return &model.StepResult{
		LocalID:        step.LocalID,
		Description:    step.Description,
		Status:         status,
		Stdout:         out.Stdout,
		Stderr:         out.Stderr,
		ExitCode:       out.ExitCode,
		DurationMS:     duration,
		AssertionError: firstAssertionErr,
	}
}

func passFailString(passed bool) string {
	if passed {
		return string(model.StatusPass)
	}
	return string(model.StatusFail)
}

func (e *Executor) stepTimeout(step *model.ExecutionStep) time.Duration {
	if step.TimeoutMS > 0 {
		return time.Duration(step.TimeoutMS) * time.Millisecond
	}
	if e.opts.CommandTimeout > 0 {
		return e.opts.CommandTimeout
	}
	return connection.DefaultTimeout
}

// registerOutputVariables writes the derived stdout/stderr/exit_code and
// their line-truncated summaries (spec §4.6 step 7).
func (e *Executor) registerOutputVariables(templateID, stepID string, out connection.Result) {
	_ = e.Vars.Set(templateID, stepID, "stdout", out.Stdout)
	_ = e.Vars.Set(templateID, stepID, "stdout_summary", summarize(out.Stdout))
	_ = e.Vars.Set(templateID, stepID, "stderr", out.Stderr)
	_ = e.Vars.Set(templateID, stepID, "stderr_summary", summarize(out.Stderr))
	_ = e.Vars.Set(templateID, stepID, "exit_code", fmt.Sprintf("%d", out.ExitCode))
}

// summarize takes the first 5 non-empty lines of text, each truncated to
// 200 characters, joined with a space, appending "..." if either limit
// was hit (spec §4.6 step 7).
func summarize(text string) string {
	var parts []string
	lineCount := 0
	truncatedAnyLine := false
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if lineCount >= 5 {
			break
		}
		if len(line) > 200 {
			line = line[:200]
			truncatedAnyLine = true
		}
		parts = append(parts, line)
		lineCount++
	}
	summary := strings.Join(parts, " ")
	totalLines := 0
	for _, l := range strings.Split(text, "\n") {
		if l != "" {
			totalLines++
		}
	}
	if totalLines > 5 || truncatedAnyLine {
		if summary != "" {
			summary += " ..."
		} else {
			summary = "..."
		}
	}
	return summary
}

// runExtractions captures named variables from stdout via each
// extraction rule's regex, storing the first capture group or the full
// match if the regex has no group (spec §4.6 step 9).
func (e *Executor) runExtractions(templateID string, step *model.ExecutionStep, stdout string) {
	for _, ex := range step.Extractions {
		re, err := regexp.Compile(ex.Regex)
		if err != nil {
			e.log.Warn("extraction regex invalid, skipped", "variable", ex.VariableName, "regex", ex.Regex, "error", err)
			e.Trace.Emit(trace.EventExtraction, map[string]any{"step_id": step.GlobalID, "variable": ex.VariableName, "matched": false, "error": err.Error()})
			continue
		}
		m := re.FindStringSubmatch(stdout)
		if m == nil {
			e.log.Warn("extraction did not match, variable left unset", "variable", ex.VariableName, "step", step.GlobalID)
			e.Trace.Emit(trace.EventExtraction, map[string]any{"step_id": step.GlobalID, "variable": ex.VariableName, "matched": false})
			continue
		}
		value := m[0]
		if len(m) > 1 {
			value = m[1]
		}
		if err := e.Vars.Set(templateID, step.LocalID, ex.VariableName, value); err != nil {
			e.Trace.EmitVariableSet(ex.VariableName, true, err.Error())
			continue
		}
		e.Trace.Emit(trace.EventExtraction, map[string]any{"step_id": step.GlobalID, "variable": ex.VariableName, "matched": true, "value": value})
	}
}
