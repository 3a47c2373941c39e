// Package orchestrator wires discovery, parsing, the template and step
// dependency graphs, the batch executor, and the reporter into the single
// top-level Run a CLI invocation performs (spec §4's end-to-end flow).
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lintestor-go/lintestor/pkg/connection"
	"github.com/lintestor-go/lintestor/pkg/discovery"
	"github.com/lintestor-go/lintestor/pkg/executor"
	"github.com/lintestor-go/lintestor/pkg/graph"
	"github.com/lintestor-go/lintestor/pkg/markdown"
	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/report"
	"github.com/lintestor-go/lintestor/pkg/trace"
	"github.com/lintestor-go/lintestor/pkg/variables"
)

// Options carries every CLI-supplied knob of spec §6.
type Options struct {
	WorkDir         string
	Recursive       bool
	Filter          discovery.Filter
	ParseOnly       bool
	ContinueOnError bool
	CommandTimeout  time.Duration
	RetryCount      int
	ReportDir       string
	ExplicitPaths   []string // when set, bypasses discovery and runs exactly these templates
	TraceOutput     io.Writer // JSONL execution trace destination; nil discards it
}

// Run is the outcome of one end-to-end invocation.
type Run struct {
	Templates []*model.Template
	Results   []*model.ExecutionResult
}

// Orchestrator holds only the logger; each Run creates the variable store,
// connection pool and trace writer that its templates share.
type Orchestrator struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{log: log}
}

// Discover finds and parses every candidate template, applying opts.Filter.
// A template that fails to parse is skipped with a warning, never fatal
// (spec §4.8).
func (o *Orchestrator) Discover(opts Options) ([]*model.Template, error) {
	parse := markdown.Parse

	var paths []string
	if len(opts.ExplicitPaths) > 0 {
		paths = opts.ExplicitPaths
	} else {
		found, err := discovery.DiscoverFiles(opts.WorkDir, opts.Recursive)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: discover: %w", err)
		}
		paths = found
	}

	templates := discovery.Load(paths, parse, o.log)
	return discovery.Apply(templates, opts.Filter), nil
}

// Run discovers, builds the template and step graphs, and (unless
// opts.ParseOnly) executes every template in dependency order, writing a
// report per template plus the aggregate summary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Run, error) {
	templates, err := o.Discover(opts)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		o.log.Warn("no templates matched, nothing to do")
		return &Run{}, nil
	}

	tg := graph.NewTemplateGraph(opts.WorkDir, loaderFor(markdown.Parse))
	for _, t := range templates {
		tg.Add(t)
	}
	if err := tg.Build(); err != nil {
		return nil, fmt.Errorf("orchestrator: template graph: %w", err)
	}

	ordered, err := tg.Order()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: template order: %w", err)
	}

	run := &Run{Templates: ordered}
	if opts.ParseOnly {
		return run, nil
	}

	vars := variables.New(o.log)
	pool := connection.NewPool(connection.Options{RetryCount: opts.RetryCount, CommandTimeout: opts.CommandTimeout})
	defer pool.CloseAll(ctx)

	traceOut := opts.TraceOutput
	if traceOut == nil {
		traceOut = io.Discard
	}
	tr := trace.NewWriter(traceOut, runID())
	exec := executor.New(vars, pool, tr, o.log, executor.Options{
		ContinueOnError: opts.ContinueOnError,
		CommandTimeout:  opts.CommandTimeout,
		RetryCount:      opts.RetryCount,
	})

	rep := report.New(opts.ReportDir)

	for _, t := range ordered {
		exec.RegisterTemplate(t)
	}

	tr.Emit(trace.EventRunStart, map[string]any{"template_count": len(ordered)})

	var results []*model.ExecutionResult
	for _, t := range ordered {
		tr.Emit(trace.EventTemplateStart, map[string]any{"template": t.ID})
		sg := graph.NewStepGraph(t.ExecutionSteps)
		result, err := exec.Execute(ctx, t, sg)
		if err != nil {
			o.log.Error("template execution failed", "template", t.ID, "error", err)
			continue
		}
		if _, err := rep.WriteTemplateReport(t, result, vars); err != nil {
			o.log.Error("report write failed", "template", t.ID, "error", err)
		}
		tr.Emit(trace.EventTemplateDone, map[string]any{"template": t.ID, "status": string(result.OverallStatus)})
		results = append(results, result)
	}

	if err := rep.WriteAggregate(results); err != nil {
		o.log.Error("aggregate report write failed", "error", err)
	}

	tr.Emit(trace.EventRunComplete, map[string]any{"template_count": len(results)})

	run.Results = results
	return run, nil
}

// loaderFor adapts markdown.Parse (which takes pre-read content) into a
// graph.TemplateLoader (which reads the file itself), for pulling in
// transitively referenced templates discovery didn't already find.
func loaderFor(parse discovery.Parser) graph.TemplateLoader {
	return func(path string) (*model.Template, error) {
		loaded := discovery.Load([]string{path}, parse, slog.Default())
		if len(loaded) == 0 {
			return nil, fmt.Errorf("orchestrator: could not load referenced template %s", filepath.Clean(path))
		}
		return loaded[0], nil
	}
}

// runID derives a run identifier for the trace stream from the current
// time, unique enough to tell consecutive runs apart in a shared log.
func runID() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}
