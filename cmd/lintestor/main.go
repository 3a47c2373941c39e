package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lintestor-go/lintestor/pkg/discovery"
	"github.com/lintestor-go/lintestor/pkg/logging"
	"github.com/lintestor-go/lintestor/pkg/model"
	"github.com/lintestor-go/lintestor/pkg/orchestrator"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lintestor",
	Short: "Declarative Markdown test orchestrator",
	Long:  "lintestor runs executable command steps embedded in Markdown test templates against local, SSH, QEMU, serial, and board-test targets, and reports the results.",
}

var (
	flagWorkDir    string
	flagRecursive  bool
	flagTarget     string
	flagUnit       string
	flagTags       []string
	flagLogFormat  string
	flagLogLevel   string
)

func addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagWorkDir, "dir", ".", "Directory to search for *.test.md templates")
	cmd.Flags().BoolVar(&flagRecursive, "recursive", true, "Search subdirectories for templates")
	cmd.Flags().StringVar(&flagTarget, "target", "", "Only run templates whose target_config names this target")
	cmd.Flags().StringVar(&flagUnit, "unit", "", "Only run templates whose unit_name matches this value")
	cmd.Flags().StringArrayVar(&flagTags, "tag", nil, "Only run templates carrying at least one of these tags, repeatable")
	cmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "Log output format: text or json")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	format := logging.FormatText
	if strings.ToLower(flagLogFormat) == "json" {
		format = logging.FormatJSON
	}
	return logging.New(format, level, os.Stderr)
}

func discoveryFilter() discovery.Filter {
	return discovery.Filter{Target: flagTarget, Unit: flagUnit, Tags: flagTags}
}

// --- run ---

var (
	runContinueOnError bool
	runTimeout          time.Duration
	runRetryCount        int
	runReportDir         string
	runParseOnly         bool
	runTraceFile         string
)

var runCmd = &cobra.Command{
	Use:   "run [template.test.md...]",
	Short: "Discover (or take explicit) templates and execute them",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger()

	var traceOut *os.File
	if runTraceFile != "" {
		f, err := os.Create(runTraceFile)
		if err != nil {
			return fmt.Errorf("lintestor: open trace file: %w", err)
		}
		defer f.Close()
		traceOut = f
	}

	opts := orchestrator.Options{
		WorkDir:         flagWorkDir,
		Recursive:       flagRecursive,
		Filter:          discoveryFilter(),
		ParseOnly:       runParseOnly,
		ContinueOnError: runContinueOnError,
		CommandTimeout:  runTimeout,
		RetryCount:      runRetryCount,
		ReportDir:       runReportDir,
		ExplicitPaths:   args,
	}
	if traceOut != nil {
		opts.TraceOutput = traceOut
	}

	orc := orchestrator.New(log)
	result, err := orc.Run(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("lintestor: run: %w", err)
	}

	return printRunSummary(result)
}

func printRunSummary(result *orchestrator.Run) error {
	if len(result.Templates) == 0 {
		fmt.Println("no templates matched")
		return nil
	}

	var failed int
	for _, res := range result.Results {
		status := "PASS"
		if res.OverallStatus == model.StatusFail {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %s (target=%s)\n", status, res.TemplateRef, res.TargetName)
	}

	if failed > 0 {
		return fmt.Errorf("lintestor: %d template(s) failed", failed)
	}
	return nil
}

// --- list ---

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list [template.test.md...]",
	Short: "Discover templates and print their metadata without executing them",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	log := newLogger()
	orc := orchestrator.New(log)

	opts := orchestrator.Options{
		WorkDir:       flagWorkDir,
		Recursive:     flagRecursive,
		Filter:        discoveryFilter(),
		ExplicitPaths: args,
	}

	templates, err := orc.Discover(opts)
	if err != nil {
		return fmt.Errorf("lintestor: list: %w", err)
	}

	if listJSON {
		type row struct {
			ID         string   `json:"id"`
			UnitName   string   `json:"unit_name"`
			Target     string   `json:"target_config"`
			Tags       []string `json:"tags,omitempty"`
			Path       string   `json:"path"`
			StepCount  int      `json:"step_count"`
		}
		var rows []row
		for _, t := range templates {
			rows = append(rows, row{
				ID:        t.ID,
				UnitName:  t.Metadata.UnitName,
				Target:    t.Metadata.TargetConfig,
				Tags:      t.Metadata.Tags,
				Path:      t.Path,
				StepCount: len(t.ExecutionSteps),
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, t := range templates {
		fmt.Printf("%s\tunit=%s\ttarget=%s\tsteps=%d\t%s\n", t.ID, t.Metadata.UnitName, t.Metadata.TargetConfig, len(t.ExecutionSteps), t.Path)
	}
	return nil
}

// --- report ---

var reportReportDir string

var reportCmd = &cobra.Command{
	Use:   "report [template.test.md...]",
	Short: "Run templates and only (re)write their reports, without failing the process on a template failure",
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	log := newLogger()
	orc := orchestrator.New(log)

	opts := orchestrator.Options{
		WorkDir:       flagWorkDir,
		Recursive:     flagRecursive,
		Filter:        discoveryFilter(),
		ReportDir:     reportReportDir,
		ExplicitPaths: args,
	}

	result, err := orc.Run(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("lintestor: report: %w", err)
	}
	fmt.Printf("wrote %d report(s) to %s\n", len(result.Results), reportReportDir)
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lintestor version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("lintestor", version)
		return nil
	},
}

func init() {
	addDiscoveryFlags(runCmd)
	runCmd.Flags().BoolVar(&runContinueOnError, "continue-on-error", false, "Keep executing a template's remaining steps after a step fails")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "Default per-step command timeout")
	runCmd.Flags().IntVar(&runRetryCount, "retry", 0, "Connection retry count for remote targets")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "reports", "Directory to write per-template reports and the aggregate summary")
	runCmd.Flags().BoolVar(&runParseOnly, "parse-only", false, "Parse and order templates without executing any step")
	runCmd.Flags().StringVar(&runTraceFile, "trace-file", "", "Write a JSONL execution trace to this file")

	addDiscoveryFlags(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print metadata as a JSON array instead of a table")

	addDiscoveryFlags(reportCmd)
	reportCmd.Flags().StringVar(&reportReportDir, "report-dir", "reports", "Directory to write per-template reports and the aggregate summary")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}
