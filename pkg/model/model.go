// Package model holds the data types shared across the parser, graph,
// executor, and reporter: templates, content blocks, execution steps,
// assertions, and results (spec §3 Data Model).
package model

// Metadata is a template's YAML front matter.
type Metadata struct {
	Title              string            `yaml:"title"`
	UnitName           string            `yaml:"unit_name"`
	TargetConfig       string            `yaml:"target_config"`
	UnitVersionCommand string            `yaml:"unit_version_command,omitempty"`
	Tags               []string          `yaml:"tags,omitempty"`
	References         []Reference       `yaml:"references,omitempty"`
	Custom             map[string]string `yaml:"custom,omitempty"`
}

// Reference is one entry of the front matter's `references` list: the
// referenced template's path (by file stem / relative path) and the local
// namespace alias it's addressed by, e.g. {template: X, as: x}.
type Reference struct {
	Template string `yaml:"template"`
	As       string `yaml:"as"`
}

// BlockKind discriminates ContentBlock variants.
type BlockKind string

const (
	BlockMetadata      BlockKind = "metadata"
	BlockText          BlockKind = "text"
	BlockHeading       BlockKind = "heading"
	BlockCode          BlockKind = "code"
	BlockOutput        BlockKind = "output"
	BlockSummaryTable  BlockKind = "summary_table"
)

// ContentBlock is one element of a template's ordered rendering structure.
type ContentBlock struct {
	Kind BlockKind

	// Metadata block
	MetadataYAML string

	// Text block
	Text string

	// Heading block
	HeadingLevel int
	HeadingText  string
	HeadingID    string
	Attributes   map[string]string

	// CodeBlock
	CodeID   string
	CodeLang string
	CodeRaw  string // raw fenced text, including attributes, for display

	// OutputPlaceholder
	RefStepID string
	Stream    string // "stdout" | "stderr" | "both"
}

// StepKind discriminates ExecutionStep variants.
type StepKind string

const (
	StepHeading StepKind = "heading"
	StepCode    StepKind = "code"
	StepOutput  StepKind = "output"
)

// AssertionKind enumerates the seven assertion variants of spec §3.
type AssertionKind string

const (
	AssertExitCode         AssertionKind = "exit_code"
	AssertStdoutContains   AssertionKind = "stdout_contains"
	AssertStdoutNotContain AssertionKind = "stdout_not_contains"
	AssertStdoutMatches    AssertionKind = "stdout_matches"
	AssertStderrContains   AssertionKind = "stderr_contains"
	AssertStderrNotContain AssertionKind = "stderr_not_contains"
	AssertStderrMatches    AssertionKind = "stderr_matches"
)

// Assertion is one post-execution check attached to a code block step.
type Assertion struct {
	Kind        AssertionKind
	Pattern     string // literal substring, or regex source for *Matches
	ExpectedInt int    // used only by AssertExitCode
}

// Extraction captures a named variable from command output via regex.
type Extraction struct {
	VariableName string
	Regex        string
}

// ExecutionStep is one node of the step dependency graph.
type ExecutionStep struct {
	GlobalID   string // template_id::local_id
	TemplateID string
	LocalID    string
	Kind       StepKind

	Dependencies map[string]struct{} // set of global_id

	// CodeBlock / OutputPlaceholder descriptor
	Command     string
	Description string
	Executable  bool
	Active      bool
	TimeoutMS   int
	Assertions  []Assertion
	Extractions []Extraction
	RawText     string

	// OutputPlaceholder only
	RefStepID string
	Stream    string

	// Heading only — used to recover parent-heading chains
	HeadingLevel int
}

// StepStatus is the lifecycle state of an ExecutionStep for one run.
type StepStatus string

const (
	StatusPass    StepStatus = "pass"
	StatusFail    StepStatus = "fail"
	StatusSkipped StepStatus = "skipped"
	StatusBlocked StepStatus = "blocked"
	StatusNotRun  StepStatus = "not_run"
)

// StepResult is the outcome of executing (or skipping) one step.
type StepResult struct {
	LocalID        string
	Description    string
	Status         StepStatus
	Stdout         string
	Stderr         string
	ExitCode       int
	DurationMS     int64
	AssertionError string
}

// ExecutionResult is the per-template outcome of a batch run.
type ExecutionResult struct {
	TemplateRef      string
	UnitName         string
	TargetName       string
	OverallStatus    StepStatus
	StepResults      map[string]*StepResult // keyed by global_id
	VariablesSnap    map[string]string
	ReportPath       string
}

// Template is a fully parsed template: metadata, content blocks for
// rendering, and execution steps for the dependency graph.
type Template struct {
	ID             string // file stem
	Path           string
	Metadata       Metadata
	ContentBlocks  []ContentBlock
	ExecutionSteps []*ExecutionStep
}

// StepByLocalID finds a step by its local (within-template) ID.
func (t *Template) StepByLocalID(localID string) *ExecutionStep {
	for _, s := range t.ExecutionSteps {
		if s.LocalID == localID {
			return s
		}
	}
	return nil
}
