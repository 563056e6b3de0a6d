package store

import "time"

// Status values for Pipelines and Jobs. Stored as plain TEXT columns so the
// schema stays readable in a sqlite browser, matching the teacher's own
// convention of CHECK-constrained string status columns.
const (
	PipelineStatusPending   = "pending"
	PipelineStatusRunning   = "running"
	PipelineStatusCompleted = "completed"
	PipelineStatusFailed    = "failed"
	PipelineStatusCancelled = "cancelled"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusSkipped   = "skipped"
)

// Dependency edge types.
const (
	EdgeSuccess = "success"
	EdgeFailure = "failure"
	EdgeAlways  = "always"
)

// Termination reasons with a fixed shape; the parameterized ones are built
// with fmt.Sprintf at the call site.
const (
	ReasonSuccess            = "success"
	ReasonDependencyFailed   = "dependency_failed"
	ReasonPipelineDeadlocked = "pipeline_deadlocked"
)

// Template is an immutable declarative pipeline recipe.
type Template struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// TemplateStage is an ordered grouping of Template Jobs within a Template.
type TemplateStage struct {
	ID         string
	TemplateID string
	Name       string
	StageOrder int
}

// TemplateJob carries the recipe for one node in the template DAG.
type TemplateJob struct {
	ID              string
	TemplateStageID string
	AgentType       string
	PromptTemplate  string
	CommandTemplate *string
	MaxIterations   int
	TimeoutSeconds  int
	ArtifactStrategy *string // JSON
	RetryStrategy    *string // JSON
	JobMultiplier    *string // JSON
}

// TemplateJobDependency is an edge in the template DAG.
type TemplateJobDependency struct {
	TemplateJobID          string
	DependsOnTemplateJobID string
	DependencyType         string
}

// TemplateDetail is a template with its stages, jobs and dependencies loaded.
type TemplateDetail struct {
	Template     Template
	Stages       []TemplateStage
	Jobs         map[string][]TemplateJob // template_stage_id -> jobs
	Dependencies []TemplateJobDependency
}

// Pipeline is a running or completed instance of a Template.
type Pipeline struct {
	ID             string
	TemplateID     *string
	OriginalPrompt string
	WorkspacePath  string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Stage is materialized from a TemplateStage.
type Stage struct {
	ID         string
	PipelineID string
	Name       string
	StageOrder int
	Status     string
}

// Job is materialized from a TemplateJob, or spawned by the Multiplier.
type Job struct {
	ID               string
	PipelineID       string
	StageID          string
	AgentType        string
	Prompt           string
	OriginalPrompt   string
	Command          *string
	MaxIterations    int
	TimeoutSeconds   int
	AllowedPaths     []string
	ArtifactStrategy *string // JSON
	RetryStrategy    *string // JSON
	TemplateJobID    *string
	ParentJobID      *string
	Status           string
	Iteration        int
	RetryCount       int
	MaxRetries       int
	TerminationReason *string
	JobOutput        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// JobDependency is an edge between two Jobs in the same Pipeline.
type JobDependency struct {
	JobID          string
	DependsOnJobID string
	DependencyType string
}

// Artifact is a persisted output of a completed Job.
type Artifact struct {
	ID          int64
	JobID       string
	Type        string
	Name        string
	Description string
	FilePath    *string
	Content     *string
	SizeBytes   int64
	Metadata    *string // JSON
	CreatedAt   time.Time
}

// ActionHistory is one iteration-level record from an agent subprocess that
// keeps its own internal iteration state (optional; spec.md §3).
type ActionHistory struct {
	ID         int64
	JobID      string
	Iteration  int
	Timestamp  time.Time
	LLMResponse string // JSON
	Results     string // JSON
	RawStdout   string
	RawStderr   string
}
