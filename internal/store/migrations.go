package store

// Migration is one versioned, idempotent schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// AllMigrations returns every migration in chronological order.
func AllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create template tables",
			Up: `
CREATE TABLE IF NOT EXISTS pipeline_templates (
    template_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS template_stages (
    template_stage_id TEXT PRIMARY KEY,
    template_id TEXT NOT NULL REFERENCES pipeline_templates(template_id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    stage_order INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_stages_template ON template_stages(template_id);

CREATE TABLE IF NOT EXISTS template_jobs (
    template_job_id TEXT PRIMARY KEY,
    template_stage_id TEXT NOT NULL REFERENCES template_stages(template_stage_id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL,
    prompt_template TEXT NOT NULL,
    command_template TEXT,
    max_iterations INTEGER NOT NULL DEFAULT 10,
    timeout_seconds INTEGER NOT NULL DEFAULT 300,
    artifact_strategy TEXT,
    retry_strategy TEXT,
    job_multiplier TEXT
);
CREATE INDEX IF NOT EXISTS idx_template_jobs_stage ON template_jobs(template_stage_id);

CREATE TABLE IF NOT EXISTS template_job_dependencies (
    template_job_id TEXT NOT NULL REFERENCES template_jobs(template_job_id) ON DELETE CASCADE,
    depends_on_template_job_id TEXT NOT NULL REFERENCES template_jobs(template_job_id) ON DELETE CASCADE,
    dependency_type TEXT NOT NULL CHECK (dependency_type IN ('success','failure','always')),
    PRIMARY KEY (template_job_id, depends_on_template_job_id)
);
`,
			Down: `
DROP TABLE IF EXISTS template_job_dependencies;
DROP TABLE IF EXISTS template_jobs;
DROP TABLE IF EXISTS template_stages;
DROP TABLE IF EXISTS pipeline_templates;
`,
		},
		{
			Version:     2,
			Description: "Create pipeline instance tables",
			Up: `
CREATE TABLE IF NOT EXISTS pipelines (
    pipeline_id TEXT PRIMARY KEY,
    template_id TEXT REFERENCES pipeline_templates(template_id) ON DELETE SET NULL,
    original_prompt TEXT NOT NULL,
    workspace_path TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed','cancelled')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);
CREATE INDEX IF NOT EXISTS idx_pipelines_created ON pipelines(created_at);

CREATE TABLE IF NOT EXISTS stages (
    stage_id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL REFERENCES pipelines(pipeline_id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    stage_order INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stages_pipeline ON stages(pipeline_id);

CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL REFERENCES pipelines(pipeline_id) ON DELETE CASCADE,
    stage_id TEXT NOT NULL REFERENCES stages(stage_id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL,
    prompt TEXT NOT NULL,
    original_prompt TEXT NOT NULL,
    command TEXT,
    max_iterations INTEGER NOT NULL DEFAULT 10,
    timeout_seconds INTEGER NOT NULL DEFAULT 300,
    allowed_paths TEXT NOT NULL DEFAULT '[]',
    artifact_strategy TEXT,
    retry_strategy TEXT,
    template_job_id TEXT,
    parent_job_id TEXT REFERENCES jobs(job_id) ON DELETE SET NULL,
    status TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed','skipped')),
    iteration INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    termination_reason TEXT,
    job_output TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_pipeline ON jobs(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_parent_template ON jobs(parent_job_id, template_job_id);

CREATE TABLE IF NOT EXISTS job_dependencies (
    job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
    depends_on_job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
    dependency_type TEXT NOT NULL CHECK (dependency_type IN ('success','failure','always')),
    PRIMARY KEY (job_id, depends_on_job_id)
);
CREATE INDEX IF NOT EXISTS idx_job_deps_depends_on ON job_dependencies(depends_on_job_id);
`,
			Down: `
DROP TABLE IF EXISTS job_dependencies;
DROP TABLE IF EXISTS jobs;
DROP TABLE IF EXISTS stages;
DROP TABLE IF EXISTS pipelines;
`,
		},
		{
			Version:     3,
			Description: "Create artifact and action history tables",
			Up: `
CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    file_path TEXT,
    content TEXT,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_name ON artifacts(job_id, name);

CREATE TABLE IF NOT EXISTS action_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    llm_response TEXT NOT NULL DEFAULT '{}',
    results TEXT NOT NULL DEFAULT '[]',
    raw_stdout TEXT NOT NULL DEFAULT '',
    raw_stderr TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_actions_job_iteration ON action_history(job_id, iteration DESC);
`,
			Down: `
DROP TABLE IF EXISTS action_history;
DROP TABLE IF EXISTS artifacts;
`,
		},
	}
}
