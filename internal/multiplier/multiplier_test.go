package multiplier

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/recinq/clowder/internal/store"
	"github.com/stretchr/testify/require"
)

func TestParseItems_JSONArray(t *testing.T) {
	items := ParseItems(`["a", "b", "c"]`, "json_array")
	require.Equal(t, []string{"a", "b", "c"}, items)
}

func TestParseItems_JSONArray_FallsBackToSingleItemOnParseFailure(t *testing.T) {
	items := ParseItems("not json at all", "json_array")
	require.Equal(t, []string{"not json at all"}, items)
}

func TestParseItems_LineDelimited(t *testing.T) {
	items := ParseItems("first\nsecond\n\nthird\n", "line_delimited")
	require.Equal(t, []string{"first", "second", "third"}, items)
}

func TestParseItems_CommaSeparated(t *testing.T) {
	items := ParseItems("x, y ,z", "comma_separated")
	require.Equal(t, []string{"x", "y", "z"}, items)
}

func TestParseItems_Empty(t *testing.T) {
	require.Nil(t, ParseItems("", "json_array"))
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckAndSpawn_SpawnsOneChildPerItem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	multiplierCfg := `{"source_template_job_id": "tj-parent", "source_type": "artifact", "artifact_name": "final_output.txt", "parse_strategy": "json_array"}`

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertTemplate(ctx, store.Template{ID: "tmpl-1", Name: "fanout"}); err != nil {
			return err
		}
		if err := tx.InsertTemplateStage(ctx, store.TemplateStage{ID: "stage-1", TemplateID: "tmpl-1", Name: "plan", StageOrder: 0}); err != nil {
			return err
		}
		if err := tx.InsertTemplateStage(ctx, store.TemplateStage{ID: "stage-2", TemplateID: "tmpl-1", Name: "work", StageOrder: 1}); err != nil {
			return err
		}
		if err := tx.InsertTemplateJob(ctx, store.TemplateJob{ID: "tj-parent", TemplateStageID: "stage-1", AgentType: "planner", PromptTemplate: "plan"}); err != nil {
			return err
		}
		return tx.InsertTemplateJob(ctx, store.TemplateJob{ID: "tj-child", TemplateStageID: "stage-2", AgentType: "worker", PromptTemplate: "{{item}}", JobMultiplier: &multiplierCfg})
	})
	require.NoError(t, err)

	templateID := "tmpl-1"
	pipelineID := "p1"
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertPipeline(ctx, store.Pipeline{ID: pipelineID, TemplateID: &templateID, OriginalPrompt: "ship the feature", Status: store.PipelineStatusRunning}); err != nil {
			return err
		}
		if err := tx.InsertStage(ctx, store.Stage{ID: "stage-1-inst", PipelineID: pipelineID, Name: "plan", StageOrder: 0, Status: "pending"}); err != nil {
			return err
		}
		return tx.InsertStage(ctx, store.Stage{ID: "stage-2-inst", PipelineID: pipelineID, Name: "work", StageOrder: 1, Status: "pending"})
	})
	require.NoError(t, err)

	tjParent := "tj-parent"
	parentJobID := "parent-job"
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertJob(ctx, store.Job{
			ID: parentJobID, PipelineID: pipelineID, StageID: "stage-1-inst", AgentType: "planner",
			Prompt: "plan", OriginalPrompt: "plan", Status: store.JobStatusCompleted,
			TemplateJobID: &tjParent, MaxRetries: 3,
		})
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateArtifact(ctx, store.Artifact{
		JobID: parentJobID, Type: "model_output", Name: "final_output.txt",
		Content: strPtr(`["task one", "task two", "task three"]`),
	}))

	n, err := CheckAndSpawn(ctx, s, parentJobID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	jobs, err := s.JobsByPipeline(ctx, pipelineID)
	require.NoError(t, err)
	// parent + 3 spawned children
	require.Len(t, jobs, 4)

	// Spawning again must be a no-op (idempotent on parent+template job).
	n, err = CheckAndSpawn(ctx, s, parentJobID)
	require.NoError(t, err)
	require.Zero(t, n)

	jobs, err = s.JobsByPipeline(ctx, pipelineID)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
}

// TestCheckAndSpawn_SourceTypeAction exercises the source_type=action item
// source. In original_source, action_history rows are appended by the agent
// subprocess itself (agents/harness.py), not the orchestrator — this test
// stands in for that subprocess by calling Store.AppendAction directly
// against the shared database, the same contract a real harness would use.
func TestCheckAndSpawn_SourceTypeAction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	multiplierCfg := `{"source_template_job_id": "tj-parent", "source_type": "action", "parse_strategy": "json_array"}`

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertTemplate(ctx, store.Template{ID: "tmpl-2", Name: "fanout-action"}); err != nil {
			return err
		}
		if err := tx.InsertTemplateStage(ctx, store.TemplateStage{ID: "stage-1", TemplateID: "tmpl-2", Name: "plan", StageOrder: 0}); err != nil {
			return err
		}
		if err := tx.InsertTemplateStage(ctx, store.TemplateStage{ID: "stage-2", TemplateID: "tmpl-2", Name: "work", StageOrder: 1}); err != nil {
			return err
		}
		if err := tx.InsertTemplateJob(ctx, store.TemplateJob{ID: "tj-parent", TemplateStageID: "stage-1", AgentType: "planner", PromptTemplate: "plan"}); err != nil {
			return err
		}
		return tx.InsertTemplateJob(ctx, store.TemplateJob{ID: "tj-child", TemplateStageID: "stage-2", AgentType: "worker", PromptTemplate: "{{item}}", JobMultiplier: &multiplierCfg})
	})
	require.NoError(t, err)

	templateID := "tmpl-2"
	pipelineID := "p2"
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertPipeline(ctx, store.Pipeline{ID: pipelineID, TemplateID: &templateID, OriginalPrompt: "ship the feature", Status: store.PipelineStatusRunning}); err != nil {
			return err
		}
		if err := tx.InsertStage(ctx, store.Stage{ID: "stage-1-inst", PipelineID: pipelineID, Name: "plan", StageOrder: 0, Status: "pending"}); err != nil {
			return err
		}
		return tx.InsertStage(ctx, store.Stage{ID: "stage-2-inst", PipelineID: pipelineID, Name: "work", StageOrder: 1, Status: "pending"})
	})
	require.NoError(t, err)

	tjParent := "tj-parent"
	parentJobID := "parent-job-2"
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertJob(ctx, store.Job{
			ID: parentJobID, PipelineID: pipelineID, StageID: "stage-1-inst", AgentType: "planner",
			Prompt: "plan", OriginalPrompt: "plan", Status: store.JobStatusCompleted,
			TemplateJobID: &tjParent, MaxRetries: 3,
		})
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendAction(ctx, store.ActionHistory{
		JobID:       parentJobID,
		Iteration:   1,
		LLMResponse: `{"actions": [{"tool": "finish", "args": {"tasks": ["task one", "task two"]}}]}`,
		Results:     `[]`,
	}))

	n, err := CheckAndSpawn(ctx, s, parentJobID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	jobs, err := s.JobsByPipeline(ctx, pipelineID)
	require.NoError(t, err)
	// parent + 2 spawned children
	require.Len(t, jobs, 3)
}

func strPtr(s string) *string { return &s }
