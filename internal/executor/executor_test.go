package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/recinq/clowder/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s store.Store, command string, maxRetries int) string {
	t.Helper()
	ctx := context.Background()
	cmd := command
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertPipeline(ctx, store.Pipeline{ID: "p1", OriginalPrompt: "x", Status: store.PipelineStatusRunning}); err != nil {
			return err
		}
		if err := tx.InsertStage(ctx, store.Stage{ID: "s1", PipelineID: "p1", Name: "only", StageOrder: 0, Status: "pending"}); err != nil {
			return err
		}
		return tx.InsertJob(ctx, store.Job{
			ID: "j1", PipelineID: "p1", StageID: "s1", AgentType: "worker",
			Prompt: "do it", OriginalPrompt: "do it", Command: &cmd,
			Status: store.JobStatusPending, MaxRetries: maxRetries,
		})
	})
	require.NoError(t, err)
	return "j1"
}

func TestRun_SuccessMarksJobCompletedAndCollectsArtifact(t *testing.T) {
	s := openTestStore(t)
	jobID := seedJob(t, s, "echo hello", 3)

	require.NoError(t, Run(context.Background(), s, jobID))

	j, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusCompleted, j.Status)
	require.Equal(t, store.ReasonSuccess, *j.TerminationReason)
	require.Contains(t, j.JobOutput, "hello")

	art, err := s.ArtifactByName(context.Background(), jobID, "final_output.txt")
	require.NoError(t, err)
	require.NotNil(t, art)
}

func TestRun_FailureRequeuesUntilRetriesExhausted(t *testing.T) {
	s := openTestStore(t)
	jobID := seedJob(t, s, "exit 1", 2)

	require.NoError(t, Run(context.Background(), s, jobID))
	j, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusPending, j.Status, "first failure should requeue, not fail the job")
	require.Equal(t, 1, j.RetryCount)

	require.NoError(t, Run(context.Background(), s, jobID))
	j, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusPending, j.Status)
	require.Equal(t, 2, j.RetryCount)

	require.NoError(t, Run(context.Background(), s, jobID))
	j, err = s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusFailed, j.Status, "retries exhausted, job must now be terminal-failed")
	require.Contains(t, *j.TerminationReason, "exit_code_1")
}

func TestRun_FailurePropagatesToDependents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	jobID := seedJob(t, s, "exit 1", 0)

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertJob(ctx, store.Job{ID: "j2", PipelineID: "p1", StageID: "s1", AgentType: "downstream", Prompt: "p", OriginalPrompt: "p", Status: store.JobStatusPending, MaxRetries: 3}); err != nil {
			return err
		}
		return tx.InsertJobDependency(ctx, store.JobDependency{JobID: "j2", DependsOnJobID: jobID, DependencyType: store.EdgeSuccess})
	})
	require.NoError(t, err)

	require.NoError(t, Run(ctx, s, jobID))

	j2, err := s.GetJob(ctx, "j2")
	require.NoError(t, err)
	require.Equal(t, store.JobStatusSkipped, j2.Status)
	require.Equal(t, store.ReasonDependencyFailed, *j2.TerminationReason)
}

func TestApplyRetryContext_PrependsInstructionAndPreviousOutput(t *testing.T) {
	strategy := `{"include_context": true, "context_instruction": "Try again.\n"}`
	job := &store.Job{
		OriginalPrompt: "write the report",
		Prompt:         "write the report",
		JobOutput:      "it crashed",
		RetryCount:     1,
		RetryStrategy:  &strategy,
	}
	applyRetryContext(job)

	require.Contains(t, job.Prompt, "Try again.")
	require.Contains(t, job.Prompt, "=== PREVIOUS ATTEMPT OUTPUT ===\nit crashed")
	require.Contains(t, job.Prompt, "=== ORIGINAL TASK ===\nwrite the report")
}

func TestApplyRetryContext_NoOpWithoutPriorOutput(t *testing.T) {
	job := &store.Job{OriginalPrompt: "x", Prompt: "x", RetryCount: 0}
	applyRetryContext(job)
	require.Equal(t, "x", job.Prompt)
}

func TestShortID(t *testing.T) {
	require.Equal(t, "short", shortID("short"))
	require.Equal(t, "123456789012", shortID("123456789012345"))
}
