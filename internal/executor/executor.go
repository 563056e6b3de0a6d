// Package executor runs a single Job attempt: spawns a shell subprocess,
// streams merged stdout+stderr, applies retry-with-context, and writes the
// final status (spec.md §4.5). Subprocess spawning is grounded on
// adapter.ClaudeAdapter.Run's process-group-kill-on-timeout idiom, trimmed
// down from NDJSON event streaming to the flatter merged-stream contract
// spec.md requires.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/recinq/clowder/internal/artifact"
	"github.com/recinq/clowder/internal/audit"
	"github.com/recinq/clowder/internal/clowdererr"
	"github.com/recinq/clowder/internal/multiplier"
	"github.com/recinq/clowder/internal/propagate"
	"github.com/recinq/clowder/internal/store"
)

var (
	traceLogger     audit.AuditLogger
	traceLoggerOnce sync.Once
)

// trace lazily opens the shared trace logger. A failure to open it (e.g. an
// unwritable working directory) is logged once and execution proceeds
// without a trace rather than failing the job.
func trace() audit.AuditLogger {
	traceLoggerOnce.Do(func() {
		l, err := audit.NewTraceLogger()
		if err != nil {
			log.Printf("[executor] trace logger unavailable: %v", err)
			return
		}
		traceLogger = l
	})
	return traceLogger
}

const defaultContextInstruction = "Continue from the previous attempt.\n"

// retryStrategy is the optional retry_strategy JSON blob on a Job.
type retryStrategy struct {
	IncludeContext    bool   `json:"include_context"`
	ContextInstruction string `json:"context_instruction"`
}

// Run executes exactly one attempt of jobID. On non-terminal failure the
// Job is left re-queued as pending; on terminal outcome (success, or
// retries exhausted) it writes the final status and invokes the Artifact
// Collector, the Multiplier, and — on failure — the Failure Propagator.
func Run(ctx context.Context, s store.Store, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s vanished before execution", jobID)
	}

	before := artifact.Snapshot(workspaceRoot(*job))

	applyRetryContext(job)

	job.Status = store.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	if err := s.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}

	exitCode, output, runErr := spawn(ctx, *job)
	job.JobOutput = output

	if runErr != nil {
		reason := "unexpected_error: " + runErr.Error()
		return finishInternalError(ctx, s, job, reason)
	}

	if exitCode == 0 {
		reason := store.ReasonSuccess
		job.Status = store.JobStatusCompleted
		job.TerminationReason = &reason
		completedAt := time.Now()
		job.CompletedAt = &completedAt
		if err := s.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("mark job %s completed: %w", jobID, err)
		}
		return onTerminal(ctx, s, job, before)
	}

	if job.RetryCount < job.MaxRetries {
		attemptErr := &clowdererr.AttemptFailed{ExitCode: exitCode}
		log.Printf("[executor] job %s: %v (retry %d/%d)", jobID, attemptErr, job.RetryCount+1, job.MaxRetries)
		job.RetryCount++
		job.Status = store.JobStatusPending
		if err := s.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("requeue job %s: %w", jobID, err)
		}
		return nil
	}

	execErr := &clowdererr.ExecutionFailed{ExitCode: exitCode, Attempts: job.RetryCount + 1}
	log.Printf("[executor] job %s: %v", jobID, execErr)
	reason := fmt.Sprintf("exit_code_%d_after_%d_attempts", exitCode, job.RetryCount+1)
	job.Status = store.JobStatusFailed
	job.TerminationReason = &reason
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err := s.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	return onTerminal(ctx, s, job, before)
}

// applyRetryContext computes the effective prompt for a retry attempt: if
// retry_strategy.include_context is set and a previous attempt's output is
// present, prepend the context instruction, the previous output, and the
// original prompt, then persist it as the current prompt (spec.md §4.5
// step 1 and the retry-with-context seed scenario).
func applyRetryContext(job *store.Job) {
	if job.RetryCount == 0 || job.JobOutput == "" || job.RetryStrategy == nil {
		return
	}
	var cfg retryStrategy
	if err := parseJSON(*job.RetryStrategy, &cfg); err != nil || !cfg.IncludeContext {
		return
	}
	instruction := cfg.ContextInstruction
	if instruction == "" {
		instruction = defaultContextInstruction
	}
	job.Prompt = instruction +
		"=== PREVIOUS ATTEMPT OUTPUT ===\n" + job.JobOutput +
		"\n\n=== ORIGINAL TASK ===\n" + job.OriginalPrompt
}

func finishInternalError(ctx context.Context, s store.Store, job *store.Job, reason string) error {
	job.Status = store.JobStatusFailed
	job.TerminationReason = &reason
	now := time.Now()
	job.CompletedAt = &now
	if err := s.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job %s failed after internal error: %w", job.ID, err)
	}
	return onTerminal(ctx, s, job, artifact.WorkspaceSnapshot{})
}

func onTerminal(ctx context.Context, s store.Store, job *store.Job, before artifact.WorkspaceSnapshot) error {
	collector := artifact.Resolve(job.ArtifactStrategy)
	if _, err := collector.Collect(ctx, s, *job, before); err != nil {
		log.Printf("[executor] job %s: artifact collection failed: %v", job.ID, err)
	}

	if job.Status == store.JobStatusCompleted {
		if _, err := multiplier.CheckAndSpawn(ctx, s, job.ID); err != nil {
			log.Printf("[executor] job %s: multiplier failed: %v", job.ID, err)
		}
	}

	if job.Status == store.JobStatusFailed {
		if err := propagate.PropagateFailure(ctx, s, job.ID); err != nil {
			log.Printf("[executor] job %s: failure propagation failed: %v", job.ID, err)
		}
	}

	return nil
}

func workspaceRoot(job store.Job) string {
	if len(job.AllowedPaths) > 0 {
		return job.AllowedPaths[0]
	}
	return "."
}

const defaultHarnessCommand = "echo 'no command configured for job %s'; exit 1"

// spawn runs one subprocess attempt for job and returns its exit code and
// the full merged stdout+stderr log.
func spawn(ctx context.Context, job store.Job) (int, string, error) {
	command := defaultHarnessCommandFor(job)

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if l := trace(); l != nil {
		if err := l.LogCommand(job.PipelineID, job.ID, command); err != nil {
			log.Printf("[executor] job %s: trace write failed: %v", job.ID, err)
		}
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // merged stream, per spec.md's subprocess contract (§6)

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("start subprocess: %w", err)
	}

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			log.Printf("[executor] job %s: %s", shortID(job.ID), line)
		}
		done <- scanner.Err()
	}()

	select {
	case <-runCtx.Done():
		if cmd.Process != nil {
			killProcessGroup(cmd.Process.Pid)
		}
		<-done
		cmd.Wait()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return 1, buf.String(), nil // timeout is a retryable attempt failure
		}
		return 0, buf.String(), runCtx.Err()
	case err := <-done:
		if err != nil {
			return 0, buf.String(), fmt.Errorf("read subprocess output: %w", err)
		}
	}

	cmdErr := cmd.Wait()
	if cmdErr == nil {
		return 0, buf.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(cmdErr, &exitErr) {
		return exitErr.ExitCode(), buf.String(), nil
	}
	return 0, buf.String(), fmt.Errorf("wait subprocess: %w", cmdErr)
}

func defaultHarnessCommandFor(job store.Job) string {
	if job.Command != nil && *job.Command != "" {
		return *job.Command
	}
	return fmt.Sprintf(defaultHarnessCommand, job.ID)
}

func killProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	go func() {
		time.Sleep(3 * time.Second)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}()
}

func parseJSON(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
