// Package multiplier implements the dynamic job-multiplier (spec.md §4.4):
// parsing a completed parent job's output into N items and spawning N
// templated child jobs. Grounded on job_multiplier.py's
// parse_artifact_content / spawn_multiplied_jobs / check_and_spawn pair.
package multiplier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/recinq/clowder/internal/clowdererr"
	"github.com/recinq/clowder/internal/instantiate"
	"github.com/recinq/clowder/internal/store"
)

// multiplierConfig is the job_multiplier JSON blob on a Template Job.
type multiplierConfig struct {
	SourceTemplateJobID string `json:"source_template_job_id"`
	SourceType          string `json:"source_type"` // "artifact" (default) or "action"
	ArtifactName        string `json:"artifact_name"`
	ParseStrategy       string `json:"parse_strategy"` // json_array (default) | line_delimited | comma_separated
	PromptTemplate      string `json:"prompt_template"`
}

// ParseItems splits content into items per parse_strategy. json_array falls
// back to wrapping the whole content as a single item on parse failure,
// exactly as job_multiplier.py's parse_artifact_content.
func ParseItems(content, parseStrategy string) []string {
	if content == "" {
		return nil
	}
	switch parseStrategy {
	case "json_array":
		var items []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &items); err != nil {
			return []string{content}
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, fmt.Sprintf("%v", it))
		}
		return out
	case "line_delimited":
		var out []string
		for _, line := range strings.Split(content, "\n") {
			if t := strings.TrimSpace(line); t != "" {
				out = append(out, t)
			}
		}
		return out
	case "comma_separated":
		var out []string
		for _, part := range strings.Split(content, ",") {
			if t := strings.TrimSpace(part); t != "" {
				out = append(out, t)
			}
		}
		return out
	default:
		return []string{content}
	}
}

// CheckAndSpawn inspects every Template Job in the completed job's template
// that declares a job_multiplier pointing at the completed job's template
// source, and spawns child jobs for each that hasn't already fired for this
// concrete parent. Returns the number of jobs spawned.
func CheckAndSpawn(ctx context.Context, s store.Store, completedJobID string) (int, error) {
	job, err := s.GetJob(ctx, completedJobID)
	if err != nil {
		return 0, fmt.Errorf("load completed job: %w", err)
	}
	if job == nil || job.TemplateJobID == nil {
		return 0, nil
	}

	pipeline, err := s.GetPipeline(ctx, job.PipelineID)
	if err != nil {
		return 0, fmt.Errorf("load pipeline: %w", err)
	}
	if pipeline == nil || pipeline.TemplateID == nil {
		return 0, nil
	}

	tmpl, err := s.LoadTemplate(ctx, *pipeline.TemplateID)
	if err != nil {
		return 0, fmt.Errorf("load template: %w", err)
	}
	if tmpl == nil {
		return 0, nil
	}

	total := 0
	for _, stage := range tmpl.Stages {
		for _, tj := range tmpl.Jobs[stage.ID] {
			if tj.JobMultiplier == nil {
				continue
			}
			var cfg multiplierConfig
			if err := json.Unmarshal([]byte(*tj.JobMultiplier), &cfg); err != nil {
				continue
			}
			if cfg.SourceTemplateJobID != *job.TemplateJobID {
				continue
			}

			already, err := s.CountSpawnedChildren(ctx, completedJobID, tj.ID)
			if err != nil {
				return total, fmt.Errorf("count spawned children: %w", err)
			}
			if already > 0 {
				continue
			}

			n, err := spawn(ctx, s, *job, *pipeline, stage.StageOrder, tj, cfg)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

func spawn(ctx context.Context, s store.Store, parent store.Job, pipeline store.Pipeline, stageOrder int, tj store.TemplateJob, cfg multiplierConfig) (int, error) {
	content, err := loadItemsContent(ctx, s, parent, cfg)
	if err != nil {
		return 0, err
	}

	parseStrategy := cfg.ParseStrategy
	if parseStrategy == "" {
		parseStrategy = "json_array"
	}
	items := ParseItems(content, parseStrategy)
	if len(items) == 0 {
		if content != "" {
			log.Printf("[multiplier] job %s: %v", parent.ID, &clowdererr.ParseFailed{Reason: "no items parsed from " + parseStrategy + " content"})
		}
		return 0, nil
	}

	promptTemplate := cfg.PromptTemplate
	if promptTemplate == "" {
		promptTemplate = "{{item}}"
	}

	spawned := 0
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		stage, err := tx.GetStageByOrder(ctx, pipeline.ID, stageOrder)
		if err != nil {
			return fmt.Errorf("resolve stage for order %d: %w", stageOrder, err)
		}
		if stage == nil {
			return fmt.Errorf("no materialized stage at order %d in pipeline %s", stageOrder, pipeline.ID)
		}

		for i, item := range items {
			prompt := strings.ReplaceAll(promptTemplate, "{{item}}", item)
			prompt = instantiate.Substitute(prompt, pipeline.OriginalPrompt)
			prompt = strings.ReplaceAll(prompt, "{{index}}", strconv.Itoa(i))

			jobID := store.NewID("job")
			var command *string
			if tj.CommandTemplate != nil {
				c := instantiate.SubstituteCommand(*tj.CommandTemplate, jobID, prompt, tj.AgentType)
				command = &c
			}

			tjID := tj.ID
			parentID := parent.ID
			if err := tx.InsertJob(ctx, store.Job{
				ID:               jobID,
				PipelineID:       parent.PipelineID,
				StageID:          stage.ID,
				AgentType:        tj.AgentType,
				Prompt:           prompt,
				OriginalPrompt:   prompt,
				Command:          command,
				MaxIterations:    tj.MaxIterations,
				TimeoutSeconds:   tj.TimeoutSeconds,
				AllowedPaths:     parent.AllowedPaths,
				ArtifactStrategy: tj.ArtifactStrategy,
				RetryStrategy:    tj.RetryStrategy,
				TemplateJobID:    &tjID,
				ParentJobID:      &parentID,
				Status:           store.JobStatusPending,
				MaxRetries:       3,
			}); err != nil {
				return err
			}
			if err := tx.InsertJobDependency(ctx, store.JobDependency{
				JobID:          jobID,
				DependsOnJobID: parent.ID,
				DependencyType: store.EdgeSuccess,
			}); err != nil {
				return err
			}
			spawned++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("spawn multiplied jobs: %w", err)
	}
	return spawned, nil
}

// loadItemsContent resolves the "items" source: either the parent's last
// recorded finish-action args (source_type=action), or a named artifact's
// inline content (source_type=artifact, default name final_output.txt).
func loadItemsContent(ctx context.Context, s store.Store, parent store.Job, cfg multiplierConfig) (string, error) {
	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = "artifact"
	}

	if sourceType == "action" {
		action, err := s.LastAction(ctx, parent.ID)
		if err != nil {
			return "", fmt.Errorf("last action for %s: %w", parent.ID, err)
		}
		if action == nil {
			return "", nil
		}
		var response struct {
			Actions []struct {
				Tool string          `json:"tool"`
				Args json.RawMessage `json:"args"`
			} `json:"actions"`
		}
		if err := json.Unmarshal([]byte(action.LLMResponse), &response); err != nil {
			return "", nil
		}
		for _, a := range response.Actions {
			if a.Tool != "finish" {
				continue
			}
			var args struct {
				Tasks json.RawMessage `json:"tasks"`
			}
			if err := json.Unmarshal(a.Args, &args); err != nil {
				return "", nil
			}
			return string(args.Tasks), nil
		}
		return "", nil
	}

	artifactName := cfg.ArtifactName
	if artifactName == "" {
		artifactName = "final_output.txt"
	}
	art, err := s.ArtifactByName(ctx, parent.ID, artifactName)
	if err != nil {
		return "", fmt.Errorf("artifact %s for %s: %w", artifactName, parent.ID, err)
	}
	if art == nil || art.Content == nil {
		return "", nil
	}
	return *art.Content, nil
}
