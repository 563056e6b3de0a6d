// Package httpapi is the thin HTTP surface (C8, spec.md §4.8/§6): list,
// instantiate, stop, and inspect operations over the Store and
// Instantiator. Handlers embed no scheduling logic. Grounded on the
// teacher's stdlib net/http.ServeMux method+pattern routing
// (internal/webui/routes.go) rather than a router library.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/recinq/clowder/internal/clowdererr"
	"github.com/recinq/clowder/internal/instantiate"
	"github.com/recinq/clowder/internal/store"
)

// Server is the HTTP surface over a Store.
type Server struct {
	store      store.Store
	httpServer *http.Server
	token      string
	bind       string
}

// Config configures the HTTP surface.
type Config struct {
	Bind  string
	Port  int
	Token string // empty disables the bearer-token gate (Non-goal default)
}

// New builds a Server bound to the given Store, wired with the default
// HTTP port (8000 in the reference, spec.md §6) unless overridden.
func New(s store.Store, cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	srv := &Server{store: s, token: cfg.Token, bind: cfg.Bind}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:         cfg.Bind + ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.applyMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /pipelines/templates", s.handleListTemplates)
	mux.HandleFunc("GET /pipelines/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("POST /pipelines/{template_id}/start", s.handleStart)
	mux.HandleFunc("POST /pipelines/{pipeline_id}/stop", s.handleStop)
	mux.HandleFunc("GET /pipelines/running", s.handleRunning)
	mux.HandleFunc("GET /pipelines/recent", s.handleRecent)
	mux.HandleFunc("GET /pipelines/{id}", s.handleGetPipeline)
}

// ListenAndServe blocks serving HTTP until the process is signaled to stop.
func (s *Server) ListenAndServe() error {
	log.Printf("[httpapi] listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clowdererr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, clowdererr.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("[httpapi] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// truncateName applies spec.md §6's "names in list endpoints are truncated
// at 50 characters (display)" rule.
func truncateName(s string) string {
	r := []rune(s)
	if len(r) <= 50 {
		return s
	}
	return string(r[:50])
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"pong": true})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListTemplateIDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

type templateJobView struct {
	ID             string           `json:"id"`
	AgentType      string           `json:"agent_type"`
	PromptTemplate string           `json:"prompt_template"`
	Dependencies   []dependencyView `json:"dependencies"`
}

type dependencyView struct {
	DependsOn string `json:"depends_on"`
	Type      string `json:"type"`
}

type templateStageView struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Jobs []templateJobView `json:"jobs"`
}

type templateView struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Stages      []templateStageView `json:"stages"`
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := s.store.LoadTemplate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if detail == nil {
		writeError(w, clowdererr.ErrNotFound)
		return
	}

	depsByJob := map[string][]dependencyView{}
	for _, d := range detail.Dependencies {
		depsByJob[d.TemplateJobID] = append(depsByJob[d.TemplateJobID], dependencyView{
			DependsOn: d.DependsOnTemplateJobID,
			Type:      d.DependencyType,
		})
	}

	view := templateView{ID: detail.Template.ID, Name: detail.Template.Name, Description: detail.Template.Description}
	for _, st := range detail.Stages {
		sv := templateStageView{ID: st.ID, Name: st.Name}
		for _, tj := range detail.Jobs[st.ID] {
			sv.Jobs = append(sv.Jobs, templateJobView{
				ID:             tj.ID,
				AgentType:      tj.AgentType,
				PromptTemplate: tj.PromptTemplate,
				Dependencies:   depsByJob[tj.ID],
			})
		}
		view.Stages = append(view.Stages, sv)
	}

	writeJSON(w, http.StatusOK, view)
}

type startRequest struct {
	Prompt        string `json:"prompt"`
	WorkspacePath string `json:"workspace_path"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	templateID := r.PathValue("template_id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(clowdererr.ErrInvalidRequest, err))
		return
	}

	pipelineID, err := instantiate.Instantiate(r.Context(), s.store, instantiate.Request{
		TemplateID:     templateID,
		OriginalPrompt: req.Prompt,
		WorkspacePath:  req.WorkspacePath,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"pipeline_id": pipelineID,
		"template_id": templateID,
		"name":        truncateName(req.Prompt),
		"prompt":      req.Prompt,
		"status":      store.PipelineStatusPending,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	pipelineID := r.PathValue("pipeline_id")
	p, err := s.store.GetPipeline(r.Context(), pipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	if p == nil {
		writeError(w, clowdererr.ErrNotFound)
		return
	}
	if err := s.store.SetPipelineStatus(r.Context(), pipelineID, store.PipelineStatusCancelled, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pipeline_id": pipelineID,
		"name":        truncateName(p.OriginalPrompt),
		"status":      store.PipelineStatusCancelled,
	})
}

type jobView struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Log     string `json:"log"`
	Retries int    `json:"retries"`
}

type stageView struct {
	Name string    `json:"name"`
	Jobs []jobView `json:"jobs"`
}

type pipelineListView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	Stages      []stageView `json:"stages"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (s *Server) buildPipelineListView(ctx context.Context, p store.Pipeline, includeCompletedAt bool) (pipelineListView, error) {
	stages, err := s.store.StagesByPipeline(ctx, p.ID)
	if err != nil {
		return pipelineListView{}, err
	}
	jobs, err := s.store.JobsByPipeline(ctx, p.ID)
	if err != nil {
		return pipelineListView{}, err
	}

	jobsByStage := map[string][]store.Job{}
	for _, j := range jobs {
		jobsByStage[j.StageID] = append(jobsByStage[j.StageID], j)
	}

	view := pipelineListView{
		ID:          p.ID,
		Name:        truncateName(p.OriginalPrompt),
		Description: p.OriginalPrompt,
		Status:      p.Status,
	}
	for _, st := range stages {
		sv := stageView{Name: st.Name}
		for _, j := range jobsByStage[st.ID] {
			sv.Jobs = append(sv.Jobs, jobView{
				Name:    j.AgentType,
				Status:  j.Status,
				Log:     j.JobOutput,
				Retries: j.RetryCount,
			})
		}
		view.Stages = append(view.Stages, sv)
	}
	if includeCompletedAt {
		view.CompletedAt = p.CompletedAt
	}
	return view, nil
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.store.RunningPipelines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]pipelineListView, 0, len(pipelines))
	for _, p := range pipelines {
		v, err := s.buildPipelineListView(r.Context(), p, false)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	pipelines, err := s.store.RecentPipelines(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]pipelineListView, 0, len(pipelines))
	for _, p := range pipelines {
		v, err := s.buildPipelineListView(r.Context(), p, true)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type pipelineDetailJobView struct {
	JobID      string  `json:"job_id"`
	StageName  string  `json:"stage_name"`
	StageOrder int     `json:"stage_order"`
	AgentType  string  `json:"agent_type"`
	Status     string  `json:"status"`
	Log        string  `json:"log"`
	RetryCount int     `json:"retry_count"`
	Reason     *string `json:"termination_reason,omitempty"`
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.GetPipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if p == nil {
		writeError(w, clowdererr.ErrNotFound)
		return
	}

	stages, err := s.store.StagesByPipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	stageByID := map[string]store.Stage{}
	for _, st := range stages {
		stageByID[st.ID] = st
	}

	jobs, err := s.store.JobsByPipeline(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]pipelineDetailJobView, 0, len(jobs))
	for _, j := range jobs {
		st := stageByID[j.StageID]
		views = append(views, pipelineDetailJobView{
			JobID:      j.ID,
			StageName:  st.Name,
			StageOrder: st.StageOrder,
			AgentType:  j.AgentType,
			Status:     j.Status,
			Log:        j.JobOutput,
			RetryCount: j.RetryCount,
			Reason:     j.TerminationReason,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline": p,
		"jobs":     views,
	})
}
