package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/depflow/api"
	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/graph"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/types"
	"go.uber.org/zap"
)

// GraphService is the engine surface the HTTP API needs. *graph.Engine
// implements it.
type GraphService interface {
	AddTask(ctx context.Context, id string, phase types.Phase) (types.Task, error)
	GetTask(ctx context.Context, id string) (types.Task, error)
	Tasks(ctx context.Context) []types.Task
	UpdatePhase(ctx context.Context, id string, phase types.Phase) (types.Task, error)
	RemoveTask(ctx context.Context, id string) error

	AddDependency(ctx context.Context, source, target string, depType types.DependencyType) (types.Edge, error)
	RemoveDependency(ctx context.Context, source, target string) error
	OverrideDependency(ctx context.Context, source, target, requestedBy, justification string, opts ...graph.OverrideOption) (graph.OverrideResult, error)
	ListOverrides(ctx context.Context) ([]types.OverrideRecord, error)

	GetDependencies(ctx context.Context, id string) ([]types.Task, error)
	GetDependents(ctx context.Context, id string) ([]types.Task, error)
	GetAncestors(ctx context.Context, id string) ([]types.Task, error)
	GetDescendants(ctx context.Context, id string) ([]types.Task, error)
	TopologicalOrder(ctx context.Context) ([]types.Task, error)
	Stats(ctx context.Context) graph.Stats

	SetPrimaryProject(ctx context.Context, id, project string) (types.Task, error)
	AddRelatedProject(ctx context.Context, id, project string) (types.Task, error)
	RemoveRelatedProject(ctx context.Context, id, project string) (types.Task, error)

	BreakerStats() circuitbreaker.Stats
	CacheStats() cache.Statistics
}

var _ GraphService = (*graph.Engine)(nil)

// GraphHandler exposes the dependency graph over JSON.
type GraphHandler struct {
	graph        GraphService
	logger       *zap.Logger
	resetTimeout time.Duration
}

// NewGraphHandler creates the handler. resetTimeout is the breaker's recovery
// timeout, used to compute Retry-After on CIRCUIT_OPEN responses.
func NewGraphHandler(g GraphService, resetTimeout time.Duration, logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{
		graph:        g,
		logger:       logger.With(zap.String("handler", "graph")),
		resetTimeout: resetTimeout,
	}
}

// Register mounts every graph route on mux.
func (h *GraphHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGetTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.HandleDeleteTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}/phase", h.HandleUpdatePhase)
	mux.HandleFunc("PUT /api/v1/tasks/{id}/primary-project", h.HandleSetPrimaryProject)
	mux.HandleFunc("POST /api/v1/tasks/{id}/related-projects", h.HandleAddRelatedProject)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}/related-projects/{project}", h.HandleRemoveRelatedProject)

	mux.HandleFunc("GET /api/v1/tasks/{id}/dependencies", h.query(h.graph.GetDependencies))
	mux.HandleFunc("GET /api/v1/tasks/{id}/dependents", h.query(h.graph.GetDependents))
	mux.HandleFunc("GET /api/v1/tasks/{id}/ancestors", h.query(h.graph.GetAncestors))
	mux.HandleFunc("GET /api/v1/tasks/{id}/descendants", h.query(h.graph.GetDescendants))

	mux.HandleFunc("POST /api/v1/dependencies", h.HandleAddDependency)
	mux.HandleFunc("DELETE /api/v1/dependencies", h.HandleRemoveDependency)
	mux.HandleFunc("POST /api/v1/overrides", h.HandleOverride)
	mux.HandleFunc("GET /api/v1/overrides", h.HandleListOverrides)

	mux.HandleFunc("GET /api/v1/graph/order", h.HandleTopologicalOrder)
	mux.HandleFunc("GET /api/v1/graph/stats", h.HandleStats)
}

// fail writes err, adding Retry-After while the breaker is open.
func (h *GraphHandler) fail(w http.ResponseWriter, err error) {
	if types.IsErrorCode(err, types.ErrCircuitOpen) {
		SetRetryAfter(w, openRemaining(h.graph.BreakerStats(), h.resetTimeout, time.Now()))
	}
	WriteError(w, err, h.logger)
}

// =============================================================================
// Tasks
// =============================================================================

// HandleCreateTask handles POST /api/v1/tasks.
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body api.CreateTaskRequest true "task"
// @Success 201 {object} Response
// @Failure 409 {object} Response "DUPLICATE_TASK"
// @Failure 503 {object} Response "STORE_UNAVAILABLE or CIRCUIT_OPEN"
// @Router /api/v1/tasks [post]
func (h *GraphHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	phase := types.PhaseIdeation
	if req.Phase != "" {
		p, err := types.ParsePhase(req.Phase)
		if err != nil {
			h.fail(w, err)
			return
		}
		phase = p
	}
	task, err := h.graph.AddTask(r.Context(), req.ID, phase)
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, task)
}

// HandleListTasks handles GET /api/v1/tasks.
func (h *GraphHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.NewTaskList(h.graph.Tasks(r.Context())))
}

// HandleGetTask handles GET /api/v1/tasks/{id}.
func (h *GraphHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.graph.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleDeleteTask handles DELETE /api/v1/tasks/{id}.
// @Failure 409 {object} Response "TASK_HAS_DEPENDENCIES"
// @Router /api/v1/tasks/{id} [delete]
func (h *GraphHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.graph.RemoveTask(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdatePhase handles PUT /api/v1/tasks/{id}/phase.
func (h *GraphHandler) HandleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	var req api.UpdatePhaseRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	phase, err := types.ParsePhase(req.Phase)
	if err != nil {
		h.fail(w, err)
		return
	}
	task, err := h.graph.UpdatePhase(r.Context(), r.PathValue("id"), phase)
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleSetPrimaryProject handles PUT /api/v1/tasks/{id}/primary-project.
func (h *GraphHandler) HandleSetPrimaryProject(w http.ResponseWriter, r *http.Request) {
	h.project(w, r, h.graph.SetPrimaryProject)
}

// HandleAddRelatedProject handles POST /api/v1/tasks/{id}/related-projects.
// @Failure 422 {object} Response "MAX_RELATED_PROJECTS_EXCEEDED"
// @Router /api/v1/tasks/{id}/related-projects [post]
func (h *GraphHandler) HandleAddRelatedProject(w http.ResponseWriter, r *http.Request) {
	h.project(w, r, h.graph.AddRelatedProject)
}

// HandleRemoveRelatedProject handles DELETE /api/v1/tasks/{id}/related-projects/{project}.
func (h *GraphHandler) HandleRemoveRelatedProject(w http.ResponseWriter, r *http.Request) {
	task, err := h.graph.RemoveRelatedProject(r.Context(), r.PathValue("id"), r.PathValue("project"))
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, task)
}

func (h *GraphHandler) project(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (types.Task, error)) {
	var req api.ProjectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	task, err := fn(r.Context(), r.PathValue("id"), req.Project)
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, task)
}

// =============================================================================
// Dependencies
// =============================================================================

// HandleAddDependency handles POST /api/v1/dependencies.
// @Summary Add a dependency edge
// @Tags dependencies
// @Accept json
// @Produce json
// @Param request body api.DependencyRequest true "edge"
// @Success 201 {object} Response
// @Failure 400 {object} Response "SELF_LOOP or INVALID_REQUEST"
// @Failure 409 {object} Response "CYCLE_DETECTED or DEPENDENCY_EXISTS"
// @Router /api/v1/dependencies [post]
func (h *GraphHandler) HandleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req api.DependencyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	var depType types.DependencyType
	if req.Type != "" {
		t, err := types.ParseDependencyType(req.Type)
		if err != nil {
			h.fail(w, err)
			return
		}
		depType = t
	}
	edge, err := h.graph.AddDependency(r.Context(), req.Source, req.Target, depType)
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, edge)
}

// HandleRemoveDependency handles DELETE /api/v1/dependencies?source=&target=.
// Task ids may contain slashes, so the endpoints travel in the query string.
func (h *GraphHandler) HandleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.graph.RemoveDependency(r.Context(), q.Get("source"), q.Get("target")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOverride handles POST /api/v1/overrides.
// @Summary Emergency dependency override
// @Description Removes the edge if present, otherwise forces it in without the cycle check. Audited.
// @Tags dependencies
// @Accept json
// @Produce json
// @Param request body api.OverrideRequest true "override"
// @Success 200 {object} Response
// @Router /api/v1/overrides [post]
func (h *GraphHandler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	var req api.OverrideRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	var opts []graph.OverrideOption
	if req.Type != "" {
		t, err := types.ParseDependencyType(req.Type)
		if err != nil {
			h.fail(w, err)
			return
		}
		opts = append(opts, graph.WithOverrideType(t))
	}
	res, err := h.graph.OverrideDependency(r.Context(), req.Source, req.Target, req.RequestedBy, req.Justification, opts...)
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, res)
}

// HandleListOverrides handles GET /api/v1/overrides.
func (h *GraphHandler) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	records, err := h.graph.ListOverrides(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []types.OverrideRecord{}
	}
	WriteSuccess(w, records)
}

// =============================================================================
// Queries
// =============================================================================

func (h *GraphHandler) query(fn func(context.Context, string) ([]types.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := fn(r.Context(), r.PathValue("id"))
		if err != nil {
			h.fail(w, err)
			return
		}
		WriteSuccess(w, api.NewTaskList(tasks))
	}
}

// HandleTopologicalOrder handles GET /api/v1/graph/order.
// @Failure 409 {object} Response "CYCLE_DETECTED after an override"
// @Router /api/v1/graph/order [get]
func (h *GraphHandler) HandleTopologicalOrder(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.graph.TopologicalOrder(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	WriteSuccess(w, api.NewTaskList(tasks))
}

// HandleStats handles GET /api/v1/graph/stats.
func (h *GraphHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st := h.graph.Stats(r.Context())
	WriteSuccess(w, api.GraphStats{
		Tasks:          st.Tasks,
		Edges:          st.Edges,
		Cyclic:         st.Cyclic,
		CircuitBreaker: h.graph.BreakerStats(),
		Cache:          api.NewCacheStats(h.graph.CacheStats()),
	})
}
