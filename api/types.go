package api

import (
	"time"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/types"
)

// =============================================================================
// Task requests
// =============================================================================

// CreateTaskRequest creates a task.
// @Description Task creation request
type CreateTaskRequest struct {
	ID string `json:"id" example:"checkout-redesign"`
	// Phase defaults to ideation.
	Phase string `json:"phase,omitempty" example:"design"`
}

// UpdatePhaseRequest moves a task to another lifecycle phase.
type UpdatePhaseRequest struct {
	Phase string `json:"phase" example:"testing"`
}

// ProjectRequest names a project for primary/related association.
type ProjectRequest struct {
	Project string `json:"project" example:"payments"`
}

// =============================================================================
// Dependency requests
// =============================================================================

// DependencyRequest adds or removes the edge Source -> Target.
type DependencyRequest struct {
	Source string `json:"source" example:"schema-migration"`
	Target string `json:"target" example:"checkout-redesign"`
	// Type is finish_to_start (default), start_to_start, finish_to_finish,
	// start_to_finish or one of FS/SS/FF/SF.
	Type string `json:"type,omitempty" example:"finish_to_start"`
}

// OverrideRequest toggles an edge while bypassing validation.
type OverrideRequest struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	RequestedBy   string `json:"requested_by" example:"alice"`
	Justification string `json:"justification" example:"hotfix for INC-1432"`
	// Type applies only when the override forces a new edge.
	Type string `json:"type,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// TaskList is a list of tasks with its length.
type TaskList struct {
	Tasks []types.Task `json:"tasks"`
	Count int          `json:"count"`
}

// NewTaskList never returns a nil slice so the JSON is [] rather than null.
func NewTaskList(tasks []types.Task) TaskList {
	if tasks == nil {
		tasks = []types.Task{}
	}
	return TaskList{Tasks: tasks, Count: len(tasks)}
}

// GraphStats combines graph size with breaker and cache health.
type GraphStats struct {
	Tasks          int                  `json:"tasks"`
	Edges          int                  `json:"edges"`
	Cyclic         bool                 `json:"cyclic"`
	CircuitBreaker circuitbreaker.Stats `json:"circuit_breaker"`
	Cache          CacheStats           `json:"cache"`
}

// CacheStats is the JSON view of cache.Statistics.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Entries     int     `json:"entries"`
	CurrentSize int64   `json:"current_size_bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	Utilization float64 `json:"utilization"`
	HitRate     float64 `json:"hit_rate"`
}

// NewCacheStats converts cache counters for the API.
func NewCacheStats(s cache.Statistics) CacheStats {
	return CacheStats{
		Hits:        s.Hits,
		Misses:      s.Misses,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
		Entries:     s.Entries,
		CurrentSize: s.CurrentSize,
		MaxBytes:    s.MaxBytes,
		Utilization: s.Utilization,
		HitRate:     s.HitRate(),
	}
}

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string    `json:"version"`
	BuildTime string    `json:"build_time"`
	GitCommit string    `json:"git_commit"`
	StartedAt time.Time `json:"started_at"`
}
