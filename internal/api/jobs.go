package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examarchive/paperingest/internal/pipeline"
	"github.com/examarchive/paperingest/internal/progress"
)

// JobStatus is the lifecycle state of a submitted ingestion job.
type JobStatus string

// Supported job states.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobSpec is what a caller asks the service to ingest.
type JobSpec struct {
	SubjectURL string `json:"url"`
	StartYear  int    `json:"start_year,omitempty"`
	EndYear    int    `json:"end_year,omitempty"`
}

// StageProgress is the latest progress snapshot for one pipeline stage.
type StageProgress struct {
	Stage Stage  `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total,omitempty"`
	Note  string `json:"note,omitempty"`
}

// Stage mirrors progress.Stage for JSON output.
type Stage = progress.Stage

// Job is one submitted ingestion run.
type Job struct {
	ID          string            `json:"id"`
	Spec        JobSpec           `json:"spec"`
	Status      JobStatus         `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Stages      []StageProgress   `json:"stages,omitempty"`
	Summary     *pipeline.Summary `json:"summary,omitempty"`
}

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// JobStore tracks submitted jobs.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	List(ctx context.Context) ([]Job, error)
	SetStatus(ctx context.Context, id string, status JobStatus, errText string) error
	SetSummary(ctx context.Context, id string, summary pipeline.Summary) error
	RecordProgress(ctx context.Context, id string, e progress.Event) error
}

// MemoryJobStore keeps jobs in a map. Jobs are ephemeral; a restart
// forgets them.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// Create implements JobStore.
func (s *MemoryJobStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job
	s.jobs[job.ID] = &cp
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List implements JobStore, newest submissions first.
func (s *MemoryJobStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// SetStatus implements JobStore.
func (s *MemoryJobStore) SetStatus(_ context.Context, id string, status JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	now := time.Now().UTC()
	job.Status = status
	job.Error = errText
	switch status {
	case JobRunning:
		job.StartedAt = &now
	case JobSucceeded, JobFailed:
		job.FinishedAt = &now
	}
	return nil
}

// SetSummary implements JobStore.
func (s *MemoryJobStore) SetSummary(_ context.Context, id string, summary pipeline.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Summary = &summary
	return nil
}

// RecordProgress implements JobStore, keeping the latest event per stage.
func (s *MemoryJobStore) RecordProgress(_ context.Context, id string, e progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	snapshot := StageProgress{Stage: e.Stage, Done: e.Done, Total: e.Total, Note: e.Note}
	for i, existing := range job.Stages {
		if existing.Stage == e.Stage {
			job.Stages[i] = snapshot
			return nil
		}
	}
	job.Stages = append(job.Stages, snapshot)
	return nil
}

// NewJobID mints a job identifier.
func NewJobID() string {
	return uuid.NewString()
}
