// Package progress reports per-stage pipeline progress and keeps the
// resume marker that lets an interrupted run pick up where it stopped.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage denotes a pipeline stage reporting progress.
type Stage string

// Supported stages, in execution order.
const (
	StageDiscover Stage = "DISCOVER"
	StageIngest   Stage = "INGEST"
	StageEnrich   Stage = "ENRICH"
	StagePersist  Stage = "PERSIST"
)

// Event is a single progress milestone.
type Event struct {
	RunID uuid.UUID
	Stage Stage
	// Done and Total count processed versus known items. Total may be zero
	// while a stage is still discovering its workload.
	Done  int
	Total int
	TS    time.Time
	Note  string
}

// Validate performs coarse validation on an Event.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	switch e.Stage {
	case StageDiscover, StageIngest, StageEnrich, StagePersist:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Done < 0 || e.Total < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(e Event)
}

// LogReporter writes progress events to a structured logger.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a Reporter backed by logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (r *LogReporter) Report(e Event) {
	fields := []zap.Field{
		zap.String("run_id", e.RunID.String()),
		zap.String("stage", string(e.Stage)),
		zap.Int("done", e.Done),
	}
	if e.Total > 0 {
		fields = append(fields, zap.Int("total", e.Total))
	}
	if e.Note != "" {
		fields = append(fields, zap.String("note", e.Note))
	}
	r.logger.Info("pipeline progress", fields...)
}

// NopReporter discards events.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(Event) {}
