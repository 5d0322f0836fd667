// Package publisher defines the run-event publishing capability.
package publisher

import "context"

// Publisher pushes run-completion events to a message bus.
type Publisher interface {
	// Publish sends payload to topic and returns the message id.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunCompleted is the payload published at the end of a pipeline run.
type RunCompleted struct {
	RunID      string `json:"run_id"`
	SubjectURL string `json:"subject_url"`
	Discovered int    `json:"discovered"`
	Stored     int    `json:"stored"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Embedded   int    `json:"embedded"`
	FinishedAt string `json:"finished_at"`
}
