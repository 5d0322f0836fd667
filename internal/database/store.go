// Package database defines the record-store capability: durable paper
// metadata rows keyed by the natural key, with optional embedding vectors.
package database

import (
	"context"
	"time"

	"github.com/examarchive/paperingest/internal/paper"
)

// PaperRecord is the durable row for one ingested paper. It is created on
// first successful ingestion of a natural key, updated in place when a
// vector is backfilled, and never deleted by the pipeline.
type PaperRecord struct {
	ID          string
	ExamBoard   string
	Level       string
	Subject     string
	SubjectCode string
	Year        int
	Session     string
	PaperNumber string
	PaperType   string
	StorageURL  string
	Vector      []float32
	VectorModel string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// Identity reconstructs the natural-key fields as a paper.Identity.
func (r PaperRecord) Identity() paper.Identity {
	return paper.Identity{
		ExamBoard:   r.ExamBoard,
		Level:       r.Level,
		Subject:     r.Subject,
		SubjectCode: r.SubjectCode,
		Year:        r.Year,
		Session:     r.Session,
		PaperNumber: r.PaperNumber,
		PaperType:   paper.Type(r.PaperType),
	}
}

// NewRecord builds a PaperRecord from an identity and its storage URL.
func NewRecord(id paper.Identity, storageURL string) PaperRecord {
	return PaperRecord{
		ExamBoard:   id.ExamBoard,
		Level:       id.Level,
		Subject:     id.Subject,
		SubjectCode: id.SubjectCode,
		Year:        id.Year,
		Session:     id.Session,
		PaperNumber: id.PaperNumber,
		PaperType:   string(id.PaperType),
		StorageURL:  storageURL,
	}
}

// Store is the record-store capability. Lookups key on the natural key
// tuple, compared case-insensitively; never on URL or filename.
type Store interface {
	// FindByNaturalKey returns the record for the identity's natural key,
	// or nil when no row exists.
	FindByNaturalKey(ctx context.Context, id paper.Identity) (*PaperRecord, error)
	// Insert creates a new row and returns its id.
	Insert(ctx context.Context, record PaperRecord) (string, error)
	// UpdateVector backfills the embedding on an existing row, touching
	// only vector, model and the last-updated timestamp.
	UpdateVector(ctx context.Context, recordID string, vector []float32, model string) error
	// ListMissingVectors returns up to limit records that have no vector
	// yet, oldest first. limit <= 0 means no cap.
	ListMissingVectors(ctx context.Context, limit int) ([]PaperRecord, error)
	// Close releases the underlying connections.
	Close() error
}
