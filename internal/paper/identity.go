// Package paper defines the canonical identity of a past paper and the
// parsers that recover it from archive-site URLs and filenames.
package paper

import (
	"fmt"
	"strings"
)

// Type classifies a paper document.
type Type string

// Document types found in archive filenames.
const (
	TypeQuestionPaper Type = "qp"
	TypeMarkScheme    Type = "ms"
	TypeGradeThresh   Type = "gt"
	TypeExaminerRep   Type = "er"
	TypeConfidential  Type = "ci"
)

// Valid reports whether t is one of the known document types.
func (t Type) Valid() bool {
	switch t {
	case TypeQuestionPaper, TypeMarkScheme, TypeGradeThresh, TypeExaminerRep, TypeConfidential:
		return true
	}
	return false
}

// Indexable reports whether documents of this type are eligible for
// embedding and search indexing. Grade thresholds, examiner reports and
// confidential instructions are excluded.
func (t Type) Indexable() bool {
	return t == TypeQuestionPaper || t == TypeMarkScheme
}

// SpellOut returns the human-readable name of the type for search documents.
func (t Type) SpellOut() string {
	switch t {
	case TypeQuestionPaper:
		return "question paper"
	case TypeMarkScheme:
		return "mark scheme"
	case TypeGradeThresh:
		return "grade thresholds"
	case TypeExaminerRep:
		return "examiner report"
	case TypeConfidential:
		return "confidential instructions"
	}
	return string(t)
}

// Identity is the canonical description of one physical paper document.
// It is constructed once during discovery and never mutated afterwards.
type Identity struct {
	ExamBoard   string `json:"exam_board,omitempty"`
	Level       string `json:"level"`
	Subject     string `json:"subject"`
	SubjectCode string `json:"subject_code"`
	Year        int    `json:"year"`
	Session     string `json:"session"`
	PaperNumber string `json:"paper_number"`
	PaperType   Type   `json:"paper_type"`
	OriginalURL string `json:"original_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// NaturalKey returns the tuple that uniquely identifies one physical
// document, independent of URL or filename. Mirrors of the same paper on
// different sites must map to the same key, so every field is lowercased.
func (id Identity) NaturalKey() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s",
		id.ExamBoard, id.Level, id.SubjectCode, id.Year, id.Session, id.PaperNumber, id.PaperType))
}

// StorageKey renders the deterministic blob-store path for this identity:
// board/level/code/year/session/number_type.pdf. The board segment is
// omitted when the source site does not carry one. Path-unsafe characters
// in the session label are replaced with '-'. The result is stable across
// runs for identities with equal natural keys.
func (id Identity) StorageKey() string {
	segments := make([]string, 0, 5)
	if id.ExamBoard != "" {
		segments = append(segments, strings.ToLower(id.ExamBoard))
	}
	segments = append(segments,
		strings.ToLower(id.Level),
		id.SubjectCode,
		fmt.Sprintf("%d", id.Year),
		sanitizeSegment(id.Session),
	)
	base := fmt.Sprintf("%s_%s.pdf", id.PaperNumber, id.PaperType)
	return strings.Join(segments, "/") + "/" + base
}

// Validate checks that the identity satisfies the canonical schema. The
// strict flag additionally requires an indexable paper type, which is the
// contract on the URL-parsing side.
func (id Identity) Validate(strict bool) error {
	if id.Level == "" {
		return &ValidationError{Field: "level", Reason: "empty"}
	}
	if id.SubjectCode == "" {
		return &ValidationError{Field: "subject_code", Reason: "empty"}
	}
	if id.Year < minYear || id.Year > maxYear {
		return &ValidationError{Field: "year", Reason: fmt.Sprintf("%d outside [%d, %d]", id.Year, minYear, maxYear)}
	}
	if id.PaperNumber == "" {
		return &ValidationError{Field: "paper_number", Reason: "empty"}
	}
	if !id.PaperType.Valid() {
		return &ValidationError{Field: "paper_type", Reason: fmt.Sprintf("unknown type %q", id.PaperType)}
	}
	if strict && !id.PaperType.Indexable() {
		return &ValidationError{Field: "paper_type", Reason: fmt.Sprintf("type %q is not indexable", id.PaperType)}
	}
	return nil
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == ' ' || r == '?' || r == '#' || r == '%':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
