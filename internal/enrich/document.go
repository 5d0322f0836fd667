package enrich

import (
	"strconv"
	"strings"

	"github.com/examarchive/paperingest/internal/paper"
)

// BuildDocument flattens a paper's metadata into the text sent to the
// vectorizer. Synonyms are appended so queries like "maths summer 2024"
// land near the right papers.
func BuildDocument(id paper.Identity) string {
	parts := make([]string, 0, 12)
	if id.ExamBoard != "" {
		parts = append(parts, id.ExamBoard)
	}
	parts = append(parts,
		id.Level,
		id.Subject,
		id.SubjectCode,
		strconv.Itoa(id.Year),
		id.Session,
		"paper "+id.PaperNumber,
		id.PaperType.SpellOut(),
	)
	parts = append(parts, synonyms(id)...)
	return strings.Join(parts, " ")
}

func synonyms(id paper.Identity) []string {
	var out []string
	subject := strings.ToLower(id.Subject)
	if strings.Contains(subject, "math") {
		out = append(out, "mathematics", "maths")
	}
	session := strings.ToLower(id.Session)
	if strings.Contains(session, "may") {
		out = append(out, "summer")
	}
	if strings.Contains(session, "oct") || strings.Contains(session, "nov") {
		out = append(out, "winter")
	}
	return out
}
