package paper

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilenameStrict(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		wantType   Type
		wantNumber string
	}{
		{name: "mark scheme with variant", filename: "0580_s24_ms_12.pdf", wantType: TypeMarkScheme, wantNumber: "12"},
		{name: "question paper", filename: "0580_m24_qp_42.pdf", wantType: TypeQuestionPaper, wantNumber: "42"},
		{name: "grade thresholds no variant", filename: "9702_w19_gt.pdf", wantType: TypeGradeThresh, wantNumber: "1"},
		{name: "examiner report", filename: "0610_s20_er.pdf", wantType: TypeExaminerRep, wantNumber: "1"},
		{name: "confidential instructions", filename: "0620_w21_ci_51.pdf", wantType: TypeConfidential, wantNumber: "51"},
		{name: "unknown code defaults to qp", filename: "0580_s24_zz_3.pdf", wantType: TypeQuestionPaper, wantNumber: "3"},
		{name: "uppercase accepted", filename: "0580_S24_MS_12.PDF", wantType: TypeMarkScheme, wantNumber: "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := ParseFilename(tt.filename)
			assert.Equal(t, tt.wantType, meta.PaperType)
			assert.Equal(t, tt.wantNumber, meta.PaperNumber)
		})
	}
}

func TestParseFilenameHeuristics(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		wantType   Type
		wantNumber string
	}{
		{name: "mark in name", filename: "physics-marking-guide-2.pdf", wantType: TypeMarkScheme, wantNumber: "2"},
		{name: "threshold in name", filename: "grade-threshold-june.pdf", wantType: TypeGradeThresh, wantNumber: "1"},
		{name: "examiner in name", filename: "examiner-notes.pdf", wantType: TypeExaminerRep, wantNumber: "1"},
		{name: "paper number hint", filename: "biology-paper-4.pdf", wantType: TypeQuestionPaper, wantNumber: "4"},
		{name: "p underscore hint", filename: "chemistry_p_3.pdf", wantType: TypeQuestionPaper, wantNumber: "3"},
		{name: "trailing digits", filename: "economics-qp-22.pdf", wantType: TypeQuestionPaper, wantNumber: "22"},
		{name: "ambiguous defaults silently", filename: "notes.pdf", wantType: TypeQuestionPaper, wantNumber: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := ParseFilename(tt.filename)
			assert.Equal(t, tt.wantType, meta.PaperType)
			assert.Equal(t, tt.wantNumber, meta.PaperNumber)
		})
	}
}

// Every combination valid under the strict pattern must round-trip back to
// the original type and variant.
func TestParseFilenameRoundTrip(t *testing.T) {
	types := []Type{TypeQuestionPaper, TypeMarkScheme, TypeGradeThresh, TypeExaminerRep, TypeConfidential}
	codes := []string{"s", "w", "m"}
	variants := []string{"1", "12", "42"}
	for _, typ := range types {
		for _, code := range codes {
			for _, variant := range variants {
				filename := fmt.Sprintf("0580_%s24_%s_%s.pdf", code, typ, variant)
				meta := ParseFilename(filename)
				assert.Equal(t, typ, meta.PaperType, filename)
				assert.Equal(t, variant, meta.PaperNumber, filename)
			}
		}
	}
}

func TestParseDirectoryURL(t *testing.T) {
	info, err := ParseDirectoryURL("https://pastpapers.example.com/cie/igcse-mathematics-0580")
	require.NoError(t, err)
	assert.Equal(t, "IGCSE", info.Level)
	assert.Equal(t, "Mathematics", info.Subject)
	assert.Equal(t, "0580", info.Syllabus)

	info, err = ParseDirectoryURL("https://pastpapers.example.com/as-further-mathematics-9231/")
	require.NoError(t, err)
	assert.Equal(t, "AS", info.Level)
	assert.Equal(t, "Further Mathematics", info.Subject)
	assert.Equal(t, "9231", info.Syllabus)

	_, err = ParseDirectoryURL("https://pastpapers.example.com/about-us")
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestParseYearSession(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantYear    int
		wantSession string
		wantErr     bool
	}{
		{name: "year with session", input: "2024-may-june", wantYear: 2024, wantSession: "may-june"},
		{name: "session casing preserved", input: "2024-March", wantYear: 2024, wantSession: "March"},
		{name: "oct-nov", input: "2019-oct-nov", wantYear: 2019, wantSession: "oct-nov"},
		{name: "feb-mar before march", input: "2022-feb-mar", wantYear: 2022, wantSession: "feb-mar"},
		{name: "bare year defaults annual", input: "2018", wantYear: 2018, wantSession: "annual"},
		{name: "full url", input: "https://site/papers/2021-nov/", wantYear: 2021, wantSession: "nov"},
		{name: "no year", input: "specimen-papers", wantErr: true},
		{name: "year out of range", input: "2077-may-june", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ys, err := ParseYearSession(tt.input)
			if tt.wantErr {
				var formatErr *FormatError
				require.ErrorAs(t, err, &formatErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantYear, ys.Year)
			assert.Equal(t, tt.wantSession, ys.Session)
		})
	}
}

func TestParseCanonicalPDFURL(t *testing.T) {
	id, warnings, err := ParseCanonicalPDFURL("https://site/cie/IGCSE/Mathematics-0580/2024-March/0580_m24_qp_42.pdf")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Cambridge", id.ExamBoard)
	assert.Equal(t, "IGCSE", id.Level)
	assert.Equal(t, "Mathematics", id.Subject)
	assert.Equal(t, "0580", id.SubjectCode)
	assert.Equal(t, 2024, id.Year)
	assert.Equal(t, "March", id.Session)
	assert.Equal(t, "42", id.PaperNumber)
	assert.Equal(t, TypeQuestionPaper, id.PaperType)
}

func TestParseCanonicalPDFURLMismatchWarns(t *testing.T) {
	// Filename disagrees with the path on both syllabus and year; the path
	// values win and two warnings are emitted.
	id, warnings, err := ParseCanonicalPDFURL("https://site/cie/IGCSE/Mathematics-0580/2024-March/0610_m19_qp_42.pdf")
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
	assert.Equal(t, "0580", id.SubjectCode)
	assert.Equal(t, 2024, id.Year)
}

func TestParseCanonicalPDFURLRejectsNonIndexable(t *testing.T) {
	_, _, err := ParseCanonicalPDFURL("https://site/cie/IGCSE/Mathematics-0580/2024-March/0580_m24_gt.pdf")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestParseCanonicalPDFURLMalformedPath(t *testing.T) {
	_, _, err := ParseCanonicalPDFURL("https://site/only/two.pdf")
	var formatErr *FormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestSessionFromCode(t *testing.T) {
	assert.Equal(t, "May-June", SessionFromCode("s"))
	assert.Equal(t, "Oct-Nov", SessionFromCode("w"))
	assert.Equal(t, "March", SessionFromCode("m"))
	assert.Equal(t, "x", SessionFromCode("x"))
}
