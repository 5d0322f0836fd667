package paper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageKeyScenario(t *testing.T) {
	// 0580_s24_ms_12.pdf under igcse-mathematics-0580 / 2024-may-june.
	id := Identity{
		Level:       "IGCSE",
		Subject:     "Mathematics",
		SubjectCode: "0580",
		Year:        2024,
		Session:     "may-june",
		PaperNumber: "12",
		PaperType:   TypeMarkScheme,
	}
	assert.Equal(t, "igcse/0580/2024/may-june/12_ms.pdf", id.StorageKey())
}

func TestStorageKeyIncludesBoard(t *testing.T) {
	id := Identity{
		ExamBoard:   "Cambridge",
		Level:       "IGCSE",
		SubjectCode: "0580",
		Year:        2024,
		Session:     "March",
		PaperNumber: "42",
		PaperType:   TypeQuestionPaper,
	}
	assert.Equal(t, "cambridge/igcse/0580/2024/March/42_qp.pdf", id.StorageKey())
}

func TestStorageKeySanitizesSession(t *testing.T) {
	id := Identity{
		Level:       "AS",
		SubjectCode: "9702",
		Year:        2020,
		Session:     "may june",
		PaperNumber: "2",
		PaperType:   TypeQuestionPaper,
	}
	assert.Equal(t, "as/9702/2020/may-june/2_qp.pdf", id.StorageKey())
}

// Identities that share a natural key must render the same storage key no
// matter which source URL they were discovered from.
func TestStorageKeyStableAcrossSources(t *testing.T) {
	a := Identity{
		Level: "IGCSE", SubjectCode: "0580", Year: 2024, Session: "may-june",
		PaperNumber: "12", PaperType: TypeMarkScheme,
		OriginalURL: "https://mirror-one.example.com/a.pdf",
	}
	b := a
	b.OriginalURL = "https://mirror-two.example.net/files/download_file.php?files=b.pdf"
	b.Filename = "different.pdf"

	assert.Equal(t, a.NaturalKey(), b.NaturalKey())
	assert.Equal(t, a.StorageKey(), b.StorageKey())
}

func TestNaturalKeyCaseInsensitive(t *testing.T) {
	a := Identity{Level: "IGCSE", SubjectCode: "0580", Year: 2024, Session: "May-June", PaperNumber: "1", PaperType: TypeQuestionPaper}
	b := Identity{Level: "igcse", SubjectCode: "0580", Year: 2024, Session: "may-june", PaperNumber: "1", PaperType: TypeQuestionPaper}
	assert.Equal(t, a.NaturalKey(), b.NaturalKey())
}

func TestValidate(t *testing.T) {
	valid := Identity{Level: "IGCSE", SubjectCode: "0580", Year: 2024, Session: "may-june", PaperNumber: "1", PaperType: TypeQuestionPaper}
	require.NoError(t, valid.Validate(false))
	require.NoError(t, valid.Validate(true))

	gt := valid
	gt.PaperType = TypeGradeThresh
	require.NoError(t, gt.Validate(false))
	assert.Error(t, gt.Validate(true))

	badYear := valid
	badYear.Year = 1901
	assert.Error(t, badYear.Validate(false))

	noCode := valid
	noCode.SubjectCode = ""
	assert.Error(t, noCode.Validate(false))
}
