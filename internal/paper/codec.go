package paper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Year bounds accepted by the parsers. Anything outside is treated as a
// false positive (page counters, syllabus codes, etc).
const (
	minYear = 1980
	maxYear = 2030
)

// strictFilename matches the archive naming convention
// <syllabus>_<session-code><yy>_<type>[_<variant>].pdf, e.g. 0580_s24_ms_12.pdf.
var strictFilename = regexp.MustCompile(`(?i)^(\d{4})_([a-z])(\d{2})_([a-z]{2})(?:_(\d+))?\.pdf$`)

var (
	directorySegment = regexp.MustCompile(`^([a-z]+)-(.+)-(\d+)$`)
	yearToken        = regexp.MustCompile(`(19|20)\d{2}`)
	paperNumberHint  = regexp.MustCompile(`(?:paper|p)[-_]?(\d+)`)
	trailingDigits   = regexp.MustCompile(`(\d+)\.pdf$`)
)

// sessionCodes maps the one-letter session code embedded in filenames to the
// label used by the archive directory structure. Unrecognized codes pass
// through verbatim.
var sessionCodes = map[string]string{
	"s": "May-June",
	"w": "Oct-Nov",
	"m": "March",
	"f": "Feb-March",
}

// sessionTokens is the directory vocabulary, ordered so that compound labels
// match before their substrings ("may-june" before "june").
var sessionTokens = []string{"may-june", "oct-nov", "feb-mar", "march", "june", "nov"}

// boardCodes maps source-site exam board codes to canonical names.
var boardCodes = map[string]string{
	"cie":  "Cambridge",
	"caie": "Cambridge",
}

// FileMeta is the document classification recovered from a bare filename.
type FileMeta struct {
	PaperType   Type
	PaperNumber string
}

// DirectoryInfo is the subject information recovered from a subject-root URL.
type DirectoryInfo struct {
	Level    string
	Subject  string
	Syllabus string
}

// YearSession is an exam administration period recovered from a folder name.
type YearSession struct {
	Year    int
	Session string
}

// SessionFromCode expands a one-letter session code into its label.
// Unknown codes are returned unchanged.
func SessionFromCode(code string) string {
	if label, ok := sessionCodes[strings.ToLower(code)]; ok {
		return label
	}
	return code
}

// ParseFilename classifies a bare filename into a paper type and number.
// It first tries the strict archive convention, then falls back to substring
// heuristics. Ambiguous names silently default to qp/"1" rather than failing;
// best-effort indexing is the product intent.
func ParseFilename(filename string) FileMeta {
	if m := strictFilename.FindStringSubmatch(filename); m != nil {
		t := Type(strings.ToLower(m[4]))
		if !t.Valid() {
			t = TypeQuestionPaper
		}
		number := m[5]
		if number == "" {
			number = "1"
		}
		return FileMeta{PaperType: t, PaperNumber: number}
	}

	lower := strings.ToLower(filename)
	meta := FileMeta{PaperType: heuristicType(lower), PaperNumber: "1"}
	if m := paperNumberHint.FindStringSubmatch(lower); m != nil {
		meta.PaperNumber = m[1]
	} else if m := trailingDigits.FindStringSubmatch(lower); m != nil {
		meta.PaperNumber = m[1]
	}
	return meta
}

func heuristicType(lower string) Type {
	switch {
	case strings.Contains(lower, "ms") || strings.Contains(lower, "mark"):
		return TypeMarkScheme
	case strings.Contains(lower, "gt") || strings.Contains(lower, "grade") || strings.Contains(lower, "threshold"):
		return TypeGradeThresh
	case strings.Contains(lower, "er") || strings.Contains(lower, "examiner"):
		return TypeExaminerRep
	case strings.Contains(lower, "ci") || strings.Contains(lower, "confidential"):
		return TypeConfidential
	}
	return TypeQuestionPaper
}

// ParseDirectoryURL recovers level, subject and syllabus code from a
// subject-root URL whose last path segment looks like igcse-mathematics-0580.
func ParseDirectoryURL(rawURL string) (DirectoryInfo, error) {
	segment := lastPathSegment(rawURL)
	m := directorySegment.FindStringSubmatch(strings.ToLower(segment))
	if m == nil {
		return DirectoryInfo{}, &FormatError{Input: rawURL, Reason: "last path segment is not <level>-<subject>-<code>"}
	}
	return DirectoryInfo{
		Level:    strings.ToUpper(m[1]),
		Subject:  titleCase(m[2]),
		Syllabus: m[3],
	}, nil
}

// ParseYearSession recovers the exam year and session label from a folder
// name or URL such as "2024-may-june" or ".../2019-March". The session token
// is matched case-insensitively against a fixed vocabulary and returned
// verbatim; a missing token defaults to "annual".
func ParseYearSession(input string) (YearSession, error) {
	m := yearToken.FindString(input)
	if m == "" {
		return YearSession{}, &FormatError{Input: input, Reason: "no 4-digit year found"}
	}
	year, err := strconv.Atoi(m)
	if err != nil || year < minYear || year > maxYear {
		return YearSession{}, &FormatError{Input: input, Reason: fmt.Sprintf("year %s outside [%d, %d]", m, minYear, maxYear)}
	}

	lower := strings.ToLower(input)
	for _, token := range sessionTokens {
		if idx := strings.Index(lower, token); idx >= 0 {
			return YearSession{Year: year, Session: input[idx : idx+len(token)]}, nil
		}
	}
	return YearSession{Year: year, Session: "annual"}, nil
}

// ParseCanonicalPDFURL decomposes a second-site URL of the shape
// /<board>/<level>/<Subject>-<code>/<year>-<session>/<filename> into a full
// Identity. The filename's embedded syllabus code and 2-digit year are
// cross-checked against the path; mismatches are returned as warnings and
// the path-derived values win. The assembled identity must be indexable
// (qp or ms), otherwise a ValidationError is returned.
func ParseCanonicalPDFURL(rawURL string) (Identity, []string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Identity{}, nil, &FormatError{Input: rawURL, Reason: "not a valid URL"}
	}
	segments := splitPath(u.Path)
	if len(segments) < 5 {
		return Identity{}, nil, &FormatError{Input: rawURL, Reason: "path needs board/level/subject/year-session/filename"}
	}
	board, level := segments[0], segments[1]
	subjectSeg, yearSeg, filename := segments[2], segments[3], segments[4]

	subject, code, err := splitSubjectSegment(subjectSeg)
	if err != nil {
		return Identity{}, nil, err
	}
	ys, err := ParseYearSession(yearSeg)
	if err != nil {
		return Identity{}, nil, err
	}
	meta := ParseFilename(filename)

	var warnings []string
	if m := strictFilename.FindStringSubmatch(filename); m != nil {
		if m[1] != code {
			warnings = append(warnings, fmt.Sprintf("filename syllabus %s disagrees with path code %s; path wins", m[1], code))
		}
		if y2, convErr := strconv.Atoi(m[3]); convErr == nil && y2 != ys.Year%100 {
			warnings = append(warnings, fmt.Sprintf("filename year %02d disagrees with path year %d; path wins", y2, ys.Year))
		}
	}

	id := Identity{
		ExamBoard:   canonicalBoard(board),
		Level:       strings.ToUpper(level),
		Subject:     subject,
		SubjectCode: code,
		Year:        ys.Year,
		Session:     ys.Session,
		PaperNumber: meta.PaperNumber,
		PaperType:   meta.PaperType,
		OriginalURL: rawURL,
		DownloadURL: rawURL,
		Filename:    filename,
	}
	if err := id.Validate(true); err != nil {
		return Identity{}, warnings, err
	}
	return id, warnings, nil
}

func canonicalBoard(code string) string {
	if name, ok := boardCodes[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func splitSubjectSegment(segment string) (subject, code string, err error) {
	idx := strings.LastIndex(segment, "-")
	if idx <= 0 || idx == len(segment)-1 {
		return "", "", &FormatError{Input: segment, Reason: "subject segment is not <Subject>-<code>"}
	}
	code = segment[idx+1:]
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", "", &FormatError{Input: segment, Reason: "subject code is not numeric"}
		}
	}
	return titleCase(segment[:idx]), code, nil
}

func titleCase(hyphenated string) string {
	words := strings.Split(strings.ReplaceAll(hyphenated, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		trimmed = strings.TrimRight(u.Path, "/")
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
