// Package extract pulls identity card fields out of raw OCR text.
//
// Each field is described by an ordered list of rules. The first rule whose
// pattern matches wins and its normalizer produces the field value.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// rule is one pattern for a field. group selects the capture group, 0 for
// the whole match.
type rule struct {
	name      string
	re        *regexp.Regexp
	group     int
	normalize func(string) string
}

func (r rule) apply(text string) (string, bool) {
	m := r.re.FindStringSubmatch(text)
	if m == nil || r.group >= len(m) {
		return "", false
	}
	v := m[r.group]
	if r.normalize != nil {
		v = r.normalize(v)
	}
	if v == "" {
		return "", false
	}
	return v, true
}

type rules []rule

// first returns the value and name of the first matching rule.
func (rs rules) first(text string) (string, string) {
	for _, r := range rs {
		if v, ok := r.apply(text); ok {
			return v, r.name
		}
	}
	return "", ""
}

const (
	day   = `(?:0[1-9]|[12][0-9]|3[01])`
	month = `(?:0[1-9]|1[0-2])`
	year  = `(?:19|20)\d{2}`
)

var (
	idRules = rules{
		{name: string(FormatEmirates), re: regexp.MustCompile(`784-\d{4}-\d{7}-\d`)},
		{name: string(FormatGrouped), re: regexp.MustCompile(`\b\d{4}[ \t]?\d{4}[ \t]?\d{4}\b`)},
	}

	dobRules = rules{
		{
			name:  "labeled",
			re:    regexp.MustCompile(`(?i)(?:date\s+of\s+birth|birth\s*date|dob)\s*:?\s*(` + day + `/` + month + `/` + year + `)`),
			group: 1,
		},
		{name: "dd/mm/yyyy", re: regexp.MustCompile(`\b` + day + `/` + month + `/` + year + `\b`)},
		{name: "yyyy-mm-dd", re: regexp.MustCompile(`\b` + year + `-` + month + `-` + day + `\b`)},
		{name: "dd-mm-yyyy", re: regexp.MustCompile(`\b` + day + `-` + month + `-` + year + `\b`)},
	}

	genderRules = rules{
		{name: "female", re: regexp.MustCompile(`(?i)\bfemale\b`), normalize: strings.ToUpper},
		{name: "male", re: regexp.MustCompile(`(?i)\bmale\b`), normalize: strings.ToUpper},
		{name: "labeled", re: regexp.MustCompile(`(?i)\b(?:sex|gender)\s*:?\s*([MF])\b`), group: 1, normalize: strings.ToUpper},
		{name: "token", re: regexp.MustCompile(`\b([MF])\b`), group: 1},
	}

	nameRules = rules{
		{name: "labeled", re: regexp.MustCompile(`(?i)\bname\s*:\s*(.*)`), group: 1, normalize: cleanName},
	}

	nationalityRules = rules{
		{name: "labeled", re: regexp.MustCompile(`(?i)\bnationality\s*:\s*(.*)`), group: 1, normalize: cleanName},
	}

	nonLetters = regexp.MustCompile(`[^A-Za-z\s]`)
	spaces     = regexp.MustCompile(`\s+`)
)

// Extractor parses OCR text into a Record. The zero value is not usable;
// call New.
type Extractor struct {
	keepRaw bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRawText stores the normalized input text on every Record.
func WithRawText(keep bool) Option {
	return func(e *Extractor) { e.keepRaw = keep }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{keepRaw: true}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract parses text. It never fails; fields that are not found stay empty.
func (e *Extractor) Extract(text string) Record {
	clean := normalizeText(text)

	var rec Record
	var format string
	rec.IDNumber, format = idRules.first(clean)
	rec.IDFormat = IDFormat(format)
	rec.DateOfBirth, _ = dobRules.first(clean)
	rec.Gender, _ = genderRules.first(clean)
	rec.Name, _ = nameRules.first(clean)
	rec.Nationality, _ = nationalityRules.first(clean)
	if e.keepRaw {
		rec.RawText = clean
	}
	return rec
}

// Extract parses text with a default Extractor.
func Extract(text string) Record {
	return New().Extract(text)
}

// normalizeText drops carriage returns and composes Unicode so that the
// same glyphs always compare equal.
func normalizeText(text string) string {
	return norm.NFC.String(strings.ReplaceAll(text, "\r", ""))
}

// cleanName keeps the first line, folds accented letters to ASCII where a
// base letter exists, replaces everything else that is not a letter with a
// space and collapses whitespace.
func cleanName(v string) string {
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		v = v[:i]
	}
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, v); err == nil {
		v = folded
	}
	v = nonLetters.ReplaceAllString(v, " ")
	v = spaces.ReplaceAllString(v, " ")
	return strings.TrimSpace(v)
}
