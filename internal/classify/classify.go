// Package classify tags downloaded EDGAR documents with a filing type and
// flags pages that are not filings at all.
package classify

import (
	"bytes"
	"regexp"
	"strings"
)

// Filing types assigned by the classifier.
const (
	TypeS1A          = "S-1/A"
	TypeS1           = "S-1"
	Type424B4        = "424B4"
	Type8A           = "8-A"
	TypeLockUp       = "LOCK-UP"
	TypeUnderwriting = "UNDERWRITING"
	TypeOther        = "OTHER"
)

// Reasons a document is junk.
const (
	ReasonTooSmall      = "too_small"
	ReasonSearchResults = "search_results"
	ReasonMissingHeader = "missing_header"
)

const DefaultMinBytes = 1000

// Result is the outcome of classifying one document.
type Result struct {
	FilingType string `json:"filing_type"`
	IsValid    bool   `json:"is_valid"`
	JunkReason string `json:"junk_reason,omitempty"`
}

type pattern struct {
	filingType string
	re         *regexp.Regexp
}

// checked in order, first match wins; S-1/A must precede S-1
var patterns = []pattern{
	{TypeS1A, regexp.MustCompile(`(?:^|[^A-Z0-9])S-?1[/_-]?A(?:[^A-Z0-9]|$)`)},
	{TypeS1, regexp.MustCompile(`(?:^|[^A-Z0-9])S-?1(?:[^A-Z0-9]|$)`)},
	{Type424B4, regexp.MustCompile(`(?:^|[^A-Z0-9])424B4(?:[^A-Z0-9]|$)`)},
	{Type8A, regexp.MustCompile(`(?:^|[^A-Z0-9])8-?A(?:12[BG])?(?:[^A-Z0-9]|$)`)},
	{TypeLockUp, regexp.MustCompile(`LOCK[-_ ]?UP`)},
	{TypeUnderwriting, regexp.MustCompile(`UNDERWRITING`)},
}

var (
	submissionTypeLine = regexp.MustCompile(`(?i)CONFORMED SUBMISSION TYPE:[ \t]*([^\s<]+)`)

	searchResultMarkers = [][]byte{
		[]byte("NO MATCHING TICKER SYMBOL"),
		[]byte("EDGAR SEARCH RESULTS"),
	}
	headerMarkers = [][]byte{
		[]byte("SECURITIES AND EXCHANGE COMMISSION"),
		[]byte("CENTRAL INDEX KEY:"),
		[]byte("CONFORMED SUBMISSION TYPE:"),
	}
)

// Classifier applies the filing-type table and the junk heuristics.
type Classifier struct {
	minBytes int
}

// New returns a classifier that treats documents shorter than minBytes as junk.
// A non-positive minBytes selects DefaultMinBytes.
func New(minBytes int) *Classifier {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Classifier{minBytes: minBytes}
}

// Classify tags one document. The filing type is derived from the filename and,
// when that is inconclusive, from the SEC header inside content. Validity is
// decided independently of the type.
func (c *Classifier) Classify(filename string, content []byte) Result {
	upper := bytes.ToUpper(content)

	filingType := TypeFromName(filename)
	if filingType == TypeOther {
		if m := submissionTypeLine.FindSubmatch(content); m != nil {
			filingType = TypeFromName(string(m[1]))
		}
	}

	reason := c.junkReason(filename, len(content), upper)
	return Result{
		FilingType: filingType,
		IsValid:    reason == "",
		JunkReason: reason,
	}
}

// TypeFromName matches name against the filing-type table, case-insensitively.
func TypeFromName(name string) string {
	upper := strings.ToUpper(name)
	for _, p := range patterns {
		if p.re.MatchString(upper) {
			return p.filingType
		}
	}
	return TypeOther
}

func (c *Classifier) junkReason(filename string, size int, upperContent []byte) string {
	if size < c.minBytes {
		return ReasonTooSmall
	}
	if strings.Contains(strings.ToLower(filename), "companysearch") {
		return ReasonSearchResults
	}
	for _, marker := range searchResultMarkers {
		if bytes.Contains(upperContent, marker) {
			return ReasonSearchResults
		}
	}
	for _, marker := range headerMarkers {
		if bytes.Contains(upperContent, marker) {
			return ""
		}
	}
	return ReasonMissingHeader
}
