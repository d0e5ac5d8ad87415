// Package edgar parses the EDGAR pages the pipeline walks: a company's filing
// list (submissions JSON or the legacy browse page) and a filing's document index.
package edgar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// UnknownDate is recorded when a filing row carries no parsable date.
const UnknownDate = "Unknown"

// FilingDescriptor is one filing found on a company's filing list.
type FilingDescriptor struct {
	FilingType      string `json:"filing_type"`
	FiledDate       string `json:"filed_date"`
	IndexURL        string `json:"index_url"`
	Accession       string `json:"accession,omitempty"`
	PrimaryDocument string `json:"primary_document,omitempty"`
}

// IndexParser turns filing-list responses for one company into descriptors.
type IndexParser struct {
	baseURL string
	cik     string
}

// NewIndexParser returns a parser that builds filing URLs under baseURL
// (normally https://www.sec.gov).
func NewIndexParser(baseURL, cik string) *IndexParser {
	return &IndexParser{baseURL: strings.TrimRight(baseURL, "/"), cik: TrimCIK(cik)}
}

// ParseIndex detects the layout of body and extracts its filings. Unknown or
// malformed layouts yield an empty slice.
func (p *IndexParser) ParseIndex(body []byte) []FilingDescriptor {
	var descriptors []FilingDescriptor
	switch {
	case looksLikeJSON(body):
		descriptors = p.parseSubmissions(body)
	case looksLikeHTML(body):
		descriptors = p.parseBrowsePage(body)
	default:
		log.Debug().Str("cik", p.cik).Msg("filing list has unknown layout")
		return []FilingDescriptor{}
	}
	return Dedupe(descriptors)
}

// CompanyName returns the registrant name carried by a submissions document, or
// "" for any other layout.
func CompanyName(body []byte) string {
	if !looksLikeJSON(body) {
		return ""
	}
	var doc struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Name)
}

// NextPages returns the URLs of further filing-list pages referenced by body.
// pageURL is the address body was fetched from.
func (p *IndexParser) NextPages(body []byte, pageURL string) []string {
	switch {
	case looksLikeJSON(body):
		var doc submissions
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil
		}
		pages := make([]string, 0, len(doc.Filings.Files))
		for _, f := range doc.Filings.Files {
			if f.Name == "" {
				continue
			}
			if next := resolve(pageURL, f.Name); next != "" {
				pages = append(pages, next)
			}
		}
		return pages
	case looksLikeHTML(body):
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil
		}
		var next string
		doc.Find(`input[type="button"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value, _ := s.Attr("value")
			if !strings.HasPrefix(strings.TrimSpace(value), "Next") {
				return true
			}
			onclick, _ := s.Attr("onclick")
			if href := onclickTarget(onclick); href != "" {
				next = resolve(pageURL, href)
			}
			return false
		})
		if next == "" {
			return nil
		}
		return []string{next}
	}
	return nil
}

type submissions struct {
	Name    string `json:"name"`
	Filings struct {
		Recent filingColumns `json:"recent"`
		Files  []struct {
			Name string `json:"name"`
		} `json:"files"`
	} `json:"filings"`
	// older pages listed under filings.files carry the columns at top level
	filingColumns
}

type filingColumns struct {
	AccessionNumbers []string `json:"accessionNumber"`
	Forms            []string `json:"form"`
	FilingDates      []string `json:"filingDate"`
	PrimaryDocs      []string `json:"primaryDocument"`
}

func (p *IndexParser) parseSubmissions(body []byte) []FilingDescriptor {
	var doc submissions
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Debug().Err(err).Str("cik", p.cik).Msg("submissions json did not decode")
		return nil
	}
	columns := doc.Filings.Recent
	if len(columns.AccessionNumbers) == 0 {
		columns = doc.filingColumns
	}

	descriptors := make([]FilingDescriptor, 0, len(columns.AccessionNumbers))
	for i, accession := range columns.AccessionNumbers {
		accession = strings.TrimSpace(accession)
		form := strings.TrimSpace(at(columns.Forms, i))
		if accession == "" || form == "" {
			continue
		}
		date := strings.TrimSpace(at(columns.FilingDates, i))
		if date == "" {
			date = UnknownDate
		}
		descriptors = append(descriptors, FilingDescriptor{
			FilingType:      form,
			FiledDate:       date,
			IndexURL:        p.filingIndexURL(accession),
			Accession:       accession,
			PrimaryDocument: strings.TrimSpace(at(columns.PrimaryDocs, i)),
		})
	}
	return descriptors
}

func (p *IndexParser) parseBrowsePage(body []byte) []FilingDescriptor {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var descriptors []FilingDescriptor
	doc.Find("table.tableFile2 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		form := strings.TrimSpace(cells.Eq(0).Text())
		href, ok := cells.Eq(1).Find("a#documentsbutton").Attr("href")
		if !ok {
			href, ok = cells.Eq(1).Find("a").First().Attr("href")
		}
		if form == "" || !ok || strings.TrimSpace(href) == "" {
			return
		}
		date := strings.TrimSpace(cells.Eq(3).Text())
		if date == "" {
			date = UnknownDate
		}
		indexURL := resolve(p.baseURL+"/", strings.TrimSpace(href))
		if indexURL == "" {
			return
		}
		descriptors = append(descriptors, FilingDescriptor{
			FilingType: form,
			FiledDate:  date,
			IndexURL:   indexURL,
			Accession:  accessionFromIndex(indexURL),
		})
	})
	return descriptors
}

func (p *IndexParser) filingIndexURL(accession string) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s-index.htm",
		p.baseURL, p.cik, strings.ReplaceAll(accession, "-", ""), accession)
}

// Dedupe keeps the first descriptor per (filing type, filed date), preserving order.
func Dedupe(in []FilingDescriptor) []FilingDescriptor {
	type key struct{ form, date string }
	seen := make(map[key]struct{}, len(in))
	out := make([]FilingDescriptor, 0, len(in))
	for _, d := range in {
		k := key{d.FilingType, d.FiledDate}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}

func accessionFromIndex(indexURL string) string {
	u, err := url.Parse(indexURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if accession, ok := strings.CutSuffix(name, "-index.htm"); ok {
		return accession
	}
	if accession, ok := strings.CutSuffix(name, "-index.html"); ok {
		return accession
	}
	return ""
}

// onclickTarget extracts the location from parent.location='...' handlers used
// by the legacy paging buttons.
func onclickTarget(onclick string) string {
	start := strings.IndexByte(onclick, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(onclick[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return onclick[start+1 : start+1+end]
}

func resolve(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
