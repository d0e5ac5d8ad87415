package edgar

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentLink is one document listed on a filing's index page.
type DocumentLink struct {
	Sequence    int    `json:"sequence,omitempty"`
	Description string `json:"description,omitempty"`
	DocType     string `json:"doc_type,omitempty"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
}

// ParseDocumentIndex extracts the documents of one filing from either the HTML
// index page (table.tableFile) or the directory listing served as index.json.
// pageURL is the address body was fetched from; relative links resolve against it.
func ParseDocumentIndex(body []byte, pageURL string) []DocumentLink {
	if looksLikeJSON(body) {
		return parseDirectoryListing(body, pageURL)
	}
	if looksLikeHTML(body) {
		return parseDocumentTable(body, pageURL)
	}
	return []DocumentLink{}
}

func parseDocumentTable(body []byte, pageURL string) []DocumentLink {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return []DocumentLink{}
	}
	links := []DocumentLink{}
	// only the first table lists documents; the second holds data files
	doc.Find("table.tableFile").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		href, ok := cells.Eq(2).Find("a").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		target := resolve(pageURL, unwrapViewer(strings.TrimSpace(href)))
		if target == "" {
			return
		}
		link := DocumentLink{
			Description: strings.TrimSpace(cells.Eq(1).Text()),
			URL:         target,
			Filename:    filenameOf(target),
		}
		if seq, err := strconv.Atoi(strings.TrimSpace(cells.Eq(0).Text())); err == nil {
			link.Sequence = seq
		}
		if cells.Length() > 3 {
			link.DocType = strings.TrimSpace(cells.Eq(3).Text())
		}
		links = append(links, link)
	})
	return links
}

type directoryListing struct {
	Directory struct {
		Name string `json:"name"`
		Item []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"item"`
	} `json:"directory"`
}

func parseDirectoryListing(body []byte, pageURL string) []DocumentLink {
	var listing directoryListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return []DocumentLink{}
	}
	base := pageURL
	if dir := listing.Directory.Name; dir != "" {
		base = resolve(pageURL, strings.TrimRight(dir, "/")+"/")
	}
	links := []DocumentLink{}
	for i, item := range listing.Directory.Item {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Type == "folder.gif" || strings.HasSuffix(name, "/") {
			continue
		}
		target := resolve(base, name)
		if target == "" {
			continue
		}
		links = append(links, DocumentLink{
			Sequence: i + 1,
			URL:      target,
			Filename: filenameOf(target),
		})
	}
	return links
}

// unwrapViewer turns an inline XBRL viewer link (/ix?doc=/Archives/...) into
// the underlying document path.
func unwrapViewer(href string) string {
	u, err := url.Parse(href)
	if err != nil || path.Base(u.Path) != "ix" {
		return href
	}
	if doc := u.Query().Get("doc"); doc != "" {
		return doc
	}
	return href
}

func filenameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}
