package edgar

import (
	"fmt"
	"strings"
)

// PadCIK returns cik left-padded with zeros to the ten digits used by
// data.sec.gov endpoints.
func PadCIK(cik string) string {
	return fmt.Sprintf("%010s", TrimCIK(cik))
}

// TrimCIK strips whitespace and leading zeros, the form used in archive paths.
func TrimCIK(cik string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// SubmissionsURL is the JSON filing list for cik under dataURL
// (normally https://data.sec.gov).
func SubmissionsURL(dataURL, cik string) string {
	return fmt.Sprintf("%s/submissions/CIK%s.json", strings.TrimRight(dataURL, "/"), PadCIK(cik))
}

// BrowseURL is the legacy HTML filing list for cik under baseURL.
func BrowseURL(baseURL, cik string) string {
	return fmt.Sprintf("%s/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=&dateb=&owner=include&count=40",
		strings.TrimRight(baseURL, "/"), PadCIK(cik))
}
