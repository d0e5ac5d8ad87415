package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func filing(size int, header string) []byte {
	body := header + "\n"
	if pad := size - len(body); pad > 0 {
		body += strings.Repeat("x", pad)
	}
	return []byte(body)
}

func TestClassifyRegistrationStatement(t *testing.T) {
	c := New(1000)
	got := c.Classify("CRCL_S1_20250601.html", filing(15000, "CENTRAL INDEX KEY: 0001876042"))
	assert.Equal(t, Result{FilingType: TypeS1, IsValid: true}, got)
}

func TestClassifySearchResultsPage(t *testing.T) {
	c := New(1000)
	got := c.Classify("companysearch.html", []byte("<title>EDGAR Search Results</title>"))
	assert.False(t, got.IsValid)

	// large enough to pass the size check, still junk
	got = c.Classify("companysearch.html", filing(5000, "<title>EDGAR Search Results</title> SECURITIES AND EXCHANGE COMMISSION"))
	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonSearchResults, got.JunkReason)

	got = c.Classify("S-1_20250601_results.htm", filing(5000, "No matching Ticker Symbol. CENTRAL INDEX KEY:"))
	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonSearchResults, got.JunkReason)
	assert.Equal(t, TypeS1, got.FilingType)
}

func TestClassifyTooSmall(t *testing.T) {
	c := New(1000)
	got := c.Classify("HLEO_424B4_20250605.html", filing(500, "SECURITIES AND EXCHANGE COMMISSION"))
	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonTooSmall, got.JunkReason)
	assert.Equal(t, Type424B4, got.FilingType)
}

func TestClassifyProspectus(t *testing.T) {
	c := New(1000)
	got := c.Classify("HLEO_424B4_20250605.html", filing(4000, "UNITED STATES SECURITIES AND EXCHANGE COMMISSION\nCENTRAL INDEX KEY: 0002000000"))
	assert.Equal(t, Result{FilingType: Type424B4, IsValid: true}, got)
}

func TestClassifyMissingHeader(t *testing.T) {
	got := New(1000).Classify("S-1_20250601_page.htm", filing(3000, "<html><body>Welcome</body></html>"))
	assert.False(t, got.IsValid)
	assert.Equal(t, ReasonMissingHeader, got.JunkReason)
}

func TestClassifyFallsBackToSubmissionHeader(t *testing.T) {
	content := filing(2000, "<SEC-HEADER>\nCONFORMED SUBMISSION TYPE:\t424B4\nCENTRAL INDEX KEY: 1")
	got := New(1000).Classify("d123456.htm", content)
	assert.Equal(t, Type424B4, got.FilingType)
	assert.True(t, got.IsValid)
}

func TestTypeFromName(t *testing.T) {
	cases := map[string]string{
		"S-1_A_20250605_ds1a.htm":     TypeS1A,
		"crcl_s1a_20250605.htm":       TypeS1A,
		"S-1/A":                       TypeS1A,
		"S-1-A_20250605.htm":          TypeS1A,
		"CRCL_S1_20250601.html":       TypeS1,
		"S-1_20250601_ds1.htm":        TypeS1,
		"424B4_20250610_d424b4.htm":   Type424B4,
		"8-A12B_20250604_d8a12b.htm":  Type8A,
		"form_8a.htm":                 Type8A,
		"ex10-3_lockup_agreement.htm": TypeLockUp,
		"Lock-Up Agreement":           TypeLockUp,
		"ex1-1_underwriting.htm":      TypeUnderwriting,
		"10-K_20240301_d10k.htm":      TypeOther,
		"s1234.htm":                   TypeOther,
		"":                            TypeOther,
	}
	for name, want := range cases {
		assert.Equal(t, want, TypeFromName(name), name)
	}
}

func TestNewDefaultsMinBytes(t *testing.T) {
	got := New(0).Classify("x.htm", filing(DefaultMinBytes-1, "CENTRAL INDEX KEY:"))
	assert.Equal(t, ReasonTooSmall, got.JunkReason)
}
