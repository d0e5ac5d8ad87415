package download

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	fileutil "hedgeintel/internal/file"
	"hedgeintel/internal/pipeline"
)

const (
	metadataFileName = "metadata.json"
	junkDirName      = "junk"
)

var ErrNoMetadata = errors.New("no metadata recorded for company")

// DocumentRecord describes one document kept for a company.
type DocumentRecord struct {
	SourceURL     string `json:"source_url"`
	LocalFilename string `json:"local_filename"`
	ByteSize      int64  `json:"byte_size"`
	FilingType    string `json:"filing_type"`
	IsValid       bool   `json:"is_valid"`
	JunkReason    string `json:"junk_reason,omitempty"`
	FormType      string `json:"form_type"`
	FiledDate     string `json:"filed_date"`
	Accession     string `json:"accession,omitempty"`
}

// CompanyMetadata is the record written to <ticker>/metadata.json after every
// completed scan. Each scan overwrites the previous one.
type CompanyMetadata struct {
	Ticker           string           `json:"ticker"`
	CIK              string           `json:"cik"`
	Name             string           `json:"name,omitempty"`
	RunID            string           `json:"run_id"`
	LastScan         time.Time        `json:"last_scan"`
	TotalFiles       int              `json:"total_files"`
	ValidFiles       int              `json:"valid_files"`
	JunkFiles        int              `json:"junk_files"`
	FilingTypeCounts map[string]int   `json:"filing_type_counts"`
	FilingsSeen      int              `json:"filings_seen"`
	FailedFilings    int              `json:"failed_filings"`
	FailedDocuments  int              `json:"failed_documents"`
	Downloaded       int              `json:"downloaded"`
	Reused           int              `json:"reused"`
	Documents        []DocumentRecord `json:"documents"`
}

// CompanyDir is the directory holding a company's documents.
func CompanyDir(dataDir, ticker string) string {
	return filepath.Join(dataDir, fileutil.SafeName(pipeline.NormalizeTicker(ticker)))
}

// JunkDir holds documents classified as junk, kept so re-runs skip them and the
// count stays auditable.
func JunkDir(dataDir, ticker string) string {
	return filepath.Join(CompanyDir(dataDir, ticker), junkDirName)
}

// MetadataPath is the location of a company's metadata.json.
func MetadataPath(dataDir, ticker string) string {
	return filepath.Join(CompanyDir(dataDir, ticker), metadataFileName)
}

// LoadMetadata reads the last metadata record written for ticker.
func LoadMetadata(dataDir, ticker string) (*CompanyMetadata, error) {
	data, err := os.ReadFile(MetadataPath(dataDir, ticker)) //nolint:gosec // path is built from the data dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoMetadata
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta CompanyMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

func writeMetadata(dataDir string, meta *CompanyMetadata) error {
	return fileutil.WriteJSONAtomic(MetadataPath(dataDir, meta.Ticker), meta) //nolint:wrapcheck
}
