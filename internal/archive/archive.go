// Package archive packs a company's kept documents into a zip for export.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	fileutil "hedgeintel/internal/file"

	"github.com/rs/zerolog/log"
)

// Result describes the outcome of adding one file to the archive.
type Result struct {
	Filename string `json:"filename"`
	Err      string `json:"error,omitempty"`
}

var ErrEmptySource = errors.New("no documents to archive")

// BuildArchive zips the regular files directly inside sourceDir into
// destZipPath. Subdirectories (junk/ among them) and hidden files are left
// out. The zip is written to a temporary file and renamed into place, so
// readers never see a partial archive. A file that cannot be read is reported
// in its Result and omitted.
func BuildArchive(ctx context.Context, destZipPath, sourceDir string) ([]Result, error) {
	names, err := listFiles(sourceDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrEmptySource
	}

	destDir := filepath.Dir(destZipPath)
	if err := fileutil.EnsureDir(destDir); err != nil {
		return nil, err //nolint:wrapcheck
	}
	tempFile, err := os.CreateTemp(destDir, ".zip-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	cleanup := func() {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
	}

	zipWriter := zip.NewWriter(tempFile)
	results := make([]Result, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			_ = zipWriter.Close()
			cleanup()
			return results, err //nolint:wrapcheck
		}
		results[i] = addFile(zipWriter, filepath.Join(sourceDir, name), name)
	}

	if err := zipWriter.Close(); err != nil {
		cleanup()
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		cleanup()
		return results, fmt.Errorf("sync zip: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return results, fmt.Errorf("close zip file: %w", err)
	}
	if err := os.Rename(tmpName, destZipPath); err != nil {
		_ = os.Remove(tmpName)
		return results, fmt.Errorf("rename zip: %w", err)
	}
	return results, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrEmptySource
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// addFile copies one file into the zip, returning its Result.
func addFile(zipWriter *zip.Writer, path, name string) Result {
	result := Result{Filename: name}

	source, err := os.Open(path) //nolint:gosec // path is built from the data dir
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("open for archive failed")
		return result
	}
	defer func() { _ = source.Close() }()

	zipEntryWriter, err := zipWriter.Create(name)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(zipEntryWriter, source); err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("copy into zip failed")
		return result
	}
	return result
}
