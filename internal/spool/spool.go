// Package spool manages the on-disk document files that outlive a
// terminal Job (spec §6, "Spool file layout"): job files are named
// "{spool}/{printer}-{jobid}-{extension}", resource files
// "{spool}/resource-{id}.{ext}". Adapted from the teacher's
// internal/spool.Spool, whose "job-<id>-<unixnano>[-name]" naming
// didn't carry a printer name or a MIME-derived extension; this keeps
// its Ensure/Save shape and sanitizeFileName helper.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Spool owns the directory documents and resources are written into.
type Spool struct {
	Dir string
}

// Ensure creates the spool directory if it does not already exist.
func (s Spool) Ensure() error {
	return os.MkdirAll(s.Dir, 0o755)
}

// extensionFor maps a MIME type to the file extension spec §6's
// naming scheme uses; unknown formats fall back to "prn".
func extensionFor(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return "pdf"
	case "application/postscript":
		return "ps"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/pwg-raster":
		return "pwg"
	case "image/urf":
		return "urf"
	case "text/plain":
		return "txt"
	case "application/vnd.iccprofile":
		return "icc"
	case "text/strings":
		return "strings"
	case "application/octet-stream", "":
		return "prn"
	default:
		return "prn"
	}
}

// JobPath returns the spool path for a document belonging to job
// jobID on printer printerName in the given MIME format, without
// creating it.
func (s Spool) JobPath(printerName string, jobID int, mimeType string) string {
	name := fmt.Sprintf("%s-%d-%s", sanitizeFileName(printerName), jobID, extensionFor(mimeType))
	return filepath.Join(s.Dir, name)
}

// OutputPath returns the spool path for a job's transform output
// (TO_FILE mode), distinguished from JobPath's input file by an
// "-out" suffix before the extension.
func (s Spool) OutputPath(printerName string, jobID int, mimeType string) string {
	name := fmt.Sprintf("%s-%d-out.%s", sanitizeFileName(printerName), jobID, extensionFor(mimeType))
	return filepath.Join(s.Dir, name)
}

// ResourcePath returns the spool path for resource id in the given
// MIME format, without creating it.
func (s Spool) ResourcePath(id int64, mimeType string) string {
	name := fmt.Sprintf("resource-%d.%s", id, extensionFor(mimeType))
	return filepath.Join(s.Dir, name)
}

// Create opens path for writing, creating the spool directory first if
// needed.
func (s Spool) Create(path string) (*os.File, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// Save streams r into path, returning the number of bytes written.
func (s Spool) Save(path string, r io.Reader) (int64, error) {
	f, err := s.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

func sanitizeFileName(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			continue
		}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		return "printer"
	}
	return string(clean)
}
