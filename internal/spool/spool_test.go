package spool

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestJobPath_UsesPrinterJobAndExtension(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: dir}

	got := s.JobPath("a/b:c?", 1, "application/pdf")
	want := filepath.Join(dir, "abc-1-pdf")
	if got != want {
		t.Fatalf("JobPath()=%q, want %q", got, want)
	}
}

func TestJobPath_UnknownFormatFallsBackToPrn(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: dir}

	got := s.JobPath("office", 2, "application/octet-stream")
	want := filepath.Join(dir, "office-2-prn")
	if got != want {
		t.Fatalf("JobPath()=%q, want %q", got, want)
	}
}

func TestResourcePath(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: dir}

	got := s.ResourcePath(7, "image/png")
	want := filepath.Join(dir, "resource-7.png")
	if got != want {
		t.Fatalf("ResourcePath()=%q, want %q", got, want)
	}
}

func TestSaveWritesFile(t *testing.T) {
	dir := t.TempDir()
	s := Spool{Dir: dir}

	path := s.JobPath("prn", 3, "application/pdf")
	n, err := s.Save(path, strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 8 {
		t.Fatalf("Save() wrote %d bytes, want 8", n)
	}
}
