package dispatch

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func TestDetectFormatPDF(t *testing.T) {
	if got := detectFormat([]byte("%PDF-1.4\n...")); got != "application/pdf" {
		t.Fatalf("detectFormat() = %q, want application/pdf", got)
	}
}

func TestDetectFormatPostscript(t *testing.T) {
	if got := detectFormat([]byte("%!PS-Adobe-3.0")); got != "application/postscript" {
		t.Fatalf("detectFormat() = %q, want application/postscript", got)
	}
}

func TestDetectFormatJPEG(t *testing.T) {
	header := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F'}
	if got := detectFormat(header); got != "image/jpeg" {
		t.Fatalf("detectFormat() = %q, want image/jpeg", got)
	}
}

func TestDetectFormatPNG(t *testing.T) {
	header := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	if got := detectFormat(header); got != "image/png" {
		t.Fatalf("detectFormat() = %q, want image/png", got)
	}
}

func TestDetectFormatPWGRaster(t *testing.T) {
	if got := detectFormat([]byte("RAS2\x00\x00\x00\x00")); got != "image/pwg-raster" {
		t.Fatalf("detectFormat() = %q, want image/pwg-raster", got)
	}
}

func TestDetectFormatURF(t *testing.T) {
	if got := detectFormat([]byte("UNIRAST\x00")); got != "image/urf" {
		t.Fatalf("detectFormat() = %q, want image/urf", got)
	}
}

func TestDetectFormatUnrecognizedReturnsEmpty(t *testing.T) {
	if got := detectFormat([]byte("just some text")); got != "" {
		t.Fatalf("detectFormat() = %q, want empty", got)
	}
}

func TestDetectFormatShortHeaderNoMatch(t *testing.T) {
	if got := detectFormat([]byte("%P")); got != "" {
		t.Fatalf("detectFormat() = %q, want empty for a too-short header", got)
	}
}

func TestGroupTagsNonDecreasingAcceptsOrderedGroups(t *testing.T) {
	groups := goipp.Groups{
		{Tag: goipp.TagOperationGroup},
		{Tag: goipp.TagJobGroup},
		{Tag: goipp.TagJobGroup},
	}
	if !groupTagsNonDecreasing(groups) {
		t.Fatalf("groupTagsNonDecreasing() = false, want true")
	}
}

func TestGroupTagsNonDecreasingRejectsOutOfOrderGroups(t *testing.T) {
	groups := goipp.Groups{
		{Tag: goipp.TagJobGroup},
		{Tag: goipp.TagOperationGroup},
	}
	if groupTagsNonDecreasing(groups) {
		t.Fatalf("groupTagsNonDecreasing() = true, want false")
	}
}

func TestGroupTagsNonDecreasingEmptyIsOK(t *testing.T) {
	if !groupTagsNonDecreasing(nil) {
		t.Fatalf("groupTagsNonDecreasing(nil) = false, want true")
	}
}
