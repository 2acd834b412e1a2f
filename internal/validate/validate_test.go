package validate

import (
	"testing"

	"github.com/OpenPrinting/goipp"
)

func intAttr(name string, v int) goipp.Attribute {
	return goipp.MakeAttribute(name, goipp.TagInteger, goipp.Integer(v))
}

func TestCheckJobCreationAcceptsInRangeValues(t *testing.T) {
	group := goipp.Attributes{intAttr("copies", 1), intAttr("job-priority", 50)}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if !res.OK {
		t.Fatalf("Check() OK = false, want true; unsupported = %v", res.Unsupported)
	}
}

func TestCheckJobCreationRejectsZeroCopies(t *testing.T) {
	group := goipp.Attributes{intAttr("copies", 0)}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if res.OK {
		t.Fatalf("Check() OK = true, want false for copies=0")
	}
	if len(res.Unsupported) != 1 || res.Unsupported[0].Name != "copies" {
		t.Fatalf("Unsupported = %v, want [copies]", res.Unsupported)
	}
}

func TestCheckJobCreationRejectsCopiesOverMax(t *testing.T) {
	group := goipp.Attributes{intAttr("copies", 1000)}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if res.OK {
		t.Fatalf("Check() OK = true, want false for copies=1000")
	}
}

func TestCheckJobCreationRejectsNegativeJobImpressions(t *testing.T) {
	group := goipp.Attributes{intAttr("job-impressions", -1)}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if res.OK {
		t.Fatalf("Check() OK = true, want false for job-impressions=-1")
	}
}

func TestCheckIgnoresUnrecognizedAttributeNames(t *testing.T) {
	group := goipp.Attributes{goipp.MakeAttribute("x-vendor-thing", goipp.TagKeyword, goipp.String("whatever"))}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if !res.OK {
		t.Fatalf("Check() OK = false, want true for unrecognized attribute")
	}
}

func TestCheckRejectsWrongCardinality(t *testing.T) {
	group := goipp.Attributes{{
		Name: "copies",
		Values: goipp.Values{
			{T: goipp.TagInteger, V: goipp.Integer(1)},
			{T: goipp.TagInteger, V: goipp.Integer(2)},
		},
	}}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, nil)
	if res.OK {
		t.Fatalf("Check() OK = true, want false for multi-valued copies")
	}
}

func TestCheckSupportedNamesRejectsUnlisted(t *testing.T) {
	group := goipp.Attributes{goipp.MakeAttribute("media", goipp.TagKeyword, goipp.String("iso_a4_210x297mm"))}
	res := Check(JobCreation, group, goipp.TagJobGroup, false, map[string]bool{"copies": true})
	if res.OK {
		t.Fatalf("Check() OK = true, want false when media isn't in supportedNames")
	}
}
