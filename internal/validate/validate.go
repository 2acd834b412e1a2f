// Package validate implements the table-driven attribute validator of
// spec.md §4.3: three static schemas (job-creatable, printer
// creatable/settable, system-settable) drive group/tag/cardinality
// checks, grounded on the teacher's per-operation attribute parsing in
// SoraKasvgano-Cups-golang/internal/server/ipp.go (attrString/attrInt/
// attrBool helpers) generalized into a reusable table instead of one
// bespoke switch per handler.
package validate

import (
	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
)

// Cardinality flags a schema row's multiplicity.
type Cardinality int

const (
	// Single means the attribute must carry exactly one value.
	Single Cardinality = iota
	// OneSetOf means the attribute may carry one or more values.
	OneSetOf
)

// Row is one schema entry: an attribute name, its expected value tag,
// an optional out-of-band alternate tag, its cardinality, and whether
// it is exempt from the group check because it legitimately appears in
// the operation group during a create op (e.g. document-format on
// Print-Job).
type Row struct {
	Name          string
	Tag           goipp.Tag
	AltTag        goipp.Tag // goipp.TagZero if none
	Card          Cardinality
	CreateOpGroup bool // valid in TagOperation during a create op

	// HasRange, when set, bounds an integer-tagged value to [Min, Max]
	// inclusive (spec §4.3/§7, e.g. copies=0 is attributes-or-values).
	HasRange bool
	Min, Max int
}

// Schema is a named table of Rows, keyed by attribute name for lookup.
type Schema struct {
	rows map[string]Row
}

// NewSchema builds a Schema from a row list.
func NewSchema(rows []Row) *Schema {
	s := &Schema{rows: make(map[string]Row, len(rows))}
	for _, r := range rows {
		s.rows[r.Name] = r
	}
	return s
}

// Row looks up the schema entry for name.
func (s *Schema) Row(name string) (Row, bool) {
	r, ok := s.rows[name]
	return r, ok
}

// JobCreation is the job-creatable attribute schema (job-template
// group of Print-Job/Create-Job/Print-URI, spec §4.3/§4.6).
var JobCreation = NewSchema([]Row{
	{Name: "job-name", Tag: goipp.TagName, AltTag: goipp.TagNameLang, Card: Single},
	{Name: "job-priority", Tag: goipp.TagInteger, Card: Single, HasRange: true, Min: 1, Max: 100},
	{Name: "job-hold-until", Tag: goipp.TagKeyword, AltTag: goipp.TagName, Card: Single},
	{Name: "job-hold-until-time", Tag: goipp.TagDateTime, Card: Single},
	{Name: "job-sheets", Tag: goipp.TagKeyword, Card: Single},
	{Name: "multiple-document-handling", Tag: goipp.TagKeyword, Card: Single},
	{Name: "copies", Tag: goipp.TagInteger, Card: Single, HasRange: true, Min: 1, Max: 999},
	{Name: "job-impressions", Tag: goipp.TagInteger, Card: Single, HasRange: true, Min: 0, Max: 1 << 30},
	{Name: "finishings", Tag: goipp.TagEnum, Card: OneSetOf},
	{Name: "page-ranges", Tag: goipp.TagRange, Card: OneSetOf},
	{Name: "sides", Tag: goipp.TagKeyword, Card: Single},
	{Name: "number-up", Tag: goipp.TagInteger, Card: Single},
	{Name: "orientation-requested", Tag: goipp.TagEnum, Card: Single},
	{Name: "media", Tag: goipp.TagKeyword, AltTag: goipp.TagName, Card: Single},
	{Name: "print-quality", Tag: goipp.TagEnum, Card: Single},
	{Name: "print-color-mode", Tag: goipp.TagKeyword, Card: Single},
	{Name: "printer-resolution", Tag: goipp.TagResolution, Card: Single},
	{Name: "document-format", Tag: goipp.TagMimeType, Card: Single, CreateOpGroup: true},
	{Name: "document-name", Tag: goipp.TagName, AltTag: goipp.TagNameLang, Card: Single, CreateOpGroup: true},
	{Name: "compression", Tag: goipp.TagKeyword, Card: Single, CreateOpGroup: true},
	{Name: "requesting-user-name", Tag: goipp.TagName, AltTag: goipp.TagNameLang, Card: Single, CreateOpGroup: true},
	{Name: "last-document", Tag: goipp.TagBoolean, Card: Single, CreateOpGroup: true},
})

// PrinterCreation is the printer-creatable/settable attribute schema
// (Create-Printer, Set-Printer-Attributes).
var PrinterCreation = NewSchema([]Row{
	{Name: "printer-name", Tag: goipp.TagName, AltTag: goipp.TagNameLang, Card: Single, CreateOpGroup: true},
	{Name: "printer-info", Tag: goipp.TagText, AltTag: goipp.TagTextLang, Card: Single},
	{Name: "printer-location", Tag: goipp.TagText, AltTag: goipp.TagTextLang, Card: Single},
	{Name: "printer-geo-location", Tag: goipp.TagURI, AltTag: goipp.TagUnknown, Card: Single},
	{Name: "printer-organization", Tag: goipp.TagText, AltTag: goipp.TagTextLang, Card: OneSetOf},
	{Name: "printer-organizational-unit", Tag: goipp.TagText, AltTag: goipp.TagTextLang, Card: OneSetOf},
	{Name: "printer-is-accepting-jobs", Tag: goipp.TagBoolean, Card: Single},
	{Name: "printer-device-id", Tag: goipp.TagText, Card: Single},
	{Name: "device-uri", Tag: goipp.TagURI, Card: Single, CreateOpGroup: true},
	{Name: "print-group", Tag: goipp.TagName, Card: Single},
	{Name: "proxy-group", Tag: goipp.TagName, Card: Single},
	{Name: "printer-icc-profiles", Tag: goipp.TagBeginCollection, Card: OneSetOf},
	{Name: "job-sheets-default", Tag: goipp.TagKeyword, Card: Single},
	{Name: "job-creation-attributes-supported", Tag: goipp.TagKeyword, Card: OneSetOf},
	{Name: "printer-creation-attributes-supported", Tag: goipp.TagKeyword, Card: OneSetOf},
})

// SystemSettable is the schema for Set-System-Attributes.
var SystemSettable = NewSchema([]Row{
	{Name: "system-default-printer-id", Tag: goipp.TagInteger, Card: Single},
	{Name: "system-name", Tag: goipp.TagName, AltTag: goipp.TagNameLang, Card: Single},
	{Name: "system-geo-location", Tag: goipp.TagURI, AltTag: goipp.TagUnknown, Card: Single},
	{Name: "system-location", Tag: goipp.TagText, AltTag: goipp.TagTextLang, Card: Single},
	{Name: "system-contact-col", Tag: goipp.TagBeginCollection, Card: Single},
})

// Result reports the outcome of a Check: which attributes failed and
// why, so the caller can build the `unsupported` response group (spec
// §4.3, "attaches offending attributes to the unsupported group").
type Result struct {
	OK          bool
	Unsupported goipp.Attributes
}

func fail(r *Result, a goipp.Attribute) {
	r.OK = false
	r.Unsupported = append(r.Unsupported, a)
}

// Check validates every attribute in group (tagged groupTag) against
// schema, per spec §4.3's two-step rule: supported-keywords membership
// (when supportedNames is non-nil), then per-row group/tag/cardinality.
// isCreateOp relaxes the group check for CreateOpGroup rows that
// legitimately arrive in the operation group.
func Check(schema *Schema, group goipp.Attributes, groupTag goipp.Tag, isCreateOp bool, supportedNames map[string]bool) Result {
	res := Result{OK: true}
	for _, a := range group {
		row, known := schema.Row(a.Name)
		if !known {
			continue // unrecognized attribute names are ignored, not rejected, unless a supported-list says otherwise
		}
		if supportedNames != nil && !supportedNames[a.Name] {
			fail(&res, a)
			continue
		}
		if !checkRow(row, a, groupTag, isCreateOp) {
			fail(&res, a)
		}
	}
	return res
}

func checkRow(row Row, a goipp.Attribute, groupTag goipp.Tag, isCreateOp bool) bool {
	if row.Card == Single && len(a.Values) > 1 {
		return false
	}
	if len(a.Values) == 0 {
		return false
	}
	for _, v := range a.Values {
		if attr.IsOutOfBand(v.T) {
			if row.AltTag == goipp.TagZero {
				return false
			}
			continue
		}
		if !attr.EqualTag(row.Tag, v.T) && !attr.EqualTag(row.AltTag, v.T) {
			return false
		}
		if row.HasRange && v.T == goipp.TagInteger {
			n, ok := v.V.(goipp.Integer)
			if !ok || int(n) < row.Min || int(n) > row.Max {
				return false
			}
		}
	}
	inOperationGroup := attr.EqualTag(groupTag, goipp.TagOperationGroup)
	if inOperationGroup && !(row.CreateOpGroup && isCreateOp) {
		return false // this row belongs in its own group, not the operation group
	}
	return true
}
