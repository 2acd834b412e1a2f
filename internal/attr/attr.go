// Package attr implements the attribute kernel described by the IPP
// core: typed, group-tagged attribute values built directly on top of
// goipp.Attribute/goipp.Values, plus the find/copy/filter/validate
// operations every other component in the server relies on.
//
// Deliberately, group tags and value tags stay a single tagged record
// (goipp.Attribute carries its Values' Tag inline) rather than an
// inheritance hierarchy of Go types — that matches the wire format and
// keeps DeepCopy/Equal trivial.
package attr

import (
	"sort"
	"strings"

	"github.com/OpenPrinting/goipp"
)

// Set is a named group of attributes plus the group tag they live
// under. It is the in-memory analogue of one "attributes-tag" section
// of an IPP message.
type Set struct {
	Group goipp.Tag
	Attrs goipp.Attributes
}

// NewSet makes an empty attribute Set for the given group tag.
func NewSet(group goipp.Tag) *Set {
	return &Set{Group: group}
}

// Find returns the first attribute with the given name, or ok=false.
// If tag != goipp.TagZero, the attribute's first value must also carry
// that tag.
func Find(attrs goipp.Attributes, name string, tag goipp.Tag) (goipp.Attribute, bool) {
	for _, a := range attrs {
		if a.Name != name {
			continue
		}
		if tag == goipp.TagZero {
			return a, true
		}
		if len(a.Values) > 0 && a.Values[0].T == tag {
			return a, true
		}
	}
	return goipp.Attribute{}, false
}

// FindIndex is like Find but also returns the attribute's index within
// attrs, or -1 if not found.
func FindIndex(attrs goipp.Attributes, name string, tag goipp.Tag) (int, bool) {
	for i, a := range attrs {
		if a.Name != name {
			continue
		}
		if tag == goipp.TagZero || (len(a.Values) > 0 && a.Values[0].T == tag) {
			return i, true
		}
	}
	return -1, false
}

// Delete removes the first attribute named name from attrs, returning
// the (possibly unmodified) slice.
func Delete(attrs goipp.Attributes, name string) goipp.Attributes {
	for i, a := range attrs {
		if a.Name == name {
			return append(attrs[:i:i], attrs[i+1:]...)
		}
	}
	return attrs
}

// SetAttr replaces (or appends) the attribute named a.Name within attrs.
func SetAttr(attrs goipp.Attributes, a goipp.Attribute) goipp.Attributes {
	for i := range attrs {
		if attrs[i].Name == a.Name {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}

// FilterFunc decides whether an attribute survives a Copy: used both
// for requested-attributes selection and for owner-vs-non-owner
// privacy filtering (spec §4.5, "owner-or-admin").
type FilterFunc func(name string) bool

// AllAttributes is a FilterFunc that keeps every attribute (the
// "all"/"1all" requested-attributes value).
func AllAttributes(string) bool { return true }

// NameFilter builds a FilterFunc from an explicit requested-attributes
// list. An empty list, or one containing "all", keeps everything.
func NameFilter(requested []string) FilterFunc {
	if len(requested) == 0 {
		return AllAttributes
	}
	want := make(map[string]bool, len(requested))
	for _, n := range requested {
		switch n {
		case "all":
			return AllAttributes
		case "job-template":
			want["job-template"] = true
		}
		want[n] = true
	}
	return func(name string) bool {
		return want[name]
	}
}

// Copy deep-copies attrs, keeping only the attributes filter approves
// (a nil filter keeps all). Collections are copied whole (the filter
// applies to the top-level attribute name only, matching IPP semantics
// where requested-attributes never reaches inside a collection).
func Copy(attrs goipp.Attributes, filter FilterFunc) goipp.Attributes {
	if filter == nil {
		filter = AllAttributes
	}
	out := make(goipp.Attributes, 0, len(attrs))
	for _, a := range attrs {
		if !filter(a.Name) {
			continue
		}
		out = append(out, a.DeepCopy())
	}
	return out
}

// IsOutOfBand reports whether tag carries no concrete value
// (novalue/unknown/unsupported/not-settable/admin-define/delete-attribute).
func IsOutOfBand(tag goipp.Tag) bool {
	switch tag {
	case goipp.TagUnsupportedValue, goipp.TagDefault, goipp.TagUnknown,
		goipp.TagNoValue, goipp.TagNotSettable, goipp.TagDeleteAttr,
		goipp.TagAdminDefine:
		return true
	}
	return false
}

// EqualTag reports whether wire tag "have" satisfies a schema's
// declared tag "want", honoring the name<->nameWithLang and
// text<->textWithLang equivalences spec §4.3 requires.
func EqualTag(want, have goipp.Tag) bool {
	if want == have {
		return true
	}
	switch want {
	case goipp.TagName:
		return have == goipp.TagNameLang
	case goipp.TagNameLang:
		return have == goipp.TagName
	case goipp.TagText:
		return have == goipp.TagTextLang
	case goipp.TagTextLang:
		return have == goipp.TagText
	}
	return false
}

// Values returns the string form of every value of attribute name,
// or nil if the attribute is absent. Out-of-band values are skipped, so
// an attribute holding only out-of-band values yields an empty slice.
func Values(attrs goipp.Attributes, name string) []string {
	a, ok := Find(attrs, name, goipp.TagZero)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(a.Values))
	for _, v := range a.Values {
		if IsOutOfBand(v.T) {
			continue
		}
		out = append(out, v.V.String())
	}
	return out
}

// String returns the first string value of attribute name, or "".
func String(attrs goipp.Attributes, name string) string {
	vs := Values(attrs, name)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Int returns the first integer/enum value of attribute name, or def.
func Int(attrs goipp.Attributes, name string, def int) int {
	a, ok := Find(attrs, name, goipp.TagZero)
	if !ok || len(a.Values) == 0 {
		return def
	}
	if i, ok := a.Values[0].V.(goipp.Integer); ok {
		return int(i)
	}
	return def
}

// Bool returns the first boolean value of attribute name, or def.
func Bool(attrs goipp.Attributes, name string, def bool) bool {
	a, ok := Find(attrs, name, goipp.TagZero)
	if !ok || len(a.Values) == 0 {
		return def
	}
	if b, ok := a.Values[0].V.(goipp.Boolean); ok {
		return bool(b)
	}
	return def
}

// Has reports whether attrs contains an attribute named name.
func Has(attrs goipp.Attributes, name string) bool {
	_, ok := Find(attrs, name, goipp.TagZero)
	return ok
}

// EnvName converts an IPP attribute name into the IPP_<NAME> shape the
// transform command's environment uses (spec §4.6/§6): uppercase,
// hyphens to underscores.
func EnvName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	b.WriteString("IPP_")
	for _, r := range name {
		if r == '-' {
			b.WriteByte('_')
		} else if r >= 'a' && r <= 'z' {
			b.WriteByte(byte(r - 'a' + 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EnvValue flattens an attribute's values into the comma-joined string
// form used by IPP_* environment variables (1setOf values joined by
// comma, per spec §6).
func EnvValue(a goipp.Attribute) string {
	parts := make([]string, 0, len(a.Values))
	for _, v := range a.Values {
		if IsOutOfBand(v.T) {
			continue
		}
		parts = append(parts, v.V.String())
	}
	return strings.Join(parts, ",")
}

// SortedNames returns the attribute names of attrs, deduplicated and
// sorted; used by the validator to build "supported keywords" checks.
func SortedNames(attrs goipp.Attributes) []string {
	seen := make(map[string]bool, len(attrs))
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if !seen[a.Name] {
			seen[a.Name] = true
			out = append(out, a.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Validate performs structural well-formedness checks (spec §4.1):
// every attribute has a name, every value's tag matches its declared
// Type() family for the slice, and nameWithLang/textWithLang carry a
// TextWithLang value.
func Validate(attrs goipp.Attributes) bool {
	for _, a := range attrs {
		if a.Name == "" {
			return false
		}
		for _, v := range a.Values {
			if IsOutOfBand(v.T) {
				continue
			}
			switch v.T {
			case goipp.TagNameLang, goipp.TagTextLang:
				if _, ok := v.V.(goipp.TextWithLang); !ok {
					return false
				}
			default:
				if v.T.Type() != v.V.Type() {
					return false
				}
			}
		}
	}
	return true
}
