// Package resource implements the resource engine of spec.md §4.8:
// upload/install/allocate/cancel lifecycle for static payloads, and
// attribute-template merging into Create-Printer and job-creation
// requests. Grounded on the teacher's model.Document upload/state
// pattern (a spool file plus a use-tracked lifecycle), generalized to
// the resource-specific state machine and template-merge behavior
// spec.md describes that the teacher has no analogue for.
package resource

import (
	"fmt"
	"time"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/registry"
	"github.com/thilo-hub/ippsample/internal/validate"
)

// SupportedFormats lists the resource-format values Send-Resource-Data
// accepts (spec §4.8).
var SupportedFormats = map[string]bool{
	"application/ipp":              true,
	"application/pdf":              true,
	"application/vnd.iccprofile":   true,
	"image/jpeg":                   true,
	"image/png":                    true,
	"text/strings":                 true,
}

// ErrUnsupportedFormat is returned when Send-Resource-Data's
// resource-format is not in SupportedFormats.
var ErrUnsupportedFormat = fmt.Errorf("resource: unsupported resource-format")

// ErrNotAvailable is returned when Install-Resource is attempted on a
// resource that has not finished receiving data.
var ErrNotAvailable = fmt.Errorf("resource: not available")

// ErrNotInstalled is returned when Allocate-Printer-Resources targets
// a resource that is not installed.
var ErrNotInstalled = fmt.Errorf("resource: not installed")

// ErrResourcesMaxReached is returned when a printer already holds
// SERVER_RESOURCES_MAX allocated resources.
var ErrResourcesMaxReached = fmt.Errorf("resource: printer resource limit reached")

// DefaultResourcesMax is used when SERVER_RESOURCES_MAX is unset.
const DefaultResourcesMax = 100

// Create registers a new, empty resource of the given type and format,
// in the pending state, awaiting Send-Resource-Data.
func Create(reg *registry.Registry, typ model.ResourceType, format string) *model.Resource {
	res := &model.Resource{
		Type:    typ,
		Format:  format,
		State:   model.ResourcePending,
		Created: time.Now(),
	}
	reg.AddResource(res)
	return res
}

// SendData transitions res from pending to available once its payload
// is fully written, validating resource-format first.
func SendData(res *model.Resource, format string) error {
	if !SupportedFormats[format] && !res.Type.IsTemplate() {
		return ErrUnsupportedFormat
	}
	res.RWLock.Lock()
	defer res.RWLock.Unlock()
	res.Format = format
	res.State = model.ResourceAvailable
	InvalidateTemplate(res.ID)
	return nil
}

// Install transitions res from available to installed.
func Install(res *model.Resource) error {
	res.RWLock.Lock()
	defer res.RWLock.Unlock()
	if res.State != model.ResourceAvailable {
		return ErrNotAvailable
	}
	res.State = model.ResourceInstalled
	return nil
}

// Allocate assigns an installed, non-template resource to a printer,
// enforcing max at most SERVER_RESOURCES_MAX allocations per printer
// (spec §4.8).
func Allocate(p *model.Printer, res *model.Resource, max int) error {
	if max <= 0 {
		max = DefaultResourcesMax
	}
	res.RWLock.Lock()
	if res.State != model.ResourceInstalled || res.Type.IsTemplate() {
		res.RWLock.Unlock()
		return ErrNotInstalled
	}
	res.RWLock.Unlock()

	p.RWLock.Lock()
	defer p.RWLock.Unlock()
	if p.Resources == nil {
		p.Resources = make(map[int64]bool)
	}
	if !p.Resources[res.ID] && len(p.Resources) >= max {
		return ErrResourcesMaxReached
	}
	p.Resources[res.ID] = true

	res.RWLock.Lock()
	res.UseCount++
	res.RWLock.Unlock()
	return nil
}

// Deallocate removes res from p's allocated set, dropping its use
// count and finalizing a pending cancel once it reaches zero.
func Deallocate(reg *registry.Registry, p *model.Printer, res *model.Resource) {
	p.RWLock.Lock()
	if p.Resources != nil {
		delete(p.Resources, res.ID)
	}
	p.RWLock.Unlock()

	res.RWLock.Lock()
	if res.UseCount > 0 {
		res.UseCount--
	}
	shouldRemove := res.UseCount == 0 && res.Cancel
	if shouldRemove {
		res.State = model.ResourceCanceled
	}
	res.RWLock.Unlock()

	if shouldRemove {
		reg.DeleteResource(res.ID)
	}
}

// Cancel marks res for removal (spec §4.8, "Cancel-Resource on a
// resource with use>0 sets a cancel flag; actual state transition to
// canceled happens when use drops to zero").
func Cancel(reg *registry.Registry, res *model.Resource) {
	res.RWLock.Lock()
	if res.UseCount > 0 {
		res.Cancel = true
		res.RWLock.Unlock()
		return
	}
	res.State = model.ResourceCanceled
	res.RWLock.Unlock()
	reg.DeleteResource(res.ID)
}

// MergeTemplate applies a template resource's stored attribute set
// into target, filtered by supportedNames (the target printer's
// printer-creation-attributes-supported / job-creation-attributes-supported,
// spec §4.8) and by schema (the same job-creatable/printer-creatable
// table validate.Check enforces -- a stored attribute only copies over
// when its name is known to schema and its value tag matches the row).
// Existing attributes in target are not overwritten. Grounded on the
// original's apply_template_attributes (original_source/server/ipp.c:453),
// which does the identical name/tag/cardinality lookup against a
// per-group value table before copying.
func MergeTemplate(res *model.Resource, target goipp.Attributes, schema *validate.Schema, supportedNames map[string]bool) goipp.Attributes {
	res.RWLock.RLock()
	defer res.RWLock.RUnlock()
	if !res.Type.IsTemplate() {
		return target
	}
	for _, a := range cachedAttrs(res) {
		if supportedNames != nil && !supportedNames[a.Name] {
			continue
		}
		if attr.Has(target, a.Name) {
			continue
		}
		if len(a.Values) == 0 {
			continue
		}
		row, known := schema.Row(a.Name)
		if !known {
			continue
		}
		tag := a.Values[0].T
		if !attr.EqualTag(row.Tag, tag) && !attr.EqualTag(row.AltTag, tag) {
			continue
		}
		if row.Card == validate.Single && len(a.Values) > 1 {
			continue
		}
		target = append(target, a.DeepCopy())
	}
	return target
}
