// Resource operation handlers (spec §4.8), grounded on the teacher's
// model.Document upload lifecycle (internal/store), wired to
// internal/resource's create/send-data/install/allocate/cancel state
// machine and internal/spool for payload storage.
package dispatch

import (
	"io"
	"os"
	"strings"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/resource"
	"github.com/thilo-hub/ippsample/internal/validate"
)

func openSpoolFile(path string) (*os.File, error) {
	return os.Open(path)
}

func init() {
	register(goipp.OpCreateResource, handleCreateResource)
	register(goipp.OpSendResourceData, handleSendResourceData)
	register(goipp.OpInstallResource, handleInstallResource)
	register(goipp.OpGetResourceAttributes, handleGetResourceAttributes)
	register(goipp.OpGetResources, handleGetResources)
	register(goipp.OpGetResourceData, handleGetResourceData)
	register(goipp.OpCancelResource, handleCancelResource)
	register(goipp.OpAllocatePrinterResources, handleAllocatePrinterResources)
	register(goipp.OpDeallocatePrinterResources, handleDeallocatePrinterResources)
	register(goipp.OpSetResourceAttributes, handleSetResourceAttributes)
}

func resourceResponseAttrs(res *model.Resource) goipp.Attributes {
	res.RWLock.RLock()
	defer res.RWLock.RUnlock()
	return goipp.Attributes{
		goipp.MakeAttribute("resource-id", goipp.TagInteger, goipp.Integer(res.ID)),
		goipp.MakeAttribute("resource-state", goipp.TagEnum, goipp.Integer(res.State)),
		goipp.MakeAttribute("resource-format", goipp.TagMimeType, goipp.String(res.Format)),
		goipp.MakeAttribute("resource-type", goipp.TagKeyword, goipp.String(string(res.Type))),
		goipp.MakeAttribute("resource-use-count", goipp.TagInteger, goipp.Integer(res.UseCount)),
	}
}

// resourceSupportedNames resolves the "xxx-attributes-supported" list a
// template merge is filtered by (spec §4.8): system-wide for
// printer-creation-attributes-supported (Create-Printer has no target
// printer yet), the target printer's own PInfo for
// job-creation-attributes-supported. Returns nil (no filtering) if
// unset, matching the original's "if (supported && ...)" guard.
func resourceSupportedNames(c *Context, p *model.Printer, name string) map[string]bool {
	var values []string
	if name == "printer-creation-attributes-supported" {
		c.Server.Registry.SystemLock.RLock()
		val := c.Server.Registry.SystemAttrs.Attrs[name]
		c.Server.Registry.SystemLock.RUnlock()
		if val != "" {
			values = strings.Split(val, ",")
		}
	} else if p != nil {
		p.RWLock.RLock()
		values = attr.Values(p.PInfo, name)
		p.RWLock.RUnlock()
	}
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = true
	}
	return out
}

// applyResourceTemplates reads resource-ids from the operation group
// and merges every installed wantType template resource it names into
// *target, filtered by the appropriate supported-attributes list and
// schema (spec §4.8). Any id that doesn't resolve to an installed
// wantType resource fails the whole request into attributes-or-values,
// matching the original's resource-ids validation loop
// (original_source/server/ipp.c:2477 for Create-Printer,
// original_source/server/ipp.c:9080 for job creation).
func applyResourceTemplates(c *Context, p *model.Printer, wantType model.ResourceType, schema *validate.Schema, supportedName string, target *goipp.Attributes) bool {
	ids, ok := attr.Find(c.Req.Operation, "resource-ids", goipp.TagZero)
	if !ok {
		return true
	}
	fail := func() bool {
		c.Resp.Unsupported = append(c.Resp.Unsupported, ids)
		c.Resp.Code = goipp.Code(goipp.StatusErrorAttributesOrValues)
		return false
	}
	supported := resourceSupportedNames(c, p, supportedName)
	for _, v := range ids.Values {
		n, isInt := v.V.(goipp.Integer)
		if !isInt {
			return fail()
		}
		res, found := c.Server.Registry.Resource(int64(n))
		if !found {
			return fail()
		}
		res.RWLock.RLock()
		state, typ := res.State, res.Type
		res.RWLock.RUnlock()
		if state != model.ResourceInstalled || typ != wantType {
			return fail()
		}
		*target = resource.MergeTemplate(res, *target, schema, supported)
	}
	return true
}

func lookupResource(c *Context) (*model.Resource, bool) {
	id := int64(attr.Int(c.Req.Operation, "resource-id", -1))
	if id < 0 {
		return nil, false
	}
	return c.Server.Registry.Resource(id)
}

func handleCreateResource(c *Context) io.Reader {
	typ := model.ResourceType(attr.String(c.Req.Resource, "resource-type"))
	if typ == "" {
		typ = model.ResourceStaticIcon
	}
	format := attr.String(c.Req.Resource, "resource-format")
	res := resource.Create(c.Server.Registry, typ, format)
	res.Attrs = attr.Copy(c.Req.Resource, attr.AllAttributes)
	c.Resp.Resource = resourceResponseAttrs(res)
	return nil
}

func handleSendResourceData(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	format := attr.String(c.Req.Operation, "resource-format")
	if format == "" {
		res.RWLock.RLock()
		format = res.Format
		res.RWLock.RUnlock()
	}
	body := documentBody(c)
	res.RWLock.RLock()
	id := res.ID
	res.RWLock.RUnlock()
	path := c.Server.Spool.ResourcePath(id, format)
	if _, err := c.Server.Spool.Save(path, byteReader(body)); err != nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorDocumentAccess)
		return nil
	}
	res.RWLock.Lock()
	res.Filename = path
	res.RWLock.Unlock()

	if err := resource.SendData(res, format); err != nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorDocumentFormatNotSupported)
		return nil
	}
	c.Resp.Resource = resourceResponseAttrs(res)
	return nil
}

func byteReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func handleInstallResource(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	if err := resource.Install(res); err != nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
		return nil
	}
	c.Resp.Resource = resourceResponseAttrs(res)
	return nil
}

func handleGetResourceAttributes(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	c.Resp.Resource = resourceResponseAttrs(res)
	return nil
}

func handleGetResources(c *Context) io.Reader {
	var groups goipp.Groups
	for _, res := range c.Server.Registry.Resources() {
		groups.Add(goipp.Group{Tag: goipp.TagResourceGroup, Attrs: resourceResponseAttrs(res)})
	}
	c.Resp.Groups = groups
	return nil
}

func handleGetResourceData(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	res.RWLock.RLock()
	path := res.Filename
	res.RWLock.RUnlock()
	if path == "" {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	f, err := openSpoolFile(path)
	if err != nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	return f
}

func handleCancelResource(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	resource.Cancel(c.Server.Registry, res)
	return nil
}

func handleAllocatePrinterResources(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	ids := intValues(c.Req.Operation, "resource-ids")
	for _, id := range ids {
		res, ok := c.Server.Registry.Resource(int64(id))
		if !ok {
			continue
		}
		if err := resource.Allocate(p, res, c.Server.Config.ResourcesMax); err != nil {
			c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
			return nil
		}
	}
	return nil
}

func handleDeallocatePrinterResources(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	ids := intValues(c.Req.Operation, "resource-ids")
	for _, id := range ids {
		res, ok := c.Server.Registry.Resource(int64(id))
		if !ok {
			continue
		}
		resource.Deallocate(c.Server.Registry, p, res)
	}
	return nil
}

func handleSetResourceAttributes(c *Context) io.Reader {
	res, ok := lookupResource(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	res.RWLock.Lock()
	for _, a := range c.Req.Resource {
		res.Attrs = attr.SetAttr(attr.Delete(res.Attrs, a.Name), a.DeepCopy())
	}
	res.RWLock.Unlock()
	resource.InvalidateTemplate(res.ID)
	c.Resp.Resource = resourceResponseAttrs(res)
	return nil
}
