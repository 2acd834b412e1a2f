// Printer-management operation handlers (spec §4.5), grounded on the
// teacher's handleGetPrinterAttributes/handlePausePrinter/
// handleSetPrinterAttributes family in internal/server/ipp.go,
// generalized from a single fixed CUPS-style destination set to
// spec's dynamically Create-Printer'd/Delete-Printer'd registry.
package dispatch

import (
	"io"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/google/uuid"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/validate"
)

func init() {
	register(goipp.OpGetPrinterAttributes, handleGetPrinterAttributes)
	register(goipp.OpGetPrinterSupportedValues, handleGetPrinterAttributes)
	register(goipp.OpGetPrinters, handleGetPrinters)
	register(goipp.OpPausePrinter, handlePausePrinter)
	register(goipp.OpPausePrinterAfterCurrentJob, handlePausePrinter)
	register(goipp.OpResumePrinter, handleResumePrinter)
	register(goipp.OpSetPrinterAttributes, handleSetPrinterAttributes)
	register(goipp.OpEnablePrinter, handleEnablePrinter)
	register(goipp.OpDisablePrinter, handleDisablePrinter)
	register(goipp.OpHoldNewJobs, handleHoldNewJobs)
	register(goipp.OpReleaseHeldNewJobs, handleReleaseHeldNewJobs)
	register(goipp.OpIdentifyPrinter, handleIdentifyPrinter)
	register(goipp.OpPurgeJobs, handlePurgeJobs)
	register(goipp.OpCreatePrinter, handleCreatePrinter)
	register(goipp.OpDeletePrinter, handleDeletePrinter)
	register(goipp.OpRestartPrinter, handleRestartPrinter)
	register(goipp.OpShutdownPrinter, handleShutdownPrinter)
	register(goipp.OpShutdownOnePrinter, handleShutdownPrinter)
	register(goipp.OpStartupPrinter, handleStartupPrinter)
	register(goipp.OpStartupOnePrinter, handleStartupPrinter)
	register(goipp.OpDeactivatePrinter, handlePausePrinter)
	register(goipp.OpActivatePrinter, handleResumePrinter)
}

// printerResponseAttrs assembles the dynamic (state-dependent)
// attributes every Get-Printer-Attributes response includes alongside
// the printer's static PInfo (spec §4.5).
func printerResponseAttrs(p *model.Printer) goipp.Attributes {
	p.RWLock.RLock()
	defer p.RWLock.RUnlock()

	out := attr.Copy(p.PInfo, attr.AllAttributes)
	out = attr.SetAttr(out, goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(p.State)))
	out = attr.SetAttr(out, goipp.MakeAttribute("printer-is-accepting-jobs", goipp.TagBoolean, goipp.Boolean(p.IsAccepting)))
	out = attr.SetAttr(out, goipp.MakeAttribute("printer-uri-supported", goipp.TagURI, goipp.String(p.ResourcePath)))
	out = attr.SetAttr(out, goipp.MakeAttribute("printer-up-time", goipp.TagInteger, goipp.Integer(time.Since(p.StartTime).Seconds())))

	reasons := p.StateReasons.Names()
	if len(reasons) == 0 {
		out = attr.SetAttr(out, goipp.MakeAttribute("printer-state-reasons", goipp.TagKeyword, goipp.String("none")))
	} else {
		a := goipp.MakeAttribute("printer-state-reasons", goipp.TagKeyword, goipp.String(reasons[0]))
		for _, r := range reasons[1:] {
			a.Values.Add(goipp.TagKeyword, goipp.String(r))
		}
		out = attr.SetAttr(out, a)
	}
	return out
}

func handleGetPrinterAttributes(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	requested := attr.Values(c.Req.Operation, "requested-attributes")
	filter := attr.NameFilter(requested)
	c.Resp.Printer = attr.Copy(printerResponseAttrs(p), filter)
	return nil
}

func handleGetPrinters(c *Context) io.Reader {
	requested := attr.Values(c.Req.Operation, "requested-attributes")
	filter := attr.NameFilter(requested)

	var groups goipp.Groups
	for _, p := range c.Server.Registry.Printers() {
		groups.Add(goipp.Group{Tag: goipp.TagPrinterGroup, Attrs: attr.Copy(printerResponseAttrs(p), filter)})
	}
	c.Resp.Groups = groups
	return nil
}

func handlePausePrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.State = model.PrinterStopped
	p.StateReasons |= model.PReasonPaused
	p.StateTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-state-changed")
	return nil
}

func handleResumePrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.State = model.PrinterIdle
	p.StateReasons &^= model.PReasonPaused
	p.StateTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-state-changed")
	c.Server.kick(c.Request.Context(), p)
	return nil
}

func handleEnablePrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.IsAccepting = true
	p.RWLock.Unlock()
	c.Server.kick(c.Request.Context(), p)
	return nil
}

func handleDisablePrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.IsAccepting = false
	p.RWLock.Unlock()
	return nil
}

func handleHoldNewJobs(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.HoldNewJobs = true
	p.RWLock.Unlock()
	return nil
}

func handleReleaseHeldNewJobs(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.HoldNewJobs = false
	held := make([]*model.Job, 0)
	for _, j := range p.Jobs {
		j.RWLock.RLock()
		isHeld := j.State == model.JobHeld
		j.RWLock.RUnlock()
		if isHeld {
			held = append(held, j)
		}
	}
	p.RWLock.Unlock()
	for _, j := range held {
		j.RWLock.Lock()
		j.State = model.JobPending
		j.RWLock.Unlock()
		activateJob(p, j)
	}
	c.Server.kick(c.Request.Context(), p)
	return nil
}

func handleIdentifyPrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	actions := attr.Values(c.Req.Operation, "identify-actions")
	message := attr.String(c.Req.Operation, "message")
	p.RWLock.Lock()
	p.IdentifyActions = actions
	p.IdentifyMessage = message
	p.StateReasons |= model.PReasonIdentifyPrinterRequested
	p.RWLock.Unlock()
	return nil
}

func handlePurgeJobs(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.Jobs = make(map[int]*model.Job)
	p.ActiveJobs = nil
	p.RWLock.Unlock()
	return nil
}

func handleCreatePrinter(c *Context) io.Reader {
	if !applyResourceTemplates(c, nil, model.ResourceTemplatePrinter, validate.PrinterCreation, "printer-creation-attributes-supported", &c.Req.Printer) {
		return nil
	}
	result := validate.Check(validate.PrinterCreation, c.Req.Printer, goipp.TagPrinterGroup, true, nil)
	opResult := validate.Check(validate.PrinterCreation, c.Req.Operation, goipp.TagOperationGroup, true, nil)
	if !result.OK || !opResult.OK {
		c.Resp.Unsupported = append(result.Unsupported, opResult.Unsupported...)
		c.Resp.Code = goipp.Code(goipp.StatusOkIgnoredOrSubstituted)
	}
	name := attr.String(c.Req.Printer, "printer-name")
	if name == "" {
		name = attr.String(c.Req.Operation, "printer-name")
	}
	if name == "" {
		c.Resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return nil
	}
	if _, exists := c.Server.Registry.Printer(name); exists {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
		return nil
	}
	p := &model.Printer{
		Name:         name,
		UUID:         uuid.NewString(),
		Service:      "ipp/print",
		ResourcePath: "/ipp/print/" + name,
		State:        model.PrinterIdle,
		IsAccepting:  true,
		PInfo:        attr.Copy(c.Req.Printer, attr.AllAttributes),
		DeviceURI:    attr.String(c.Req.Printer, "device-uri"),
		PrintGroup:   attr.String(c.Req.Printer, "print-group"),
		ProxyGroup:   attr.String(c.Req.Printer, "proxy-group"),
		StartTime:    time.Now(),
		StateTime:    time.Now(),
		ConfigTime:   time.Now(),
		Jobs:         make(map[int]*model.Job),
	}
	c.Server.Registry.AddPrinter(p)
	c.Resp.Printer = printerResponseAttrs(p)
	return nil
}

func handleDeletePrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	for _, j := range p.Jobs {
		j.RWLock.Lock()
		if !j.State.IsTerminal() {
			j.State = model.JobAborted
			j.Completed = time.Now()
		}
		j.RWLock.Unlock()
	}
	name := p.Name
	p.RWLock.Unlock()
	c.Server.Registry.ClearOwnerReferences(p, nil)
	c.Server.Registry.DeletePrinter(name)
	return nil
}

func handleRestartPrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.State = model.PrinterIdle
	p.StateReasons = model.PReasonNone
	p.IsShutdown = false
	p.StateTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-restarted")
	return nil
}

func handleShutdownPrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.IsShutdown = true
	p.State = model.PrinterStopped
	p.StateTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-shutdown")
	return nil
}

func handleStartupPrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.IsShutdown = false
	p.State = model.PrinterIdle
	p.StateTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-restarted")
	return nil
}

func handleSetPrinterAttributes(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	result := validate.Check(validate.PrinterCreation, c.Req.Printer, goipp.TagPrinterGroup, false, nil)
	if !result.OK {
		c.Resp.Unsupported = result.Unsupported
		c.Resp.Code = goipp.Code(goipp.StatusOkIgnoredOrSubstituted)
	}
	p.RWLock.Lock()
	for _, a := range c.Req.Printer {
		p.PInfo = attr.SetAttr(attr.Delete(p.PInfo, a.Name), a.DeepCopy())
	}
	p.ConfigTime = time.Now()
	p.RWLock.Unlock()
	firePrinterEvent(c.Server, p, "printer-config-changed")
	return nil
}
