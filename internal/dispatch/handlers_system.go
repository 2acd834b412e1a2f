// System operation handlers (spec §4.9, IPP System Service), grounded
// on the teacher's server-wide config handling in internal/config and
// internal/server/http.go (there is no direct System-object analogue in
// CUPS; this generalizes the teacher's single implicit "system" to the
// explicit IPP System object spec calls for), storing simple
// system-wide settings in registry.SystemAttrs under the outermost
// SystemLock (spec §4.2's documented lock order).
package dispatch

import (
	"io"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/validate"
)

func init() {
	register(goipp.OpGetSystemAttributes, handleGetSystemAttributes)
	register(goipp.OpSetSystemAttributes, handleSetSystemAttributes)
	register(goipp.OpGetSystemSupportedValues, handleGetSystemAttributes)
	register(goipp.OpRestartSystem, handleRestartSystem)
	register(goipp.OpShutdownAllPrinters, handleShutdownAllPrinters)
	register(goipp.OpStartupAllPrinters, handleStartupAllPrinters)
	register(goipp.OpPauseAllPrinters, handlePauseAllPrinters)
	register(goipp.OpPauseAllPrintersAfterCurrentJob, handlePauseAllPrinters)
	register(goipp.OpResumeAllPrinters, handleResumeAllPrinters)
	register(goipp.OpEnableAllPrinters, handleEnableAllPrinters)
	register(goipp.OpDisableAllPrinters, handleDisableAllPrinters)
}

func handleGetSystemAttributes(c *Context) io.Reader {
	c.Server.Registry.SystemLock.RLock()
	defer c.Server.Registry.SystemLock.RUnlock()

	out := goipp.Attributes{}
	for name, val := range c.Server.Registry.SystemAttrs.Attrs {
		out.Add(goipp.MakeAttribute(name, goipp.TagKeyword, goipp.String(val)))
	}

	ids := make([]int, 0)
	for _, p := range c.Server.Registry.Printers() {
		ids = append(ids, int(p.ID))
	}
	a := goipp.MakeAttribute("system-configured-printers", goipp.TagInteger, goipp.Integer(0))
	if len(ids) > 0 {
		a = goipp.MakeAttribute("system-configured-printers", goipp.TagInteger, goipp.Integer(ids[0]))
		for _, id := range ids[1:] {
			a.Values.Add(goipp.TagInteger, goipp.Integer(id))
		}
	}
	out.Add(a)
	c.Resp.System = out
	return nil
}

func handleSetSystemAttributes(c *Context) io.Reader {
	result := validate.Check(validate.SystemSettable, c.Req.System, goipp.TagSystemGroup, false, nil)
	if !result.OK {
		c.Resp.Unsupported = result.Unsupported
		c.Resp.Code = goipp.Code(goipp.StatusErrorAttributesOrValues)
		return nil // spec §7: validate the whole request before any mutation
	}
	c.Server.Registry.SystemLock.Lock()
	defer c.Server.Registry.SystemLock.Unlock()

	for _, a := range c.Req.System {
		if a.Values[0].T == goipp.TagBeginCollection {
			continue // collection settings (system-contact-col) not modeled by the flat SystemAttrs map
		}
		c.Server.Registry.SystemAttrs.Attrs[a.Name] = attr.String(c.Req.System, a.Name)
	}
	return nil
}

func handleRestartSystem(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.State = model.PrinterIdle
		p.IsShutdown = false
		p.StateReasons = model.PReasonNone
		p.RWLock.Unlock()
	}
	return nil
}

func handleShutdownAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.IsShutdown = true
		p.State = model.PrinterStopped
		p.RWLock.Unlock()
	}
	return nil
}

func handleStartupAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.IsShutdown = false
		p.State = model.PrinterIdle
		p.RWLock.Unlock()
	}
	return nil
}

func handlePauseAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.State = model.PrinterStopped
		p.StateReasons |= model.PReasonPaused
		p.RWLock.Unlock()
	}
	return nil
}

func handleResumeAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.State = model.PrinterIdle
		p.StateReasons &^= model.PReasonPaused
		p.RWLock.Unlock()
	}
	return nil
}

func handleEnableAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.IsAccepting = true
		p.RWLock.Unlock()
	}
	return nil
}

func handleDisableAllPrinters(c *Context) io.Reader {
	for _, p := range c.Server.Registry.Printers() {
		p.RWLock.Lock()
		p.IsAccepting = false
		p.RWLock.Unlock()
	}
	return nil
}
