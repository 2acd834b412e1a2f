// Document-level operation handlers (spec §4.6), grounded on the
// teacher's single-file-per-job model (internal/store's one Document
// column per job row): this module tracks exactly one spooled document
// per job, so document-number is always 1 and Get-Documents returns at
// most one group.
package dispatch

import (
	"io"

	"github.com/OpenPrinting/goipp"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/transform"
)

func init() {
	register(goipp.OpCancelDocument, handleCancelDocument)
	register(goipp.OpGetDocumentAttributes, handleGetDocumentAttributes)
	register(goipp.OpGetDocuments, handleGetDocuments)
	register(goipp.OpDeleteDocument, handleDeleteDocument)
	register(goipp.OpSetDocumentAttributes, handleSetDocumentAttributes)
	register(goipp.OpAddDocumentImages, handleAddDocumentImages)
}

// lookupDocumentJob resolves the target job and rejects any
// document-number other than 1, since a job holds a single document.
func lookupDocumentJob(c *Context) (*model.Job, bool) {
	j := c.Target.job
	if j == nil {
		return nil, false
	}
	if num := attr.Int(c.Req.Operation, "document-number", 1); num != 1 {
		return nil, false
	}
	return j, true
}

func documentResponseAttrs(j *model.Job) goipp.Attributes {
	j.RWLock.RLock()
	defer j.RWLock.RUnlock()
	out := goipp.Attributes{
		goipp.MakeAttribute("document-number", goipp.TagInteger, goipp.Integer(1)),
		goipp.MakeAttribute("document-format", goipp.TagMimeType, goipp.String(j.Format)),
		goipp.MakeAttribute("document-state", goipp.TagEnum, goipp.Integer(j.State)),
	}
	for _, a := range j.DocAttrs {
		out = attr.SetAttr(attr.Delete(out, a.Name), a.DeepCopy())
	}
	return out
}

func handleCancelDocument(c *Context) io.Reader {
	j, ok := lookupDocumentJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.RLock()
	terminal := j.State.IsTerminal()
	j.RWLock.RUnlock()
	if terminal {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
		return nil
	}
	_ = transform.Stop(j)
	j.RWLock.Lock()
	j.State = model.JobCanceled
	j.StateReasons |= model.JReasonJobCanceledByUser
	p := j.Printer
	j.RWLock.Unlock()
	p.RemoveActiveJob(j)
	fireJobEvent(c.Server, j, "job-state-changed")
	return nil
}

func handleGetDocumentAttributes(c *Context) io.Reader {
	j, ok := lookupDocumentJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	c.Resp.Document = documentResponseAttrs(j)
	return nil
}

func handleGetDocuments(c *Context) io.Reader {
	j := c.Target.job
	if j == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	var groups goipp.Groups
	j.RWLock.RLock()
	hasDoc := j.Filename != ""
	j.RWLock.RUnlock()
	if hasDoc {
		groups.Add(goipp.Group{Tag: goipp.TagDocumentGroup, Attrs: documentResponseAttrs(j)})
	}
	c.Resp.Groups = groups
	return nil
}

func handleDeleteDocument(c *Context) io.Reader {
	j, ok := lookupDocumentJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.RLock()
	terminal := j.State.IsTerminal()
	j.RWLock.RUnlock()
	if !terminal {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
		return nil
	}
	j.RWLock.Lock()
	j.Filename = ""
	j.RWLock.Unlock()
	return nil
}

func handleSetDocumentAttributes(c *Context) io.Reader {
	j, ok := lookupDocumentJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.Lock()
	for _, a := range c.Req.Document {
		j.DocAttrs = attr.SetAttr(attr.Delete(j.DocAttrs, a.Name), a.DeepCopy())
	}
	j.RWLock.Unlock()
	c.Resp.Document = documentResponseAttrs(j)
	return nil
}

// handleAddDocumentImages is a scanner-source feature (spec §9's
// Open Question on Add-Document-Images) this module has no scanner
// backend for; after the document lookup it rejects the operation with
// client-error-document-format-not-supported.
func handleAddDocumentImages(c *Context) io.Reader {
	_, ok := lookupDocumentJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	c.Resp.Code = goipp.Code(goipp.StatusErrorDocumentFormatNotSupported)
	return nil
}
