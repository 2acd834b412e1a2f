// Package dispatch implements the operation dispatcher and the ~70
// IPP operation handlers of spec.md §4.4: HTTP entry point, target-URI
// resolution, version/charset/language/target-URI triage, and the
// switch from operation code to handler.
//
// Grounded on the teacher's internal/server/http.go (raw
// net/http.Handler routing, isIPP content-type gate) and ipp.go
// (handleIPPRequest's decode-dispatch-encode shape, addOperationDefaults),
// generalized from the teacher's CUPS operation set to spec §4.4's IPP
// Everywhere/System operation set and from SQL-store lookups to
// internal/registry's in-memory maps.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/thilo-hub/ippsample/internal/authstore"
	"github.com/thilo-hub/ippsample/internal/config"
	"github.com/thilo-hub/ippsample/internal/events"
	"github.com/thilo-hub/ippsample/internal/jobengine"
	"github.com/thilo-hub/ippsample/internal/logging"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/policy"
	"github.com/thilo-hub/ippsample/internal/registry"
	"github.com/thilo-hub/ippsample/internal/spool"
)

// Server holds every collaborator an operation handler needs.
type Server struct {
	Registry *registry.Registry
	Events   *events.Bus
	Spool    spool.Spool
	Auth     *authstore.Store
	Engine   *jobengine.Engine
	Config   config.Config
	Hostname string
	AllowedFetchDirs []string

	// MaxRequestSize bounds the decoded IPP message plus document body;
	// 0 means unbounded.
	MaxRequestSize int64
}

// kick re-evaluates p's schedule immediately after a state change that
// might make a pending job runnable (spec §4.6). A nil Engine (e.g. in
// unit tests) makes this a no-op.
func (s *Server) kick(ctx context.Context, p *model.Printer) {
	if s.Engine != nil && p != nil {
		s.Engine.Kick(ctx, p)
	}
}

// Handler returns the top-level HTTP handler: it accepts only
// application/ipp POSTs (spec §6) and routes everything else 404,
// matching the teacher's isIPP(r) gate in internal/server/http.go.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
		}
		if r.Method != http.MethodPost || !isIPP(r) {
			http.NotFound(w, r)
			return
		}
		start := time.Now()
		op, status, bytesIn := s.handleIPP(w, r)
		logging.Access(r, op, status, time.Since(start), bytesIn)
	})
}

func isIPP(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/ipp")
}

// handleIPP decodes, dispatches, and encodes one IPP request/response
// pair, returning the operation and status names for the access log.
func (s *Server) handleIPP(w http.ResponseWriter, r *http.Request) (opName, statusName string, bytesIn int64) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading body", http.StatusBadRequest)
		return "", "", 0
	}
	bytesIn = int64(len(body))

	// Decode from a *bytes.Buffer, not DecodeBytes, so the buffer's
	// unread remainder after the message is exactly the document body
	// that follows it on the wire (grounded on the teacher's
	// handleIPPRequest, internal/server/ipp.go, which decodes the same
	// way and passes the same buffer on to handlePrintJob/
	// handleSendDocument as the document reader).
	buf := bytes.NewBuffer(body)
	var req goipp.Message
	if err := req.Decode(buf); err != nil {
		resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusErrorBadRequest, 0)
		addOperationDefaults(resp)
		writeResponse(w, resp, nil)
		return "", goipp.StatusErrorBadRequest.String(), bytesIn
	}

	op := goipp.Op(req.Code)
	opName = op.String()

	resp, docReader := s.dispatch(r, &req, buf.Bytes())
	statusName = goipp.Status(resp.Code).String()
	writeResponse(w, resp, docReader)
	return opName, statusName, bytesIn
}

func writeResponse(w http.ResponseWriter, resp *goipp.Message, doc io.Reader) {
	w.Header().Set("Content-Type", "application/ipp")
	w.WriteHeader(http.StatusOK)
	_ = resp.Encode(w)
	if doc != nil {
		_, _ = io.Copy(w, doc)
	}
}

func addOperationDefaults(resp *goipp.Message) {
	resp.Operation = goipp.Attributes{
		goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")),
		goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en")),
	}
}

// target identifies the printer/job/system the request resolved to
// (spec §4.4 step 5).
type target struct {
	system  bool
	printer *model.Printer
	job     *model.Job
}

// dispatch runs the full precondition chain of spec §4.4 and, if it
// passes, calls the operation's handler.
func (s *Server) dispatch(r *http.Request, req *goipp.Message, body []byte) (*goipp.Message, io.Reader) {
	op := goipp.Op(req.Code)

	resp := goipp.NewResponse(req.Version, goipp.StatusOk, req.RequestID)
	addOperationDefaults(resp)

	// 1. version-number.
	if req.Version.Major() != 1 && req.Version.Major() != 2 {
		resp.Code = goipp.Code(goipp.StatusErrorVersionNotSupported)
		return resp, nil
	}
	// 2. request-id.
	if req.RequestID == 0 {
		resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return resp, nil
	}
	// 3. group-tag ordering: groups must appear in non-decreasing tag
	// order on the wire (spec §4.4 step 3). goipp's decoder preserves
	// wire order in req.Groups, so assert on it rather than trusting it
	// silently.
	if !groupTagsNonDecreasing(req.Groups) {
		resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return resp, nil
	}

	charset := attrFirstString(req.Operation, "attributes-charset")
	language := attrFirstString(req.Operation, "attributes-natural-language")
	if charset != "us-ascii" && charset != "utf-8" {
		resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return resp, nil
	}
	_ = language

	var tgt target
	uri, uriName := targetURI(req)
	switch {
	case uri != "":
		var ok bool
		tgt, ok = s.resolveTarget(uri, uriName)
		if !ok {
			resp.Code = goipp.Code(goipp.StatusErrorNotFound)
			return resp, nil
		}
	case targetlessOps[op]:
		// Resource and output-device operations identify their
		// object by resource-id/output-device-uuid rather than by a
		// target URI (spec §4.8/§4.9); the handler resolves it.
		tgt = target{system: true}
	default:
		resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return resp, nil
	}

	if tgt.printer != nil {
		tgt.printer.RWLock.RLock()
		shutdown := tgt.printer.IsShutdown
		tgt.printer.RWLock.RUnlock()
		if shutdown && op != goipp.OpStartupPrinter && op != goipp.OpStartupOnePrinter {
			resp.Code = goipp.Code(goipp.StatusErrorServiceUnavailable)
			return resp, nil
		}
	}

	id := s.identity(r)

	h, ok := handlers[op]
	if !ok {
		resp.Code = goipp.Code(goipp.StatusErrorOperationNotSupported)
		return resp, nil
	}

	class := policy.ClassFor(op.String())
	if op == goipp.OpPrintJob || op == goipp.OpPrintURI || op == goipp.OpCreateJob ||
		op == goipp.OpSendDocument || op == goipp.OpSendURI {
		class = policy.PrintJobClass(op.String(), tgt.printer)
	}
	owner := ""
	if class == policy.OwnerOrAdmin && tgt.job != nil {
		tgt.job.RWLock.RLock()
		owner = tgt.job.Username
		tgt.job.RWLock.RUnlock()
	}
	switch policy.Evaluate(class, id, tgt.printer, owner) {
	case policy.Unauthenticated:
		resp.Code = goipp.Code(goipp.StatusErrorNotAuthenticated)
		return resp, nil
	case policy.Forbidden:
		resp.Code = goipp.Code(goipp.StatusErrorForbidden)
		return resp, nil
	}

	ctx := &Context{
		Server:   s,
		Request:  r,
		Req:      req,
		Resp:     resp,
		Target:   tgt,
		Identity: id,
		Body:     body,
		Logger:   logging.Logger(),
	}
	doc := h(ctx)
	return resp, doc
}

// identity extracts the caller identity the way the teacher's
// authenticate() does: HTTP Basic auth checked against the user
// directory, falling back to unauthenticated (spec §4.5, "job's
// username is captured from the authenticated identity or, absent
// authentication, from requesting-user-name").
func (s *Server) identity(r *http.Request) policy.Identity {
	user, pass, ok := r.BasicAuth()
	if !ok || s.Auth == nil {
		return policy.Identity{}
	}
	if _, err := s.Auth.Authenticate(r.Context(), user, pass); err != nil {
		return policy.Identity{}
	}
	return policy.Identity{Username: user, Authenticated: true}
}

// groupTagsNonDecreasing reports whether groups appear in non-decreasing
// group-tag order, allowing repeated groups of the same tag (spec §4.4
// step 3, e.g. multiple job-attributes-tag groups in a multi-document
// request).
func groupTagsNonDecreasing(groups goipp.Groups) bool {
	prev := goipp.Tag(0)
	for _, g := range groups {
		if g.Tag < prev {
			return false
		}
		prev = g.Tag
	}
	return true
}

// targetURI extracts the operation group's target URI attribute and
// its name, per spec §4.4 step 4 (system-uri / printer-uri / job-uri).
func targetURI(req *goipp.Message) (uri, name string) {
	for _, n := range []string{"printer-uri", "job-uri", "system-uri"} {
		if v := attrFirstString(req.Operation, n); v != "" {
			return v, n
		}
	}
	return "", ""
}

// targetlessOps lists operations whose object is identified by an
// operation attribute other than a target URI (resource-id,
// output-device-uuid) rather than by spec §4.4 step 4's target-URI
// resolution.
var targetlessOps = map[goipp.Op]bool{
	goipp.OpCreateResource:              true,
	goipp.OpSendResourceData:            true,
	goipp.OpInstallResource:             true,
	goipp.OpGetResourceAttributes:       true,
	goipp.OpGetResources:                true,
	goipp.OpGetResourceData:             true,
	goipp.OpCancelResource:              true,
	goipp.OpSetResourceAttributes:       true,
	goipp.OpDeregisterOutputDevice:      true,
	goipp.OpGetOutputDeviceAttributes:   true,
	goipp.OpupdateOutputDeviceAttributes: true,
}

// resolveTarget maps a target URI to a Printer/Job/System, per spec §6:
// printer target "/<service>/<name>", system target "/ipp/system", job
// target "/ipp/print/<printer>/<job-id>" (job-id stripped before printer
// lookup; faxout strips at a fixed 12-byte prefix).
func (s *Server) resolveTarget(rawURI, uriName string) (target, bool) {
	path := rawURI
	if idx := strings.Index(rawURI, "://"); idx >= 0 {
		if slash := strings.Index(rawURI[idx+3:], "/"); slash >= 0 {
			path = rawURI[idx+3+slash:]
		}
	}
	path = strings.TrimSuffix(path, "/")

	if path == "/ipp/system" || uriName == "system-uri" {
		return target{system: true}, true
	}

	switch {
	case strings.HasPrefix(path, "/ipp/print3d/"):
		return s.resolvePrinterOrJob(path, "/ipp/print3d/", uriName)
	case strings.HasPrefix(path, "/ipp/faxout/"):
		rest := path[len("/ipp/faxout/"):]
		if len(rest) > 12 {
			rest = rest[:12]
		}
		p, ok := s.Registry.Printer(rest)
		return target{printer: p}, ok
	case strings.HasPrefix(path, "/ipp/print/"):
		return s.resolvePrinterOrJob(path, "/ipp/print/", uriName)
	}
	return target{}, false
}

func (s *Server) resolvePrinterOrJob(path, prefix, uriName string) (target, bool) {
	rest := path[len(prefix):]
	if uriName == "job-uri" {
		slash := strings.LastIndex(rest, "/")
		if slash < 0 {
			return target{}, false
		}
		printerName, jobPart := rest[:slash], rest[slash+1:]
		jobID, err := strconv.Atoi(jobPart)
		if err != nil {
			return target{}, false
		}
		p, ok := s.Registry.Printer(printerName)
		if !ok {
			return target{}, false
		}
		p.RWLock.RLock()
		j, ok := p.Jobs[jobID]
		p.RWLock.RUnlock()
		if !ok {
			return target{}, false
		}
		return target{printer: p, job: j}, true
	}
	p, ok := s.Registry.Printer(rest)
	return target{printer: p}, ok
}

func attrFirstString(attrs goipp.Attributes, name string) string {
	for _, a := range attrs {
		if a.Name == name && len(a.Values) > 0 {
			return a.Values[0].V.String()
		}
	}
	return ""
}

// Context bundles everything a handler needs; passed by pointer so
// handlers can mutate Resp directly.
type Context struct {
	Server   *Server
	Request  *http.Request
	Req      *goipp.Message
	Resp     *goipp.Message
	Target   target
	Identity policy.Identity
	Body     []byte
	Logger   zerolog.Logger
}

// RemoteHost returns the caller's address without the port, for
// job-originating-host-name.
func (c *Context) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// Handler is one operation's implementation. It may return a non-nil
// io.Reader to stream document bytes after the response (Fetch-Job/
// Fetch-Document/CUPS-Get-Document analogues).
type Handler func(*Context) io.Reader

var handlers = map[goipp.Op]Handler{}

// register is called from each handlers_*.go file's init to populate
// the dispatch table (spec §8 invariant 6: dispatch totality).
func register(op goipp.Op, h Handler) {
	handlers[op] = h
}
