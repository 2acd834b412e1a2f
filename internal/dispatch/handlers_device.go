// Output-device (proxy) protocol handlers (spec §4.9): a proxy
// registers itself against a printer, then polls Fetch-Job/
// Fetch-Document for work and reports status back via Update-*/
// Acknowledge-*. Grounded on the teacher's absence of a proxy
// analogue -- CUPS talks to real backends over a fixed local
// transport, not a pull protocol -- so this follows spec §4.9/§9
// directly, reusing the pack's (anasdox-workline internal/server/
// auth.go) HS256 bearer-token idiom: Register-Output-Device signs a
// token binding the device uuid to the target printer.
// Deregister-Output-Device, Get-/Update-Output-Device-Attributes and
// Update-Active-Jobs verify it (lookupDevice) before touching the
// device; Fetch-Job, Fetch-Document, Acknowledge-*, Update-Job-Status
// and Update-Document-Status do not check the token.
package dispatch

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
)

func init() {
	register(goipp.OpRegisterOutputDevice, handleRegisterOutputDevice)
	register(goipp.OpDeregisterOutputDevice, handleDeregisterOutputDevice)
	register(goipp.OpGetOutputDeviceAttributes, handleGetOutputDeviceAttributes)
	register(goipp.OpupdateOutputDeviceAttributes, handleUpdateOutputDeviceAttributes)
	register(goipp.OpUpdateActiveJobs, handleUpdateActiveJobs)
	register(goipp.OpUpdateJobStatus, handleUpdateJobStatus)
	register(goipp.OpUpdateDocumentStatus, handleUpdateDocumentStatus)
	register(goipp.OpFetchJob, handleFetchJob)
	register(goipp.OpFetchDocument, handleFetchDocument)
	register(goipp.OpAcknowledgeJob, handleAcknowledgeJob)
	register(goipp.OpAcknowledgeDocument, handleAcknowledgeDocument)
	register(goipp.OpAcknowledgeIdentifyPrinter, handleAcknowledgeIdentifyPrinter)
	register(goipp.OpGetNextDocumentData, handleFetchDocument)
}

// deviceClaims binds an output-device bearer token to the device uuid
// and the printer it registered against, so a stolen token from one
// printer's proxy group can't be replayed against another.
type deviceClaims struct {
	jwt.RegisteredClaims
	PrinterName string `json:"printer,omitempty"`
}

func signDeviceToken(key []byte, deviceUUID, printerName string) (string, error) {
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: deviceUUID},
		PrinterName:      printerName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

var errDeviceTokenInvalid = errors.New("dispatch: invalid output-device token")

func verifyDeviceToken(key []byte, token, deviceUUID string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &deviceClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !parsed.Valid || claims.Subject != deviceUUID {
		return errDeviceTokenInvalid
	}
	return nil
}

func bearerToken(c *Context) string {
	auth := c.Request.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return attr.String(c.Req.Operation, "output-device-token")
}

func handleRegisterOutputDevice(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	deviceUUID := uuid.NewString()
	token, err := signDeviceToken(c.Server.Config.JWTSigningKey, deviceUUID, p.Name)
	if err != nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotPossible)
		return nil
	}
	d := &model.Device{
		UUID:       deviceUUID,
		Printer:    p,
		Attrs:      attr.Copy(c.Req.Operation, attr.AllAttributes),
		Token:      token,
		Registered: time.Now(),
		LastSeen:   time.Now(),
	}
	c.Server.Registry.AddDevice(d)
	p.RWLock.Lock()
	if p.Devices == nil {
		p.Devices = make(map[string]bool)
	}
	p.Devices[d.UUID] = true
	p.RWLock.Unlock()

	c.Resp.Operation.Add(goipp.MakeAttribute("output-device-uuid", goipp.TagString, goipp.String(d.UUID)))
	c.Resp.Operation.Add(goipp.MakeAttribute("output-device-token", goipp.TagString, goipp.String(d.Token)))
	return nil
}

// lookupDevice resolves the target device and verifies its bearer
// token, except for the registration call itself which has none yet.
func lookupDevice(c *Context) (*model.Device, bool) {
	uuidStr := attr.String(c.Req.Operation, "output-device-uuid")
	if uuidStr == "" {
		return nil, false
	}
	d, ok := c.Server.Registry.Device(uuidStr)
	if !ok {
		return nil, false
	}
	if verifyDeviceToken(c.Server.Config.JWTSigningKey, bearerToken(c), uuidStr) != nil {
		return nil, false
	}
	return d, true
}

func handleDeregisterOutputDevice(c *Context) io.Reader {
	d, ok := lookupDevice(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	if d.Printer != nil {
		d.Printer.RWLock.Lock()
		delete(d.Printer.Devices, d.UUID)
		d.Printer.RWLock.Unlock()
	}
	c.Server.Registry.DeleteDevice(d.UUID)
	return nil
}

func handleGetOutputDeviceAttributes(c *Context) io.Reader {
	d, ok := lookupDevice(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	d.RWLock.RLock()
	c.Resp.Printer = attr.Copy(d.Attrs, attr.AllAttributes)
	d.RWLock.RUnlock()
	return nil
}

// sparseIndex recognizes the name.N / name.N-M indexed-update form
// (spec §4.9). ok is false for a plain attribute name.
func sparseIndex(name string) (base string, low, high int, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return "", 0, 0, false
	}
	suffix := name[dot+1:]
	if suffix[0] < '0' || suffix[0] > '9' {
		return "", 0, 0, false
	}
	lowStr, highStr := suffix, ""
	if dash := strings.IndexByte(suffix, '-'); dash >= 0 {
		lowStr, highStr = suffix[:dash], suffix[dash+1:]
	}
	low, err := strconv.Atoi(lowStr)
	if err != nil || low < 1 {
		return "", 0, 0, false
	}
	high = low
	if highStr != "" {
		if high, err = strconv.Atoi(highStr); err != nil || high < low {
			return "", 0, 0, false
		}
	}
	return name[:dot], low, high, true
}

// applySparseUpdate applies a name.N / name.N-M indexed update to
// attrs' existing entry named base: a delete-attribute value removes
// values [low,high] (1-based, inclusive); otherwise the incoming
// values overwrite that index range, extending the attribute if high
// reaches past its current length. Grounded on the original's sparse
// handling in ipp_update_output_device_attributes
// (original_source/server/ipp.c:7861), simplified to overwrite/extend
// rather than the original's full shift-and-splice on insert.
func applySparseUpdate(attrs goipp.Attributes, base string, low, high int, a goipp.Attribute) goipp.Attributes {
	idx, found := attr.FindIndex(attrs, base, goipp.TagZero)
	if !found {
		return attrs
	}
	dev := &attrs[idx]
	if len(a.Values) > 0 && a.Values[0].T == goipp.TagDeleteAttr {
		if low > len(dev.Values) {
			return attrs
		}
		if high > len(dev.Values) {
			high = len(dev.Values)
		}
		dev.Values = append(dev.Values[:low-1], dev.Values[high:]...)
		return attrs
	}
	for i := low; i <= high && i-low < len(a.Values); i++ {
		v := a.Values[i-low]
		if i-1 < len(dev.Values) {
			dev.Values[i-1] = v
		} else {
			dev.Values = append(dev.Values, v)
		}
	}
	return attrs
}

func handleUpdateOutputDeviceAttributes(c *Context) io.Reader {
	d, ok := lookupDevice(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	d.RWLock.Lock()
	for _, a := range c.Req.Printer {
		if base, low, high, sparse := sparseIndex(a.Name); sparse {
			d.Attrs = applySparseUpdate(d.Attrs, base, low, high, a)
			continue
		}
		d.Attrs = attr.Delete(d.Attrs, a.Name)
		if len(a.Values) == 0 || a.Values[0].T != goipp.TagDeleteAttr {
			d.Attrs = attr.SetAttr(d.Attrs, a.DeepCopy())
		}
	}
	d.LastSeen = time.Now()
	d.RWLock.Unlock()

	if d.Printer != nil {
		d.Printer.RWLock.Lock()
		d.Printer.DevAttrs = attr.Copy(d.Attrs, attr.AllAttributes)
		d.Printer.RWLock.Unlock()
	}
	return nil
}

func intListAttr(name string, vals []int) goipp.Attribute {
	a := goipp.MakeAttribute(name, goipp.TagInteger, goipp.Integer(0))
	if len(vals) > 0 {
		a = goipp.MakeAttribute(name, goipp.TagInteger, goipp.Integer(vals[0]))
		for _, v := range vals[1:] {
			a.Values.Add(goipp.TagInteger, goipp.Integer(v))
		}
	}
	return a
}

// handleUpdateActiveJobs reconciles the proxy's claimed job-ids/
// output-device-job-states against the server's view (spec §4.9): an
// id the device doesn't own is unsupported; a job already in a
// stopped-or-later state whose reported state disagrees, or a job
// assigned to the device but missing from its list, comes back in the
// job-ids/output-device-job-states response pair. Grounded on the
// original's ipp_update_active_jobs (original_source/server/ipp.c:7525).
func handleUpdateActiveJobs(c *Context) io.Reader {
	d, ok := lookupDevice(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	d.RWLock.Lock()
	d.LastSeen = time.Now()
	p := d.Printer
	deviceUUID := d.UUID
	d.RWLock.Unlock()

	idAttr, idOK := attr.Find(c.Req.Operation, "job-ids", goipp.TagZero)
	stateAttr, stateOK := attr.Find(c.Req.Operation, "output-device-job-states", goipp.TagZero)
	if !idOK || !stateOK || len(idAttr.Values) != len(stateAttr.Values) {
		c.Resp.Code = goipp.Code(goipp.StatusErrorBadRequest)
		return nil
	}
	if p == nil {
		return nil
	}

	claimed := make(map[int]bool, len(idAttr.Values))
	var different, differentStates, unsupported []int

	for i, v := range idAttr.Values {
		n, isInt := v.V.(goipp.Integer)
		reportedVal, stateIsInt := stateAttr.Values[i].V.(goipp.Integer)
		if !isInt || !stateIsInt {
			continue
		}
		jobID := int(n)
		claimed[jobID] = true

		p.RWLock.RLock()
		j, found := p.Jobs[jobID]
		p.RWLock.RUnlock()
		if !found {
			unsupported = append(unsupported, jobID)
			continue
		}

		j.RWLock.Lock()
		if j.DeviceUUID != deviceUUID {
			j.RWLock.Unlock()
			unsupported = append(unsupported, jobID)
			continue
		}
		reported := model.JobState(reportedVal)
		if j.State >= model.JobStopped && reported != j.State {
			different = append(different, jobID)
			differentStates = append(differentStates, int(j.State))
		} else {
			j.DevState = int(reported)
		}
		j.RWLock.Unlock()
	}

	p.RWLock.RLock()
	jobs := make([]*model.Job, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		jobs = append(jobs, j)
	}
	p.RWLock.RUnlock()
	for _, j := range jobs {
		j.RWLock.RLock()
		assigned := j.DeviceUUID == deviceUUID && !claimed[j.ID]
		jobID, state := j.ID, j.State
		j.RWLock.RUnlock()
		if assigned {
			different = append(different, jobID)
			differentStates = append(differentStates, int(state))
		}
	}

	if len(different) > 0 {
		c.Resp.Operation.Add(intListAttr("job-ids", different))
		c.Resp.Operation.Add(intListAttr("output-device-job-states", differentStates))
	}
	if len(unsupported) > 0 {
		c.Resp.Unsupported = append(c.Resp.Unsupported, intListAttr("job-ids", unsupported))
	}
	return nil
}

func lookupProxyJob(c *Context) (*model.Job, bool) {
	p := c.Target.printer
	if p == nil {
		return nil, false
	}
	id := attr.Int(c.Req.Operation, "job-id", -1)
	if id < 0 {
		return nil, false
	}
	p.RWLock.RLock()
	j, ok := p.Jobs[id]
	p.RWLock.RUnlock()
	return j, ok
}

func handleUpdateJobStatus(c *Context) io.Reader {
	j, ok := lookupProxyJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.Lock()
	if state := attr.Int(c.Req.Operation, "job-state", -1); state >= 0 {
		j.DevState = state
	}
	j.DevStateReasons = attr.Values(c.Req.Operation, "job-state-reasons")
	j.DevStateMessage = attr.String(c.Req.Operation, "job-state-message")
	j.RWLock.Unlock()
	return nil
}

func handleUpdateDocumentStatus(c *Context) io.Reader {
	j, ok := lookupProxyJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	if impr := attr.Int(c.Req.Operation, "impressions-completed", -1); impr >= 0 {
		j.RWLock.Lock()
		j.ImpressionsCompleted = impr
		j.RWLock.Unlock()
	}
	return nil
}

// handleFetchJob returns the oldest job awaiting proxy pickup on the
// target printer (fetchable job-state-reasons keyword, spec §4.9).
func handleFetchJob(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.RLock()
	var candidate *model.Job
	for _, j := range p.Jobs {
		j.RWLock.RLock()
		fetchable := j.State == model.JobPending && j.StateReasons&model.JReasonFetchable != 0
		j.RWLock.RUnlock()
		if fetchable && (candidate == nil || j.ID < candidate.ID) {
			candidate = j
		}
	}
	p.RWLock.RUnlock()
	if candidate == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFetchable)
		return nil
	}
	candidate.RWLock.Lock()
	candidate.State = model.JobProcessing
	candidate.Processing = time.Now()
	candidate.RWLock.Unlock()
	c.Resp.Job = jobResponseGroup(candidate)
	return nil
}

func handleFetchDocument(c *Context) io.Reader {
	j, ok := lookupProxyJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.RLock()
	path := j.Filename
	j.RWLock.RUnlock()
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

func handleAcknowledgeJob(c *Context) io.Reader {
	j, ok := lookupProxyJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	j.RWLock.Lock()
	j.StateReasons &^= model.JReasonFetchable
	j.RWLock.Unlock()
	return nil
}

func handleAcknowledgeDocument(c *Context) io.Reader {
	_, ok := lookupProxyJob(c)
	if !ok {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	return nil
}

func handleAcknowledgeIdentifyPrinter(c *Context) io.Reader {
	p := c.Target.printer
	if p == nil {
		c.Resp.Code = goipp.Code(goipp.StatusErrorNotFound)
		return nil
	}
	p.RWLock.Lock()
	p.StateReasons &^= model.PReasonIdentifyPrinterRequested
	p.IdentifyActions = nil
	p.IdentifyMessage = ""
	p.RWLock.Unlock()
	return nil
}
