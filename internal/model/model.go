// Package model defines the Printer/Job/Subscription/Resource/Device
// object model described by spec.md §3. Objects live entirely in
// memory: registries own them, each behind a reader-writer lock, and
// nothing here is persisted across a restart — only the spool files a
// terminal Job leaves behind survive it. This intentionally replaces
// the teacher's SQL-backed model.Printer/model.Job (internal/store):
// spec.md's data model is explicit about in-memory registries guarded
// by locks, not relational rows.
package model

import (
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
)

// PrinterState mirrors the three IPP printer-state values.
type PrinterState int

const (
	PrinterIdle PrinterState = iota + 3
	PrinterProcessing
	PrinterStopped
)

// JobState mirrors the IPP job-state values.
type JobState int

const (
	JobPending JobState = iota + 3
	JobHeld
	JobProcessing
	JobStopped
	JobCanceled
	JobAborted
	JobCompleted
)

// IsTerminal reports whether js is one of the three terminal states
// (invariant 2 of spec §3/§8).
func (js JobState) IsTerminal() bool {
	return js == JobCanceled || js == JobAborted || js == JobCompleted
}

// ResourceState mirrors the resource lifecycle of spec §4.8.
type ResourceState int

const (
	ResourcePending ResourceState = iota
	ResourceAvailable
	ResourceInstalled
	ResourceCanceled
	ResourceAborted
)

// PReason is a bitset of printer-state-reasons keywords.
type PReason uint64

const (
	PReasonNone PReason = 0
)

const (
	PReasonMediaEmpty PReason = 1 << iota
	PReasonMediaJam
	PReasonMediaLow
	PReasonMediaNeeded
	PReasonMovingToPaused
	PReasonPaused
	PReasonSpoolAreaFull
	PReasonTonerEmpty
	PReasonTonerLow
	PReasonCoverOpen
	PReasonDoorOpen
	PReasonIdentifyPrinterRequested
	PReasonOther
)

var pReasonNames = map[string]PReason{
	"media-empty":                PReasonMediaEmpty,
	"media-jam":                  PReasonMediaJam,
	"media-low":                  PReasonMediaLow,
	"media-needed":               PReasonMediaNeeded,
	"moving-to-paused":           PReasonMovingToPaused,
	"paused":                     PReasonPaused,
	"spool-area-full":            PReasonSpoolAreaFull,
	"toner-empty":                PReasonTonerEmpty,
	"toner-low":                  PReasonTonerLow,
	"cover-open":                 PReasonCoverOpen,
	"door-open":                  PReasonDoorOpen,
	"identify-printer-requested": PReasonIdentifyPrinterRequested,
	"other":                      PReasonOther,
}

// PReasonByName looks up the bit for a printer-state-reasons keyword,
// stripping any trailing -report/-warning/-error suffix first (the
// suffix classifies severity; it is not part of the keyword identity),
// per original_source/server/transform.c's process_state_message.
func PReasonByName(name string) (PReason, bool) {
	name = stripSeverity(name)
	bit, ok := pReasonNames[name]
	return bit, ok
}

// Names returns the sorted keyword set present in r.
func (r PReason) Names() []string {
	var out []string
	for name, bit := range pReasonNames {
		if r&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func stripSeverity(kw string) string {
	for _, suffix := range []string{"-error", "-report", "-warning"} {
		if len(kw) > len(suffix) && kw[len(kw)-len(suffix):] == suffix {
			return kw[:len(kw)-len(suffix)]
		}
	}
	return kw
}

// JReason is a bitset of job-state-reasons keywords.
type JReason uint64

const JReasonNone JReason = 0

const (
	JReasonJobIncoming JReason = 1 << iota
	JReasonJobHoldUntilSpecified
	JReasonJobDataInsufficient
	JReasonDocumentFormatError
	JReasonDocumentUnprintableError
	JReasonProcessingToStopPoint
	JReasonJobStopped
	JReasonJobCanceledByUser
	JReasonJobCanceledAtDevice
	JReasonAbortedBySystem
	JReasonCompressionError
	JReasonJobCompletedSuccessfully
	JReasonFetchable
	JReasonJobTransforming
	JReasonJobQueued
	JReasonSubmissionInterrupted
)

var jReasonNames = map[string]JReason{
	"job-incoming":                JReasonJobIncoming,
	"job-hold-until-specified":    JReasonJobHoldUntilSpecified,
	"job-data-insufficient":       JReasonJobDataInsufficient,
	"document-format-error":       JReasonDocumentFormatError,
	"document-unprintable-error":  JReasonDocumentUnprintableError,
	"processing-to-stop-point":    JReasonProcessingToStopPoint,
	"job-stopped":                 JReasonJobStopped,
	"job-canceled-by-user":        JReasonJobCanceledByUser,
	"job-canceled-at-device":      JReasonJobCanceledAtDevice,
	"aborted-by-system":           JReasonAbortedBySystem,
	"compression-error":           JReasonCompressionError,
	"job-completed-successfully":  JReasonJobCompletedSuccessfully,
	"fetchable":                   JReasonFetchable,
	"job-transforming":            JReasonJobTransforming,
	"job-queued":                  JReasonJobQueued,
	"submission-interrupted":      JReasonSubmissionInterrupted,
}

// JReasonByName looks up the bit for a job-state-reasons keyword,
// stripping severity suffixes exactly like PReasonByName.
func JReasonByName(name string) (JReason, bool) {
	name = stripSeverity(name)
	bit, ok := jReasonNames[name]
	return bit, ok
}

// Names returns the sorted keyword set present in r.
func (r JReason) Names() []string {
	var out []string
	for name, bit := range jReasonNames {
		if r&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Printer is a logical print destination. Every mutable field is
// guarded by RWLock; callers must hold the appropriate lock before
// touching them (spec §4.2).
type Printer struct {
	RWLock sync.RWMutex

	ID           int64
	Name         string
	UUID         string
	ResourcePath string // "/ipp/print/<name>" etc, spec §6
	Service      string // "ipp/print", "ipp/print3d", "ipp/faxout"

	State        PrinterState
	StateReasons PReason
	IsAccepting  bool
	IsShutdown   bool

	PInfo     goipp.Attributes // static printer description attributes
	DevAttrs  goipp.Attributes // proxy-supplied capability snapshot
	DeviceURI string

	PrintGroup string // "" == no group requirement (spec §4.5)
	ProxyGroup string

	IdentifyActions []string
	IdentifyMessage string

	StartTime  time.Time
	StateTime  time.Time
	ConfigTime time.Time

	NextJobID int

	Jobs          map[int]*Job
	ActiveJobs    []*Job // in the order jobs were added; not kept sorted (jobengine.pickJob orders candidates by priority desc, then id asc)
	ProcessingJob *Job

	Resources map[int64]bool // allocated resource ids
	Devices   map[string]bool // registered output-device-uuids

	HoldNewJobs bool
}

// RemoveActiveJob trims j out of p.ActiveJobs and, if j was the one
// processing, clears ProcessingJob too. Cancel-Job, Cancel-My-Jobs,
// Cancel-Document, the Print-Job/Print-URI spool-failure paths and
// jobengine's finishPrinter call it after driving a job into a terminal
// state (cross-entity invariant, spec §3: active_jobs holds only
// non-terminal jobs). Delete-Printer aborts the deleted printer's jobs
// without calling it, and Purge-Jobs empties ActiveJobs directly.
func (p *Printer) RemoveActiveJob(j *Job) {
	p.RWLock.Lock()
	defer p.RWLock.Unlock()
	for i, existing := range p.ActiveJobs {
		if existing == j {
			p.ActiveJobs = append(p.ActiveJobs[:i], p.ActiveJobs[i+1:]...)
			break
		}
	}
	if p.ProcessingJob == j {
		p.ProcessingJob = nil
	}
}

// Job is a single print job. A Job belongs to exactly one Printer
// (invariant 1, spec §3).
type Job struct {
	RWLock sync.RWMutex

	ID           int
	Printer      *Printer
	UUID         string
	State        JobState
	StateReasons JReason

	Attrs    goipp.Attributes // job-group attributes
	DocAttrs goipp.Attributes // document-group attributes

	Format         string // detected/declared MIME type
	Filename       string // input spool path
	OutputFilename string // transform output spool path (TO_FILE mode)
	fd             *os.File

	Priority int
	Username string

	DeviceUUID      string
	DevState        int
	DevStateReasons []string
	DevStateMessage string

	Impressions          int
	ImpressionsCompleted int

	Created    time.Time
	Processing time.Time
	Completed  time.Time

	CancelRequested bool
	HoldUntil       time.Time

	TransformPID  int
	TransformProc *exec.Cmd

	LastDocument bool // Send-Document last-document=true seen
}

// SetFile assigns the open spool file descriptor. Called with the
// job's write lock held.
func (j *Job) SetFile(f *os.File) { j.fd = f }

// File returns the open spool file descriptor, or nil once closed.
func (j *Job) File() *os.File { return j.fd }

// Subscription is a pull-mode (ippget) event subscription (spec §4.7).
type Subscription struct {
	RWLock sync.RWMutex

	ID       int
	Owner    string // "system", "printer", or "job"
	Printer  *Printer
	Job      *Job
	Username string

	Events           uint64 // bitmask, see package events
	NotifyAttributes []string
	UserData         []byte
	Charset          string
	Language         string
	PullMethod       string

	LeaseSeconds int
	Expire       time.Time
	TimeInterval int
	LastNotify   time.Time

	Ring          []Event
	RingCap       int
	FirstSequence int
	LastSequence  int
}

// Event is one queued notification.
type Event struct {
	Sequence  int
	EventName string
	Time      time.Time
	Printer   *Printer
	Job       *Job
	Resource  *Resource
	Message   string
}

// ResourceType names the kind of a Resource object.
type ResourceType string

const (
	ResourceStaticIcon      ResourceType = "static-icon"
	ResourceStaticStrings   ResourceType = "static-strings"
	ResourceTemplatePrinter ResourceType = "template-printer"
	ResourceTemplateJob     ResourceType = "template-job"
)

// IsTemplate reports whether resources of this type are IPP attribute
// templates rather than allocatable payload (spec §4.8).
func (t ResourceType) IsTemplate() bool {
	return t == ResourceTemplatePrinter || t == ResourceTemplateJob
}

// Resource is an uploaded, installable, allocatable payload or
// attribute template (spec §4.8).
type Resource struct {
	RWLock sync.RWMutex

	ID     int64
	UUID   string
	Type   ResourceType
	State  ResourceState
	Format string

	Filename string
	fd       *os.File

	Attrs goipp.Attributes // for templates: the attribute set to merge

	UseCount int
	Cancel   bool

	Created time.Time
}

func (r *Resource) SetFile(f *os.File) { r.fd = f }
func (r *Resource) File() *os.File     { return r.fd }

// Device is a registered output-device proxy (spec §4.9).
type Device struct {
	RWLock sync.RWMutex

	UUID    string
	Printer *Printer
	Attrs   goipp.Attributes
	Token   string // signed bearer token issued at registration

	Registered time.Time
	LastSeen   time.Time
}
