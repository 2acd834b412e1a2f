// Package registry holds the process-wide object registries described
// by spec.md §4.2: Printers, Subscriptions, Resources and Devices, each
// behind a reader-writer lock, with a documented locking order —
// top-level registry, then object; Printer before Job; Subscription
// alone or after its back-referenced owner; System outermost.
//
// This is the in-memory analogue of the teacher's internal/store
// (SoraKasvgano-Cups-golang), which backs the same entities with
// SQLite rows and transactions. spec.md's data model is explicit about
// RWMutex-guarded registries, so the persistence mechanism changes;
// the locking discipline, the "registry owns strong / object holds
// weak back-ref" pattern, and the object lifecycle states are carried
// over unchanged.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thilo-hub/ippsample/internal/model"
)

// Registry is the top-level container for every object collection.
// A single Registry is shared by the whole server process.
type Registry struct {
	SystemLock sync.RWMutex // outermost; guards system-wide attributes

	printersMu sync.RWMutex
	printers   map[string]*model.Printer // by name
	printersByID map[int64]*model.Printer

	subsMu sync.RWMutex
	subs   map[int]*model.Subscription
	nextSubID int

	resMu sync.RWMutex
	res   map[int64]*model.Resource
	nextResID int64

	devMu sync.RWMutex
	dev   map[string]*model.Device

	nextPrinterID int64
	nextJobUID    int64

	SystemAttrs struct {
		mu    sync.RWMutex
		Attrs map[string]string
	}
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{
		printers:     make(map[string]*model.Printer),
		printersByID: make(map[int64]*model.Printer),
		subs:         make(map[int]*model.Subscription),
		res:          make(map[int64]*model.Resource),
		dev:          make(map[string]*model.Device),
	}
	r.SystemAttrs.Attrs = make(map[string]string)
	return r
}

// --- Printers ---------------------------------------------------------

// AddPrinter registers a new printer under the top-level write lock.
func (r *Registry) AddPrinter(p *model.Printer) {
	r.printersMu.Lock()
	defer r.printersMu.Unlock()
	r.nextPrinterID++
	p.ID = r.nextPrinterID
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	r.printers[p.Name] = p
	r.printersByID[p.ID] = p
}

// Printer looks a printer up by name.
func (r *Registry) Printer(name string) (*model.Printer, bool) {
	r.printersMu.RLock()
	defer r.printersMu.RUnlock()
	p, ok := r.printers[name]
	return p, ok
}

// PrinterByID looks a printer up by numeric id.
func (r *Registry) PrinterByID(id int64) (*model.Printer, bool) {
	r.printersMu.RLock()
	defer r.printersMu.RUnlock()
	p, ok := r.printersByID[id]
	return p, ok
}

// Printers returns a stable-ordered snapshot of every registered
// printer (by name), for Get-Printers/Get-System-Attributes fan-out.
func (r *Registry) Printers() []*model.Printer {
	r.printersMu.RLock()
	defer r.printersMu.RUnlock()
	out := make([]*model.Printer, 0, len(r.printers))
	for _, p := range r.printers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeletePrinter removes a printer from the registry. Callers must have
// already driven its jobs to a terminal state (spec §4.6, "pending
// jobs removed from printer deletion").
func (r *Registry) DeletePrinter(name string) {
	r.printersMu.Lock()
	defer r.printersMu.Unlock()
	if p, ok := r.printers[name]; ok {
		delete(r.printersByID, p.ID)
	}
	delete(r.printers, name)
}

// --- Subscriptions ------------------------------------------------------

// AddSubscription registers sub and assigns it an id.
func (r *Registry) AddSubscription(sub *model.Subscription) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.nextSubID++
	sub.ID = r.nextSubID
	r.subs[sub.ID] = sub
}

// Subscription looks a subscription up by id.
func (r *Registry) Subscription(id int) (*model.Subscription, bool) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// Subscriptions returns every registered subscription.
func (r *Registry) Subscriptions() []*model.Subscription {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	out := make([]*model.Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteSubscription removes a subscription (Cancel-Subscription, lease
// expiry, or owner removal).
func (r *Registry) DeleteSubscription(id int) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	delete(r.subs, id)
}

// ClearOwnerReferences truncates every subscription whose Printer/Job
// back-reference points at a removed owner, per spec §3 "Ownership":
// "when the back-referenced owner is deleted, the Subscription's
// back-reference is cleared and its lease truncated."
func (r *Registry) ClearOwnerReferences(p *model.Printer, j *model.Job) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for id, s := range r.subs {
		s.RWLock.Lock()
		match := (p != nil && s.Printer == p) || (j != nil && s.Job == j)
		if match {
			if j != nil && s.Job == j {
				// job subscriptions end with the job
				delete(r.subs, id)
				s.RWLock.Unlock()
				continue
			}
			s.Printer = nil
			s.Expire = time.Now()
		}
		s.RWLock.Unlock()
	}
}

// --- Resources ------------------------------------------------------

// AddResource registers a new resource and assigns it an id.
func (r *Registry) AddResource(res *model.Resource) {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	r.nextResID++
	res.ID = r.nextResID
	if res.UUID == "" {
		res.UUID = uuid.NewString()
	}
	r.res[res.ID] = res
}

// Resource looks a resource up by id.
func (r *Registry) Resource(id int64) (*model.Resource, bool) {
	r.resMu.RLock()
	defer r.resMu.RUnlock()
	res, ok := r.res[id]
	return res, ok
}

// Resources returns every registered resource.
func (r *Registry) Resources() []*model.Resource {
	r.resMu.RLock()
	defer r.resMu.RUnlock()
	out := make([]*model.Resource, 0, len(r.res))
	for _, res := range r.res {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteResource removes a resource once its use count has dropped to
// zero (spec §3 invariant 4).
func (r *Registry) DeleteResource(id int64) {
	r.resMu.Lock()
	defer r.resMu.Unlock()
	delete(r.res, id)
}

// --- Output devices ---------------------------------------------------

// AddDevice registers a proxy device.
func (r *Registry) AddDevice(d *model.Device) {
	r.devMu.Lock()
	defer r.devMu.Unlock()
	r.dev[d.UUID] = d
}

// Device looks a device up by uuid.
func (r *Registry) Device(uuidStr string) (*model.Device, bool) {
	r.devMu.RLock()
	defer r.devMu.RUnlock()
	d, ok := r.dev[uuidStr]
	return d, ok
}

// DeleteDevice removes a device (Deregister-Output-Device).
func (r *Registry) DeleteDevice(uuidStr string) {
	r.devMu.Lock()
	defer r.devMu.Unlock()
	delete(r.dev, uuidStr)
}

// Devices returns every registered device.
func (r *Registry) Devices() []*model.Device {
	r.devMu.RLock()
	defer r.devMu.RUnlock()
	out := make([]*model.Device, 0, len(r.dev))
	for _, d := range r.dev {
		out = append(out, d)
	}
	return out
}

// --- Job id allocation --------------------------------------------------

// NextJobID allocates a monotonic, process-lifetime-unique job id for
// printer p. Ids are printer-local (spec §4.6 permits either scheme;
// this one matches the teacher's per-destination job numbering) and are
// never reused. Caller must hold p.RWLock for writing.
func NextJobID(p *model.Printer) int {
	p.NextJobID++
	return p.NextJobID
}
