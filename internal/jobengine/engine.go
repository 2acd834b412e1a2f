// Package jobengine runs the printer scheduler and transform
// execution loop (spec §4.6): a ticker wakes periodically, and for
// every printer that is accepting, not stopped, and idle, the
// highest-priority eligible pending job is promoted to processing and
// handed to internal/transform. Grounded on the teacher's
// internal/scheduler.Scheduler (Start/Stop/processOnce ticker shape,
// runFilterPipeline's per-job goroutine dispatch), generalized from
// SQL-backed job rows to the in-memory registry/model objects.
package jobengine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/thilo-hub/ippsample/internal/config"
	"github.com/thilo-hub/ippsample/internal/events"
	"github.com/thilo-hub/ippsample/internal/logging"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/registry"
	"github.com/thilo-hub/ippsample/internal/spool"
	"github.com/thilo-hub/ippsample/internal/transform"
)

// Engine owns the scheduling ticker and per-job transform execution.
type Engine struct {
	Registry *registry.Registry
	Spool    spool.Spool
	Config   config.Config
	Events   *events.Bus

	stopChan chan struct{}
}

// Start launches the scheduling ticker in the background. Call Stop
// to shut it down.
func (e *Engine) Start(ctx context.Context) {
	if e.stopChan == nil {
		e.stopChan = make(chan struct{})
	}
	interval := e.Config.SchedulerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.tick(ctx)
			case <-e.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduling ticker. In-flight transforms are left
// running; callers wanting a clean shutdown should also send Stop-Job
// to active jobs.
func (e *Engine) Stop() {
	if e.stopChan != nil {
		close(e.stopChan)
	}
}

func (e *Engine) tick(ctx context.Context) {
	for _, p := range e.Registry.Printers() {
		e.schedulePrinter(ctx, p)
	}
}

// Kick re-evaluates one printer immediately, for callers that just
// created, released, or completed a job (spec §4.6, "on printer state
// change, job creation, or completion, the printer is re-checked").
func (e *Engine) Kick(ctx context.Context, p *model.Printer) {
	e.schedulePrinter(ctx, p)
}

func (e *Engine) schedulePrinter(ctx context.Context, p *model.Printer) {
	p.RWLock.Lock()
	eligible := p.IsAccepting && p.State != model.PrinterStopped && p.ProcessingJob == nil
	var candidate *model.Job
	if eligible {
		candidate = pickJob(p)
	}
	if candidate != nil {
		candidate.RWLock.Lock()
		candidate.State = model.JobProcessing
		candidate.Processing = time.Now()
		candidate.RWLock.Unlock()
		p.ProcessingJob = candidate
		p.State = model.PrinterProcessing
	}
	p.RWLock.Unlock()

	if candidate != nil {
		go e.runJob(ctx, p, candidate)
	}
}

// pickJob returns the highest-priority pending, unheld, due job on p,
// ties broken by id ascending. Caller must hold p.RWLock.
func pickJob(p *model.Printer) *model.Job {
	now := time.Now()
	jobs := make([]*model.Job, 0, len(p.ActiveJobs))
	for _, j := range p.ActiveJobs {
		j.RWLock.RLock()
		due := j.State == model.JobPending && j.Filename != "" &&
			(j.HoldUntil.IsZero() || !j.HoldUntil.After(now))
		j.RWLock.RUnlock()
		if due {
			jobs = append(jobs, j)
		}
	}
	if len(jobs) == 0 {
		return nil
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		return jobs[i].ID < jobs[k].ID
	})
	return jobs[0]
}

// runJob executes the transform command for j and applies the
// terminal state transition spec §4.6 describes.
func (e *Engine) runJob(ctx context.Context, p *model.Printer, j *model.Job) {
	logger := logging.JobLogger(j.ID).With().Str("printer", p.Name).Logger()

	j.RWLock.RLock()
	format := j.Format
	inPath := j.Filename
	docAttrs := j.DocAttrs
	jobAttrs := j.Attrs
	j.RWLock.RUnlock()

	p.RWLock.RLock()
	deviceURI := p.DeviceURI
	pInfo := p.PInfo
	devAttrs := p.DevAttrs
	p.RWLock.RUnlock()

	outPath := e.Spool.OutputPath(p.Name, j.ID, format)
	j.RWLock.Lock()
	j.OutputFilename = outPath
	j.RWLock.Unlock()

	out, err := e.Spool.Create(outPath)
	if err != nil {
		e.abort(ctx, p, j, fmt.Errorf("jobengine: create output: %w", err))
		return
	}
	defer out.Close()

	env, err := transform.BuildEnv(transform.EnvSpec{
		Format:       format,
		DeviceURI:    deviceURI,
		OutputType:   format,
		LogLevel:     e.Config.LogLevel,
		DevAttrs:     devAttrs,
		PrinterAttrs: pInfo,
		DocAttrs:     docAttrs,
		JobAttrs:     jobAttrs,
	})
	if err != nil {
		e.abort(ctx, p, j, err)
		return
	}

	command := e.Config.CommandFor(format)
	res, err := transform.Run(ctx, command, inPath, env, transform.ToFile, out, j, logger)

	j.RWLock.RLock()
	terminalAlready := j.State.IsTerminal()
	j.RWLock.RUnlock()
	if terminalAlready {
		e.finishPrinter(ctx, p, j)
		return
	}

	if err != nil && !res.SignalTerminated {
		logger.Error().Err(err).Int("exit-code", res.ExitCode).Bool("signaled", res.Signaled).Msg("transform failure")
		e.abort(ctx, p, j, err)
		return
	}
	if res.SignalTerminated {
		// A cancel handler (handleCancelJob/handleCancelMyJobs) set
		// CancelRequested and stopped the transform; leave state as it
		// already set it.
		e.finishPrinter(ctx, p, j)
		return
	}

	if info, statErr := os.Stat(outPath); statErr == nil {
		logger.Info().Str("size", humanize.Bytes(uint64(info.Size()))).Msg("job transformed")
	}

	j.RWLock.Lock()
	j.State = model.JobCompleted
	j.StateReasons |= model.JReasonJobCompletedSuccessfully
	j.Completed = time.Now()
	j.RWLock.Unlock()

	if e.Events != nil {
		e.Events.Add(e.Registry.Subscriptions(), events.MaskFromKeywords([]string{"job-completed"}), "job-completed", p, j, nil, "")
	}
	e.finishPrinter(ctx, p, j)
}

func (e *Engine) abort(ctx context.Context, p *model.Printer, j *model.Job, cause error) {
	j.RWLock.Lock()
	if !j.State.IsTerminal() {
		j.State = model.JobAborted
		j.StateReasons |= model.JReasonAbortedBySystem
		j.Completed = time.Now()
	}
	j.RWLock.Unlock()
	jobLogger := logging.JobLogger(j.ID)
	jobLogger.Error().Err(cause).Msg("job aborted")
	if e.Events != nil {
		e.Events.Add(e.Registry.Subscriptions(), events.MaskFromKeywords([]string{"job-state-changed"}), "job-state-changed", p, j, nil, cause.Error())
	}
	e.finishPrinter(ctx, p, j)
}

// finishPrinter is the post-transition hook: it clears ProcessingJob,
// drops j from ActiveJobs if the run left it in a terminal state (a
// non-terminal job stays listed), and re-idles the printer so the scheduler can pick up the
// next job (spec §3 cross-entity invariant 1).
func (e *Engine) finishPrinter(ctx context.Context, p *model.Printer, j *model.Job) {
	j.RWLock.RLock()
	terminal := j.State.IsTerminal()
	j.RWLock.RUnlock()
	if terminal {
		p.RemoveActiveJob(j)
	}
	p.RWLock.Lock()
	p.ProcessingJob = nil
	if p.State == model.PrinterProcessing {
		p.State = model.PrinterIdle
	}
	p.RWLock.Unlock()
	e.schedulePrinter(ctx, p)
}

