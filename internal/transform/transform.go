// Package transform runs the external RIP subprocess that turns a
// spooled document into printer-ready bytes, and parses the STATE:/
// ATTR: side-channel it writes to stderr (spec §4.6/§6).
//
// Grounded on two sources: original_source/server/transform.c's
// process_state_message/process_attr_message supply the exact parsing
// rules (this is the resolution of spec.md's Open Question #1 — a
// bare "STATE:" line replaces the printer-state-reasons set instead of
// merging into it, because process_state_message initializes preasons
// to SERVER_PREASON_NONE in the no-prefix branch); the teacher's
// internal/scheduler/scheduler.go's runFilterPipeline/buildFilterEnv
// supply the subprocess-wiring idiom (exec.Cmd, io.Pipe, env-slice
// construction), generalized from the teacher's N-stage filter chain
// down to spec §4.6's single command + spool-file argument.
package transform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/thilo-hub/ippsample/internal/attr"
	"github.com/thilo-hub/ippsample/internal/model"
)

// Mode selects where a command's stdout goes (spec §4.6/§6).
type Mode int

const (
	// ToClient pipes the subprocess's stdout to the HTTP response body.
	ToClient Mode = iota
	// ToFile writes the subprocess's stdout to a new spool file.
	ToFile
	// ToDiscard sends the subprocess's stdout to the null device.
	ToDiscard
)

// ParseStateMessage applies a "STATE: [+|-]kw[,kw...]" line to j and
// its printer, per transform.c's process_state_message. Caller must
// hold neither lock; this function acquires job then printer, in that
// order (spec §4.2).
func ParseStateMessage(j *model.Job, line string) {
	msg := strings.TrimPrefix(line, "STATE:")
	msg = strings.TrimLeft(msg, " \t")
	if msg == "" {
		return
	}

	var remove, replace bool
	switch msg[0] {
	case '-':
		remove = true
		msg = msg[1:]
	case '+':
		msg = msg[1:]
	default:
		replace = true
	}

	j.RWLock.Lock()
	jreasons := j.StateReasons
	abort := false
	j.RWLock.Unlock()

	j.Printer.RWLock.Lock()
	preasons := j.Printer.StateReasons
	j.Printer.RWLock.Unlock()
	if replace {
		preasons = model.PReasonNone
	}

	for _, kw := range strings.Split(msg, ",") {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if bit, ok := model.JReasonByName(kw); ok {
			if remove {
				jreasons &^= bit
			} else {
				jreasons |= bit
			}
		}
		if strings.HasSuffix(kw, "-error") {
			abort = true
		}
		if bit, ok := model.PReasonByName(kw); ok {
			if remove {
				preasons &^= bit
			} else {
				preasons |= bit
			}
		}
	}

	j.RWLock.Lock()
	j.StateReasons = jreasons
	if abort && !j.State.IsTerminal() {
		j.State = model.JobAborted
		j.Completed = time.Now()
	}
	j.RWLock.Unlock()

	j.Printer.RWLock.Lock()
	j.Printer.StateReasons = preasons
	j.Printer.StateTime = time.Now()
	j.Printer.RWLock.Unlock()
}

// ParseAttrMessage applies an "ATTR: name=value[,name=value...]" line
// to j and its printer, per transform.c's process_attr_message.
func ParseAttrMessage(j *model.Job, line string, mode Mode) {
	msg := strings.TrimPrefix(line, "ATTR:")
	msg = strings.TrimLeft(msg, " \t")
	opts := parseOptions(msg)

	for _, opt := range opts {
		switch {
		case opt.name == "job-impressions":
			j.RWLock.Lock()
			j.Impressions, _ = strconv.Atoi(opt.value)
			j.RWLock.Unlock()
		case mode == ToFile && opt.name == "job-impressions-completed":
			j.RWLock.Lock()
			j.ImpressionsCompleted, _ = strconv.Atoi(opt.value)
			j.RWLock.Unlock()
		case isJobStatusAttr(opt.name, mode):
			j.RWLock.Lock()
			j.Attrs = attr.SetAttr(attr.Delete(j.Attrs, opt.name), keywordAttr(opt.name, opt.value))
			j.RWLock.Unlock()
		case strings.HasPrefix(opt.name, "marker-") || opt.name == "printer-alert" ||
			opt.name == "printer-supply" || opt.name == "printer-supply-description":
			j.Printer.RWLock.Lock()
			j.Printer.PInfo = attr.SetAttr(attr.Delete(j.Printer.PInfo, opt.name), keywordAttr(opt.name, opt.value))
			j.Printer.RWLock.Unlock()
		}
	}
}

func isJobStatusAttr(name string, mode Mode) bool {
	switch name {
	case "job-impressions-col", "job-media-sheets", "job-media-sheets-col":
		return true
	case "job-impressions-completed-col", "job-media-sheets-completed", "job-media-sheets-completed-col":
		return mode == ToFile
	}
	return false
}

func keywordAttr(name, value string) goipp.Attribute {
	return goipp.MakeAttribute(name, goipp.TagKeyword, goipp.String(value))
}

type option struct{ name, value string }

// parseOptions splits a CUPS-style "name=value name2=value2" or
// comma-separated option string, tolerating quoted values.
func parseOptions(s string) []option {
	var out []option
	fields := splitOptions(s)
	for _, f := range fields {
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(f[:eq])
		value := strings.Trim(strings.TrimSpace(f[eq+1:]), `"'`)
		if name == "" {
			continue
		}
		out = append(out, option{name: name, value: value})
	}
	return out
}

func splitOptions(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == ' ' || c == '\t' || c == ',':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// EnvSpec carries everything BuildEnv needs to assemble the transform
// command's environment (spec §4.6/§6).
type EnvSpec struct {
	Format     string
	DeviceURI  string
	OutputType string
	LogLevel   string
	DevAttrs   goipp.Attributes // proxy-supplied, wins on duplicates
	PrinterAttrs goipp.Attributes
	DocAttrs   goipp.Attributes // wins over job attrs on duplicates
	JobAttrs   goipp.Attributes
}

// MaxEnvBytes bounds the built environment; exceeding it fails the job
// with transform_failure (spec §4.6, "An excessive environment aborts
// with transform_failure").
const MaxEnvBytes = 128 * 1024

// ErrEnvironmentTooLarge is returned by BuildEnv when the assembled
// environment exceeds MaxEnvBytes.
var ErrEnvironmentTooLarge = fmt.Errorf("transform: environment exceeds %d bytes", MaxEnvBytes)

// BuildEnv assembles the subprocess environment: the process's own
// environment, then CONTENT_TYPE/DEVICE_URI/OUTPUT_TYPE/SERVER_LOGLEVEL,
// then one IPP_<NAME> per pwg-*/*-default attribute (device before
// printer, device wins) and per doc/job attribute (doc before job, doc
// wins).
func BuildEnv(spec EnvSpec) ([]string, error) {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"CONTENT_TYPE="+spec.Format,
		"DEVICE_URI="+spec.DeviceURI,
		"OUTPUT_TYPE="+spec.OutputType,
		"SERVER_LOGLEVEL="+spec.LogLevel,
	)

	ipp := make(map[string]string)
	addDefaultAndPWG := func(attrs goipp.Attributes) {
		for _, a := range attrs {
			if strings.HasPrefix(a.Name, "pwg-") || strings.HasSuffix(a.Name, "-default") {
				ipp[attr.EnvName(a.Name)] = attr.EnvValue(a)
			}
		}
	}
	addDefaultAndPWG(spec.PrinterAttrs)
	addDefaultAndPWG(spec.DevAttrs)
	for _, a := range spec.JobAttrs {
		ipp[attr.EnvName(a.Name)] = attr.EnvValue(a)
	}
	for _, a := range spec.DocAttrs {
		ipp[attr.EnvName(a.Name)] = attr.EnvValue(a)
	}

	total := 0
	for k, v := range ipp {
		env = append(env, k+"="+v)
	}
	for _, e := range env {
		total += len(e)
	}
	if total > MaxEnvBytes {
		return nil, ErrEnvironmentTooLarge
	}
	return env, nil
}

// Result reports the outcome of Run.
type Result struct {
	ExitCode  int
	Signaled  bool
	SignalTerminated bool // true when the process died from a Stop-Job SIGTERM
}

// Run executes command with argument spoolFile, wiring stdin to the
// null device, stdout per mode, and stderr through a line scanner that
// dispatches STATE:/ATTR: lines to j/j.Printer as it reads (spec §4.6).
// A SIGTERM death while j.CancelRequested is set (the signal comes from
// Stop) is reported as Result.SignalTerminated with a nil error rather
// than as a failure.
func Run(ctx context.Context, command, spoolFile string, env []string, mode Mode, stdout io.Writer, j *model.Job, logger zerolog.Logger) (Result, error) {
	cmd := exec.CommandContext(ctx, command, spoolFile)
	cmd.Env = env

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return Result{}, err
	}
	defer devnull.Close()
	cmd.Stdin = devnull

	switch mode {
	case ToDiscard:
		cmd.Stdout = devnull
	default:
		cmd.Stdout = stdout
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	j.RWLock.Lock()
	j.TransformProc = cmd
	j.RWLock.Unlock()

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	j.RWLock.Lock()
	j.TransformPID = cmd.Process.Pid
	j.RWLock.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "STATE:"):
				ParseStateMessage(j, line)
			case strings.HasPrefix(line, "ATTR:"):
				ParseAttrMessage(j, line, mode)
			default:
				logger.Debug().Str("line", line).Msg("transform output")
			}
		}
	}()

	err = cmd.Wait()
	<-done

	var res Result
	if err == nil {
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Signaled = true
			j.RWLock.RLock()
			stopRequested := j.CancelRequested
			j.RWLock.RUnlock()
			if status.Signal() == syscall.SIGTERM && stopRequested {
				res.SignalTerminated = true
				return res, nil
			}
		}
		return res, err
	}
	return res, err
}

// Stop sends SIGTERM to j's running transform subprocess, per spec
// §4.6's Stop-Job handling. It is a no-op if no subprocess is running.
func Stop(j *model.Job) error {
	j.RWLock.RLock()
	proc := j.TransformProc
	j.RWLock.RUnlock()
	if proc == nil || proc.Process == nil {
		return nil
	}
	return proc.Process.Signal(syscall.SIGTERM)
}
