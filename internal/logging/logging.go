package logging

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

type manager struct {
	errorLog  *RotatingFile
	accessLog *RotatingFile
	pageLog   *RotatingFile
	logger    zerolog.Logger
}

var (
	globalMu sync.RWMutex
	global   = manager{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
)

// Configure wires the three logical CUPS-style log sinks (error, access,
// page) as zerolog writers. maxSize bounds each sink before it rotates to
// "<path>.O", matching the teacher's single-backup rotation policy.
func Configure(errorPath, accessPath, pagePath string, maxSize int64) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.errorLog = NewRotatingFile(errorPath, maxSize)
	global.accessLog = NewRotatingFile(accessPath, maxSize)
	global.pageLog = NewRotatingFile(pagePath, maxSize)
	global.logger = zerolog.New(global.errorLog).With().Timestamp().Logger()
}

// SetLevel adjusts the global zerolog level, driven by SERVER_LOGLEVEL.
func SetLevel(level string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	global.logger = global.logger.Level(lvl)
}

// Logger returns the process-wide structured logger.
func Logger() zerolog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.logger
}

// ErrorWriter exposes the raw error-log sink, for the few callers (stdlib
// log.SetOutput) that want a plain io.Writer instead of zerolog.
func ErrorWriter() *RotatingFile {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global.errorLog != nil {
		return global.errorLog
	}
	return NewRotatingFile("stderr", 0)
}

// JobLogger returns a logger scoped to a job id, mirroring serverLogJob.
func JobLogger(jobID int) zerolog.Logger {
	return Logger().With().Int("job-id", jobID).Logger()
}

// PrinterLogger returns a logger scoped to a printer name, mirroring
// serverLogPrinter.
func PrinterLogger(name string) zerolog.Logger {
	return Logger().With().Str("printer", name).Logger()
}

// Access writes one structured access-log line per IPP request, generalizing
// the teacher's internal/logging/http.go line format.
func Access(r *http.Request, operation, statusName string, dur time.Duration, bytesIn int64) {
	globalMu.RLock()
	sink := global.accessLog
	globalMu.RUnlock()
	if sink == nil {
		return
	}
	user := "-"
	if r.URL != nil && r.URL.User != nil {
		if u := r.URL.User.Username(); u != "" {
			user = u
		}
	}
	if bytesIn < 0 {
		bytesIn = 0
	}
	line := time.Now().Format(time.RFC3339) + " " +
		r.RemoteAddr + " " + user + " " +
		r.Method + " " + r.URL.Path + " " +
		operation + " " + statusName + " " +
		dur.String() + " " + humanize.Bytes(uint64(bytesIn))
	_ = sink.WriteLine(line)
}

// Page records a completed page/impression, matching the teacher's page log.
func Page(line string) {
	globalMu.RLock()
	logger := global.pageLog
	globalMu.RUnlock()
	if logger != nil {
		_ = logger.WriteLine(line)
	}
}
