// Package config loads server-wide settings from the environment,
// following the teacher's internal/config.Load() pattern of a single
// Config struct populated by os.Getenv with defaults -- narrowed to
// the SERVER_* variables spec.md names directly (SERVER_LOGLEVEL,
// SERVER_RESOURCES_MAX, SERVER_EVENT_JOB_PROGRESS) plus the ambient
// settings the job/fetch/event engines need. Config-file loading and
// CLI flag parsing are out of scope (spec.md §1).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting the server needs at
// startup.
type Config struct {
	ListenAddr string

	DataDir   string
	SpoolDir  string
	ConfDir   string
	AuthDBPath string

	LogLevel      string
	ErrorLogPath  string
	AccessLogPath string
	PageLogPath   string
	MaxLogSize    int64

	MaxEvents    int           // per-subscription ring buffer bound
	NotifyWait   time.Duration // SERVER_NOTIFY_WAIT; not read: Get-Notifications waits use events.WaitBound
	ResourcesMax int           // SERVER_RESOURCES_MAX

	FetchTimeout    time.Duration // SERVER_FETCH_TIMEOUT; not read: internal/fetch uses fetch.ConnectTimeout
	FetchMaxHops    int           // SERVER_FETCH_MAX_HOPS; not read: internal/fetch follows up to fetch.MaxRedirects (10)
	AllowedFetchDirs []string     // file: scheme roots

	EventJobProgress bool // SERVER_EVENT_JOB_PROGRESS

	SchedulerInterval time.Duration

	// RIPCommands maps a document-format MIME type to the transform
	// command invoked for it; "*" is the fallback entry.
	RIPCommands map[string]string

	Hostname string

	JWTSigningKey []byte // output-device bearer-token signing key (spec §4.9)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads Config from the process environment, applying the
// defaults spec.md's invariants call for (30s notify/fetch bounds,
// 100 resources per printer).
func Load() Config {
	dataDir := getenv("SERVER_DATA_DIR", "data")
	spoolDir := getenv("SERVER_SPOOL_DIR", filepath.Join(dataDir, "spool"))
	confDir := getenv("SERVER_CONF_DIR", filepath.Join(dataDir, "conf"))
	hostname, _ := os.Hostname()

	cfg := Config{
		ListenAddr: getenv("SERVER_LISTEN_ADDR", ":631"),

		DataDir:    dataDir,
		SpoolDir:   spoolDir,
		ConfDir:    confDir,
		AuthDBPath: getenv("SERVER_AUTH_DB", filepath.Join(dataDir, "auth.db")),

		LogLevel:      getenv("SERVER_LOGLEVEL", "info"),
		ErrorLogPath:  getenv("SERVER_ERROR_LOG", filepath.Join(dataDir, "error_log")),
		AccessLogPath: getenv("SERVER_ACCESS_LOG", filepath.Join(dataDir, "access_log")),
		PageLogPath:   getenv("SERVER_PAGE_LOG", filepath.Join(dataDir, "page_log")),
		MaxLogSize:    int64(getenvInt("SERVER_MAX_LOG_SIZE", 8*1024*1024)),

		MaxEvents:    getenvInt("SERVER_MAX_EVENTS", 100),
		NotifyWait:   getenvDuration("SERVER_NOTIFY_WAIT", 30*time.Second),
		ResourcesMax: getenvInt("SERVER_RESOURCES_MAX", 100),

		FetchTimeout:     getenvDuration("SERVER_FETCH_TIMEOUT", 30*time.Second),
		FetchMaxHops:     getenvInt("SERVER_FETCH_MAX_HOPS", 5),
		AllowedFetchDirs: getenvList("SERVER_FETCH_DIRS", []string{filepath.Join(dataDir, "fetch")}),

		EventJobProgress: getenvBool("SERVER_EVENT_JOB_PROGRESS", true),

		SchedulerInterval: getenvDuration("SERVER_SCHEDULER_INTERVAL", 2*time.Second),

		Hostname: getenv("SERVER_HOSTNAME", hostname),

		JWTSigningKey: []byte(getenv("SERVER_JWT_KEY", "insecure-development-key")),
	}

	cfg.RIPCommands = map[string]string{
		"application/pdf":         getenv("SERVER_RIP_PDF", "/usr/bin/false"),
		"application/postscript":  getenv("SERVER_RIP_PS", "/usr/bin/false"),
		"image/pwg-raster":        getenv("SERVER_RIP_PWG", "/usr/bin/false"),
		"image/urf":               getenv("SERVER_RIP_URF", "/usr/bin/false"),
		"*":                       getenv("SERVER_RIP_DEFAULT", "/usr/bin/false"),
	}
	if raw := os.Getenv("SERVER_RIP_COMMANDS"); raw != "" {
		// "format=cmd,format=cmd,..." overrides/extends the table above.
		for _, pair := range strings.Split(raw, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				cfg.RIPCommands[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	return cfg
}

// CommandFor returns the RIP command for a document format, falling
// back to the "*" entry.
func (c Config) CommandFor(format string) string {
	if cmd, ok := c.RIPCommands[format]; ok && cmd != "" {
		return cmd
	}
	return c.RIPCommands["*"]
}
