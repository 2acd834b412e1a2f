package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/thilo-hub/ippsample/internal/authstore"
	"github.com/thilo-hub/ippsample/internal/config"
	"github.com/thilo-hub/ippsample/internal/dispatch"
	"github.com/thilo-hub/ippsample/internal/events"
	"github.com/thilo-hub/ippsample/internal/jobengine"
	"github.com/thilo-hub/ippsample/internal/logging"
	"github.com/thilo-hub/ippsample/internal/model"
	"github.com/thilo-hub/ippsample/internal/registry"
	"github.com/thilo-hub/ippsample/internal/spool"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.ErrorLogPath, cfg.AccessLogPath, cfg.PageLogPath, cfg.MaxLogSize)
	logging.SetLevel(cfg.LogLevel)
	log := logging.Logger()

	for _, dir := range []string{cfg.DataDir, cfg.SpoolDir, cfg.ConfDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth, err := authstore.Open(ctx, cfg.AuthDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open auth store")
	}
	defer auth.Close()
	if _, err := auth.Lookup(ctx, "admin"); err == authstore.ErrNotFound {
		if err := auth.CreateUser(ctx, "admin", "admin", true); err != nil {
			log.Fatal().Err(err).Msg("failed to seed admin user")
		}
		log.Warn().Msg("seeded default admin/admin credentials")
	}

	sp := spool.Spool{Dir: cfg.SpoolDir}
	if err := sp.Ensure(); err != nil {
		log.Fatal().Err(err).Msg("failed to create spool dir")
	}

	reg := registry.New()
	bus := events.NewBus()
	seedDefaultPrinter(reg, cfg)

	engine := &jobengine.Engine{Registry: reg, Spool: sp, Config: cfg, Events: bus}
	engine.Start(ctx)
	defer engine.Stop()

	srv := &dispatch.Server{
		Registry:         reg,
		Events:           bus,
		Spool:            sp,
		Auth:             auth,
		Engine:           engine,
		Config:           cfg,
		Hostname:         cfg.Hostname,
		AllowedFetchDirs: cfg.AllowedFetchDirs,
		MaxRequestSize:   256 << 20,
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// seedDefaultPrinter registers the "default" printer every fresh
// server needs so Get-Printers has something to find without
// requiring a Create-Printer round trip first.
func seedDefaultPrinter(reg *registry.Registry, cfg config.Config) {
	now := time.Now()
	p := &model.Printer{
		Name:         "default",
		UUID:         uuid.NewString(),
		Service:      "ipp/print",
		ResourcePath: "/ipp/print/default",
		State:        model.PrinterIdle,
		IsAccepting:  true,
		StartTime:    now,
		StateTime:    now,
		ConfigTime:   now,
		Jobs:         make(map[int]*model.Job),
	}
	reg.AddPrinter(p)
}
