// Command amon-master runs the central monitoring master: it owns the
// authoritative probe configuration, authorizes mutations, routes events
// from relays and enforces maintenance suppression.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/cache"
	"github.com/joshwilsdon-forks/sdc-amon/internal/cnapi"
	"github.com/joshwilsdon-forks/sdc-amon/internal/config"
	"github.com/joshwilsdon-forks/sdc-amon/internal/database"
	"github.com/joshwilsdon-forks/sdc-amon/internal/directory"
	"github.com/joshwilsdon-forks/sdc-amon/internal/maintenance"
	"github.com/joshwilsdon-forks/sdc-amon/internal/master"
	"github.com/joshwilsdon-forks/sdc-amon/internal/notification"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
	"github.com/joshwilsdon-forks/sdc-amon/internal/router"
	"github.com/joshwilsdon-forks/sdc-amon/internal/vmapi"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON bootstrap config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amon-master: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	log.WithField("port", cfg.Port).Info("amon master starting")

	dir, err := directory.NewClient(directory.Config{
		URL:      cfg.DirectoryURL,
		BindDN:   cfg.DirectoryBindDN,
		Password: cfg.DirectoryPassword,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("directory connection failed")
	}
	defer dir.Close()

	kv := database.New(database.Config{
		Host: cfg.RedisHost,
		Port: cfg.RedisPort,
		DB:   cfg.RedisDB,
	}, log)
	defer kv.Close()

	ctx := context.Background()
	if err := kv.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}

	sizing := make(map[string]cache.Sizing, len(cfg.Caches))
	for name, cc := range cfg.Caches {
		sizing[name] = cache.Sizing{Capacity: cc.Size, TTL: cc.TTL()}
	}
	def := cache.Sizing{Capacity: 1000, TTL: 5 * time.Minute}
	caches := cache.NewCaches(sizing, def, cfg.CachesDisabled)

	specs := make([]notification.PluginSpec, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		specs = append(specs, notification.PluginSpec{Name: p.Name, Kind: p.Kind, Config: p.Config})
	}
	plugins, err := notification.BuildRegistry(specs, log)
	if err != nil {
		log.WithError(err).Fatal("notification plugin registry failed")
	}

	users := account.NewResolver(dir, caches.User, log)
	probes := probe.NewService(dir, probe.DefaultRegistry(), caches,
		vmapi.New(cfg.VMAPIURL, log), cnapi.New(cfg.CNAPIURL, log), cfg.AdminUUID, log)
	maint := maintenance.NewEngine(kv, nil, log)
	events := router.New(probes, maint, users, plugins, log)
	maint.SetEndHook(events.HandleMaintenanceEnd)

	if err := maint.Start(ctx); err != nil {
		log.WithError(err).Fatal("maintenance reaper failed to start")
	}
	defer maint.Stop()

	srv := master.New(probes, maint, events, users, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
	log.Info("amon master stopped")
}
