package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"ip-tracker/config"
	"ip-tracker/db"
	"ip-tracker/geolocation"
	"ip-tracker/reports"
	"ip-tracker/routes"
	"ip-tracker/tasks"
	"ip-tracker/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	logger := newLogger(cfg.LogLevel)

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = serve(cfg, logger)
	case "report":
		err = report(cfg, args)
	case "block", "unblock":
		err = changeBlocklist(cfg, command, args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, report, block or unblock)", command)
	}

	if err != nil {
		logger.Fatal("ip-tracker failed", "command", command, "error", err)
	}
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL, using info", "value", level)
		parsed = log.InfoLevel
	}
	logger.SetLevel(parsed)
	log.SetDefault(logger)
	return logger
}

func openStore(cfg config.Config) (*db.GormStore, error) {
	conn, err := db.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return db.NewGormStore(conn), nil
}

func newResolver(ctx context.Context, cfg config.Config, logger *log.Logger) (*geolocation.Resolver, func(), error) {
	cleanup := func() {}

	var provider geolocation.Provider
	if cfg.Geolocation.DBPath != "" {
		geoip, err := geolocation.OpenGeoIP(cfg.Geolocation.DBPath)
		if err != nil {
			return nil, cleanup, err
		}
		provider = geoip
		cleanup = func() { _ = geoip.Close() }
	} else {
		logger.Warn("GEOIP_DB_PATH not set, request logs will have no location")
	}

	var cache geolocation.Cache = geolocation.NewMemoryCache()
	if cfg.Geolocation.RedisURL != "" {
		client, err := geolocation.ConnectRedis(ctx, cfg.Geolocation.RedisURL)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		cache = geolocation.NewRedisCache(client)
		closeGeo := cleanup
		cleanup = func() {
			closeGeo()
			_ = client.Close()
		}
	}

	return geolocation.NewResolver(provider, cache, cfg.Geolocation.TTL, logger), cleanup, nil
}

func serve(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	resolver, closeResolver, err := newResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	scheduler, err := tasks.NewScheduler(cfg.Schedule, logger)
	if err != nil {
		return err
	}
	err = scheduler.Register(cfg.Schedule,
		tasks.NewAnomalySweeper(store, cfg.Detection, tasks.WithLogger(logger)),
		tasks.NewRetentionSweeper(store, cfg.Retention.MaxAge, tasks.WithLogger(logger)),
	)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup routes
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.SetupRoutes(cfg, store, resolver, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server is running", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func report(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	activeOnly := fs.Bool("active-only", false, "Show only active suspicious IPs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return reports.WriteSuspiciousIPs(ctx, os.Stdout, store, *activeOnly)
}

func changeBlocklist(cfg config.Config, command string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ip-tracker %s <ip>", command)
	}
	ip := args[0]
	if err := utils.ValidateIP(ip); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if command == "block" {
		if err := store.BlockIP(ctx, ip); err != nil {
			return err
		}
		fmt.Printf("Blocked %s\n", ip)
		return nil
	}

	removed, err := store.UnblockIP(ctx, ip)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s was not blocked\n", ip)
		return nil
	}
	fmt.Printf("Unblocked %s\n", ip)
	return nil
}
