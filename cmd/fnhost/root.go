package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/giantswarm/fnhost"
	"github.com/giantswarm/fnhost/internal/admin"
)

const shutdownGrace = 5 * time.Second

type rootFlags struct {
	runtimeDir     string
	appsDir        string
	admissionLimit int
	poolCapacity   int
	instanceTTL    time.Duration
	purgeInterval  time.Duration
	startTimeout   time.Duration
	stopTimeout    time.Duration
	listenAddr     string
	logLevel       string
	logFormat      string
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:   "fnhost",
		Short: "Serverless function host",
		Long: `fnhost keeps warm instances of deployed functions, supervises shared
worker processes and serves the worker RPC socket. An admin HTTP endpoint
exposes health, metrics and app management.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.runtimeDir, "runtime-dir", "", "runtime directory (default $TMPDIR/"+fnhost.DefaultRuntimeDirName+")")
	fl.StringVar(&f.appsDir, "apps-dir", "", "directory holding deployed apps (default $TMPDIR/"+fnhost.DefaultAppsDirName+")")
	fl.IntVar(&f.admissionLimit, "admission-limit", fnhost.DefaultAdmissionLimit, "maximum concurrently acquired owned instances per app")
	fl.IntVar(&f.poolCapacity, "pool-capacity", fnhost.DefaultPoolCapacity, "maximum idle owned instances cached per app")
	fl.DurationVar(&f.instanceTTL, "instance-ttl", fnhost.DefaultInstanceTTL, "lifetime of an idle cached instance")
	fl.DurationVar(&f.purgeInterval, "purge-interval", fnhost.DefaultPurgeInterval, "interval of the expired instance sweep, 0 disables it")
	fl.DurationVar(&f.startTimeout, "start-timeout", fnhost.DefaultInstanceStartTimeout, "time a shared worker has to verify after start")
	fl.DurationVar(&f.stopTimeout, "stop-timeout", fnhost.DefaultInstanceStopTimeout, "time a shared worker has to exit after SIGTERM")
	fl.StringVar(&f.listenAddr, "listen", "127.0.0.1:9464", "admin HTTP listen address")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")

	return cmd
}

func (f rootFlags) options(reg prometheus.Registerer) []fnhost.HostOption {
	opts := []fnhost.HostOption{
		fnhost.WithAdmissionLimit(f.admissionLimit),
		fnhost.WithPoolCapacity(f.poolCapacity),
		fnhost.WithInstanceTTL(f.instanceTTL),
		fnhost.WithPurgeInterval(f.purgeInterval),
		fnhost.WithInstanceStartTimeout(f.startTimeout),
		fnhost.WithInstanceStopTimeout(f.stopTimeout),
		fnhost.WithMetricsRegisterer(reg),
	}
	if f.runtimeDir != "" {
		opts = append(opts, fnhost.WithRuntimeDir(f.runtimeDir))
	}
	if f.appsDir != "" {
		opts = append(opts, fnhost.WithAppsDir(f.appsDir))
	}
	return opts
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// validate checks numeric flags up front so bad input is reported as an
// error instead of an option panic.
func (f rootFlags) validate() error {
	var errs []error
	if f.admissionLimit <= 0 {
		errs = append(errs, errors.New("--admission-limit must be greater than 0"))
	}
	if f.poolCapacity <= 0 {
		errs = append(errs, errors.New("--pool-capacity must be greater than 0"))
	}
	for name, d := range map[string]time.Duration{
		"--instance-ttl":  f.instanceTTL,
		"--start-timeout": f.startTimeout,
		"--stop-timeout":  f.stopTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than 0", name))
		}
	}
	if f.purgeInterval < 0 {
		errs = append(errs, errors.New("--purge-interval must not be negative"))
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, f rootFlags) error {
	if err := f.validate(); err != nil {
		return err
	}
	logger, err := newLogger(f.logLevel, f.logFormat)
	if err != nil {
		return err
	}
	fnhost.SetLogger(logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	host := fnhost.NewHost(f.options(reg)...)
	if err := host.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize host: %w", err)
	}
	defer func() {
		if err := host.Shutdown(); err != nil {
			logger.Error("host shutdown failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         f.listenAddr,
		Handler:      admin.New(admin.Config{Host: host, Gatherer: reg, Logger: logger}).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", f.listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}
