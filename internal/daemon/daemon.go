// Package daemon runs a capture: packets flow from a source into the
// sharded monitor, idle sessions are swept into the reporters, and every
// session left at shutdown is flushed.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"firestige.xyz/flowmon/internal/config"
	"firestige.xyz/flowmon/internal/core"
	"firestige.xyz/flowmon/internal/log"
	"firestige.xyz/flowmon/internal/metrics"
	"firestige.xyz/flowmon/internal/monitor"
	"firestige.xyz/flowmon/internal/report"
	"firestige.xyz/flowmon/internal/source"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns the components of one capture.
type Daemon struct {
	// Configuration
	config  *config.GlobalConfig
	loader  *config.Loader // nil disables hot reload
	pidFile string

	// Core components
	source        *source.Source
	monitor       *monitor.Sharded
	reporters     *report.Multi
	metricsServer *metrics.Server // nil if metrics disabled
	clock         func() uint64

	// Lifecycle management
	ctx         context.Context
	cancel      context.CancelFunc
	wg          conc.WaitGroup
	captureDone chan error
	sigChan     chan os.Signal
	stopOnce    sync.Once
	stopErr     error
	mu          sync.Mutex // guards config on reload

	log log.Logger
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSource uses src instead of opening the configured source.
func WithSource(src *source.Source) Option {
	return func(d *Daemon) { d.source = src }
}

// WithReporters uses m instead of opening the configured reporters.
func WithReporters(m *report.Multi) Option {
	return func(d *Daemon) { d.reporters = m }
}

// WithLoader enables hot reload from the loader's file.
func WithLoader(l *config.Loader) Option {
	return func(d *Daemon) { d.loader = l }
}

// WithPIDFile writes the process ID to path while running.
func WithPIDFile(path string) Option {
	return func(d *Daemon) { d.pidFile = path }
}

// WithWallClock sweeps by wall-clock time instead of packet time. Use it
// for live capture, where quiet links must still expire sessions.
func WithWallClock() Option {
	return func(d *Daemon) {
		d.clock = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
}

// New creates a Daemon for cfg. cfg must have been validated.
func New(cfg *config.GlobalConfig, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		config:      cfg,
		captureDone: make(chan error, 1),
		log:         log.Named("daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}

	m, err := monitor.NewSharded(monitor.ShardedConfig{
		Shards:    cfg.Monitor.Shards,
		QueueSize: cfg.Monitor.QueueSize,
		Monitor: monitor.Config{
			TrackOtherProtocols: cfg.Monitor.TrackOtherProtocols,
			Idle:                cfg.Monitor.Idle.Policy(),
			Clock:               d.clock,
		},
		StatsInterval: cfg.Monitor.StatsInterval,
		OnStats:       metrics.Publish,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}
	d.monitor = m

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start opens the source and reporters and starts every worker. On error,
// whatever was already started is stopped again.
func (d *Daemon) Start() (err error) {
	d.log.WithFields(map[string]interface{}{
		"node":     d.config.Node.ID,
		"hostname": d.config.Node.Hostname,
		"shards":   d.config.Monitor.Shards,
	}).Info("starting flowmon")

	defer func() {
		if err != nil {
			d.cancel()
			err = multierr.Append(err, d.closeAll())
		}
	}()

	// 1. Write PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	// 2. Start metrics server
	if err := d.startMetrics(); err != nil {
		return err
	}

	// 3. Open reporters and source
	if d.reporters == nil {
		m, err := report.Open(d.config.Reporters)
		if err != nil {
			return fmt.Errorf("failed to open reporters: %w", err)
		}
		d.reporters = m
	}
	if d.source == nil {
		src, err := source.Open(d.config.Source)
		if err != nil {
			return fmt.Errorf("failed to open source: %w", err)
		}
		d.source = src
	}

	// 4. Start monitor, capture and sweep loops
	d.monitor.Start()
	d.wg.Go(d.capture)
	if d.config.Monitor.SweepInterval > 0 {
		d.wg.Go(d.sweepLoop)
	}

	// 5. Watch the config file
	if d.loader != nil {
		d.loader.Watch(func(cfg *config.GlobalConfig, err error) {
			if err != nil {
				d.log.WithError(err).Warn("ignoring invalid config change")
				return
			}
			d.apply(cfg)
		})
	}

	d.log.WithFields(map[string]interface{}{
		"source":    d.source.Name(),
		"reporters": d.reporters.Len(),
	}).Info("flowmon started")
	return nil
}

func (d *Daemon) capture() {
	err := d.source.Run(d.ctx, d.monitor.Submit)
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrMonitorStopped) {
		err = nil
	}
	d.captureDone <- err
}

func (d *Daemon) sweepLoop() {
	ticker := time.NewTicker(d.config.Monitor.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.Sweep(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.WithError(err).Warn("sweep failed")
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Sweep expires idle sessions and reports them.
func (d *Daemon) Sweep(ctx context.Context) error {
	start := time.Now()
	expired, err := d.monitor.Sweep(ctx)
	if err == nil {
		metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}
	if len(expired) == 0 {
		return err
	}

	// sessions already removed from their shard are reported even when
	// the sweep was cut short
	reportCtx := ctx
	if err != nil {
		reportCtx = context.WithoutCancel(ctx)
	}
	d.log.WithField("sessions", len(expired)).Debug("sessions expired")
	return multierr.Append(err, d.reporters.Report(reportCtx, report.FromExpired(d.config.Node.ID, report.ReasonExpired, expired)))
}

// Stats sums the monitor counters.
func (d *Daemon) Stats(ctx context.Context) (monitor.Stats, error) {
	return d.monitor.Stats(ctx)
}

// Run blocks until shutdown and then stops the daemon. Shutdown is
// triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the end of the capture, e.g. the end of a file
//  3. ctx being cancelled
//
// SIGHUP reloads the configuration.
func (d *Daemon) Run(ctx context.Context) error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.log.WithField("signal", sig.String()).Info("received shutdown signal")
				return d.Stop()
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					d.log.WithError(err).Error("failed to reload config")
				}
			}

		case err := <-d.captureDone:
			if err != nil {
				d.log.WithError(err).Error("capture failed")
				return multierr.Append(err, d.Stop())
			}
			d.log.Info("capture finished")
			return d.Stop()

		case <-ctx.Done():
			d.log.WithError(ctx.Err()).Info("context cancelled")
			return d.Stop()
		}
	}
}

// Stop ends the capture, reports every remaining session and releases all
// resources. Only the first call does anything.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.log.Info("initiating graceful shutdown")

		// 1. Stop reading and sweeping
		d.cancel()
		if d.source != nil {
			if err := d.source.Close(); err != nil {
				d.stopErr = multierr.Append(d.stopErr, fmt.Errorf("close source: %w", err))
			}
		}
		d.wg.Wait()

		// 2. Drain the shards, then flush what they hold
		d.monitor.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.flush(ctx); err != nil {
			d.stopErr = multierr.Append(d.stopErr, err)
		}

		// 3. Everything else
		d.stopErr = multierr.Append(d.stopErr, d.closeAll())
		d.log.Info("flowmon stopped")
	})
	return d.stopErr
}

func (d *Daemon) flush(ctx context.Context) error {
	stats, err := d.monitor.Stats(ctx)
	if err != nil {
		d.log.WithError(err).Warn("failed to collect monitor stats")
	}
	expired, flushErr := d.monitor.Flush(ctx)
	if flushErr != nil {
		flushErr = fmt.Errorf("flush sessions: %w", flushErr)
		if len(expired) == 0 {
			return flushErr
		}
		ctx = context.WithoutCancel(ctx)
	}

	fields := map[string]interface{}{
		"packets":  stats.Packets,
		"bytes":    stats.Bytes,
		"dropped":  stats.DroppedTotal(),
		"created":  stats.SessionsCreated,
		"expired":  stats.SessionsExpired,
		"flushed":  len(expired),
		"tcp_rsts": stats.TCPResets,
	}
	if d.source != nil {
		fields["frames"] = d.source.Stats().Frames
	}
	d.log.WithFields(fields).Info("capture summary")

	if len(expired) == 0 || d.reporters == nil {
		return flushErr
	}
	if err := d.reporters.Report(ctx, report.FromExpired(d.config.Node.ID, report.ReasonFlush, expired)); err != nil {
		return multierr.Append(flushErr, fmt.Errorf("report flushed sessions: %w", err))
	}
	return flushErr
}

// closeAll releases the components that outlive the capture.
func (d *Daemon) closeAll() error {
	var errs error
	if d.reporters != nil {
		errs = multierr.Append(errs, d.reporters.Close())
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = multierr.Append(errs, d.metricsServer.Stop(ctx))
	}
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if err := d.removePIDFile(); err != nil {
		d.log.WithError(err).Warn("error removing PID file")
	}
	return errs
}

// Reload rereads the configuration file and applies what can change at
// runtime.
func (d *Daemon) Reload() error {
	if d.loader == nil {
		return errors.New("no configuration file to reload")
	}
	cfg, err := d.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	d.apply(cfg)
	return nil
}

// apply takes over the hot-reloadable settings of cfg: the log level.
// Everything else needs a restart and is only reported.
func (d *Daemon) apply(cfg *config.GlobalConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var hot, cold []string
	if cfg.Log.Level != d.config.Log.Level {
		if err := log.SetLevel(cfg.Log.Level); err != nil {
			d.log.WithError(err).Error("failed to change log level")
		} else {
			d.config.Log.Level = cfg.Log.Level
			hot = append(hot, "log.level")
		}
	}
	if cfg.Monitor != d.config.Monitor {
		cold = append(cold, "monitor")
	}
	if cfg.Metrics != d.config.Metrics {
		cold = append(cold, "metrics")
	}
	if cfg.Source.Type != d.config.Source.Type || cfg.Source.Interface != d.config.Source.Interface ||
		cfg.Source.File != d.config.Source.File || cfg.Source.BPFFilter != d.config.Source.BPFFilter {
		cold = append(cold, "source")
	}

	d.log.WithFields(map[string]interface{}{
		"hot_reloaded":     hot,
		"requires_restart": cold,
	}).Info("configuration reloaded")
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.log.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
