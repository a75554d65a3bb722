// Package daemon runs collection on an interval with a metrics endpoint.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/musterops/muster/telemetry"
)

// Config holds daemon configuration
type Config struct {
	Interval    time.Duration
	MetricsAddr string
}

// Daemon drives periodic collection cycles.
type Daemon struct {
	interval    time.Duration
	metricsAddr string
	cycle       func(ctx context.Context) error
	logger      *telemetry.Logger

	startTime time.Time
	runCount  atomic.Int64
}

// New creates a daemon around one collection cycle function.
func New(config Config, cycle func(ctx context.Context) error, logger *telemetry.Logger) *Daemon {
	return &Daemon{
		interval:    config.Interval,
		metricsAddr: config.MetricsAddr,
		cycle:       cycle,
		logger:      logger,
		startTime:   time.Now(),
	}
}

// Run blocks until a signal or a fatal actor error. The ticker loop, the
// metrics server, and signal handling run as one actor group so any exit
// tears down the rest.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group run.Group

	group.Add(func() error {
		return d.loop(ctx)
	}, func(error) {
		cancel()
	})

	server := &http.Server{Addr: d.metricsAddr, Handler: d.metricsMux()}
	group.Add(func() error {
		d.logger.Info().Str("addr", d.metricsAddr).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := group.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) {
		d.logger.Info().Str("signal", signalErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// loop runs one cycle immediately and then on every tick. A failed cycle is
// logged and the loop keeps going.
func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	d.runCount.Add(1)
	if err := d.cycle(ctx); err != nil {
		d.logger.WithContext(ctx).Error().Err(err).Msg("collection cycle failed")
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Cycles        int64  `json:"cycles"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(d.startTime).Seconds()),
		Cycles:        d.runCount.Load(),
	}
}

// CycleCount returns total cycles started.
func (d *Daemon) CycleCount() int64 {
	return d.runCount.Load()
}

func (d *Daemon) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Health()); err != nil {
			http.Error(w, fmt.Sprintf("encode health: %v", err), http.StatusInternalServerError)
		}
	})
	return mux
}
