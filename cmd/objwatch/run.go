package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch"
	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/sink"
	"github.com/jom-io/gorig/utils/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type runOptions struct {
	pid          int
	metricsAddr  string
	leakMB       int
	leakCount    int
	leakInterval time.Duration
}

func runOptionsFrom(v *viper.Viper) runOptions {
	interval, err := objwatch.ParseDuration(v.GetString("simulate.leak_interval"))
	if err != nil || interval <= 0 {
		interval = 2 * time.Second
	}
	return runOptions{
		pid:          v.GetInt("pid"),
		metricsAddr:  v.GetString("metrics_addr"),
		leakMB:       v.GetInt("simulate.leak_mb"),
		leakCount:    v.GetInt("simulate.leak_count"),
		leakInterval: interval,
	}
}

func run(ctx context.Context, out io.Writer, cfg objwatch.Config, ro runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := objwatch.Multi{sink.NewJSONLines(out)}
	if ro.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		prom, err := sink.NewPrometheus(reg)
		if err != nil {
			return err
		}
		sinks = append(sinks, prom)
		srv := serveMetrics(ctx, ro.metricsAddr, reg)
		defer srv.Close()
	}

	opts := []objwatch.Option{objwatch.WithSink(sinks)}
	if ro.pid > 0 {
		opts = append(opts, objwatch.WithPID(ro.pid))
	}
	w, err := objwatch.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	simulateLeak(ctx, ro.leakMB, ro.leakCount, ro.leakInterval)
	<-ctx.Done()
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info(ctx, "Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

var leakHold [][]byte

// simulateLeak retains sizeMB every interval, count times, so thresholds can be seen firing.
func simulateLeak(ctx context.Context, sizeMB, count int, interval time.Duration) {
	if sizeMB <= 0 || count <= 0 {
		return
	}
	logger.Warn(ctx, "Simulating a memory leak", zap.Int("mb", sizeMB), zap.Int("count", count), zap.Duration("interval", interval))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			buf := make([]byte, sizeMB*1024*1024)
			for idx := 0; idx < len(buf); idx += 4096 {
				buf[idx] = 1
			}
			leakHold = append(leakHold, buf)
		}
		runtime.KeepAlive(leakHold)
	}()
}
