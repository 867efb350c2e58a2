package main

import (
	"context"
	"math/rand"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/influxdata/bfqd/internal/bfq"
)

// serveFlags mirrors Config's fields for command-line override; a zero
// value means "use whatever the config file (or its defaults) supplied".
type serveFlags struct {
	configPath string
	httpAddr   string
	logLevel   string
	desktop    bool
	strict     bool
}

var flags serveFlags

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon against a synthetic workload",
		RunE:  runServe,
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to bfqd.toml (optional; built-in defaults are used otherwise)")
	cmd.Flags().StringVarP(&flags.httpAddr, "http-addr", "", "", "address to serve /metrics and /healthz on (overrides config)")
	cmd.Flags().StringVarP(&flags.logLevel, "log-level", "", "", "info or debug (overrides config)")
	cmd.Flags().BoolVarP(&flags.desktop, "desktop", "", false, "force idling for every sync non-idle-class queue")
	cmd.Flags().BoolVarP(&flags.strict, "strict-guarantees", "", false, "never let a queue dispatch past its granted budget, even by one request")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFile(flags.configPath)
	if err != nil {
		return err
	}
	if flags.httpAddr != "" {
		cfg.HTTPBindAddress = flags.httpAddr
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.desktop {
		cfg.Desktop = true
	}
	if flags.strict {
		cfg.StrictGuarantees = true
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint

	device := newSyntheticDevice(logger)
	engine := bfq.NewEngine(cfg.tunables(), device, bfq.WithLogger(logger))
	device.engine = engine

	reg := prometheus.NewRegistry()
	for _, c := range engine.PrometheusCollectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.HTTPBindAddress)
	if err != nil {
		return err
	}
	httpServer := &nethttp.Server{Handler: newServeMux(reg)}
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != nethttp.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()
	logger.Info("bfqd listening", zap.String("addr", ln.Addr().String()))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		device.run(ctx, engine)
	}()

	<-sigCh
	logger.Info("shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	return engine.Shutdown(shutdownCtx)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

const (
	metricsPath = "/metrics"
	healthPath  = "/healthz"
)

func newServeMux(reg *prometheus.Registry) *nethttp.ServeMux {
	mux := nethttp.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc(healthPath, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		w.Write([]byte("ok\n")) //nolint
	})
	return mux
}

// syntheticDevice stands in for a real block device: it accepts
// dispatched requests and, after a latency proportional to request
// length, reports their completion back to the engine — the same
// "generate synthetic pressure and observe the scheduler's response"
// pattern FakeDevice enables in tests, run continuously instead of
// driven step-by-step.
type syntheticDevice struct {
	logger *zap.Logger
	engine *bfq.Engine

	mu   sync.Mutex
	next bfq.RequestID
}

func newSyntheticDevice(logger *zap.Logger) *syntheticDevice {
	return &syntheticDevice{logger: logger}
}

func (d *syntheticDevice) Submit(ctx context.Context, rq *bfq.Request) error {
	latency := time.Duration(rq.Length) * 50 * time.Microsecond
	if latency < time.Millisecond {
		latency = time.Millisecond
	}
	go func() {
		time.Sleep(latency)
		if err := d.engine.Complete(ctx, rq); err != nil {
			d.logger.Warn("completing synthetic request failed", zap.Error(err))
		}
	}()
	return nil
}

// run repeatedly generates producer traffic and drives Dispatch, the way
// a real kernel block layer would call into the scheduler on every
// request arrival and device idle event.
func (d *syntheticDevice) run(ctx context.Context, engine *bfq.Engine) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	rnd := rand.New(rand.NewSource(1))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rq := d.nextRequest(rnd)
			if err := engine.Add(ctx, rq); err != nil {
				d.logger.Warn("add failed", zap.Error(err))
				continue
			}
			if _, err := engine.Dispatch(ctx, false); err != nil {
				d.logger.Warn("dispatch failed", zap.Error(err))
			}
		}
	}
}

func (d *syntheticDevice) nextRequest(rnd *rand.Rand) *bfq.Request {
	d.mu.Lock()
	d.next++
	id := d.next
	d.mu.Unlock()

	producer := bfq.ProducerID(rnd.Intn(4) + 1)
	return &bfq.Request{
		ID:       id,
		Producer: producer,
		Sync:     rnd.Intn(4) != 0,
		Sector:   bfq.Sectors(rnd.Intn(1 << 20)),
		Length:   bfq.Sectors(rnd.Intn(256) + 8),
		Class:    bfq.ClassBE,
		Weight:   100,
	}
}
