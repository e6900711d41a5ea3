// Command rdmnetbroker runs a standalone RDMnet broker: it accepts RPT
// client connections, routes messages between them, exposes Prometheus
// metrics, and optionally browses mDNS for other brokers serving the same
// scope.
//
// Flag parsing, signal-aware shutdown via an errgroup, and the metrics
// HTTP server follow dantte-lp/gobfd's cmd/gobfd/main.go; the interface
// enumeration and startup banner follow the teacher's own
// examples/multi-interface-demo/main.go.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/etclabs/rdmnetgo/internal/bcfg"
	"github.com/etclabs/rdmnetgo/internal/blog"
	"github.com/etclabs/rdmnetgo/internal/bmetrics"
	"github.com/etclabs/rdmnetgo/internal/broker"
	"github.com/etclabs/rdmnetgo/internal/mdns"
	"github.com/etclabs/rdmnetgo/internal/netint"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := bcfg.BrokerConfig{}
	flag.StringVar(&cfg.ListenAddr, "listen", ":8888", "TCP address to accept RDMnet client connections on")
	flag.StringVar(&cfg.Scope, "scope", "default", "RDMnet scope this broker serves")
	flag.StringVar(&cfg.CID, "cid", "", "this broker's component ID (hex-dash form); random if unset")
	flag.StringVar(&cfg.UID, "uid", "", "this broker's RDM UID, mfr:device hex form, e.g. 6574:00000001")
	flag.IntVar(&cfg.MaxClients, "max-clients", 0, "maximum simultaneous client connections, 0 for unlimited")
	flag.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", 30*time.Second, "time a client may go silent before being disconnected")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "address the Prometheus exposition endpoint listens on; empty disables it")
	flag.StringVar(&cfg.LogFormat, "log-format", "json", `log output format: "json" or "text"`)
	flag.StringVar(&cfg.LogLevel, "log-level", "info", `log level: "debug", "info", "warn", or "error"`)
	flag.BoolVar(&cfg.DiscoveryEnabled, "discovery", true, "browse mDNS for other brokers serving this scope")
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return 1
	}

	if cfg.UID == "" {
		fmt.Fprintln(os.Stderr, "rdmnetbroker: -uid is required")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rdmnetbroker: %v\n", err)
		return 1
	}

	logger, _ := blog.New(cfg.ToLogConfig())
	logger.Info("rdmnetbroker starting",
		blog.Scope(cfg.Scope),
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
	)

	reg := prometheus.NewRegistry()
	collector := bmetrics.NewCollector(reg)

	b := broker.New(cfg.ToBrokerConfig(), logger, collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.ListenAndServe(gCtx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		metricsSrv := newMetricsServer(cfg.MetricsAddr, reg)
		g.Go(func() error { return runMetricsServer(gCtx, metricsSrv, logger) })
	}

	if cfg.DiscoveryEnabled {
		g.Go(func() error { return runDiscovery(gCtx, cfg.Scope, collector, logger) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("rdmnetbroker exited with error", "error", err.Error())
		return 1
	}
	logger.Info("rdmnetbroker stopped")
	return 0
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

func runMetricsServer(ctx context.Context, srv *http.Server, logger interface {
	Info(string, ...any)
	Error(string, ...any)
}) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// runDiscovery browses scope on the first interface netint.Enumerate
// returns and keeps the discovered-brokers gauge in sync with the
// engine's roster until ctx is canceled. The other interfaces are not
// browsed.
func runDiscovery(ctx context.Context, scope string, collector *bmetrics.Collector, logger interface {
	Info(string, ...any)
	Warn(string, ...any)
}) error {
	ifaces, err := netint.Enumerate()
	if err != nil {
		return fmt.Errorf("discovery: enumerate interfaces: %w", err)
	}
	if len(ifaces) == 0 {
		logger.Warn("discovery: no usable network interfaces found, discovery disabled")
		<-ctx.Done()
		return nil
	}

	transport, err := mdns.NewTransport(ifaces[0], nil)
	if err != nil {
		return fmt.Errorf("discovery: open transport on %s: %w", ifaces[0].Name, err)
	}
	defer transport.Close()

	engine := mdns.NewEngine(transport, nil)
	transport.Bind(engine)

	if err := engine.Monitor(scope); err != nil {
		return fmt.Errorf("discovery: monitor scope %q: %w", scope, err)
	}

	go transport.Run(ctx)

	known := make(map[string]struct{})
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, n := range engine.Tick() {
				switch n.Kind {
				case mdns.BrokerFound:
					known[n.Broker.ServiceInstanceName] = struct{}{}
				case mdns.BrokerLost:
					delete(known, n.Broker.ServiceInstanceName)
				}
				logger.Info("discovery event", "kind", n.Kind.String(), "scope", n.Scope, "broker", n.Broker.ServiceInstanceName)
			}
			collector.SetDiscoveredBrokers(len(known))
		}
	}
}
