package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bacterium-io/mstpstack/pkg/binding"
	"github.com/bacterium-io/mstpstack/pkg/config"
	"github.com/bacterium-io/mstpstack/pkg/datalink"
	"github.com/bacterium-io/mstpstack/pkg/dispatch"
	"github.com/bacterium-io/mstpstack/pkg/mgmtapi"
	"github.com/bacterium-io/mstpstack/pkg/metrics"
	"github.com/bacterium-io/mstpstack/pkg/mstp"
	"github.com/bacterium-io/mstpstack/pkg/serial"
	"github.com/bacterium-io/mstpstack/pkg/tsm"

	_ "github.com/bacterium-io/mstpstack/pkg/serial/mock"
	_ "github.com/bacterium-io/mstpstack/pkg/serial/portable"
	_ "github.com/bacterium-io/mstpstack/pkg/serial/rs485"
)

var (
	driverKind string
	channel    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the MS/TP port, dispatcher, and metrics/management servers",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVar(&driverKind, "driver", "mock", "serial driver kind: rs485, portable, or mock")
	startCmd.Flags().StringVar(&channel, "channel", "", "driver channel (device path); ignored by the mock driver")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	driver, err := serial.Open(driverKind, channel, cfg.BaudRate)
	if err != nil {
		return err
	}
	defer driver.Close()

	port, err := mstp.New(cfg.ToMSTPConfig(), driver)
	if err != nil {
		return err
	}

	link := datalink.NewMSTP(port)
	transactions := tsm.New(link, tsm.Config{
		APDUTimeoutMs: cfg.APDUTimeoutMs,
		APDURetries:   cfg.APDURetries,
		SnapshotPath:  cfg.SnapshotPath,
	})
	bindingCache := binding.New(binding.Config{RedisAddr: cfg.RedisAddr, SnapshotPath: cfg.SnapshotPath})
	metricsReg := prometheus.NewRegistry()
	metrics.Register(metricsReg, port, bindingCache, transactions)

	dispatcher := dispatch.New(link, transactions, dispatch.NewMetrics(metricsReg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	mux.Handle("/", mgmtapi.NewRouter(bindingCache, transactions))
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	// The link task, the timer task, and the metrics/management server
	// each get their own goroutine in the group (§5's "one cooperative
	// goroutine per port plus a timer goroutine"); errgroup ties their
	// lifetimes together so any one's failure cancels gctx for the rest,
	// and g.Wait() below blocks for all three to actually exit.
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pollLink(gctx, link, dispatcher)
		return nil
	})
	g.Go(func() error {
		driveTimers(gctx, port, transactions, bindingCache)
		return nil
	})

	log.WithFields(log.Fields{
		"mac_address": cfg.MacAddress,
		"baud_rate":   cfg.BaudRate,
		"metrics":     cfg.MetricsAddr,
	}).Info("bacstackd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("metrics/management server shutdown")
	}
	return g.Wait()
}

// pollLink drains inbound frames and hands them to the dispatcher, which
// decodes NPDU/APDU and routes confirmed/unconfirmed requests and acks.
// Registering real service handlers against an ObjectDispatcher is left to
// the caller — this daemon exercises the routing and transaction machinery,
// not the application-layer service semantics that are out of scope here.
func pollLink(ctx context.Context, link datalink.Datalink, d *dispatch.Dispatcher) {
	for {
		peer, payload, ok := link.Poll(ctx)
		if !ok {
			return
		}
		if err := d.Dispatch(peer, payload); err != nil {
			log.WithError(err).WithField("peer", peer).Debug("dispatch failed")
		}
	}
}

// driveTimers pumps the MS/TP port's FSM, the TSM's retry/timeout clock,
// and the binding cache's TTL decay off one ticker, rather than giving
// each its own goroutine and timer.
func driveTimers(ctx context.Context, port *mstp.Port, transactions *tsm.TSM, bindingCache *binding.Cache) {
	const tick = 10 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var sinceBindingTick time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := port.Poll(now); err != nil {
				log.WithError(err).Debug("port poll error")
			}
			transactions.Tick(uint32(tick.Milliseconds()))

			sinceBindingTick += tick
			if sinceBindingTick >= time.Second {
				bindingCache.Tick(uint32(sinceBindingTick.Seconds()))
				sinceBindingTick = 0
			}
		}
	}
}
