// Command smsinboundd receives SMS segments from the configured transports,
// persists and reassembles them, and delivers complete messages to
// notification subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/smsinbound/config"
	"github.com/kabili207/smsinbound/core/notify"
	"github.com/kabili207/smsinbound/device/broadcast"
	"github.com/kabili207/smsinbound/device/connection"
	"github.com/kabili207/smsinbound/device/inbound"
	"github.com/kabili207/smsinbound/device/metrics"
	"github.com/kabili207/smsinbound/device/push"
	"github.com/kabili207/smsinbound/device/recovery"
	"github.com/kabili207/smsinbound/device/store"
	"github.com/kabili207/smsinbound/transport"
	"github.com/kabili207/smsinbound/transport/mqtt"
	"github.com/kabili207/smsinbound/transport/serial"
	"github.com/kabili207/smsinbound/transport/smpp"
	"github.com/kabili207/smsinbound/transport/websocket"
)

func main() {
	configPath := flag.String("config", os.Getenv("SMSIN_CONFIG"), "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "smsinboundd:", err)
		os.Exit(2)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// newLogger creates a JSON logger at the given level and installs it as the
// default.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	segments, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	bc := broadcast.New(broadcast.Config{Logger: log})
	defer bc.Close()
	bc.SetDefault(notify.ActionDeliver, cfg.Inbound.DefaultSubscriber)
	bc.SetDefault(notify.ActionPushDeliver, cfg.Inbound.DefaultSubscriber)

	ph := push.New(push.Config{Dispatcher: bc, Logger: log})

	h := inbound.New(inbound.Config{
		Store:           segments,
		Dispatcher:      bc,
		Push:            ph,
		ReceiveDisabled: cfg.Inbound.ReceiveDisabled,
		ReleaseDelay:    cfg.Inbound.ReleaseDelay,
		SlowThreshold:   cfg.Inbound.SlowThreshold,
		StoreTimeout:    cfg.Inbound.StoreTimeout,
		Strict:          cfg.Inbound.Strict,
		Metrics:         m,
		Logger:          log,
	})
	defer h.Dispose()

	gw := websocket.New("websocket", websocket.Config{
		OriginPatterns: cfg.HTTP.OriginPatterns,
		Logger:         log,
	})
	defer gw.Close()
	bc.Subscribe(gw,
		broadcast.WithActions(notify.ActionReceived, notify.ActionDataReceived, notify.ActionPushReceived, notify.ActionRejected),
		broadcast.WithPorts(cfg.Inbound.DataPorts...),
	)

	links := connection.NewManager(connection.ManagerConfig{
		ActivityInterval: cfg.Inbound.LinkActivity,
		Logger:           log,
	})
	links.SetOnSilent(func(src transport.Source, _ time.Duration) {
		m.SilentLinks.WithLabelValues(src.String()).Inc()
	})

	transports := buildTransports(cfg, log)
	for _, t := range transports {
		if p, ok := t.(*mqtt.Transport); ok && cfg.MQTT.Publish {
			bc.Subscribe(p.Publisher("mqtt"),
				broadcast.WithActions(
					notify.ActionDeliver, notify.ActionReceived, notify.ActionDataReceived,
					notify.ActionPushDeliver, notify.ActionPushReceived, notify.ActionRejected,
				),
				broadcast.WithPorts(cfg.Inbound.DataPorts...),
				broadcast.WithPriority(10),
			)
		}
		src := sourceOf(t)
		t.SetStateHandler(func(_ transport.Transport, ev transport.Event) {
			log.Info("transport state changed", "source", src.String(), "event", ev.String())
			links.OnStateChange(src, ev)
		})
		t.SetSegmentHandler(links.Wrap(h.HandleSegment))
	}

	h.Start(ctx)

	// Segments arriving before the sweep signals ready are deferred by the
	// pipeline, so transports may start first.
	for _, t := range transports {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("starting transport %T: %w", t, err)
		}
		defer t.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		links.Start(gctx)
		return nil
	})

	g.Go(func() error {
		sweeper := recovery.New(recovery.Config{
			Store:         segments,
			Pipeline:      h,
			PartialExpiry: cfg.Recovery.PartialExpiry,
			Metrics:       m,
			Logger:        log,
		})
		res, err := sweeper.Run(gctx)
		if err != nil {
			log.Error("recovery sweep failed", "error", err)
			return nil
		}
		log.Info("recovery sweep finished", "resubmitted", res.Resubmitted, "partial", res.Partial, "expired", res.Expired)
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle(cfg.HTTP.WebSocketPath, gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, h.State())
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		gw.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.SegmentStore, func(), error) {
	if cfg.Driver != config.DriverPostgres {
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	var opts []store.PostgresOption
	if cfg.Schema != "" {
		opts = append(opts, store.WithSchema(cfg.Schema))
	}
	st, err := store.NewPostgresStore(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("preparing segment table: %w", err)
	}
	return st, pool.Close, nil
}

func sourceOf(t transport.Transport) transport.Source {
	switch t.(type) {
	case *mqtt.Transport:
		return transport.SourceMQTT
	case *serial.Transport:
		return transport.SourceSerial
	case *smpp.Transport:
		return transport.SourceSMPP
	default:
		return transport.SourceLocal
	}
}

func buildTransports(cfg *config.Config, log *slog.Logger) []transport.Transport {
	var out []transport.Transport
	if cfg.MQTT.Enabled {
		out = append(out, mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			GatewayID:   cfg.MQTT.GatewayID,
			Logger:      log,
		}))
	}
	if cfg.Serial.Enabled {
		out = append(out, serial.New(serial.Config{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
			Logger:   log,
		}))
	}
	if cfg.SMPP.Enabled {
		out = append(out, smpp.New(smpp.Config{
			Addr:        cfg.SMPP.Addr,
			SystemID:    cfg.SMPP.SystemID,
			Password:    cfg.SMPP.Password,
			SystemType:  cfg.SMPP.SystemType,
			EnquireLink: cfg.SMPP.EnquireLink,
			Logger:      log,
		}))
	}
	return out
}
