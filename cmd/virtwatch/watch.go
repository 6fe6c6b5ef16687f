package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/virtwatch/internal/config"
	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/engine"
	"github.com/jbweber/virtwatch/internal/metrics"
	"github.com/jbweber/virtwatch/internal/natsbus"
	"github.com/jbweber/virtwatch/internal/output"
)

const metricsShutdownTimeout = 5 * time.Second

var (
	watchFormat string
	quiet       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch hypervisors and stream cache events",
	Long: `Open every configured connection and tick them until interrupted.

Each cache change is printed as it happens. When configured, metrics are
served on /metrics and events are published to NATS. Edits to the
configuration file add or remove connections without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(watchFormat); err != nil {
			return err
		}
		formatter, err := output.NewFormatter(output.Options{Format: output.Format(watchFormat)})
		if err != nil {
			return err
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runWatch(ctx, cfg, log, formatter)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchFormat, "output", "o", "table", "Event format (table, yaml, json)")
	watchCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print stats refresh events")
}

func runWatch(ctx context.Context, cfg *config.Config, log zerolog.Logger, formatter output.Formatter) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	bus := conn.NewBus()
	sub := bus.Subscribe(64)
	defer sub.Close()
	observers := conn.Observers{bus}

	if cfg.NATS.URL != "" {
		pub, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close NATS publisher")
			}
		}()
		observers = append(observers, pub)
		log.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("Publishing events to NATS")
	}

	e := engine.New(engine.Deps{
		Dial:     engine.LibvirtDialer(cfg.DialTimeout),
		Observer: observers,
		Logger:   log,
		Metrics:  recorder,
		Interval: cfg.TickInterval,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Events are drained before any connection is opened so Notify never
	// blocks on an idle subscriber.
	g.Go(func() error {
		return printEvents(gctx, sub, formatter, os.Stdout)
	})

	if err := e.Sync(gctx, cfg.URIs()); err != nil {
		log.Warn().Err(err).Msg("Some connections could not be opened")
	}

	g.Go(func() error {
		return ignoreCanceled(e.Run(gctx))
	})

	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Listen, reg, log)
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, log, func(next *config.Config) {
				if len(uris) > 0 {
					return
				}
				if err := e.Sync(gctx, next.URIs()); err != nil {
					log.Warn().Err(err).Msg("Some connections could not be opened after reload")
				}
			})
		})
	}

	err := g.Wait()
	if closeErr := e.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("Failed to close connections")
	}
	log.Info().Msg("virtwatch stopped")
	return err
}

// printEvents writes every event from sub to w until ctx is done. It closes
// sub on return so a firing in progress never blocks on a full channel.
func printEvents(ctx context.Context, sub *conn.Subscription, formatter output.Formatter, w io.Writer) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.C:
			if quiet && ev.Type == conn.EventObjectStatsUpdated {
				continue
			}
			line, err := formatter.FormatEvent(ev)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(w, line); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Failed to shut down metrics server cleanly")
		}
	}()

	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
