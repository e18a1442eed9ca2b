// Command ingest is a NATS worker: it answers ingest requests on the
// configured subject by running them through the ingestion pipeline.
// Workers share a queue group, so any number of them can run side by side.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/ami-rag/engine/app"
	"github.com/WessleyAI/ami-rag/engine/ingest"
	"github.com/WessleyAI/ami-rag/pkg/config"
	"github.com/nats-io/nats.go"
)

func main() {
	metricsAddr := flag.String("metrics", "", "address serving /metrics (default from config); \"off\" disables it")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}
	addr := cfg.Telemetry.MetricsAddr
	switch *metricsAddr {
	case "":
	case "off":
		addr = ""
	default:
		addr = *metricsAddr
	}
	if err := run(cfg, addr, log); err != nil {
		log.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("ami-ingest"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return err
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, cfg.NATS.Subject, cfg.Qdrant.Collection, cfg.NATS.Timeout, a.Ingest, log)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	log.Info("ingest worker listening", "subject", cfg.NATS.Subject, "queue", ingest.Queue, "collection", cfg.Qdrant.Collection)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", a.Metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
