package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/pipeline"
	"safety-companion/analytics/internal/risk"
	"safety-companion/analytics/internal/session"
	"safety-companion/analytics/internal/store"
	"safety-companion/analytics/internal/stream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file — using system environment variables")
	}

	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		stdlog.Fatalf("logger init failed: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatal("redis connect failed", "addr", cfg.RedisAddr, "error", err)
	}
	defer redisStore.Close()

	disp := pipeline.NewDispatcher(cfg.MirrorChanSize, cfg.AuditChanSize, cfg.AuditEnabled)

	pub := stream.NewPublisher(cfg, disp, log)
	defer pub.Close()

	sessions := session.NewStore()
	zone := cfg.Location()

	eval := risk.NewEvaluator(risk.EvaluatorConfig{
		OffRouteThresholdM: cfg.OffRouteThresholdM,
		OffRouteFireScore:  cfg.OffRouteFireScore,
		OffRouteCooldown:   cfg.OffRouteCooldown,
		JumpSpeedMPS:       cfg.JumpSpeedMPS,
		JumpCooldown:       cfg.JumpCooldown,
		NightStartHour:     cfg.NightStartHour,
		NightEndHour:       cfg.NightEndHour,
		NightCooldown:      cfg.NightCooldown,
		Zone:               zone,
	}, sessions, pub, log)

	scorer := risk.NewScorer(risk.ScorerConfig{
		Tick:                cfg.ScoreTick,
		OffRouteWeight:      cfg.ScoreOffRouteWeight,
		OffRouteSustain:     cfg.OffRouteSustain,
		InactiveWeight:      cfg.ScoreInactiveWeight,
		InactivityThreshold: cfg.InactivityThreshold,
		NightWeight:         cfg.ScoreNightWeight,
		NightStartHour:      cfg.NightStartHour,
		NightEndHour:        cfg.NightEndHour,
		Zone:                zone,
	}, sessions, pub, log)

	watchdog := risk.NewWatchdog(risk.WatchdogConfig{
		Interval:            cfg.WatchdogInterval,
		InactivityThreshold: cfg.InactivityThreshold,
		NoMovementCooldown:  cfg.NoMovementCooldown,
		SessionRetention:    cfg.SessionRetention,
	}, sessions, pub, log)

	consumer := stream.NewConsumer(cfg, redisStore, eval, disp, log)
	mirror := pipeline.NewMirrorWriter(disp.MirrorChan, redisStore, log)

	var audit *pipeline.AuditWriter
	if cfg.AuditEnabled {
		db, err := store.NewAuditStore(ctx, cfg)
		if err != nil {
			log.Fatal("audit db connect failed", "error", err)
		}
		defer db.Close()
		audit = pipeline.NewAuditWriter(disp.AuditChan, db, cfg.AuditBatch, cfg.AuditFlush, log)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { scorer.Run(gctx); return nil })
	g.Go(func() error { watchdog.Run(gctx); return nil })
	g.Go(func() error { mirror.Run(gctx); return nil })
	if audit != nil {
		g.Go(func() error { audit.Run(gctx); return nil })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisStore.Ping(r.Context()); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("analytics service started",
		"inbound_stream", cfg.InboundStream,
		"outbound_stream", cfg.OutboundStream,
		"group", cfg.ConsumerGroup,
		"http_port", cfg.HTTPPort,
		"audit_enabled", cfg.AuditEnabled,
	)

	if err := g.Wait(); err != nil {
		log.Error("service exited with error", "error", err)
	}
	log.Info("shutdown complete")
}
