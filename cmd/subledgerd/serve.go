package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	authgin "github.com/PaulFidika/subledger/adapters/gin"
	"github.com/PaulFidika/subledger/adapters/ginutil"
	"github.com/PaulFidika/subledger/config"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
	"github.com/PaulFidika/subledger/jobs"
	jwtkit "github.com/PaulFidika/subledger/jwt"
	memorylimiter "github.com/PaulFidika/subledger/ratelimit/memory"
	redislimiter "github.com/PaulFidika/subledger/ratelimit/redis"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the ledger's HTTP API with the configured storage driver, event sinks
and lapse sweeper. SIGINT or SIGTERM drains in-flight requests and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	in, err := openInfra(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			log.WithError(err).Warn("storage close failed")
		}
	}()

	keys, err := jwtkit.NewAutoKeySource(jwtkit.AutoKeyOptions{
		KeysPath:   cfg.Auth.KeysPath,
		DevKeysDir: cfg.Auth.DevKeysDir,
		Production: cfg.Auth.Production,
		Log:        log,
	})
	if err != nil {
		return err
	}

	// delivery is where events finally go; with river enabled the ledger enqueues and the
	// worker delivers.
	var delivery entitlements.EventSink
	if cfg.Jobs.WebhookURL != "" {
		delivery = jobs.NewWebhookSink(cfg.Jobs.WebhookURL, cfg.Jobs.WebhookSecret, cfg.Jobs.WebhookTimeout)
	}
	ledgerSink := delivery
	if cfg.Jobs.River && delivery == nil {
		log.Warn("jobs.river is set without jobs.webhook_url; events are only audited")
	}
	if cfg.Jobs.River && delivery != nil {
		if _, err := jobs.MigrateRiver(ctx, in.pool); err != nil {
			return err
		}
		rc, err := jobs.NewRiverClient(in.pool, delivery, cfg.Jobs.RiverWorkers)
		if err != nil {
			return err
		}
		if err := rc.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := rc.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("river stop failed")
			}
		}()
		ledgerSink = jobs.RiverSink{Client: rc}
		log.Info("ledger events delivered through river")
	}

	opts := []core.Option{core.WithLogger(log), core.WithEventSink(ledgerSink)}
	if in.rdb != nil {
		opts = append(opts, core.WithRedis(in.rdb, cfg.Storage.RedisPrefix))
	}
	svc, err := core.New(ctx, core.FromConfig(cfg, keys), in.backend, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Jobs.SweepSchedule != "" {
		sink := entitlements.MultiSink{core.AuditSink{Log: log}}
		if ledgerSink != nil {
			sink = append(sink, ledgerSink)
		}
		sw := jobs.NewSweeper(in.backend, svc.Ledger().Clock(), sink, log)
		if err := sw.Start(cfg.Jobs.SweepSchedule); err != nil {
			return err
		}
		defer func() { <-sw.Stop().Done() }()
	}

	rl := rateLimiter(ctx, cfg, in, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), ginutil.RequestLogger(log))
	authgin.GinRegisterAPI(r, svc, rl)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rateLimiter returns nil when limiting is disabled. Redis is preferred so replicas share
// budgets.
func rateLimiter(ctx context.Context, cfg config.Config, in *infra, log logrus.FieldLogger) ginutil.RateLimiter {
	rc := cfg.RateLimit
	if !rc.Enabled {
		return nil
	}
	if in.rdb != nil {
		limits := make(map[string]redislimiter.Limit, len(rc.Buckets))
		for name, b := range rc.Buckets {
			limits[name] = redislimiter.Limit{Limit: b.Limit, Window: b.Window}
		}
		return redislimiter.New(in.rdb, cfg.Storage.RedisPrefix+"rl:", limits)
	}
	limits := make(map[string]memorylimiter.Limit, len(rc.Buckets))
	for name, b := range rc.Buckets {
		limits[name] = memorylimiter.Limit{Limit: b.Limit, Window: b.Window}
	}
	ml := memorylimiter.New(limits)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				ml.Prune()
			}
		}
	}()
	log.Debug("using in-memory rate limiter")
	return ml
}
