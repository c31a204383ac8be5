package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"haven/internal/files"
	"haven/internal/flow"
	"haven/internal/funnel"
	"haven/internal/org"
	"haven/internal/platform/config"
	"haven/internal/platform/httpserver"
	"haven/internal/platform/logger"
	"haven/internal/platform/metrics"
	"haven/internal/platform/middleware"
	platformredis "haven/internal/platform/redis"
	"haven/internal/report"
	"haven/internal/spec"
	"haven/internal/transport/sms"
	"haven/internal/transport/web"
	"haven/pkg/platform/httputil"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	// Storage. Postgres when configured, in-memory otherwise.
	var (
		reportStore report.Store
		funnelStore funnel.Store
		dbPing      func(context.Context) error
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		rs := report.NewPostgres(pool)
		if err := rs.EnsureSchema(ctx); err != nil {
			return err
		}
		fs := funnel.NewPostgres(pool)
		if err := fs.EnsureSchema(ctx); err != nil {
			return err
		}
		reportStore, funnelStore = rs, fs
		dbPing = pool.Ping
		log.Info("using postgres stores")
	} else {
		reportStore, funnelStore = report.NewInMemoryStore(), funnel.NewInMemoryStore()
		log.Warn("no database configured, reports are held in memory")
	}

	// Sessions. Redis when configured, in-memory otherwise.
	var sessions flow.SessionStore
	redisClient, err := platformredis.New(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessions = flow.NewRedisSessionStore(redisClient.Client, cfg.Session.TTL)
		log.Info("using redis session store")
	} else {
		sessions = flow.NewInMemorySessionStore(cfg.Session.TTL)
	}

	// Optional funnel event stream.
	var events chan funnel.Event
	g, ctx := errgroup.WithContext(ctx)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := funnel.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer publisher.Close()

		events = make(chan funnel.Event, 256)
		worker := funnel.NewWorker(publisher, events, log)
		g.Go(func() error { return worker.Run(ctx) })
		log.Info("funnel events streaming to kafka", "topic", cfg.Kafka.Topic)
	}

	specs := spec.NewCache(spec.NewLoader(cfg.SpecDir))
	orgs := org.NewRegistry()
	orgNames, err := discoverOrgs(cfg.SpecDir)
	if err != nil {
		return err
	}
	for _, name := range orgNames {
		handle, err := org.NewHandle(name, reportStore, funnelStore, events)
		if err != nil {
			return err
		}
		orgs.Register(handle)
		log.Info("registered org", "org", name)
	}

	uploads, err := files.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	machine, err := flow.NewMachine(flow.Config{
		Specs:       specs,
		Orgs:        orgs,
		Sessions:    sessions,
		Metrics:     m,
		Logger:      log,
		AliasMaxLen: cfg.AliasMaxLen,
	})
	if err != nil {
		return err
	}

	webHandler, err := web.NewHandler(machine, sessions, specs, uploads, log)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestLog(log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if dbPing != nil {
			if err := dbPing(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": "postgres"})
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "reason": "redis"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(cfg.AdminToken, log))
		r.Post("/admin/specs/{org}/{project}/rebuild", func(w http.ResponseWriter, r *http.Request) {
			orgName, project := chi.URLParam(r, "org"), chi.URLParam(r, "project")
			if _, err := specs.Rebuild(orgName, project); err != nil {
				log.Error("spec rebuild failed", "org", orgName, "project", project, "error", err)
				httputil.WriteError(w, httputil.Classify(err))
				return
			}
			m.SpecRebuilds.Inc()
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
		})
	})

	if cfg.SMS.Org != "" && cfg.SMS.Project != "" {
		smsHandler, err := sms.NewHandler(sms.HandlerConfig{
			Machine:   machine,
			Sessions:  sessions,
			Devices:   sms.NewInMemoryDeviceStore(),
			Transport: &sms.LogTransport{Logger: log},
			Metrics:   m,
			Logger:    log,
			Org:       cfg.SMS.Org,
			Project:   cfg.SMS.Project,
			HelpText:  cfg.SMS.HelpText,
		})
		if err != nil {
			return err
		}
		smsHandler.Routes(router)
		log.Info("sms channel enabled", "org", cfg.SMS.Org, "project", cfg.SMS.Project)
	}

	webHandler.Routes(router)

	srv := httpserver.New(cfg.Server.Addr, router)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// discoverOrgs lists the org directories under the spec root. Each
// subdirectory is one organization with one yaml file per project.
func discoverOrgs(specDir string) ([]string, error) {
	entries, err := os.ReadDir(specDir)
	if err != nil {
		return nil, fmt.Errorf("read spec dir %s: %w", specDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
