package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lintang/railroute/pkg/config"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/server/rest"
	"lintang/railroute/pkg/server/rest/service"
	"lintang/railroute/pkg/terrain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("reading .env: %v", err)
	}
	cfg := config.Register(flag.CommandLine)
	listenAddr := flag.String("listenaddr", ":5000", "server listen address")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := httplog.NewLogger("railroute", httplog.Options{
		LogLevel:         cfg.SlogLevel(),
		JSON:             true,
		Concise:          true,
		MessageFieldName: "message",
		LevelFieldName:   "severity",
		TimeFieldFormat:  time.RFC3339,
		Tags: map[string]string{
			"version": "v1.0",
		},
		QuietDownRoutes: []string{
			"/metrics",
		},
		QuietDownPeriod: 10 * time.Second,
	})

	sampler, closer, err := terrain.Open(cfg.Terrain, logger.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	m := rest.NewMetrics(reg)

	builder, err := route.NewBuilder(cfg.RelationSource(), sampler, cfg.Route,
		route.WithLogger(logger.Logger), route.WithMetrics(route.NewMetrics(reg)))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	buildSvc := service.NewBuildService(ctx, builder, logger.Logger)

	r := chi.NewRouter()

	r.Use(httplog.RequestLogger(logger, []string{"/metrics"}))
	r.Use(middleware.Recoverer)
	r.Use(rest.PromeHttpMiddleware(m)) // prometheus http middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Mount("/debug", middleware.Profiler())

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	rest.RouteRouter(r, buildSvc, m)

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		buildSvc.Wait()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("server started", slog.String("addr", *listenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
