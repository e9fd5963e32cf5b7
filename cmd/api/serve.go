package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/handler"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/middleware"
	"github.com/gamassss/edgelink/internal/pipeline"
	"github.com/gamassss/edgelink/internal/ratelimit"
	"github.com/gamassss/edgelink/internal/repository/postgres"
	redisrepo "github.com/gamassss/edgelink/internal/repository/redis"
	"github.com/gamassss/edgelink/internal/service"
	"github.com/gamassss/edgelink/internal/tasks"
	"github.com/gamassss/edgelink/internal/webhook"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var runDispatcher bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the redirect and management HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&runDispatcher, "dispatcher", true, "run the webhook dispatcher in this process")
	rootCmd.AddCommand(serveCmd)
}

type handlers struct {
	redirect  *handler.RedirectHandler
	links     *handler.LinkHandler
	analytics *handler.AnalyticsHandler
	webhooks  *handler.WebhookHandler
	health    *handler.HealthHandler
}

func serve(parent context.Context) error {
	log := logger.Get()
	log.Info("Starting edgelink service",
		"port", cfg.Server.Port,
		"log_level", cfg.Log.Level,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := setupDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup database: %w", err)
	}
	defer dbPool.Close()

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup redis: %w", err)
	}
	defer redisClient.Close()

	linkRepo := postgres.NewLinkRepository(dbPool)
	analyticsRepo := postgres.NewAnalyticsRepository(dbPool)
	webhookRepo := postgres.NewWebhookRepository(dbPool)

	linkCache := redisrepo.NewLinkCache(redisClient)
	stream := redisrepo.NewAnalyticsStream(redisClient, cfg.Analytics.Stream, cfg.Analytics.StreamMaxLen)
	deliveries := redisrepo.NewDeliveryQueue(redisClient)
	limiter := ratelimit.NewLimiter(redisrepo.NewRateLimitStore(redisClient), cfg.RateLimit)

	dispatcher := webhook.NewDispatcher(deliveries, webhookRepo, cfg.Webhook)
	fanOut := pipeline.NewFanOut(stream, analyticsRepo, webhookRepo, dispatcher)

	pool := tasks.NewPool(cfg.Tasks)
	pool.Start()

	resolver := service.NewLinkResolver(linkRepo, linkCache, cfg.Cache.LinkTTL)
	redirectService := service.NewRedirectService(resolver, linkRepo, fanOut, pool)
	linkService, err := service.NewLinkService(linkRepo, resolver, fanOut, pool, stream, cfg.Server.BaseURL, stream, analyticsRepo)
	if err != nil {
		return err
	}
	webhookService := service.NewWebhookService(webhookRepo, cfg.Webhook.MaxPerOwner, cfg.Webhook.AllowInsecure)

	h := handlers{
		redirect:  handler.NewRedirectHandler(redirectService, cfg.Edge, cfg.Server.BaseURL, cfg.Server.RedirectStatus),
		links:     handler.NewLinkHandler(linkService),
		analytics: handler.NewAnalyticsHandler(linkService),
		webhooks:  handler.NewWebhookHandler(webhookService),
		health:    handler.NewHealthHandler(probes(dbPool, redisClient)),
	}

	router := setupRouter(cfg, limiter, h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if !runDispatcher {
			return
		}
		if err := dispatcher.Run(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Webhook dispatcher stopped", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("Server failed", "error", err)
		}
	}

	gracefulShutdown(srv, pool, cancelDispatch, dispatchDone, cfg.Server.ShutdownTimeout, cfg.Tasks.DrainAfter)
	return nil
}

func probes(dbPool *pgxpool.Pool, redisClient *redis.Client) map[string]handler.Probe {
	return map[string]handler.Probe{
		"database": dbPool.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-User-ID", "X-Plan-Tier", "X-Link-Password"},
		ExposeHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func setupRouter(cfg *config.Config, limiter *ratelimit.Limiter, h handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())

	router.GET("/healthz", h.health.Healthz)
	router.GET("/readyz", h.health.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	edge := []gin.HandlerFunc{middleware.Identity(cfg.Edge, cfg.Analytics.IPHashSalt)}
	if cfg.RateLimit.Enabled {
		edge = append(edge, middleware.RateLimit(limiter))
	}

	// Registered on the engine so preflight requests, which match no
	// route, still get CORS headers.
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	api := router.Group("/api", edge...)
	{
		api.POST("/shorten", h.links.Create)
		api.POST("/import/links", h.links.BulkImport)

		api.GET("/links", h.links.List)
		api.GET("/links/:slug", h.links.Get)
		api.PUT("/links/:slug", h.links.Update)
		api.PATCH("/links/:slug", h.links.Update)
		api.DELETE("/links/:slug", h.links.Delete)
		api.POST("/links/:slug/rename", h.links.Rename)

		api.GET("/links/:slug/routing", h.links.GetRouting)
		api.POST("/links/:slug/routing/:type", h.links.SetRouting)
		api.PUT("/links/:slug/routing/:type", h.links.SetRouting)
		api.DELETE("/links/:slug/routing/:type", h.links.ClearRouting)

		api.POST("/links/:slug/ab-test", h.links.SetABTest)
		api.GET("/links/:slug/ab-test", h.analytics.GetABTestResults)
		api.DELETE("/links/:slug/ab-test", h.links.DeleteABTest)

		api.GET("/stats/:slug", h.analytics.GetStats)

		api.POST("/webhooks", h.webhooks.Create)
		api.GET("/webhooks", h.webhooks.List)
		api.DELETE("/webhooks/:id", h.webhooks.Delete)
	}

	router.GET("/:slug", append(edge, h.redirect.Redirect)...)

	return router
}

// gracefulShutdown stops accepting requests, drains deferred tasks so
// in-flight clicks are counted, then stops the dispatcher.
func gracefulShutdown(srv *http.Server, pool *tasks.Pool, cancelDispatch context.CancelFunc, dispatchDone <-chan struct{}, timeout, drainAfter time.Duration) {
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", "error", err)
	}
	log.Info("HTTP server stopped")

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainAfter)
	defer cancelDrain()
	if err := pool.Shutdown(drainCtx); err != nil {
		log.Error("Deferred tasks did not drain", "error", err)
	}
	log.Info("Task runner drained")

	cancelDispatch()
	<-dispatchDone
	log.Info("Webhook dispatcher stopped")

	log.Info("Graceful shutdown completed")
}
