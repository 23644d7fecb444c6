package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"readfeed/docs"
	"readfeed/internal/config"
	"readfeed/internal/database"
	"readfeed/internal/database/migration"
	"readfeed/internal/delivery"
	"readfeed/internal/extract"
	handlers "readfeed/internal/http/handler"
	"readfeed/internal/http/middleware"
	"readfeed/internal/model"
	"readfeed/internal/otel"
	"readfeed/internal/repository/postgres"
	"readfeed/internal/scheduler"
	"readfeed/internal/service"
	"readfeed/internal/storage"
)

// @title ReadFeed API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	loc := time.UTC

	ctx := context.Background()

	// Tracing first so the DB driver wrapper picks up the provider
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Initialize repositories and services
	userRepo := postgres.NewUserPostgres(db)
	docRepo := postgres.NewDocumentPostgres(db)
	extractor := extract.New()
	readingSvc := service.NewReadingService(
		userRepo, docRepo, objStore, extractor,
		cfg.Fragment.MinLen, cfg.Fragment.MaxLen,
	)

	// Daily broadcast: advance every active reader and push the fragment
	deliverer := delivery.NewLogDeliverer(os.Stdout)
	daily, err := scheduler.NewDaily(cfg.Schedule.SendHourUTC, cfg.Schedule.SendMinuteUTC, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report := readingSvc.ForEachActiveReader(jobCtx, func(u model.User, v *model.FragmentView) error {
			return deliverer.Deliver(jobCtx, u, v)
		})
		logBroadcast(loc, report)
	})
	if err != nil {
		log.Fatalf("failed to build schedule: %v", err)
	}
	daily.Start()
	defer daily.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Prometheus metrics: dedicated registry, scraped on /metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())
	app.Use(promMW.Handler())

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, readingSvc)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func logBroadcast(loc *time.Location, report *model.BroadcastReport) {
	entry := map[string]any{
		"ts":        time.Now().In(loc).Format(time.RFC3339Nano),
		"level":     "info",
		"component": "scheduler",
		"event":     "daily_broadcast_done",
		"delivered": report.Delivered,
		"skipped":   report.Skipped,
		"failures":  len(report.Failures),
	}
	if len(report.Failures) > 0 {
		entry["level"] = "warn"
		entry["failure_details"] = report.Failures
	}

	if b, err := json.Marshal(entry); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
