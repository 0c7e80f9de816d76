package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/QuotaFox/app/controllers"
	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/app/repository"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/billing"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/cache"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/router"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/usage"
)

func main() {
	app := NewApplication()

	manager := jobqueue.GetManager()
	manager.Start()

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.SetGlobalFactory(repository.NewFactory(database.GetDB()))
	wireServices()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1048576, // 1 MiB, webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: findBasePath() + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}

// wireServices connects the controllers to services backed by the shared DB
// handle, with failed log appends and webhook archiving deferred to the job
// queue.
func wireServices() {
	queue := jobqueue.GetManager().GetQueue()

	retryLog := func(entry *models.UsageLogEntry) {
		if _, err := queue.EnqueueUsageLogAppend(entry); err != nil {
			log.Printf("failed to enqueue usage log retry: %v", err)
		}
	}

	controllers.SetBillingService(func() *billing.Service {
		return billing.NewServiceFromDB(database.GetDB()).WithLogRetry(retryLog)
	})

	controllers.SetUsageLedger(func() *usage.Ledger {
		factory := repository.GetGlobalFactory()
		return usage.NewLedger(factory.GetSubscriptionRepository(), factory.GetUsageRepository()).WithLogRetry(retryLog)
	})

	controllers.SetWebhookArchiver(func(eventID uint) {
		event := models.PaymentWebhookEvent{ID: eventID}
		if _, err := queue.EnqueueWebhookArchive(&event); err != nil {
			log.Printf("failed to enqueue webhook archive: %v", err)
		}
	})
}

// findBasePath locates the project root relative to the working directory.
func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/quotafox to project root
		"../../../", // Fallback
	}

	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			return path
		}
	}

	panic("Could not find project root directory")
}
