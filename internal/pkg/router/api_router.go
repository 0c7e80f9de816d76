package router

import (
	"strconv"

	apiv1 "github.com/ManuelReschke/QuotaFox/internal/api/v1"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/identity"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Storage: limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(identity.NewClientFromEnv())
	apiv1.RegisterHandlers(v1, apiServer)
}

// limiterStorage backs the rate limiter with Redis so limits hold across
// replicas.
func limiterStorage() *redis.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host: host,
		Port: port,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
