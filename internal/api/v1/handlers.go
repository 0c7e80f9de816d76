package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/QuotaFox/app/controllers"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/identity"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/middleware"
)

// APIServer implements the public v1 API surface
type APIServer struct {
	identityClient *identity.Client
}

// NewAPIServer creates a new API server instance
func NewAPIServer(identityClient *identity.Client) *APIServer {
	return &APIServer{identityClient: identityClient}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// PostInitializePayment starts a hosted checkout (bearer protected).
func (s *APIServer) PostInitializePayment(c *fiber.Ctx) error {
	return controllers.HandleInitializePayment(c)
}

// PostVerifyPayment reconciles a payment reference (bearer protected).
func (s *APIServer) PostVerifyPayment(c *fiber.Ctx) error {
	return controllers.HandleVerifyPayment(c)
}

// PostPaymentWebhook ingests provider webhook deliveries. Authentication is
// the webhook signature itself, not a bearer token.
func (s *APIServer) PostPaymentWebhook(c *fiber.Ctx) error {
	return controllers.HandlePaymentWebhook(c)
}

// PostTrackUsage records one billable action (service token protected).
func (s *APIServer) PostTrackUsage(c *fiber.Ctx) error {
	return controllers.HandleTrackUsage(c)
}

// GetUsage returns the current plan/quota/count (bearer protected).
func (s *APIServer) GetUsage(c *fiber.Ctx) error {
	return controllers.HandleGetUsage(c)
}

// Pong is the ping response payload.
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers attaches all v1 routes with their middlewares.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	payments := router.Group("/payments")
	payments.Post("/webhook", s.PostPaymentWebhook)
	payments.Post("/initialize", middleware.BearerAuthMiddleware(s.identityClient), s.PostInitializePayment)
	payments.Post("/verify", middleware.BearerAuthMiddleware(s.identityClient), s.PostVerifyPayment)

	usage := router.Group("/usage")
	usage.Post("/track", middleware.ServiceAuthMiddleware(), s.PostTrackUsage)
	usage.Get("/", middleware.BearerAuthMiddleware(s.identityClient), s.GetUsage)
}
