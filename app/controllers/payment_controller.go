package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/billing"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const webhookSignatureHeader = "X-Paystack-Signature"

// billingService lets tests swap the controller's service for one wired to
// fakes; production resolves it lazily from the shared DB handle.
var billingService func() *billing.Service = func() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB())
}

// SetBillingService overrides the service constructor (tests and startup wiring).
func SetBillingService(fn func() *billing.Service) {
	billingService = fn
}

// archiveWebhookEvent is wired at startup to the job queue; nil means
// archiving is off (tests, or archiving disabled).
var archiveWebhookEvent func(eventID uint)

// SetWebhookArchiver installs the hook that schedules processed webhook
// payloads for S3 archiving.
func SetWebhookArchiver(fn func(eventID uint)) {
	archiveWebhookEvent = fn
}

type initializePaymentRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// HandleInitializePayment starts a hosted checkout for the authenticated user.
func HandleInitializePayment(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req initializePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "plan_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	out, err := billingService().InitializeTransaction(ctx, userCtx.UserID, userCtx.Email, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "unknown plan"})
		case errors.Is(err, billing.ErrProviderFailure):
			log.Errorf("[Payment] initialize failed upstream: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "payment provider unavailable, please retry"})
		default:
			log.Errorf("[Payment] initialize failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"authorization_url": out.AuthorizationURL,
		"access_code":       out.AccessCode,
		"reference":         out.Reference,
	})
}

type verifyPaymentRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// HandleVerifyPayment reconciles a payment reference with the provider on
// behalf of the authenticated user. Safe to call any number of times.
func HandleVerifyPayment(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "reference is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	out, err := billingService().VerifyTransaction(ctx, req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrTransactionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "unknown transaction reference"})
		case errors.Is(err, billing.ErrProviderFailure):
			log.Errorf("[Payment] verify failed upstream: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_error", "message": "payment provider unavailable, please retry"})
		default:
			log.Errorf("[Payment] verify failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	if out.Transaction.UserID != userCtx.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "unknown transaction reference"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"plan": out.Plan,
		"transaction": fiber.Map{
			"id":        out.Transaction.ID,
			"reference": out.Transaction.Reference,
			"amount":    out.Transaction.Amount,
			"status":    out.Transaction.Status,
		},
	})
}

// HandlePaymentWebhook ingests provider webhook deliveries. The raw body is
// verified against the signature header before anything is parsed or written;
// every handled outcome (including duplicates and ignored kinds) answers 200
// so the provider stops redelivering.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(webhookSignatureHeader))

	svc := billingService()
	if signature == "" || !billing.IsWellFormedSignature(signature) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_or_malformed_signature"})
	}
	if !billing.VerifyWebhookSignature(rawBody, signature, svc.WebhookSecret()) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := svc.ProcessWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: firstHeaderValue(c, "X-Webhook-Id", "X-Paystack-Event-Id"),
		EventType:       "",
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Payment] webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	if !outcome.Duplicate && outcome.EventID != 0 && archiveWebhookEvent != nil {
		archiveWebhookEvent(outcome.EventID)
	}

	resp := fiber.Map{"received": true}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
