package controllers

import (
	"errors"

	"github.com/ManuelReschke/QuotaFox/app/repository"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/usage"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/usercontext"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

var validate = validator.New()

// usageLedger resolves the ledger lazily from the repository factory;
// tests override via SetUsageLedger.
var usageLedger func() *usage.Ledger = func() *usage.Ledger {
	factory := repository.GetGlobalFactory()
	return usage.NewLedger(factory.GetSubscriptionRepository(), factory.GetUsageRepository())
}

// SetUsageLedger overrides the ledger constructor (tests and startup wiring).
func SetUsageLedger(fn func() *usage.Ledger) {
	usageLedger = fn
}

type trackUsageRequest struct {
	UserID uint   `json:"user_id" validate:"required"`
	Action string `json:"action" validate:"required"`
}

// HandleTrackUsage gate-checks and records one billable action. A denial is
// not an error: it carries the current count and quota so the caller can
// render an upgrade prompt.
func HandleTrackUsage(c *fiber.Ctx) error {
	var req trackUsageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "user_id and action are required"})
	}

	result, err := usageLedger().CheckAndIncrement(req.UserID, req.Action)
	if err != nil {
		if errors.Is(err, usage.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profile_not_found"})
		}
		log.Errorf("[Usage] track failed for user %d: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if !result.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "limit_exceeded",
			"message": "usage limit reached, upgrade your plan to continue",
			"count":   result.Count,
			"quota":   result.Quota,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// HandleGetUsage returns the authenticated user's plan, quota and counter.
func HandleGetUsage(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	sub, count, err := usageLedger().Current(userCtx.UserID)
	if err != nil {
		if errors.Is(err, usage.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profile_not_found"})
		}
		log.Errorf("[Usage] lookup failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"plan":   sub.Plan,
		"quota":  sub.Quota,
		"count":  count,
		"status": sub.Status,
	})
}
