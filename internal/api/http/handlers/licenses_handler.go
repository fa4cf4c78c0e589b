package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/license-service/internal/api/dto"
	"github.com/spec-kit/license-service/internal/auth"
	"github.com/spec-kit/license-service/internal/service"
	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// LicensesHandler exposes activation and validation for license holders.
type LicensesHandler struct {
	licenses *service.LicenseService
}

// NewLicensesHandler constructs handler.
func NewLicensesHandler(licenseService *service.LicenseService) *LicensesHandler {
	return &LicensesHandler{licenses: licenseService}
}

// Activate handles POST /activate.
func (h *LicensesHandler) Activate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.ActivateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Key == "" || req.HardwareID == "" {
		return apperrors.NewValidationError("key and hardwareId required", nil)
	}

	license, err := h.licenses.Activate(c.UserContext(), principal.User, req.Key, req.HardwareID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "license activated",
		"data":    dto.NewLicenseResponse(license, principal.User),
	})
}

// Validate handles POST /validate.
func (h *LicensesHandler) Validate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.ActivateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Key == "" || req.HardwareID == "" {
		return apperrors.NewValidationError("key and hardwareId required", nil)
	}

	license, err := h.licenses.Validate(c.UserContext(), principal.User, req.Key, req.HardwareID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "license is valid",
		"data":    dto.NewLicenseResponse(license, principal.User),
	})
}

// ListOwn handles GET /licenses, returning the caller's licenses.
func (h *LicensesHandler) ListOwn(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	licenses, err := h.licenses.ListForUser(c.UserContext(), principal.User.ID, limit, offset)
	if err != nil {
		return err
	}

	items := make([]dto.LicenseResponse, 0, len(licenses))
	for i := range licenses {
		items = append(items, dto.NewLicenseResponse(&licenses[i], nil))
	}
	return c.JSON(fiber.Map{"data": items})
}
