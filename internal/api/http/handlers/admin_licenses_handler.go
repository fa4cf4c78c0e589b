package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/license-service/internal/api/dto"
	"github.com/spec-kit/license-service/internal/auth"
	"github.com/spec-kit/license-service/internal/service"
	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// AdminLicensesHandler exposes admin-only license lifecycle operations.
type AdminLicensesHandler struct {
	licenses *service.LicenseService
	admin    *service.AdminService
}

// NewAdminLicensesHandler constructs handler.
func NewAdminLicensesHandler(licenseService *service.LicenseService, adminService *service.AdminService) *AdminLicensesHandler {
	return &AdminLicensesHandler{licenses: licenseService, admin: adminService}
}

// Create handles POST /admin/licenses.
func (h *AdminLicensesHandler) Create(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)

	var req dto.CreateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Type == "" || req.UserID == "" {
		return apperrors.NewValidationError("type and userId required", nil)
	}

	license, err := h.licenses.Create(c.UserContext(), principal.User.ID, service.LicenseCreateInput{
		Type:     req.Type,
		HolderID: req.UserID,
		Notes:    req.Notes,
		Key:      req.Key,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    dto.NewLicenseResponse(license, nil),
	})
}

// BulkCreate handles POST /admin/licenses/bulk.
func (h *AdminLicensesHandler) BulkCreate(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)

	var req dto.BulkCreateLicensesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Type == "" || req.UserID == "" {
		return apperrors.NewValidationError("type and userId required", nil)
	}

	keys, err := h.licenses.BulkCreate(c.UserContext(), principal.User.ID, req.Count, service.LicenseCreateInput{
		Type:     req.Type,
		HolderID: req.UserID,
		Notes:    req.Notes,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"keys": keys, "count": len(keys)},
	})
}

// List handles GET /admin/licenses.
func (h *AdminLicensesHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	items, err := h.admin.ListLicenses(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}

	result := make([]dto.LicenseResponse, 0, len(items))
	for _, item := range items {
		result = append(result, dto.NewLicenseWithHolderResponse(item))
	}
	return c.JSON(fiber.Map{"data": result})
}

// Get handles GET /admin/licenses/:key.
func (h *AdminLicensesHandler) Get(c *fiber.Ctx) error {
	license, err := h.licenses.GetByKey(c.UserContext(), c.Params("key"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewLicenseResponse(license, nil)})
}

// Update handles PUT /admin/licenses/:key.
func (h *AdminLicensesHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	license, err := h.admin.UpdateLicense(c.UserContext(), c.Params("key"), req.UserID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": dto.NewLicenseResponse(license, nil)})
}

// Delete handles DELETE /admin/licenses/:key.
func (h *AdminLicensesHandler) Delete(c *fiber.Ctx) error {
	if err := h.admin.DeleteLicense(c.UserContext(), c.Params("key")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "license deleted"})
}

// Revoke handles POST /revoke.
func (h *AdminLicensesHandler) Revoke(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)

	var req dto.KeyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Key == "" {
		return apperrors.NewValidationError("key required", nil)
	}

	if _, err := h.licenses.Revoke(c.UserContext(), principal.User, req.Key); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "license revoked"})
}

// ResetHardwareID handles POST /reset-hwid.
func (h *AdminLicensesHandler) ResetHardwareID(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)

	var req dto.KeyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Key == "" {
		return apperrors.NewValidationError("key required", nil)
	}

	license, err := h.licenses.ResetHardwareID(c.UserContext(), principal.User, req.Key)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "hardware id reset",
		"data":    dto.NewLicenseResponse(license, nil),
	})
}

// Export handles GET /admin/licenses/export, streaming CSV.
func (h *AdminLicensesHandler) Export(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="licenses.csv"`)
	return h.admin.ExportLicensesCSV(c.UserContext(), c.Response().BodyWriter())
}
