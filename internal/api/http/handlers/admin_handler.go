package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/license-service/internal/api/dto"
	"github.com/spec-kit/license-service/internal/service"
	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// AdminHandler exposes stats, user administration, session administration,
// and the cleanup batches.
type AdminHandler struct {
	admin *service.AdminService
	auth  *service.AuthService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(adminService *service.AdminService, authService *service.AuthService) *AdminHandler {
	return &AdminHandler{admin: adminService, auth: authService}
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.admin.DashboardStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

// SettingsStats handles GET /admin/settings/stats.
func (h *AdminHandler) SettingsStats(c *fiber.Ctx) error {
	stats, err := h.admin.SettingsStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

// CreateUser handles POST /admin/users.
func (h *AdminHandler) CreateUser(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}
	if req.Role == "" {
		req.Role = "USER"
	}

	user, err := h.admin.CreateUser(c.UserContext(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    dto.NewUserResponse(user),
	})
}

// ListUsers handles GET /admin/users.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	users, err := h.admin.ListUsers(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}

	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// UpdateUser handles PUT /admin/users/:id.
func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	user, err := h.admin.UpdateUser(c.UserContext(), c.Params("id"), req.Name, req.Email, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": dto.NewUserResponse(user)})
}

// DeleteUser handles DELETE /admin/users/:id.
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	if err := h.admin.DeleteUser(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "user deleted"})
}

// ListSessions handles GET /admin/sessions.
func (h *AdminHandler) ListSessions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	sessions, err := h.admin.ListSessions(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}

	items := make([]dto.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, dto.NewSessionResponse(session))
	}
	return c.JSON(fiber.Map{"data": items})
}

// RevokeSession handles DELETE /admin/sessions/:id.
func (h *AdminHandler) RevokeSession(c *fiber.Ctx) error {
	if err := h.auth.RevokeSession(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "session revoked"})
}

// CleanupExpiredLicenses handles POST /cleanup/expired-licenses.
func (h *AdminHandler) CleanupExpiredLicenses(c *fiber.Ctx) error {
	count, err := h.admin.CleanupExpiredLicenses(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(dto.CleanupResponse{DeletedCount: count})
}

// CleanupExpiredSessions handles POST /cleanup/expired-sessions.
func (h *AdminHandler) CleanupExpiredSessions(c *fiber.Ctx) error {
	count, err := h.admin.CleanupExpiredSessions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(dto.CleanupResponse{DeletedCount: count})
}
