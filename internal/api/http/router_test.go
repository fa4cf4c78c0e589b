package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/license-service/internal/api/http/handlers"
	"github.com/spec-kit/license-service/internal/auth"
	"github.com/spec-kit/license-service/internal/config"
	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/observability"
	"github.com/spec-kit/license-service/internal/ratelimit"
	"github.com/spec-kit/license-service/internal/repository"
	"github.com/spec-kit/license-service/internal/repository/repositorytest"
	"github.com/spec-kit/license-service/internal/service"
)

type appFixture struct {
	app      *fiber.App
	users    *repositorytest.FakeUserRepository
	licenses *repositorytest.FakeLicenseRepository
	sessions *repositorytest.FakeSessionRepository
	authSvc  *service.AuthService
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	users := repositorytest.NewFakeUserRepository()
	licenses := repositorytest.NewFakeLicenseRepository(users)
	sessions := repositorytest.NewFakeSessionRepository()

	cfg := config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.SessionTTLHours = 1
	cfg.Auth.BcryptCost = bcrypt.MinCost

	authService := service.NewAuthService(cfg, service.AuthDependencies{UserRepo: users, SessionRepo: sessions})
	licenseService := service.NewLicenseService(service.LicenseDependencies{
		LicenseRepo: licenses,
		UserRepo:    users,
	})
	adminService := service.NewAdminService(service.AdminDependencies{
		UserRepo:    users,
		LicenseRepo: licenses,
		SessionRepo: sessions,
		BcryptCost:  bcrypt.MinCost,
	})

	hash, err := auth.HashPassword("admin-pass", bcrypt.MinCost)
	require.NoError(t, err)
	users.Seed(domain.User{
		ID: "admin-1", Name: "Admin", Email: "admin@example.com",
		PasswordHash: hash, Role: domain.RoleAdmin, CreatedAt: time.Now(),
	})

	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:        handlers.NewHealthHandler("license-service", "test", nil, nil),
		Auth:          handlers.NewAuthHandler(authService, false),
		Licenses:      handlers.NewLicensesHandler(licenseService),
		AdminLicenses: handlers.NewAdminLicensesHandler(licenseService, adminService),
		Admin:         handlers.NewAdminHandler(adminService, authService),

		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), users, sessions),
		Limiter:        ratelimit.NewLimiter(nil, logger),
	})

	return &appFixture{app: app, users: users, licenses: licenses, sessions: sessions, authSvc: authService}
}

func (fx *appFixture) request(t *testing.T, method, path, token string, payload any) (int, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]any
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(raw, &parsed), "body: %s", raw)
	}
	return resp.StatusCode, parsed
}

func (fx *appFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	status, body := fx.request(t, "POST", "/auth/login", "", fiber.Map{"email": email, "password": password})
	require.Equal(t, nethttp.StatusOK, status, "login body: %v", body)
	return body["data"].(map[string]any)["auth"].(map[string]any)["token"].(string)
}

func errorCode(body map[string]any) string {
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	fx := newAppFixture(t)

	for _, route := range []struct{ method, path string }{
		{"POST", "/activate"},
		{"POST", "/validate"},
		{"GET", "/licenses"},
		{"POST", "/revoke"},
		{"GET", "/admin/stats"},
		{"POST", "/cleanup/expired-licenses"},
	} {
		status, body := fx.request(t, route.method, route.path, "", fiber.Map{})
		assert.Equal(t, nethttp.StatusUnauthorized, status, "%s %s", route.method, route.path)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body), "%s %s", route.method, route.path)
	}
}

func TestHealthLive(t *testing.T) {
	fx := newAppFixture(t)

	status, body := fx.request(t, "GET", "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])
}

func TestRegisterLoginMe(t *testing.T) {
	fx := newAppFixture(t)

	status, body := fx.request(t, "POST", "/auth/register", "", fiber.Map{
		"name": "Holder", "email": "Holder@Example.com", "password": "s3cret",
	})
	require.Equal(t, nethttp.StatusCreated, status, "body: %v", body)

	// emails are normalized to lower case on the way in
	token := fx.login(t, "holder@example.com", "s3cret")

	status, body = fx.request(t, "GET", "/auth/me", token, nil)
	require.Equal(t, nethttp.StatusOK, status)
	user := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "holder@example.com", user["email"])
	assert.Equal(t, "USER", user["role"])
}

func TestLoginSetsSessionCookie(t *testing.T) {
	fx := newAppFixture(t)

	raw, err := json.Marshal(fiber.Map{"email": "admin@example.com", "password": "admin-pass"})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := fx.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	var sessionCookie *nethttp.Cookie
	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.TokenCookieName {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie, "login must set the session cookie")
	assert.True(t, sessionCookie.HttpOnly)
	assert.NotEmpty(t, sessionCookie.Value)

	// the cookie alone authenticates browser clients
	req = httptest.NewRequest("GET", "/auth/me", nil)
	req.AddCookie(sessionCookie)
	resp, err = fx.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	fx := newAppFixture(t)
	token := fx.login(t, "admin@example.com", "admin-pass")

	status, _ := fx.request(t, "POST", "/auth/logout", token, nil)
	require.Equal(t, nethttp.StatusOK, status)

	// the JWT itself is still signed and unexpired, but the session is gone
	status, body := fx.request(t, "GET", "/auth/me", token, nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	fx := newAppFixture(t)

	_, _ = fx.request(t, "POST", "/auth/register", "", fiber.Map{
		"name": "Holder", "email": "holder@example.com", "password": "s3cret",
	})
	token := fx.login(t, "holder@example.com", "s3cret")

	for _, route := range []struct{ method, path string }{
		{"GET", "/admin/stats"},
		{"POST", "/revoke"},
		{"POST", "/reset-hwid"},
		{"POST", "/cleanup/expired-licenses"},
	} {
		status, body := fx.request(t, route.method, route.path, token, fiber.Map{})
		assert.Equal(t, nethttp.StatusForbidden, status, "%s %s", route.method, route.path)
		assert.Equal(t, "FORBIDDEN", errorCode(body), "%s %s", route.method, route.path)
	}
}

func TestActivateFlowOverHTTP(t *testing.T) {
	fx := newAppFixture(t)

	_, _ = fx.request(t, "POST", "/auth/register", "", fiber.Map{
		"name": "Holder", "email": "holder@example.com", "password": "s3cret",
	})
	holder, err := fx.users.GetByEmail(context.Background(), "holder@example.com")
	require.NoError(t, err)

	adminToken := fx.login(t, "admin@example.com", "admin-pass")
	status, body := fx.request(t, "POST", "/admin/licenses", adminToken, fiber.Map{
		"type": "ONE_MONTH", "userId": holder.ID,
	})
	require.Equal(t, nethttp.StatusCreated, status, "body: %v", body)
	key := body["data"].(map[string]any)["key"].(string)

	holderToken := fx.login(t, "holder@example.com", "s3cret")
	status, body = fx.request(t, "POST", "/activate", holderToken, fiber.Map{
		"key": key, "hardwareId": "HW-A",
	})
	require.Equal(t, nethttp.StatusOK, status, "body: %v", body)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ACTIVE", data["status"])
	assert.Equal(t, "HW-A", data["hardwareId"])

	// a second device is refused with the binding reported in details
	status, body = fx.request(t, "POST", "/activate", holderToken, fiber.Map{
		"key": key, "hardwareId": "HW-B",
	})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "HARDWARE_MISMATCH", errorCode(body))

	status, body = fx.request(t, "POST", "/validate", holderToken, fiber.Map{
		"key": key, "hardwareId": "HW-A",
	})
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, true, body["success"])

	// admin resets the binding, freeing the license for the second device
	status, _ = fx.request(t, "POST", "/reset-hwid", adminToken, fiber.Map{"key": key})
	require.Equal(t, nethttp.StatusOK, status)

	status, body = fx.request(t, "POST", "/activate", holderToken, fiber.Map{
		"key": key, "hardwareId": "HW-B",
	})
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "HW-B", body["data"].(map[string]any)["hardwareId"])
}

func TestRevokeOverHTTP(t *testing.T) {
	fx := newAppFixture(t)

	_, _ = fx.request(t, "POST", "/auth/register", "", fiber.Map{
		"name": "Holder", "email": "holder@example.com", "password": "s3cret",
	})
	holder, err := fx.users.GetByEmail(context.Background(), "holder@example.com")
	require.NoError(t, err)

	adminToken := fx.login(t, "admin@example.com", "admin-pass")
	status, body := fx.request(t, "POST", "/admin/licenses", adminToken, fiber.Map{
		"type": "ONE_YEAR", "userId": holder.ID,
	})
	require.Equal(t, nethttp.StatusCreated, status)
	key := body["data"].(map[string]any)["key"].(string)

	status, _ = fx.request(t, "POST", "/revoke", adminToken, fiber.Map{"key": key})
	require.Equal(t, nethttp.StatusOK, status)

	holderToken := fx.login(t, "holder@example.com", "s3cret")
	status, body = fx.request(t, "POST", "/activate", holderToken, fiber.Map{
		"key": key, "hardwareId": "HW-A",
	})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))
}

func TestCleanupEndpoints(t *testing.T) {
	fx := newAppFixture(t)
	adminToken := fx.login(t, "admin@example.com", "admin-pass")

	fx.licenses.Seed(domain.License{
		Key: "OLD1-OLD1-OLD1-OLD1", Status: domain.LicenseStatusActive,
		ExpirationDate: time.Now().Add(-time.Hour), UserID: "admin-1", CreatorID: "admin-1",
	})
	fx.sessions.Seed(domain.Session{UserID: "admin-1", Token: "stale", ExpiresAt: time.Now().Add(-time.Hour)})

	status, body := fx.request(t, "POST", "/cleanup/expired-licenses", adminToken, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.EqualValues(t, 1, body["deletedCount"])

	status, body = fx.request(t, "POST", "/cleanup/expired-sessions", adminToken, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.EqualValues(t, 1, body["deletedCount"])
}

type deadlineRecordingUsers struct {
	repository.UserRepository
	sawDeadline bool
}

func (r *deadlineRecordingUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	_, ok := ctx.Deadline()
	r.sawDeadline = ok
	return r.UserRepository.GetByEmail(ctx, email)
}

func TestRequestTimeoutReachesRepositories(t *testing.T) {
	users := repositorytest.NewFakeUserRepository()
	sessions := repositorytest.NewFakeSessionRepository()
	recorder := &deadlineRecordingUsers{UserRepository: users}

	cfg := config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.SessionTTLHours = 1
	cfg.Auth.BcryptCost = bcrypt.MinCost
	authService := service.NewAuthService(cfg, service.AuthDependencies{UserRepo: recorder, SessionRepo: sessions})

	hash, err := auth.HashPassword("admin-pass", bcrypt.MinCost)
	require.NoError(t, err)
	users.Seed(domain.User{
		ID: "admin-1", Name: "Admin", Email: "admin@example.com",
		PasswordHash: hash, Role: domain.RoleAdmin, CreatedAt: time.Now(),
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 5*time.Second)
	app.Post("/auth/login", handlers.NewAuthHandler(authService, false).Login)

	raw, err := json.Marshal(fiber.Map{"email": "admin@example.com", "password": "admin-pass"})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	assert.True(t, recorder.sawDeadline, "the configured request timeout must reach repository calls")
}

func TestValidationErrors(t *testing.T) {
	fx := newAppFixture(t)

	_, _ = fx.request(t, "POST", "/auth/register", "", fiber.Map{
		"name": "Holder", "email": "holder@example.com", "password": "s3cret",
	})
	token := fx.login(t, "holder@example.com", "s3cret")

	status, body := fx.request(t, "POST", "/activate", token, fiber.Map{"key": ""})
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = fx.request(t, "POST", "/activate", token, fiber.Map{
		"key": "NOPE-NOPE-NOPE-NOPE", "hardwareId": "HW-A",
	})
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
