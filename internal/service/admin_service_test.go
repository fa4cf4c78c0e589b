package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/repository"
	"github.com/spec-kit/license-service/internal/repository/repositorytest"
)

type adminFixture struct {
	service  *AdminService
	users    *repositorytest.FakeUserRepository
	licenses *repositorytest.FakeLicenseRepository
	sessions *repositorytest.FakeSessionRepository
	admin    domain.User
	holder   domain.User
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()

	users := repositorytest.NewFakeUserRepository()
	licenses := repositorytest.NewFakeLicenseRepository(users)
	sessions := repositorytest.NewFakeSessionRepository()

	admin := domain.User{ID: "admin-1", Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin, CreatedAt: time.Now()}
	holder := domain.User{ID: "user-1", Name: "Holder", Email: "holder@example.com", Role: domain.RoleUser, CreatedAt: time.Now()}
	users.Seed(admin)
	users.Seed(holder)

	return &adminFixture{
		service: NewAdminService(AdminDependencies{
			UserRepo:    users,
			LicenseRepo: licenses,
			SessionRepo: sessions,
			BcryptCost:  bcrypt.MinCost,
		}),
		users:    users,
		licenses: licenses,
		sessions: sessions,
		admin:    admin,
		holder:   holder,
	}
}

func TestAdminDashboardStats(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	hwid := "HW-A"
	fx.licenses.Seed(domain.License{
		Key: "ACT1-ACT1-ACT1-ACT1", Status: domain.LicenseStatusActive, HardwareID: &hwid,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	fx.licenses.Seed(domain.License{
		Key: "PEN1-PEN1-PEN1-PEN1", Status: domain.LicenseStatusPending,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})

	stats, err := fx.service.DashboardStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalUsers)
	assert.EqualValues(t, 2, stats.TotalLicenses)
	assert.EqualValues(t, 1, stats.ActiveLicenses)
	assert.EqualValues(t, 2, stats.RecentUsers)
}

func TestAdminSettingsStats(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.licenses.Seed(domain.License{
		Key: "ACT1-ACT1-ACT1-ACT1", Status: domain.LicenseStatusActive,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	// expired by elapsed date even though the stored status is stale
	fx.licenses.Seed(domain.License{
		Key: "OLD1-OLD1-OLD1-OLD1", Status: domain.LicenseStatusActive,
		ExpirationDate: time.Now().Add(-time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	fx.licenses.Seed(domain.License{
		Key: "EXP1-EXP1-EXP1-EXP1", Status: domain.LicenseStatusExpired,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})

	fx.sessions.Seed(domain.Session{UserID: fx.holder.ID, Token: "live", ExpiresAt: time.Now().Add(time.Hour)})
	fx.sessions.Seed(domain.Session{UserID: fx.holder.ID, Token: "stale", ExpiresAt: time.Now().Add(-time.Hour)})

	stats, err := fx.service.SettingsStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalLicenses)
	assert.EqualValues(t, 2, stats.ExpiredLicenses)
	assert.EqualValues(t, 2, stats.TotalSessions)
	assert.EqualValues(t, 1, stats.ActiveSessions)
}

func TestAdminExportLicensesCSV(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	hwid := "HW-A"
	activatedAt := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	fx.licenses.Seed(domain.License{
		Key: "ACT1-ACT1-ACT1-ACT1", Type: domain.LicenseTypeOneYear, Status: domain.LicenseStatusActive,
		HardwareID: &hwid, ActivatedAt: &activatedAt,
		ExpirationDate: time.Date(2027, 3, 10, 9, 15, 0, 0, time.UTC),
		UserID:         fx.holder.ID, CreatorID: fx.admin.ID,
	})
	fx.licenses.Seed(domain.License{
		Key: "PEN1-PEN1-PEN1-PEN1", Type: domain.LicenseTypeOneMonth, Status: domain.LicenseStatusPending,
		ExpirationDate: time.Date(2026, 4, 10, 9, 15, 0, 0, time.UTC),
		UserID:         fx.holder.ID, CreatorID: fx.admin.ID,
	})

	var buf strings.Builder
	require.NoError(t, fx.service.ExportLicensesCSV(ctx, &buf))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"Key", "Type", "Status", "Holder", "Email", "Hardware ID", "Activated At", "Expiration Date", "Created At"}, records[0])

	byKey := make(map[string][]string)
	for _, record := range records[1:] {
		byKey[record[0]] = record
	}

	active := byKey["ACT1-ACT1-ACT1-ACT1"]
	require.NotNil(t, active)
	assert.Equal(t, "ONE_YEAR", active[1])
	assert.Equal(t, "ACTIVE", active[2])
	assert.Equal(t, "Holder", active[3])
	assert.Equal(t, "holder@example.com", active[4])
	assert.Equal(t, "HW-A", active[5])
	assert.Equal(t, "2026-03-10 09:15", active[6])
	assert.Equal(t, "2027-03-10 09:15", active[7])

	pending := byKey["PEN1-PEN1-PEN1-PEN1"]
	require.NotNil(t, pending)
	assert.Empty(t, pending[5], "unactivated license has no hardware id")
	assert.Empty(t, pending[6], "unactivated license has no activation time")
}

func TestAdminExportLicensesCSVIncludesAllRows(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	// more rows than any single repository page returns
	const total = 120
	for i := 0; i < total; i++ {
		fx.licenses.Seed(domain.License{
			Key:            fmt.Sprintf("KEY0-%04d-AAAA-AAAA", i),
			Type:           domain.LicenseTypeOneMonth,
			Status:         domain.LicenseStatusPending,
			ExpirationDate: time.Now().Add(time.Hour),
			UserID:         fx.holder.ID,
			CreatorID:      fx.admin.ID,
		})
	}

	var buf strings.Builder
	require.NoError(t, fx.service.ExportLicensesCSV(ctx, &buf))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, total+1)
}

type activationDuringUpdateRepo struct {
	*repositorytest.FakeLicenseRepository
	racedKey  string
	racedHWID string
	done      bool
}

// GetByKeyForUpdate applies a competing activation before handing the row out,
// the situation a row lock resolves by serializing the writers.
func (r *activationDuringUpdateRepo) GetByKeyForUpdate(ctx context.Context, key string) (*domain.License, error) {
	if !r.done {
		r.done = true
		license, err := r.FakeLicenseRepository.GetByKey(ctx, r.racedKey)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		license.Status = domain.LicenseStatusActive
		license.HardwareID = &r.racedHWID
		license.ActivatedAt = &now
		if err := r.FakeLicenseRepository.Update(ctx, license); err != nil {
			return nil, err
		}
	}
	return r.FakeLicenseRepository.GetByKeyForUpdate(ctx, key)
}

func (r *activationDuringUpdateRepo) WithinTx(_ context.Context, fn func(repository.LicenseRepository) error) error {
	return fn(r)
}

func TestAdminUpdateLicensePreservesConcurrentActivation(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.licenses.Seed(domain.License{
		Key: "LIC1-LIC1-LIC1-LIC1", Status: domain.LicenseStatusPending,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	racing := &activationDuringUpdateRepo{
		FakeLicenseRepository: fx.licenses,
		racedKey:              "LIC1-LIC1-LIC1-LIC1",
		racedHWID:             "HW-A",
	}
	service := NewAdminService(AdminDependencies{
		UserRepo:    fx.users,
		LicenseRepo: racing,
		SessionRepo: fx.sessions,
	})

	notes := "post-sale note"
	updated, err := service.UpdateLicense(ctx, "LIC1-LIC1-LIC1-LIC1", nil, &notes)
	require.NoError(t, err)
	assert.Equal(t, "post-sale note", *updated.Notes)

	// the activation that landed first must not be clobbered by the edit
	stored, err := fx.licenses.GetByKey(ctx, "LIC1-LIC1-LIC1-LIC1")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStatusActive, stored.Status)
	require.NotNil(t, stored.HardwareID)
	assert.Equal(t, "HW-A", *stored.HardwareID)
}

func TestAdminUpdateLicense(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.licenses.Seed(domain.License{
		Key: "LIC1-LIC1-LIC1-LIC1", Status: domain.LicenseStatusPending,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})

	notes := "handed over"
	adminID := fx.admin.ID
	updated, err := fx.service.UpdateLicense(ctx, "LIC1-LIC1-LIC1-LIC1", &adminID, &notes)
	require.NoError(t, err)
	assert.Equal(t, fx.admin.ID, updated.UserID)
	assert.Equal(t, "handed over", *updated.Notes)

	missing := "no-such-user"
	_, err = fx.service.UpdateLicense(ctx, "LIC1-LIC1-LIC1-LIC1", &missing, nil)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))

	_, err = fx.service.UpdateLicense(ctx, "NOPE-NOPE-NOPE-NOPE", nil, &notes)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestAdminDeleteLicense(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.licenses.Seed(domain.License{
		Key: "LIC1-LIC1-LIC1-LIC1", Status: domain.LicenseStatusPending,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})

	require.NoError(t, fx.service.DeleteLicense(ctx, "LIC1-LIC1-LIC1-LIC1"))

	err := fx.service.DeleteLicense(ctx, "LIC1-LIC1-LIC1-LIC1")
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestAdminCreateUser(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	user, err := fx.service.CreateUser(ctx, "Operator", "op@example.com", "s3cret", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, user.Role)

	_, err = fx.service.CreateUser(ctx, "Dup", "op@example.com", "s3cret", domain.RoleUser)
	assert.Equal(t, "CONFLICT", domainCode(t, err))

	_, err = fx.service.CreateUser(ctx, "Odd", "odd@example.com", "s3cret", domain.UserRole("ROOT"))
	assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))
}

func TestAdminCreateUserNormalizesEmail(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	user, err := fx.service.CreateUser(ctx, "Mixed", "Foo@Bar.COM ", "s3cret", domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "foo@bar.com", user.Email)

	// the stored form is the one login looks up
	stored, err := fx.users.GetByEmail(ctx, "foo@bar.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	email := "Other@Example.COM"
	updated, err := fx.service.UpdateUser(ctx, user.ID, nil, &email, nil)
	require.NoError(t, err)
	assert.Equal(t, "other@example.com", updated.Email)
}

func TestAdminUpdateUser(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	name := "Renamed"
	role := domain.RoleAdmin
	updated, err := fx.service.UpdateUser(ctx, fx.holder.ID, &name, nil, &role)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, domain.RoleAdmin, updated.Role)
	assert.Equal(t, fx.holder.Email, updated.Email)

	bad := domain.UserRole("ROOT")
	_, err = fx.service.UpdateUser(ctx, fx.holder.ID, nil, nil, &bad)
	assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))

	_, err = fx.service.UpdateUser(ctx, "missing", &name, nil, nil)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestAdminDeleteUser(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.service.DeleteUser(ctx, fx.holder.ID))
	err := fx.service.DeleteUser(ctx, fx.holder.ID)
	assert.Equal(t, "NOT_FOUND", domainCode(t, err))
}

func TestAdminCleanupExpiredLicenses(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.licenses.Seed(domain.License{
		Key: "LIVE-LIVE-LIVE-LIVE", Status: domain.LicenseStatusActive,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	fx.licenses.Seed(domain.License{
		Key: "EXP1-EXP1-EXP1-EXP1", Status: domain.LicenseStatusExpired,
		ExpirationDate: time.Now().Add(time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})
	fx.licenses.Seed(domain.License{
		Key: "OLD1-OLD1-OLD1-OLD1", Status: domain.LicenseStatusActive,
		ExpirationDate: time.Now().Add(-time.Hour), UserID: fx.holder.ID, CreatorID: fx.admin.ID,
	})

	deleted, err := fx.service.CleanupExpiredLicenses(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	remaining, err := fx.licenses.CountAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)
}

func TestAdminCleanupExpiredSessions(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	fx.sessions.Seed(domain.Session{UserID: fx.holder.ID, Token: "live", ExpiresAt: time.Now().Add(time.Hour)})
	fx.sessions.Seed(domain.Session{UserID: fx.holder.ID, Token: "stale", ExpiresAt: time.Now().Add(-time.Hour)})

	deleted, err := fx.service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, err := fx.sessions.CountAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)
}
