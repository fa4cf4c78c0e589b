package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/license-service/internal/auth"
	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/repository"
	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// AdminService backs the admin dashboard: stats, exports, user and session
// administration, and the operator-triggered cleanup batches.
type AdminService struct {
	users      repository.UserRepository
	licenses   repository.LicenseRepository
	sessions   repository.SessionRepository
	bcryptCost int
}

// AdminDependencies bundles repositories for the admin service.
type AdminDependencies struct {
	UserRepo    repository.UserRepository
	LicenseRepo repository.LicenseRepository
	SessionRepo repository.SessionRepository
	BcryptCost  int
}

// DashboardStats mirrors the admin landing page counters.
type DashboardStats struct {
	TotalUsers     int64 `json:"totalUsers"`
	TotalLicenses  int64 `json:"totalLicenses"`
	ActiveLicenses int64 `json:"activeLicenses"`
	RecentUsers    int64 `json:"recentUsers"`
}

// SettingsStats extends dashboard stats with expiry and session counters.
type SettingsStats struct {
	TotalUsers      int64 `json:"totalUsers"`
	TotalLicenses   int64 `json:"totalLicenses"`
	ActiveLicenses  int64 `json:"activeLicenses"`
	ExpiredLicenses int64 `json:"expiredLicenses"`
	TotalSessions   int64 `json:"totalSessions"`
	ActiveSessions  int64 `json:"activeSessions"`
}

// NewAdminService constructs the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	return &AdminService{
		users:      deps.UserRepo,
		licenses:   deps.LicenseRepo,
		sessions:   deps.SessionRepo,
		bcryptCost: deps.BcryptCost,
	}
}

// DashboardStats returns the admin landing page counters.
func (s *AdminService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	totalUsers, err := s.users.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	totalLicenses, err := s.licenses.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	activeLicenses, err := s.licenses.CountByStatus(ctx, domain.LicenseStatusActive)
	if err != nil {
		return nil, err
	}
	recentUsers, err := s.users.CountCreatedSince(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	return &DashboardStats{
		TotalUsers:     totalUsers,
		TotalLicenses:  totalLicenses,
		ActiveLicenses: activeLicenses,
		RecentUsers:    recentUsers,
	}, nil
}

// SettingsStats returns the extended counters on the settings page. Expired
// licenses are counted by the same predicate the cleanup uses: stored EXPIRED
// status or an elapsed expiration date.
func (s *AdminService) SettingsStats(ctx context.Context) (*SettingsStats, error) {
	now := time.Now()

	totalUsers, err := s.users.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	totalLicenses, err := s.licenses.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	activeLicenses, err := s.licenses.CountByStatus(ctx, domain.LicenseStatusActive)
	if err != nil {
		return nil, err
	}
	expiredLicenses, err := s.licenses.CountExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	totalSessions, err := s.sessions.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	activeSessions, err := s.sessions.CountActive(ctx, now)
	if err != nil {
		return nil, err
	}
	return &SettingsStats{
		TotalUsers:      totalUsers,
		TotalLicenses:   totalLicenses,
		ActiveLicenses:  activeLicenses,
		ExpiredLicenses: expiredLicenses,
		TotalSessions:   totalSessions,
		ActiveSessions:  activeSessions,
	}, nil
}

// exportPageSize bounds memory per page when walking the full license table.
const exportPageSize = 500

// ExportLicensesCSV writes every license with its holder as CSV, paging
// through the repository so the export is never truncated by a list limit.
func (s *AdminService) ExportLicensesCSV(ctx context.Context, w io.Writer) error {
	writer := csv.NewWriter(w)
	header := []string{"Key", "Type", "Status", "Holder", "Email", "Hardware ID", "Activated At", "Expiration Date", "Created At"}
	if err := writer.Write(header); err != nil {
		return err
	}

	const timeLayout = "2006-01-02 15:04"
	for offset := 0; ; offset += exportPageSize {
		licenses, err := s.licenses.ListWithHolder(ctx, exportPageSize, offset)
		if err != nil {
			return err
		}
		for _, item := range licenses {
			hardwareID := ""
			if item.HardwareID != nil {
				hardwareID = *item.HardwareID
			}
			activatedAt := ""
			if item.ActivatedAt != nil {
				activatedAt = item.ActivatedAt.Format(timeLayout)
			}
			record := []string{
				item.Key,
				string(item.Type),
				string(item.Status),
				item.HolderName,
				item.HolderEmail,
				hardwareID,
				activatedAt,
				item.ExpirationDate.Format(timeLayout),
				item.CreatedAt.Format(timeLayout),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		if len(licenses) < exportPageSize {
			break
		}
	}

	writer.Flush()
	return writer.Error()
}

// ListLicenses returns licenses with holder info for the admin list page.
func (s *AdminService) ListLicenses(ctx context.Context, limit, offset int) ([]repository.LicenseWithHolder, error) {
	return s.licenses.ListWithHolder(ctx, limit, offset)
}

// UpdateLicense changes the mutable admin fields: notes and holder. The
// read-modify-write runs under the row lock so a concurrent activation cannot
// be clobbered by the full-row write.
func (s *AdminService) UpdateLicense(ctx context.Context, key string, holderID *string, notes *string) (*domain.License, error) {
	var updated *domain.License

	err := s.licenses.WithinTx(ctx, func(repo repository.LicenseRepository) error {
		license, err := repo.GetByKeyForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("license", map[string]any{"key": key})
			}
			return err
		}

		if holderID != nil {
			if _, err := s.users.GetByID(ctx, *holderID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return apperrors.NewNotFound("user", map[string]any{"user_id": *holderID})
				}
				return err
			}
			license.UserID = *holderID
		}
		if notes != nil {
			license.Notes = notes
		}

		if err := repo.Update(ctx, license); err != nil {
			return err
		}
		updated = license
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteLicense removes a license record entirely.
func (s *AdminService) DeleteLicense(ctx context.Context, key string) error {
	license, err := s.licenses.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("license", map[string]any{"key": key})
		}
		return err
	}
	return s.licenses.Delete(ctx, license.ID)
}

// CreateUser adds an account with the given role.
func (s *AdminService) CreateUser(ctx context.Context, name, email, password string, role domain.UserRole) (*domain.User, error) {
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": role})
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Name:         name,
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns accounts for the admin users page.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	return s.users.List(ctx, limit, offset)
}

// UpdateUser changes name, email, or role. Password is left untouched.
func (s *AdminService) UpdateUser(ctx context.Context, id string, name, email *string, role *domain.UserRole) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": id})
		}
		return nil, err
	}

	if name != nil {
		user.Name = *name
	}
	if email != nil {
		user.Email = normalizeEmail(*email)
	}
	if role != nil {
		if *role != domain.RoleUser && *role != domain.RoleAdmin {
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": *role})
		}
		user.Role = *role
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperrors.NewConflict("email already registered", nil)
		}
		return nil, err
	}
	return user, nil
}

// DeleteUser removes an account. Licenses held and sessions cascade.
func (s *AdminService) DeleteUser(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"user_id": id})
		}
		return err
	}
	return nil
}

// ListSessions returns login sessions for the admin sessions page.
func (s *AdminService) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, error) {
	return s.sessions.List(ctx, limit, offset)
}

// CleanupExpiredLicenses deletes licenses that are expired by status or date.
func (s *AdminService) CleanupExpiredLicenses(ctx context.Context) (int64, error) {
	return s.licenses.DeleteExpired(ctx, time.Now())
}

// CleanupExpiredSessions deletes sessions past their expiry.
func (s *AdminService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, time.Now())
}
