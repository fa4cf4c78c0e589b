package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/events"
	"github.com/spec-kit/license-service/internal/keygen"
	"github.com/spec-kit/license-service/internal/repository"
	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// LicenseService coordinates the license lifecycle: issuing keys, binding
// hardware on activation, lazy expiry, revocation, and hardware resets.
type LicenseService struct {
	licenses   repository.LicenseRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher

	generateKey   func() string
	keyRetryLimit int
	bulkCreateMax int
}

// LicenseDependencies bundles collaborators for the license service.
type LicenseDependencies struct {
	LicenseRepo repository.LicenseRepository
	UserRepo    repository.UserRepository
	Dispatcher  events.Dispatcher
	// KeyFormat selects the generated key layout ("segmented" or "uuid").
	KeyFormat     string
	KeyRetryLimit int
	BulkCreateMax int
}

// LicenseCreateInput describes license creation payload.
type LicenseCreateInput struct {
	Type     domain.LicenseType
	HolderID string
	Notes    *string
	// Key, when set, is used verbatim instead of a generated one. A collision
	// on an explicit key is an error; generated keys are retried.
	Key string
}

// NewLicenseService constructs the service.
func NewLicenseService(deps LicenseDependencies) *LicenseService {
	retries := deps.KeyRetryLimit
	if retries <= 0 {
		retries = 5
	}
	bulkMax := deps.BulkCreateMax
	if bulkMax <= 0 {
		bulkMax = 100
	}
	generate := keygen.Generate
	if deps.KeyFormat == "uuid" {
		generate = keygen.GenerateUUID
	}
	return &LicenseService{
		licenses:      deps.LicenseRepo,
		users:         deps.UserRepo,
		dispatcher:    deps.Dispatcher,
		generateKey:   generate,
		keyRetryLimit: retries,
		bulkCreateMax: bulkMax,
	}
}

// Create issues a new license in PENDING status. The expiration date is
// computed from the type's duration table and never changes afterwards.
func (s *LicenseService) Create(ctx context.Context, creatorID string, input LicenseCreateInput) (*domain.License, error) {
	now := time.Now()
	expiration, ok := input.Type.Duration(now)
	if !ok {
		return nil, apperrors.NewValidationError("invalid license type", map[string]any{"type": input.Type})
	}

	if _, err := s.users.GetByID(ctx, input.HolderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": input.HolderID})
		}
		return nil, err
	}

	license := &domain.License{
		Type:           input.Type,
		Status:         domain.LicenseStatusPending,
		ExpirationDate: expiration,
		Notes:          input.Notes,
		UserID:         input.HolderID,
		CreatorID:      creatorID,
	}

	if input.Key != "" {
		license.Key = input.Key
		if err := s.licenses.Create(ctx, license); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return nil, apperrors.NewDuplicateKey(input.Key)
			}
			return nil, err
		}
	} else if err := s.createWithGeneratedKey(ctx, license); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:       events.EventLicenseCreated,
		LicenseKey: license.Key,
		Actor:      events.Actor{UserID: creatorID, Role: domain.RoleAdmin},
		Payload: events.LicenseCreatedPayload{
			Type:           license.Type,
			HolderID:       license.UserID,
			ExpirationDate: license.ExpirationDate,
		},
	})
	return license, nil
}

// createWithGeneratedKey regenerates on key collision up to the retry limit.
func (s *LicenseService) createWithGeneratedKey(ctx context.Context, license *domain.License) error {
	for attempt := 0; attempt < s.keyRetryLimit; attempt++ {
		license.Key = s.generateKey()
		err := s.licenses.Create(ctx, license)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return err
		}
	}
	return apperrors.NewConflict("could not generate a unique license key", nil)
}

// BulkCreate issues count licenses sequentially and returns the generated keys.
func (s *LicenseService) BulkCreate(ctx context.Context, creatorID string, count int, input LicenseCreateInput) ([]string, error) {
	if count <= 0 {
		return nil, apperrors.NewValidationError("count must be positive", nil)
	}
	if count > s.bulkCreateMax {
		return nil, apperrors.NewValidationError("count exceeds bulk create limit",
			map[string]any{"max": s.bulkCreateMax})
	}
	input.Key = ""

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		license, err := s.Create(ctx, creatorID, input)
		if err != nil {
			return keys, err
		}
		keys = append(keys, license.Key)
	}
	return keys, nil
}

// Activate binds the license to a hardware id and marks it ACTIVE. The whole
// read-check-write runs under a row lock so two devices racing to bind cannot
// interleave. Re-activation from the already-bound hardware succeeds and only
// refreshes the validation timestamp.
func (s *LicenseService) Activate(ctx context.Context, requester *domain.User, key, hardwareID string) (*domain.License, error) {
	var activated *domain.License

	var expired *domain.License
	var expiryMarked bool

	err := s.licenses.WithinTx(ctx, func(repo repository.LicenseRepository) error {
		license, err := repo.GetByKeyForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("license", map[string]any{"key": key})
			}
			return err
		}

		if license.IsRevoked() {
			return apperrors.NewForbidden("license has been revoked")
		}
		if license.UserID != requester.ID {
			return apperrors.NewForbidden("this license does not belong to you")
		}
		if license.HardwareID != nil && *license.HardwareID != hardwareID {
			return apperrors.NewHardwareMismatch("license is already activated on another device",
				map[string]any{"existing_hardware_id": *license.HardwareID})
		}

		now := time.Now()
		if license.IsExpired(now) {
			expiryMarked, err = settleExpiry(ctx, repo, license)
			expired = license
			return err
		}

		reactivation := license.BoundTo(hardwareID)
		license.HardwareID = &hardwareID
		license.Status = domain.LicenseStatusActive
		if license.ActivatedAt == nil {
			license.ActivatedAt = &now
		}
		license.LastValidatedAt = &now
		if err := repo.Update(ctx, license); err != nil {
			return err
		}

		activated = license
		s.publishEvent(ctx, events.Event{
			Type:       events.EventLicenseActivated,
			LicenseKey: license.Key,
			Actor:      events.Actor{UserID: requester.ID, Role: requester.Role},
			Payload:    events.LicenseActivatedPayload{HardwareID: hardwareID, Reactivation: reactivation},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		return nil, s.expiredError(ctx, expired, requester, expiryMarked)
	}
	return activated, nil
}

// Validate checks that the license is active on the given hardware. It never
// binds a fresh hardware id; a license with no binding fails validation.
func (s *LicenseService) Validate(ctx context.Context, requester *domain.User, key, hardwareID string) (*domain.License, error) {
	var validated *domain.License
	var expired *domain.License
	var expiryMarked bool

	err := s.licenses.WithinTx(ctx, func(repo repository.LicenseRepository) error {
		license, err := repo.GetByKeyForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("license", map[string]any{"key": key})
			}
			return err
		}

		if license.IsRevoked() {
			return apperrors.NewForbidden("license has been revoked")
		}
		if license.UserID != requester.ID {
			return apperrors.NewForbidden("this license does not belong to you")
		}

		now := time.Now()
		if license.IsExpired(now) {
			expiryMarked, err = settleExpiry(ctx, repo, license)
			expired = license
			return err
		}
		if !license.BoundTo(hardwareID) {
			return apperrors.NewHardwareMismatch("license is not activated on this device", nil)
		}

		license.LastValidatedAt = &now
		if err := repo.Update(ctx, license); err != nil {
			return err
		}

		validated = license
		s.publishEvent(ctx, events.Event{
			Type:       events.EventLicenseValidated,
			LicenseKey: license.Key,
			Actor:      events.Actor{UserID: requester.ID, Role: requester.Role},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		return nil, s.expiredError(ctx, expired, requester, expiryMarked)
	}
	return validated, nil
}

// settleExpiry persists the lazy EXPIRED correction inside the enclosing
// transaction and reports whether the stored status changed. The callback must
// return nil for this write: surfacing the domain error from inside the
// transaction would roll the correction back.
func settleExpiry(ctx context.Context, repo repository.LicenseRepository, license *domain.License) (bool, error) {
	if license.Status == domain.LicenseStatusExpired {
		return false, nil
	}
	license.Status = domain.LicenseStatusExpired
	if err := repo.Update(ctx, license); err != nil {
		return false, err
	}
	return true, nil
}

// expiredError raises the expiry after the transaction committed, publishing
// the event only when this request was the one that marked the row.
func (s *LicenseService) expiredError(ctx context.Context, license *domain.License, requester *domain.User, marked bool) error {
	if marked {
		s.publishEvent(ctx, events.Event{
			Type:       events.EventLicenseExpired,
			LicenseKey: license.Key,
			Actor:      events.Actor{UserID: requester.ID, Role: requester.Role},
			Payload:    events.LicenseExpiredPayload{ExpirationDate: license.ExpirationDate},
		})
	}
	return apperrors.NewLicenseExpired()
}

// Revoke unconditionally moves the license to its terminal REVOKED state.
// Revoking an already revoked license is a success no-op.
func (s *LicenseService) Revoke(ctx context.Context, actor *domain.User, key string) (*domain.License, error) {
	var revoked *domain.License

	err := s.licenses.WithinTx(ctx, func(repo repository.LicenseRepository) error {
		license, err := repo.GetByKeyForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("license", map[string]any{"key": key})
			}
			return err
		}

		if license.Status == domain.LicenseStatusRevoked {
			revoked = license
			return nil
		}

		oldStatus := license.Status
		license.Status = domain.LicenseStatusRevoked
		if err := repo.Update(ctx, license); err != nil {
			return err
		}

		revoked = license
		s.publishEvent(ctx, events.Event{
			Type:       events.EventLicenseRevoked,
			LicenseKey: license.Key,
			Actor:      events.Actor{UserID: actor.ID, Role: actor.Role},
			Payload:    events.LicenseStatusChangedPayload{OldStatus: oldStatus, NewStatus: license.Status},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// ResetHardwareID clears the hardware binding and returns the license to
// PENDING so it can be activated from a different device. Revoked licenses
// stay terminal and cannot be reset.
func (s *LicenseService) ResetHardwareID(ctx context.Context, actor *domain.User, key string) (*domain.License, error) {
	var reset *domain.License

	err := s.licenses.WithinTx(ctx, func(repo repository.LicenseRepository) error {
		license, err := repo.GetByKeyForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("license", map[string]any{"key": key})
			}
			return err
		}

		if license.IsRevoked() {
			return apperrors.NewForbidden("license has been revoked")
		}

		oldStatus := license.Status
		license.HardwareID = nil
		license.ActivatedAt = nil
		license.LastValidatedAt = nil
		license.Status = domain.LicenseStatusPending
		if err := repo.Update(ctx, license); err != nil {
			return err
		}

		reset = license
		s.publishEvent(ctx, events.Event{
			Type:       events.EventLicenseHWIDReset,
			LicenseKey: license.Key,
			Actor:      events.Actor{UserID: actor.ID, Role: actor.Role},
			Payload:    events.LicenseStatusChangedPayload{OldStatus: oldStatus, NewStatus: license.Status},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// GetByKey returns a license for read-only display. An elapsed expiration
// date is reflected in the returned status without persisting; the correction
// is written on the next write-bearing operation.
func (s *LicenseService) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	license, err := s.licenses.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("license", map[string]any{"key": key})
		}
		return nil, err
	}
	applyLazyExpiry(license)
	return license, nil
}

// ListForUser returns the licenses held by a user.
func (s *LicenseService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.License, error) {
	licenses, err := s.licenses.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range licenses {
		applyLazyExpiry(&licenses[i])
	}
	return licenses, nil
}

func applyLazyExpiry(license *domain.License) {
	if license.Status != domain.LicenseStatusRevoked && license.IsExpired(time.Now()) {
		license.Status = domain.LicenseStatusExpired
	}
}

func (s *LicenseService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}
