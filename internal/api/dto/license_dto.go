package dto

import (
	"time"

	"github.com/spec-kit/license-service/internal/domain"
	"github.com/spec-kit/license-service/internal/repository"
)

// ActivateRequest payload for POST /activate and POST /validate.
type ActivateRequest struct {
	Key        string `json:"key"`
	HardwareID string `json:"hardwareId"`
}

// KeyRequest payload for admin operations addressed by key.
type KeyRequest struct {
	Key string `json:"key"`
}

// CreateLicenseRequest payload for issuing a license.
type CreateLicenseRequest struct {
	Type   domain.LicenseType `json:"type"`
	UserID string             `json:"userId"`
	Notes  *string            `json:"notes"`
	// Key is optional; when empty the server generates one.
	Key string `json:"key"`
}

// BulkCreateLicensesRequest payload for issuing several licenses at once.
type BulkCreateLicensesRequest struct {
	Count  int                `json:"count"`
	Type   domain.LicenseType `json:"type"`
	UserID string             `json:"userId"`
	Notes  *string            `json:"notes"`
}

// UpdateLicenseRequest payload for admin edits.
type UpdateLicenseRequest struct {
	UserID *string `json:"userId"`
	Notes  *string `json:"notes"`
}

// LicenseResponse is the wire view of a license.
type LicenseResponse struct {
	ID              string               `json:"id"`
	Key             string               `json:"key"`
	Type            domain.LicenseType   `json:"type"`
	Status          domain.LicenseStatus `json:"status"`
	HardwareID      *string              `json:"hardwareId"`
	ActivatedAt     *time.Time           `json:"activatedAt"`
	LastValidatedAt *time.Time           `json:"lastValidatedAt"`
	ExpiresAt       time.Time            `json:"expiresAt"`
	Notes           *string              `json:"notes,omitempty"`
	UserID          string               `json:"userId"`
	CreatedAt       time.Time            `json:"createdAt"`
	Holder          *UserSummary         `json:"user,omitempty"`
}

// UserSummary is the embedded holder view on license responses.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CleanupResponse reports batch deletion results.
type CleanupResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

// NewLicenseResponse maps a domain license; holder is optional.
func NewLicenseResponse(license *domain.License, holder *domain.User) LicenseResponse {
	resp := LicenseResponse{
		ID:              license.ID,
		Key:             license.Key,
		Type:            license.Type,
		Status:          license.Status,
		HardwareID:      license.HardwareID,
		ActivatedAt:     license.ActivatedAt,
		LastValidatedAt: license.LastValidatedAt,
		ExpiresAt:       license.ExpirationDate,
		Notes:           license.Notes,
		UserID:          license.UserID,
		CreatedAt:       license.CreatedAt,
	}
	if holder != nil {
		resp.Holder = &UserSummary{ID: holder.ID, Name: holder.Name, Email: holder.Email}
	}
	return resp
}

// NewLicenseWithHolderResponse maps a license joined with its holder.
func NewLicenseWithHolderResponse(item repository.LicenseWithHolder) LicenseResponse {
	resp := NewLicenseResponse(&item.License, nil)
	resp.Holder = &UserSummary{ID: item.UserID, Name: item.HolderName, Email: item.HolderEmail}
	return resp
}
