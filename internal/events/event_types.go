package events

import (
	"time"

	"github.com/spec-kit/license-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLicenseCreated   EventType = "license_created"
	EventLicenseActivated EventType = "license_activated"
	EventLicenseValidated EventType = "license_validated"
	EventLicenseExpired   EventType = "license_expired"
	EventLicenseRevoked   EventType = "license_revoked"
	EventLicenseHWIDReset EventType = "license_hwid_reset"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string          `json:"user_id"`
	Role   domain.UserRole `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	LicenseKey string      `json:"license_key"`
	Actor      Actor       `json:"actor"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// LicenseCreatedPayload payload.
type LicenseCreatedPayload struct {
	Type           domain.LicenseType `json:"type"`
	HolderID       string             `json:"holder_id"`
	ExpirationDate time.Time          `json:"expiration_date"`
}

// LicenseActivatedPayload payload.
type LicenseActivatedPayload struct {
	HardwareID   string `json:"hardware_id"`
	Reactivation bool   `json:"reactivation"`
}

// LicenseExpiredPayload payload for lazy expiry corrections.
type LicenseExpiredPayload struct {
	ExpirationDate time.Time `json:"expiration_date"`
}

// LicenseStatusChangedPayload payload for revoke and reset transitions.
type LicenseStatusChangedPayload struct {
	OldStatus domain.LicenseStatus `json:"old_status"`
	NewStatus domain.LicenseStatus `json:"new_status"`
}
