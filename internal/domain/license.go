package domain

import "time"

// LicenseStatus enumerates lifecycle states for licenses.
type LicenseStatus string

const (
	LicenseStatusPending LicenseStatus = "PENDING"
	LicenseStatusActive  LicenseStatus = "ACTIVE"
	LicenseStatusExpired LicenseStatus = "EXPIRED"
	LicenseStatusRevoked LicenseStatus = "REVOKED"
)

// LicenseType enumerates duration-bearing license tiers.
type LicenseType string

const (
	LicenseTypeOneMonth    LicenseType = "ONE_MONTH"
	LicenseTypeThreeMonths LicenseType = "THREE_MONTHS"
	LicenseTypeSixMonths   LicenseType = "SIX_MONTHS"
	LicenseTypeOneYear     LicenseType = "ONE_YEAR"
)

// License is the aggregate for issued license keys. A license is bound to at
// most one hardware id at a time; the binding is set on first activation and
// cleared only by an explicit admin reset.
type License struct {
	ID              string
	Key             string
	Type            LicenseType
	Status          LicenseStatus
	HardwareID      *string
	ActivatedAt     *time.Time
	LastValidatedAt *time.Time
	ExpirationDate  time.Time
	Notes           *string
	UserID          string
	CreatorID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration returns the validity window granted by the license type.
// The expiration date is fixed at creation; activation never extends it.
func (t LicenseType) Duration(from time.Time) (time.Time, bool) {
	switch t {
	case LicenseTypeOneMonth:
		return from.AddDate(0, 1, 0), true
	case LicenseTypeThreeMonths:
		return from.AddDate(0, 3, 0), true
	case LicenseTypeSixMonths:
		return from.AddDate(0, 6, 0), true
	case LicenseTypeOneYear:
		return from.AddDate(1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// IsExpired is the single expiry predicate used by every read and write path.
// The stored status alone is never trusted: a license whose expiration date
// has passed evaluates as expired regardless of what the row says.
func (l *License) IsExpired(now time.Time) bool {
	if l == nil {
		return false
	}
	return l.Status == LicenseStatusExpired || now.After(l.ExpirationDate)
}

// IsRevoked reports whether the license reached its terminal state.
func (l *License) IsRevoked() bool {
	return l != nil && l.Status == LicenseStatusRevoked
}

// BoundTo reports whether the license is bound to the given hardware id.
func (l *License) BoundTo(hardwareID string) bool {
	return l != nil && l.HardwareID != nil && *l.HardwareID == hardwareID
}
