package crisis

import "time"

// AlertType is the kind of incident an alert reports.
type AlertType string

// Supported alert types.
const (
	AlertTypeViolence         AlertType = "violence"
	AlertTypeArrest           AlertType = "arrest"
	AlertTypeMedical          AlertType = "medical"
	AlertTypeCheckpoint       AlertType = "checkpoint"
	AlertTypeSafeZone         AlertType = "safe_zone"
	AlertTypeDangerZone       AlertType = "danger_zone"
	AlertTypeInternetShutdown AlertType = "internet_shutdown"
	AlertTypeOther            AlertType = "other"
)

// AlertTypes lists every supported alert type.
var AlertTypes = []AlertType{
	AlertTypeViolence, AlertTypeArrest, AlertTypeMedical, AlertTypeCheckpoint,
	AlertTypeSafeZone, AlertTypeDangerZone, AlertTypeInternetShutdown, AlertTypeOther,
}

// Severity is the reported severity of an alert.
type Severity string

// Supported severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every supported severity, lowest first.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Visibility controls who may see an alert in listings.
type Visibility string

// Supported visibilities.
const (
	VisibilityPublic       Visibility = "public"
	VisibilityVerifiedOnly Visibility = "verified_only"
	VisibilityPrivate      Visibility = "private"
)

// Location represents geographic location data for an alert, SOS or verification.
type Location struct {
	// Latitude is the geographic latitude coordinate
	Latitude float64 `json:"latitude" validate:"gte=-90,lte=90"`

	// Longitude is the geographic longitude coordinate
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`

	// Accuracy is the uncertainty radius in meters
	Accuracy float64 `json:"accuracy,omitempty" validate:"gte=0"`

	// Address is an optional human-readable address or place name
	Address string `json:"address,omitempty" validate:"max=200"`
}

// Tally is the derived verification state of an alert.
// It is only ever written by the verification engine.
type Tally struct {
	// Count is confirmations minus denials
	Count int `json:"count"`

	// Verified is true once the alert crossed the verification threshold
	Verified bool `json:"verified"`

	// VerifiedAt is when the alert first became verified
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Alert is a community-submitted, geotagged incident report with a bounded lifetime.
type Alert struct {
	// AlertID is the unique identifier for this alert (UUID v4)
	AlertID string `json:"alertId"`

	// Type is the kind of incident
	Type AlertType `json:"type"`

	// Severity is the reported severity
	Severity Severity `json:"severity"`

	// Location is where the incident was reported
	Location Location `json:"location"`

	// Description is the free-text report (10-500 characters)
	Description string `json:"description"`

	// AuthorID is the user who submitted the alert. Never exposed through listings.
	AuthorID string `json:"authorId,omitempty"`

	// Verification is the derived verification tally
	Verification Tally `json:"verification"`

	// Visibility controls who sees the alert
	Visibility Visibility `json:"visibility"`

	// CreatedAt is when the alert was submitted
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is when the alert is removed from the store
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the alert's lifetime has ended at now.
func (a *Alert) IsExpired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Sanitized returns a copy of the alert without the author's identity.
func (a Alert) Sanitized() Alert {
	a.AuthorID = ""
	return a
}

// User is an anonymous participant with a reputation score.
type User struct {
	UserID     string    `json:"userId"`
	TrustScore int       `json:"trustScore"`
	CreatedAt  time.Time `json:"createdAt"`
}
