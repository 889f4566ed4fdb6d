package crisis

import (
	"strings"
	"time"
)

// CaseStatus is the state of a missing-person case.
type CaseStatus string

// Supported case statuses.
const (
	CaseStatusMissing       CaseStatus = "missing"
	CaseStatusFound         CaseStatus = "found"
	CaseStatusSearchOngoing CaseStatus = "search_ongoing"
)

// CaseStatuses lists every supported case status.
var CaseStatuses = []CaseStatus{CaseStatusMissing, CaseStatusFound, CaseStatusSearchOngoing}

// Gender of a missing person, when given.
type Gender string

// Supported genders.
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Missing-person registry limits
const (
	// MissingPersonTTL is how long a case stays in the registry
	MissingPersonTTL = 30 * 24 * time.Hour

	// MissingCaseTrustScore is the trust score needed to update another user's case
	MissingCaseTrustScore = 80

	// DefaultMissingSearchRadiusKm is the search radius of a case when none is given
	DefaultMissingSearchRadiusKm = 10

	// DefaultMissingListRadiusKm is used when a case listing does not specify a radius
	DefaultMissingListRadiusKm = 50

	// MaxListedCases caps a case listing
	MaxListedCases = 50

	// MaxCaseUpdates caps the public updates kept on one case; the oldest are dropped
	MaxCaseUpdates = 20
)

// PersonDetails describes the missing person.
type PersonDetails struct {
	Name                   string   `json:"name" validate:"required,max=100"`
	Age                    int      `json:"age,omitempty" validate:"omitempty,min=1,max=120"`
	Gender                 Gender   `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	PhysicalDescription    string   `json:"physicalDescription,omitempty" validate:"max=500"`
	LastSeenClothing       string   `json:"lastSeenClothing,omitempty" validate:"max=200"`
	DistinguishingFeatures []string `json:"distinguishingFeatures,omitempty" validate:"max=10,dive,max=100"`
}

// LastSeen is where and when the person was last seen. The address, if any,
// travels in Location.Address.
type LastSeen struct {
	Location      Location  `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
	Circumstances string    `json:"circumstances,omitempty" validate:"max=500"`
}

// CaseUpdate is a public note attached to a case when its status changes.
type CaseUpdate struct {
	Info      string    `json:"info"`
	Timestamp time.Time `json:"timestamp"`
}

// MissingPerson is a case in the missing-persons registry.
type MissingPerson struct {
	CaseID         string        `json:"caseId"`
	ReporterID     string        `json:"reporterId,omitempty"`
	PersonDetails  PersonDetails `json:"personDetails"`
	LastSeen       LastSeen      `json:"lastSeen"`
	Status         CaseStatus    `json:"status"`
	Updates        []CaseUpdate  `json:"updates,omitempty"`
	SearchRadiusKm int           `json:"searchRadius"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
}

// IsExpired reports whether the case has left the registry at now.
func (m *MissingPerson) IsExpired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// AddUpdate appends a public note, keeping at most MaxCaseUpdates.
func (m *MissingPerson) AddUpdate(info string, at time.Time) {
	m.Updates = append(m.Updates, CaseUpdate{Info: info, Timestamp: at})
	if n := len(m.Updates); n > MaxCaseUpdates {
		m.Updates = append([]CaseUpdate(nil), m.Updates[n-MaxCaseUpdates:]...)
	}
}

// Sanitized returns a copy of the case without the reporter's identity.
func (m MissingPerson) Sanitized() MissingPerson {
	m.ReporterID = ""
	return m
}

// CreateMissingPersonRequest is the payload for opening a case.
type CreateMissingPersonRequest struct {
	PersonDetails  PersonDetails `json:"personDetails"`
	LastSeen       LastSeen      `json:"lastSeen"`
	SearchRadiusKm int           `json:"searchRadius" validate:"omitempty,min=1,max=100"`
}

// Normalize trims free text and fills defaults. Call before Validate.
func (r *CreateMissingPersonRequest) Normalize() {
	r.PersonDetails.Name = strings.TrimSpace(r.PersonDetails.Name)
	r.PersonDetails.PhysicalDescription = strings.TrimSpace(r.PersonDetails.PhysicalDescription)
	r.PersonDetails.LastSeenClothing = strings.TrimSpace(r.PersonDetails.LastSeenClothing)
	r.LastSeen.Circumstances = strings.TrimSpace(r.LastSeen.Circumstances)
	if r.SearchRadiusKm == 0 {
		r.SearchRadiusKm = DefaultMissingSearchRadiusKm
	}
}

// Validate checks the request against its field rules. now bounds the last-seen time.
func (r *CreateMissingPersonRequest) Validate(now time.Time) error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.LastSeen.Timestamp.IsZero() {
		return NewValidationError("lastSeen.timestamp", "is required")
	}
	if r.LastSeen.Timestamp.After(now) {
		return NewValidationError("lastSeen.timestamp", "must not be in the future")
	}
	return nil
}

// UpdateCaseRequest is the payload for changing a case status.
type UpdateCaseRequest struct {
	Status         CaseStatus `json:"status" validate:"required,oneof=missing found search_ongoing"`
	AdditionalInfo string     `json:"additionalInfo" validate:"max=500"`
}

// Normalize trims free text. Call before Validate.
func (r *UpdateCaseRequest) Normalize() {
	r.AdditionalInfo = strings.TrimSpace(r.AdditionalInfo)
}

// Validate checks the request against its field rules.
func (r *UpdateCaseRequest) Validate() error {
	return validateStruct(r)
}

// MissingQuery filters a case listing. Latitude and Longitude must be given together.
type MissingQuery struct {
	Latitude  *float64   `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64   `json:"lng" validate:"omitempty,gte=-180,lte=180"`
	RadiusKm  float64    `json:"radius" validate:"gte=0"`
	Status    CaseStatus `json:"status" validate:"oneof=missing found search_ongoing"`
}

// Normalize fills defaults. Call before Validate.
func (q *MissingQuery) Normalize() {
	if q.Status == "" {
		q.Status = CaseStatusMissing
	}
	if q.HasCenter() && q.RadiusKm == 0 {
		q.RadiusKm = DefaultMissingListRadiusKm
	}
}

// Validate checks the query against its field rules.
func (q *MissingQuery) Validate() error {
	if err := validateStruct(q); err != nil {
		return err
	}
	if (q.Latitude == nil) != (q.Longitude == nil) {
		return NewValidationError("lat", "lat and lng must be given together")
	}
	return nil
}

// HasCenter reports whether the query is a proximity query.
func (q *MissingQuery) HasCenter() bool {
	return q.Latitude != nil && q.Longitude != nil
}

// Center returns the proximity center. Only meaningful when HasCenter is true.
func (q *MissingQuery) Center() Location {
	var loc Location
	if q.Latitude != nil {
		loc.Latitude = *q.Latitude
	}
	if q.Longitude != nil {
		loc.Longitude = *q.Longitude
	}
	return loc
}
