package crisis

import "time"

// EmergencyType is the kind of emergency an SOS reports.
type EmergencyType string

// Supported emergency types.
const (
	EmergencyViolenceImmediate EmergencyType = "violence_immediate"
	EmergencyMedical           EmergencyType = "medical_emergency"
	EmergencyArrestInProgress  EmergencyType = "arrest_in_progress"
	EmergencyTrappedLocation   EmergencyType = "trapped_location"
	EmergencyLifeThreatening   EmergencyType = "life_threatening"
)

// EmergencyTypes lists every supported emergency type.
var EmergencyTypes = []EmergencyType{
	EmergencyViolenceImmediate, EmergencyMedical, EmergencyArrestInProgress,
	EmergencyTrappedLocation, EmergencyLifeThreatening,
}

// SOSStatus is the lifecycle state of an SOS.
type SOSStatus string

// Supported SOS statuses.
const (
	SOSStatusActive    SOSStatus = "active"
	SOSStatusResolved  SOSStatus = "resolved"
	SOSStatusCancelled SOSStatus = "cancelled"
	SOSStatusExpired   SOSStatus = "expired"
)

// Priority is the broadcast priority of an SOS.
type Priority string

// Supported SOS priorities.
const (
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityFor returns the broadcast priority for an emergency type.
func PriorityFor(emergencyType EmergencyType) Priority {
	if emergencyType == EmergencyLifeThreatening {
		return PriorityCritical
	}
	return PriorityHigh
}

// SOSDetails carries optional situational details of an SOS.
type SOSDetails struct {
	NumberOfPeople  int      `json:"numberOfPeople,omitempty" validate:"omitempty,min=1,max=100"`
	ImmediateDanger bool     `json:"immediateDanger,omitempty"`
	MedicalNeeds    []string `json:"medicalNeeds,omitempty" validate:"max=10,dive,max=100"`
	EscapeRoutes    []string `json:"escapeRoutes,omitempty" validate:"max=10,dive,max=100"`
}

// Responder is a user who answered an SOS.
type Responder struct {
	UserID       string    `json:"userId,omitempty"`
	ResponseType string    `json:"responseType"`
	Timestamp    time.Time `json:"timestamp"`
}

// SOS is an emergency broadcast with a short lifetime.
type SOS struct {
	SOSID             string        `json:"sosId"`
	AuthorID          string        `json:"authorId,omitempty"`
	EmergencyType     EmergencyType `json:"emergencyType"`
	Location          Location      `json:"location"`
	Status            SOSStatus     `json:"status"`
	Priority          Priority      `json:"priority"`
	Details           SOSDetails    `json:"details"`
	Responders        []Responder   `json:"responders,omitempty"`
	BroadcastRadiusKm int           `json:"broadcastRadius"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	ExpiresAt         time.Time     `json:"expiresAt"`
}

// IsActive reports whether the SOS is still active and unexpired at now.
func (s *SOS) IsActive(now time.Time) bool {
	return s.Status == SOSStatusActive && now.Before(s.ExpiresAt)
}

// HasResponder reports whether userID already responded.
func (s *SOS) HasResponder(userID string) bool {
	for _, r := range s.Responders {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Sanitized returns a copy of the SOS without author or responder identities.
func (s SOS) Sanitized() SOS {
	s.AuthorID = ""
	if len(s.Responders) > 0 {
		responders := make([]Responder, len(s.Responders))
		for i, r := range s.Responders {
			r.UserID = ""
			responders[i] = r
		}
		s.Responders = responders
	}
	return s
}
