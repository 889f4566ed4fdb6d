package crisis

import "time"

// VerificationType is a voter's judgment on an alert.
type VerificationType string

// Supported verification types.
const (
	VerificationConfirm VerificationType = "confirm"
	VerificationDeny    VerificationType = "deny"
	VerificationUpdate  VerificationType = "update"
)

// IsHelpful reports whether the verification counts towards the voter's trust score.
func (t VerificationType) IsHelpful() bool {
	return t == VerificationConfirm || t == VerificationDeny
}

// Confidence is how sure a voter is of their judgment.
type Confidence string

// Supported confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Verification is a single voter's judgment on one alert.
// The pair (AlertID, VoterID) is unique.
type Verification struct {
	VerificationID string           `json:"verificationId"`
	AlertID        string           `json:"alertId"`
	VoterID        string           `json:"voterId,omitempty"`
	Type           VerificationType `json:"verificationType"`
	Confidence     Confidence       `json:"confidence"`
	AdditionalInfo string           `json:"additionalInfo,omitempty"`
	LocationAtTime *Location        `json:"locationAtTime,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Sanitized returns a copy of the verification without the voter's identity.
func (v Verification) Sanitized() Verification {
	v.VoterID = ""
	return v
}

// Counts is the number of stored verifications of each type for one alert.
type Counts struct {
	Confirmations int `json:"confirmations"`
	Denials       int `json:"denials"`
	Updates       int `json:"updates"`
}

// Net returns confirmations minus denials.
func (c Counts) Net() int {
	return c.Confirmations - c.Denials
}

// CountVerifications tallies a set of verifications by type.
func CountVerifications(verifications []Verification) Counts {
	var counts Counts
	for _, v := range verifications {
		switch v.Type {
		case VerificationConfirm:
			counts.Confirmations++
		case VerificationDeny:
			counts.Denials++
		case VerificationUpdate:
			counts.Updates++
		}
	}
	return counts
}
