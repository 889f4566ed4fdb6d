package crisis

import "time"

// Constants for verification, trust scoring and retention
const (
	// DefaultVerificationThreshold is the minimum number of confirmations
	// before an alert can become verified when no threshold is configured.
	DefaultVerificationThreshold = 3

	// DefaultTrustScore is the trust score of a user with no history
	DefaultTrustScore = 50

	// MinTrustScore and MaxTrustScore bound every trust score
	MinTrustScore = 0
	MaxTrustScore = 100

	// HelpfulVerificationPoints is awarded per confirm or deny vote, up to HelpfulVerificationCap
	HelpfulVerificationPoints = 2
	HelpfulVerificationCap    = 20

	// VerifiedAlertPoints is awarded per verified authored alert, up to VerifiedAlertCap
	VerifiedAlertPoints = 5
	VerifiedAlertCap    = 25

	// SOSStatusTrustScore is the trust score needed to change another user's SOS status
	SOSStatusTrustScore = 70

	// MaxListedVerifications caps the verifications returned for one alert
	MaxListedVerifications = 50

	// DefaultAlertTTL is how long an alert lives when no TTL is configured
	DefaultAlertTTL = 24 * time.Hour

	// DefaultSOSTTL is how long an SOS lives when no TTL is configured
	DefaultSOSTTL = 2 * time.Hour

	// DefaultSOSBroadcastRadiusKm is used when an SOS does not specify a radius
	DefaultSOSBroadcastRadiusKm = 5

	// DefaultSearchRadiusKm is used when a proximity query does not specify a radius
	DefaultSearchRadiusKm = 10
)

// Listing defaults
const (
	// DefaultPageSize is the page size of an alert listing when none is given
	DefaultPageSize = 20

	// MaxPageSize caps the page size of an alert listing
	MaxPageSize = 100

	// DefaultMaxSearchRadiusKm caps proximity queries when no limit is configured
	DefaultMaxSearchRadiusKm = 50
)
