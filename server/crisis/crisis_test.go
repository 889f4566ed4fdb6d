package crisis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	a := Location{Latitude: 0, Longitude: 0}
	b := Location{Latitude: 0, Longitude: 1}

	// One degree of longitude at the equator
	assert.InDelta(t, 111.19, DistanceKm(a, b), 0.5)
	assert.InDelta(t, 0, DistanceKm(a, a), 1e-9)
}

func TestWithinRadius(t *testing.T) {
	center := Location{Latitude: 50.4501, Longitude: 30.5234}
	// About 5 km north of center
	north := Location{Latitude: 50.4951, Longitude: 30.5234}

	tests := []struct {
		name     string
		point    Location
		radiusKm float64
		expected bool
	}{
		{"same point", center, 1, true},
		{"inside radius", north, 10, true},
		{"outside radius", north, 4, false},
		{"far away", Location{Latitude: 40.7128, Longitude: -74.0060}, 50, false},
		{"zero radius", center, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WithinRadius(center, tt.point, tt.radiusKm))
		})
	}
}

func TestCountVerifications(t *testing.T) {
	verifications := []Verification{
		{Type: VerificationConfirm},
		{Type: VerificationConfirm},
		{Type: VerificationDeny},
		{Type: VerificationUpdate},
		{Type: VerificationConfirm},
	}

	counts := CountVerifications(verifications)
	assert.Equal(t, Counts{Confirmations: 3, Denials: 1, Updates: 1}, counts)
	assert.Equal(t, 2, counts.Net())
	assert.Equal(t, Counts{}, CountVerifications(nil))
}

func TestVerificationType_IsHelpful(t *testing.T) {
	assert.True(t, VerificationConfirm.IsHelpful())
	assert.True(t, VerificationDeny.IsHelpful())
	assert.False(t, VerificationUpdate.IsHelpful())
}

func TestAlert_IsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := Alert{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, alert.IsExpired(now))
	assert.True(t, alert.IsExpired(now.Add(time.Minute)), "expiry instant counts as expired")
	assert.True(t, alert.IsExpired(now.Add(time.Hour)))
}

func TestSanitized(t *testing.T) {
	alert := Alert{AlertID: "a1", AuthorID: "user-1"}
	assert.Empty(t, alert.Sanitized().AuthorID)
	assert.Equal(t, "user-1", alert.AuthorID, "original must not be modified")

	v := Verification{VerificationID: "v1", VoterID: "user-2"}
	assert.Empty(t, v.Sanitized().VoterID)

	sos := SOS{AuthorID: "user-3", Responders: []Responder{{UserID: "user-4", ResponseType: "on_my_way"}}}
	clean := sos.Sanitized()
	assert.Empty(t, clean.AuthorID)
	assert.Empty(t, clean.Responders[0].UserID)
	assert.Equal(t, "user-4", sos.Responders[0].UserID, "original responders must not be modified")
}

func TestSOS_IsActive(t *testing.T) {
	now := time.Now()
	sos := SOS{Status: SOSStatusActive, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, sos.IsActive(now))

	sos.Status = SOSStatusResolved
	assert.False(t, sos.IsActive(now))

	sos.Status = SOSStatusActive
	assert.False(t, sos.IsActive(now.Add(2*time.Hour)))
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityCritical, PriorityFor(EmergencyLifeThreatening))
	assert.Equal(t, PriorityHigh, PriorityFor(EmergencyMedical))
}
