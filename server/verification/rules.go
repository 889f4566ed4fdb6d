package verification

import (
	"time"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// MeetsThreshold applies the verification rule: enough confirmations, and
// confirmations outnumber twice the denials.
func MeetsThreshold(counts crisis.Counts, threshold int) bool {
	if threshold <= 0 {
		threshold = crisis.DefaultVerificationThreshold
	}
	return counts.Confirmations >= threshold && counts.Confirmations > 2*counts.Denials
}

// NextTally derives the tally of an alert from its verification counts.
// With sticky set, a verified alert stays verified. VerifiedAt is set the first
// time the alert crosses into verified and is kept while it stays verified.
func NextTally(current crisis.Tally, counts crisis.Counts, threshold int, sticky bool, now time.Time) crisis.Tally {
	verified := MeetsThreshold(counts, threshold)
	if sticky && current.Verified {
		verified = true
	}

	next := crisis.Tally{
		Count:    counts.Net(),
		Verified: verified,
	}

	switch {
	case verified && current.Verified && current.VerifiedAt != nil:
		next.VerifiedAt = current.VerifiedAt
	case verified:
		at := now.UTC()
		next.VerifiedAt = &at
	}

	return next
}

// ComputeTrustScore derives a trust score from a user's history. It is a pure
// function of its inputs and always lies within [MinTrustScore, MaxTrustScore].
func ComputeTrustScore(helpfulVerifications, verifiedAlertsAuthored int) int {
	score := crisis.DefaultTrustScore
	score += min(max(helpfulVerifications, 0)*crisis.HelpfulVerificationPoints, crisis.HelpfulVerificationCap)
	score += min(max(verifiedAlertsAuthored, 0)*crisis.VerifiedAlertPoints, crisis.VerifiedAlertCap)
	return clamp(score, crisis.MinTrustScore, crisis.MaxTrustScore)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
