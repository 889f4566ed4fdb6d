package verification

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/mattermost/mattermost-plugin-crisis-alerts/server/verification ConfigProvider,Publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// EventAlertVerified is published after every accepted verification
const EventAlertVerified = "alert_verified"

// VerificationStore holds the authoritative verification records
type VerificationStore interface {
	TryInsert(ctx context.Context, v *crisis.Verification) (bool, error)
	CountByType(ctx context.Context, alertID string) (crisis.Counts, error)
	ListByAlert(ctx context.Context, alertID string) ([]crisis.Verification, error)
	ListByVoter(ctx context.Context, voterID string) ([]crisis.Verification, error)
}

// AlertStateStore reads alerts and writes their tally
type AlertStateStore interface {
	GetAlert(ctx context.Context, alertID string) (*crisis.Alert, error)
	UpdateTally(ctx context.Context, alertID string, tally crisis.Tally) error
	ListAuthored(ctx context.Context, userID string) ([]*crisis.Alert, error)
}

// UserTrustStore reads and writes trust scores
type UserTrustStore interface {
	GetUser(ctx context.Context, userID string) (*crisis.User, error)
	SetScore(ctx context.Context, userID string, score int) error
}

// ConfigProvider supplies the verification policy. It is read on every call.
type ConfigProvider interface {
	VerificationThreshold() int
	StickyVerification() bool
}

// Publisher delivers change notifications. Publish must not block.
type Publisher interface {
	Publish(event string, payload map[string]any)
}

// Announcer posts a human-readable notice when an alert becomes verified
type Announcer interface {
	AnnounceVerified(alert crisis.Alert)
}

// Metrics records engine outcomes
type Metrics interface {
	ObserveVerification(verificationType crisis.VerificationType, outcome string)
	IncAlertsVerified()
}

// Verification outcomes reported to Metrics
const (
	OutcomeAccepted    = "accepted"
	OutcomeDuplicate   = "duplicate"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
)

// Result is returned for an accepted verification
type Result struct {
	VerificationID           string `json:"verificationId"`
	AlertVerified            bool   `json:"alertVerified"`
	CurrentVerificationCount int    `json:"currentVerificationCount"`
}

// AlertVerifications is the read view of an alert's verifications
type AlertVerifications struct {
	Verifications []crisis.Verification `json:"verifications"`
	Stats         crisis.Counts         `json:"stats"`
	AlertVerified bool                  `json:"alertVerified"`
}

// Deps are the collaborators of an Engine. Announcer and Metrics are optional.
type Deps struct {
	API           *pluginapi.Client
	Verifications VerificationStore
	Alerts        AlertStateStore
	Users         UserTrustStore
	Config        ConfigProvider
	Publisher     Publisher
	Locker        Locker
	Announcer     Announcer
	Metrics       Metrics
}

// Engine reconciles verifications into alert tallies and trust scores.
// Tallies and scores are always recomputed from stored verification records.
type Engine struct {
	api           *pluginapi.Client
	verifications VerificationStore
	alerts        AlertStateStore
	users         UserTrustStore
	config        ConfigProvider
	publisher     Publisher
	locker        Locker
	announcer     Announcer
	metrics       Metrics
	now           func() time.Time
}

// NewEngine creates a reconciliation engine
func NewEngine(deps Deps) *Engine {
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}

	return &Engine{
		api:           deps.API,
		verifications: deps.Verifications,
		alerts:        deps.Alerts,
		users:         deps.Users,
		config:        deps.Config,
		publisher:     deps.Publisher,
		locker:        locker,
		announcer:     deps.Announcer,
		metrics:       deps.Metrics,
		now:           time.Now,
	}
}

// SetClock overrides the engine clock (useful for testing)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SubmitVerification records a voter's judgment on an alert and refreshes the
// derived state. The stored verification record is the durability anchor: if a
// later step fails the error is returned and Recompute can repair the tally.
//
// A crisis.ErrStoreUnavailable returned after the record was stored still means
// the vote counts. Retrying it yields crisis.ErrDuplicateVerification; the tally
// and trust scores catch up on the next submission for the alert or the next sweep.
func (e *Engine) SubmitVerification(ctx context.Context, alertID, voterID string, payload crisis.VerificationPayload) (*Result, error) {
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		e.observe(payload.VerificationType, OutcomeInvalid)
		return nil, err
	}
	if voterID == "" {
		e.observe(payload.VerificationType, OutcomeInvalid)
		return nil, crisis.NewValidationError("voterId", "is required")
	}

	now := e.now()

	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		e.observe(payload.VerificationType, outcomeFor(err))
		return nil, err
	}
	if alert.IsExpired(now) {
		e.observe(payload.VerificationType, OutcomeNotFound)
		return nil, crisis.ErrAlertNotFound
	}

	v := &crisis.Verification{
		VerificationID: crisis.NewID(),
		AlertID:        alertID,
		VoterID:        voterID,
		Type:           payload.VerificationType,
		Confidence:     payload.Confidence,
		AdditionalInfo: payload.AdditionalInfo,
		LocationAtTime: payload.LocationAtTime,
		CreatedAt:      now.UTC(),
	}

	inserted, err := e.verifications.TryInsert(ctx, v)
	if err != nil {
		e.observe(payload.VerificationType, OutcomeUnavailable)
		return nil, err
	}
	if !inserted {
		e.observe(payload.VerificationType, OutcomeDuplicate)
		return nil, crisis.ErrDuplicateVerification
	}

	tally, crossed, err := e.reconcile(ctx, alertID)
	if err != nil {
		e.api.Log.Warn("Verification stored but tally refresh failed",
			"alertId", alertID,
			"verificationId", v.VerificationID,
			"error", err.Error())
		e.observe(payload.VerificationType, outcomeFor(err))
		return nil, err
	}

	if _, err := e.RefreshTrust(ctx, voterID); err != nil {
		e.api.Log.Warn("Verification stored but voter trust refresh failed",
			"alertId", alertID,
			"error", err.Error())
		e.observe(payload.VerificationType, OutcomeUnavailable)
		return nil, err
	}

	// The author is refreshed on every submission to a verified alert, not only on
	// the crossing one, so a failed refresh is repaired by the next vote
	if (tally.Verified || alert.Verification.Verified) && alert.AuthorID != "" && alert.AuthorID != voterID {
		if _, err := e.RefreshTrust(ctx, alert.AuthorID); err != nil {
			e.api.Log.Warn("Verification stored but author trust refresh failed",
				"alertId", alertID,
				"error", err.Error())
			e.observe(payload.VerificationType, OutcomeUnavailable)
			return nil, err
		}
	}

	e.observe(payload.VerificationType, OutcomeAccepted)
	e.notify(alertID, tally)
	if crossed {
		e.announce(*alert, tally)
	}

	e.api.Log.Debug("Verification accepted",
		"alertId", alertID,
		"verificationType", string(v.Type),
		"count", tally.Count,
		"verified", tally.Verified)

	return &Result{
		VerificationID:           v.VerificationID,
		AlertVerified:            tally.Verified,
		CurrentVerificationCount: tally.Count,
	}, nil
}

// Recompute refreshes an alert's tally and its author's trust score from stored
// records without recording anything new. It is idempotent and safe to run at any time.
func (e *Engine) Recompute(ctx context.Context, alertID string) (crisis.Tally, error) {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return crisis.Tally{}, err
	}
	if alert.IsExpired(e.now()) {
		return crisis.Tally{}, crisis.ErrAlertNotFound
	}

	tally, crossed, err := e.reconcile(ctx, alertID)
	if err != nil {
		return crisis.Tally{}, err
	}

	if alert.AuthorID != "" {
		if _, err := e.RefreshTrust(ctx, alert.AuthorID); err != nil {
			return tally, err
		}
	}

	if !tallyEqual(tally, alert.Verification) {
		e.notify(alertID, tally)
	}
	if crossed {
		e.announce(*alert, tally)
	}

	return tally, nil
}

// GetAlertVerifications returns an alert's verifications without voter identity,
// the counts by type and the current verified flag
func (e *Engine) GetAlertVerifications(ctx context.Context, alertID string) (*AlertVerifications, error) {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.IsExpired(e.now()) {
		return nil, crisis.ErrAlertNotFound
	}

	counts, err := e.verifications.CountByType(ctx, alertID)
	if err != nil {
		return nil, err
	}

	list, err := e.verifications.ListByAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	sanitized := make([]crisis.Verification, len(list))
	for i, v := range list {
		sanitized[i] = v.Sanitized()
	}

	return &AlertVerifications{
		Verifications: sanitized,
		Stats:         counts,
		AlertVerified: alert.Verification.Verified,
	}, nil
}

// RefreshTrust recomputes and stores a user's trust score from their history.
// The store skips the write when the score is unchanged.
func (e *Engine) RefreshTrust(ctx context.Context, userID string) (int, error) {
	votes, err := e.verifications.ListByVoter(ctx, userID)
	if err != nil {
		return 0, err
	}

	helpful := 0
	for _, v := range votes {
		if v.Type.IsHelpful() {
			helpful++
		}
	}

	authored, err := e.alerts.ListAuthored(ctx, userID)
	if err != nil {
		return 0, err
	}

	verified := 0
	for _, a := range authored {
		if a.Verification.Verified {
			verified++
		}
	}

	score := ComputeTrustScore(helpful, verified)
	if err := e.users.SetScore(ctx, userID, score); err != nil {
		return 0, err
	}

	return score, nil
}

// reconcile recomputes and stores the tally inside the alert's critical section.
// crossed reports whether this call moved the alert from unverified to verified.
func (e *Engine) reconcile(ctx context.Context, alertID string) (crisis.Tally, bool, error) {
	unlock, err := e.locker.Lock(ctx, "alert_lock_"+alertID)
	if err != nil {
		return crisis.Tally{}, false, crisis.Unavailable("lock alert", err)
	}
	defer unlock()

	counts, err := e.verifications.CountByType(ctx, alertID)
	if err != nil {
		return crisis.Tally{}, false, err
	}

	// Re-read under the lock so verifiedAt is decided against the latest tally
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return crisis.Tally{}, false, err
	}

	tally := NextTally(alert.Verification, counts, e.threshold(), e.sticky(), e.now())
	if err := e.alerts.UpdateTally(ctx, alertID, tally); err != nil {
		return crisis.Tally{}, false, err
	}

	crossed := tally.Verified && !alert.Verification.Verified
	if crossed && e.metrics != nil {
		e.metrics.IncAlertsVerified()
	}

	return tally, crossed, nil
}

func (e *Engine) threshold() int {
	if e.config == nil {
		return crisis.DefaultVerificationThreshold
	}
	if t := e.config.VerificationThreshold(); t > 0 {
		return t
	}
	return crisis.DefaultVerificationThreshold
}

func (e *Engine) sticky() bool {
	if e.config == nil {
		return true
	}
	return e.config.StickyVerification()
}

// notify hands the change to the publisher. It runs after the alert lock is released.
func (e *Engine) notify(alertID string, tally crisis.Tally) {
	if e.publisher == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.api.Log.Error("Notification publisher panicked", "alertId", alertID, "panic", fmt.Sprint(r))
		}
	}()

	e.publisher.Publish(EventAlertVerified, map[string]any{
		"alertId":           alertID,
		"verificationCount": tally.Count,
		"verified":          tally.Verified,
	})
}

func (e *Engine) announce(alert crisis.Alert, tally crisis.Tally) {
	if e.announcer == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.api.Log.Error("Verified alert announcer panicked", "alertId", alert.AlertID, "panic", fmt.Sprint(r))
		}
	}()

	alert.Verification = tally
	e.announcer.AnnounceVerified(alert)
}

func (e *Engine) observe(verificationType crisis.VerificationType, outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveVerification(verificationType, outcome)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, crisis.ErrAlertNotFound):
		return OutcomeNotFound
	case crisis.IsValidationError(err):
		return OutcomeInvalid
	default:
		return OutcomeUnavailable
	}
}

func tallyEqual(a, b crisis.Tally) bool {
	if a.Count != b.Count || a.Verified != b.Verified {
		return false
	}
	if a.VerifiedAt == nil || b.VerifiedAt == nil {
		return a.VerifiedAt == b.VerifiedAt
	}
	return a.VerifiedAt.Equal(*b.VerifiedAt)
}
