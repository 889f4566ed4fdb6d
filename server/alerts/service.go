package alerts

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// EventNewAlert is published when an alert is submitted
const EventNewAlert = "new_alert"

// Store persists alerts
type Store interface {
	CreateAlert(ctx context.Context, alert *crisis.Alert) error
	GetAlert(ctx context.Context, alertID string) (*crisis.Alert, error)
	DeleteAlert(ctx context.Context, alert *crisis.Alert) error
	ListAlerts(ctx context.Context) ([]*crisis.Alert, error)
}

// Settings supplies the alert retention and search limits. It is read on every call.
type Settings interface {
	AlertTTL() time.Duration
	MaxAlertRadiusKm() float64
}

// Publisher delivers websocket events. Publish must not block.
type Publisher interface {
	Publish(event string, payload map[string]any)
}

// Announcer posts new alerts to a channel. Optional.
type Announcer interface {
	AnnounceAlert(alert crisis.Alert)
}

// Page is one page of an alert listing
type Page struct {
	Alerts     []crisis.Alert    `json:"alerts"`
	Pagination crisis.Pagination `json:"pagination"`
}

// Service manages the alert lifecycle outside of verification
type Service struct {
	api       *pluginapi.Client
	store     Store
	settings  Settings
	publisher Publisher
	announcer Announcer
	now       func() time.Time
}

// NewService creates an alert service. announcer may be nil.
func NewService(api *pluginapi.Client, store Store, settings Settings, publisher Publisher, announcer Announcer) *Service {
	return &Service{
		api:       api,
		store:     store,
		settings:  settings,
		publisher: publisher,
		announcer: announcer,
		now:       time.Now,
	}
}

// SetClock overrides the service clock (useful for testing)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates and stores a new alert, then announces it
func (s *Service) Create(ctx context.Context, authorID string, req crisis.CreateAlertRequest) (*crisis.Alert, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if authorID == "" {
		return nil, crisis.NewValidationError("authorId", "is required")
	}

	now := s.now().UTC()
	ttl := s.settings.AlertTTL()
	if ttl <= 0 {
		ttl = crisis.DefaultAlertTTL
	}

	alert := &crisis.Alert{
		AlertID:     crisis.NewID(),
		Type:        req.Type,
		Severity:    req.Severity,
		Location:    req.Location,
		Description: req.Description,
		AuthorID:    authorID,
		Visibility:  req.Visibility,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	s.api.Log.Info("Alert created",
		"alertId", alert.AlertID,
		"type", string(alert.Type),
		"severity", string(alert.Severity))

	s.publisher.Publish(EventNewAlert, map[string]any{
		"alertId":   alert.AlertID,
		"type":      string(alert.Type),
		"severity":  string(alert.Severity),
		"latitude":  alert.Location.Latitude,
		"longitude": alert.Location.Longitude,
		"createdAt": alert.CreatedAt.Format(time.RFC3339),
	})
	if s.announcer != nil {
		s.announcer.AnnounceAlert(*alert)
	}

	result := alert.Sanitized()
	return &result, nil
}

// Get returns a live alert without its author
func (s *Service) Get(ctx context.Context, alertID string) (*crisis.Alert, error) {
	if err := crisis.ValidateID("alertId", alertID); err != nil {
		return nil, err
	}

	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.IsExpired(s.now()) {
		return nil, crisis.ErrAlertNotFound
	}

	result := alert.Sanitized()
	return &result, nil
}

// List returns live, listable alerts matching the query, newest first
func (s *Service) List(ctx context.Context, query crisis.AlertQuery) (*Page, error) {
	query.Normalize()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	radius := query.RadiusKm
	if maxRadius := s.maxRadius(); radius > maxRadius {
		radius = maxRadius
	}

	all, err := s.store.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	matched := make([]crisis.Alert, 0, len(all))
	for _, alert := range all {
		if alert.IsExpired(now) || !listable(alert) {
			continue
		}
		if !matchesType(alert.Type, query.Types) {
			continue
		}
		if query.Severity != "" && alert.Severity != query.Severity {
			continue
		}
		if query.HasCenter() && !crisis.WithinRadius(query.Center(), alert.Location, radius) {
			continue
		}
		matched = append(matched, alert.Sanitized())
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, query.Page, query.Limit), nil
}

// Delete removes an alert. Only its author may delete it.
func (s *Service) Delete(ctx context.Context, alertID, userID string) error {
	if err := crisis.ValidateID("alertId", alertID); err != nil {
		return err
	}

	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.IsExpired(s.now()) {
		return crisis.ErrAlertNotFound
	}
	if alert.AuthorID == "" || alert.AuthorID != userID {
		return crisis.ErrForbidden
	}

	if err := s.store.DeleteAlert(ctx, alert); err != nil {
		return err
	}

	s.api.Log.Info("Alert deleted", "alertId", alertID)
	return nil
}

func (s *Service) maxRadius() float64 {
	if r := s.settings.MaxAlertRadiusKm(); r > 0 {
		return r
	}
	return crisis.DefaultMaxSearchRadiusKm
}

// listable reports whether an alert appears in public listings.
// Private alerts are only reachable by ID; verified_only alerts once verified.
func listable(alert *crisis.Alert) bool {
	switch alert.Visibility {
	case crisis.VisibilityPrivate:
		return false
	case crisis.VisibilityVerifiedOnly:
		return alert.Verification.Verified
	default:
		return true
	}
}

func matchesType(t crisis.AlertType, types []crisis.AlertType) bool {
	return len(types) == 0 || slices.Contains(types, t)
}

func paginate(alerts []crisis.Alert, page, limit int) *Page {
	total := len(alerts)
	pages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := min(start+limit, total)

	return &Page{
		Alerts: alerts[start:end],
		Pagination: crisis.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	}
}
