package sos

import (
	"context"
	"sort"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// Websocket events published by the SOS service
const (
	EventSOSAlert        = "sos_alert"
	EventSOSResponse     = "sos_response"
	EventSOSStatusUpdate = "sos_status_update"
)

// Store persists SOS broadcasts
type Store interface {
	CreateSOS(ctx context.Context, sos *crisis.SOS) error
	GetSOS(ctx context.Context, sosID string) (*crisis.SOS, error)
	UpdateSOS(ctx context.Context, sosID string, mutate func(*crisis.SOS) error) (*crisis.SOS, error)
	ListSOS(ctx context.Context) ([]*crisis.SOS, error)
}

// Users reads trust scores
type Users interface {
	GetUser(ctx context.Context, userID string) (*crisis.User, error)
}

// Settings supplies SOS retention and search radius. It is read on every call.
type Settings interface {
	SOSTTL() time.Duration
	SOSSearchRadiusKm() float64
}

// Publisher delivers websocket events. Publish must not block.
type Publisher interface {
	Publish(event string, payload map[string]any)
}

// Announcer posts SOS broadcasts to a channel. Optional.
type Announcer interface {
	AnnounceSOS(sos crisis.SOS)
}

// Service manages SOS broadcasts
type Service struct {
	api       *pluginapi.Client
	store     Store
	users     Users
	settings  Settings
	publisher Publisher
	announcer Announcer
	now       func() time.Time
}

// NewService creates an SOS service. announcer may be nil.
func NewService(api *pluginapi.Client, store Store, users Users, settings Settings, publisher Publisher, announcer Announcer) *Service {
	return &Service{
		api:       api,
		store:     store,
		users:     users,
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

// Create raises a new SOS and broadcasts it
func (s *Service) Create(ctx context.Context, authorID string, req crisis.CreateSOSRequest) (*crisis.SOS, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if authorID == "" {
		return nil, crisis.NewValidationError("authorId", "is required")
	}

	now := s.now().UTC()
	ttl := s.settings.SOSTTL()
	if ttl <= 0 {
		ttl = crisis.DefaultSOSTTL
	}

	sos := &crisis.SOS{
		SOSID:             crisis.NewID(),
		AuthorID:          authorID,
		EmergencyType:     req.EmergencyType,
		Location:          req.Location,
		Status:            crisis.SOSStatusActive,
		Priority:          crisis.PriorityFor(req.EmergencyType),
		Details:           req.Details,
		BroadcastRadiusKm: req.BroadcastRadiusKm,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}

	if err := s.store.CreateSOS(ctx, sos); err != nil {
		return nil, err
	}

	s.api.Log.Info("SOS raised",
		"sosId", sos.SOSID,
		"emergencyType", string(sos.EmergencyType),
		"priority", string(sos.Priority))

	s.publisher.Publish(EventSOSAlert, map[string]any{
		"sosId":           sos.SOSID,
		"emergencyType":   string(sos.EmergencyType),
		"priority":        string(sos.Priority),
		"latitude":        sos.Location.Latitude,
		"longitude":       sos.Location.Longitude,
		"broadcastRadius": sos.BroadcastRadiusKm,
		"expiresAt":       sos.ExpiresAt.Format(time.RFC3339),
	})
	if s.announcer != nil {
		s.announcer.AnnounceSOS(*sos)
	}

	result := sos.Sanitized()
	return &result, nil
}

// Nearby returns active SOS broadcasts within the query radius, critical first then newest
func (s *Service) Nearby(ctx context.Context, query crisis.NearbyQuery) ([]crisis.SOS, error) {
	if query.RadiusKm == 0 {
		query.RadiusKm = s.settings.SOSSearchRadiusKm()
	}
	query.Normalize()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	all, err := s.store.ListSOS(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := make([]crisis.SOS, 0, len(all))
	for _, sos := range all {
		if !sos.IsActive(now) {
			continue
		}
		if !crisis.WithinRadius(query.Location, sos.Location, query.RadiusKm) {
			continue
		}
		result = append(result, sos.Sanitized())
	}

	sort.Slice(result, func(i, j int) bool {
		pi, pj := result[i].Priority == crisis.PriorityCritical, result[j].Priority == crisis.PriorityCritical
		if pi != pj {
			return pi
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Respond records a user's response to an active SOS and returns the responder count.
// Each user may respond once.
func (s *Service) Respond(ctx context.Context, sosID, userID string, req crisis.RespondSOSRequest) (int, error) {
	if err := crisis.ValidateID("sosId", sosID); err != nil {
		return 0, err
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, crisis.NewValidationError("userId", "is required")
	}

	now := s.now().UTC()
	updated, err := s.store.UpdateSOS(ctx, sosID, func(sos *crisis.SOS) error {
		if !sos.IsActive(now) {
			return crisis.ErrSOSInactive
		}
		if sos.HasResponder(userID) {
			return crisis.ErrAlreadyResponded
		}
		sos.Responders = append(sos.Responders, crisis.Responder{
			UserID:       userID,
			ResponseType: req.ResponseType,
			Timestamp:    now,
		})
		sos.UpdatedAt = now
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := len(updated.Responders)
	s.publisher.Publish(EventSOSResponse, map[string]any{
		"sosId":          sosID,
		"responseType":   req.ResponseType,
		"responderCount": count,
	})

	return count, nil
}

// UpdateStatus changes the status of an SOS. The author may always do so;
// other users need a trust score of at least crisis.SOSStatusTrustScore.
func (s *Service) UpdateStatus(ctx context.Context, sosID, userID string, req crisis.UpdateSOSStatusRequest) (*crisis.SOS, error) {
	if err := crisis.ValidateID("sosId", sosID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.store.GetSOS(ctx, sosID)
	if err != nil {
		return nil, err
	}

	if current.AuthorID != userID {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user.TrustScore < crisis.SOSStatusTrustScore {
			return nil, crisis.ErrForbidden
		}
	}

	now := s.now().UTC()
	updated, err := s.store.UpdateSOS(ctx, sosID, func(sos *crisis.SOS) error {
		sos.Status = req.Status
		sos.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.api.Log.Info("SOS status updated", "sosId", sosID, "status", string(req.Status))

	s.publisher.Publish(EventSOSStatusUpdate, map[string]any{
		"sosId":  sosID,
		"status": string(req.Status),
	})

	result := updated.Sanitized()
	return &result, nil
}
