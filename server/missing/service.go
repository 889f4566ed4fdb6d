package missing

import (
	"context"
	"sort"
	"time"

	"github.com/mattermost/mattermost/server/public/pluginapi"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// Websocket events published by the missing-persons service
const (
	EventCaseOpened  = "missing_person_case"
	EventCaseUpdated = "missing_person_update"
)

// Store persists missing-person cases
type Store interface {
	CreateCase(ctx context.Context, m *crisis.MissingPerson) error
	GetCase(ctx context.Context, caseID string) (*crisis.MissingPerson, error)
	UpdateCase(ctx context.Context, caseID string, mutate func(*crisis.MissingPerson) error) (*crisis.MissingPerson, error)
	ListCases(ctx context.Context) ([]*crisis.MissingPerson, error)
}

// Users reads trust scores
type Users interface {
	GetUser(ctx context.Context, userID string) (*crisis.User, error)
}

// Settings caps proximity queries. It is read on every call.
type Settings interface {
	MaxAlertRadiusKm() float64
}

// Publisher delivers websocket events. Publish must not block.
type Publisher interface {
	Publish(event string, payload map[string]any)
}

// Service manages the missing-persons registry
type Service struct {
	api       *pluginapi.Client
	store     Store
	users     Users
	settings  Settings
	publisher Publisher
	now       func() time.Time
}

// NewService creates a missing-persons service
func NewService(api *pluginapi.Client, store Store, users Users, settings Settings, publisher Publisher) *Service {
	return &Service{
		api:       api,
		store:     store,
		users:     users,
		settings:  settings,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetClock overrides the service clock (useful for testing)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create opens a case with status missing. It stays in the registry for crisis.MissingPersonTTL.
func (s *Service) Create(ctx context.Context, reporterID string, req crisis.CreateMissingPersonRequest) (*crisis.MissingPerson, error) {
	now := s.now().UTC()

	req.Normalize()
	if err := req.Validate(now); err != nil {
		return nil, err
	}
	if reporterID == "" {
		return nil, crisis.NewValidationError("reporterId", "is required")
	}

	m := &crisis.MissingPerson{
		CaseID:         crisis.NewID(),
		ReporterID:     reporterID,
		PersonDetails:  req.PersonDetails,
		LastSeen:       req.LastSeen,
		Status:         crisis.CaseStatusMissing,
		SearchRadiusKm: req.SearchRadiusKm,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(crisis.MissingPersonTTL),
	}
	m.LastSeen.Timestamp = m.LastSeen.Timestamp.UTC()

	if err := s.store.CreateCase(ctx, m); err != nil {
		return nil, err
	}

	s.api.Log.Info("Missing person case opened",
		"caseId", m.CaseID,
		"searchRadius", m.SearchRadiusKm)

	s.publisher.Publish(EventCaseOpened, map[string]any{
		"caseId":       m.CaseID,
		"latitude":     m.LastSeen.Location.Latitude,
		"longitude":    m.LastSeen.Location.Longitude,
		"searchRadius": m.SearchRadiusKm,
	})

	result := m.Sanitized()
	return &result, nil
}

// List returns live cases with the query status, newest first, at most crisis.MaxListedCases.
// A proximity query keeps only cases last seen within the radius.
func (s *Service) List(ctx context.Context, query crisis.MissingQuery) ([]crisis.MissingPerson, error) {
	query.Normalize()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	radius := query.RadiusKm
	if maxRadius := s.maxRadius(); radius > maxRadius {
		radius = maxRadius
	}

	all, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := make([]crisis.MissingPerson, 0, len(all))
	for _, m := range all {
		if m.IsExpired(now) || m.Status != query.Status {
			continue
		}
		if query.HasCenter() && !crisis.WithinRadius(query.Center(), m.LastSeen.Location, radius) {
			continue
		}
		result = append(result, m.Sanitized())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > crisis.MaxListedCases {
		result = result[:crisis.MaxListedCases]
	}

	return result, nil
}

// UpdateStatus changes the status of a case and appends additionalInfo as a public
// update. The reporter may always do so; other users need a trust score of at
// least crisis.MissingCaseTrustScore.
func (s *Service) UpdateStatus(ctx context.Context, caseID, userID string, req crisis.UpdateCaseRequest) (*crisis.MissingPerson, error) {
	if err := crisis.ValidateID("caseId", caseID); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if current.IsExpired(now) {
		return nil, crisis.ErrCaseNotFound
	}

	if current.ReporterID != userID {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user.TrustScore < crisis.MissingCaseTrustScore {
			return nil, crisis.ErrForbidden
		}
	}

	updated, err := s.store.UpdateCase(ctx, caseID, func(m *crisis.MissingPerson) error {
		m.Status = req.Status
		if req.AdditionalInfo != "" {
			m.AddUpdate(req.AdditionalInfo, now)
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.api.Log.Info("Missing person case updated", "caseId", caseID, "status", string(req.Status))

	s.publisher.Publish(EventCaseUpdated, map[string]any{
		"caseId": caseID,
		"status": string(req.Status),
	})

	result := updated.Sanitized()
	return &result, nil
}

func (s *Service) maxRadius() float64 {
	if r := s.settings.MaxAlertRadiusKm(); r > 0 {
		return r
	}
	return crisis.DefaultMaxSearchRadiusKm
}
