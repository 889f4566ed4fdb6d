package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const missingKeyPrefix = "missing_"

func missingKey(caseID string) string {
	return missingKeyPrefix + caseID
}

// MissingStore persists missing-person cases. Each case expires from the KV
// store at its expiresAt.
type MissingStore struct {
	*Client
}

// NewMissingStore creates a missing-person store
func NewMissingStore(c *Client) *MissingStore {
	return &MissingStore{Client: c}
}

// CreateCase stores a new case
func (s *MissingStore) CreateCase(ctx context.Context, m *crisis.MissingPerson) error {
	key := missingKey(m.CaseID)
	data, err := marshal(key, m)
	if err != nil {
		return err
	}

	ttl := s.ttlUntil(m.ExpiresAt)
	if ttl <= 0 {
		return crisis.NewValidationError("expiresAt", "must be in the future")
	}

	inserted, err := s.compareAndSet(ctx, key, nil, data, ttl)
	if err != nil {
		return err
	}
	if !inserted {
		return crisis.Unavailable("create case", fmt.Errorf("case %s already exists", m.CaseID))
	}
	return nil
}

// GetCase loads a case. Returns crisis.ErrCaseNotFound if it does not exist.
func (s *MissingStore) GetCase(ctx context.Context, caseID string) (*crisis.MissingPerson, error) {
	var m crisis.MissingPerson
	_, found, err := s.getJSON(ctx, missingKey(caseID), &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, crisis.ErrCaseNotFound
	}
	return &m, nil
}

// UpdateCase applies mutate to the stored case with compare-and-set, retrying when
// a concurrent writer got there first. An error from mutate aborts the update and
// is returned unchanged. The remaining TTL is preserved.
func (s *MissingStore) UpdateCase(ctx context.Context, caseID string, mutate func(*crisis.MissingPerson) error) (*crisis.MissingPerson, error) {
	key := missingKey(caseID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var m crisis.MissingPerson
		old, found, err := s.getJSON(ctx, key, &m)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, crisis.ErrCaseNotFound
		}

		ttl := s.ttlUntil(m.ExpiresAt)
		if ttl <= 0 {
			return nil, crisis.ErrCaseNotFound
		}

		if err := mutate(&m); err != nil {
			return nil, err
		}

		data, err := marshal(key, &m)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(old, data) {
			return &m, nil
		}

		ok, err := s.compareAndSet(ctx, key, old, data, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &m, nil
		}
	}

	return nil, crisis.Unavailable("update case", fmt.Errorf("case %s is contended", caseID))
}

// ListCases returns every case still present in the store, in no particular order
func (s *MissingStore) ListCases(ctx context.Context) ([]*crisis.MissingPerson, error) {
	keys, err := s.listKeys(ctx, missingKeyPrefix)
	if err != nil {
		return nil, err
	}

	result := make([]*crisis.MissingPerson, 0, len(keys))
	for _, key := range keys {
		m, err := s.GetCase(ctx, strings.TrimPrefix(key, missingKeyPrefix))
		if errors.Is(err, crisis.ErrCaseNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}

	return result, nil
}
