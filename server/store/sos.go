package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const sosKeyPrefix = "sos_"

func sosKey(sosID string) string {
	return sosKeyPrefix + sosID
}

// SOSStore persists SOS broadcasts. Each SOS expires from the KV store at its expiresAt.
type SOSStore struct {
	*Client
}

// NewSOSStore creates an SOS store
func NewSOSStore(c *Client) *SOSStore {
	return &SOSStore{Client: c}
}

// CreateSOS stores a new SOS
func (s *SOSStore) CreateSOS(ctx context.Context, sos *crisis.SOS) error {
	key := sosKey(sos.SOSID)
	data, err := marshal(key, sos)
	if err != nil {
		return err
	}

	ttl := s.ttlUntil(sos.ExpiresAt)
	if ttl <= 0 {
		return crisis.NewValidationError("expiresAt", "must be in the future")
	}

	inserted, err := s.compareAndSet(ctx, key, nil, data, ttl)
	if err != nil {
		return err
	}
	if !inserted {
		return crisis.Unavailable("create sos", fmt.Errorf("sos %s already exists", sos.SOSID))
	}
	return nil
}

// GetSOS loads an SOS. Returns crisis.ErrSOSNotFound if it does not exist.
func (s *SOSStore) GetSOS(ctx context.Context, sosID string) (*crisis.SOS, error) {
	var sos crisis.SOS
	_, found, err := s.getJSON(ctx, sosKey(sosID), &sos)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, crisis.ErrSOSNotFound
	}
	return &sos, nil
}

// UpdateSOS applies mutate to the stored SOS with compare-and-set, retrying when a
// concurrent writer got there first. An error from mutate aborts the update and is
// returned unchanged. The remaining TTL is preserved.
func (s *SOSStore) UpdateSOS(ctx context.Context, sosID string, mutate func(*crisis.SOS) error) (*crisis.SOS, error) {
	key := sosKey(sosID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var sos crisis.SOS
		old, found, err := s.getJSON(ctx, key, &sos)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, crisis.ErrSOSNotFound
		}

		ttl := s.ttlUntil(sos.ExpiresAt)
		if ttl <= 0 {
			return nil, crisis.ErrSOSNotFound
		}

		if err := mutate(&sos); err != nil {
			return nil, err
		}

		data, err := marshal(key, &sos)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(old, data) {
			return &sos, nil
		}

		ok, err := s.compareAndSet(ctx, key, old, data, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &sos, nil
		}
	}

	return nil, crisis.Unavailable("update sos", fmt.Errorf("sos %s is contended", sosID))
}

// ListSOS returns every SOS still present in the store, in no particular order
func (s *SOSStore) ListSOS(ctx context.Context) ([]*crisis.SOS, error) {
	keys, err := s.listKeys(ctx, sosKeyPrefix)
	if err != nil {
		return nil, err
	}

	result := make([]*crisis.SOS, 0, len(keys))
	for _, key := range keys {
		sos, err := s.GetSOS(ctx, strings.TrimPrefix(key, sosKeyPrefix))
		if errors.Is(err, crisis.ErrSOSNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, sos)
	}

	return result, nil
}
