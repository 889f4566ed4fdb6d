package store

import (
	"context"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const userKeyPrefix = "user_"

func userKey(userID string) string {
	return userKeyPrefix + userID
}

// UserStore persists trust records
type UserStore struct {
	*Client
}

// NewUserStore creates a user store
func NewUserStore(c *Client) *UserStore {
	return &UserStore{Client: c}
}

// GetUser returns the user's trust record, creating it with the default score
// the first time the user is seen. Creation is idempotent under concurrency.
func (s *UserStore) GetUser(ctx context.Context, userID string) (*crisis.User, error) {
	key := userKey(userID)

	var user crisis.User
	_, found, err := s.getJSON(ctx, key, &user)
	if err != nil {
		return nil, err
	}
	if found {
		return &user, nil
	}

	user = crisis.User{
		UserID:     userID,
		TrustScore: crisis.DefaultTrustScore,
		CreatedAt:  s.now().UTC(),
	}
	data, err := marshal(key, &user)
	if err != nil {
		return nil, err
	}

	inserted, err := s.compareAndSet(ctx, key, nil, data, 0)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &user, nil
	}

	// Another caller created it first
	var existing crisis.User
	if _, _, err := s.getJSON(ctx, key, &existing); err != nil {
		return nil, err
	}
	return &existing, nil
}

// SetScore stores a trust score already clamped by the caller
func (s *UserStore) SetScore(ctx context.Context, userID string, score int) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TrustScore == score {
		return nil
	}

	user.TrustScore = score
	key := userKey(userID)
	data, err := marshal(key, user)
	if err != nil {
		return err
	}
	return s.set(ctx, key, data, 0)
}
