package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const (
	alertKeyPrefix    = "alert_"
	authoredKeyPrefix = "authored_"
)

func alertKey(alertID string) string {
	return alertKeyPrefix + alertID
}

// authoredKey indexes the alerts a user authored
func authoredKey(userID string) string {
	return authoredKeyPrefix + userID
}

// AlertStore persists alerts. Each alert expires from the KV store at its expiresAt.
type AlertStore struct {
	*Client
}

// NewAlertStore creates an alert store
func NewAlertStore(c *Client) *AlertStore {
	return &AlertStore{Client: c}
}

// CreateAlert stores a new alert. The authored index entry is written first.
func (s *AlertStore) CreateAlert(ctx context.Context, alert *crisis.Alert) error {
	key := alertKey(alert.AlertID)
	data, err := marshal(key, alert)
	if err != nil {
		return err
	}

	ttl := s.ttlUntil(alert.ExpiresAt)
	if ttl <= 0 {
		return crisis.NewValidationError("expiresAt", "must be in the future")
	}

	if alert.AuthorID != "" {
		if _, err := s.addToIndex(ctx, authoredKey(alert.AuthorID), alert.AlertID); err != nil {
			return err
		}
	}

	inserted, err := s.compareAndSet(ctx, key, nil, data, ttl)
	if err != nil {
		return err
	}
	if !inserted {
		return crisis.Unavailable("create alert", fmt.Errorf("alert %s already exists", alert.AlertID))
	}

	return nil
}

// GetAlert loads an alert. Returns crisis.ErrAlertNotFound if it does not exist.
// Expiry is not checked here; callers compare expiresAt with their own clock.
func (s *AlertStore) GetAlert(ctx context.Context, alertID string) (*crisis.Alert, error) {
	var alert crisis.Alert
	_, found, err := s.getJSON(ctx, alertKey(alertID), &alert)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, crisis.ErrAlertNotFound
	}
	return &alert, nil
}

// UpdateTally replaces the verification tally of an alert, preserving its remaining TTL.
// Returns crisis.ErrAlertNotFound if the alert is gone or has expired.
func (s *AlertStore) UpdateTally(ctx context.Context, alertID string, tally crisis.Tally) error {
	key := alertKey(alertID)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var alert crisis.Alert
		old, found, err := s.getJSON(ctx, key, &alert)
		if err != nil {
			return err
		}
		if !found {
			return crisis.ErrAlertNotFound
		}

		ttl := s.ttlUntil(alert.ExpiresAt)
		if ttl <= 0 {
			return crisis.ErrAlertNotFound
		}

		alert.Verification = tally
		data, err := marshal(key, &alert)
		if err != nil {
			return err
		}

		if bytes.Equal(old, data) {
			return nil
		}

		ok, err := s.compareAndSet(ctx, key, old, data, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return crisis.Unavailable("update tally", fmt.Errorf("alert %s is contended", alertID))
}

// DeleteAlert removes an alert and its authored index entry
func (s *AlertStore) DeleteAlert(ctx context.Context, alert *crisis.Alert) error {
	if err := s.delete(ctx, alertKey(alert.AlertID)); err != nil {
		return err
	}
	if alert.AuthorID != "" {
		if err := s.removeFromIndex(ctx, authoredKey(alert.AuthorID), alert.AlertID); err != nil {
			return err
		}
	}
	return nil
}

// ListAlerts returns every alert still present in the store, in no particular order
func (s *AlertStore) ListAlerts(ctx context.Context) ([]*crisis.Alert, error) {
	keys, err := s.listKeys(ctx, alertKeyPrefix)
	if err != nil {
		return nil, err
	}

	alerts := make([]*crisis.Alert, 0, len(keys))
	for _, key := range keys {
		alert, err := s.GetAlert(ctx, strings.TrimPrefix(key, alertKeyPrefix))
		if errors.Is(err, crisis.ErrAlertNotFound) {
			// Expired between list and get
			continue
		}
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// ListAuthored returns the alerts authored by a user that are still present.
// Entries of expired alerts are pruned from the index on the way.
func (s *AlertStore) ListAuthored(ctx context.Context, userID string) ([]*crisis.Alert, error) {
	key := authoredKey(userID)
	alertIDs, _, err := s.readIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	alerts := make([]*crisis.Alert, 0, len(alertIDs))
	var gone []string
	for _, alertID := range alertIDs {
		alert, err := s.GetAlert(ctx, alertID)
		if errors.Is(err, crisis.ErrAlertNotFound) {
			gone = append(gone, alertID)
			continue
		}
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if len(gone) > 0 {
		// Pruning is an optimization; a failure leaves entries readers already skip
		_ = s.removeFromIndex(ctx, key, gone...)
	}

	return alerts, nil
}
