package store

import (
	"context"
	"time"
)

const sweepStatusKey = "sweeper_status"

// SweepStatus is the persisted state of the repair sweeper
type SweepStatus struct {
	LastRun             time.Time `json:"lastRun"`
	LastSuccess         time.Time `json:"lastSuccess"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	AlertsChecked       int       `json:"alertsChecked"`
	IndexEntriesRebuilt int       `json:"indexEntriesRebuilt"`
	TrustRefreshed      int       `json:"trustRefreshed"`
}

// SweepCounts is what one successful sweep did
type SweepCounts struct {
	AlertsChecked       int
	IndexEntriesRebuilt int
	TrustRefreshed      int
}

// SweepStateStore tracks sweeper runs in the KV store so that every node in the
// cluster reports the same status
type SweepStateStore struct {
	*Client
}

// NewSweepStateStore creates a sweep state store
func NewSweepStateStore(c *Client) *SweepStateStore {
	return &SweepStateStore{Client: c}
}

// GetStatus returns the stored status, or a zero status if the sweeper never ran
func (s *SweepStateStore) GetStatus(ctx context.Context) (SweepStatus, error) {
	var status SweepStatus
	if _, _, err := s.getJSON(ctx, sweepStatusKey, &status); err != nil {
		return SweepStatus{}, err
	}
	return status, nil
}

// RecordSuccess stores a successful run and resets the failure counter
func (s *SweepStateStore) RecordSuccess(ctx context.Context, at time.Time, counts SweepCounts) error {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}

	status.LastRun = at
	status.LastSuccess = at
	status.ConsecutiveFailures = 0
	status.LastError = ""
	status.AlertsChecked = counts.AlertsChecked
	status.IndexEntriesRebuilt = counts.IndexEntriesRebuilt
	status.TrustRefreshed = counts.TrustRefreshed

	return s.save(ctx, status)
}

// RecordFailure stores a failed run and returns the new consecutive failure count
func (s *SweepStateStore) RecordFailure(ctx context.Context, at time.Time, runErr error) (int, error) {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return 0, err
	}

	status.LastRun = at
	status.ConsecutiveFailures++
	status.LastError = runErr.Error()

	if err := s.save(ctx, status); err != nil {
		return 0, err
	}
	return status.ConsecutiveFailures, nil
}

// Clear removes the stored status
func (s *SweepStateStore) Clear(ctx context.Context) error {
	return s.delete(ctx, sweepStatusKey)
}

func (s *SweepStateStore) save(ctx context.Context, status SweepStatus) error {
	data, err := marshal(sweepStatusKey, status)
	if err != nil {
		return err
	}
	return s.set(ctx, sweepStatusKey, data, 0)
}
