package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const (
	verificationKeyPrefix = "verification_"
	alertVotersKeyPrefix  = "vindex_alert_"
	voterAlertsKeyPrefix  = "vindex_voter_"
)

// verificationKey is the uniqueness anchor: one record per (alert, voter)
func verificationKey(alertID, voterID string) string {
	return fmt.Sprintf("%s%s_%s", verificationKeyPrefix, alertID, voterID)
}

// alertVotersKey indexes the voters of an alert
func alertVotersKey(alertID string) string {
	return alertVotersKeyPrefix + alertID
}

// voterAlertsKey indexes the alerts a voter verified
func voterAlertsKey(voterID string) string {
	return voterAlertsKeyPrefix + voterID
}

// IndexRepair reports what RebuildIndexes restored
type IndexRepair struct {
	// Entries is the number of index entries written
	Entries int
	// Voters are the voters whose own index gained entries. Their trust scores
	// were computed from an incomplete history.
	Voters []string
}

// VerificationStore persists verification records. Records never expire.
type VerificationStore struct {
	*Client
}

// NewVerificationStore creates a verification store
func NewVerificationStore(c *Client) *VerificationStore {
	return &VerificationStore{Client: c}
}

// TryInsert atomically stores v unless the voter already verified the alert.
// Exactly one of any number of concurrent callers for the same pair gets true.
// Both index documents are updated before the record is written, so a failure
// leaves nothing counted and the caller may simply retry.
func (s *VerificationStore) TryInsert(ctx context.Context, v *crisis.Verification) (bool, error) {
	key := verificationKey(v.AlertID, v.VoterID)
	data, err := marshal(key, v)
	if err != nil {
		return false, err
	}

	if _, err := s.addToIndex(ctx, alertVotersKey(v.AlertID), v.VoterID); err != nil {
		return false, err
	}
	if _, err := s.addToIndex(ctx, voterAlertsKey(v.VoterID), v.AlertID); err != nil {
		return false, err
	}

	return s.compareAndSet(ctx, key, nil, data, 0)
}

// CountByType counts every stored verification of an alert by type
func (s *VerificationStore) CountByType(ctx context.Context, alertID string) (crisis.Counts, error) {
	verifications, err := s.listForAlert(ctx, alertID)
	if err != nil {
		return crisis.Counts{}, err
	}
	return crisis.CountVerifications(verifications), nil
}

// ListByAlert returns the newest verifications of an alert, at most crisis.MaxListedVerifications
func (s *VerificationStore) ListByAlert(ctx context.Context, alertID string) ([]crisis.Verification, error) {
	verifications, err := s.listForAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	sortNewestFirst(verifications)
	if len(verifications) > crisis.MaxListedVerifications {
		verifications = verifications[:crisis.MaxListedVerifications]
	}
	return verifications, nil
}

// ListByVoter returns every verification submitted by a voter
func (s *VerificationStore) ListByVoter(ctx context.Context, voterID string) ([]crisis.Verification, error) {
	alertIDs, _, err := s.readIndex(ctx, voterAlertsKey(voterID))
	if err != nil {
		return nil, err
	}

	verifications := make([]crisis.Verification, 0, len(alertIDs))
	for _, alertID := range alertIDs {
		v, err := s.getVerification(ctx, alertID, voterID)
		if err != nil {
			return nil, err
		}
		if v != nil {
			verifications = append(verifications, *v)
		}
	}

	return verifications, nil
}

// VotersOf returns the voters indexed for an alert. It may include a voter whose
// insert failed after the index write.
func (s *VerificationStore) VotersOf(ctx context.Context, alertID string) ([]string, error) {
	voters, _, err := s.readIndex(ctx, alertVotersKey(alertID))
	return voters, err
}

// RebuildIndexes re-derives missing index entries from the primary records.
// It lists the whole verification keyspace and is meant for the repair sweep only.
func (s *VerificationStore) RebuildIndexes(ctx context.Context) (IndexRepair, error) {
	keys, err := s.listKeys(ctx, verificationKeyPrefix)
	if err != nil {
		return IndexRepair{}, err
	}

	byAlert := make(map[string][]string)
	byVoter := make(map[string][]string)
	for _, key := range keys {
		var v crisis.Verification
		_, found, err := s.getJSON(ctx, key, &v)
		if err != nil {
			return IndexRepair{}, err
		}
		if !found {
			continue
		}
		byAlert[v.AlertID] = append(byAlert[v.AlertID], v.VoterID)
		byVoter[v.VoterID] = append(byVoter[v.VoterID], v.AlertID)
	}

	var repair IndexRepair
	for alertID, voters := range byAlert {
		added, err := s.addToIndex(ctx, alertVotersKey(alertID), voters...)
		if err != nil {
			return repair, err
		}
		repair.Entries += len(added)
	}
	for voterID, alertIDs := range byVoter {
		added, err := s.addToIndex(ctx, voterAlertsKey(voterID), alertIDs...)
		if err != nil {
			return repair, err
		}
		if len(added) > 0 {
			repair.Entries += len(added)
			repair.Voters = append(repair.Voters, voterID)
		}
	}
	sort.Strings(repair.Voters)

	return repair, nil
}

func (s *VerificationStore) listForAlert(ctx context.Context, alertID string) ([]crisis.Verification, error) {
	voters, _, err := s.readIndex(ctx, alertVotersKey(alertID))
	if err != nil {
		return nil, err
	}

	verifications := make([]crisis.Verification, 0, len(voters))
	for _, voterID := range voters {
		v, err := s.getVerification(ctx, alertID, voterID)
		if err != nil {
			return nil, err
		}
		if v != nil {
			verifications = append(verifications, *v)
		}
	}

	return verifications, nil
}

// getVerification loads one record, or nil when the index names a record that was never written
func (s *VerificationStore) getVerification(ctx context.Context, alertID, voterID string) (*crisis.Verification, error) {
	var v crisis.Verification
	_, found, err := s.getJSON(ctx, verificationKey(alertID, voterID), &v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}

func sortNewestFirst(verifications []crisis.Verification) {
	sort.SliceStable(verifications, func(i, j int) bool {
		return verifications[i].CreatedAt.After(verifications[j].CreatedAt)
	})
}
