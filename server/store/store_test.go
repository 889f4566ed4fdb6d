package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T) (*Client, *MemoryKV, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	c, kv := NewMemoryClient()
	kv.Now = clock.Now
	c.SetClock(clock.Now)
	return c, kv, clock
}

func testAlert(id, author string, now time.Time) *crisis.Alert {
	return &crisis.Alert{
		AlertID:     id,
		Type:        crisis.AlertTypeDangerZone,
		Severity:    crisis.SeverityHigh,
		Location:    crisis.Location{Latitude: 10, Longitude: 20},
		Description: "Shelling reported near the bridge",
		AuthorID:    author,
		Visibility:  crisis.VisibilityPublic,
		CreatedAt:   now,
		ExpiresAt:   now.Add(crisis.DefaultAlertTTL),
	}
}

func TestAlertStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		c, kv, clock := newTestClient(t)
		s := NewAlertStore(c)

		alert := testAlert("a1", "author1", clock.Now())
		require.NoError(t, s.CreateAlert(ctx, alert))
		assert.True(t, kv.Has("authored_author1"))

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, alert.Description, got.Description)
		assert.Equal(t, "author1", got.AuthorID)
	})

	t.Run("get missing alert", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := NewAlertStore(c).GetAlert(ctx, "nope")
		assert.ErrorIs(t, err, crisis.ErrAlertNotFound)
	})

	t.Run("alert disappears at expiry", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewAlertStore(c)
		require.NoError(t, s.CreateAlert(ctx, testAlert("a1", "author1", clock.Now())))

		clock.Advance(crisis.DefaultAlertTTL)

		_, err := s.GetAlert(ctx, "a1")
		assert.ErrorIs(t, err, crisis.ErrAlertNotFound)

		authored, err := s.ListAuthored(ctx, "author1")
		require.NoError(t, err)
		assert.Empty(t, authored)
	})

	t.Run("update tally replaces sub-entity and preserves ttl", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewAlertStore(c)
		require.NoError(t, s.CreateAlert(ctx, testAlert("a1", "author1", clock.Now())))

		clock.Advance(time.Hour)
		verifiedAt := clock.Now()
		tally := crisis.Tally{Count: 3, Verified: true, VerifiedAt: &verifiedAt}
		require.NoError(t, s.UpdateTally(ctx, "a1", tally))

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.Verification.Count)
		assert.True(t, got.Verification.Verified)
		require.NotNil(t, got.Verification.VerifiedAt)
		assert.True(t, verifiedAt.Equal(*got.Verification.VerifiedAt))

		// Still expires at the original instant, not 24h after the update
		clock.Advance(crisis.DefaultAlertTTL - time.Hour)
		_, err = s.GetAlert(ctx, "a1")
		assert.ErrorIs(t, err, crisis.ErrAlertNotFound)
	})

	t.Run("update tally on missing alert", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := NewAlertStore(c).UpdateTally(ctx, "missing", crisis.Tally{Count: 1})
		assert.ErrorIs(t, err, crisis.ErrAlertNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewAlertStore(c)
		a1 := testAlert("a1", "author1", clock.Now())
		require.NoError(t, s.CreateAlert(ctx, a1))
		require.NoError(t, s.CreateAlert(ctx, testAlert("a2", "author2", clock.Now())))

		alerts, err := s.ListAlerts(ctx)
		require.NoError(t, err)
		assert.Len(t, alerts, 2)

		require.NoError(t, s.DeleteAlert(ctx, a1))
		authored, err := s.ListAuthored(ctx, "author1")
		require.NoError(t, err)
		assert.Empty(t, authored)

		alerts, err = s.ListAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, "a2", alerts[0].AlertID)
	})

	t.Run("expired alert cannot be created", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		alert := testAlert("a1", "author1", clock.Now())
		alert.ExpiresAt = clock.Now()
		err := NewAlertStore(c).CreateAlert(ctx, alert)
		assert.True(t, crisis.IsValidationError(err))
	})
}

func TestVerificationStore(t *testing.T) {
	ctx := context.Background()

	newVerification := func(alertID, voterID string, typ crisis.VerificationType, at time.Time) *crisis.Verification {
		return &crisis.Verification{
			VerificationID: crisis.NewID(),
			AlertID:        alertID,
			VoterID:        voterID,
			Type:           typ,
			Confidence:     crisis.ConfidenceMedium,
			CreatedAt:      at,
		}
	}

	t.Run("second insert for same voter is rejected", func(t *testing.T) {
		c, kv, clock := newTestClient(t)
		s := NewVerificationStore(c)

		inserted, err := s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationConfirm, clock.Now()))
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.True(t, kv.Has("vindex_alert_a1"))
		assert.True(t, kv.Has("vindex_voter_u1"))

		inserted, err = s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationDeny, clock.Now()))
		require.NoError(t, err)
		assert.False(t, inserted)

		counts, err := s.CountByType(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, crisis.Counts{Confirmations: 1}, counts)
	})

	t.Run("exactly one concurrent insert wins", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewVerificationStore(c)

		const attempts = 20
		var wg sync.WaitGroup
		results := make(chan bool, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationConfirm, clock.Now()))
				assert.NoError(t, err)
				results <- ok
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for ok := range results {
			if ok {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("counts and lists by alert", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewVerificationStore(c)

		base := clock.Now()
		types := []crisis.VerificationType{
			crisis.VerificationConfirm, crisis.VerificationConfirm, crisis.VerificationDeny, crisis.VerificationUpdate,
		}
		for i, typ := range types {
			_, err := s.TryInsert(ctx, newVerification("a1", fmt.Sprintf("u%d", i), typ, base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		_, err := s.TryInsert(ctx, newVerification("a2", "u0", crisis.VerificationDeny, base))
		require.NoError(t, err)

		counts, err := s.CountByType(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, crisis.Counts{Confirmations: 2, Denials: 1, Updates: 1}, counts)

		list, err := s.ListByAlert(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, list, 4)
		assert.Equal(t, "u3", list[0].VoterID, "newest first")
		assert.Equal(t, "u0", list[3].VoterID)
	})

	t.Run("list by alert is capped", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewVerificationStore(c)
		for i := 0; i < crisis.MaxListedVerifications+5; i++ {
			_, err := s.TryInsert(ctx, newVerification("a1", fmt.Sprintf("u%03d", i), crisis.VerificationConfirm, clock.Now()))
			require.NoError(t, err)
		}

		list, err := s.ListByAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Len(t, list, crisis.MaxListedVerifications)
	})

	t.Run("list by voter and index rebuild", func(t *testing.T) {
		c, kv, clock := newTestClient(t)
		s := NewVerificationStore(c)

		_, err := s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationConfirm, clock.Now()))
		require.NoError(t, err)
		_, err = s.TryInsert(ctx, newVerification("a2", "u1", crisis.VerificationUpdate, clock.Now()))
		require.NoError(t, err)

		// Simulate a lost index document
		require.NoError(t, kv.Delete("vindex_voter_u1"))

		list, err := s.ListByVoter(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, list)

		repair, err := s.RebuildIndexes(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, repair.Entries)
		assert.Equal(t, []string{"u1"}, repair.Voters)

		list, err = s.ListByVoter(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		repair, err = s.RebuildIndexes(ctx)
		require.NoError(t, err)
		assert.Zero(t, repair.Entries)
		assert.Empty(t, repair.Voters)
	})

	t.Run("failed index write stores nothing and retry succeeds", func(t *testing.T) {
		c, kv, clock := newTestClient(t)
		s := NewVerificationStore(c)
		kv.Fail = FailOnce("cas", "vindex_voter_", errors.New("kv down"))

		_, err := s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationConfirm, clock.Now()))
		assert.ErrorIs(t, err, crisis.ErrStoreUnavailable)
		assert.False(t, kv.Has("verification_a1_u1"))

		counts, err := s.CountByType(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, crisis.Counts{}, counts)

		inserted, err := s.TryInsert(ctx, newVerification("a1", "u1", crisis.VerificationConfirm, clock.Now()))
		require.NoError(t, err)
		assert.True(t, inserted)

		list, err := s.ListByVoter(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		voters, err := s.VotersOf(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, voters)
	})

	t.Run("reads follow indexes without listing the keyspace", func(t *testing.T) {
		c, kv, clock := newTestClient(t)
		s := NewVerificationStore(c)
		alerts := NewAlertStore(c)

		for i := 0; i < 500; i++ {
			require.NoError(t, kv.Set(fmt.Sprintf("unrelated_%03d", i), []byte("{}"), 0))
		}
		require.NoError(t, alerts.CreateAlert(ctx, testAlert("a1", "author1", clock.Now())))
		for i := 0; i < 3; i++ {
			_, err := s.TryInsert(ctx, newVerification("a1", fmt.Sprintf("u%d", i), crisis.VerificationConfirm, clock.Now()))
			require.NoError(t, err)
		}

		before := kv.Scanned()

		counts, err := s.CountByType(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Confirmations)

		list, err := s.ListByVoter(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		authored, err := alerts.ListAuthored(ctx, "author1")
		require.NoError(t, err)
		assert.Len(t, authored, 1)

		assert.Equal(t, before, kv.Scanned())
	})
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()

	t.Run("lazily creates with default score", func(t *testing.T) {
		c, kv, _ := newTestClient(t)
		s := NewUserStore(c)

		user, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, crisis.DefaultTrustScore, user.TrustScore)
		assert.True(t, kv.Has("user_u1"))
	})

	t.Run("concurrent first reads create one record", func(t *testing.T) {
		c, kv, _ := newTestClient(t)
		s := NewUserStore(c)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				user, err := s.GetUser(ctx, "u1")
				assert.NoError(t, err)
				assert.Equal(t, crisis.DefaultTrustScore, user.TrustScore)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, kv.Len())
	})

	t.Run("set score", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		s := NewUserStore(c)

		require.NoError(t, s.SetScore(ctx, "u1", 62))
		user, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 62, user.TrustScore)
	})
}

func TestSOSStore(t *testing.T) {
	ctx := context.Background()

	newSOS := func(id string, now time.Time) *crisis.SOS {
		return &crisis.SOS{
			SOSID:             id,
			AuthorID:          "author1",
			EmergencyType:     crisis.EmergencyMedical,
			Status:            crisis.SOSStatusActive,
			Priority:          crisis.PriorityHigh,
			BroadcastRadiusKm: 5,
			CreatedAt:         now,
			UpdatedAt:         now,
			ExpiresAt:         now.Add(crisis.DefaultSOSTTL),
		}
	}

	t.Run("update applies mutation", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewSOSStore(c)
		require.NoError(t, s.CreateSOS(ctx, newSOS("s1", clock.Now())))

		updated, err := s.UpdateSOS(ctx, "s1", func(sos *crisis.SOS) error {
			sos.Status = crisis.SOSStatusResolved
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, crisis.SOSStatusResolved, updated.Status)

		got, err := s.GetSOS(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, crisis.SOSStatusResolved, got.Status)
	})

	t.Run("mutation error aborts update", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewSOSStore(c)
		require.NoError(t, s.CreateSOS(ctx, newSOS("s1", clock.Now())))

		_, err := s.UpdateSOS(ctx, "s1", func(sos *crisis.SOS) error {
			return crisis.ErrForbidden
		})
		assert.ErrorIs(t, err, crisis.ErrForbidden)
	})

	t.Run("concurrent responders are all kept", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewSOSStore(c)
		require.NoError(t, s.CreateSOS(ctx, newSOS("s1", clock.Now())))

		var wg sync.WaitGroup
		var failed sync.Map
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpdateSOS(ctx, "s1", func(sos *crisis.SOS) error {
					sos.Responders = append(sos.Responders, crisis.Responder{UserID: fmt.Sprintf("r%d", i)})
					return nil
				})
				if err != nil {
					failed.Store(i, err)
				}
			}(i)
		}
		wg.Wait()

		got, err := s.GetSOS(ctx, "s1")
		require.NoError(t, err)
		expected := 3
		failed.Range(func(_, v any) bool {
			assert.True(t, errors.Is(v.(error), crisis.ErrStoreUnavailable))
			expected--
			return true
		})
		assert.Len(t, got.Responders, expected)
	})

	t.Run("missing sos", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := NewSOSStore(c).UpdateSOS(ctx, "missing", func(*crisis.SOS) error { return nil })
		assert.ErrorIs(t, err, crisis.ErrSOSNotFound)
	})
}

func TestSweepStateStore(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestClient(t)
	s := NewSweepStateStore(c)

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LastRun.IsZero())

	failures, err := s.RecordFailure(ctx, clock.Now(), errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	failures, err = s.RecordFailure(ctx, clock.Now(), errors.New("boom again"))
	require.NoError(t, err)
	assert.Equal(t, 2, failures)

	status, err = s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "boom again", status.LastError)

	require.NoError(t, s.RecordSuccess(ctx, clock.Now(), SweepCounts{AlertsChecked: 4, IndexEntriesRebuilt: 1, TrustRefreshed: 2}))
	status, err = s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 4, status.AlertsChecked)
	assert.Equal(t, 2, status.TrustRefreshed)
	assert.True(t, clock.Now().Equal(status.LastSuccess))

	require.NoError(t, s.Clear(ctx))
	status, err = s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.AlertsChecked)
}
