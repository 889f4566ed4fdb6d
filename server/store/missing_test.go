package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

func TestMissingStore(t *testing.T) {
	ctx := context.Background()

	newCase := func(id string, now time.Time) *crisis.MissingPerson {
		return &crisis.MissingPerson{
			CaseID:         id,
			ReporterID:     "reporter1",
			PersonDetails:  crisis.PersonDetails{Name: "Amal"},
			LastSeen:       crisis.LastSeen{Location: crisis.Location{Latitude: 31.5, Longitude: 34.46}, Timestamp: now.Add(-time.Hour)},
			Status:         crisis.CaseStatusMissing,
			SearchRadiusKm: crisis.DefaultMissingSearchRadiusKm,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(crisis.MissingPersonTTL),
		}
	}

	t.Run("create, get and list", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewMissingStore(c)
		require.NoError(t, s.CreateCase(ctx, newCase("m1", clock.Now())))
		require.NoError(t, s.CreateCase(ctx, newCase("m2", clock.Now())))

		got, err := s.GetCase(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "Amal", got.PersonDetails.Name)
		assert.Equal(t, "reporter1", got.ReporterID)

		cases, err := s.ListCases(ctx)
		require.NoError(t, err)
		assert.Len(t, cases, 2)
	})

	t.Run("duplicate case id is refused", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewMissingStore(c)
		require.NoError(t, s.CreateCase(ctx, newCase("m1", clock.Now())))

		err := s.CreateCase(ctx, newCase("m1", clock.Now()))
		assert.ErrorIs(t, err, crisis.ErrStoreUnavailable)
	})

	t.Run("update preserves ttl", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewMissingStore(c)
		require.NoError(t, s.CreateCase(ctx, newCase("m1", clock.Now())))

		clock.Advance(24 * time.Hour)
		updated, err := s.UpdateCase(ctx, "m1", func(m *crisis.MissingPerson) error {
			m.Status = crisis.CaseStatusFound
			m.AddUpdate("Reunited with family", clock.Now())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, crisis.CaseStatusFound, updated.Status)
		require.Len(t, updated.Updates, 1)

		clock.Advance(crisis.MissingPersonTTL - 24*time.Hour)
		_, err = s.GetCase(ctx, "m1")
		assert.ErrorIs(t, err, crisis.ErrCaseNotFound)
	})

	t.Run("mutation error aborts update", func(t *testing.T) {
		c, _, clock := newTestClient(t)
		s := NewMissingStore(c)
		require.NoError(t, s.CreateCase(ctx, newCase("m1", clock.Now())))

		_, err := s.UpdateCase(ctx, "m1", func(*crisis.MissingPerson) error {
			return crisis.ErrForbidden
		})
		assert.ErrorIs(t, err, crisis.ErrForbidden)

		got, err := s.GetCase(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, crisis.CaseStatusMissing, got.Status)
	})

	t.Run("missing case", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		s := NewMissingStore(c)

		_, err := s.GetCase(ctx, "nope")
		assert.ErrorIs(t, err, crisis.ErrCaseNotFound)

		_, err = s.UpdateCase(ctx, "nope", func(*crisis.MissingPerson) error { return nil })
		assert.ErrorIs(t, err, crisis.ErrCaseNotFound)
	})
}
