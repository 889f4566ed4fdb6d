package main

import (
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/plugin/plugintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/store"
)

func TestConfigurationIsValid(t *testing.T) {
	tests := []struct {
		name    string
		config  configuration
		wantErr string
	}{
		{"empty uses defaults", configuration{}, ""},
		{"all in range", configuration{VerificationThreshold: 5, AlertTTLHours: 48, SOSTTLHours: 6, MaxAlertRadiusKm: 100, SweepIntervalSeconds: 60}, ""},
		{"threshold too high", configuration{VerificationThreshold: 101}, "VerificationThreshold"},
		{"alert ttl over a week", configuration{AlertTTLHours: 169}, "AlertTTLHours"},
		{"sos ttl over a day", configuration{SOSTTLHours: 25}, "SOSTTLHours"},
		{"negative radius", configuration{MaxAlertRadiusKm: -1}, "MaxAlertRadiusKm"},
		{"sweep too frequent", configuration{SweepIntervalSeconds: 5}, "SweepIntervalSeconds"},
		{"store timeout too long", configuration{StoreTimeoutSeconds: 61}, "StoreTimeoutSeconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.IsValid()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigurationDefaults(t *testing.T) {
	c := &configuration{}

	assert.Equal(t, 3, c.verificationThreshold())
	assert.True(t, c.stickyVerification())
	assert.True(t, c.rateLimitEnabled())
	assert.Equal(t, 24*time.Hour, c.alertTTL())
	assert.Equal(t, 2*time.Hour, c.sosTTL())
	assert.Equal(t, 50.0, c.maxAlertRadiusKm())
	assert.Equal(t, 5*time.Second, c.storeTimeout())
	assert.Equal(t, 5*time.Minute, c.sweepInterval())
	assert.Equal(t, "crisis-alerts", c.botUsername())

	off := false
	c = &configuration{StickyVerification: &off, RateLimitEnabled: &off, VerificationThreshold: 7, AlertTTLHours: 1}
	assert.False(t, c.stickyVerification())
	assert.False(t, c.rateLimitEnabled())
	assert.Equal(t, 7, c.verificationThreshold())
	assert.Equal(t, time.Hour, c.alertTTL())
}

func TestConfigurationClone(t *testing.T) {
	on := true
	original := &configuration{VerificationThreshold: 4, StickyVerification: &on}

	clone := original.Clone()
	*clone.StickyVerification = false
	clone.VerificationThreshold = 9

	assert.True(t, *original.StickyVerification)
	assert.Equal(t, 4, original.VerificationThreshold)
}

func TestOnConfigurationChange(t *testing.T) {
	t.Run("valid configuration is applied", func(t *testing.T) {
		api := &plugintest.API{}
		defer api.AssertExpectations(t)

		api.On("LoadPluginConfiguration", mock.AnythingOfType("*main.configuration")).Run(func(args mock.Arguments) {
			c := args.Get(0).(*configuration)
			c.VerificationThreshold = 5
			c.StoreTimeoutSeconds = 2
		}).Return(nil)

		p := &Plugin{}
		p.SetAPI(api)
		client, _ := store.NewMemoryClient()
		p.storeClient = client

		require.NoError(t, p.OnConfigurationChange())
		assert.Equal(t, 5, p.VerificationThreshold())
		assert.Equal(t, 2*time.Second, client.Timeout())
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		api := &plugintest.API{}
		defer api.AssertExpectations(t)

		api.On("LoadPluginConfiguration", mock.AnythingOfType("*main.configuration")).Run(func(args mock.Arguments) {
			args.Get(0).(*configuration).SOSTTLHours = 100
		}).Return(nil)

		p := &Plugin{}
		p.SetAPI(api)

		require.Error(t, p.OnConfigurationChange())
		assert.Equal(t, 2*time.Hour, p.SOSTTL(), "previous configuration stays active")
	})
}
