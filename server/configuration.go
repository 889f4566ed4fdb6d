package main

import (
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/sweeper"
)

// Configuration defaults, used when a setting is left empty
const (
	defaultAlertTTLHours        = 24
	defaultSOSTTLHours          = 2
	defaultMaxAlertRadiusKm     = crisis.DefaultMaxSearchRadiusKm
	defaultSOSSearchRadiusKm    = crisis.DefaultSearchRadiusKm
	defaultStoreTimeoutSeconds  = 5
	defaultSweepIntervalSeconds = 300
	defaultBotUsername          = "crisis-alerts"
	defaultBotDisplayName       = "Crisis Alerts"
)

// configuration captures the plugin's external configuration as exposed in the Mattermost server
// configuration, as well as values computed from the configuration. Any public fields will be
// deserialized from the Mattermost server configuration in OnConfigurationChange.
//
// As plugins are inherently concurrent (hooks being called asynchronously), and the plugin
// configuration can change at any time, access to the configuration must be synchronized. The
// strategy used in this plugin is to guard a pointer to the configuration, and clone the entire
// struct whenever it changes.
//
// Zero values mean "use the default". Pointer fields distinguish an unset flag from false.
type configuration struct {
	// VerificationThreshold is the number of confirmations an alert needs to become verified
	VerificationThreshold int `json:"VerificationThreshold"`

	// StickyVerification keeps an alert verified once it crossed the threshold
	StickyVerification *bool `json:"StickyVerification"`

	// AlertTTLHours is the lifetime of an alert (1-168)
	AlertTTLHours int `json:"AlertTTLHours"`

	// SOSTTLHours is the lifetime of an SOS broadcast (1-24)
	SOSTTLHours int `json:"SOSTTLHours"`

	// MaxAlertRadiusKm caps proximity queries over alerts
	MaxAlertRadiusKm int `json:"MaxAlertRadiusKm"`

	// SOSBroadcastRadiusKm is the default radius of nearby SOS queries
	SOSBroadcastRadiusKm int `json:"SOSBroadcastRadiusKm"`

	// AlertsChannelID is the channel new alerts, verified alerts and SOS broadcasts are posted to
	AlertsChannelID string `json:"AlertsChannelID"`

	BotUsername    string `json:"BotUsername"`
	BotDisplayName string `json:"BotDisplayName"`

	// StoreTimeoutSeconds bounds every KV store call
	StoreTimeoutSeconds int `json:"StoreTimeoutSeconds"`

	// SweepIntervalSeconds is the time between repair sweeps (minimum 30)
	SweepIntervalSeconds int `json:"SweepIntervalSeconds"`

	// RateLimitEnabled turns per-user rate limits on
	RateLimitEnabled *bool `json:"RateLimitEnabled"`
}

// Clone creates a deep copy of the configuration
func (c *configuration) Clone() *configuration {
	clone := *c
	clone.StickyVerification = cloneBool(c.StickyVerification)
	clone.RateLimitEnabled = cloneBool(c.RateLimitEnabled)
	return &clone
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// IsValid checks every setting against its allowed range
func (c *configuration) IsValid() error {
	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"VerificationThreshold", c.VerificationThreshold, 1, 100},
		{"AlertTTLHours", c.AlertTTLHours, 1, 168},
		{"SOSTTLHours", c.SOSTTLHours, 1, 24},
		{"MaxAlertRadiusKm", c.MaxAlertRadiusKm, 1, 500},
		{"SOSBroadcastRadiusKm", c.SOSBroadcastRadiusKm, 1, 50},
		{"StoreTimeoutSeconds", c.StoreTimeoutSeconds, 1, 60},
		{"SweepIntervalSeconds", c.SweepIntervalSeconds, int(sweeper.MinInterval / time.Second), 86400},
	}

	for _, check := range checks {
		// Zero means the default applies
		if check.value == 0 {
			continue
		}
		if check.value < check.min || check.value > check.max {
			return errors.Errorf("%s must be between %d and %d, got %d", check.name, check.min, check.max, check.value)
		}
	}

	return nil
}

func (c *configuration) verificationThreshold() int {
	if c.VerificationThreshold <= 0 {
		return crisis.DefaultVerificationThreshold
	}
	return c.VerificationThreshold
}

func (c *configuration) stickyVerification() bool {
	return c.StickyVerification == nil || *c.StickyVerification
}

func (c *configuration) rateLimitEnabled() bool {
	return c.RateLimitEnabled == nil || *c.RateLimitEnabled
}

func (c *configuration) alertTTL() time.Duration {
	return hoursOrDefault(c.AlertTTLHours, defaultAlertTTLHours)
}

func (c *configuration) sosTTL() time.Duration {
	return hoursOrDefault(c.SOSTTLHours, defaultSOSTTLHours)
}

func (c *configuration) maxAlertRadiusKm() float64 {
	return float64(intOrDefault(c.MaxAlertRadiusKm, defaultMaxAlertRadiusKm))
}

func (c *configuration) sosSearchRadiusKm() float64 {
	return float64(intOrDefault(c.SOSBroadcastRadiusKm, defaultSOSSearchRadiusKm))
}

func (c *configuration) storeTimeout() time.Duration {
	return time.Duration(intOrDefault(c.StoreTimeoutSeconds, defaultStoreTimeoutSeconds)) * time.Second
}

func (c *configuration) sweepInterval() time.Duration {
	return time.Duration(intOrDefault(c.SweepIntervalSeconds, defaultSweepIntervalSeconds)) * time.Second
}

func (c *configuration) botUsername() string {
	if c.BotUsername == "" {
		return defaultBotUsername
	}
	return c.BotUsername
}

func (c *configuration) botDisplayName() string {
	if c.BotDisplayName == "" {
		return defaultBotDisplayName
	}
	return c.BotDisplayName
}

func intOrDefault(value, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

func hoursOrDefault(hours, def int) time.Duration {
	return time.Duration(intOrDefault(hours, def)) * time.Hour
}

// getConfiguration retrieves the active configuration under lock, making it safe to use
// concurrently. The active configuration may change underneath the client of this method, but
// the struct returned by this API call is considered immutable.
func (p *Plugin) getConfiguration() *configuration {
	p.configurationLock.RLock()
	defer p.configurationLock.RUnlock()

	if p.configuration == nil {
		return &configuration{}
	}

	return p.configuration
}

// setConfiguration replaces the active configuration under lock.
//
// Do not call setConfiguration while holding the configurationLock, as sync.Mutex is not
// reentrant. In particular, avoid using the plugin API entirely, as this may in turn trigger a
// hook back into the plugin. If that hook attempts to acquire this lock, a deadlock may occur.
//
// This method panics if setConfiguration is called with the existing configuration. This almost
// certainly means that the configuration was modified without being cloned and may result in
// an unsafe access.
func (p *Plugin) setConfiguration(configuration *configuration) {
	p.configurationLock.Lock()
	defer p.configurationLock.Unlock()

	if configuration != nil && p.configuration == configuration {
		// Ignore assignment if the configuration struct is empty. Go will optimize the
		// allocation for same to point at the same memory address, breaking the check
		// above.
		if reflect.ValueOf(*configuration).NumField() == 0 {
			return
		}

		panic("setConfiguration called with the existing configuration")
	}

	p.configuration = configuration
}

// OnConfigurationChange is invoked when configuration changes may have been made.
// Settings read on every request (threshold, TTLs, radii, channel) need no further action;
// the store timeout is pushed to the store client.
func (p *Plugin) OnConfigurationChange() error {
	var newConfig = new(configuration)

	// Load the public configuration fields from the Mattermost server configuration.
	if err := p.API.LoadPluginConfiguration(newConfig); err != nil {
		return errors.Wrap(err, "failed to load plugin configuration")
	}

	if err := newConfig.IsValid(); err != nil {
		return errors.Wrap(err, "invalid plugin configuration")
	}

	p.setConfiguration(newConfig)

	if p.storeClient != nil {
		p.storeClient.SetTimeout(newConfig.storeTimeout())
	}

	return nil
}

// VerificationThreshold returns the configured threshold, read fresh on every call
func (p *Plugin) VerificationThreshold() int {
	return p.getConfiguration().verificationThreshold()
}

// StickyVerification reports whether verified alerts stay verified
func (p *Plugin) StickyVerification() bool {
	return p.getConfiguration().stickyVerification()
}

// AlertTTL returns the lifetime of new alerts
func (p *Plugin) AlertTTL() time.Duration {
	return p.getConfiguration().alertTTL()
}

// MaxAlertRadiusKm caps proximity queries over alerts
func (p *Plugin) MaxAlertRadiusKm() float64 {
	return p.getConfiguration().maxAlertRadiusKm()
}

// SOSTTL returns the lifetime of new SOS broadcasts
func (p *Plugin) SOSTTL() time.Duration {
	return p.getConfiguration().sosTTL()
}

// SOSSearchRadiusKm returns the default radius of nearby SOS queries
func (p *Plugin) SOSSearchRadiusKm() float64 {
	return p.getConfiguration().sosSearchRadiusKm()
}

// publicConfig is the subset of settings exposed to clients
type publicConfig struct {
	VerificationThreshold int                    `json:"verificationThreshold"`
	StickyVerification    bool                   `json:"stickyVerification"`
	AlertTTLHours         float64                `json:"alertTtlHours"`
	SOSTTLHours           float64                `json:"sosTtlHours"`
	MaxAlertRadiusKm      float64                `json:"maxAlertRadiusKm"`
	SOSSearchRadiusKm     float64                `json:"sosSearchRadiusKm"`
	RateLimitEnabled      bool                   `json:"rateLimitEnabled"`
	AlertTypes            []crisis.AlertType     `json:"alertTypes"`
	Severities            []crisis.Severity      `json:"severities"`
	EmergencyTypes        []crisis.EmergencyType `json:"emergencyTypes"`
}

func (c *configuration) public() publicConfig {
	return publicConfig{
		VerificationThreshold: c.verificationThreshold(),
		StickyVerification:    c.stickyVerification(),
		AlertTTLHours:         c.alertTTL().Hours(),
		SOSTTLHours:           c.sosTTL().Hours(),
		MaxAlertRadiusKm:      c.maxAlertRadiusKm(),
		SOSSearchRadiusKm:     c.sosSearchRadiusKm(),
		RateLimitEnabled:      c.rateLimitEnabled(),
		AlertTypes:            crisis.AlertTypes,
		Severities:            crisis.Severities,
		EmergencyTypes:        crisis.EmergencyTypes,
	}
}
