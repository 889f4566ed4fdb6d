package hashtag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

func TestGenerate(t *testing.T) {
	t.Run("type, severity and location", func(t *testing.T) {
		alert := crisis.Alert{
			Type:     crisis.AlertTypeInternetShutdown,
			Severity: crisis.SeverityHigh,
			Location: crisis.Location{Address: "Kyiv, Ukraine"},
		}

		assert.Equal(t, "🏷️ #InternetShutdown, #High, #Kyiv, #Ukraine", Generate(alert))
	})

	t.Run("no address", func(t *testing.T) {
		alert := crisis.Alert{Type: crisis.AlertTypeSafeZone, Severity: crisis.SeverityLow}
		assert.Equal(t, "🏷️ #SafeZone, #Low", Generate(alert))
	})

	t.Run("empty alert falls back to a generic tag", func(t *testing.T) {
		assert.Equal(t, "🏷️ #Alert", Generate(crisis.Alert{}))
	})

	t.Run("duplicate tags are removed", func(t *testing.T) {
		alert := crisis.Alert{
			Type:     crisis.AlertTypeOther,
			Severity: crisis.SeverityMedium,
			Location: crisis.Location{Address: "Other, Other"},
		}
		assert.Equal(t, "🏷️ #Other, #Medium", Generate(alert))
	})
}

func TestGenerateSOS(t *testing.T) {
	t.Run("critical sos", func(t *testing.T) {
		sos := crisis.SOS{
			EmergencyType: crisis.EmergencyLifeThreatening,
			Priority:      crisis.PriorityCritical,
			Location:      crisis.Location{Address: "Kharkiv, UA"},
		}
		assert.Equal(t, "🏷️ #SOS, #LifeThreatening, #Critical, #Kharkiv, #Ukraine", GenerateSOS(sos))
	})

	t.Run("high priority sos without address", func(t *testing.T) {
		sos := crisis.SOS{EmergencyType: crisis.EmergencyMedical, Priority: crisis.PriorityHigh}
		assert.Equal(t, "🏷️ #SOS, #MedicalEmergency", GenerateSOS(sos))
	})
}

func TestLabelTag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"checkpoint", "#Checkpoint"},
		{"danger_zone", "#DangerZone"},
		{"arrest_in_progress", "#ArrestInProgress"},
		{"CRITICAL", "#Critical"},
		{"", "#Alert"},
		{"__", "#Alert"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, labelTag(tt.input))
		})
	}
}

func TestExtractLocationTags(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected []string
	}{
		{"city and country", "Kyiv, Ukraine", []string{"#Kyiv", "#Ukraine"}},
		{"country code", "Odesa, UA", []string{"#Odesa", "#Ukraine"}},
		{"street address dropped", "14 Khreshchatyk St, Kyiv, Ukraine", []string{"#Kyiv", "#Ukraine"}},
		{"single country", "Ukraine", []string{"#Ukraine"}},
		{"single place", "Mariupol", []string{"#Mariupol"}},
		{"unknown two letter code dropped", "Mariupol, ZZ", []string{"#Mariupol"}},
		{"hyphenated place", "Ivano-Frankivsk, Ukraine", []string{"#IvanoFrankivsk", "#Ukraine"}},
		{"only numbers", "12345, 678", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractLocationTags(tt.address))
		})
	}
}

func TestDeduplicateTags(t *testing.T) {
	assert.Equal(t, []string{"#Kyiv", "#Ukraine"}, deduplicateTags([]string{"#Kyiv", "#kyiv", "#Ukraine", "#UKRAINE"}))
	assert.Nil(t, deduplicateTags(nil))
}

func TestFormatHashtagText(t *testing.T) {
	assert.Equal(t, "", formatHashtagText(nil))
	assert.Equal(t, "🏷️ #One", formatHashtagText([]string{"#One"}))
	assert.Equal(t, "🏷️ #One, #Two", formatHashtagText([]string{"#One", "#Two"}))
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "NewYork", camelCase("new york"))
	assert.Equal(t, "BosniaAndHerzegovina", camelCase("Bosnia and Herzegovina"))
	assert.Equal(t, "", camelCase("   "))
}
