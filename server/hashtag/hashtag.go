package hashtag

import (
	"strings"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// Generate creates formatted hashtag text for an alert.
//
// Order of hashtags:
// 1. Alert type (#Checkpoint, #SafeZone)
// 2. Severity (#Critical)
// 3. Place and country from the address, when one is given
//
// Returns formatted string (e.g., "🏷️ #Checkpoint, #High, #Hebron, #Palestine")
func Generate(alert crisis.Alert) string {
	tags := []string{
		labelTag(string(alert.Type)),
		labelTag(string(alert.Severity)),
	}

	if alert.Location.Address != "" {
		tags = append(tags, extractLocationTags(alert.Location.Address)...)
	}

	return formatHashtagText(deduplicateTags(tags))
}

// GenerateSOS creates formatted hashtag text for an SOS broadcast.
func GenerateSOS(sos crisis.SOS) string {
	tags := []string{"#SOS", labelTag(string(sos.EmergencyType))}

	if sos.Priority == crisis.PriorityCritical {
		tags = append(tags, "#Critical")
	}

	if sos.Location.Address != "" {
		tags = append(tags, extractLocationTags(sos.Location.Address)...)
	}

	return formatHashtagText(deduplicateTags(tags))
}

// labelTag turns an enum value such as "internet_shutdown" into "#InternetShutdown".
// Empty values fall back to "#Alert".
func labelTag(value string) string {
	words := strings.FieldsFunc(value, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(words) == 0 {
		return "#Alert"
	}

	for i, word := range words {
		words[i] = capitalizeFirst(word)
	}
	return "#" + strings.Join(words, "")
}

// deduplicateTags removes duplicate tags (case-insensitive) while preserving order.
func deduplicateTags(tags []string) []string {
	seen := make(map[string]bool)
	var uniqueTags []string

	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		if !seen[tagLower] {
			uniqueTags = append(uniqueTags, tag)
			seen[tagLower] = true
		}
	}

	return uniqueTags
}

// formatHashtagText formats hashtags as comma-separated text with emoji prefix.
func formatHashtagText(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	return "🏷️ " + strings.Join(tags, ", ")
}

// camelCase converts text to CamelCase by capitalizing first letter of each word
// and removing spaces.
func camelCase(text string) string {
	words := strings.Fields(text)
	var result strings.Builder

	for _, word := range words {
		if len(word) > 0 {
			result.WriteString(strings.ToUpper(word[:1]))
			if len(word) > 1 {
				result.WriteString(word[1:])
			}
		}
	}

	return result.String()
}

// capitalizeFirst capitalizes the first letter of a word and lowercases the rest.
func capitalizeFirst(word string) string {
	if len(word) == 0 {
		return ""
	}
	return strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
}
