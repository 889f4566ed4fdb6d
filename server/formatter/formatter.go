package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// Footer prefix for every attachment
const FooterName = "Crisis Alerts"

// Severity colors
const (
	ColorCritical = "#FF0000" // Red
	ColorHigh     = "#FF9900" // Orange
	ColorMedium   = "#FFFF00" // Yellow
	ColorLow      = "#808080" // Gray
	ColorVerified = "#3DB887" // Green
)

// Severity emojis
const (
	EmojiCritical = "🔴"
	EmojiHigh     = "🟠"
	EmojiMedium   = "🟡"
	EmojiLow      = "⚪"
	EmojiVerified = "✅"
	EmojiSOS      = "🆘"
)

// FormatAlert converts a newly reported alert into a Mattermost SlackAttachment
// colored by severity. The author is never included.
func FormatAlert(alert crisis.Alert) *model.SlackAttachment {
	attachment := &model.SlackAttachment{
		Text:   fmt.Sprintf("#### %s %s", getSeverityEmoji(alert.Severity), typeLabel(string(alert.Type))),
		Color:  getSeverityColor(alert.Severity),
		Footer: fmt.Sprintf("%s | %s", FooterName, alert.Severity),
	}

	fields := []*model.SlackAttachmentField{
		{
			Title: "Reported",
			Value: formatTime(alert.CreatedAt),
			Short: true,
		},
		{
			Title: "Location",
			Value: formatLocation(alert.Location),
			Short: true,
		},
		{
			Title: "Description",
			Value: truncateText(alert.Description, 500),
			Short: false,
		},
		{
			Title: "Expires",
			Value: formatTime(alert.ExpiresAt),
			Short: true,
		},
	}

	if alert.Verification.Verified {
		fields = append(fields, &model.SlackAttachmentField{
			Title: "Verification",
			Value: fmt.Sprintf("%s Verified by the community (net %d)", EmojiVerified, alert.Verification.Count),
			Short: true,
		})
	}

	attachment.Fields = fields
	return attachment
}

// FormatVerified builds the notice posted when an alert crosses into verified.
func FormatVerified(alert crisis.Alert) *model.SlackAttachment {
	verifiedAt := alert.CreatedAt
	if alert.Verification.VerifiedAt != nil {
		verifiedAt = *alert.Verification.VerifiedAt
	}

	return &model.SlackAttachment{
		Text:   fmt.Sprintf("#### %s %s alert verified", EmojiVerified, typeLabel(string(alert.Type))),
		Color:  ColorVerified,
		Footer: fmt.Sprintf("%s | verified", FooterName),
		Fields: []*model.SlackAttachmentField{
			{
				Title: "Verified",
				Value: formatTime(verifiedAt),
				Short: true,
			},
			{
				Title: "Net Confirmations",
				Value: fmt.Sprintf("%d", alert.Verification.Count),
				Short: true,
			},
			{
				Title: "Location",
				Value: formatLocation(alert.Location),
				Short: true,
			},
			{
				Title: "Description",
				Value: truncateText(alert.Description, 200),
				Short: false,
			},
		},
	}
}

// FormatSOS converts an SOS broadcast into a SlackAttachment. Details are only
// listed when present.
func FormatSOS(sos crisis.SOS) *model.SlackAttachment {
	color := ColorHigh
	if sos.Priority == crisis.PriorityCritical {
		color = ColorCritical
	}

	fields := []*model.SlackAttachmentField{
		{
			Title: "Raised",
			Value: formatTime(sos.CreatedAt),
			Short: true,
		},
		{
			Title: "Location",
			Value: formatLocation(sos.Location),
			Short: true,
		},
		{
			Title: "Broadcast Radius",
			Value: fmt.Sprintf("%d km", sos.BroadcastRadiusKm),
			Short: true,
		},
	}

	if sos.Details.NumberOfPeople > 0 {
		fields = append(fields, &model.SlackAttachmentField{
			Title: "People",
			Value: fmt.Sprintf("%d", sos.Details.NumberOfPeople),
			Short: true,
		})
	}

	if sos.Details.ImmediateDanger {
		fields = append(fields, &model.SlackAttachmentField{
			Title: "Immediate Danger",
			Value: "Yes",
			Short: true,
		})
	}

	if len(sos.Details.MedicalNeeds) > 0 {
		fields = append(fields, &model.SlackAttachmentField{
			Title: "Medical Needs",
			Value: formatBulletList(sos.Details.MedicalNeeds),
			Short: false,
		})
	}

	if len(sos.Details.EscapeRoutes) > 0 {
		fields = append(fields, &model.SlackAttachmentField{
			Title: "Escape Routes",
			Value: formatBulletList(sos.Details.EscapeRoutes),
			Short: false,
		})
	}

	return &model.SlackAttachment{
		Text:   fmt.Sprintf("#### %s %s", EmojiSOS, typeLabel(string(sos.EmergencyType))),
		Color:  color,
		Footer: fmt.Sprintf("%s | SOS | %s", FooterName, sos.Priority),
		Fields: fields,
	}
}

// getSeverityColor returns the color code for a severity
func getSeverityColor(severity crisis.Severity) string {
	switch severity {
	case crisis.SeverityCritical:
		return ColorCritical
	case crisis.SeverityHigh:
		return ColorHigh
	case crisis.SeverityMedium:
		return ColorMedium
	default:
		return ColorLow
	}
}

// getSeverityEmoji returns the emoji for a severity
func getSeverityEmoji(severity crisis.Severity) string {
	switch severity {
	case crisis.SeverityCritical:
		return EmojiCritical
	case crisis.SeverityHigh:
		return EmojiHigh
	case crisis.SeverityMedium:
		return EmojiMedium
	default:
		return EmojiLow
	}
}

// typeLabel turns an enum value into a title, e.g. "internet_shutdown" -> "Internet Shutdown"
func typeLabel(value string) string {
	words := strings.Split(value, "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	label := strings.TrimSpace(strings.Join(words, " "))
	if label == "" {
		return "Alert"
	}
	return label
}

// formatTime formats a time.Time to a readable string
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// formatLocation formats a Location to a readable string
func formatLocation(loc crisis.Location) string {
	parts := []string{}

	if loc.Address != "" {
		parts = append(parts, loc.Address)
	}

	parts = append(parts, fmt.Sprintf("(%.6f, %.6f)", loc.Latitude, loc.Longitude))

	if loc.Accuracy > 0 {
		parts = append(parts, fmt.Sprintf("±%.0fm", loc.Accuracy))
	}

	return strings.Join(parts, " ")
}

// formatBulletList formats a slice of strings as a bulleted list
func formatBulletList(items []string) string {
	bullets := make([]string, len(items))
	for i, item := range items {
		bullets[i] = fmt.Sprintf("• %s", item)
	}
	return strings.Join(bullets, "\n")
}

// truncateText truncates text to maxLen runes, adding "..." if truncated
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
