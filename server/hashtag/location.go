package hashtag

import (
	"strings"
	"unicode"

	"github.com/biter777/countries"
)

// extractLocationTags derives hashtags from a free-text address.
//
// Parts are split on commas and any part containing a digit is dropped
// (street numbers, postcodes). Of what remains:
//   - the last part becomes a country tag when it names a country or an ISO code
//     ("PS" -> #Palestine), otherwise it is used as-is
//   - the first part, when different from the last, becomes a place tag
//
// Examples:
//   - "Hebron, PS" -> #Hebron, #Palestine
//   - "12 Al-Shuhada St, Hebron, Palestine" -> #Hebron, #Palestine
//   - "Khartoum" -> #Khartoum
//   - "Ukraine" -> #Ukraine
func extractLocationTags(address string) []string {
	var parts []string
	for _, part := range strings.Split(address, ",") {
		part = strings.TrimSpace(part)
		if part == "" || containsNumber(part) {
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil
	}

	var tags []string
	last := parts[len(parts)-1]

	if len(parts) > 1 {
		if place := placeTag(parts[0]); place != "" {
			tags = append(tags, place)
		}
	}

	if country := detectCountry(last); country != countries.Unknown {
		tags = append(tags, "#"+camelCase(countryName(country)))
	} else if place := placeTag(last); place != "" && len(last) > 2 {
		tags = append(tags, place)
	}

	return tags
}

// placeTag builds a CamelCase tag from a place name, dropping punctuation.
func placeTag(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return r
		}
		if r == '-' || r == '\'' {
			return ' '
		}
		return -1
	}, name)

	tag := camelCase(cleaned)
	if tag == "" {
		return ""
	}
	return "#" + tag
}

// containsNumber checks if a string contains any digit.
func containsNumber(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// detectCountry identifies a country from a name or an ISO alpha-2/alpha-3 code.
func detectCountry(s string) countries.CountryCode {
	if s == "" {
		return countries.Unknown
	}
	return countries.ByName(s)
}

// countryName returns a short display name, stripping qualifiers such as
// "Palestine, State of" -> "Palestine".
func countryName(country countries.CountryCode) string {
	name := country.String()
	if idx := strings.Index(name, ","); idx > 0 {
		name = name[:idx]
	}
	if idx := strings.Index(name, " ("); idx > 0 {
		name = name[:idx]
	}
	return name
}
