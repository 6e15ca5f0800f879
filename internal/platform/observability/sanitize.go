package observability

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Rune bounds for values copied from requests and messages into log fields.
const (
	maxMethodRunes     = 16
	maxRouteRunes      = 180
	maxIdentifierRunes = 64
)

// sanitizeString drops control characters other than whitespace and keeps at most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxIdentifierRunes
	}
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute cleans a chi route pattern or raw path. An empty route logs as "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteRunes)
}

// SanitizeMethod cleans and upper-cases an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, maxMethodRunes))
}

// SanitizeIdentifier bounds ids supplied by callers, such as Pub/Sub message ids or carrier
// order references.
func SanitizeIdentifier(id string) string {
	return sanitizeString(id, maxIdentifierRunes)
}

// IdentifierField is zap.String over SanitizeIdentifier.
func IdentifierField(key, id string) zap.Field {
	return zap.String(key, SanitizeIdentifier(id))
}
