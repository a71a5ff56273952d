package observability

import "unicode"

// sanitizeField strips control characters and caps the length so attacker
// supplied values cannot inject log lines or bloat entries.
func sanitizeField(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

func sanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeField(route, 180)
}

func sanitizeMethod(method string) string {
	return sanitizeField(method, 10)
}

func sanitizeUserID(uid string) string {
	return sanitizeField(uid, 64)
}
