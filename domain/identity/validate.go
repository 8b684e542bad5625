package identity

import "strings"

// ValidateFormat checks if a presented raw key has a plausible format before
// any storage lookup. Returns the lookup prefix and whether the format is
// valid. This is a PURE function.
func ValidateFormat(rawKey, expectedPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, expectedPrefix) {
		return "", false
	}

	// prefix + 64 hex chars
	if len(rawKey) < len(expectedPrefix)+64 {
		return "", false
	}

	if len(rawKey) >= PrefixLen {
		prefix = rawKey[:PrefixLen]
	} else {
		prefix = rawKey
	}
	return prefix, true
}
