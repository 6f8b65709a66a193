package central

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// A 0x prefix is stripped, and 128-bit UUIDs built on the Bluetooth SIG base are
// shortened to their 16-bit form. Returns "" when uuid is not a valid UUID.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4, 8:
		if !isHex(s) {
			return ""
		}
		if len(s) == 8 && strings.HasPrefix(s, "0000") {
			return s[4:]
		}
		return s
	}

	parsed, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	compact := strings.ReplaceAll(parsed.String(), "-", "")
	if strings.HasPrefix(compact, "0000") && strings.HasSuffix(compact, sigBaseSuffix) {
		return compact[4:8]
	}
	return compact
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, u := range uuids {
		normalized[i] = NormalizeUUID(u)
	}
	return normalized
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
