// Package identity holds the single policy for comparing account identities.
//
// The chat layer reports the same account in several shapes
// ("447700900001@c.us", "+44 7700 900001", "447700900001:3@s.whatsapp.net"),
// so every comparison goes through Normalize rather than string equality.
// Authorization and exclusion use Same; Match is the looser rule for reading
// the connection's own identity out of a roster.
package identity

import (
	"strings"
)

// MinPhoneDigits is the fewest digits a token needs to be read as a phone
// number.
const MinPhoneDigits = 7

// Normalize returns the digits of id with any "@server" part removed. A
// leading '@' is the mention form and is ignored.
func Normalize(id string) string {
	id = strings.TrimPrefix(id, "@")
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	// Multi-device ids carry a ":device" suffix.
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Same reports whether a and b carry identical, non-empty normalised digits.
func Same(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Match reports whether a and b may refer to the same account: equal
// normalised digits, or one a suffix of the other. It must not gate access.
func Match(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na)
}

// Contains reports whether any member of ids is the same account as id.
func Contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if Same(candidate, id) {
			return true
		}
	}
	return false
}

// UserID converts a phone-like token into the chat layer's user id form.
// It returns "" when the token carries no digits.
func UserID(token string) string {
	digits := Normalize(token)
	if digits == "" {
		return ""
	}
	return digits + "@c.us"
}

// LooksLikePhone reports whether token should be read as a phone number rather
// than a group index or message text. A leading '+' or '@' does not lower the
// bar: "+44" alone is a country code, not an account.
func LooksLikePhone(token string) bool {
	return len(Normalize(token)) >= MinPhoneDigits
}
