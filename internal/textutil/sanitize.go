package textutil

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// SanitizeToken converts a string to a lowercase filesystem-safe token.
// Letters are lowercased, digits and hyphens/underscores are kept, everything
// else becomes an underscore. Returns "unknown" for empty input.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

// PathToken names artifacts for jobs that target a file path instead of a
// media row: the sanitized base name plus a short digest of the full path,
// so equal base names in different directories do not collide.
func PathToken(path string) string {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	base := strings.TrimSuffix(filepath.Base(cleaned), filepath.Ext(cleaned))
	sum := sha1.Sum([]byte(cleaned))
	token := SanitizeToken(base)
	if len(token) > 48 {
		token = token[:48]
	}
	return token + "-" + hex.EncodeToString(sum[:4])
}
