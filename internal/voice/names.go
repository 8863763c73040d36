package voice

import (
	"strings"
)

// safeName reduces s to characters that are safe in a file name. Anything
// outside [A-Za-z0-9._-] becomes an underscore and leading dots are removed.
func safeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// uploadFileName is the archive name of an upload: "<userId>_<filename>".
func uploadFileName(userID, filename string) string {
	name := safeName(filename)
	if name == "" {
		name = "upload"
	}
	return safeName(userID) + "_" + name
}
