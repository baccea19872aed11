package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Location schemes.
const (
	SchemeLocal  = "local"
	SchemeRemote = "remote"
	SchemeS3     = "s3"

	// schemeFTP is accepted as an alias of SchemeRemote for locations
	// written before the remote scheme was renamed.
	schemeFTP = "ftp"
)

// SchemeOf returns the backend scheme encoded in a location.
// Absolute filesystem paths belong to the local backend.
func SchemeOf(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty location", ErrUnknownScheme)
	}
	if idx := strings.Index(location, "://"); idx > 0 {
		scheme := strings.ToLower(location[:idx])
		if scheme == schemeFTP {
			scheme = SchemeRemote
		}
		return scheme, nil
	}
	if filepath.IsAbs(location) || strings.HasPrefix(location, "/") {
		return SchemeLocal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, location)
}

// UniqueName returns a collision-resistant object name for an upload:
// a random UUID prefix followed by the sanitized original name.
func UniqueName(filename string) string {
	return uuid.NewString() + "_" + SanitizeName(filename)
}

// SanitizeName reduces a client-supplied filename to a safe base name.
func SanitizeName(filename string) string {
	// Clients may send either separator regardless of the server OS.
	name := filename
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
