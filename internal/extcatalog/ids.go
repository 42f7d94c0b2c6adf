package extcatalog

import "strings"

// ExtractBaseId returns the portion of id before the first "@", or the
// whole string if id carries no version suffix.
func ExtractBaseId(id string) string {
	if i := strings.Index(id, "@"); i >= 0 {
		return id[:i]
	}
	return id
}

// ExtractVersion returns the portion of id after the first "@", and
// false if id carries no version suffix.
func ExtractVersion(id string) (string, bool) {
	i := strings.Index(id, "@")
	if i < 0 {
		return "", false
	}
	return id[i+1:], true
}

// ToVersionedId strips any existing "@version" suffix from baseId and
// appends the given version.
func ToVersionedId(baseId, version string) string {
	return ExtractBaseId(baseId) + "@" + version
}

// Validate reports whether id is a well-formed base-id or versioned-id:
// non-empty, contains a ".", and if versioned, carries a non-empty
// version.
func Validate(id string) bool {
	if id == "" || !strings.Contains(id, ".") {
		return false
	}
	if version, ok := ExtractVersion(id); ok && version == "" {
		return false
	}
	return true
}
