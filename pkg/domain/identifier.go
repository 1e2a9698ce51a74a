package domain

import "strings"

// IDDelimiter separates a dimension id's normalized name from the uniquifying
// suffix appended at registration time.
const IDDelimiter = "__"

// MakeID normalizes a display name into a registry identifier: lowercase with
// spaces replaced by underscores. The result is not guaranteed to satisfy
// CheckIDSyntax; callers validate after normalizing.
func MakeID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// BaseID strips the uniquifying suffix from a dimension or mapping id,
// returning the normalized-name portion. IDs without a delimiter are returned
// unchanged.
func BaseID(id string) string {
	if i := strings.Index(id, IDDelimiter); i >= 0 {
		return id[:i]
	}
	return id
}

// CheckIDSyntax validates an identifier for the given entity kind. Project
// and dataset ids permit ASCII letters, digits, and underscores. Dimension
// and mapping ids additionally permit hyphens, which appear in uniquifying
// suffixes. The returned error lists every offending character.
func CheckIDSyntax(kind EntityKind, id string) error {
	if id == "" {
		return ErrInvalidIdentifier{Kind: kind, ID: id, Offending: "empty identifier"}
	}
	allowHyphen := kind == EntityDimension || kind == EntityDimensionMapping
	var bad []rune
	for _, r := range id {
		if isIDRune(r, allowHyphen) {
			continue
		}
		if !containsRune(bad, r) {
			bad = append(bad, r)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	quoted := make([]string, len(bad))
	for i, r := range bad {
		quoted[i] = "'" + string(r) + "'"
	}
	return ErrInvalidIdentifier{Kind: kind, ID: id, Offending: strings.Join(quoted, ", ")}
}

func isIDRune(r rune, allowHyphen bool) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	case r == '-':
		return allowHyphen
	}
	return false
}

func containsRune(rs []rune, r rune) bool {
	for _, have := range rs {
		if have == r {
			return true
		}
	}
	return false
}
