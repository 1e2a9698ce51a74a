package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a three-component semantic version. Registry snapshots are
// addressed by the exact string form "major.minor.patch".
type Version struct {
	Major int
	Minor int
	Patch int
}

// InitialVersion is assigned to every newly registered entity.
func InitialVersion() Version {
	return Version{Major: 1}
}

// ParseVersion parses the "major.minor.patch" form. All three components are
// required and must be non-negative integers without signs or padding beyond
// a bare zero.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		if part == "" || (len(part) > 1 && part[0] == '0') {
			return Version{}, fmt.Errorf("invalid version %q: component %q", s, part)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: component %q", s, part)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String renders the canonical "major.minor.patch" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero reports whether the version is the zero value, which is never a
// valid registered version.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0, or 1 ordering v against other component-wise.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return compareInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return compareInt(v.Minor, other.Minor)
	}
	return compareInt(v.Patch, other.Patch)
}

// Less reports whether v orders strictly before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Bump returns the successor version for the given update type. A major bump
// resets minor and patch; a minor bump resets patch.
func (v Version) Bump(t UpdateType) (Version, error) {
	switch t {
	case UpdateTypeMajor:
		return Version{Major: v.Major + 1}, nil
	case UpdateTypeMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}, nil
	case UpdateTypePatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}, nil
	}
	return Version{}, fmt.Errorf("unknown update type %q", t)
}

// MarshalText implements encoding.TextMarshaler so versions serialize as
// plain strings in JSON documents and directory names.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
