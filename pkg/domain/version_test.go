package domain

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "1.0.0", want: Version{Major: 1}},
		{in: "2.13.4", want: Version{Major: 2, Minor: 13, Patch: 4}},
		{in: "0.0.0", want: Version{}},
		{in: "1.0", wantErr: true},
		{in: "1.0.0.0", wantErr: true},
		{in: "1.0.-1", wantErr: true},
		{in: "1.0.a", wantErr: true},
		{in: "01.0.0", wantErr: true},
		{in: "1..0", wantErr: true},
		{in: "", wantErr: true},
		{in: "v1.0.0", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseVersion(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseVersion(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVersion(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseVersion(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	ordered := []Version{
		{Major: 1},
		{Major: 1, Patch: 1},
		{Major: 1, Minor: 1},
		{Major: 1, Minor: 1, Patch: 2},
		{Major: 2},
		{Major: 2, Minor: 3, Patch: 1},
		{Major: 10},
	}
	for i, lo := range ordered {
		if lo.Compare(lo) != 0 {
			t.Errorf("%s should compare equal to itself", lo)
		}
		for _, hi := range ordered[i+1:] {
			if !lo.Less(hi) {
				t.Errorf("expected %s < %s", lo, hi)
			}
			if hi.Compare(lo) != 1 {
				t.Errorf("expected %s > %s", hi, lo)
			}
		}
	}
}

func TestVersionBump(t *testing.T) {
	base := Version{Major: 2, Minor: 3, Patch: 4}

	major, err := base.Bump(UpdateTypeMajor)
	if err != nil {
		t.Fatalf("bump major: %v", err)
	}
	if major != (Version{Major: 3}) {
		t.Fatalf("major bump = %s, want 3.0.0", major)
	}

	minor, err := base.Bump(UpdateTypeMinor)
	if err != nil {
		t.Fatalf("bump minor: %v", err)
	}
	if minor != (Version{Major: 2, Minor: 4}) {
		t.Fatalf("minor bump = %s, want 2.4.0", minor)
	}

	patch, err := base.Bump(UpdateTypePatch)
	if err != nil {
		t.Fatalf("bump patch: %v", err)
	}
	if patch != (Version{Major: 2, Minor: 3, Patch: 5}) {
		t.Fatalf("patch bump = %s, want 2.3.5", patch)
	}

	if _, err := base.Bump(UpdateType("rewrite")); err == nil {
		t.Fatalf("expected error for unknown update type")
	}
}

func TestInitialVersion(t *testing.T) {
	if got := InitialVersion(); got.String() != "1.0.0" {
		t.Fatalf("initial version = %s, want 1.0.0", got)
	}
	if InitialVersion().IsZero() {
		t.Fatalf("initial version must not be zero")
	}
	if !(Version{}).IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
}

func TestVersionJSONRoundTrip(t *testing.T) {
	type doc struct {
		Version Version  `json:"version"`
		Pinned  *Version `json:"pinned,omitempty"`
	}
	pinned := Version{Major: 1, Minor: 2, Patch: 3}
	data, err := json.Marshal(doc{Version: Version{Major: 4, Minor: 5, Patch: 6}, Pinned: &pinned})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"version":"4.5.6","pinned":"1.2.3"}`; string(data) != want {
		t.Fatalf("marshal = %s, want %s", data, want)
	}
	var decoded doc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Version != (Version{Major: 4, Minor: 5, Patch: 6}) || decoded.Pinned == nil || *decoded.Pinned != pinned {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"version":"4.5"}`), &decoded); err == nil {
		t.Fatalf("expected error for malformed version string")
	}
}

func TestVersionPropertyBumpAndParse(t *testing.T) {
	updateTypes := []UpdateType{UpdateTypeMajor, UpdateTypeMinor, UpdateTypePatch}
	rapid.Check(t, func(rt *rapid.T) {
		v := Version{
			Major: rapid.IntRange(0, 1000).Draw(rt, "major"),
			Minor: rapid.IntRange(0, 1000).Draw(rt, "minor"),
			Patch: rapid.IntRange(0, 1000).Draw(rt, "patch"),
		}

		parsed, err := ParseVersion(v.String())
		if err != nil {
			rt.Fatalf("parse of %s failed: %v", v, err)
		}
		if parsed != v {
			rt.Fatalf("parse(%s) = %v, want %v", v, parsed, v)
		}

		bumpType := rapid.SampledFrom(updateTypes).Draw(rt, "update_type")
		bumped, err := v.Bump(bumpType)
		if err != nil {
			rt.Fatalf("bump %s: %v", bumpType, err)
		}
		if !v.Less(bumped) {
			rt.Fatalf("bump %s of %s produced non-increasing %s", bumpType, v, bumped)
		}
		if bumpType != UpdateTypePatch && bumped.Patch != 0 {
			rt.Fatalf("bump %s of %s did not reset patch: %s", bumpType, v, bumped)
		}
		if bumpType == UpdateTypeMajor && bumped.Minor != 0 {
			rt.Fatalf("major bump of %s did not reset minor: %s", v, bumped)
		}
	})
}
