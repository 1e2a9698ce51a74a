package domain

import (
	"strings"
	"testing"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a := map[string]any{"zulu": 1, "alpha": map[string]any{"nested_z": true, "nested_a": false}}
	b := map[string]any{"alpha": map[string]any{"nested_a": false, "nested_z": true}, "zulu": 1}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical forms differ:\n%s\n%s", ca, cb)
	}
	if !strings.HasPrefix(string(ca), `{"alpha"`) {
		t.Fatalf("keys not sorted: %s", ca)
	}
}

func TestCanonicalJSONPreservesLargeNumbers(t *testing.T) {
	doc := map[string]any{"n": int64(9007199254740993)}
	data, err := CanonicalJSON(doc)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !strings.Contains(string(data), "9007199254740993") {
		t.Fatalf("large integer mangled: %s", data)
	}
}

func TestContentHashStability(t *testing.T) {
	cfg := DimensionConfig{
		Name: "counties",
		Type: DimensionGeography,
		Records: []DimensionRecord{
			{ID: "06037", Name: "Los Angeles County"},
			{ID: "08031", Name: "Denver County"},
		},
	}
	first, err := ContentHash(cfg.HashPayload())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("hash %q is not a 256-bit hex digest", first)
	}

	// The assigned id is excluded from the digest.
	cfg.ID = "counties__7a1e"
	second, err := ContentHash(cfg.HashPayload())
	if err != nil {
		t.Fatalf("hash with id: %v", err)
	}
	if first != second {
		t.Fatalf("assigned id changed the content hash")
	}

	cfg.Records[0].Name = "LA County"
	third, err := ContentHash(cfg.HashPayload())
	if err != nil {
		t.Fatalf("hash after edit: %v", err)
	}
	if third == first {
		t.Fatalf("content edit did not change the hash")
	}
}
