package domain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// CanonicalJSON renders a value as deterministic JSON: object keys are sorted
// and numeric literals are preserved verbatim. Two structurally equal values
// always produce identical bytes, independent of field or map ordering at the
// call site.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ContentHash computes the hex-encoded BLAKE3 digest of a value's canonical
// JSON form. Dimension and mapping configs are deduplicated on this digest.
func ContentHash(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
