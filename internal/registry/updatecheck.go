package registry

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"gridreg/pkg/domain"
)

// cascadeFields are the project config fields whose change invalidates every
// registered dataset submission: changing the referenced dimension or mapping
// sets breaks the referential assumptions earlier submissions validated
// against.
var cascadeFields = map[string]bool{
	"dimensions":         true,
	"dimension_mappings": true,
}

// DiffFields returns the names of top-level config fields whose canonical
// JSON values differ between two documents, in sorted order. Fields present
// in only one document count as changed.
func DiffFields(oldDoc, newDoc any) ([]string, error) {
	oldFields, err := topLevelFields(oldDoc)
	if err != nil {
		return nil, err
	}
	newFields, err := topLevelFields(newDoc)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var changed []string
	for name, oldRaw := range oldFields {
		seen[name] = true
		newRaw, ok := newFields[name]
		if !ok || string(oldRaw) != string(newRaw) {
			changed = append(changed, name)
		}
	}
	for name := range newFields {
		if !seen[name] {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func topLevelFields(doc any) (map[string]json.RawMessage, error) {
	canonical, err := domain.CanonicalJSON(doc)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(canonical, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// CascadesReferences reports whether a changed-field set touches the
// dimension or mapping references and therefore triggers slot invalidation.
func CascadesReferences(fields []string) bool {
	for _, name := range fields {
		if cascadeFields[name] {
			return true
		}
	}
	return false
}

// UpdatePreview is the result of a dry-run update: the changed top-level
// fields, whether the change cascades into dataset slots, and a line diff of
// the canonical documents.
type UpdatePreview struct {
	ChangedFields []string
	Cascades      bool
	Diff          string
}

func previewUpdate(oldDoc, newDoc any) (UpdatePreview, error) {
	fields, err := DiffFields(oldDoc, newDoc)
	if err != nil {
		return UpdatePreview{}, err
	}
	diff, err := renderDiff(oldDoc, newDoc)
	if err != nil {
		return UpdatePreview{}, err
	}
	return UpdatePreview{
		ChangedFields: fields,
		Cascades:      CascadesReferences(fields),
		Diff:          diff,
	}, nil
}

// renderDiff produces a line-oriented diff of the two documents' pretty
// canonical forms, with -/+ prefixes and unchanged lines passed through.
func renderDiff(oldDoc, newDoc any) (string, error) {
	oldText, err := prettyCanonical(oldDoc)
	if err != nil {
		return "", err
	}
	newText, err := prettyCanonical(newDoc)
	if err != nil {
		return "", err
	}
	if oldText == newText {
		return "", nil
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func prettyCanonical(doc any) (string, error) {
	canonical, err := domain.CanonicalJSON(doc)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(canonical, &generic); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty) + "\n", nil
}
