package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorMessagesCarryContext(t *testing.T) {
	v := Version{Major: 1, Minor: 2}
	cases := []struct {
		err  error
		want []string
	}{
		{ErrNotFound{Entity: EntityDataset, ID: "comstock"}, []string{"dataset", "comstock", "not found"}},
		{ErrNotFound{Entity: EntityDimension, ID: "counties__1a", Version: &v}, []string{"1.2.0"}},
		{ErrAlreadyExists{Entity: EntityProject, ID: "conus_2022"}, []string{"conus_2022", "already registered"}},
		{ErrAlreadyExists{Entity: EntityDataset, ID: "comstock", Version: &v}, []string{"comstock", "1.2.0", "already registered"}},
		{ErrAlreadyRegistered{Entity: EntityDimension, ID: "counties__1a", Name: "counties"}, []string{"counties", "different content", "upgrade"}},
		{ErrDuplicateInBatch{Entity: EntityDimension, Name: "counties"}, []string{"duplicate", "counties"}},
		{ErrDuplicateLogMessage{Entity: EntityDimension, ID: "counties__1a", LogMessage: "fix"}, []string{"log message", `"fix"`}},
		{ErrAmbiguousName{Entity: EntityDimension, Name: "counties", Matches: []string{"a", "b"}}, []string{"counties", "2"}},
		{ErrAlreadySubmitted{ProjectID: "conus_2022", DatasetID: "comstock"}, []string{"comstock", "conus_2022", "already submitted"}},
		{ErrDatasetNotExpected{ProjectID: "conus_2022", DatasetID: "tempo"}, []string{"tempo", "does not declare"}},
		{ErrMissingRequiredMapping{ProjectID: "conus_2022", DatasetID: "comstock", FromType: DimensionGeography, ToType: DimensionSector}, []string{"geography", "sector", "required"}},
		{ErrUnsupportedLockKind{Path: "data/.locks/x.lock"}, []string{"data/.locks/x.lock", "not supported"}},
		{ErrInvalidRegistryState{Path: "/tmp/reg", Reason: "missing header"}, []string{"/tmp/reg", "missing header"}},
		{ErrInvalidRegistryState{Reason: "project conus_2022 is published and frozen"}, []string{"conus_2022", "published"}},
		{ErrInvalidOperation{Operation: "update_project", Reason: "a log message is required"}, []string{"update_project", "log message"}},
	}
	for _, tc := range cases {
		msg := tc.err.Error()
		for _, want := range tc.want {
			if !strings.Contains(msg, want) {
				t.Errorf("%T message %q missing %q", tc.err, msg, want)
			}
		}
	}
}

func TestErrLockContendedNamesHolder(t *testing.T) {
	acquired := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	err := ErrLockContended{Name: "conus_2022.lock", Holder: "jdoe", AcquiredAt: acquired}
	msg := err.Error()
	if !strings.Contains(msg, "jdoe") || !strings.Contains(msg, "2024-06-01T09:30:00Z") {
		t.Fatalf("contended message %q should name holder and acquisition time", msg)
	}
}

func TestTypedErrorsUnwrapThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("register dataset: %w", ErrAlreadyExists{Entity: EntityDataset, ID: "comstock"})
	var exists ErrAlreadyExists
	if !asError(wrapped, &exists) {
		t.Fatalf("errors.As failed through wrapping")
	}
	if exists.ID != "comstock" {
		t.Fatalf("unwrapped payload lost: %+v", exists)
	}
}
