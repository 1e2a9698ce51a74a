package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEntityKindDirName(t *testing.T) {
	cases := map[EntityKind]string{
		EntityProject:          "projects",
		EntityDataset:          "datasets",
		EntityDimension:        "dimensions",
		EntityDimensionMapping: "dimension_mappings",
	}
	for kind, want := range cases {
		if got := kind.DirName(); got != want {
			t.Errorf("%s DirName = %q, want %q", kind, got, want)
		}
	}
	if len(EntityKinds()) != 4 {
		t.Fatalf("expected four entity kinds")
	}
	if _, err := ParseEntityKind("facility"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestProjectStatusAllowsUpdate(t *testing.T) {
	updatable := []ProjectStatus{StatusInitialRegistration, StatusInProgress, StatusComplete}
	for _, s := range updatable {
		if !s.AllowsUpdate() {
			t.Errorf("status %s should allow updates", s)
		}
	}
	for _, s := range []ProjectStatus{StatusPublished, StatusDeprecated} {
		if s.AllowsUpdate() {
			t.Errorf("status %s should be frozen", s)
		}
	}
}

func TestHeaderAppendEnforcesMonotonicity(t *testing.T) {
	now := time.Now().UTC()
	header := Header{ID: "comstock", Kind: EntityDataset}

	if err := header.Append(RegistrationRecord{Version: InitialVersion(), Submitter: "jdoe", Date: now, LogMessage: "initial registration"}); err != nil {
		t.Fatalf("append initial: %v", err)
	}
	if header.Version != InitialVersion() {
		t.Fatalf("header version = %s, want 1.0.0", header.Version)
	}

	if err := header.Append(RegistrationRecord{Version: Version{Major: 1, Minor: 1}, Submitter: "jdoe", Date: now, LogMessage: "add sector"}); err != nil {
		t.Fatalf("append minor: %v", err)
	}
	latest, ok := header.Latest()
	if !ok || latest.LogMessage != "add sector" {
		t.Fatalf("latest = %+v", latest)
	}

	if err := header.Append(RegistrationRecord{Version: InitialVersion()}); err == nil {
		t.Fatalf("expected rejection of non-advancing version")
	}
	if !header.HasVersion(InitialVersion()) || header.HasVersion(Version{Major: 9}) {
		t.Fatalf("HasVersion misreported history")
	}
}

func TestProjectHeaderSlots(t *testing.T) {
	header := ProjectHeader{
		Header: Header{ID: "conus_2022", Kind: EntityProject, Version: InitialVersion()},
		Status: StatusInitialRegistration,
		Datasets: []DatasetSlot{
			{DatasetID: "comstock", Status: SlotUnregistered},
			{DatasetID: "resstock", Status: SlotUnregistered},
		},
	}
	if header.AllRegistered() || header.RegisteredCount() != 0 {
		t.Fatalf("fresh project should have no registered slots")
	}
	if header.Slot("tempo") != nil {
		t.Fatalf("undeclared dataset should have no slot")
	}

	v := InitialVersion()
	slot := header.Slot("comstock")
	if slot == nil {
		t.Fatalf("expected comstock slot")
	}
	slot.Status = SlotRegistered
	slot.Version = &v
	if header.RegisteredCount() != 1 || header.AllRegistered() {
		t.Fatalf("one of two slots registered, got count=%d all=%v", header.RegisteredCount(), header.AllRegistered())
	}

	second := header.Slot("resstock")
	second.Status = SlotRegistered
	second.Version = &v
	if !header.AllRegistered() {
		t.Fatalf("all slots registered but AllRegistered is false")
	}

	header.ResetSlots()
	if header.RegisteredCount() != 0 {
		t.Fatalf("reset left registered slots")
	}
	if header.Datasets[0].Version != nil {
		t.Fatalf("reset left a pinned version")
	}
}

func TestProjectHeaderWithoutDatasetsIsNeverComplete(t *testing.T) {
	header := ProjectHeader{Header: Header{ID: "empty", Kind: EntityProject}}
	if header.AllRegistered() {
		t.Fatalf("project with no declared datasets must not report complete")
	}
}

func TestHeaderJSONShape(t *testing.T) {
	header := ProjectHeader{
		Header: Header{
			ID:      "conus_2022",
			Kind:    EntityProject,
			Version: Version{Major: 1, Minor: 2},
			Registrations: []RegistrationRecord{
				{Version: InitialVersion(), Submitter: "jdoe", Date: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), LogMessage: "initial registration"},
			},
		},
		Status:   StatusInProgress,
		Datasets: []DatasetSlot{{DatasetID: "comstock", Status: SlotUnregistered}},
	}
	data, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"id":"conus_2022"`, `"kind":"project"`, `"version":"1.2.0"`, `"log_message":"initial registration"`, `"status":"in_progress"`, `"dataset_id":"comstock"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("serialized header missing %s: %s", key, data)
		}
	}

	var decoded ProjectHeader
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Version != header.Version || decoded.Status != header.Status {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
