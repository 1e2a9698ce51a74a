package registry

import (
	"strings"
	"testing"

	"gridreg/pkg/domain"
)

func TestReadDimensionRecords(t *testing.T) {
	input := "ID,state,Name\n06037,CA,Los Angeles County\n36047, NY ,Kings County\n"
	records, err := ReadDimensionRecords(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "06037" || records[0].Name != "Los Angeles County" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].Attributes["state"] != "NY" {
		t.Fatalf("attribute cells must be trimmed, got %+v", records[1])
	}

	if _, err := ReadDimensionRecords(strings.NewReader("")); err == nil {
		t.Fatalf("expected empty input to fail")
	}
	if _, err := ReadDimensionRecords(strings.NewReader("id,name\n")); err == nil || !strings.Contains(err.Error(), "no rows") {
		t.Fatalf("expected header-only input to fail, got %v", err)
	}
	if _, err := ReadDimensionRecords(strings.NewReader("code,label\nx,y\n")); err == nil || !strings.Contains(err.Error(), "id and name") {
		t.Fatalf("expected missing columns to fail, got %v", err)
	}
}

func TestRenderDimensionRecordsIsCanonical(t *testing.T) {
	records := []domain.DimensionRecord{
		{ID: "06037", Name: "Los Angeles County", Attributes: map[string]string{"timezone": "PST", "state": "CA"}},
		{ID: "36047", Name: "Kings County", Attributes: map[string]string{"state": "NY"}},
	}
	data, err := RenderDimensionRecords(records)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "id,name,state,timezone\n" +
		"06037,Los Angeles County,CA,PST\n" +
		"36047,Kings County,NY,\n"
	if string(data) != want {
		t.Fatalf("unexpected rendering:\n%s", data)
	}
}

func TestReadMappingRecords(t *testing.T) {
	input := "from_id,to_id,from_fraction\n06037,CA,\n36047,NY,0.25\n"
	records, err := ReadMappingRecords(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].FromFraction != 0 || records[0].Fraction() != 1 {
		t.Fatalf("blank fraction must default to 1, got %+v", records[0])
	}
	if records[1].FromFraction != 0.25 {
		t.Fatalf("unexpected fraction %+v", records[1])
	}

	// The fraction column is optional.
	records, err = ReadMappingRecords(strings.NewReader("from_id,to_id\na,b\n"))
	if err != nil || records[0].Fraction() != 1 {
		t.Fatalf("expected fraction-less table to parse, got %+v err=%v", records, err)
	}

	if _, err := ReadMappingRecords(strings.NewReader("from_id,to_id,from_fraction\na,b,lots\n")); err == nil || !strings.Contains(err.Error(), "fraction") {
		t.Fatalf("expected unparsable fraction to fail, got %v", err)
	}
	if _, err := ReadMappingRecords(strings.NewReader("source,target\na,b\n")); err == nil || !strings.Contains(err.Error(), "from_id and to_id") {
		t.Fatalf("expected missing columns to fail, got %v", err)
	}
}

func TestRenderMappingRecords(t *testing.T) {
	records := []domain.MappingRecord{
		{FromID: "06037", ToID: "CA"},
		{FromID: "36047", ToID: "NY", FromFraction: 0.25},
	}
	data, err := RenderMappingRecords(records)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "from_id,to_id,from_fraction\n" +
		"06037,CA,1\n" +
		"36047,NY,0.25\n"
	if string(data) != want {
		t.Fatalf("unexpected rendering:\n%s", data)
	}
}
