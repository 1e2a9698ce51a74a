package registry

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gridreg/pkg/domain"
)

// LoadDimensionRecords reads a dimension record table from a CSV file on the
// local filesystem. Submitters hand the registrar a path; the parsed records
// participate in content hashing and the canonical rendering is copied into
// the version snapshot.
func LoadDimensionRecords(path string) ([]domain.DimensionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()
	records, err := ReadDimensionRecords(f)
	if err != nil {
		return nil, fmt.Errorf("record file %s: %w", path, err)
	}
	return records, nil
}

// ReadDimensionRecords parses a dimension record table. The header row must
// carry id and name columns; every other column becomes a record attribute.
func ReadDimensionRecords(r io.Reader) ([]domain.DimensionRecord, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("record table is empty")
	}
	if err != nil {
		return nil, err
	}
	idCol, nameCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "id":
			idCol = i
		case "name":
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("record table needs id and name columns, got %v", header)
	}
	var records []domain.DimensionRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := domain.DimensionRecord{
			ID:   strings.TrimSpace(row[idCol]),
			Name: strings.TrimSpace(row[nameCol]),
		}
		for i, col := range header {
			if i == idCol || i == nameCol {
				continue
			}
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string)
			}
			rec.Attributes[strings.TrimSpace(col)] = strings.TrimSpace(row[i])
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("record table has a header but no rows")
	}
	return records, nil
}

// RenderDimensionRecords serializes records to the canonical CSV form stored
// inside a snapshot: id and name first, attribute columns sorted.
func RenderDimensionRecords(records []domain.DimensionRecord) ([]byte, error) {
	attrSet := map[string]bool{}
	for _, rec := range records {
		for col := range rec.Attributes {
			attrSet[col] = true
		}
	}
	attrs := make([]string, 0, len(attrSet))
	for col := range attrSet {
		attrs = append(attrs, col)
	}
	sort.Strings(attrs)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"id", "name"}, attrs...)); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{rec.ID, rec.Name}
		for _, col := range attrs {
			row = append(row, rec.Attributes[col])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadMappingRecords reads a mapping record table from a CSV file.
func LoadMappingRecords(path string) ([]domain.MappingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()
	records, err := ReadMappingRecords(f)
	if err != nil {
		return nil, fmt.Errorf("record file %s: %w", path, err)
	}
	return records, nil
}

// ReadMappingRecords parses a mapping record table. The header row must carry
// from_id and to_id columns; an optional from_fraction column carries the
// allocated fraction and defaults to 1 when absent or blank.
func ReadMappingRecords(r io.Reader) ([]domain.MappingRecord, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("record table is empty")
	}
	if err != nil {
		return nil, err
	}
	fromCol, toCol, fracCol := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "from_id":
			fromCol = i
		case "to_id":
			toCol = i
		case "from_fraction":
			fracCol = i
		}
	}
	if fromCol < 0 || toCol < 0 {
		return nil, fmt.Errorf("record table needs from_id and to_id columns, got %v", header)
	}
	var records []domain.MappingRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := domain.MappingRecord{
			FromID: strings.TrimSpace(row[fromCol]),
			ToID:   strings.TrimSpace(row[toCol]),
		}
		if fracCol >= 0 {
			raw := strings.TrimSpace(row[fracCol])
			if raw != "" {
				frac, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return nil, fmt.Errorf("record %s -> %s fraction %q: %w", rec.FromID, rec.ToID, raw, err)
				}
				rec.FromFraction = frac
			}
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("record table has a header but no rows")
	}
	return records, nil
}

// RenderMappingRecords serializes mapping records to the canonical CSV form
// stored inside a snapshot.
func RenderMappingRecords(records []domain.MappingRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"from_id", "to_id", "from_fraction"}); err != nil {
		return nil, err
	}
	for _, rec := range records {
		frac := strconv.FormatFloat(rec.Fraction(), 'g', -1, 64)
		if err := w.Write([]string{rec.FromID, rec.ToID, frac}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
