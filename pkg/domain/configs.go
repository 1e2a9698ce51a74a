package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DimensionReference names a dimension a config depends on. References come
// in two forms: a bare reference carries only a display name and type and is
// resolved against the registry at registration time; a pinned reference
// carries the registry id and an exact version.
type DimensionReference struct {
	Type    DimensionType `json:"dimension_type"`
	ID      string        `json:"dimension_id,omitempty"`
	Name    string        `json:"name,omitempty"`
	Version *Version      `json:"version,omitempty"`
}

// Pinned reports whether the reference carries an id and exact version.
func (r DimensionReference) Pinned() bool {
	return r.ID != "" && r.Version != nil
}

// Validate checks structural consistency of the reference.
func (r DimensionReference) Validate() error {
	if _, err := ParseDimensionType(string(r.Type)); err != nil {
		return err
	}
	if r.ID == "" && r.Name == "" {
		return fmt.Errorf("dimension reference of type %s names neither an id nor a name", r.Type)
	}
	if r.ID != "" && r.Version == nil {
		return fmt.Errorf("dimension reference %s carries an id but no version", r.ID)
	}
	return nil
}

// DimensionMappingReference names a mapping a project requires between two of
// its dimensions. RequiredForValidation defaults to true when omitted.
type DimensionMappingReference struct {
	FromType              DimensionType `json:"from_dimension_type"`
	ToType                DimensionType `json:"to_dimension_type"`
	ID                    string        `json:"mapping_id,omitempty"`
	Version               *Version      `json:"version,omitempty"`
	RequiredForValidation *bool         `json:"required_for_validation,omitempty"`
}

// Required reports whether dataset submissions must supply this mapping.
func (r DimensionMappingReference) Required() bool {
	return r.RequiredForValidation == nil || *r.RequiredForValidation
}

// Validate checks structural consistency of the mapping reference. From and
// to types may coincide: a mapping most often reconciles two id-spaces of the
// same type, such as a dataset's counties onto a project's states.
func (r DimensionMappingReference) Validate() error {
	if _, err := ParseDimensionType(string(r.FromType)); err != nil {
		return err
	}
	if _, err := ParseDimensionType(string(r.ToType)); err != nil {
		return err
	}
	return nil
}

// DatasetDeclaration names a dataset a project expects to receive.
type DatasetDeclaration struct {
	DatasetID string `json:"dataset_id"`
}

// ProjectDimensions groups a project's base and supplemental dimension
// references. Base dimensions define the project's primary axes; supplemental
// dimensions provide alternate groupings reached through mappings.
type ProjectDimensions struct {
	Base         []DimensionReference `json:"base"`
	Supplemental []DimensionReference `json:"supplemental,omitempty"`
}

// ProjectConfig is the registered configuration of a project.
type ProjectConfig struct {
	ProjectID         string                      `json:"project_id"`
	Name              string                      `json:"name"`
	Description       string                      `json:"description,omitempty"`
	Datasets          []DatasetDeclaration        `json:"datasets"`
	Dimensions        ProjectDimensions           `json:"dimensions"`
	DimensionMappings []DimensionMappingReference `json:"dimension_mappings,omitempty"`
}

// Validate checks the config in isolation: identifier syntax, duplicate
// dataset declarations, and well-formed references. Cross-registry checks
// such as reference resolution happen at registration time.
func (c ProjectConfig) Validate() error {
	if err := CheckIDSyntax(EntityProject, c.ProjectID); err != nil {
		return err
	}
	if c.Name == "" {
		return fmt.Errorf("project %s has no name", c.ProjectID)
	}
	seen := map[string]bool{}
	for _, decl := range c.Datasets {
		if err := CheckIDSyntax(EntityDataset, decl.DatasetID); err != nil {
			return err
		}
		if seen[decl.DatasetID] {
			return fmt.Errorf("project %s declares dataset %s twice", c.ProjectID, decl.DatasetID)
		}
		seen[decl.DatasetID] = true
	}
	baseTypes := map[DimensionType]bool{}
	for _, ref := range c.Dimensions.Base {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("project %s base dimensions: %w", c.ProjectID, err)
		}
		if baseTypes[ref.Type] {
			return fmt.Errorf("project %s declares more than one base dimension of type %s", c.ProjectID, ref.Type)
		}
		baseTypes[ref.Type] = true
	}
	for _, ref := range c.Dimensions.Supplemental {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("project %s supplemental dimensions: %w", c.ProjectID, err)
		}
	}
	for _, ref := range c.DimensionMappings {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("project %s dimension mappings: %w", c.ProjectID, err)
		}
	}
	return nil
}

// DatasetConfig is the registered configuration of a dataset.
type DatasetConfig struct {
	DatasetID   string               `json:"dataset_id"`
	Description string               `json:"description,omitempty"`
	Origin      string               `json:"origin,omitempty"`
	Dimensions  []DimensionReference `json:"dimensions"`
	// TrivialDimensions lists axes with exactly one record, which the dataset
	// omits from its data files. Time is never trivial.
	TrivialDimensions []DimensionType `json:"trivial_dimensions,omitempty"`
	DataFiles         []string        `json:"data_files,omitempty"`
}

// Validate checks the config in isolation.
func (c DatasetConfig) Validate() error {
	if err := CheckIDSyntax(EntityDataset, c.DatasetID); err != nil {
		return err
	}
	seen := map[DimensionType]bool{}
	for _, ref := range c.Dimensions {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("dataset %s dimensions: %w", c.DatasetID, err)
		}
		if seen[ref.Type] {
			return fmt.Errorf("dataset %s references more than one dimension of type %s", c.DatasetID, ref.Type)
		}
		seen[ref.Type] = true
	}
	for _, t := range c.TrivialDimensions {
		if _, err := ParseDimensionType(string(t)); err != nil {
			return err
		}
		if t == DimensionTime {
			return fmt.Errorf("dataset %s marks time as trivial; time dimensions cannot be trivial", c.DatasetID)
		}
		if seen[t] {
			return fmt.Errorf("dataset %s marks %s trivial but also references a %s dimension", c.DatasetID, t, t)
		}
	}
	return nil
}

// DimensionRecord is one row of a dimension's record table. Columns beyond
// id and name are carried as attributes.
type DimensionRecord struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TimeRange bounds a contiguous span covered by a time dimension.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateTimeParams parameterize a timestamp-resolved time dimension.
type DateTimeParams struct {
	Format            string      `json:"str_format"`
	Frequency         string      `json:"frequency"`
	Ranges            []TimeRange `json:"ranges"`
	Timezone          string      `json:"timezone"`
	LeapDayAdjustment string      `json:"leap_day_adjustment,omitempty"`
}

// Validate checks the datetime parameters.
func (p DateTimeParams) Validate() error {
	if p.Format == "" {
		return fmt.Errorf("datetime params have no str_format")
	}
	if _, err := time.ParseDuration(p.Frequency); err != nil {
		return fmt.Errorf("datetime frequency %q: %w", p.Frequency, err)
	}
	if len(p.Ranges) == 0 {
		return fmt.Errorf("datetime params declare no ranges")
	}
	return nil
}

// AnnualParams parameterize a year-resolved time dimension.
type AnnualParams struct {
	Ranges         []TimeRange `json:"ranges"`
	IncludeLeapDay bool        `json:"include_leap_day"`
}

// Validate checks the annual parameters.
func (p AnnualParams) Validate() error {
	if len(p.Ranges) == 0 {
		return fmt.Errorf("annual params declare no ranges")
	}
	return nil
}

// RepresentativePeriodParams parameterize a time dimension expressed as
// repeating representative periods rather than absolute timestamps.
type RepresentativePeriodParams struct {
	Format string      `json:"format"`
	Ranges []TimeRange `json:"ranges,omitempty"`
}

// Validate checks the representative period parameters.
func (p RepresentativePeriodParams) Validate() error {
	if p.Format == "" {
		return fmt.Errorf("representative period params have no format")
	}
	return nil
}

// TimeParams is the discriminated parameter block of a time dimension. The
// wire form carries a time_type tag with the variant's fields inlined.
type TimeParams struct {
	Type           TimeType
	DateTime       *DateTimeParams
	Annual         *AnnualParams
	Representative *RepresentativePeriodParams
}

// Validate checks that exactly the variant named by the tag is populated.
func (p TimeParams) Validate() error {
	switch p.Type {
	case TimeTypeDateTime:
		if p.DateTime == nil {
			return fmt.Errorf("time params tagged %s carry no datetime block", p.Type)
		}
		return p.DateTime.Validate()
	case TimeTypeAnnual:
		if p.Annual == nil {
			return fmt.Errorf("time params tagged %s carry no annual block", p.Type)
		}
		return p.Annual.Validate()
	case TimeTypeRepresentativePeriod:
		if p.Representative == nil {
			return fmt.Errorf("time params tagged %s carry no representative period block", p.Type)
		}
		return p.Representative.Validate()
	case TimeTypeNoOp:
		return nil
	}
	return fmt.Errorf("unknown time type %q", p.Type)
}

// MarshalJSON inlines the active variant's fields next to the time_type tag.
func (p TimeParams) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case TimeTypeDateTime:
		return json.Marshal(struct {
			Type TimeType `json:"time_type"`
			*DateTimeParams
		}{p.Type, p.DateTime})
	case TimeTypeAnnual:
		return json.Marshal(struct {
			Type TimeType `json:"time_type"`
			*AnnualParams
		}{p.Type, p.Annual})
	case TimeTypeRepresentativePeriod:
		return json.Marshal(struct {
			Type TimeType `json:"time_type"`
			*RepresentativePeriodParams
		}{p.Type, p.Representative})
	case TimeTypeNoOp:
		return json.Marshal(struct {
			Type TimeType `json:"time_type"`
		}{p.Type})
	}
	return nil, fmt.Errorf("unknown time type %q", p.Type)
}

// UnmarshalJSON dispatches on the time_type tag to hydrate the matching
// variant.
func (p *TimeParams) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type TimeType `json:"time_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case TimeTypeDateTime:
		var v DateTimeParams
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = TimeParams{Type: tag.Type, DateTime: &v}
	case TimeTypeAnnual:
		var v AnnualParams
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = TimeParams{Type: tag.Type, Annual: &v}
	case TimeTypeRepresentativePeriod:
		var v RepresentativePeriodParams
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = TimeParams{Type: tag.Type, Representative: &v}
	case TimeTypeNoOp:
		*p = TimeParams{Type: tag.Type}
	default:
		return fmt.Errorf("unknown time type %q", tag.Type)
	}
	return nil
}

// DimensionConfig is the registered configuration of a dimension. The id is
// assigned at registration; configs submitted for registration carry a name
// only. Time dimensions carry a parameter block instead of records.
type DimensionConfig struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Type        DimensionType     `json:"type"`
	Description string            `json:"description,omitempty"`
	RecordFile  string            `json:"file,omitempty"`
	Records     []DimensionRecord `json:"records,omitempty"`
	Time        *TimeParams       `json:"time,omitempty"`
}

// Validate checks the config in isolation: name presence, record uniqueness,
// and the time parameter invariant (present exactly when the type is time).
func (c DimensionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("dimension config has no name")
	}
	if _, err := ParseDimensionType(string(c.Type)); err != nil {
		return err
	}
	if c.Type == DimensionTime {
		if c.Time == nil {
			return fmt.Errorf("time dimension %s carries no time params", c.Name)
		}
		if len(c.Records) > 0 {
			return fmt.Errorf("time dimension %s carries records; time dimensions are parameterized", c.Name)
		}
		return c.Time.Validate()
	}
	if c.Time != nil {
		return fmt.Errorf("dimension %s of type %s carries time params", c.Name, c.Type)
	}
	seen := map[string]bool{}
	for _, rec := range c.Records {
		if rec.ID == "" {
			return fmt.Errorf("dimension %s has a record with an empty id", c.Name)
		}
		if seen[rec.ID] {
			return fmt.Errorf("dimension %s has duplicate record id %s", c.Name, rec.ID)
		}
		seen[rec.ID] = true
	}
	return nil
}

// HashPayload returns the portion of the config covered by content hashing:
// everything except the assigned id, so re-registration of identical content
// under a fresh submission hashes identically.
func (c DimensionConfig) HashPayload() DimensionConfig {
	c.ID = ""
	return c
}

// MappingRecord maps one record id of the from-dimension onto a record id of
// the to-dimension, carrying the allocated fraction.
type MappingRecord struct {
	FromID       string  `json:"from_id"`
	ToID         string  `json:"to_id"`
	FromFraction float64 `json:"from_fraction,omitempty"`
}

// Fraction returns the allocation fraction, defaulting to 1 when unset.
func (r MappingRecord) Fraction() float64 {
	if r.FromFraction == 0 {
		return 1
	}
	return r.FromFraction
}

// DimensionMappingConfig is the registered configuration of a dimension
// mapping between two pinned dimensions.
type DimensionMappingConfig struct {
	ID            string             `json:"id,omitempty"`
	Name          string             `json:"name,omitempty"`
	Description   string             `json:"description,omitempty"`
	FromDimension DimensionReference `json:"from_dimension"`
	ToDimension   DimensionReference `json:"to_dimension"`
	RecordFile    string             `json:"file,omitempty"`
	Records       []MappingRecord    `json:"records,omitempty"`
}

// Validate checks the config in isolation. Both endpoints must be valid
// references to distinct dimensions and record fractions must fall in (0, 1].
func (c DimensionMappingConfig) Validate() error {
	if err := c.FromDimension.Validate(); err != nil {
		return fmt.Errorf("mapping from dimension: %w", err)
	}
	if err := c.ToDimension.Validate(); err != nil {
		return fmt.Errorf("mapping to dimension: %w", err)
	}
	if c.FromDimension.ID != "" && c.FromDimension.ID == c.ToDimension.ID {
		return fmt.Errorf("mapping maps dimension %s onto itself", c.FromDimension.ID)
	}
	for _, rec := range c.Records {
		if rec.FromID == "" || rec.ToID == "" {
			return fmt.Errorf("mapping record %q -> %q has an empty endpoint", rec.FromID, rec.ToID)
		}
		if f := rec.Fraction(); f <= 0 || f > 1 {
			return fmt.Errorf("mapping record %s -> %s fraction %v out of range", rec.FromID, rec.ToID, f)
		}
	}
	return nil
}

// DisplayName returns the configured name, falling back to the from/to
// dimension names joined by the id delimiter.
func (c DimensionMappingConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	from := c.FromDimension.Name
	if from == "" {
		from = BaseID(c.FromDimension.ID)
	}
	to := c.ToDimension.Name
	if to == "" {
		to = BaseID(c.ToDimension.ID)
	}
	return from + IDDelimiter + to
}

// HashPayload returns the portion of the config covered by content hashing,
// excluding the assigned id.
func (c DimensionMappingConfig) HashPayload() DimensionMappingConfig {
	c.ID = ""
	return c
}
