// Package dataset holds the typed tabular inputs consumed by the explanation pipeline.
// A Schema binds feature names to the kind of value each column carries; Instances and
// Datasets are read-only once built and are validated against a Schema at the model
// boundary.
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyDataset is returned when an operation needs at least one instance.
var ErrEmptyDataset = errors.New("dataset is empty")

// Kind describes the type of value a feature column holds.
type Kind string

const (
	Numeric     Kind = "numeric"
	Binary      Kind = "binary"      // 0 or 1
	Categorical Kind = "categorical" // integer index into Feature.Categories
)

// Feature is a single named column of a Schema.
type Feature struct {
	Name       string   `json:"name" yaml:"name"`
	Kind       Kind     `json:"kind" yaml:"kind"`
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Nullable   bool     `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// CheckValue reports why v is not a legal value for the feature, or nil.
func (f Feature) CheckValue(v float64) error {
	if math.IsNaN(v) {
		if f.Nullable {
			return nil
		}
		return fmt.Errorf("missing value in non-nullable feature")
	}
	if math.IsInf(v, 0) {
		return fmt.Errorf("infinite value %v", v)
	}

	switch f.Kind {
	case Binary:
		if v != 0 && v != 1 {
			return fmt.Errorf("binary feature has value %v", v)
		}
	case Categorical:
		if v != math.Trunc(v) || v < 0 || int(v) >= len(f.Categories) {
			return fmt.Errorf("category index %v outside [0,%d)", v, len(f.Categories))
		}
	case Numeric, "":
	default:
		return fmt.Errorf("unknown feature kind %q", f.Kind)
	}
	return nil
}

// Schema is the ordered list of features a model expects.
type Schema struct {
	Features []Feature `json:"features" yaml:"features"`
}

// NewNumericSchema is a shorthand for a schema of numeric features.
func NewNumericSchema(names ...string) Schema {
	features := make([]Feature, len(names))
	for i, name := range names {
		features[i] = Feature{Name: name, Kind: Numeric}
	}
	return Schema{Features: features}
}

// Len returns the number of features.
func (s Schema) Len() int {
	return len(s.Features)
}

// Names returns the feature names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of a feature, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Features {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that feature names are present and unique.
func (s Schema) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("schema has no features")
	}
	seen := make(map[string]struct{}, len(s.Features))
	for i, f := range s.Features {
		if f.Name == "" {
			return fmt.Errorf("feature %d has no name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Kind == Categorical && len(f.Categories) == 0 {
			return fmt.Errorf("categorical feature %q has no categories", f.Name)
		}
	}
	return nil
}

// Instance is one row of feature values aligned with a Schema.
type Instance struct {
	Values  []float64 `json:"values"`
	Label   float64   `json:"label,omitempty"`
	Labeled bool      `json:"labeled,omitempty"`
}

// Clone returns a deep copy of the instance.
func (in Instance) Clone() Instance {
	values := make([]float64, len(in.Values))
	copy(values, in.Values)
	return Instance{Values: values, Label: in.Label, Labeled: in.Labeled}
}

// Dataset is an ordered collection of instances sharing a schema.
type Dataset struct {
	Schema    Schema
	Instances []Instance
}

// New builds a dataset from raw rows.
func New(schema Schema, rows [][]float64) *Dataset {
	instances := make([]Instance, len(rows))
	for i, row := range rows {
		instances[i] = Instance{Values: row}
	}
	return &Dataset{Schema: schema, Instances: instances}
}

// Len returns the number of instances.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Instances)
}

// Rows returns the feature matrix. The rows alias the instance values.
func (d *Dataset) Rows() [][]float64 {
	rows := make([][]float64, len(d.Instances))
	for i, in := range d.Instances {
		rows[i] = in.Values
	}
	return rows
}

// Labels returns the instance labels and whether every instance has one.
func (d *Dataset) Labels() ([]float64, bool) {
	labels := make([]float64, len(d.Instances))
	all := len(d.Instances) > 0
	for i, in := range d.Instances {
		labels[i] = in.Label
		if !in.Labeled {
			all = false
		}
	}
	return labels, all
}

// Column returns a copy of the values of feature j.
func (d *Dataset) Column(j int) []float64 {
	col := make([]float64, len(d.Instances))
	for i, in := range d.Instances {
		col[i] = in.Values[j]
	}
	return col
}

// Head returns a dataset view with at most n instances.
func (d *Dataset) Head(n int) *Dataset {
	if n <= 0 || n >= len(d.Instances) {
		return d
	}
	return &Dataset{Schema: d.Schema, Instances: d.Instances[:n]}
}
