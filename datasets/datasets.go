package datasets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v18/arrow/memory"
)

// This package provides the columnar dataset model the rest of taskprep works
// on. A Dataset is a set of named splits; each Split wraps a single Arrow
// record together with the declared type of every column.
//
// Layout and intended usage:
//
// Feature
//   - Declared type of a column: string-like, categorical with a known class
//     count, or anything else.
//   - Declared types come from the Hugging Face "huggingface" schema metadata
//     (or a local dataset_info.json) and fall back to the Arrow type.
//
// Split
//   - Immutable. Map, RemoveColumns, RenameColumn and WithFormat all return a
//     new Split sharing the unchanged columns.
//   - Example(i) returns one row restricted to the split's output format.

// allocator backs every Arrow array built by this package.
var allocator memory.Allocator = memory.NewGoAllocator()

// ErrColumnNotFound is returned when a named column does not exist in a split.
var ErrColumnNotFound = errors.New("column not found")

// Kind classifies the declared value type of a column.
type Kind int

const (
	KindOther Kind = iota
	KindString
	KindClassLabel
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindClassLabel:
		return "class_label"
	default:
		return "other"
	}
}

// Feature is the declared type of one column.
type Feature struct {
	Name string
	Kind Kind

	// DType is the declared value dtype, e.g. "string", "int64" or "list<int64>".
	DType string

	// Names holds the class names of a class label column, if declared.
	Names []string

	// NumClasses is the declared class count; zero when unknown.
	NumClasses int
}

// IsString reports whether the column holds string-like values.
func (f Feature) IsString() bool {
	return f.Kind == KindString
}

// ClassCount returns the declared class count of a categorical column.
func (f Feature) ClassCount() (int, bool) {
	if f.Kind != KindClassLabel || f.NumClasses <= 0 {
		return 0, false
	}
	return f.NumClasses, true
}

// Dataset is a multi-split dataset.
type Dataset struct {
	splits map[string]*Split
}

// New creates a dataset from named splits.
func New(splits map[string]*Split) *Dataset {
	d := &Dataset{splits: make(map[string]*Split, len(splits))}
	for name, s := range splits {
		d.splits[name] = s
	}
	return d
}

// Split returns the named split.
func (d *Dataset) Split(name string) (*Split, bool) {
	s, ok := d.splits[name]
	return s, ok
}

// SplitNames returns the split names, with train, validation and test first
// and the rest in lexical order.
func (d *Dataset) SplitNames() []string {
	names := make([]string, 0, len(d.splits))
	for name := range d.splits {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := splitRank(names[i]), splitRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
	return names
}

func splitRank(name string) int {
	switch name {
	case "train":
		return 0
	case "validation":
		return 1
	case "test":
		return 2
	default:
		return 3
	}
}

// NumRows returns the row count per split.
func (d *Dataset) NumRows() map[string]int {
	rows := make(map[string]int, len(d.splits))
	for name, s := range d.splits {
		rows[name] = s.Len()
	}
	return rows
}

// Apply runs fn over every split and returns a new dataset with the results.
func (d *Dataset) Apply(fn func(s *Split) (*Split, error)) (*Dataset, error) {
	out := make(map[string]*Split, len(d.splits))
	for _, name := range d.SplitNames() {
		s, err := fn(d.splits[name])
		if err != nil {
			for _, done := range out {
				done.Release()
			}
			return nil, fmt.Errorf("split %s: %w", name, err)
		}
		out[name] = s
	}
	return &Dataset{splits: out}, nil
}

// Release releases the Arrow memory held by every split.
func (d *Dataset) Release() {
	for _, s := range d.splits {
		s.Release()
	}
}
