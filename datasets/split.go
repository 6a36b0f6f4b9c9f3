package datasets

import (
	"fmt"
	"slices"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
)

// FormatKind selects how Example renders column values.
type FormatKind int

const (
	// FormatNone returns every column as plain Go values.
	FormatNone FormatKind = iota
	// FormatInt64 returns integer scalars as int64 and integer lists as []int64,
	// the representation the collator consumes.
	FormatInt64
)

func (k FormatKind) String() string {
	if k == FormatInt64 {
		return "int64"
	}
	return "none"
}

// Format restricts the values returned by Example.
type Format struct {
	Kind    FormatKind
	Columns []string
}

// Row is one example keyed by column name.
type Row map[string]any

// Split is one named partition of a dataset (train, validation, ...).
type Split struct {
	name     string
	record   arrow.Record
	features []Feature
	format   Format
}

// NewSplit wraps an Arrow record. features must be aligned with the record's
// fields; when nil they are derived from the Arrow types. The split retains
// the record.
func NewSplit(name string, rec arrow.Record, features []Feature) (*Split, error) {
	fields := rec.Schema().Fields()
	if features == nil {
		features = make([]Feature, len(fields))
		for i, f := range fields {
			features[i] = FeatureFromArrow(f)
		}
	}
	if len(features) != len(fields) {
		return nil, fmt.Errorf("split %s: %d features for %d columns", name, len(features), len(fields))
	}
	for i, f := range fields {
		if features[i].Name != f.Name {
			return nil, fmt.Errorf("split %s: feature %d is %q, column is %q", name, i, features[i].Name, f.Name)
		}
	}
	rec.Retain()
	return &Split{
		name:     name,
		record:   rec,
		features: slices.Clone(features),
	}, nil
}

// Name returns the split name.
func (s *Split) Name() string {
	return s.name
}

// Len returns the number of rows.
func (s *Split) Len() int {
	return int(s.record.NumRows())
}

// ColumnNames returns the column names in declared order.
func (s *Split) ColumnNames() []string {
	names := make([]string, len(s.features))
	for i, f := range s.features {
		names[i] = f.Name
	}
	return names
}

// Features returns the declared column types in declared order.
func (s *Split) Features() []Feature {
	return slices.Clone(s.features)
}

// Feature returns the declared type of the named column.
func (s *Split) Feature(name string) (Feature, bool) {
	for _, f := range s.features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// Record returns the underlying Arrow record. The caller must not release it.
func (s *Split) Record() arrow.Record {
	return s.record
}

// Format returns the split's output format.
func (s *Split) Format() Format {
	return Format{Kind: s.format.Kind, Columns: slices.Clone(s.format.Columns)}
}

// Release releases the Arrow record.
func (s *Split) Release() {
	if s.record != nil {
		s.record.Release()
	}
}

func (s *Split) column(name string) (arrow.Array, int, error) {
	for i, f := range s.features {
		if f.Name == name {
			return s.record.Column(i), i, nil
		}
	}
	return nil, -1, fmt.Errorf("%w: %q in split %s (columns: %v)", ErrColumnNotFound, name, s.name, s.ColumnNames())
}

// Strings returns rows [start, end) of a string column. Null cells are empty.
func (s *Split) Strings(name string, start, end int) ([]string, error) {
	arr, _, err := s.column(name)
	if err != nil {
		return nil, err
	}
	if start < 0 || end > arr.Len() || start > end {
		return nil, fmt.Errorf("range [%d, %d) out of bounds for %d rows", start, end, arr.Len())
	}
	out := make([]string, end-start)
	switch a := arr.(type) {
	case *array.String:
		for i := start; i < end; i++ {
			if !a.IsNull(i) {
				out[i-start] = a.Value(i)
			}
		}
	case *array.LargeString:
		for i := start; i < end; i++ {
			if !a.IsNull(i) {
				out[i-start] = a.Value(i)
			}
		}
	default:
		return nil, fmt.Errorf("column %q is %s, not a string column", name, arr.DataType())
	}
	return out, nil
}

// DistinctCount scans the named column and returns the number of distinct
// non-null values.
func (s *Split) DistinctCount(name string) (int, error) {
	arr, _, err := s.column(name)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		seen[arr.ValueStr(i)] = struct{}{}
	}
	return len(seen), nil
}

// DistinctValues returns the distinct non-null values of the named column,
// rendered as strings and sorted.
func (s *Split) DistinctValues(name string) ([]string, error) {
	arr, _, err := s.column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for i := 0; i < arr.Len(); i++ {
		if !arr.IsNull(i) {
			seen[arr.ValueStr(i)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

// ClassEncodeColumn returns a split where the named string column is replaced
// by the index of each value in names, and declared as a ClassLabel. Values
// missing from names are an error.
func (s *Split) ClassEncodeColumn(name string, names []string) (*Split, error) {
	values, err := s.Strings(name, 0, s.Len())
	if err != nil {
		return nil, err
	}
	arr, idx, _ := s.column(name)

	index := make(map[string]int64, len(names))
	for i, n := range names {
		index[n] = int64(i)
	}
	b := array.NewInt64Builder(allocator)
	defer b.Release()
	for i, v := range values {
		if arr.IsNull(i) {
			b.AppendNull()
			continue
		}
		id, ok := index[v]
		if !ok {
			return nil, fmt.Errorf("column %q row %d: %q is not one of the class names %v", name, i, v, names)
		}
		b.Append(id)
	}
	encoded := b.NewArray()
	defer encoded.Release()

	fields := slices.Clone(s.record.Schema().Fields())
	fields[idx] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	cols := slices.Clone(s.record.Columns())
	cols[idx] = encoded
	features := slices.Clone(s.features)
	features[idx] = Feature{Name: name, Kind: KindClassLabel, DType: "int64", Names: slices.Clone(names), NumClasses: len(names)}

	md := s.record.Schema().Metadata()
	rec := array.NewRecord(arrow.NewSchema(fields, &md), cols, s.record.NumRows())
	defer rec.Release()

	out, err := NewSplit(s.name, rec, features)
	if err != nil {
		return nil, err
	}
	out.format = s.Format()
	return out, nil
}

// RemoveColumns returns a split without the named columns. Unknown names are
// an error.
func (s *Split) RemoveColumns(names ...string) (*Split, error) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if _, _, err := s.column(name); err != nil {
			return nil, err
		}
		drop[name] = true
	}

	fields := s.record.Schema().Fields()
	keptFields := make([]arrow.Field, 0, len(fields))
	keptCols := make([]arrow.Array, 0, len(fields))
	keptFeatures := make([]Feature, 0, len(fields))
	for i, f := range fields {
		if drop[f.Name] {
			continue
		}
		keptFields = append(keptFields, f)
		keptCols = append(keptCols, s.record.Column(i))
		keptFeatures = append(keptFeatures, s.features[i])
	}

	md := s.record.Schema().Metadata()
	rec := array.NewRecord(arrow.NewSchema(keptFields, &md), keptCols, s.record.NumRows())
	defer rec.Release()

	out, err := NewSplit(s.name, rec, keptFeatures)
	if err != nil {
		return nil, err
	}
	out.format = s.formatWithout(drop)
	return out, nil
}

// RenameColumn returns a split with column oldName renamed to newName.
func (s *Split) RenameColumn(oldName, newName string) (*Split, error) {
	_, idx, err := s.column(oldName)
	if err != nil {
		return nil, err
	}
	if oldName == newName {
		return s.clone(), nil
	}
	if _, ok := s.Feature(newName); ok {
		return nil, fmt.Errorf("cannot rename %q to %q: column already exists", oldName, newName)
	}

	fields := slices.Clone(s.record.Schema().Fields())
	fields[idx].Name = newName
	features := slices.Clone(s.features)
	features[idx].Name = newName

	md := s.record.Schema().Metadata()
	rec := array.NewRecord(arrow.NewSchema(fields, &md), s.record.Columns(), s.record.NumRows())
	defer rec.Release()

	out, err := NewSplit(s.name, rec, features)
	if err != nil {
		return nil, err
	}
	out.format = s.Format()
	for i, c := range out.format.Columns {
		if c == oldName {
			out.format.Columns[i] = newName
		}
	}
	return out, nil
}

// WithFormat returns a split whose Example only returns the given columns,
// rendered per kind. No columns means every column.
func (s *Split) WithFormat(kind FormatKind, columns ...string) (*Split, error) {
	for _, name := range columns {
		arr, _, err := s.column(name)
		if err != nil {
			return nil, err
		}
		if kind == FormatInt64 && !int64Formattable(arr.DataType()) {
			return nil, fmt.Errorf("column %q of type %s cannot be formatted as int64", name, arr.DataType())
		}
	}
	out := s.clone()
	out.format = Format{Kind: kind, Columns: slices.Clone(columns)}
	return out, nil
}

// Example returns row i restricted to the split's format.
func (s *Split) Example(i int) (Row, error) {
	if i < 0 || i >= s.Len() {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, s.Len())
	}
	columns := s.format.Columns
	if len(columns) == 0 {
		columns = s.ColumnNames()
	}
	row := make(Row, len(columns))
	for _, name := range columns {
		arr, _, err := s.column(name)
		if err != nil {
			return nil, err
		}
		v, err := cellValue(arr, i, s.format.Kind)
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i, name, err)
		}
		row[name] = v
	}
	return row, nil
}

// Examples returns the rows at the given indices.
func (s *Split) Examples(indices []int) ([]Row, error) {
	rows := make([]Row, len(indices))
	for i, idx := range indices {
		row, err := s.Example(idx)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *Split) clone() *Split {
	s.record.Retain()
	return &Split{
		name:     s.name,
		record:   s.record,
		features: slices.Clone(s.features),
		format:   s.Format(),
	}
}

func (s *Split) formatWithout(drop map[string]bool) Format {
	f := Format{Kind: s.format.Kind}
	for _, c := range s.format.Columns {
		if !drop[c] {
			f.Columns = append(f.Columns, c)
		}
	}
	return f
}

// Concat appends the rows of parts, which must share the same columns.
func Concat(name string, parts ...*Split) (*Split, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat %s: no parts", name)
	}
	first := parts[0]
	if len(parts) == 1 {
		out := first.clone()
		out.name = name
		return out, nil
	}

	schema := first.record.Schema()
	for i, p := range parts[1:] {
		if !p.record.Schema().Equal(schema) {
			return nil, fmt.Errorf("concat %s: part %d has columns %v, part 0 has %v",
				name, i+1, p.ColumnNames(), first.ColumnNames())
		}
	}

	cols := make([]arrow.Array, 0, len(schema.Fields()))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	var rows int64
	for _, p := range parts {
		rows += p.record.NumRows()
	}
	for i := range schema.Fields() {
		chunks := make([]arrow.Array, len(parts))
		for j, p := range parts {
			chunks[j] = p.record.Column(i)
		}
		arr, err := array.Concatenate(chunks, allocator)
		if err != nil {
			return nil, fmt.Errorf("concat %s: column %q: %w", name, schema.Field(i).Name, err)
		}
		cols = append(cols, arr)
	}

	rec := array.NewRecord(schema, cols, rows)
	defer rec.Release()
	return NewSplit(name, rec, first.features)
}
