package datasets

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
)

// columnValues collects the raw cells of one column while a text file is read.
// Cells are nil (missing), string, json.Number, bool or a nested JSON value.
type columnValues struct {
	name  string
	cells []any

	// fromText marks CSV input, where every cell is a string and numeric
	// columns must be recognized by parsing.
	fromText bool
}

type cellType int

const (
	cellNull cellType = iota
	cellInt
	cellFloat
	cellBool
	cellString
	cellNested
)

func (c *columnValues) classify(v any) cellType {
	switch x := v.(type) {
	case nil:
		return cellNull
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return cellInt
		}
		return cellFloat
	case bool:
		return cellBool
	case string:
		if !c.fromText {
			return cellString
		}
		if x == "" {
			return cellNull
		}
		if _, err := strconv.ParseInt(x, 10, 64); err == nil {
			return cellInt
		}
		if _, err := strconv.ParseFloat(x, 64); err == nil {
			return cellFloat
		}
		return cellString
	}
	return cellNested
}

// inferType widens over every cell: int < float; anything mixed with text is
// a string; nested values stay nested.
func (c *columnValues) inferType() cellType {
	t := cellNull
	for _, v := range c.cells {
		ct := c.classify(v)
		switch {
		case ct == cellNull || ct == t:
		case t == cellNull:
			t = ct
		case (t == cellInt && ct == cellFloat) || (t == cellFloat && ct == cellInt):
			t = cellFloat
		case t == cellNested || ct == cellNested:
			t = cellNested
		default:
			t = cellString
		}
	}
	if t == cellNull {
		return cellString
	}
	return t
}

func cellText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// build turns the collected cells into an Arrow array. declared, when set,
// takes precedence over the inferred type.
func (c *columnValues) build(declared *Feature) (arrow.Field, arrow.Array, Feature, error) {
	if declared != nil {
		switch declared.Kind {
		case KindString:
			arr := c.buildStrings()
			return arrow.Field{Name: c.name, Type: arrow.BinaryTypes.String, Nullable: true}, arr, *declared, nil
		case KindClassLabel:
			arr, err := c.buildClassLabels(declared.Names)
			if err != nil {
				return arrow.Field{}, nil, Feature{}, err
			}
			return arrow.Field{Name: c.name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}, arr, *declared, nil
		}
	}

	var (
		field arrow.Field
		arr   arrow.Array
		err   error
	)
	switch c.inferType() {
	case cellInt:
		arr, err = c.buildInts()
		field = arrow.Field{Name: c.name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	case cellFloat:
		arr, err = c.buildFloats()
		field = arrow.Field{Name: c.name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
	case cellBool:
		arr = c.buildBools()
		field = arrow.Field{Name: c.name, Type: arrow.FixedWidthTypes.Boolean, Nullable: true}
	default:
		arr = c.buildStrings()
		field = arrow.Field{Name: c.name, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	if err != nil {
		return arrow.Field{}, nil, Feature{}, err
	}

	feature := FeatureFromArrow(field)
	if c.inferType() == cellNested {
		feature.Kind = KindOther
		feature.DType = "nested"
	}
	if declared != nil {
		feature.DType = declared.DType
	}
	return field, arr, feature, nil
}

func (c *columnValues) buildStrings() arrow.Array {
	b := array.NewStringBuilder(allocator)
	defer b.Release()
	for _, v := range c.cells {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(cellText(v))
	}
	return b.NewArray()
}

func (c *columnValues) buildInts() (arrow.Array, error) {
	b := array.NewInt64Builder(allocator)
	defer b.Release()
	for i, v := range c.cells {
		if c.classify(v) == cellNull {
			b.AppendNull()
			continue
		}
		n, err := strconv.ParseInt(cellText(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", c.name, i, err)
		}
		b.Append(n)
	}
	return b.NewArray(), nil
}

func (c *columnValues) buildFloats() (arrow.Array, error) {
	b := array.NewFloat64Builder(allocator)
	defer b.Release()
	for i, v := range c.cells {
		if c.classify(v) == cellNull {
			b.AppendNull()
			continue
		}
		f, err := strconv.ParseFloat(cellText(v), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", c.name, i, err)
		}
		b.Append(f)
	}
	return b.NewArray(), nil
}

func (c *columnValues) buildBools() arrow.Array {
	b := array.NewBooleanBuilder(allocator)
	defer b.Release()
	for _, v := range c.cells {
		x, ok := v.(bool)
		if !ok {
			b.AppendNull()
			continue
		}
		b.Append(x)
	}
	return b.NewArray()
}

// buildClassLabels stores class labels as indices. Cells may already be
// indices or may spell out one of names.
func (c *columnValues) buildClassLabels(names []string) (arrow.Array, error) {
	b := array.NewInt64Builder(allocator)
	defer b.Release()
	for i, v := range c.cells {
		if c.classify(v) == cellNull {
			b.AppendNull()
			continue
		}
		text := strings.TrimSpace(cellText(v))
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			b.Append(n)
			continue
		}
		idx := slices.Index(names, text)
		if idx < 0 {
			return nil, fmt.Errorf("column %q row %d: %q is not one of the class names %v", c.name, i, text, names)
		}
		b.Append(int64(idx))
	}
	return b.NewArray(), nil
}

// buildRecord assembles the columns into a split, in column order.
func buildRecord(name string, columns []*columnValues, numRows int, declared map[string]json.RawMessage) (*Split, error) {
	fields := make([]arrow.Field, 0, len(columns))
	arrs := make([]arrow.Array, 0, len(columns))
	features := make([]Feature, 0, len(columns))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()

	for _, col := range columns {
		for len(col.cells) < numRows {
			col.cells = append(col.cells, nil)
		}
		var decl *Feature
		if raw, ok := declared[col.name]; ok {
			if f, ok := decodeFeature(col.name, raw); ok {
				decl = &f
			}
		}
		field, arr, feature, err := col.build(decl)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		arrs = append(arrs, arr)
		features = append(features, feature)
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(numRows))
	defer rec.Release()
	return NewSplit(name, rec, features)
}
