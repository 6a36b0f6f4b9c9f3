package datasets

import (
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
)

func isInteger(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}

func int64Formattable(dt arrow.DataType) bool {
	switch t := dt.(type) {
	case *arrow.ListType:
		return isInteger(t.Elem())
	case *arrow.LargeListType:
		return isInteger(t.Elem())
	}
	return isInteger(dt) || dt.ID() == arrow.BOOL
}

// integerAt returns element i of an integer array as int64.
func integerAt(arr arrow.Array, i int) (int64, bool) {
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Uint8:
		return int64(a.Value(i)), true
	case *array.Uint16:
		return int64(a.Value(i)), true
	case *array.Uint32:
		return int64(a.Value(i)), true
	case *array.Uint64:
		return int64(a.Value(i)), true
	}
	return 0, false
}

func integerList(values arrow.Array, start, end int64) ([]int64, error) {
	out := make([]int64, 0, end-start)
	for j := start; j < end; j++ {
		v, ok := integerAt(values, int(j))
		if !ok {
			return nil, fmt.Errorf("list element type %s is not an integer", values.DataType())
		}
		out = append(out, v)
	}
	return out, nil
}

// cellValue renders arr[i] according to kind. Nulls render as nil.
func cellValue(arr arrow.Array, i int, kind FormatKind) (any, error) {
	if arr.IsNull(i) {
		if kind == FormatInt64 {
			return nil, fmt.Errorf("null value cannot be formatted as int64")
		}
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.List:
		start, end := a.ValueOffsets(i)
		return integerListOrString(a.ListValues(), start, end, kind, arr, i)
	case *array.LargeList:
		start, end := a.ValueOffsets(i)
		return integerListOrString(a.ListValues(), start, end, kind, arr, i)
	case *array.Boolean:
		if kind == FormatInt64 {
			if a.Value(i) {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return a.Value(i), nil
	}

	if v, ok := integerAt(arr, i); ok {
		return v, nil
	}
	if kind == FormatInt64 {
		return nil, fmt.Errorf("type %s cannot be formatted as int64", arr.DataType())
	}

	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	}
	return arr.ValueStr(i), nil
}

func integerListOrString(values arrow.Array, start, end int64, kind FormatKind, arr arrow.Array, i int) (any, error) {
	if isInteger(values.DataType()) {
		return integerList(values, start, end)
	}
	if kind == FormatInt64 {
		return nil, fmt.Errorf("list of %s cannot be formatted as int64", values.DataType())
	}
	return arr.ValueStr(i), nil
}
