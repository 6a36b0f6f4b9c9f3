package datasets

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"golang.org/x/sync/errgroup"
)

// Batch is a contiguous row range [Start, End) of a split handed to a
// BatchFunc.
type Batch struct {
	split      *Split
	Start, End int
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return b.End - b.Start
}

// Strings returns the batch's values of a string column.
func (b Batch) Strings(column string) ([]string, error) {
	return b.split.Strings(column, b.Start, b.End)
}

// Columns maps an output column name to one integer sequence per row.
type Columns map[string][][]int64

// BatchFunc transforms one batch into new columns. It must not depend on
// anything but the rows it is given.
type BatchFunc func(b Batch) (Columns, error)

// MapOptions configures Split.Map.
type MapOptions struct {
	// BatchSize is the number of rows per BatchFunc call. Default 1000.
	BatchSize int

	// NumProc bounds how many batches run concurrently. Default NumCPU.
	NumProc int

	// Columns fixes the order of the output columns. Columns returned by the
	// BatchFunc but not listed here are appended in lexical order.
	Columns []string
}

func (o MapOptions) withDefaults() MapOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.NumProc <= 0 {
		o.NumProc = runtime.NumCPU()
	}
	return o
}

// Map applies fn over the split in batches and returns a split with the
// produced columns added (or replaced, when a name already exists). Batches
// may run concurrently and in any order; results are assembled by position.
func (s *Split) Map(ctx context.Context, fn BatchFunc, opts MapOptions) (*Split, error) {
	opts = opts.withDefaults()
	n := s.Len()
	numBatches := (n + opts.BatchSize - 1) / opts.BatchSize
	results := make([]Columns, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.NumProc)
	for b := range numBatches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch := Batch{split: s, Start: b * opts.BatchSize, End: min((b+1)*opts.BatchSize, n)}
			cols, err := fn(batch)
			if err != nil {
				return fmt.Errorf("batch [%d, %d): %w", batch.Start, batch.End, err)
			}
			for name, rows := range cols {
				if len(rows) != batch.Len() {
					return fmt.Errorf("batch [%d, %d): column %q has %d rows, want %d",
						batch.Start, batch.End, name, len(rows), batch.Len())
				}
			}
			results[b] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("map over split %s: %w", s.name, err)
	}

	names, err := outputColumns(results, opts.Columns)
	if err != nil {
		return nil, fmt.Errorf("map over split %s: %w", s.name, err)
	}
	return s.withColumns(names, results)
}

// outputColumns checks every batch produced the same column set and returns
// it in output order.
func outputColumns(results []Columns, order []string) ([]string, error) {
	if len(results) == 0 {
		return slices.Clone(order), nil
	}
	var rest []string
	for name := range results[0] {
		if !slices.Contains(order, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	var names []string
	for _, name := range order {
		if _, ok := results[0][name]; ok {
			names = append(names, name)
		}
	}
	names = append(names, rest...)

	for i, cols := range results[1:] {
		if len(cols) != len(names) {
			return nil, fmt.Errorf("batch %d produced %d columns, batch 0 produced %d", i+1, len(cols), len(names))
		}
		for _, name := range names {
			if _, ok := cols[name]; !ok {
				return nil, fmt.Errorf("batch %d is missing column %q", i+1, name)
			}
		}
	}
	return names, nil
}

func (s *Split) withColumns(names []string, results []Columns) (*Split, error) {
	fields := slices.Clone(s.record.Schema().Fields())
	cols := slices.Clone(s.record.Columns())
	features := slices.Clone(s.features)

	var built []arrow.Array
	defer func() {
		for _, arr := range built {
			arr.Release()
		}
	}()

	for _, name := range names {
		arr := buildInt64Lists(name, results)
		built = append(built, arr)
		field := arrow.Field{Name: name, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)}
		feature := Feature{Name: name, Kind: KindOther, DType: "list<int64>"}

		if _, idx, err := s.column(name); err == nil {
			fields[idx], cols[idx], features[idx] = field, arr, feature
			continue
		}
		fields = append(fields, field)
		cols = append(cols, arr)
		features = append(features, feature)
	}

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

func buildInt64Lists(name string, results []Columns) arrow.Array {
	lb := array.NewListBuilder(allocator, arrow.PrimitiveTypes.Int64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Int64Builder)
	for _, cols := range results {
		for _, seq := range cols[name] {
			lb.Append(true)
			vb.AppendValues(seq, nil)
		}
	}
	return lb.NewArray()
}
