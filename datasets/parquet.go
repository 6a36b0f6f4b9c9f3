package datasets

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

// ReadParquet reads a whole Parquet file into a split. Declared features are
// taken from the file's "huggingface" key/value metadata when present.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker, name string) (*Split, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, allocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	cols := make([]arrow.Array, 0, tbl.NumCols())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i := 0; i < int(tbl.NumCols()); i++ {
		chunks := tbl.Column(i).Data().Chunks()
		var arr arrow.Array
		if len(chunks) == 0 {
			arr = array.MakeArrayOfNull(allocator, schema.Field(i).Type, 0)
		} else {
			arr, err = array.Concatenate(chunks, allocator)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", schema.Field(i).Name, err)
			}
		}
		cols = append(cols, arr)
	}

	rec := array.NewRecord(schema, cols, tbl.NumRows())
	defer rec.Release()

	features := FeaturesFromSchemaMetadata(schema)
	if v := pf.MetaData().KeyValueMetadata().FindValue(MetadataKey); v != nil {
		if declared, err := ParseFeatureMetadata(*v); err == nil {
			features = ResolveFeatures(schema, declared)
		}
	}
	return NewSplit(name, rec, features)
}

// WriteParquet writes the split as Parquet, storing its features under the
// "huggingface" metadata key so that ReadParquet restores them.
func (s *Split) WriteParquet(w io.Writer) error {
	md, err := EncodeFeatureMetadata(s.features)
	if err != nil {
		return err
	}
	schema := arrow.NewSchema(s.record.Schema().Fields(), func() *arrow.Metadata {
		m := arrow.NewMetadata([]string{MetadataKey}, []string{md})
		return &m
	}())

	rec := array.NewRecord(schema, s.record.Columns(), s.record.NumRows())
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithAllocator(allocator))
	if err := pqarrow.WriteTable(tbl, w, 64*1024, props, pqarrow.DefaultWriterProps()); err != nil {
		return fmt.Errorf("failed to write parquet for split %s: %w", s.name, err)
	}
	return nil
}
