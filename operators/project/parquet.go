package project

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/pkg/errors"

	"geo-sparql-go/config"
	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&ParquetSource{})
)

// ParquetSource reads variable bindings from a parquet file. Field names must
// be query variables. Supports projection push down: only the requested
// variables are decoded.
type ParquetSource struct {
	name       string
	schema     *arrow.Schema
	vars       operators.VariableMap
	fileReader *file.Reader
	reader     pqarrow.RecordReader
	rows       uint64
	done       bool
}

// NewParquetSource opens a parquet dataset. variables selects the columns to
// decode; pass none to decode all of them.
func NewParquetSource(name string, r parquet.ReaderAtSeeker, variables ...string) (*ParquetSource, error) {
	allocator := memory.NewGoAllocator()
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, errors.Wrapf(err, "opening parquet dataset %s", name)
	}

	arrowReader, err := pqarrow.NewFileReader(
		fileReader,
		pqarrow.ArrowReadProperties{BatchSize: int64(config.GetConfig().Batch.Size)},
		allocator,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet schema of %s", name)
	}

	var wantedColumns []int
	if len(variables) > 0 {
		s, err := arrowReader.Schema()
		if err != nil {
			return nil, err
		}
		for _, v := range variables {
			idxs := s.FieldIndices(v)
			if len(idxs) == 0 {
				return nil, operators.ErrInvalidSchema(
					fmt.Sprintf("variable %s is not a column of %s", v, name))
			}
			wantedColumns = append(wantedColumns, idxs...)
		}
	}

	rdr, err := arrowReader.GetRecordReader(context.TODO(), wantedColumns, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parquet dataset %s", name)
	}

	vars := operators.VariableMap{}
	for i, f := range rdr.Schema().Fields() {
		if !operators.ValidVariable(f.Name) {
			return nil, operators.ErrInvalidVariable(f.Name)
		}
		defined := operators.AlwaysDefined
		if f.Nullable {
			defined = operators.PossiblyUndefined
		}
		vars[f.Name] = operators.VarInfo{Column: i, Defined: defined}
	}

	return &ParquetSource{
		name:       name,
		schema:     rdr.Schema(),
		vars:       vars,
		fileReader: fileReader,
		reader:     rdr,
		rows:       uint64(fileReader.NumRows()),
	}, nil
}

func (ps *ParquetSource) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if ps.reader == nil || ps.done {
		return nil, io.EOF
	}
	columns := make([]arrow.Array, ps.schema.NumFields())
	mem := memory.NewGoAllocator()
	curRow := 0
	for curRow < int(n) && ps.reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ps.reader.Err(); err != nil {
			return nil, err
		}
		record := ps.reader.Record()
		for colIdx := 0; colIdx < int(record.NumCols()); colIdx++ {
			batchCol := record.Column(colIdx)
			existing := columns[colIdx]
			if existing == nil {
				batchCol.Retain()
				columns[colIdx] = batchCol
				continue
			}
			combined, err := array.Concatenate([]arrow.Array{existing, batchCol}, mem)
			if err != nil {
				record.Release()
				return nil, err
			}
			columns[colIdx] = combined
			existing.Release()
		}
		curRow += int(record.NumRows())
		record.Release()
	}
	if curRow == 0 {
		ps.done = true
		if err := ps.reader.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return &operators.RecordBatch{
		Schema:   ps.schema,
		Columns:  columns,
		RowCount: uint64(curRow),
	}, nil
}

func (ps *ParquetSource) Schema() *arrow.Schema { return ps.schema }

func (ps *ParquetSource) VariableColumns() operators.VariableMap { return ps.vars }

func (ps *ParquetSource) ResultWidth() int { return ps.schema.NumFields() }

func (ps *ParquetSource) ResultSortedOn() []int { return nil }

func (ps *ParquetSource) KnownEmpty() bool { return ps.rows == 0 }

func (ps *ParquetSource) SizeEstimate() uint64 { return ps.rows }

func (ps *ParquetSource) CostEstimate() uint64 { return ps.rows }

func (ps *ParquetSource) Multiplicity(col int) float64 {
	if col < 0 || col >= ps.ResultWidth() {
		panic(operators.ErrColumnOutOfRange(col, ps.ResultWidth()))
	}
	return 1
}

func (ps *ParquetSource) CacheKey() string {
	return fmt.Sprintf("ParquetSource %s rows: %d", ps.name, ps.rows)
}

func (ps *ParquetSource) Descriptor() string {
	return fmt.Sprintf("ParquetSource %s", ps.name)
}

func (ps *ParquetSource) Close() error {
	if ps.reader != nil {
		ps.reader.Release()
		ps.reader = nil
	}
	if ps.fileReader != nil {
		err := ps.fileReader.Close()
		ps.fileReader = nil
		return err
	}
	return nil
}
