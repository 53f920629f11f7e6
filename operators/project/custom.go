// Package project implements the leaf operators that feed query plans:
// in-memory tables, CSV files, parquet files and object store downloads.
package project

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&InMemorySource{})
)

var (
	ErrInvalidInMemoryDataType = func(Type any) error {
		return fmt.Errorf("%T is not a supported in memory dataType for InMemorySource", Type)
	}
)

// InMemorySource serves a fixed table of variable bindings. Mostly used to
// seed plans in tests and the demo, where the data is small and known.
type InMemorySource struct {
	name      string
	schema    *arrow.Schema
	columns   []arrow.Array
	vars      operators.VariableMap
	distincts []uint64
	pos       int
}

// NewInMemorySource builds a leaf operator from parallel slices of variable
// names and column data. Supported column types: []string, []int, []int64,
// []float64, []bool and prebuilt arrow arrays (which may contain nulls; a
// column with nulls is reported as possibly undefined).
func NewInMemorySource(name string, variables []string, columns []any) (*InMemorySource, error) {
	if len(variables) != len(columns) {
		return nil, operators.ErrInvalidSchema("number of variables and columns do not match")
	}
	fields := make([]arrow.Field, 0, len(variables))
	arrays := make([]arrow.Array, 0, len(variables))
	vars := operators.VariableMap{}
	for i, col := range columns {
		if !operators.ValidVariable(variables[i]) {
			return nil, operators.ErrInvalidVariable(variables[i])
		}
		arr, err := unpackColumn(col)
		if err != nil {
			return nil, err
		}
		defined := operators.AlwaysDefined
		if arr.NullN() > 0 {
			defined = operators.PossiblyUndefined
		}
		fields = append(fields, arrow.Field{
			Name:     variables[i],
			Type:     arr.DataType(),
			Nullable: defined == operators.PossiblyUndefined,
		})
		arrays = append(arrays, arr)
		vars[variables[i]] = operators.VarInfo{Column: i, Defined: defined}
	}
	if err := sameLength(arrays); err != nil {
		return nil, err
	}
	return &InMemorySource{
		name:      name,
		schema:    arrow.NewSchema(fields, nil),
		columns:   arrays,
		vars:      vars,
		distincts: countDistincts(arrays),
	}, nil
}

func (ms *InMemorySource) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ms.columns) == 0 || ms.pos >= ms.columns[0].Len() {
		return nil, io.EOF
	}
	toRead := int(n)
	if remaining := ms.columns[0].Len() - ms.pos; remaining < toRead {
		toRead = remaining
	}
	outputCols := make([]arrow.Array, len(ms.columns))
	for i, col := range ms.columns {
		outputCols[i] = array.NewSlice(col, int64(ms.pos), int64(ms.pos+toRead))
	}
	ms.pos += toRead

	return &operators.RecordBatch{
		Schema:   ms.schema,
		Columns:  outputCols,
		RowCount: uint64(toRead),
	}, nil
}

func (ms *InMemorySource) Schema() *arrow.Schema { return ms.schema }

func (ms *InMemorySource) VariableColumns() operators.VariableMap { return ms.vars }

func (ms *InMemorySource) ResultWidth() int { return len(ms.columns) }

func (ms *InMemorySource) ResultSortedOn() []int { return nil }

func (ms *InMemorySource) KnownEmpty() bool { return ms.rows() == 0 }

func (ms *InMemorySource) SizeEstimate() uint64 { return ms.rows() }

func (ms *InMemorySource) CostEstimate() uint64 { return ms.rows() }

func (ms *InMemorySource) Multiplicity(col int) float64 {
	if col < 0 || col >= len(ms.columns) {
		panic(operators.ErrColumnOutOfRange(col, len(ms.columns)))
	}
	if ms.distincts[col] == 0 {
		return 1
	}
	return float64(ms.rows()) / float64(ms.distincts[col])
}

// the name must be unique per dataset, it stands in for the content in the
// cache key
func (ms *InMemorySource) CacheKey() string {
	return fmt.Sprintf("InMemorySource %s rows: %d width: %d", ms.name, ms.rows(), len(ms.columns))
}

func (ms *InMemorySource) Descriptor() string {
	return fmt.Sprintf("InMemorySource %s", ms.name)
}

func (ms *InMemorySource) Close() error {
	operators.ReleaseArrays(ms.columns)
	return nil
}

func (ms *InMemorySource) rows() uint64 {
	if len(ms.columns) == 0 {
		return 0
	}
	return uint64(ms.columns[0].Len())
}

func sameLength(arrays []arrow.Array) error {
	for i := 1; i < len(arrays); i++ {
		if arrays[i].Len() != arrays[0].Len() {
			return operators.ErrInvalidSchema(
				fmt.Sprintf("column %d has %d rows, column 0 has %d", i, arrays[i].Len(), arrays[0].Len()))
		}
	}
	return nil
}

func countDistincts(arrays []arrow.Array) []uint64 {
	distincts := make([]uint64, len(arrays))
	for i, arr := range arrays {
		seen := make(map[string]struct{}, arr.Len())
		for r := 0; r < arr.Len(); r++ {
			if arr.IsNull(r) {
				continue
			}
			seen[arr.ValueStr(r)] = struct{}{}
		}
		distincts[i] = uint64(len(seen))
	}
	return distincts
}

func unpackColumn(col any) (arrow.Array, error) {
	mem := memory.NewGoAllocator()
	switch vals := col.(type) {
	case arrow.Array:
		vals.Retain()
		return vals, nil
	case []string:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	case []int:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range vals {
			b.Append(int64(v))
		}
		return b.NewArray(), nil
	case []int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	case []float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	case []bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(vals, nil)
		return b.NewArray(), nil
	default:
		return nil, ErrInvalidInMemoryDataType(col)
	}
}
