package project

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/pkg/errors"

	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&CSVSource{})
)

// rough planner hint for a csv file that has not been scanned yet
const csvDefaultSizeEstimate = 1000

// CSVSource streams variable bindings from a CSV file. The header row names
// the variables (leading '?' required), every column is a string literal
// column and an empty cell is an undefined binding.
type CSVSource struct {
	name     string
	r        *csv.Reader
	schema   *arrow.Schema
	vars     operators.VariableMap
	rowsRead uint64
	done     bool
}

func NewCSVSource(name string, source io.Reader) (*CSVSource, error) {
	r := csv.NewReader(source)
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "reading the header of %s", name)
	}
	fields := make([]arrow.Field, 0, len(header))
	vars := operators.VariableMap{}
	for i, name := range header {
		if !operators.ValidVariable(name) {
			return nil, operators.ErrInvalidVariable(name)
		}
		// a cell of any row may be empty, so every csv column is possibly
		// undefined
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     arrow.BinaryTypes.String,
			Nullable: true,
		})
		vars[name] = operators.VarInfo{Column: i, Defined: operators.PossiblyUndefined}
	}
	return &CSVSource{
		name:   name,
		r:      r,
		schema: arrow.NewSchema(fields, nil),
		vars:   vars,
	}, nil
}

func (cs *CSVSource) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if cs.done {
		return nil, io.EOF
	}
	mem := memory.NewGoAllocator()
	builders := make([]*array.StringBuilder, cs.schema.NumFields())
	for i := range builders {
		builders[i] = array.NewStringBuilder(mem)
		defer builders[i].Release()
	}

	rowsRead := uint16(0)
	for rowsRead < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cs.r.Read()
		if err == io.EOF {
			cs.done = true
			if rowsRead == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", cs.name)
		}
		if len(row) != len(builders) {
			return nil, operators.ErrInvalidSchema(
				fmt.Sprintf("row of %s has %d cells, header has %d", cs.name, len(row), len(builders)))
		}
		for i, cell := range row {
			if cell == "" {
				builders[i].AppendNull()
			} else {
				builders[i].Append(cell)
			}
		}
		rowsRead++
	}
	cs.rowsRead += uint64(rowsRead)

	columns := make([]arrow.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.NewArray()
	}
	return &operators.RecordBatch{
		Schema:   cs.schema,
		Columns:  columns,
		RowCount: uint64(rowsRead),
	}, nil
}

func (cs *CSVSource) Schema() *arrow.Schema { return cs.schema }

func (cs *CSVSource) VariableColumns() operators.VariableMap { return cs.vars }

func (cs *CSVSource) ResultWidth() int { return cs.schema.NumFields() }

func (cs *CSVSource) ResultSortedOn() []int { return nil }

func (cs *CSVSource) KnownEmpty() bool { return false }

func (cs *CSVSource) SizeEstimate() uint64 {
	if cs.done {
		return cs.rowsRead
	}
	return csvDefaultSizeEstimate
}

func (cs *CSVSource) CostEstimate() uint64 { return cs.SizeEstimate() }

func (cs *CSVSource) Multiplicity(col int) float64 {
	if col < 0 || col >= cs.ResultWidth() {
		panic(operators.ErrColumnOutOfRange(col, cs.ResultWidth()))
	}
	return 1
}

func (cs *CSVSource) CacheKey() string {
	return fmt.Sprintf("CSVSource %s", cs.name)
}

func (cs *CSVSource) Descriptor() string {
	return fmt.Sprintf("CSVSource %s", cs.name)
}

func (cs *CSVSource) Close() error { return nil }
