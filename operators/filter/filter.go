// Package filter implements the FILTER and LIMIT operators of the engine.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"

	"geo-sparql-go/Expr"
	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&FilterExec{})
)

// FilterExec keeps only the rows of its child for which the predicate
// evaluates to true.
type FilterExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	predicate Expr.Expression
	done      bool
}

func NewFilterExec(input operators.Operator, pred Expr.Expression) (*FilterExec, error) {
	if !Expr.Valid(pred, input.Schema()) {
		return nil, errors.New("predicate passed to FilterExec is invalid")
	}
	return &FilterExec{
		input:     input,
		predicate: pred,
		schema:    input.Schema(),
	}, nil
}

func (f *FilterExec) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return nil, errors.New("must pass in wanted batch size > 0")
	}
	if f.done {
		return nil, io.EOF
	}
	childBatch, err := f.input.Next(ctx, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.done = true
			return nil, io.EOF
		}
		return nil, err
	}
	booleanMask, err := Expr.EvalExpression(ctx, f.predicate, childBatch)
	if err != nil {
		return nil, err
	}
	boolArr, ok := booleanMask.(*array.Boolean)
	if !ok {
		return nil, errors.New("predicate did not evaluate to boolean array")
	}
	filteredCol := make([]arrow.Array, len(childBatch.Columns))
	for i, col := range childBatch.Columns {
		filteredCol[i], err = ApplyBooleanMask(ctx, col, boolArr)
		if err != nil {
			return nil, err
		}
	}
	booleanMask.Release()
	// release old columns
	operators.ReleaseArrays(childBatch.Columns)
	var size uint64
	if len(filteredCol) > 0 {
		size = uint64(filteredCol[0].Len())
	}

	return &operators.RecordBatch{
		Schema:   childBatch.Schema,
		Columns:  filteredCol,
		RowCount: size,
	}, nil
}

func (f *FilterExec) Schema() *arrow.Schema { return f.schema }

func (f *FilterExec) VariableColumns() operators.VariableMap { return f.input.VariableColumns() }

func (f *FilterExec) ResultWidth() int { return f.input.ResultWidth() }

// filtering preserves the order of its child
func (f *FilterExec) ResultSortedOn() []int { return f.input.ResultSortedOn() }

func (f *FilterExec) KnownEmpty() bool { return f.input.KnownEmpty() }

// crude selectivity guess of one half, the planner only needs a rough hint
func (f *FilterExec) SizeEstimate() uint64 { return f.input.SizeEstimate() / 2 }

func (f *FilterExec) CostEstimate() uint64 {
	return f.input.CostEstimate() + f.input.SizeEstimate()
}

func (f *FilterExec) Multiplicity(col int) float64 { return f.input.Multiplicity(col) }

func (f *FilterExec) CacheKey() string {
	return fmt.Sprintf("FilterExec %s\nChild:\n%s\n", f.predicate.String(), f.input.CacheKey())
}

func (f *FilterExec) Descriptor() string {
	return fmt.Sprintf("FilterExec %s", f.predicate.String())
}

func (f *FilterExec) Close() error {
	return f.input.Close()
}

func ApplyBooleanMask(ctx context.Context, col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	datum, err := compute.Filter(
		ctx,
		compute.NewDatum(col),
		compute.NewDatum(mask),
		*compute.DefaultFilterOptions(),
	)
	if err != nil {
		return nil, err
	}

	arr := datum.(*compute.ArrayDatum).MakeArray()
	return arr, nil
}
