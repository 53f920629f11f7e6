package spatial

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/operators"
)

// assembleOutput turns the matched pairs into the result batch: all columns of
// the chosen left row, then all columns of the chosen right row, then the
// distance column when enabled. This column order is exactly what
// VariableColumns promises for the same node.
func assembleOutput(
	ctx context.Context,
	mem memory.Allocator,
	schema *arrow.Schema,
	left, right *operators.RecordBatch,
	pairs []joinPair,
	dists []int64,
	includeDist bool,
) (*operators.RecordBatch, error) {
	if len(pairs) == 0 {
		return &operators.RecordBatch{
			Schema:   schema,
			Columns:  []arrow.Array{},
			RowCount: 0,
		}, nil
	}

	leftIdxArr, rightIdxArr := buildIndexArrays(mem, pairs)
	defer leftIdxArr.Release()
	defer rightIdxArr.Release()

	output := make([]arrow.Array, 0, schema.NumFields())
	for _, col := range left.Columns {
		taken, err := compute.TakeArray(ctx, col, leftIdxArr)
		if err != nil {
			return nil, err
		}
		output = append(output, taken)
	}
	for _, col := range right.Columns {
		taken, err := compute.TakeArray(ctx, col, rightIdxArr)
		if err != nil {
			return nil, err
		}
		output = append(output, taken)
	}
	if includeDist {
		db := array.NewInt64Builder(mem)
		db.AppendValues(dists, nil)
		output = append(output, db.NewArray())
		db.Release()
	}

	return &operators.RecordBatch{
		Schema:   schema,
		Columns:  output,
		RowCount: uint64(len(pairs)),
	}, nil
}

func buildIndexArrays(mem memory.Allocator, pairs []joinPair) (arrow.Array, arrow.Array) {
	// int64 indexes, the child results are already fully materialized
	lb := array.NewInt64Builder(mem)
	rb := array.NewInt64Builder(mem)

	for _, p := range pairs {
		lb.Append(int64(p.leftRow))
		rb.Append(int64(p.rightRow))
	}

	leftIdxArr := lb.NewArray()
	rightIdxArr := rb.NewArray()
	lb.Release()
	rb.Release()

	return leftIdxArr, rightIdxArr
}
