package filter

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"

	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&LimitExec{})
)

// LimitExec caps the number of rows produced by its child.
type LimitExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	count     uint16
	remaining uint16
}

func NewLimitExec(input operators.Operator, count uint16) (*LimitExec, error) {
	return &LimitExec{
		input:     input,
		schema:    input.Schema(),
		count:     count,
		remaining: count,
	}, nil
}

func (l *LimitExec) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return &operators.RecordBatch{
			Schema:   l.schema,
			Columns:  []arrow.Array{},
			RowCount: 0,
		}, nil
	}
	if l.remaining == 0 {
		return nil, io.EOF
	}
	childN := n
	if childN > l.remaining {
		childN = l.remaining
	}
	childBatch, err := l.input.Next(ctx, childN)
	if err != nil {
		return nil, err
	}
	l.remaining -= uint16(min(uint64(childN), childBatch.RowCount))
	return childBatch, nil
}

func (l *LimitExec) Schema() *arrow.Schema { return l.schema }

func (l *LimitExec) VariableColumns() operators.VariableMap { return l.input.VariableColumns() }

func (l *LimitExec) ResultWidth() int { return l.input.ResultWidth() }

func (l *LimitExec) ResultSortedOn() []int { return l.input.ResultSortedOn() }

func (l *LimitExec) KnownEmpty() bool { return l.count == 0 || l.input.KnownEmpty() }

func (l *LimitExec) SizeEstimate() uint64 {
	if childSize := l.input.SizeEstimate(); childSize < uint64(l.count) {
		return childSize
	}
	return uint64(l.count)
}

func (l *LimitExec) CostEstimate() uint64 { return l.input.CostEstimate() }

func (l *LimitExec) Multiplicity(col int) float64 { return l.input.Multiplicity(col) }

func (l *LimitExec) CacheKey() string {
	return fmt.Sprintf("LimitExec %d\nChild:\n%s\n", l.count, l.input.CacheKey())
}

func (l *LimitExec) Descriptor() string {
	return fmt.Sprintf("LimitExec %d", l.count)
}

func (l *LimitExec) Close() error {
	return l.input.Close()
}
