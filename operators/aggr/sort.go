// Package aggr holds the blocking reordering operators, currently ORDER BY.
package aggr

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/operators"
)

var (
	_ = (operators.Operator)(&SortExec{})
)

var (
	ErrUnknownSortVariable = func(name string) error {
		return fmt.Errorf("cannot sort on %s, the child does not bind it", name)
	}
	ErrUnsortableColumn = func(dt arrow.DataType) error {
		return fmt.Errorf("cannot sort a column of type %s", dt)
	}
)

// SortKey orders the result by one variable. Undefined values sort last.
type SortKey struct {
	Variable  string
	Ascending bool
}

// SortExec materializes its child and reorders all columns by the sort keys.
// Typical use is ordering spatial join results by their distance column.
type SortExec struct {
	child   operators.Operator
	schema  *arrow.Schema
	keys    []SortKey
	keyCols []int
	done    bool
}

func NewSortExec(child operators.Operator, keys []SortKey) (*SortExec, error) {
	vars := child.VariableColumns()
	keyCols := make([]int, 0, len(keys))
	for _, k := range keys {
		col, ok := vars.Column(k.Variable)
		if !ok {
			return nil, ErrUnknownSortVariable(k.Variable)
		}
		keyCols = append(keyCols, col)
	}
	return &SortExec{
		child:   child,
		schema:  child.Schema(),
		keys:    keys,
		keyCols: keyCols,
	}, nil
}

// read everything into memory and sort, no external merge
func (s *SortExec) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	mem := memory.NewGoAllocator()
	all, err := operators.Materialize(ctx, s.child, mem)
	if err != nil {
		return nil, err
	}
	perm := make([]int, all.RowCount)
	for i := range perm {
		perm[i] = i
	}
	var sortErr error
	sort.SliceStable(perm, func(a, b int) bool {
		for ki, col := range s.keyCols {
			cmp, err := compareAt(all.Columns[col], perm[a], perm[b])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			if cmp == 0 {
				continue
			}
			// undefined values stay last in both directions
			if s.keys[ki].Ascending || all.Columns[col].IsNull(perm[a]) || all.Columns[col].IsNull(perm[b]) {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}

	idxB := array.NewInt64Builder(mem)
	for _, p := range perm {
		idxB.Append(int64(p))
	}
	idxArr := idxB.NewArray()
	idxB.Release()
	defer idxArr.Release()

	sorted := make([]arrow.Array, len(all.Columns))
	for i, col := range all.Columns {
		sorted[i], err = compute.TakeArray(ctx, col, idxArr)
		if err != nil {
			return nil, err
		}
	}
	operators.ReleaseArrays(all.Columns)
	s.done = true
	return &operators.RecordBatch{
		Schema:   s.schema,
		Columns:  sorted,
		RowCount: all.RowCount,
	}, nil
}

// compareAt orders two rows of one column, undefined values last
func compareAt(arr arrow.Array, i, j int) (int, error) {
	in, jn := arr.IsNull(i), arr.IsNull(j)
	switch {
	case in && jn:
		return 0, nil
	case in:
		return 1, nil
	case jn:
		return -1, nil
	}
	switch col := arr.(type) {
	case *array.Int64:
		return compareOrdered(col.Value(i), col.Value(j)), nil
	case *array.Float64:
		return compareOrdered(col.Value(i), col.Value(j)), nil
	case *array.String:
		return strings.Compare(col.Value(i), col.Value(j)), nil
	case *array.Boolean:
		return compareBool(col.Value(i), col.Value(j)), nil
	default:
		return 0, ErrUnsortableColumn(arr.DataType())
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func (s *SortExec) Schema() *arrow.Schema { return s.schema }

func (s *SortExec) VariableColumns() operators.VariableMap { return s.child.VariableColumns() }

func (s *SortExec) ResultWidth() int { return s.child.ResultWidth() }

func (s *SortExec) ResultSortedOn() []int { return s.keyCols }

func (s *SortExec) KnownEmpty() bool { return s.child.KnownEmpty() }

func (s *SortExec) SizeEstimate() uint64 { return s.child.SizeEstimate() }

func (s *SortExec) CostEstimate() uint64 {
	// sorting is n log n on top of the child
	size := s.child.SizeEstimate()
	cost := s.child.CostEstimate()
	if size > 1 {
		cost += size * uint64(logBase2(size))
	}
	return cost
}

func (s *SortExec) Multiplicity(col int) float64 { return s.child.Multiplicity(col) }

func (s *SortExec) CacheKey() string {
	var b strings.Builder
	b.WriteString("SortExec")
	for _, k := range s.keys {
		dir := "DESC"
		if k.Ascending {
			dir = "ASC"
		}
		fmt.Fprintf(&b, " %s %s", k.Variable, dir)
	}
	fmt.Fprintf(&b, "\nChild:\n%s\n", s.child.CacheKey())
	return b.String()
}

func (s *SortExec) Descriptor() string {
	vars := make([]string, len(s.keys))
	for i, k := range s.keys {
		vars[i] = k.Variable
	}
	return fmt.Sprintf("SortExec on %s", strings.Join(vars, ", "))
}

func (s *SortExec) Close() error { return s.child.Close() }

func logBase2(n uint64) int {
	bits := 0
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}
