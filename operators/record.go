package operators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidSchema = func(info string) error {
		return fmt.Errorf("invalid schema was provided. context: %s", info)
	}
	ErrInvalidVariable = func(name string) error {
		return fmt.Errorf("%q is not a valid query variable, variables start with '?'", name)
	}
	ErrColumnOutOfRange = func(col, width int) error {
		return fmt.Errorf("column %d is out of range for an operator of width %d", col, width)
	}
)

// Operator is a node of a query execution tree. Next pulls up to n rows of the
// node's result; the planner-facing methods below are valid before the first
// Next call, so plans can be costed and reordered without executing anything.
type Operator interface {
	Next(ctx context.Context, n uint16) (*RecordBatch, error)
	Schema() *arrow.Schema
	// Call Operator.Close() after Next returns an io.EOF to clean up resources
	Close() error

	// VariableColumns maps every query variable of this operator's result to
	// its column index and definedness.
	VariableColumns() VariableMap
	ResultWidth() int
	SizeEstimate() uint64
	CostEstimate() uint64
	// Multiplicity is the average number of times a distinct value repeats in
	// the given column of the result.
	Multiplicity(col int) float64
	KnownEmpty() bool
	// ResultSortedOn lists the columns the result is sorted on, if any.
	ResultSortedOn() []int
	CacheKey() string
	Descriptor() string
}

type RecordBatch struct {
	Schema   *arrow.Schema
	Columns  []arrow.Array
	RowCount uint64
}

// Definedness states whether a result column holds a value in every row.
type Definedness int

const (
	AlwaysDefined Definedness = iota
	PossiblyUndefined
)

func (d Definedness) String() string {
	if d == AlwaysDefined {
		return "AlwaysDefined"
	}
	return "PossiblyUndefined"
}

// VarInfo locates a query variable inside a result table.
type VarInfo struct {
	Column  int
	Defined Definedness
}

// VariableMap maps variable names (including the leading '?') to their column.
type VariableMap map[string]VarInfo

type VarEntry struct {
	Variable string
	Info     VarInfo
}

// SortedByColumn returns the entries of the map canonicalized by column index.
// Insertion order of a VariableMap carries no meaning, so every composition of
// child maps goes through this.
func (vm VariableMap) SortedByColumn() []VarEntry {
	entries := make([]VarEntry, 0, len(vm))
	for v, info := range vm {
		entries = append(entries, VarEntry{Variable: v, Info: info})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Info.Column < entries[j].Info.Column
	})
	return entries
}

// Column returns the column index of a variable.
func (vm VariableMap) Column(variable string) (int, bool) {
	info, ok := vm[variable]
	if !ok {
		return 0, false
	}
	return info.Column, true
}

func ValidVariable(name string) bool {
	return strings.HasPrefix(name, "?") && len(name) > 1
}

type SchemaBuilder struct {
	fields []arrow.Field
}

type RecordBatchBuilder struct {
	SchemaBuilder *SchemaBuilder
}

func NewRecordBatchBuilder() *RecordBatchBuilder {
	return &RecordBatchBuilder{
		SchemaBuilder: &SchemaBuilder{
			fields: make([]arrow.Field, 0, 10),
		},
	}
}

func (sb *SchemaBuilder) WithField(name string, dtype arrow.DataType, nullable bool) *SchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: nullable,
	})
	return sb
}

func (sb *SchemaBuilder) Build() *arrow.Schema {
	return arrow.NewSchema(sb.fields, nil)
}

func (rbb *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(rbb.SchemaBuilder.fields, nil)
}

// schema is always right in case of type mismatches
func (rbb *RecordBatchBuilder) validate(schema *arrow.Schema, columns []arrow.Array) error {
	if len(schema.Fields()) != len(columns) {
		return ErrInvalidSchema("schema fields and column count do not match")
	}
	var errs []string
	for i := 0; i < len(columns); i++ {
		field := schema.Field(i)
		colType := columns[i].DataType()

		if !arrow.TypeEqual(colType, field.Type) {
			errs = append(errs,
				fmt.Sprintf("Type mismatch at position %d: column '%s' has type '%s', but schema expects '%s'.",
					i, field.Name, colType, field.Type))
		}
	}
	if len(errs) > 0 {
		return ErrInvalidSchema(strings.Join(errs, " "))
	}
	return nil
}

func (rbb *RecordBatchBuilder) NewRecordBatch(schema *arrow.Schema, columns []arrow.Array) (*RecordBatch, error) {
	if err := rbb.validate(schema, columns); err != nil {
		return nil, err
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}

func (rb *RecordBatch) DeepEqual(other *RecordBatch) bool {
	if !rb.Schema.Equal(other.Schema) {
		return false
	}
	if len(rb.Columns) != len(other.Columns) {
		return false
	}
	for i := 0; i < len(rb.Columns); i++ {
		if !array.Equal(rb.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

func ReleaseArrays(arrays []arrow.Array) {
	for _, arr := range arrays {
		if arr != nil {
			arr.Release()
		}
	}
}

// Materialize drains an operator into a single batch. Blocking operators like
// the spatial join start from fully materialized children.
func Materialize(ctx context.Context, o Operator, mem memory.Allocator) (*RecordBatch, error) {
	allArrays := make([]arrow.Array, o.Schema().NumFields())
	for {
		childBatch, err := o.Next(ctx, math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if childBatch == nil || childBatch.RowCount == 0 {
			continue
		}
		for i := range childBatch.Columns {
			if allArrays[i] == nil {
				allArrays[i] = childBatch.Columns[i]
				continue
			}
			largerArray, err := array.Concatenate([]arrow.Array{allArrays[i], childBatch.Columns[i]}, mem)
			if err != nil {
				return nil, err
			}
			allArrays[i] = largerArray
		}
	}
	// an operator that never produced a batch still has a well defined, empty result
	for i, arr := range allArrays {
		if arr == nil {
			allArrays[i] = array.MakeArrayOfNull(mem, o.Schema().Field(i).Type, 0)
		}
	}
	var rows uint64
	if len(allArrays) > 0 {
		rows = uint64(allArrays[0].Len())
	}
	return &RecordBatch{
		Schema:   o.Schema(),
		Columns:  allArrays,
		RowCount: rows,
	}, nil
}

func (rbb *RecordBatchBuilder) GenIntArray(values ...int) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(int64(v))
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenFloatArray(values ...float64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenStringArray(values ...string) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenBoolArray(values ...bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}
