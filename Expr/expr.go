// Package Expr evaluates SPARQL FILTER style expressions over record
// batches: variable references, literals and binary comparisons, computed
// columnar with arrow compute kernels.
package Expr

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/scalar"

	"geo-sparql-go/operators"
)

var (
	ErrUnsupportedExpression = func(info string) error {
		return fmt.Errorf("unsupported expression passed to EvalExpression: %s", info)
	}
	ErrCantCompareDifferentTypes = func(leftType, rightType arrow.DataType) error {
		return fmt.Errorf("cannot compare different data types: %s and %s", leftType, rightType)
	}
	ErrUnknownVariableInExpr = func(name string) error {
		return fmt.Errorf("expression references variable %s, which the input does not bind", name)
	}
)

type binaryOperator int

const (
	// comparison
	Equal binaryOperator = iota + 1
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	// logical
	And
	Or
)

func (op binaryOperator) String() string {
	switch op {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case And:
		return "&&"
	case Or:
		return "||"
	default:
		return "?op?"
	}
}

// computeFunction maps an operator to its arrow compute kernel name.
func (op binaryOperator) computeFunction() string {
	switch op {
	case Equal:
		return "equal"
	case NotEqual:
		return "not_equal"
	case LessThan:
		return "less"
	case LessThanOrEqual:
		return "less_equal"
	case GreaterThan:
		return "greater"
	case GreaterThanOrEqual:
		return "greater_equal"
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return ""
	}
}

type Expression interface {
	String() string
}

// ColumnResolve references a bound query variable, e.g. ?dist.
type ColumnResolve struct {
	Name string
}

func (c *ColumnResolve) String() string { return c.Name }

// LiteralResolve is a constant: string, int64, float64 or bool.
type LiteralResolve struct {
	Value any
}

func (l *LiteralResolve) String() string { return fmt.Sprintf("%v", l.Value) }

type BinaryExpr struct {
	Left  Expression
	Right Expression
	Op    binaryOperator
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op.String(), b.Right.String())
}

func Column(name string) *ColumnResolve { return &ColumnResolve{Name: name} }

func Literal(value any) *LiteralResolve { return &LiteralResolve{Value: value} }

func Binary(left Expression, op binaryOperator, right Expression) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: op}
}

func literalDataType(value any) (arrow.DataType, error) {
	switch value.(type) {
	case string:
		return arrow.BinaryTypes.String, nil
	case int, int64:
		return arrow.PrimitiveTypes.Int64, nil
	case float64:
		return arrow.PrimitiveTypes.Float64, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, ErrUnsupportedExpression(fmt.Sprintf("literal of type %T", value))
	}
}

// ExprDataType resolves the arrow type an expression evaluates to.
func ExprDataType(e Expression, schema *arrow.Schema) (arrow.DataType, error) {
	switch expr := e.(type) {
	case *ColumnResolve:
		idxs := schema.FieldIndices(expr.Name)
		if len(idxs) == 0 {
			return nil, ErrUnknownVariableInExpr(expr.Name)
		}
		return schema.Field(idxs[0]).Type, nil
	case *LiteralResolve:
		return literalDataType(expr.Value)
	case *BinaryExpr:
		lt, err := ExprDataType(expr.Left, schema)
		if err != nil {
			return nil, err
		}
		rt, err := ExprDataType(expr.Right, schema)
		if err != nil {
			return nil, err
		}
		if !arrow.TypeEqual(lt, rt) && expr.Op != And && expr.Op != Or {
			return nil, ErrCantCompareDifferentTypes(lt, rt)
		}
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, ErrUnsupportedExpression(fmt.Sprintf("%T", e))
	}
}

func literalScalar(value any) (scalar.Scalar, error) {
	switch v := value.(type) {
	case string:
		return scalar.NewStringScalar(v), nil
	case int:
		return scalar.NewInt64Scalar(int64(v)), nil
	case int64:
		return scalar.NewInt64Scalar(v), nil
	case float64:
		return scalar.NewFloat64Scalar(v), nil
	case bool:
		return scalar.NewBooleanScalar(v), nil
	default:
		return nil, ErrUnsupportedExpression(fmt.Sprintf("literal of type %T", value))
	}
}

func evalDatum(ctx context.Context, e Expression, batch *operators.RecordBatch) (compute.Datum, error) {
	switch expr := e.(type) {
	case *ColumnResolve:
		idxs := batch.Schema.FieldIndices(expr.Name)
		if len(idxs) == 0 {
			return nil, ErrUnknownVariableInExpr(expr.Name)
		}
		return compute.NewDatum(batch.Columns[idxs[0]]), nil
	case *LiteralResolve:
		s, err := literalScalar(expr.Value)
		if err != nil {
			return nil, err
		}
		return compute.NewDatum(s), nil
	case *BinaryExpr:
		left, err := evalDatum(ctx, expr.Left, batch)
		if err != nil {
			return nil, err
		}
		defer left.Release()
		right, err := evalDatum(ctx, expr.Right, batch)
		if err != nil {
			return nil, err
		}
		defer right.Release()
		fn := expr.Op.computeFunction()
		if fn == "" {
			return nil, ErrUnsupportedExpression(expr.String())
		}
		return compute.CallFunction(ctx, fn, nil, left, right)
	default:
		return nil, ErrUnsupportedExpression(fmt.Sprintf("%T", e))
	}
}

// EvalExpression evaluates an expression against a batch, returning one value
// per row.
func EvalExpression(ctx context.Context, e Expression, batch *operators.RecordBatch) (arrow.Array, error) {
	datum, err := evalDatum(ctx, e, batch)
	if err != nil {
		return nil, err
	}
	defer datum.Release()
	arrDatum, ok := datum.(*compute.ArrayDatum)
	if !ok {
		return nil, ErrUnsupportedExpression(
			fmt.Sprintf("%s does not evaluate to a column", e.String()))
	}
	return arrDatum.MakeArray(), nil
}

// Valid reports whether the expression can be evaluated against the schema
// and produces a boolean column, i.e. can serve as a FILTER predicate.
func Valid(e Expression, schema *arrow.Schema) bool {
	dt, err := ExprDataType(e, schema)
	if err != nil {
		return false
	}
	return arrow.TypeEqual(dt, arrow.FixedWidthTypes.Boolean)
}
