package Expr

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"geo-sparql-go/operators"
)

func distanceBatch(t *testing.T) *operators.RecordBatch {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("?name", arrow.BinaryTypes.String, false).
		WithField("?dist", arrow.PrimitiveTypes.Int64, false).
		Build()
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{
		rbb.GenStringArray("uni", "muenster", "eiffel"),
		rbb.GenIntArray(0, 2330, 419777),
	})
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func TestEvalComparison(t *testing.T) {
	batch := distanceBatch(t)
	// ?dist <= 5000
	pred := Binary(Column("?dist"), LessThanOrEqual, Literal(int64(5000)))
	out, err := EvalExpression(context.Background(), pred, batch)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	mask, ok := out.(*array.Boolean)
	if !ok {
		t.Fatalf("got %T, want a boolean array", out)
	}
	want := []bool{true, true, false}
	for i, w := range want {
		if mask.Value(i) != w {
			t.Errorf("row %d = %v, want %v", i, mask.Value(i), w)
		}
	}
}

func TestEvalLogical(t *testing.T) {
	batch := distanceBatch(t)
	// ?dist > 0 && ?dist < 10000
	pred := Binary(
		Binary(Column("?dist"), GreaterThan, Literal(int64(0))),
		And,
		Binary(Column("?dist"), LessThan, Literal(int64(10000))),
	)
	out, err := EvalExpression(context.Background(), pred, batch)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	mask := out.(*array.Boolean)
	want := []bool{false, true, false}
	for i, w := range want {
		if mask.Value(i) != w {
			t.Errorf("row %d = %v, want %v", i, mask.Value(i), w)
		}
	}
}

func TestEvalStringEquality(t *testing.T) {
	batch := distanceBatch(t)
	pred := Binary(Column("?name"), Equal, Literal("uni"))
	out, err := EvalExpression(context.Background(), pred, batch)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()
	mask := out.(*array.Boolean)
	if !mask.Value(0) || mask.Value(1) || mask.Value(2) {
		t.Fatal("string equality mask is wrong")
	}
}

func TestValid(t *testing.T) {
	batch := distanceBatch(t)
	schema := batch.Schema
	if !Valid(Binary(Column("?dist"), LessThan, Literal(int64(1))), schema) {
		t.Fatal("a boolean predicate was rejected")
	}
	// bare column reference is not a predicate
	if Valid(Column("?dist"), schema) {
		t.Fatal("a bare int column was accepted as predicate")
	}
	// unknown variable
	if Valid(Binary(Column("?missing"), Equal, Literal(int64(1))), schema) {
		t.Fatal("a predicate over an unknown variable was accepted")
	}
	// type mismatch
	if Valid(Binary(Column("?dist"), Equal, Literal("uni")), schema) {
		t.Fatal("comparing int to string was accepted")
	}
}

func TestExpressionString(t *testing.T) {
	pred := Binary(Column("?dist"), LessThanOrEqual, Literal(int64(5000)))
	if got := pred.String(); got != "(?dist <= 5000)" {
		t.Fatalf("String() = %q", got)
	}
}
