package filter

import (
	"context"
	"errors"
	"io"
	"testing"

	"geo-sparql-go/operators/project"
)

func TestLimitExec(t *testing.T) {
	src, err := project.NewInMemorySource("numbers",
		[]string{"?n"},
		[]any{[]int64{1, 2, 3, 4, 5}})
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLimitExec(src, 3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := l.Next(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first.RowCount != 2 {
		t.Fatalf("first batch has %d rows", first.RowCount)
	}
	second, err := l.Next(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if second.RowCount != 1 {
		t.Fatalf("second batch has %d rows, want the remaining 1", second.RowCount)
	}
	if _, err := l.Next(ctx, 1); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted limit returned %v, want io.EOF", err)
	}
}

func TestLimitExecEstimates(t *testing.T) {
	src, err := project.NewInMemorySource("numbers",
		[]string{"?n"},
		[]any{[]int64{1, 2, 3, 4, 5}})
	if err != nil {
		t.Fatal(err)
	}
	l, err := NewLimitExec(src, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := l.SizeEstimate(); got != 3 {
		t.Fatalf("size estimate = %d, want 3", got)
	}

	wide, err := NewLimitExec(src, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got := wide.SizeEstimate(); got != 5 {
		t.Fatalf("size estimate = %d, want the child size 5", got)
	}

	zero, err := NewLimitExec(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !zero.KnownEmpty() {
		t.Fatal("limit 0 should be known empty")
	}
}
