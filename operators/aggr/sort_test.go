package aggr

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/operators"
	"geo-sparql-go/operators/project"
)

func distanceSource(t *testing.T) *project.InMemorySource {
	t.Helper()
	src, err := project.NewInMemorySource("distances",
		[]string{"?name", "?dist"},
		[]any{
			[]string{"eiffel", "uni", "muenster"},
			[]int64{419777, 0, 2330},
		})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func TestSortExecAscending(t *testing.T) {
	s, err := NewSortExec(distanceSource(t), []SortKey{{Variable: "?dist", Ascending: true}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := operators.Materialize(context.Background(), s, memory.NewGoAllocator())
	if err != nil {
		t.Fatal(err)
	}
	if out.RowCount != 3 {
		t.Fatalf("sorted result has %d rows", out.RowCount)
	}
	names := out.Columns[0].(*array.String)
	for i, want := range []string{"uni", "muenster", "eiffel"} {
		if names.Value(i) != want {
			t.Errorf("row %d = %q, want %q", i, names.Value(i), want)
		}
	}
	dists := out.Columns[1].(*array.Int64)
	for i := 1; i < int(out.RowCount); i++ {
		if dists.Value(i) < dists.Value(i-1) {
			t.Fatal("result is not ascending")
		}
	}
}

func TestSortExecDescending(t *testing.T) {
	s, err := NewSortExec(distanceSource(t), []SortKey{{Variable: "?dist"}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := operators.Materialize(context.Background(), s, memory.NewGoAllocator())
	if err != nil {
		t.Fatal(err)
	}
	names := out.Columns[0].(*array.String)
	if names.Value(0) != "eiffel" {
		t.Fatalf("descending sort starts with %q", names.Value(0))
	}
}

func TestSortExecContract(t *testing.T) {
	s, err := NewSortExec(distanceSource(t), []SortKey{{Variable: "?dist", Ascending: true}})
	if err != nil {
		t.Fatal(err)
	}
	sorted := s.ResultSortedOn()
	if len(sorted) != 1 || sorted[0] != 1 {
		t.Fatalf("sorted columns = %v, want [1]", sorted)
	}
	if s.ResultWidth() != 2 {
		t.Fatal("sort changed the width")
	}
	if _, err := NewSortExec(distanceSource(t), []SortKey{{Variable: "?missing"}}); err == nil {
		t.Fatal("sorting on an unknown variable was accepted")
	}
}
