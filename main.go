package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/config"
	"geo-sparql-go/operators"
	"geo-sparql-go/operators/project"
	"geo-sparql-go/operators/spatial"
)

// small demo plan: which of the landmarks lie within 1000km of each other?
// usage: geo-sparql-go [config.yaml] [remote-dataset.csv]
// A remote dataset (a CSV object with a ?name,?point1 header, fetched from
// the object store configured through the environment) replaces the built-in
// left side.
func main() {
	config.LoadSecrets()
	if len(os.Args) > 1 {
		if err := config.Decode(os.Args[1]); err != nil {
			panic(err)
		}
	}

	names := []string{"Uni Freiburg", "Muenster Freiburg", "Eiffel Tower", "London Eye", "Statue of Liberty"}
	points := []string{
		"POINT(7.83505 48.01267)",
		"POINT(7.85298 47.99557)",
		"POINT(2.29451 48.85825)",
		"POINT(-0.11957 51.50333)",
		"POINT(-74.04454 40.68925)",
	}

	var left operators.Operator
	var err error
	if len(os.Args) > 2 {
		left, err = project.NewCSVFromObjectStore(os.Args[2])
	} else {
		left, err = project.NewInMemorySource("landmarks-left", []string{"?name", "?point1"}, []any{names, points})
	}
	if err != nil {
		log.Fatalf("building left child: %v", err)
	}
	right, err := project.NewInMemorySource("landmarks-right", []string{"?obj", "?point2"}, []any{names, points})
	if err != nil {
		log.Fatalf("building right child: %v", err)
	}

	join, err := spatial.NewSpatialJoin(spatial.Triple{
		Subject:   "?point1",
		Predicate: spatial.FormatMaxDistance(1000000),
		Object:    "?point2",
	})
	if err != nil {
		log.Fatalf("building spatial join: %v", err)
	}
	join, err = join.AddChild(left, "?point1")
	if err != nil {
		log.Fatalf("attaching left child: %v", err)
	}
	join, err = join.AddChild(right, "?point2")
	if err != nil {
		log.Fatalf("attaching right child: %v", err)
	}

	log.Printf("executing %s", join.Descriptor())
	result, err := operators.Materialize(context.Background(), join, memory.NewGoAllocator())
	if err != nil {
		log.Fatalf("computing the join: %v", err)
	}

	for _, entry := range join.VariableColumns().SortedByColumn() {
		fmt.Printf("%s\t", entry.Variable)
	}
	fmt.Println()
	for row := uint64(0); row < result.RowCount; row++ {
		for _, col := range result.Columns {
			fmt.Printf("%s\t", col.ValueStr(int(row)))
		}
		fmt.Println()
	}
	fmt.Printf("%d pairs\n", result.RowCount)
}
