// Package spatial implements the spatial distance join: all pairs of rows of
// the two children whose point columns are within a maximum great circle
// distance of each other, with the computed distance appended to each pair.
package spatial

import (
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"geo-sparql-go/config"
	"geo-sparql-go/geo"
	"geo-sparql-go/operators"
)

// DistanceVariable is the name of the column holding the distance in meters.
// The surrounding query engine recognizes this exact marker.
const DistanceVariable = "?distOfTheTwoObjectsAddedInternally"

const maxDistancePrefix = "<max-distance-in-meters:"

var maxDistanceRegex = regexp.MustCompile(`^<max-distance-in-meters:[0-9]+>$`)

var (
	ErrParseMaxDistance = func(predicate string) error {
		return fmt.Errorf("parsing the maximum distance for the spatial join from %q was not possible", predicate)
	}
	ErrVariableMismatch = func(variable, left, right string) error {
		return fmt.Errorf("variable %q matches neither join variable %q nor %q", variable, left, right)
	}
	ErrVariableNotInChild = func(variable, descriptor string) error {
		return fmt.Errorf("variable %q is not produced by child %q", variable, descriptor)
	}
	ErrMissingChild = func() error {
		return fmt.Errorf("the spatial join needs two children, but at least one is missing")
	}
	ErrNotAPointColumn = func(row int, detail string) error {
		return fmt.Errorf("row %d does not hold a WKT point: %s", row, detail)
	}
)

// Triple is the parsed query triple the join is created from. Subject and
// Object are the two point variables, the predicate encodes the maximum
// distance.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// SpatialJoin joins two child results on the distance between their point
// columns. The node is immutable: AddChild returns a new node, so the query
// planner can keep the original around while it explores join orders.
type SpatialJoin struct {
	triple      Triple
	leftVar     string
	rightVar    string
	maxDist     int64
	includeDist bool
	algo        joinAlgorithm
	useBaseline bool
	memLimit    uint64

	childLeft  operators.Operator
	childRight operators.Operator

	done bool
}

var _ operators.Operator = (*SpatialJoin)(nil)

type Option func(*SpatialJoin)

// WithBaselineAlgorithm selects the quadratic nested loop join instead of the
// r-tree accelerated one. Mostly useful to cross check results in tests.
func WithBaselineAlgorithm() Option {
	return func(sj *SpatialJoin) { sj.useBaseline = true }
}

// WithoutDistanceColumn drops the trailing distance column from the result.
func WithoutDistanceColumn() Option {
	return func(sj *SpatialJoin) { sj.includeDist = false }
}

// WithMemoryLimit overrides the configured per-operator memory limit.
func WithMemoryLimit(bytes uint64) Option {
	return func(sj *SpatialJoin) { sj.memLimit = bytes }
}

// NewSpatialJoin creates a spatial join from a parsed triple. The triple is
// needed for the variable names of the two children, which get added later
// through AddChild.
func NewSpatialJoin(triple Triple, opts ...Option) (*SpatialJoin, error) {
	if !operators.ValidVariable(triple.Subject) {
		return nil, operators.ErrInvalidVariable(triple.Subject)
	}
	if !operators.ValidVariable(triple.Object) {
		return nil, operators.ErrInvalidVariable(triple.Object)
	}
	maxDist, err := ParseMaxDistance(triple.Predicate)
	if err != nil {
		return nil, err
	}
	cfg := config.GetConfig()
	sj := &SpatialJoin{
		triple:      triple,
		leftVar:     triple.Subject,
		rightVar:    triple.Object,
		maxDist:     maxDist,
		includeDist: true,
		useBaseline: cfg.Spatial.UseBaselineAlgorithm,
		memLimit:    cfg.Spatial.MemoryLimitBytes,
	}
	for _, opt := range opts {
		opt(sj)
	}
	if sj.useBaseline {
		sj.algo = baselineJoin{}
	} else {
		sj.algo = boundingBoxJoin{}
	}
	return sj, nil
}

// ParseMaxDistance extracts the maximum distance in meters from a predicate of
// the exact form <max-distance-in-meters:N>. N is a run of decimal digits; any
// other character anywhere in the predicate is an error, as is overflowing
// an int64.
func ParseMaxDistance(predicate string) (int64, error) {
	if !maxDistanceRegex.MatchString(predicate) {
		return 0, ErrParseMaxDistance(predicate)
	}
	number := predicate[len(maxDistancePrefix) : len(predicate)-1]
	maxDist, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		// the regex only lets digits through, so this is an overflow
		return 0, ErrParseMaxDistance(predicate)
	}
	return maxDist, nil
}

// FormatMaxDistance is the inverse of ParseMaxDistance.
func FormatMaxDistance(maxDistMeters int64) string {
	return fmt.Sprintf("%s%d>", maxDistancePrefix, maxDistMeters)
}

// AddChild returns a new SpatialJoin with the child attached to the side its
// variable names. The receiver is left unchanged, sharing the other side's
// child with the returned node.
func (sj *SpatialJoin) AddChild(child operators.Operator, variable string) (*SpatialJoin, error) {
	if _, ok := child.VariableColumns()[variable]; !ok {
		return nil, ErrVariableNotInChild(variable, child.Descriptor())
	}
	next := *sj
	next.done = false
	switch variable {
	case sj.leftVar:
		next.childLeft = child
	case sj.rightVar:
		next.childRight = child
	default:
		return nil, ErrVariableMismatch(variable, sj.leftVar, sj.rightVar)
	}
	return &next, nil
}

// IsConstructed reports whether both children are attached. The query planner
// stops trying to add children once this is true.
func (sj *SpatialJoin) IsConstructed() bool {
	return sj.childLeft != nil && sj.childRight != nil
}

func (sj *SpatialJoin) GetChildren() (operators.Operator, operators.Operator, error) {
	if !sj.IsConstructed() {
		return nil, nil, ErrMissingChild()
	}
	return sj.childLeft, sj.childRight, nil
}

// MaxDistanceMeters returns the configured maximum distance.
func (sj *SpatialJoin) MaxDistanceMeters() int64 { return sj.maxDist }

func (sj *SpatialJoin) ResultWidth() int {
	if sj.IsConstructed() {
		// the join columns are not removed: unlike an equi join both point
		// columns stay in the result, each side keeps its own position
		width := sj.childLeft.ResultWidth() + sj.childRight.ResultWidth()
		if sj.includeDist {
			width++
		}
		return width
	} else if sj.childLeft != nil || sj.childRight != nil {
		// with one child attached the dummy result consists of the one
		// variable that is still unresolved
		return 1
	}
	// neither child attached, both variables unresolved
	return 2
}

// ResultSortedOn always reports an unsorted result: the r-tree algorithm
// cannot preserve any child ordering, so no ordering is advertised even when
// the baseline would keep one.
func (sj *SpatialJoin) ResultSortedOn() []int { return nil }

func (sj *SpatialJoin) CostEstimate() uint64 {
	if !sj.IsConstructed() {
		return 1
	}
	inputEstimate := sj.childLeft.SizeEstimate() * sj.childRight.SizeEstimate()
	if sj.useBaseline {
		return inputEstimate * inputEstimate
	}
	if inputEstimate == 0 {
		return 0
	}
	return inputEstimate * uint64(math.Log(float64(inputEstimate)))
}

func (sj *SpatialJoin) SizeEstimate() uint64 {
	if sj.IsConstructed() {
		return sj.childLeft.SizeEstimate() * sj.childRight.SizeEstimate()
	}
	return 1
}

func (sj *SpatialJoin) Multiplicity(col int) float64 {
	if col < 0 || col >= sj.ResultWidth() {
		panic(operators.ErrColumnOutOfRange(col, sj.ResultWidth()))
	}
	if !sj.IsConstructed() {
		return 1
	}
	if sj.includeDist && col == sj.ResultWidth()-1 {
		// each distance is assumed to be unique
		return 1
	}
	child := sj.childLeft
	column := col
	if col >= sj.childLeft.ResultWidth() {
		child = sj.childRight
		column = col - sj.childLeft.ResultWidth()
	}
	distinctness := float64(child.SizeEstimate()) / child.Multiplicity(column)
	return float64(sj.SizeEstimate()) / distinctness
}

func (sj *SpatialJoin) KnownEmpty() bool {
	return (sj.childLeft != nil && sj.childLeft.KnownEmpty()) ||
		(sj.childRight != nil && sj.childRight.KnownEmpty())
}

func (sj *SpatialJoin) CacheKey() string {
	if !sj.IsConstructed() {
		return "incomplete SpatialJoin class"
	}
	var b strings.Builder
	b.WriteString("SpatialJoin\nChild1:\n")
	b.WriteString(sj.childLeft.CacheKey())
	b.WriteString("\nChild2:\n")
	b.WriteString(sj.childRight.CacheKey())
	b.WriteString(fmt.Sprintf("\nmaxDist: %d\n", sj.maxDist))
	return b.String()
}

func (sj *SpatialJoin) Descriptor() string {
	return fmt.Sprintf("SpatialJoin: %s max distance of %d to %s",
		sj.leftVar, sj.maxDist, sj.rightVar)
}

// VariableColumns reports where each variable will live in the result. While
// children are missing, the unresolved variables are reported as possibly
// undefined at their canonical slots to push the planner into attaching them.
func (sj *SpatialJoin) VariableColumns() operators.VariableMap {
	vm := operators.VariableMap{}
	switch {
	case sj.childLeft == nil && sj.childRight == nil:
		vm[sj.leftVar] = operators.VarInfo{Column: 0, Defined: operators.PossiblyUndefined}
		vm[sj.rightVar] = operators.VarInfo{Column: 1, Defined: operators.PossiblyUndefined}
	case sj.childLeft != nil && sj.childRight == nil:
		vm[sj.rightVar] = operators.VarInfo{Column: 1, Defined: operators.PossiblyUndefined}
	case sj.childLeft == nil && sj.childRight != nil:
		vm[sj.leftVar] = operators.VarInfo{Column: 0, Defined: operators.PossiblyUndefined}
	default:
		widthLeft := sj.childLeft.ResultWidth()
		for _, entry := range sj.childLeft.VariableColumns().SortedByColumn() {
			vm[entry.Variable] = operators.VarInfo{
				Column:  entry.Info.Column,
				Defined: entry.Info.Defined,
			}
		}
		for _, entry := range sj.childRight.VariableColumns().SortedByColumn() {
			vm[entry.Variable] = operators.VarInfo{
				Column:  widthLeft + entry.Info.Column,
				Defined: entry.Info.Defined,
			}
		}
		if sj.includeDist {
			vm[DistanceVariable] = operators.VarInfo{
				Column:  widthLeft + sj.childRight.ResultWidth(),
				Defined: operators.AlwaysDefined,
			}
		}
	}
	return vm
}

func (sj *SpatialJoin) Schema() *arrow.Schema {
	if !sj.IsConstructed() {
		// dummy schema naming the still unresolved variables
		sb := &operators.SchemaBuilder{}
		for _, entry := range sj.VariableColumns().SortedByColumn() {
			sb.WithField(entry.Variable, arrow.BinaryTypes.String, true)
		}
		return sb.Build()
	}
	fields := make([]arrow.Field, 0, sj.ResultWidth())
	fields = append(fields, sj.childLeft.Schema().Fields()...)
	fields = append(fields, sj.childRight.Schema().Fields()...)
	if sj.includeDist {
		fields = append(fields, arrow.Field{
			Name: DistanceVariable,
			Type: arrow.PrimitiveTypes.Int64,
		})
	}
	return arrow.NewSchema(fields, nil)
}

// Next computes the full join result on the first call and returns it as one
// batch; subsequent calls return io.EOF. Computing is only legal once both
// children are attached.
func (sj *SpatialJoin) Next(ctx context.Context, n uint16) (*operators.RecordBatch, error) {
	if !sj.IsConstructed() {
		return nil, ErrMissingChild()
	}
	if sj.done {
		return nil, io.EOF
	}
	batch, err := sj.computeResult(ctx)
	if err != nil {
		return nil, err
	}
	sj.done = true
	return batch, nil
}

func (sj *SpatialJoin) Close() error {
	var err1, err2 error
	if sj.childLeft != nil {
		err1 = sj.childLeft.Close()
	}
	if sj.childRight != nil {
		err2 = sj.childRight.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// execInput carries everything an algorithm needs: the two materialized child
// results and the parsed point of every row of each side.
type execInput struct {
	left        *operators.RecordBatch
	right       *operators.RecordBatch
	leftPoints  []geo.Point
	rightPoints []geo.Point
	maxDist     int64
}

// joinPair indexes one output row into the two child results.
type joinPair struct {
	leftRow  int
	rightRow int
}

type joinAlgorithm interface {
	join(ctx context.Context, in *execInput) ([]joinPair, []int64, error)
}

func (sj *SpatialJoin) computeResult(ctx context.Context) (batch *operators.RecordBatch, err error) {
	defer operators.RecoverAllocLimit(&err)
	mem := operators.NewLimitedAllocator(memory.NewGoAllocator(), sj.memLimit)
	ctx = compute.WithAllocator(ctx, mem)

	left, err := operators.Materialize(ctx, sj.childLeft, mem)
	if err != nil {
		return nil, err
	}
	right, err := operators.Materialize(ctx, sj.childRight, mem)
	if err != nil {
		return nil, err
	}
	leftCol, _ := sj.childLeft.VariableColumns().Column(sj.leftVar)
	rightCol, _ := sj.childRight.VariableColumns().Column(sj.rightVar)

	leftPoints, err := extractPoints(ctx, left, leftCol)
	if err != nil {
		return nil, err
	}
	rightPoints, err := extractPoints(ctx, right, rightCol)
	if err != nil {
		return nil, err
	}

	pairs, dists, err := sj.algo.join(ctx, &execInput{
		left:        left,
		right:       right,
		leftPoints:  leftPoints,
		rightPoints: rightPoints,
		maxDist:     sj.maxDist,
	})
	if err != nil {
		return nil, err
	}
	return assembleOutput(ctx, mem, sj.Schema(), left, right, pairs, dists, sj.includeDist)
}

// extractPoints parses the WKT point of every row of the given column. A row
// whose cell is not a recognizable point is a fatal error, not skipped: a
// result size that depends on data quality is something the planner cannot
// estimate.
func extractPoints(ctx context.Context, batch *operators.RecordBatch, col int) ([]geo.Point, error) {
	if col < 0 || col >= len(batch.Columns) {
		return nil, operators.ErrColumnOutOfRange(col, len(batch.Columns))
	}
	strCol, ok := batch.Columns[col].(*array.String)
	if !ok {
		return nil, operators.ErrInvalidSchema(
			fmt.Sprintf("point column %d is %s, expected a string literal column",
				col, batch.Columns[col].DataType()))
	}
	points := make([]geo.Point, strCol.Len())
	for i := 0; i < strCol.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strCol.IsNull(i) {
			return nil, ErrNotAPointColumn(i, "cell is undefined")
		}
		p, err := geo.ParsePoint(strCol.Value(i))
		if err != nil {
			return nil, ErrNotAPointColumn(i, err.Error())
		}
		points[i] = p
	}
	return points, nil
}
