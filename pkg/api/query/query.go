package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/testsuite"
)

const (
	runTimeLayout   = "2006-01-02T15:04:05"
	graphDateLayout = "2006-01-02 15:04:05"
)

// ErrNotGraphable is returned when a graph is requested for a metric that
// does not hold numbers.
var ErrNotGraphable = errors.New("metric is not graphable")

// Service turns store rows into API responses for one database.
type Service struct {
	store       store.Store
	generatedBy string
}

// NewService creates a query service over st. version is reported in the
// generated_by field of every envelope.
func NewService(st store.Store, version string) *Service {
	return &Service{
		store:       st,
		generatedBy: GeneratedBy(version),
	}
}

func (q *Service) suite(name string) (*testsuite.Suite, error) {
	s, ok := q.store.Suite(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownSuite, name)
	}

	return s, nil
}

func (q *Service) envelope() *Envelope {
	return &Envelope{GeneratedBy: q.generatedBy}
}

// Machines lists every machine of the suite in summary form.
func (q *Service) Machines(ctx context.Context, suite string) (*Envelope, error) {
	machines, err := q.store.ListMachines(ctx, suite)
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Machines = make([]Object, 0, len(machines))

	for i := range machines {
		env.Machines = append(env.Machines, machineObject(&machines[i], false))
	}

	return env, nil
}

// Machine returns one machine in detail form together with all its runs.
func (q *Service) Machine(
	ctx context.Context, suite string, id uint,
) (*Envelope, error) {
	machine, err := q.store.GetMachine(ctx, suite, id)
	if err != nil {
		return nil, err
	}

	runs, err := q.store.ListRunsByMachine(ctx, suite, id)
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Machines = []Object{machineObject(machine, true)}
	env.Runs = make([]Object, 0, len(runs))

	for i := range runs {
		env.Runs = append(env.Runs, runObject(&runs[i]))
	}

	return env, nil
}

// Order returns one order.
func (q *Service) Order(
	ctx context.Context, suite string, id uint,
) (*Envelope, error) {
	s, err := q.suite(suite)
	if err != nil {
		return nil, err
	}

	order, err := q.store.GetOrder(ctx, suite, id)
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Orders = []Object{orderObject(s, order)}

	return env, nil
}

// Run returns one run together with all its samples.
func (q *Service) Run(
	ctx context.Context, suite string, id uint,
) (*Envelope, error) {
	s, err := q.suite(suite)
	if err != nil {
		return nil, err
	}

	run, err := q.store.GetRun(ctx, suite, id)
	if err != nil {
		return nil, err
	}

	rows, err := q.store.ListSamplesByRuns(ctx, suite, []uint{id})
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Runs = []Object{runObject(run)}
	env.Samples = sampleObjects(s, rows)

	return env, nil
}

// Samples returns the samples of the distinct runs in runIDs. Ids that name
// no run contribute nothing.
func (q *Service) Samples(
	ctx context.Context, suite string, runIDs []uint,
) (*Envelope, error) {
	s, err := q.suite(suite)
	if err != nil {
		return nil, err
	}

	rows, err := q.store.ListSamplesByRuns(ctx, suite, distinct(runIDs))
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Samples = sampleObjects(s, rows)

	return env, nil
}

// Sample returns one sample.
func (q *Service) Sample(
	ctx context.Context, suite string, id uint,
) (*Envelope, error) {
	s, err := q.suite(suite)
	if err != nil {
		return nil, err
	}

	row, err := q.store.GetSample(ctx, suite, id)
	if err != nil {
		return nil, err
	}

	env := q.envelope()
	env.Samples = []Object{sampleObject(s, row)}

	return env, nil
}

// Graph returns the series of metric values of testID on machineID in
// ascending revision order. metric is a metric index or name. A positive
// limit keeps only the last limit points.
func (q *Service) Graph(
	ctx context.Context,
	suite string,
	machineID, testID uint,
	metric string,
	limit int,
) ([]GraphPoint, error) {
	s, err := q.suite(suite)
	if err != nil {
		return nil, err
	}

	m, _, ok := s.Metric(metric)
	if !ok {
		return nil, fmt.Errorf("metric %q: %w", metric, store.ErrNotFound)
	}

	if !m.Graphable() {
		return nil, fmt.Errorf("metric %q: %w", m.Name, ErrNotGraphable)
	}

	if _, err := q.store.GetMachine(ctx, suite, machineID); err != nil {
		return nil, err
	}

	if _, err := q.store.GetTest(ctx, suite, testID); err != nil {
		return nil, err
	}

	rows, err := q.store.ListGraphRows(ctx, suite, machineID, testID)
	if err != nil {
		return nil, err
	}

	type placed struct {
		point GraphPoint
		rev   string
		start time.Time
	}

	series := make([]placed, 0, len(rows))

	for i := range rows {
		row := &rows[i]

		value, ok := toFloat(row.Metrics[m.Name])
		if !ok {
			continue
		}

		series = append(series, placed{
			point: GraphPoint{
				Order: testsuite.ConvertRevision(row.OrderRevision),
				Value: value,
				Meta: GraphPointMeta{
					Date:  row.StartTime.UTC().Format(graphDateLayout),
					Label: row.OrderRevision,
					RunID: strconv.FormatUint(uint64(row.RunID), 10),
				},
			},
			rev:   row.OrderRevision,
			start: row.StartTime,
		})
	}

	// Rows arrive in run id order, which the stable sort keeps for ties.
	sort.SliceStable(series, func(i, j int) bool {
		if c := testsuite.CompareRevisions(series[i].rev, series[j].rev); c != 0 {
			return c < 0
		}

		return series[i].start.Before(series[j].start)
	})

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}

	points := make([]GraphPoint, 0, len(series))
	for _, p := range series {
		points = append(points, p.point)
	}

	return points, nil
}

func machineObject(m *store.Machine, detail bool) Object {
	obj := Object{
		"id":       m.ID,
		"name":     m.Name,
		"hardware": m.Hardware,
		"os":       m.OS,
	}

	if detail {
		obj["uname"] = m.Uname
	}

	return obj
}

func orderObject(s *testsuite.Suite, o *store.Order) Object {
	return Object{
		"id":         o.ID,
		"name":       o.Revision,
		s.OrderField: o.Revision,
	}
}

// runObject flattens the run parameters next to the fixed run columns.
// Fixed columns win on name clashes.
func runObject(r *store.RunWithOrder) Object {
	obj := make(Object, len(r.Parameters)+8)

	for k, v := range r.Parameters {
		obj[k] = v
	}

	obj["id"] = r.ID
	obj["machine_id"] = r.MachineID
	obj["order_id"] = r.OrderID
	obj["order"] = r.OrderRevision
	obj["start_time"] = r.StartTime.UTC().Format(runTimeLayout)
	obj["end_time"] = r.EndTime.UTC().Format(runTimeLayout)
	obj["imported_from"] = nil
	obj["simple_run_id"] = nil

	if r.ImportedFrom != "" {
		obj["imported_from"] = r.ImportedFrom
	}

	if r.SimpleRunID != nil {
		obj["simple_run_id"] = *r.SimpleRunID
	}

	return obj
}

func sampleObjects(s *testsuite.Suite, rows []store.SampleRow) []Object {
	out := make([]Object, 0, len(rows))
	for i := range rows {
		out = append(out, sampleObject(s, &rows[i]))
	}

	return out
}

// sampleObject emits every suite metric; unset ones are null.
func sampleObject(s *testsuite.Suite, row *store.SampleRow) Object {
	obj := make(Object, len(s.Metrics)+4)

	for _, m := range s.Metrics {
		obj[m.Name] = row.Metrics[m.Name]
	}

	obj["id"] = row.ID
	obj["run_id"] = row.RunID
	obj["name"] = row.TestName
	obj[s.OrderField] = row.OrderRevision

	return obj
}

func distinct(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
