// Package fixture reads YAML descriptions of an LNT instance's contents and
// loads them into a store. Fixtures seed fresh instances for demos and
// tests; they are not a report submission format.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/testsuite"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// timeLayouts are the accepted run timestamp formats. Zone-less values
// are taken as UTC.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Instance is the parsed content of a fixture file.
type Instance struct {
	Suite    string    `yaml:"suite,omitempty"`
	Machines []Machine `yaml:"machines,omitempty"`
	Orders   []Order   `yaml:"orders,omitempty"`
	Tests    []Test    `yaml:"tests,omitempty"`
	Runs     []Run     `yaml:"runs,omitempty"`
	Samples  []Sample  `yaml:"samples,omitempty"`
}

// Machine is a fixture machine.
type Machine struct {
	ID       uint   `yaml:"id,omitempty"`
	Name     string `yaml:"name"`
	Hardware string `yaml:"hardware"`
	OS       string `yaml:"os"`
	Uname    string `yaml:"uname,omitempty"`
}

// Order is a fixture order.
type Order struct {
	ID       uint   `yaml:"id,omitempty"`
	Revision string `yaml:"revision"`
}

// Test is a fixture test.
type Test struct {
	ID   uint   `yaml:"id,omitempty"`
	Name string `yaml:"name"`
}

// Run is a fixture run. The order may be given by id or by revision; a
// revision with no matching order creates one.
type Run struct {
	ID           uint           `yaml:"id,omitempty"`
	MachineID    uint           `yaml:"machine_id"`
	OrderID      uint           `yaml:"order_id,omitempty"`
	Order        string         `yaml:"order,omitempty"`
	StartTime    string         `yaml:"start_time"`
	EndTime      string         `yaml:"end_time,omitempty"`
	ImportedFrom string         `yaml:"imported_from,omitempty"`
	SimpleRunID  *int64         `yaml:"simple_run_id,omitempty"`
	Parameters   map[string]any `yaml:"parameters,omitempty"`
}

// Sample is a fixture sample. The test may be given by id or by name; a
// name with no matching test creates one.
type Sample struct {
	ID      uint           `yaml:"id,omitempty"`
	RunID   uint           `yaml:"run_id"`
	TestID  uint           `yaml:"test_id,omitempty"`
	Test    string         `yaml:"test,omitempty"`
	Metrics map[string]any `yaml:"metrics,omitempty"`
}

// Parse decodes a fixture document. Unknown keys are rejected.
func Parse(r io.Reader) (*Instance, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var in Instance
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return &in, nil
		}

		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	return &in, nil
}

// ParseFile reads and decodes the fixture at path.
func ParseFile(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}

	in, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return in, nil
}

// idAllocator hands out ids above every explicit id seen so far.
type idAllocator struct {
	next uint
}

func (a *idAllocator) observe(id uint) {
	if id >= a.next {
		a.next = id + 1
	}
}

func (a *idAllocator) take(id uint) uint {
	if id != 0 {
		return id
	}

	if a.next == 0 {
		a.next = 1
	}

	id = a.next
	a.next++

	return id
}

// Batch validates the fixture against suite and converts it into store
// rows. References between entities must resolve within the fixture.
func (in *Instance) Batch(suite *testsuite.Suite) (*store.Batch, error) {
	var (
		machineIDs, orderIDs, testIDs, runIDs, sampleIDs idAllocator
		batch                                            store.Batch
	)

	for _, m := range in.Machines {
		machineIDs.observe(m.ID)
	}

	for _, o := range in.Orders {
		orderIDs.observe(o.ID)
	}

	for _, t := range in.Tests {
		testIDs.observe(t.ID)
	}

	for _, r := range in.Runs {
		runIDs.observe(r.ID)
	}

	for _, s := range in.Samples {
		sampleIDs.observe(s.ID)
	}

	machines := make(map[uint]struct{}, len(in.Machines))

	for i, m := range in.Machines {
		if m.Name == "" {
			return nil, fmt.Errorf("machines[%d]: name is required", i)
		}

		id := machineIDs.take(m.ID)
		if _, dup := machines[id]; dup {
			return nil, fmt.Errorf("machines[%d]: duplicate id %d", i, id)
		}

		machines[id] = struct{}{}
		batch.Machines = append(batch.Machines, store.Machine{
			ID:       id,
			Name:     m.Name,
			Hardware: m.Hardware,
			OS:       m.OS,
			Uname:    m.Uname,
		})
	}

	orders := make(map[uint]struct{}, len(in.Orders))
	orderByRev := make(map[string]uint, len(in.Orders))

	for i, o := range in.Orders {
		if o.Revision == "" {
			return nil, fmt.Errorf("orders[%d]: revision is required", i)
		}

		if _, dup := orderByRev[o.Revision]; dup {
			return nil, fmt.Errorf("orders[%d]: duplicate revision %q", i, o.Revision)
		}

		id := orderIDs.take(o.ID)
		if _, dup := orders[id]; dup {
			return nil, fmt.Errorf("orders[%d]: duplicate id %d", i, id)
		}

		orders[id] = struct{}{}
		orderByRev[o.Revision] = id
		batch.Orders = append(batch.Orders, store.Order{ID: id, Revision: o.Revision})
	}

	tests := make(map[uint]struct{}, len(in.Tests))
	testByName := make(map[string]uint, len(in.Tests))

	for i, t := range in.Tests {
		if t.Name == "" {
			return nil, fmt.Errorf("tests[%d]: name is required", i)
		}

		if _, dup := testByName[t.Name]; dup {
			return nil, fmt.Errorf("tests[%d]: duplicate name %q", i, t.Name)
		}

		id := testIDs.take(t.ID)
		if _, dup := tests[id]; dup {
			return nil, fmt.Errorf("tests[%d]: duplicate id %d", i, id)
		}

		tests[id] = struct{}{}
		testByName[t.Name] = id
		batch.Tests = append(batch.Tests, store.Test{ID: id, Name: t.Name})
	}

	runs := make(map[uint]struct{}, len(in.Runs))

	for i, r := range in.Runs {
		run, err := buildRun(r, &runIDs, &orderIDs, machines, orders, orderByRev, &batch)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", i, err)
		}

		if _, dup := runs[run.ID]; dup {
			return nil, fmt.Errorf("runs[%d]: duplicate id %d", i, run.ID)
		}

		runs[run.ID] = struct{}{}
		batch.Runs = append(batch.Runs, *run)
	}

	samples := make(map[uint]struct{}, len(in.Samples))

	for i, s := range in.Samples {
		if _, ok := runs[s.RunID]; !ok {
			return nil, fmt.Errorf("samples[%d]: unknown run %d", i, s.RunID)
		}

		testID, err := resolveTest(s, &testIDs, tests, testByName, &batch)
		if err != nil {
			return nil, fmt.Errorf("samples[%d]: %w", i, err)
		}

		metrics, err := convertMetrics(suite, s.Metrics)
		if err != nil {
			return nil, fmt.Errorf("samples[%d]: %w", i, err)
		}

		id := sampleIDs.take(s.ID)
		if _, dup := samples[id]; dup {
			return nil, fmt.Errorf("samples[%d]: duplicate id %d", i, id)
		}

		samples[id] = struct{}{}
		batch.Samples = append(batch.Samples, store.Sample{
			ID:      id,
			RunID:   s.RunID,
			TestID:  testID,
			Metrics: metrics,
		})
	}

	return &batch, nil
}

func buildRun(
	r Run,
	runIDs, orderIDs *idAllocator,
	machines, orders map[uint]struct{},
	orderByRev map[string]uint,
	batch *store.Batch,
) (*store.Run, error) {
	if _, ok := machines[r.MachineID]; !ok {
		return nil, fmt.Errorf("unknown machine %d", r.MachineID)
	}

	orderID := r.OrderID

	switch {
	case orderID != 0:
		if _, ok := orders[orderID]; !ok {
			return nil, fmt.Errorf("unknown order %d", orderID)
		}
	case r.Order != "":
		id, ok := orderByRev[r.Order]
		if !ok {
			id = orderIDs.take(0)
			orders[id] = struct{}{}
			orderByRev[r.Order] = id
			batch.Orders = append(batch.Orders, store.Order{ID: id, Revision: r.Order})
		}

		orderID = id
	default:
		return nil, fmt.Errorf("order_id or order is required")
	}

	start, err := parseTime(r.StartTime)
	if err != nil {
		return nil, fmt.Errorf("start_time: %w", err)
	}

	end := start

	if r.EndTime != "" {
		end, err = parseTime(r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("end_time: %w", err)
		}
	}

	var params datatypes.JSONMap
	if len(r.Parameters) > 0 {
		params = datatypes.JSONMap(r.Parameters)
	}

	return &store.Run{
		ID:           runIDs.take(r.ID),
		MachineID:    r.MachineID,
		OrderID:      orderID,
		ImportedFrom: r.ImportedFrom,
		SimpleRunID:  r.SimpleRunID,
		StartTime:    start,
		EndTime:      end,
		Parameters:   params,
	}, nil
}

func resolveTest(
	s Sample,
	testIDs *idAllocator,
	tests map[uint]struct{},
	testByName map[string]uint,
	batch *store.Batch,
) (uint, error) {
	switch {
	case s.TestID != 0:
		if _, ok := tests[s.TestID]; !ok {
			return 0, fmt.Errorf("unknown test %d", s.TestID)
		}

		return s.TestID, nil
	case s.Test != "":
		if id, ok := testByName[s.Test]; ok {
			return id, nil
		}

		id := testIDs.take(0)
		tests[id] = struct{}{}
		testByName[s.Test] = id
		batch.Tests = append(batch.Tests, store.Test{ID: id, Name: s.Test})

		return id, nil
	default:
		return 0, fmt.Errorf("test_id or test is required")
	}
}

// convertMetrics checks each value against the suite metric types and
// normalizes it for storage. Null values are left unset.
func convertMetrics(
	suite *testsuite.Suite, in map[string]any,
) (datatypes.JSONMap, error) {
	out := make(datatypes.JSONMap, len(in))

	for name, raw := range in {
		m, _, ok := suite.Metric(name)
		if !ok || m.Name != name {
			return nil, fmt.Errorf("unknown metric %q for suite %q", name, suite.Name)
		}

		if raw == nil {
			continue
		}

		v, err := convertMetric(m, raw)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", name, err)
		}

		out[name] = v
	}

	return out, nil
}

func convertMetric(m testsuite.Metric, raw any) (any, error) {
	switch m.Type {
	case testsuite.MetricReal:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case float64:
			return v, nil
		}

		return nil, fmt.Errorf("expected a number, got %T", raw)
	case testsuite.MetricStatus:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
		}

		return nil, fmt.Errorf("expected an integer status, got %v", raw)
	case testsuite.MetricHash:
		if v, ok := raw.(string); ok {
			return v, nil
		}

		return nil, fmt.Errorf("expected a string, got %T", raw)
	}

	return nil, fmt.Errorf("unsupported metric type %q", m.Type)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is required")
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Loader applies fixtures to a store.
type Loader struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewLoader creates a Loader writing into st.
func NewLoader(log logrus.FieldLogger, st store.Store) *Loader {
	return &Loader{
		log:   log.WithField("component", "fixture"),
		store: st,
	}
}

// Apply loads in into its suite, or into defaultSuite when the fixture
// names none. The fixture is written in one transaction.
func (l *Loader) Apply(
	ctx context.Context, in *Instance, defaultSuite string,
) error {
	name := in.Suite
	if name == "" {
		name = defaultSuite
	}

	suite, ok := l.store.Suite(name)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownSuite, name)
	}

	batch, err := in.Batch(suite)
	if err != nil {
		return err
	}

	if err := l.store.Load(ctx, suite.Name, batch); err != nil {
		return fmt.Errorf("loading fixture into %s: %w", suite.Name, err)
	}

	l.log.WithFields(logrus.Fields{
		"suite":    suite.Name,
		"machines": len(batch.Machines),
		"runs":     len(batch.Runs),
		"samples":  len(batch.Samples),
	}).Info("Fixture loaded")

	return nil
}

// ApplyFile parses and applies the fixture at path.
func (l *Loader) ApplyFile(
	ctx context.Context, path, defaultSuite string,
) error {
	in, err := ParseFile(path)
	if err != nil {
		return err
	}

	return l.Apply(ctx, in, defaultSuite)
}
