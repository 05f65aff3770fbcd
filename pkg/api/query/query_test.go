package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/llvm/lnt/pkg/api/query"
	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/config"
	"github.com/llvm/lnt/pkg/testsuite"
)

func setupService(t *testing.T) *query.Service {
	t.Helper()

	nts, ok := testsuite.Builtin("nts")
	require.True(t, ok)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}, []*testsuite.Suite{nts})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	at := func(day, sec int) time.Time {
		return time.Date(2012, 5, day, 16, 28, sec, 0, time.UTC)
	}

	simple := int64(3)

	// Revisions "9", "10" and "9.1" exercise numeric ordering; runs 3 and 4
	// share order "10" and run 4 starts first.
	require.NoError(t, st.Load(context.Background(), "nts", &store.Batch{
		Machines: []store.Machine{
			{ID: 1, Name: "m1", Hardware: "x86_64", OS: "Darwin", Uname: "Darwin m1 11.3.0"},
			{ID: 2, Name: "m2", Hardware: "AArch64", OS: "linux"},
		},
		Orders: []store.Order{
			{ID: 1, Revision: "10"},
			{ID: 2, Revision: "9"},
			{ID: 3, Revision: "9.1"},
		},
		Tests: []store.Test{
			{ID: 1, Name: "SingleSource/a"},
			{ID: 2, Name: "SingleSource/b"},
		},
		Runs: []store.Run{
			{
				ID: 1, MachineID: 1, OrderID: 1, StartTime: at(1, 0), EndTime: at(1, 30),
				ImportedFrom: "/tmp/report.json", SimpleRunID: &simple,
				Parameters: datatypes.JSONMap{"ARCH": "x86_64", "id": "shadowed"},
			},
			{ID: 2, MachineID: 1, OrderID: 2, StartTime: at(2, 0), EndTime: at(2, 30)},
			{ID: 3, MachineID: 1, OrderID: 1, StartTime: at(4, 0), EndTime: at(4, 30)},
			{ID: 4, MachineID: 1, OrderID: 1, StartTime: at(3, 0), EndTime: at(3, 30)},
			{ID: 5, MachineID: 1, OrderID: 3, StartTime: at(5, 0), EndTime: at(5, 30)},
		},
		Samples: []store.Sample{
			{ID: 1, RunID: 1, TestID: 1, Metrics: datatypes.JSONMap{"execution_time": 1.0, "hash": "ab"}},
			{ID: 2, RunID: 1, TestID: 2, Metrics: datatypes.JSONMap{"compile_time": 0.5}},
			{ID: 3, RunID: 2, TestID: 1, Metrics: datatypes.JSONMap{"execution_time": 2.0}},
			{ID: 4, RunID: 3, TestID: 1, Metrics: datatypes.JSONMap{"execution_time": 3.0}},
			{ID: 5, RunID: 4, TestID: 1, Metrics: datatypes.JSONMap{"execution_time": 4.0}},
			{ID: 6, RunID: 5, TestID: 1, Metrics: datatypes.JSONMap{"compile_time": 0.1}},
		},
	}))

	return query.NewService(st, "0.4.2")
}

func encode(t *testing.T, v any) map[string]any {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))

	return out
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	return out
}

func TestEnvelope_Sections(t *testing.T) {
	out := encode(t, &query.Envelope{
		GeneratedBy: query.GeneratedBy("1.0"),
		Samples:     []query.Object{},
	})

	assert.Equal(t, "LNT Server v1.0", out["generated_by"])
	assert.ElementsMatch(t, []string{"generated_by", "samples"}, keys(out))
	assert.Equal(t, []any{}, out["samples"])
}

func TestGraphPoint_Encoding(t *testing.T) {
	data, err := json.Marshal(query.GraphPoint{
		Order: []int{152292},
		Value: 1,
		Meta:  query.GraphPointMeta{Date: "2012-05-01 16:28:23", Label: "152292", RunID: "5"},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`[[152292], 1.0, {"date": "2012-05-01 16:28:23", "label": "152292", "runID": "5"}]`,
		string(data))
}

func TestService_Machines(t *testing.T) {
	svc := setupService(t)

	env, err := svc.Machines(context.Background(), "nts")
	require.NoError(t, err)

	out := encode(t, env)
	assert.ElementsMatch(t, []string{"generated_by", "machines"}, keys(out))

	machines := out["machines"].([]any)
	require.Len(t, machines, 2)
	assert.ElementsMatch(t,
		[]string{"id", "name", "hardware", "os"},
		keys(machines[0].(map[string]any)))
}

func TestService_Machine(t *testing.T) {
	svc := setupService(t)

	env, err := svc.Machine(context.Background(), "nts", 1)
	require.NoError(t, err)

	out := encode(t, env)
	machine := out["machines"].([]any)[0].(map[string]any)
	assert.Equal(t, "Darwin m1 11.3.0", machine["uname"])

	runs := out["runs"].([]any)
	require.Len(t, runs, 5)
	assert.Equal(t, float64(1), runs[0].(map[string]any)["id"])
	assert.Equal(t, float64(5), runs[4].(map[string]any)["id"])

	env, err = svc.Machine(context.Background(), "nts", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{}, encode(t, env)["runs"])

	_, err = svc.Machine(context.Background(), "nts", 9)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestService_Run(t *testing.T) {
	svc := setupService(t)

	env, err := svc.Run(context.Background(), "nts", 1)
	require.NoError(t, err)

	out := encode(t, env)
	assert.ElementsMatch(t, []string{"generated_by", "runs", "samples"}, keys(out))

	run := out["runs"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(1), run["id"])
	assert.Equal(t, "x86_64", run["ARCH"])
	assert.Equal(t, "10", run["order"])
	assert.Equal(t, "2012-05-01T16:28:00", run["start_time"])
	assert.Equal(t, "2012-05-01T16:28:30", run["end_time"])
	assert.Equal(t, "/tmp/report.json", run["imported_from"])
	assert.Equal(t, float64(3), run["simple_run_id"])

	samples := out["samples"].([]any)
	require.Len(t, samples, 2)

	env, err = svc.Run(context.Background(), "nts", 2)
	require.NoError(t, err)

	run = encode(t, env)["runs"].([]any)[0].(map[string]any)
	assert.Nil(t, run["imported_from"])
	assert.Nil(t, run["simple_run_id"])
	assert.Contains(t, run, "simple_run_id")
}

func TestService_SampleMetricsAreNeverOmitted(t *testing.T) {
	svc := setupService(t)

	env, err := svc.Sample(context.Background(), "nts", 2)
	require.NoError(t, err)

	sample := encode(t, env)["samples"].([]any)[0].(map[string]any)
	assert.ElementsMatch(t, []string{
		"id", "run_id", "name", "llvm_project_revision",
		"compile_time", "compile_status", "execution_time", "execution_status",
		"score", "mem_bytes", "hash", "hash_status", "code_size",
	}, keys(sample))
	assert.Equal(t, 0.5, sample["compile_time"])
	assert.Nil(t, sample["execution_time"])
	assert.Equal(t, "SingleSource/b", sample["name"])
	assert.Equal(t, "10", sample["llvm_project_revision"])
}

func TestService_Samples(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	one, err := svc.Samples(ctx, "nts", []uint{1})
	require.NoError(t, err)

	repeated, err := svc.Samples(ctx, "nts", []uint{1, 1, 99})
	require.NoError(t, err)
	assert.Equal(t, encode(t, one), encode(t, repeated))

	both, err := svc.Samples(ctx, "nts", []uint{2, 1})
	require.NoError(t, err)

	samples := encode(t, both)["samples"].([]any)
	require.Len(t, samples, 3)
	assert.Equal(t, float64(1), samples[0].(map[string]any)["id"])
	assert.Equal(t, float64(3), samples[2].(map[string]any)["id"])

	none, err := svc.Samples(ctx, "nts", []uint{99})
	require.NoError(t, err)
	assert.Equal(t, []any{}, encode(t, none)["samples"])
}

func TestService_Order(t *testing.T) {
	svc := setupService(t)

	env, err := svc.Order(context.Background(), "nts", 3)
	require.NoError(t, err)

	order := encode(t, env)["orders"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{
		"id": float64(3), "name": "9.1", "llvm_project_revision": "9.1",
	}, order)

	_, err = svc.Order(context.Background(), "missing", 1)
	assert.True(t, errors.Is(err, store.ErrUnknownSuite))
}

func TestService_Graph(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	points, err := svc.Graph(ctx, "nts", 1, 1, "execution_time", 0)
	require.NoError(t, err)

	var runs []string
	for _, p := range points {
		runs = append(runs, p.Meta.RunID)
	}

	// Order "9" sorts before "10" and runs within "10" follow start time,
	// so run 4 precedes run 3. Run 5 has no execution_time.
	assert.Equal(t, []string{"2", "1", "4", "3"}, runs)
	assert.Equal(t, []int{9}, points[0].Order)
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, "2012-05-02 16:28:00", points[0].Meta.Date)
	assert.Equal(t, "9", points[0].Meta.Label)

	byIndex, err := svc.Graph(ctx, "nts", 1, 1, "3", 0)
	require.NoError(t, err)
	assert.Equal(t, points, byIndex)

	last, err := svc.Graph(ctx, "nts", 1, 1, "execution_time", 2)
	require.NoError(t, err)
	assert.Equal(t, points[2:], last)

	all, err := svc.Graph(ctx, "nts", 1, 1, "execution_time", 50)
	require.NoError(t, err)
	assert.Equal(t, points, all)

	compile, err := svc.Graph(ctx, "nts", 1, 1, "compile_time", 0)
	require.NoError(t, err)
	require.Len(t, compile, 1)
	assert.Equal(t, []int{9, 1}, compile[0].Order)
}

func TestService_GraphErrors(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name             string
		machine, test    uint
		metric           string
		wantNotFound     bool
		wantNotGraphable bool
	}{
		{name: "unknown machine", machine: 9, test: 1, metric: "2", wantNotFound: true},
		{name: "unknown test", machine: 1, test: 9, metric: "2", wantNotFound: true},
		{name: "metric index out of range", machine: 1, test: 1, metric: "42", wantNotFound: true},
		{name: "metric field id zero", machine: 1, test: 1, metric: "0", wantNotFound: true},
		{name: "unknown metric name", machine: 1, test: 1, metric: "wall_time", wantNotFound: true},
		{name: "hash metric", machine: 1, test: 1, metric: "hash", wantNotGraphable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Graph(ctx, "nts", tt.machine, tt.test, tt.metric, 0)
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, store.ErrNotFound))
			assert.Equal(t, tt.wantNotGraphable, errors.Is(err, query.ErrNotGraphable))
		})
	}

	points, err := svc.Graph(ctx, "nts", 2, 1, "execution_time", 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}
