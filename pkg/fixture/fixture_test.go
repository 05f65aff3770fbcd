package fixture_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/config"
	"github.com/llvm/lnt/pkg/fixture"
	"github.com/llvm/lnt/pkg/testsuite"
)

func nts(t *testing.T) *testsuite.Suite {
	t.Helper()

	s, ok := testsuite.Builtin("nts")
	require.True(t, ok)

	return s
}

func parse(t *testing.T, doc string) *fixture.Instance {
	t.Helper()

	in, err := fixture.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	return in
}

func TestParse(t *testing.T) {
	in := parse(t, `
suite: nts
machines:
  - id: 3
    name: m
    hardware: x86_64
    os: linux
runs:
  - machine_id: 3
    order: "100"
    start_time: "2012-04-11T16:28:23"
    parameters:
      ARCH: x86_64
`)

	assert.Equal(t, "nts", in.Suite)
	require.Len(t, in.Machines, 1)
	assert.Equal(t, uint(3), in.Machines[0].ID)
	require.Len(t, in.Runs, 1)
	assert.Equal(t, "100", in.Runs[0].Order)
	assert.Equal(t, "x86_64", in.Runs[0].Parameters["ARCH"])
}

func TestParse_Empty(t *testing.T) {
	in, err := fixture.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, in.Machines)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := fixture.Parse(strings.NewReader("machines:\n  - name: m\n    cpu: 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing fixture")
}

func TestParseFile_NotFound(t *testing.T) {
	_, err := fixture.ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading fixture")
}

func TestBatch_AssignsIDsAndCreatesReferences(t *testing.T) {
	in := parse(t, `
machines:
  - id: 5
    name: a
  - name: b
orders:
  - id: 2
    revision: "152292"
runs:
  - id: 9
    machine_id: 5
    order_id: 2
    start_time: "2012-05-01 16:28:23"
  - machine_id: 6
    order: "152293"
    start_time: "2012-05-03T16:28:24Z"
    end_time: "2012-05-03T16:29:00Z"
samples:
  - run_id: 9
    test: SingleSource/a
    metrics:
      execution_time: 1
      execution_status: 0
      hash: abc
  - run_id: 10
    test: SingleSource/a
    metrics:
      compile_time: null
`)

	batch, err := in.Batch(nts(t))
	require.NoError(t, err)

	require.Len(t, batch.Machines, 2)
	assert.Equal(t, uint(5), batch.Machines[0].ID)
	assert.Equal(t, uint(6), batch.Machines[1].ID)

	require.Len(t, batch.Orders, 2)
	assert.Equal(t, store.Order{ID: 3, Revision: "152293"}, batch.Orders[1])

	require.Len(t, batch.Runs, 2)
	assert.Equal(t, uint(10), batch.Runs[1].ID)
	assert.Equal(t, uint(3), batch.Runs[1].OrderID)
	assert.Equal(t,
		time.Date(2012, 5, 1, 16, 28, 23, 0, time.UTC), batch.Runs[0].StartTime)
	assert.Equal(t, batch.Runs[0].StartTime, batch.Runs[0].EndTime)
	assert.Nil(t, batch.Runs[0].Parameters)

	require.Len(t, batch.Tests, 1)
	assert.Equal(t, "SingleSource/a", batch.Tests[0].Name)

	require.Len(t, batch.Samples, 2)
	assert.Equal(t, batch.Tests[0].ID, batch.Samples[1].TestID)
	assert.Equal(t, 1.0, batch.Samples[0].Metrics["execution_time"])
	assert.Equal(t, int64(0), batch.Samples[0].Metrics["execution_status"])
	assert.Equal(t, "abc", batch.Samples[0].Metrics["hash"])
	assert.Empty(t, batch.Samples[1].Metrics)
}

func TestBatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "machine without name",
			doc:     "machines:\n  - id: 1\n",
			wantErr: "machines[0]: name is required",
		},
		{
			name:    "duplicate machine id",
			doc:     "machines:\n  - {id: 1, name: a}\n  - {id: 1, name: b}\n",
			wantErr: "machines[1]: duplicate id 1",
		},
		{
			name:    "duplicate revision",
			doc:     "orders:\n  - {revision: \"1\"}\n  - {revision: \"1\"}\n",
			wantErr: "duplicate revision",
		},
		{
			name:    "run on unknown machine",
			doc:     "runs:\n  - {machine_id: 4, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n",
			wantErr: "runs[0]: unknown machine 4",
		},
		{
			name: "run on unknown order",
			doc: "machines:\n  - {id: 1, name: a}\n" +
				"runs:\n  - {machine_id: 1, order_id: 8, start_time: \"2012-01-01T00:00:00\"}\n",
			wantErr: "runs[0]: unknown order 8",
		},
		{
			name:    "run without order",
			doc:     "machines:\n  - {id: 1, name: a}\nruns:\n  - {machine_id: 1, start_time: \"2012-01-01T00:00:00\"}\n",
			wantErr: "order_id or order is required",
		},
		{
			name:    "bad timestamp",
			doc:     "machines:\n  - {id: 1, name: a}\nruns:\n  - {machine_id: 1, order: \"1\", start_time: yesterday}\n",
			wantErr: "start_time: unrecognized timestamp",
		},
		{
			name:    "sample on unknown run",
			doc:     "samples:\n  - {run_id: 3, test: a}\n",
			wantErr: "samples[0]: unknown run 3",
		},
		{
			name: "unknown metric",
			doc: "machines:\n  - {id: 1, name: a}\nruns:\n  - {id: 1, machine_id: 1, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n" +
				"samples:\n  - {run_id: 1, test: a, metrics: {wall_time: 1.0}}\n",
			wantErr: "unknown metric \"wall_time\"",
		},
		{
			name: "metric index is not a metric name",
			doc: "machines:\n  - {id: 1, name: a}\nruns:\n  - {id: 1, machine_id: 1, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n" +
				"samples:\n  - {run_id: 1, test: a, metrics: {\"0\": 1.0}}\n",
			wantErr: "unknown metric \"0\"",
		},
		{
			name: "real metric with a string",
			doc: "machines:\n  - {id: 1, name: a}\nruns:\n  - {id: 1, machine_id: 1, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n" +
				"samples:\n  - {run_id: 1, test: a, metrics: {compile_time: fast}}\n",
			wantErr: "metric \"compile_time\": expected a number",
		},
		{
			name: "fractional status",
			doc: "machines:\n  - {id: 1, name: a}\nruns:\n  - {id: 1, machine_id: 1, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n" +
				"samples:\n  - {run_id: 1, test: a, metrics: {compile_status: 0.5}}\n",
			wantErr: "expected an integer status",
		},
		{
			name: "sample without test",
			doc: "machines:\n  - {id: 1, name: a}\nruns:\n  - {id: 1, machine_id: 1, order: \"1\", start_time: \"2012-01-01T00:00:00\"}\n" +
				"samples:\n  - {run_id: 1}\n",
			wantErr: "test_id or test is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.doc).Batch(nts(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func newStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}, []*testsuite.Suite{nts(t)})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	return st
}

func TestLoader_ApplyFile(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "instance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
machines:
  - {id: 1, name: a, hardware: x86_64, os: linux}
runs:
  - {id: 1, machine_id: 1, order: "154331", start_time: "2012-04-11T16:28:23"}
samples:
  - {run_id: 1, test: SingleSource/a, metrics: {compile_time: 0.007}}
`), 0o644))

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	loader := fixture.NewLoader(log, st)
	require.NoError(t, loader.ApplyFile(ctx, path, "nts"))

	counts, err := st.Count(ctx, "nts")
	require.NoError(t, err)
	assert.Equal(t, store.Counts{
		Machines: 1, Orders: 1, Tests: 1, Runs: 1, Samples: 1,
	}, *counts)

	rows, err := st.ListSamplesByRuns(ctx, "nts", []uint{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "154331", rows[0].OrderRevision)
	assert.Equal(t, json.Number("0.007"), rows[0].Metrics["compile_time"])
}

func TestLoader_UnknownSuite(t *testing.T) {
	st := newStore(t)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	err := fixture.NewLoader(log, st).Apply(
		context.Background(), &fixture.Instance{Suite: "compile"}, "nts")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnknownSuite))
}
