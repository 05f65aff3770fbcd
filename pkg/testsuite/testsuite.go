package testsuite

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// MetricType is the storage type of a sample metric.
type MetricType string

const (
	// MetricReal is a floating point measurement (times, sizes, scores).
	MetricReal MetricType = "real"
	// MetricStatus is an integer status code.
	MetricStatus MetricType = "status"
	// MetricHash is an opaque string such as an output hash.
	MetricHash MetricType = "hash"
)

// Metric describes one sample field of a test suite.
type Metric struct {
	Name string     `yaml:"name" mapstructure:"name"`
	Type MetricType `yaml:"type" mapstructure:"type"`
}

// Graphable reports whether the metric can be plotted.
func (m Metric) Graphable() bool {
	return m.Type == MetricReal || m.Type == MetricStatus
}

// Suite describes the schema of a test suite: which field names its orders
// are keyed by and which metrics its samples carry.
type Suite struct {
	Name       string   `yaml:"name" mapstructure:"name"`
	OrderField string   `yaml:"order_field" mapstructure:"order_field"`
	Metrics    []Metric `yaml:"metrics" mapstructure:"metrics"`
}

// Metric looks up a metric by field id or by name. Field ids number the
// suite metric list from 1, so "1" is the first metric. The second return
// value is the zero-based position in the list.
func (s *Suite) Metric(ref string) (Metric, int, bool) {
	if id, err := strconv.Atoi(ref); err == nil {
		if id < 1 || id > len(s.Metrics) {
			return Metric{}, 0, false
		}

		return s.Metrics[id-1], id - 1, true
	}

	for i, m := range s.Metrics {
		if m.Name == ref {
			return m, i, true
		}
	}

	return Metric{}, 0, false
}

// HasMetric reports whether name is one of the suite metrics.
func (s *Suite) HasMetric(name string) bool {
	for _, m := range s.Metrics {
		if m.Name == name {
			return true
		}
	}

	return false
}

var suiteNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the suite definition is usable as a table prefix and
// that metric names are unique.
func (s *Suite) Validate() error {
	if !suiteNameRe.MatchString(s.Name) {
		return fmt.Errorf("invalid suite name %q", s.Name)
	}

	if s.OrderField == "" {
		return fmt.Errorf("suite %q: order_field is required", s.Name)
	}

	if len(s.Metrics) == 0 {
		return fmt.Errorf("suite %q: at least one metric is required", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Metrics))

	for _, m := range s.Metrics {
		if m.Name == "" {
			return fmt.Errorf("suite %q: metric name is required", s.Name)
		}

		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("suite %q: duplicate metric %q", s.Name, m.Name)
		}

		seen[m.Name] = struct{}{}

		switch m.Type {
		case MetricReal, MetricStatus, MetricHash:
		default:
			return fmt.Errorf(
				"suite %q: metric %q has unknown type %q",
				s.Name, m.Name, m.Type,
			)
		}
	}

	return nil
}

// builtin holds the suites LNT ships with.
var builtin = map[string]*Suite{
	"nts": {
		Name:       "nts",
		OrderField: "llvm_project_revision",
		Metrics: []Metric{
			{Name: "compile_time", Type: MetricReal},
			{Name: "compile_status", Type: MetricStatus},
			{Name: "execution_time", Type: MetricReal},
			{Name: "execution_status", Type: MetricStatus},
			{Name: "score", Type: MetricReal},
			{Name: "mem_bytes", Type: MetricReal},
			{Name: "hash", Type: MetricHash},
			{Name: "hash_status", Type: MetricStatus},
			{Name: "code_size", Type: MetricReal},
		},
	},
	"compile": {
		Name:       "compile",
		OrderField: "llvm_project_revision",
		Metrics: []Metric{
			{Name: "user_time", Type: MetricReal},
			{Name: "user_status", Type: MetricStatus},
			{Name: "sys_time", Type: MetricReal},
			{Name: "sys_status", Type: MetricStatus},
			{Name: "wall_time", Type: MetricReal},
			{Name: "wall_status", Type: MetricStatus},
			{Name: "size_bytes", Type: MetricReal},
			{Name: "size_status", Type: MetricStatus},
			{Name: "mem_bytes", Type: MetricReal},
			{Name: "mem_status", Type: MetricStatus},
		},
	},
}

// Builtin returns a copy of the named built-in suite.
func Builtin(name string) (*Suite, bool) {
	s, ok := builtin[name]
	if !ok {
		return nil, false
	}

	cp := *s
	cp.Metrics = append([]Metric(nil), s.Metrics...)

	return &cp, true
}

// BuiltinNames returns the names of the built-in suites, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
