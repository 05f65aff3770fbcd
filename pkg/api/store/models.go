package store

import (
	"time"

	"gorm.io/datatypes"
)

// Machine is a host that submitted runs.
type Machine struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"not null;index"`
	Hardware string `gorm:"not null"`
	OS       string `gorm:"column:os;not null"`
	Uname    string `gorm:"not null"`
}

// Order is a revision label that runs are sequenced by.
type Order struct {
	ID       uint   `gorm:"primaryKey"`
	Revision string `gorm:"not null;uniqueIndex"`
}

// Test is a named benchmark within a suite.
type Test struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"not null;uniqueIndex"`
}

// Run is one execution of a suite on a machine at an order.
type Run struct {
	ID           uint      `gorm:"primaryKey"`
	MachineID    uint      `gorm:"not null;index"`
	OrderID      uint      `gorm:"not null;index"`
	ImportedFrom string    `gorm:"not null;default:''"`
	SimpleRunID  *int64
	StartTime    time.Time `gorm:"not null"`
	EndTime      time.Time `gorm:"not null"`

	// Free-form run parameters reported by the test harness.
	Parameters datatypes.JSONMap `gorm:"type:json"`
}

// Sample holds the metric values recorded for one test in one run. Metrics
// is keyed by suite metric name; absent keys are unset metrics.
type Sample struct {
	ID      uint              `gorm:"primaryKey"`
	RunID   uint              `gorm:"not null;index"`
	TestID  uint              `gorm:"not null;index"`
	Metrics datatypes.JSONMap `gorm:"type:json"`
}

// RunWithOrder is a run joined with its order revision.
type RunWithOrder struct {
	Run
	OrderRevision string
}

// SampleRow is a sample joined with its test name and the revision of the
// run's order.
type SampleRow struct {
	Sample
	TestName      string
	OrderRevision string
}

// GraphRow is one sample of a (machine, test) series with the run and
// order columns needed to place it on a graph.
type GraphRow struct {
	SampleID      uint
	RunID         uint
	Metrics       datatypes.JSONMap `gorm:"type:json"`
	StartTime     time.Time
	OrderRevision string
}

// Batch is a set of rows written to one suite in a single transaction.
// Rows keep their IDs so references between them resolve as given.
type Batch struct {
	Machines []Machine
	Orders   []Order
	Tests    []Test
	Runs     []Run
	Samples  []Sample
}

// Counts reports the number of rows per table of a suite.
type Counts struct {
	Machines int64
	Orders   int64
	Tests    int64
	Runs     int64
	Samples  int64
}
