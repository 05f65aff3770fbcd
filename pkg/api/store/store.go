package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/llvm/lnt/pkg/config"
	"github.com/llvm/lnt/pkg/testsuite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownSuite is returned for suites the database does not host.
	ErrUnknownSuite = errors.New("unknown test suite")
)

const loadBatchSize = 100

// Store provides read access to the results of the test suites hosted by
// one LNT database, plus bulk loading used to seed instances.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Suite returns the definition of a hosted suite.
	Suite(name string) (*testsuite.Suite, bool)
	// Suites returns every hosted suite in configuration order.
	Suites() []*testsuite.Suite

	ListMachines(ctx context.Context, suite string) ([]Machine, error)
	GetMachine(ctx context.Context, suite string, id uint) (*Machine, error)

	ListOrders(ctx context.Context, suite string) ([]Order, error)
	GetOrder(ctx context.Context, suite string, id uint) (*Order, error)

	GetTest(ctx context.Context, suite string, id uint) (*Test, error)

	GetRun(ctx context.Context, suite string, id uint) (*RunWithOrder, error)
	ListRunsByMachine(
		ctx context.Context, suite string, machineID uint,
	) ([]RunWithOrder, error)
	ListRunIDs(ctx context.Context, suite string) ([]uint, error)

	GetSample(ctx context.Context, suite string, id uint) (*SampleRow, error)
	ListSamplesByRuns(
		ctx context.Context, suite string, runIDs []uint,
	) ([]SampleRow, error)
	ListGraphRows(
		ctx context.Context, suite string, machineID, testID uint,
	) ([]GraphRow, error)

	// Load writes a batch of rows into a suite in one transaction.
	Load(ctx context.Context, suite string, batch *Batch) error
	Count(ctx context.Context, suite string) (*Counts, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

// suiteTables holds the table names of one suite. Each suite gets its own
// set of tables, prefixed by the suite name.
type suiteTables struct {
	machines string
	orders   string
	tests    string
	runs     string
	samples  string
}

func newSuiteTables(suite string) suiteTables {
	return suiteTables{
		machines: suite + "_machines",
		orders:   suite + "_orders",
		tests:    suite + "_tests",
		runs:     suite + "_runs",
		samples:  suite + "_samples",
	}
}

type store struct {
	log    logrus.FieldLogger
	cfg    *config.DatabaseConfig
	suites []*testsuite.Suite
	tables map[string]suiteTables
	db     *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	suites []*testsuite.Suite,
) Store {
	tables := make(map[string]suiteTables, len(suites))
	for _, s := range suites {
		tables[s.Name] = newSuiteTables(s.Name)
	}

	return &store{
		log:    log.WithField("component", "store"),
		cfg:    cfg,
		suites: suites,
		tables: tables,
	}
}

// Start opens the database connection and migrates every suite's tables.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// Every connection to ":memory:" is a fresh database.
	if s.cfg.Driver == "sqlite" && s.cfg.SQLite.Path == ":memory:" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	for _, suite := range s.suites {
		if err := s.migrateSuite(ctx, suite.Name); err != nil {
			return err
		}
	}

	s.log.WithField("driver", s.cfg.Driver).
		WithField("suites", len(s.suites)).
		Info("Database connected")

	return nil
}

func (s *store) migrateSuite(ctx context.Context, suite string) error {
	t := s.tables[suite]

	models := []struct {
		table string
		model any
	}{
		{t.machines, &Machine{}},
		{t.orders, &Order{}},
		{t.tests, &Test{}},
		{t.runs, &Run{}},
		{t.samples, &Sample{}},
	}

	for _, m := range models {
		if err := s.db.WithContext(ctx).
			Table(m.table).
			AutoMigrate(m.model); err != nil {
			return fmt.Errorf("migrating %s: %w", m.table, err)
		}
	}

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) Suite(name string) (*testsuite.Suite, bool) {
	for _, suite := range s.suites {
		if suite.Name == name {
			return suite, true
		}
	}

	return nil, false
}

func (s *store) Suites() []*testsuite.Suite {
	return s.suites
}

func (s *store) suiteTables(suite string) (suiteTables, error) {
	t, ok := s.tables[suite]
	if !ok {
		return suiteTables{}, fmt.Errorf("%w: %s", ErrUnknownSuite, suite)
	}

	return t, nil
}

// notFound maps gorm's missing-row error onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// --- Machines ---

func (s *store) ListMachines(
	ctx context.Context, suite string,
) ([]Machine, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var machines []Machine
	if err := s.db.WithContext(ctx).
		Table(t.machines).
		Order("id ASC").
		Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	return machines, nil
}

func (s *store) GetMachine(
	ctx context.Context, suite string, id uint,
) (*Machine, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var machine Machine
	if err := s.db.WithContext(ctx).
		Table(t.machines).
		Where("id = ?", id).
		Take(&machine).Error; err != nil {
		return nil, fmt.Errorf("getting machine %d: %w", id, notFound(err))
	}

	return &machine, nil
}

// --- Orders ---

func (s *store) ListOrders(
	ctx context.Context, suite string,
) ([]Order, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := s.db.WithContext(ctx).
		Table(t.orders).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	return orders, nil
}

func (s *store) GetOrder(
	ctx context.Context, suite string, id uint,
) (*Order, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := s.db.WithContext(ctx).
		Table(t.orders).
		Where("id = ?", id).
		Take(&order).Error; err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, notFound(err))
	}

	return &order, nil
}

// --- Tests ---

func (s *store) GetTest(
	ctx context.Context, suite string, id uint,
) (*Test, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var test Test
	if err := s.db.WithContext(ctx).
		Table(t.tests).
		Where("id = ?", id).
		Take(&test).Error; err != nil {
		return nil, fmt.Errorf("getting test %d: %w", id, notFound(err))
	}

	return &test, nil
}

// --- Runs ---

// runsWithOrder starts a query over runs joined with their order revision.
func (s *store) runsWithOrder(ctx context.Context, t suiteTables) *gorm.DB {
	return s.db.WithContext(ctx).
		Table(t.runs + " AS r").
		Select("r.*, o.revision AS order_revision").
		Joins("JOIN " + t.orders + " AS o ON o.id = r.order_id")
}

func (s *store) GetRun(
	ctx context.Context, suite string, id uint,
) (*RunWithOrder, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var run RunWithOrder
	if err := s.runsWithOrder(ctx, t).
		Where("r.id = ?", id).
		Take(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run %d: %w", id, notFound(err))
	}

	return &run, nil
}

func (s *store) ListRunsByMachine(
	ctx context.Context, suite string, machineID uint,
) ([]RunWithOrder, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var runs []RunWithOrder
	if err := s.runsWithOrder(ctx, t).
		Where("r.machine_id = ?", machineID).
		Order("r.id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs of machine %d: %w", machineID, err)
	}

	return runs, nil
}

func (s *store) ListRunIDs(ctx context.Context, suite string) ([]uint, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var ids []uint
	if err := s.db.WithContext(ctx).
		Table(t.runs).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing run ids: %w", err)
	}

	return ids, nil
}

// --- Samples ---

// sampleRows starts a query over samples joined with their test name and
// the revision of their run's order.
func (s *store) sampleRows(ctx context.Context, t suiteTables) *gorm.DB {
	return s.db.WithContext(ctx).
		Table(t.samples + " AS s").
		Select("s.*, t.name AS test_name, o.revision AS order_revision").
		Joins("JOIN " + t.tests + " AS t ON t.id = s.test_id").
		Joins("JOIN " + t.runs + " AS r ON r.id = s.run_id").
		Joins("JOIN " + t.orders + " AS o ON o.id = r.order_id")
}

func (s *store) GetSample(
	ctx context.Context, suite string, id uint,
) (*SampleRow, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var row SampleRow
	if err := s.sampleRows(ctx, t).
		Where("s.id = ?", id).
		Take(&row).Error; err != nil {
		return nil, fmt.Errorf("getting sample %d: %w", id, notFound(err))
	}

	return &row, nil
}

// ListSamplesByRuns returns the samples of the given runs ordered by
// sample id. Duplicate run ids are harmless.
func (s *store) ListSamplesByRuns(
	ctx context.Context, suite string, runIDs []uint,
) ([]SampleRow, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	if len(runIDs) == 0 {
		return []SampleRow{}, nil
	}

	var rows []SampleRow
	if err := s.sampleRows(ctx, t).
		Where("s.run_id IN ?", runIDs).
		Order("s.id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing samples: %w", err)
	}

	return rows, nil
}

// ListGraphRows returns every sample of testID recorded on machineID, in
// run id order. Placing the rows by revision is left to the caller.
func (s *store) ListGraphRows(
	ctx context.Context, suite string, machineID, testID uint,
) ([]GraphRow, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var rows []GraphRow
	if err := s.db.WithContext(ctx).
		Table(t.samples+" AS s").
		Select(
			"s.id AS sample_id, s.run_id AS run_id, s.metrics AS metrics, " +
				"r.start_time AS start_time, o.revision AS order_revision",
		).
		Joins("JOIN "+t.runs+" AS r ON r.id = s.run_id").
		Joins("JOIN "+t.orders+" AS o ON o.id = r.order_id").
		Where("r.machine_id = ? AND s.test_id = ?", machineID, testID).
		Order("r.id ASC, s.id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf(
			"listing graph rows for machine %d test %d: %w",
			machineID, testID, err,
		)
	}

	return rows, nil
}

// --- Loading ---

func (s *store) Load(ctx context.Context, suite string, batch *Batch) error {
	t, err := s.suiteTables(suite)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Machines) > 0 {
			if err := tx.Table(t.machines).
				CreateInBatches(batch.Machines, loadBatchSize).Error; err != nil {
				return fmt.Errorf("inserting machines: %w", err)
			}
		}

		if len(batch.Orders) > 0 {
			if err := tx.Table(t.orders).
				CreateInBatches(batch.Orders, loadBatchSize).Error; err != nil {
				return fmt.Errorf("inserting orders: %w", err)
			}
		}

		if len(batch.Tests) > 0 {
			if err := tx.Table(t.tests).
				CreateInBatches(batch.Tests, loadBatchSize).Error; err != nil {
				return fmt.Errorf("inserting tests: %w", err)
			}
		}

		if len(batch.Runs) > 0 {
			if err := tx.Table(t.runs).
				CreateInBatches(batch.Runs, loadBatchSize).Error; err != nil {
				return fmt.Errorf("inserting runs: %w", err)
			}
		}

		if len(batch.Samples) > 0 {
			if err := tx.Table(t.samples).
				CreateInBatches(batch.Samples, loadBatchSize).Error; err != nil {
				return fmt.Errorf("inserting samples: %w", err)
			}
		}

		s.log.WithFields(logrus.Fields{
			"suite":    suite,
			"machines": len(batch.Machines),
			"orders":   len(batch.Orders),
			"tests":    len(batch.Tests),
			"runs":     len(batch.Runs),
			"samples":  len(batch.Samples),
		}).Debug("Loaded batch")

		return nil
	})
}

func (s *store) Count(ctx context.Context, suite string) (*Counts, error) {
	t, err := s.suiteTables(suite)
	if err != nil {
		return nil, err
	}

	var c Counts

	counts := []struct {
		table string
		dst   *int64
	}{
		{t.machines, &c.Machines},
		{t.orders, &c.Orders},
		{t.tests, &c.Tests},
		{t.runs, &c.Runs},
		{t.samples, &c.Samples},
	}

	for _, q := range counts {
		if err := s.db.WithContext(ctx).
			Table(q.table).
			Count(q.dst).Error; err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.table, err)
		}
	}

	return &c, nil
}
