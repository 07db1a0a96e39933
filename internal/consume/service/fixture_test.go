package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/consume/internal/consume/adapter/repo"
	"github.com/xxz807/finscale/consume/internal/consume/calculator"
	"github.com/xxz807/finscale/consume/internal/consume/domain"
	"github.com/xxz807/finscale/consume/internal/platform/database"
)

const kindModeConfig = `{
	"FIXED": {"enabled": true, "amount": "12.00"},
	"FREE_AMOUNT": {"enabled": true},
	"METERED": {"enabled": true, "subType": "COUNT", "count": {"pricePerTime": 350}},
	"PRODUCT": {"enabled": true},
	"ORDERING": {"enabled": true}
}`

// testClock 可手动推进的时钟
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	db          *gorm.DB
	clock       *testClock
	metrics     *Metrics
	accountRepo domain.AccountRepository
	accounts    *AccountStore
	txRepo      domain.TransactionRepository
	tasks       *repo.CompensationRepo
	directory   *repo.DirectoryRepo
	ledger      *CompensationLedger
	engine      *ConsumeEngine
	engineOpts  []EngineOption
}

type fixtureOption func(*fixture)

// withAccountRepo 替换引擎使用的账户仓储 (注入故障)
func withAccountRepo(wrap func(domain.AccountRepository) domain.AccountRepository) fixtureOption {
	return func(f *fixture) { f.accountRepo = wrap(f.accountRepo) }
}

// withTxRepo 替换引擎使用的流水仓储 (注入故障)
func withTxRepo(wrap func(domain.TransactionRepository) domain.TransactionRepository) fixtureOption {
	return func(f *fixture) { f.txRepo = wrap(f.txRepo) }
}

func withEngineOptions(opts ...EngineOption) fixtureOption {
	return func(f *fixture) { f.engineOpts = append(f.engineOpts, opts...) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:          db,
		clock:       newTestClock(),
		metrics:     NewMetrics(prometheus.NewRegistry()),
		accountRepo: repo.NewAccountRepo(db),
		txRepo:      repo.NewTransactionRepo(db),
		tasks:       repo.NewCompensationRepo(db),
		directory:   repo.NewDirectoryRepo(db),
	}
	for _, opt := range opts {
		opt(f)
	}

	logger := zap.NewNop()
	// 补偿台账始终使用真实账户仓储
	f.ledger = NewCompensationLedger(db, f.tasks, NewAccountStore(repo.NewAccountRepo(db)), logger,
		WithLedgerClock(f.clock.Now),
		WithLedgerMetrics(f.metrics),
	)
	f.accounts = NewAccountStore(f.accountRepo)
	f.engine = NewConsumeEngine(f.accounts, f.txRepo, f.directory,
		calculator.NewDefaultFactory(f.directory, f.directory), f.ledger, logger,
		append([]EngineOption{
			WithEngineClock(f.clock.Now),
			WithEngineMetrics(f.metrics),
			WithRetryPolicy(3, time.Millisecond),
		}, f.engineOpts...)...,
	)

	f.seedDirectory(t)
	return f
}

func (f *fixture) seedDirectory(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Create(&domain.AccountKind{ID: 1, Name: "staff", ModeConfig: datatypes.JSON(kindModeConfig)}).Error)
	require.NoError(t, f.db.Create([]*domain.Area{
		{ID: "canteen", Name: "一食堂", ManageMode: domain.ManageMeal, Enabled: true},
		{ID: "shop", Name: "超市", ManageMode: domain.ManageSupermarket, Enabled: true},
		{ID: "mart", Name: "便利店", ManageMode: domain.ManageSupermarket, Enabled: true},
	}).Error)
	require.NoError(t, f.db.Create(&domain.Device{ID: "pos-1", Name: "1号窗口", AreaID: "canteen", Online: true}).Error)
	require.NoError(t, f.db.Create(&domain.Product{
		ID: "p1", Name: "矿泉水", Price: dec("5.00"), Available: true, AreaIDs: datatypes.JSONSlice[string]{"shop"},
	}).Error)
}

func (f *fixture) seedAccount(t *testing.T, balance string) *domain.Account {
	t.Helper()
	a := &domain.Account{UserID: 1001, AccountKindID: 1, Balance: dec(balance), Version: 1, Status: domain.AccountActive}
	require.NoError(t, f.db.Create(a).Error)
	return a
}

func (f *fixture) reload(t *testing.T, id int64) *domain.Account {
	t.Helper()
	a, err := repo.NewAccountRepo(f.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) countTransactions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.ConsumeTransaction{}).Count(&n).Error)
	return n
}
