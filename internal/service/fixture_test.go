package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/infrastructure/lock"
	"corracoins/internal/model"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"
	"corracoins/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testUser  int64 = 1
	testBrand int64 = 10
	testAdmin int64 = 900
)

type ledgerFixture struct {
	t         *testing.T
	db        *gorm.DB
	cfg       *config.Config
	registry  *prometheus.Registry
	metrics   *monitoring.LedgerMetrics
	engine    *BalanceEngine
	validator *Validator
	rewards   *RewardService
	approvals *ApprovalService
	balances  *BalanceService
	now       time.Time
}

// newFixture wires the ledger services against in-memory SQLite and redis,
// with user 1 and brand 10 (10% earning, 100% redemption) seeded.
func newFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Default()
	locker := lock.NewRedisLocker(client, config.RedisConfig{
		LockTTL:        10 * time.Second,
		LockRetry:      2 * time.Millisecond,
		LockMaxRetries: 2500,
	})
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewLedgerMetrics(registry)
	users := repository.NewUserRepository(db)
	brands := repository.NewBrandRepository(db)

	f := &ledgerFixture{
		t:        t,
		db:       db,
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		now:      time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.engine = NewBalanceEngine(db, metrics)
	f.validator = NewValidator(db, users, brands, cfg.Ledger)
	f.validator.now = clock
	f.rewards = NewRewardService(db, locker, f.validator, users, cfg, metrics)
	f.rewards.now = clock
	f.approvals = NewApprovalService(db, locker, f.engine, cfg, metrics)
	f.approvals.now = clock
	f.balances = NewBalanceService(db, locker, f.engine, users, cfg)
	f.balances.now = clock

	testutil.SeedUser(t, db, testUser)
	testutil.SeedBrand(t, db, testBrand, 10)
	return f
}

func (f *ledgerFixture) daysAgo(n int) time.Time {
	return f.now.AddDate(0, 0, -n)
}

// request is a 1000 bill at brand 10 dated yesterday.
func (f *ledgerFixture) request() RewardRequest {
	return RewardRequest{
		BrandID:    testBrand,
		BillAmount: 1000,
		BillDate:   f.daysAgo(1),
		ReceiptURL: "s3://receipts/1.jpg",
	}
}

func (f *ledgerFixture) submit(owner Owner, req RewardRequest) *model.CoinTransaction {
	f.t.Helper()
	result, err := f.rewards.CreateRewardRequest(context.Background(), owner, req)
	require.NoError(f.t, err)
	return result.Transaction
}

func (f *ledgerFixture) seedBalance(userID, balance, earned, redeemed int64) {
	testutil.SeedBalance(f.t, f.db, userID, balance, earned, redeemed)
}

// assertBalance checks {balance, totalEarned, totalRedeemed} of userID.
func (f *ledgerFixture) assertBalance(userID, balance, earned, redeemed int64) {
	f.t.Helper()
	row, err := repository.NewBalanceRepository(f.db).GetByUserID(context.Background(), nil, userID)
	require.NoError(f.t, err)
	assert.Equal(f.t, []string{itoa(balance), itoa(earned), itoa(redeemed)},
		[]string{row.Balance.String(), row.TotalEarned.String(), row.TotalRedeemed.String()},
		"balance, total earned, total redeemed")
	assert.True(f.t, row.Consistent())
}

func (f *ledgerFixture) reload(id int64) *model.CoinTransaction {
	f.t.Helper()
	trans, err := repository.NewTransactionRepository(f.db).GetByID(context.Background(), nil, id)
	require.NoError(f.t, err)
	return trans
}

func (f *ledgerFixture) events(key string) []string {
	f.t.Helper()
	msgs, err := repository.NewOutboxRepository(f.db).ListByKey(context.Background(), key)
	require.NoError(f.t, err)
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.EventType)
	}
	return types
}

// assertRule checks err is a LedgerError of kind with the given code.
func assertRule(t *testing.T, err error, kind error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	le, ok := AsLedgerError(err)
	require.True(t, ok, "expected a ledger error, got %v", err)
	assert.Equal(t, code, le.Code, le.Message)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
