package service

import (
	"context"
	"encoding/json"
	"testing"

	"corracoins/internal/model"
	"corracoins/internal/repository"
	"corracoins/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRewardRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedBalance(testUser, 100, 100, 0)

	result, err := f.rewards.CreateRewardRequest(ctx, UserOwner(testUser), f.request())
	require.NoError(t, err)

	trans := result.Transaction
	assert.Equal(t, model.StatusPending, trans.Status)
	assert.Equal(t, model.TransactionTypeRewardRequest, trans.Type)
	assert.Regexp(t, `^CRW\d{14}_\d{16,}$`, trans.TransactionNo)
	assert.Equal(t, int64(100), trans.CoinsEarned)
	assert.Equal(t, int64(100), trans.Amount)
	assert.False(t, trans.BalanceApplied)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(200)))

	// nothing moves until approval
	f.assertBalance(testUser, 100, 100, 0)

	msgs, err := repository.NewOutboxRepository(f.db).ListByKey(ctx, trans.TransactionNo)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, f.cfg.Kafka.Topic.LedgerEvents, msgs[0].Topic)

	var event LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &event))
	assert.Equal(t, model.EventRewardRequested, event.EventType)
	assert.Equal(t, int64(100), event.Amount)
	assert.Empty(t, event.Balance)
}

func TestCreateRewardRequest_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(UserOwner(testUser), f.request())

	_, err := f.rewards.CreateRewardRequest(ctx, UserOwner(testUser), f.request())
	assertRule(t, err, ErrBadRequest, CodeDuplicateRequest)

	// same bill at another brand or on another day is a different bill
	other := f.request()
	other.BillDate = f.daysAgo(2)
	f.submit(UserOwner(testUser), other)

	testutil.SeedBrand(t, f.db, 11, 5)
	other = f.request()
	other.BrandID = 11
	f.submit(UserOwner(testUser), other)
}

func TestCreateRewardRequest_RejectedRequestsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request()
	req.BillAmount = 100001
	_, err := f.rewards.CreateRewardRequest(ctx, UserOwner(testUser), req)
	assertRule(t, err, ErrBadRequest, CodeInvalidBillAmount)

	_, err = f.rewards.CreateRewardRequest(ctx, Owner{}, f.request())
	assertRule(t, err, ErrBadRequest, CodeInvalidRequest)

	_, total, err := f.rewards.ListTransactions(ctx, repository.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateRewardRequest_NewBalanceNetsRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedBalance(testUser, 100, 100, 0)

	first, err := f.rewards.CreateRewardRequest(ctx, UserOwner(testUser), f.redeemRequest(1000, 100))
	require.NoError(t, err)
	assert.True(t, first.NewBalance.Equal(decimal.NewFromInt(90)))
}

func TestPreviewRewardRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	preview, err := f.rewards.PreviewRewardRequest(ctx, SessionOwner("web-1"), f.request())
	require.NoError(t, err)
	assert.Equal(t, int64(100), preview.Calculation.CoinsEarned)
	assert.Equal(t, "sweb-1:10:1000:2026-03-14", preview.PendingKey)

	_, total, err := f.rewards.ListTransactions(ctx, repository.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestClaimSessionTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(SessionOwner("web-1"), f.request())
	req := f.request()
	req.BillAmount = 640
	second := f.submit(SessionOwner("web-1"), req)
	f.submit(SessionOwner("web-2"), f.request())

	result, err := f.rewards.ClaimSessionTransactions(ctx, "web-1", testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Claimed)
	assert.Empty(t, result.Duplicates)

	for _, id := range []int64{first.ID, second.ID} {
		got := f.reload(id)
		require.NotNil(t, got.UserID)
		assert.Equal(t, testUser, *got.UserID)
	}

	// the claimed bill now blocks the user from submitting it again
	_, err = f.rewards.CreateRewardRequest(ctx, UserOwner(testUser), f.request())
	assertRule(t, err, ErrBadRequest, CodeDuplicateRequest)

	// claimed requests are reviewable in order
	_, err = f.approvals.Approve(ctx, first.ID, testAdmin, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		model.EventRewardRequested,
		model.EventRewardClaimed,
		model.EventRewardApproved,
	}, f.events(first.TransactionNo))

	again, err := f.rewards.ClaimSessionTransactions(ctx, "web-1", testUser)
	require.NoError(t, err)
	assert.Zero(t, again.Claimed)
}

func TestClaimSessionTransactions_RejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.submit(UserOwner(testUser), f.request())
	guest := f.submit(SessionOwner("web-1"), f.request())

	result, err := f.rewards.ClaimSessionTransactions(ctx, "web-1", testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{guest.TransactionNo}, result.Duplicates)

	got := f.reload(guest.ID)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Contains(t, got.AdminNotes, mine.TransactionNo)
	assert.Equal(t, model.StatusPending, f.reload(mine.ID).Status)
}

func TestClaimSessionTransactions_Refusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rewards.ClaimSessionTransactions(ctx, " ", testUser)
	assertRule(t, err, ErrBadRequest, CodeInvalidRequest)

	_, err = f.rewards.ClaimSessionTransactions(ctx, "web-1", 404)
	assertRule(t, err, ErrNotFound, CodeUserNotFound)
}

func TestGetPendingSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedBalance(testUser, 200, 200, 0)

	first := f.submit(UserOwner(testUser), f.request())
	f.submit(UserOwner(testUser), f.redeemRequest(500, 100))

	summary, err := f.rewards.GetPendingSummary(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PendingCount)
	assert.Equal(t, int64(140), summary.PendingEarned)
	assert.Equal(t, int64(100), summary.PendingRedeemed)
	assert.True(t, summary.Balance.Equal(decimal.NewFromInt(200)))
	assert.True(t, summary.OptimisticBalance.Equal(decimal.NewFromInt(240)))
	require.Len(t, summary.Pending, 2)
	assert.Equal(t, first.ID, summary.Pending[0].ID)

	_, err = f.rewards.GetPendingSummary(ctx, 404)
	assertRule(t, err, ErrNotFound, CodeUserNotFound)
}

func TestListUserTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedUser(t, f.db, 2)
	f.submit(UserOwner(testUser), f.request())
	f.submit(UserOwner(2), f.request())

	rows, total, err := f.rewards.ListUserTransactions(ctx, testUser, repository.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, testUser, *rows[0].UserID)
}
