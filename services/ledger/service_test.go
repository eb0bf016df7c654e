package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payout-engine/pkg/db/pagination"
	"payout-engine/pkg/errutil"
	"payout-engine/pkg/locker"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db         *gorm.DB
	svc        *Service
	affiliates *affiliate.Service
	settings   *commission.Service
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&commission.PlatformSettings{}, &commission.SettingsAudit{},
		&affiliate.Affiliate{}, &RewardTransaction{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	settings := commission.NewService(commission.ServiceParams{DB: db, Node: node})
	affiliates := affiliate.NewService(affiliate.ServiceParams{DB: db, Node: node, Settings: settings})

	f := &fixture{
		db:         db,
		affiliates: affiliates,
		settings:   settings,
		clock:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceParams{
		DB:         db,
		Node:       node,
		Affiliates: affiliates,
		Settings:   settings,
		Locker:     locker.NewLocal(),
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) activeAffiliate(t *testing.T, userID string) *affiliate.Affiliate {
	t.Helper()
	a, err := f.affiliates.Apply(context.Background(), affiliate.ApplyParams{UserID: userID, DisplayName: userID, AutoApprove: true})
	require.NoError(t, err)
	return a
}

func (f *fixture) entry(t *testing.T, referrerID, source, amount string) *RewardTransaction {
	t.Helper()
	e, err := f.svc.CreateEntry(context.Background(), CreateEntryParams{
		ReferrerID:      referrerID,
		RefereeID:       "buyer",
		Amount:          decimal.RequireFromString(amount),
		SourcePaymentID: source,
	})
	require.NoError(t, err)
	return e
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusAvailable, StatusPaid, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAvailable}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusAvailable, StatusAvailable}: true,
		{StatusAvailable, StatusPaid}:      true,
		{StatusAvailable, StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			err := Transition(&RewardTransaction{ID: "e", Status: from}, to)
			if allowed[[2]Status{from, to}] {
				require.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			require.ErrorIs(t, err, ErrInvalidTransition)
			var te *InvalidTransitionError
			require.True(t, errors.As(err, &te))
			require.Equal(t, from, te.From)
		}
	}

	require.True(t, IsTerminal(StatusPaid))
	require.True(t, IsTerminal(StatusCancelled))
	require.False(t, IsTerminal(StatusAvailable))
}

func TestCreateEntryFreezesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")

	first := f.entry(t, a.ID, "pay_1", "20")
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, f.clock.AddDate(0, 0, 14), first.HoldEndsAt)

	hold := 3
	_, err := f.settings.UpdateSettings(ctx, "admin", commission.SettingsInput{RefundHoldDays: &hold})
	require.NoError(t, err)

	second := f.entry(t, a.ID, "pay_2", "5")
	require.Equal(t, f.clock.AddDate(0, 0, 3), second.HoldEndsAt)

	stored, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, stored.HoldEndsAt.Equal(f.clock.AddDate(0, 0, 14)))

	refreshed, err := f.affiliates.Get(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "25", refreshed.TotalEarnings)
}

func TestCreateEntryRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	a := f.activeAffiliate(t, "alice")

	for _, amount := range []string{"0", "-5"} {
		_, err := f.svc.CreateEntry(context.Background(), CreateEntryParams{
			ReferrerID: a.ID, Amount: decimal.RequireFromString(amount), SourcePaymentID: "pay_" + amount,
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
		require.True(t, errutil.Is(err, errutil.StatusBadRequest))
	}

	entries, err := f.svc.Entries(context.Background(), a.ID, "")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCreateEntryIsIdempotentPerSourcePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	b := f.activeAffiliate(t, "bob")

	first := f.entry(t, a.ID, "pay_1", "20")

	_, err := f.svc.CreateEntry(ctx, CreateEntryParams{ReferrerID: a.ID, Amount: decimal.NewFromInt(20), SourcePaymentID: "pay_1"})
	require.ErrorIs(t, err, ErrDuplicateSourceEvent)
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	// Same payment credited to a different referrer is a different obligation.
	f.entry(t, b.ID, "pay_1", "20")

	_, err = f.svc.CancelEntry(ctx, first.ID, "fraud")
	require.NoError(t, err)

	again := f.entry(t, a.ID, "pay_1", "20")
	require.NotEqual(t, first.ID, again.ID)

	entries, err := f.svc.Entries(ctx, a.ID, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestUniqueIndexRejectsActiveDuplicates(t *testing.T) {
	f := newFixture(t)
	now := f.clock

	row := func(id string, status Status) *RewardTransaction {
		return &RewardTransaction{
			ID: id, ReferrerID: "aff", SourcePaymentID: "pay_1", Amount: decimal.NewFromInt(1),
			Status: status, HoldEndsAt: now,
		}
	}

	require.NoError(t, f.db.Create(row("1", StatusCancelled)).Error)
	require.NoError(t, f.db.Create(row("2", StatusPending)).Error)
	require.NoError(t, f.db.Create(row("3", StatusCancelled)).Error)
	err := f.db.Create(row("4", StatusAvailable)).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestRecordSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")

	e, err := f.svc.RecordSale(ctx, SaleParams{
		ReferrerID: a.ID, RefereeID: "buyer-1", SaleAmount: decimal.RequireFromString("199.99"), SourcePaymentID: "pay_1",
	})
	require.NoError(t, err)
	requireDecimal(t, "20", e.Amount)
	requireDecimal(t, "199.99", *e.SaleAmount)
	requireDecimal(t, "10", *e.CommissionRate)

	_, err = f.svc.RecordSale(ctx, SaleParams{
		ReferrerID: a.ID, RefereeID: "alice", SaleAmount: decimal.NewFromInt(100), SourcePaymentID: "pay_2",
	})
	require.ErrorIs(t, err, ErrSelfReferral)

	pending, err := f.affiliates.Apply(ctx, affiliate.ApplyParams{UserID: "carol", DisplayName: "carol"})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, SaleParams{
		ReferrerID: pending.ID, RefereeID: "buyer", SaleAmount: decimal.NewFromInt(100), SourcePaymentID: "pay_3",
	})
	require.ErrorIs(t, err, affiliate.ErrNotActive)
}

func TestRecordSaleUsesLockedRateAfterTierChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")

	low := decimal.NewFromInt(50)
	_, err := f.settings.UpdateSettings(ctx, "admin", commission.SettingsInput{LowCommission: &low})
	require.NoError(t, err)

	e, err := f.svc.RecordSale(ctx, SaleParams{ReferrerID: a.ID, SaleAmount: decimal.NewFromInt(100), SourcePaymentID: "pay_1"})
	require.NoError(t, err)
	requireDecimal(t, "10", e.Amount)
}

func TestReleaseEligibleHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	f.entry(t, a.ID, "pay_1", "20")

	released, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 13))
	require.NoError(t, err)
	require.Zero(t, released)

	balance, err := f.svc.AvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", balance)

	released, err = f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Equal(t, int64(1), released)

	released, err = f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Zero(t, released)

	balance, err = f.svc.AvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "20", balance)

	entries, err := f.svc.Entries(ctx, a.ID, StatusAvailable)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].AvailableAt)
}

func TestReleaseSkipsCancelledEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")

	_, err := f.svc.CancelEntry(ctx, e.ID, "refund")
	require.NoError(t, err)

	released, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Zero(t, released)
}

func TestCancelEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")
	f.entry(t, a.ID, "pay_2", "5")

	cancelled, err := f.svc.CancelEntry(ctx, e.ID, "chargeback")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "chargeback", cancelled.CancelReason)

	refreshed, err := f.affiliates.Get(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "5", refreshed.TotalEarnings)

	_, err = f.svc.CancelEntry(ctx, e.ID, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.CancelEntry(ctx, "missing", "x")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestPaidEntriesAreTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")

	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)

	paidAt := f.clock.AddDate(0, 0, 15)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		rows, err := f.svc.MarkPaid(ctx, tx, []string{e.ID}, "payout-1", paidAt)
		require.Len(t, rows, 1)
		return err
	})
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, "payout-1", *stored.PayoutID)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.MarkPaid(ctx, tx, []string{e.ID}, "payout-2", paidAt)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.True(t, errutil.Is(err, errutil.StatusInternal))

	_, err = f.svc.CancelEntry(ctx, e.ID, "late refund")
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err = f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, "payout-1", *stored.PayoutID)
}

func TestMarkPaidRejectsPendingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.MarkPaid(ctx, tx, []string{e.ID}, "payout-1", f.clock)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestClaimedEntriesAreHeldForPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	claimed := f.entry(t, a.ID, "pay_1", "20")
	free := f.entry(t, a.ID, "pay_2", "5")

	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.ClaimEntries(ctx, tx, []string{claimed.ID}, "payout-1")
	}))

	payable, err := f.svc.PayableEntries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, payable, 1)
	require.Equal(t, free.ID, payable[0].ID)

	balance, err := f.svc.AvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "25", balance)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.ClaimEntries(ctx, tx, []string{claimed.ID}, "payout-2")
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.CancelEntry(ctx, claimed.ID, "refund")
	require.ErrorIs(t, err, ErrEntryInFlight)
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	res, err := f.svc.CancelBySourcePayment(ctx, "pay_1", "refunded")
	require.NoError(t, err)
	require.Empty(t, res.Cancelled)
	require.Equal(t, []string{claimed.ID}, res.Skipped)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.MarkPaid(ctx, tx, []string{claimed.ID}, "payout-2", f.clock)
		return err
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		n, err := f.svc.ReleaseClaims(ctx, tx, "payout-1")
		require.Equal(t, int64(1), n)
		return err
	}))

	payable, err = f.svc.PayableEntries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, payable, 2)

	_, err = f.svc.CancelEntry(ctx, claimed.ID, "refund")
	require.NoError(t, err)
}

func TestCancelBySourcePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	b := f.activeAffiliate(t, "bob")

	paid := f.entry(t, a.ID, "pay_1", "20")
	open := f.entry(t, b.ID, "pay_1", "7")
	f.entry(t, a.ID, "pay_2", "3")

	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.MarkPaid(ctx, tx, []string{paid.ID}, "payout-1", f.clock)
		return err
	}))

	res, err := f.svc.CancelBySourcePayment(ctx, "pay_1", "refunded")
	require.NoError(t, err)
	require.Equal(t, []string{open.ID}, res.Cancelled)
	require.Equal(t, []string{paid.ID}, res.Skipped)

	res, err = f.svc.CancelBySourcePayment(ctx, "pay_1", "refunded")
	require.NoError(t, err)
	require.Empty(t, res.Cancelled)
}

func TestSummaryAndAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	b := f.activeAffiliate(t, "bob")

	f.entry(t, a.ID, "pay_1", "100")
	f.clock = f.clock.Add(time.Hour)
	f.entry(t, a.ID, "pay_2", "50.25")
	f.entry(t, b.ID, "pay_3", "10")

	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)

	f.clock = f.clock.AddDate(0, 0, 20)
	f.entry(t, a.ID, "pay_4", "9")

	sum, err := f.svc.Summary(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "150.25", sum.Available)
	requireDecimal(t, "9", sum.Pending)
	require.Equal(t, 2, sum.AvailableCount)
	require.Equal(t, 1, sum.PendingCount)
	require.NotNil(t, sum.NextReleaseAt)

	aggs, err := f.svc.AvailableByAffiliate(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	byID := map[string]AvailableAggregate{}
	for _, agg := range aggs {
		byID[agg.AffiliateID] = agg
	}
	requireDecimal(t, "150.25", byID[a.ID].Balance)
	require.Equal(t, 2, byID[a.ID].EntryCount)
	requireDecimal(t, "10", byID[b.ID].Balance)

	cached, err := f.svc.CachedAvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "150.25", cached)
}

func TestRecomputeTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")
	f.entry(t, a.ID, "pay_2", "5")

	require.NoError(t, f.db.Model(&affiliate.Affiliate{}).Where("id = ?", a.ID).
		Updates(map[string]any{"total_earnings": decimal.NewFromInt(999), "total_paid": decimal.NewFromInt(7)}).Error)

	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.MarkPaid(ctx, tx, []string{e.ID}, "payout-1", f.clock)
		return err
	}))

	sum, err := f.svc.RecomputeTotals(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "20", sum.Paid)

	refreshed, err := f.affiliates.Get(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "25", refreshed.TotalEarnings)
	requireDecimal(t, "20", refreshed.TotalPaid)
}

func TestAuditAmountsReportsWithoutRepricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "alice")

	e, err := f.svc.RecordSale(ctx, SaleParams{ReferrerID: a.ID, SaleAmount: decimal.NewFromInt(100), SourcePaymentID: "pay_1"})
	require.NoError(t, err)
	f.entry(t, a.ID, "pay_raw", "3")

	report, err := f.svc.AuditAmounts(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, report)

	require.NoError(t, f.db.Model(&RewardTransaction{}).Where("id = ?", e.ID).Update("amount", decimal.NewFromInt(12)).Error)

	report, err = f.svc.AuditAmounts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, report, 1)
	requireDecimal(t, "12", report[0].Stored)
	requireDecimal(t, "10", report[0].Expected)

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	requireDecimal(t, "12", stored.Amount)
}

func TestEntriesPageWalksNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAffiliate(t, "pager")

	var created []string
	for _, src := range []string{"pay_1", "pay_2", "pay_3", "pay_4", "pay_5"} {
		created = append(created, f.entry(t, a.ID, src, "10").ID)
	}

	var seen []string
	page := pagination.Pagination{Limit: 2}
	for i := 0; i < 3; i++ {
		entries, info, err := f.svc.EntriesPage(ctx, a.ID, "", page)
		require.NoError(t, err)
		for _, e := range entries {
			seen = append(seen, e.ID)
		}
		if !info.HasMore {
			require.Empty(t, info.NextCursor)
			break
		}
		page.Cursor = info.NextCursor
	}

	require.Len(t, seen, 5)
	for i := range created {
		require.Equal(t, created[len(created)-1-i], seen[i])
	}

	_, _, err := f.svc.EntriesPage(ctx, a.ID, "", pagination.Pagination{Cursor: "%%%"})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

// versionedCache mirrors the Redis cache: Set only lands while the version
// read by Get is still current.
type versionedCache struct {
	mu       sync.Mutex
	values   map[string]decimal.Decimal
	versions map[string]int64
	afterGet func()
}

func newVersionedCache() *versionedCache {
	return &versionedCache{values: map[string]decimal.Decimal{}, versions: map[string]int64{}}
}

func (c *versionedCache) Get(_ context.Context, affiliateID string) (decimal.Decimal, int64, bool) {
	c.mu.Lock()
	v, ok := c.values[affiliateID]
	version := c.versions[affiliateID]
	hook := c.afterGet
	c.mu.Unlock()
	if !ok && hook != nil {
		hook()
	}
	return v, version, ok
}

func (c *versionedCache) Set(_ context.Context, affiliateID string, balance decimal.Decimal, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[affiliateID] != version {
		return
	}
	c.values[affiliateID] = balance
}

func (c *versionedCache) Invalidate(_ context.Context, affiliateIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range affiliateIDs {
		c.versions[id]++
		delete(c.values, id)
	}
}

func TestCachedBalanceDropsValueComputedBeforeInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newVersionedCache()
	f.svc.cache = cache

	a := f.activeAffiliate(t, "alice")
	e := f.entry(t, a.ID, "pay_1", "20")
	_, err := f.svc.ReleaseEligibleHolds(ctx, f.clock.AddDate(0, 0, 14))
	require.NoError(t, err)

	// A ledger write lands between the cache miss and the cache fill.
	cache.afterGet = func() {
		cache.afterGet = nil
		cache.Invalidate(ctx, a.ID)
	}
	balance, err := f.svc.CachedAvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "20", balance)
	_, _, ok := cache.Get(ctx, a.ID)
	require.False(t, ok)

	balance, err = f.svc.CachedAvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "20", balance)
	cached, _, ok := cache.Get(ctx, a.ID)
	require.True(t, ok)
	requireDecimal(t, "20", cached)

	_, err = f.svc.CancelEntry(ctx, e.ID, "refund")
	require.NoError(t, err)
	balance, err = f.svc.CachedAvailableBalance(ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", balance)
}
