package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws/dynamotest"
)

const table = "audit_log"

func newTestStore(now time.Time) (*Store, *dynamotest.Fake) {
	db := dynamotest.New().CreateTable(table, "entry_id")
	s := NewStore(db, table)
	s.nowFunc = func() time.Time { return now }
	return s, db
}

func TestAppendIsIdempotentByEntryID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, db := newTestStore(now)
	ctx := context.Background()

	e := Entry{EntryID: "e-1", Actor: "admin-1", Action: ActionPaymentApproved, Category: CategoryPayment, Description: "approved"}
	require.NoError(t, s.Append(ctx, e))
	e.Description = "replayed"
	require.NoError(t, s.Append(ctx, e))

	assert.Equal(t, 1, db.Len(table))
	item := db.Item(table, "e-1")
	require.NotNil(t, item)
	assert.Equal(t, 2, db.Calls("PutItem"))
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, db := newTestStore(now)

	require.NoError(t, s.Append(context.Background(), Entry{Actor: "a", Action: ActionShipmentCreated, Category: CategoryShipping}))

	page, err := s.Query(context.Background(), Filter{}, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.NotEmpty(t, page.Entries[0].EntryID)
	assert.True(t, page.Entries[0].CreatedAt.Equal(now))
	assert.Equal(t, 1, db.Len(table))
}

func seedEntries(t *testing.T, s *Store, base time.Time) {
	t.Helper()
	for i := 0; i < 7; i++ {
		e := Entry{
			EntryID:   fmt.Sprintf("e-%02d", i),
			Actor:     "admin-1",
			Action:    ActionPaymentApproved,
			Category:  CategoryPayment,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if i%2 == 1 {
			e.Actor = "admin-2"
			e.Action = ActionOfferAccepted
			e.Category = CategoryShipping
		}
		require.NoError(t, s.Append(context.Background(), e))
	}
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestStore(base.Add(24 * time.Hour))
	seedEntries(t, s, base)
	ctx := context.Background()

	first, err := s.Query(ctx, Filter{Actor: "admin-1"}, 2, "")
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, "e-02", first.Entries[0].EntryID, "newest first within a page")
	assert.Equal(t, "e-00", first.Entries[1].EntryID)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.Query(ctx, Filter{Actor: "admin-1"}, 2, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.Equal(t, "e-06", second.Entries[0].EntryID)
	assert.Equal(t, "e-04", second.Entries[1].EntryID)

	third, err := s.Query(ctx, Filter{Actor: "admin-1"}, 2, second.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, third.Entries)
	assert.Empty(t, third.NextCursor)
}

func TestQueryByCategoryAndAction(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestStore(base.Add(24 * time.Hour))
	seedEntries(t, s, base)

	page, err := s.Query(context.Background(), Filter{Category: CategoryShipping, Action: ActionOfferAccepted}, 50, "")
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Empty(t, page.NextCursor)
	for _, e := range page.Entries {
		assert.Equal(t, "admin-2", e.Actor)
	}
}

func TestSummaryCountsTrailingWindow(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	s, _ := newTestStore(now)
	ctx := context.Background()

	old := Entry{EntryID: "old", Actor: "admin-1", Action: ActionPaymentApproved, Category: CategoryPayment, CreatedAt: now.AddDate(0, 0, -40)}
	recent1 := Entry{EntryID: "r1", Actor: "admin-1", Action: ActionPaymentApproved, Category: CategoryPayment, CreatedAt: now.AddDate(0, 0, -2)}
	recent2 := Entry{EntryID: "r2", Actor: "admin-1", Action: ActionShipmentCreated, Category: CategoryShipping, CreatedAt: now.AddDate(0, 0, -1)}
	other := Entry{EntryID: "o1", Actor: "admin-2", Action: ActionShipmentCreated, Category: CategoryShipping, CreatedAt: now}
	for _, e := range []Entry{old, recent1, recent2, other} {
		require.NoError(t, s.Append(ctx, e))
	}

	sum, err := s.Summary(ctx, "admin-1", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ByAction[ActionPaymentApproved])
	assert.Equal(t, 1, sum.ByCategory[CategoryShipping])
	require.NotNil(t, sum.LastActivity)
	assert.True(t, sum.LastActivity.Equal(recent2.CreatedAt))
}
