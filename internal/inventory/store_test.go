package inventory

import (
	"context"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws/dynamotest"
)

func TestTrackedDecrementsAggregatesAndSkipsUntracked(t *testing.T) {
	db := dynamotest.New().CreateTable("products", "product_id")
	s := NewStore(db, "products")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Product{ProductID: "p1", Name: "Mug", Stock: 10, TrackStock: true}))
	require.NoError(t, s.Put(ctx, Product{ProductID: "p2", Name: "Gift card", Stock: 0, TrackStock: false}))

	writes, err := s.TrackedDecrements(ctx, []Line{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 1},
		{ProductID: "gone", Quantity: 4},
	})
	require.NoError(t, err)
	require.Len(t, writes, 1)

	_, err = db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: writes})
	require.NoError(t, err)

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.Stock)
}

func TestGetMissingProduct(t *testing.T) {
	db := dynamotest.New().CreateTable("products", "product_id")
	p, err := NewStore(db, "products").Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}
