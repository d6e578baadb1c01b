package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws/dynamotest"
)

func message(t *testing.T, id string, e audit.Entry) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestWorkerAppendsEntries(t *testing.T) {
	db := dynamotest.New().CreateTable("audit_log", "entry_id")
	p := NewProcessor(audit.NewStore(db, "audit_log"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := audit.Entry{
		EntryID:   "0192b7e4-0000-7000-8000-000000000001",
		Actor:     "admin-1",
		Action:    audit.ActionPaymentApproved,
		Category:  audit.CategoryPayment,
		CreatedAt: time.Now().UTC(),
	}
	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", e),
		{MessageId: "m2", Body: "not json"},
		message(t, "m3", e), // redelivery of the same entry
	}}

	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 1, db.Len("audit_log"))
}

func TestWorkerReportsFailedWrites(t *testing.T) {
	db := dynamotest.New().CreateTable("audit_log", "entry_id")
	db.FailNext("PutItem", errors.New("throttled"))
	p := NewProcessor(audit.NewStore(db, "audit_log"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ev := events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", audit.Entry{EntryID: "a", Action: audit.ActionOfferAccepted}),
		message(t, "m2", audit.Entry{EntryID: "b", Action: audit.ActionOfferAccepted}),
	}}

	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, 1, db.Len("audit_log"))
}
