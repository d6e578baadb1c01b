package payments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws/dynamotest"
	"github.com/imrishuroy/storefront-fulfillment/internal/inventory"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
)

type memBlobs struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func (m *memBlobs) Put(_ context.Context, key, _ string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.items == nil {
		m.items = map[string][]byte{}
	}
	m.items[key] = body
	return nil
}

func (m *memBlobs) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?ttl=" + ttl.String(), nil
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, e audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

type fixture struct {
	store     *orders.Store
	inventory *inventory.Store
	blobs     *memBlobs
	audit     *captureRecorder
	wf        *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dynamotest.New().
		CreateTable("orders", "order_number").
		CreateTable("products", "product_id")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := orders.NewStore(db, "orders")
	inv := inventory.NewStore(db, "products")
	require.NoError(t, inv.Put(context.Background(), inventory.Product{ProductID: "p1", Stock: 5, TrackStock: true}))

	blobs := &memBlobs{}
	rec := &captureRecorder{}
	return &fixture{
		store:     store,
		inventory: inv,
		blobs:     blobs,
		audit:     rec,
		wf:        NewWorkflow(orders.NewService(store, inv, logger), blobs, rec, logger),
	}
}

func (f *fixture) bankOrder(t *testing.T, number string) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &orders.Order{
		OrderNumber:   number,
		PaymentMethod: orders.PaymentBankTransfer,
		PaymentStatus: orders.PaymentPending,
		OrderStatus:   orders.StatusPending,
		Items:         []orders.Item{{ProductID: "p1", Name: "Mug", UnitPrice: orders.MustMoney("9.90"), Quantity: 3}},
	}))
}

func TestSniffReceipt(t *testing.T) {
	for name, data := range map[string][]byte{"png": pngBytes, "pdf": pdfBytes, "jpeg": jpegBytes} {
		_, err := SniffReceipt(data)
		assert.NoError(t, err, name)
	}

	_, err := SniffReceipt([]byte("just some text"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedMedia)

	_, err = SniffReceipt(bytes.Repeat([]byte{0}, MaxReceiptBytes+1))
	assert.ErrorIs(t, err, apperr.ErrPayloadTooLarge)

	_, err = SniffReceipt(nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUploadThenApprove(t *testing.T) {
	f := newFixture(t)
	f.bankOrder(t, "1001")
	ctx := context.Background()

	_, err := f.wf.Approve(ctx, "1001", "admin-1")
	require.ErrorIs(t, err, apperr.ErrMissingReceipt)

	o, err := f.wf.UploadReceipt(ctx, ReceiptUpload{OrderNumber: "1001", Actor: "admin-1", FileName: "dekont.pdf", Data: pdfBytes})
	require.NoError(t, err)
	require.NotNil(t, o.Receipt)
	assert.Equal(t, "application/pdf", o.Receipt.ContentType)
	assert.True(t, strings.HasPrefix(o.Receipt.Key, "receipts/1001/"))
	assert.True(t, strings.HasSuffix(o.Receipt.Key, ".pdf"))
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Len(t, f.blobs.items, 1)

	o, err = f.wf.Approve(ctx, "1001", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, o.OrderStatus)

	p, err := f.inventory.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Stock)

	url, err := f.wf.ReceiptURL(ctx, "1001")
	require.NoError(t, err)
	assert.Contains(t, url, o.Receipt.Key)

	require.Len(t, f.audit.entries, 3)
	assert.Equal(t, audit.ActionPaymentApproved, f.audit.entries[0].Action)
	assert.Equal(t, "refused", f.audit.entries[0].Metadata["outcome"])
	assert.Equal(t, audit.ActionReceiptUploaded, f.audit.entries[1].Action)
	last := f.audit.entries[2]
	assert.Equal(t, audit.ActionPaymentApproved, last.Action)
	assert.Equal(t, "admin-1", last.Actor)
	assert.Equal(t, "PENDING", last.Metadata["payment_status_before"])
	assert.Equal(t, "PAID", last.Metadata["payment_status_after"])
}

func TestUploadRejectedBeforeStoringBlob(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Create(context.Background(), &orders.Order{
		OrderNumber:   "card",
		PaymentMethod: orders.PaymentCard,
		PaymentStatus: orders.PaymentPending,
		OrderStatus:   orders.StatusPending,
	}))

	_, err := f.wf.UploadReceipt(context.Background(), ReceiptUpload{OrderNumber: "card", Actor: "a", FileName: "r.png", Data: pngBytes})
	assert.ErrorIs(t, err, apperr.ErrWrongPaymentMethod)
	assert.Empty(t, f.blobs.items)

	_, err = f.wf.UploadReceipt(context.Background(), ReceiptUpload{OrderNumber: "missing", Actor: "a", FileName: "r.png", Data: pngBytes})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUploadBlobFailure(t *testing.T) {
	f := newFixture(t)
	f.bankOrder(t, "1001")
	f.blobs.err = errors.New("s3 unavailable")

	_, err := f.wf.UploadReceipt(context.Background(), ReceiptUpload{OrderNumber: "1001", Actor: "a", FileName: "r.jpg", Data: jpegBytes})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	o, err := f.store.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Nil(t, o.Receipt)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.bankOrder(t, "1001")
	ctx := context.Background()

	o, err := f.wf.Reject(ctx, "1001", "admin", "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.OrderStatus)

	p, err := f.inventory.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Stock)

	_, err = f.wf.ReceiptURL(ctx, "1001")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

type fakePresign struct{ expires time.Duration }

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key, Method: "GET"}, nil
}

func TestS3BlobStore(t *testing.T) {
	client := &fakeS3{}
	presign := &fakePresign{}
	store := NewS3BlobStore(client, presign, "receipts")

	require.NoError(t, store.Put(context.Background(), "receipts/1/a.pdf", "application/pdf", pdfBytes))
	assert.Equal(t, "receipts", *client.input.Bucket)
	assert.Equal(t, "application/pdf", *client.input.ContentType)
	assert.Equal(t, int64(len(pdfBytes)), *client.input.ContentLength)
	assert.Equal(t, pdfBytes, client.body)

	url, err := store.PresignGet(context.Background(), "receipts/1/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/receipts/receipts/1/a.pdf", url)
	assert.Equal(t, time.Minute, presign.expires)
}
