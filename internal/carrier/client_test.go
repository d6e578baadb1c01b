package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "key-1", 2*time.Second)
}

func TestCreateShipment(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/shipments", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var req ShipmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+905551234567", req.Recipient.Phone)
		assert.Equal(t, 1.3, req.Parcel.WeightKg)

		_, _ = w.Write([]byte(`{"id":"shp-1"}`))
	})

	id, err := c.CreateShipment(context.Background(), ShipmentRequest{
		SenderAddressID: "sender-1",
		Recipient:       Party{Name: "A", Phone: "+905551234567", City: "Istanbul", Country: "TR"},
		Parcel:          Parcel{WeightKg: 1.3, MassUnit: "kg"},
		Reference:       "1001",
	})
	require.NoError(t, err)
	assert.Equal(t, "shp-1", id)
}

func TestListOffers(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shipments/shp-1/offers", r.URL.Path)
		_, _ = w.Write([]byte(`{"offers":[{"id":"o1","provider_name":"Aras","amount":"45.90","currency":"TRY","estimated_days":2},{"id":"o2","provider_name":"MNG","amount":39.5,"currency":"TRY","estimated_days":3}]}`))
	})

	offers, err := c.ListOffers(context.Background(), "shp-1")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "Aras", offers[0].CarrierName)
	assert.Equal(t, "39.5", offers[1].Price.String())
}

func TestAcceptOfferProviderError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offers/o1/accept", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"offer expired","additionalMessage":"request new offers"}`))
	})

	_, err := c.AcceptOffer(context.Background(), "o1")
	require.Error(t, err)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusUnprocessableEntity, ce.StatusCode)
	assert.Equal(t, "offer expired", ce.Message)
	assert.Equal(t, "request new offers", ce.Detail)
}

func TestAcceptOfferSuccess(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transaction_id":"tx-1","tracking_number":"TRK","barcode":"BC","label_url":"https://l/1.pdf","responsive_label_url":"https://l/1.html","tracking_url":"https://t/1"}`))
	})

	acc, err := c.AcceptOffer(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", acc.TransactionID)
	assert.Equal(t, "https://l/1.html", acc.ResponsiveLabelURL)
}

func TestGetTrackingAndPlainTextError(t *testing.T) {
	calls := 0
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"status_code":"IN_TRANSIT","updated_at":"2026-05-01T10:00:00Z"}`))
			return
		}
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	})

	tr, err := c.GetTracking(context.Background(), "shp-1")
	require.NoError(t, err)
	assert.Equal(t, TrackingInTransit, tr.StatusCode)

	_, err = c.GetTracking(context.Background(), "shp-1")
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "upstream down", ce.Detail)
}

func TestDownloadLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)

	body, ct, err := c.DownloadLabel(context.Background(), srv.URL+"/labels/1.pdf", LabelPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ct)
	assert.Equal(t, "%PDF-1.4", string(body))

	_, _, err = c.DownloadLabel(context.Background(), srv.URL, LabelFormat("zpl"))
	assert.Error(t, err)
}

func TestDownloadLabelSendsKeyOnlyToCarrierHost(t *testing.T) {
	var apiAuth, cdnAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer api.Close()
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer cdn.Close()
	c := NewHTTPClient(api.URL, "key-1", time.Second)

	_, _, err := c.DownloadLabel(context.Background(), api.URL+"/labels/1.pdf", LabelPDF)
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-1", apiAuth)

	_, _, err = c.DownloadLabel(context.Background(), cdn.URL+"/labels/1.pdf", LabelPDF)
	require.NoError(t, err)
	assert.Empty(t, cdnAuth)
}

func TestTransportErrorKeepsCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetTracking(ctx, "shp-1")
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "request failed", ce.Message)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"05551234567":       "+905551234567",
		"5551234567":        "+905551234567",
		"905551234567":      "+905551234567",
		"+90 555 123 45 67": "+905551234567",
		"(0555) 123-4567":   "+905551234567",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizePhone(" - ")
	assert.ErrorIs(t, err, ErrEmptyPhone)
}
