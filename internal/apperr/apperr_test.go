package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrMissingReceipt.WithMeta("order", "1001"))

	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, errors.Is(err, ErrMissingReceipt))
	assert.False(t, errors.Is(err, ErrWrongPaymentMethod))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{InvalidState("op", "x"), http.StatusConflict},
		{NotFound("op", "x"), http.StatusNotFound},
		{Validation("op", "x"), http.StatusBadRequest},
		{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrUnsupportedMedia, http.StatusUnsupportedMediaType},
		{Provider("op", "carrier down", errors.New("503")), http.StatusBadGateway},
		{DuplicateEvent("op", "k"), http.StatusAccepted},
		{SignatureInvalid("op", "bad"), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestErrorString(t *testing.T) {
	err := Provider("carrier.accept", "offer expired", errors.New("status 422"))
	assert.Equal(t, "carrier.accept: PROVIDER_ERROR: provider call failed: status 422", err.Error())
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}

func TestWithMetaDoesNotMutateSentinel(t *testing.T) {
	e := ErrAlreadyRequested.WithMeta("shipment_id", "shp_1")
	assert.Equal(t, "shp_1", e.Meta["shipment_id"])
	assert.Nil(t, ErrAlreadyRequested.Meta)
}
