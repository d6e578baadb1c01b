// Package apperr defines the typed failures returned by the fulfillment
// services and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindInvalidState     Kind = "INVALID_STATE"
	KindNotFound         Kind = "NOT_FOUND"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindProvider         Kind = "PROVIDER_ERROR"
	KindDuplicateEvent   Kind = "DUPLICATE_EVENT"
	KindSignatureInvalid Kind = "SIGNATURE_INVALID"
	KindInternal         Kind = "INTERNAL"
)

// Reason refines a Kind.
type Reason string

const (
	ReasonMissingReceipt       Reason = "MISSING_RECEIPT"
	ReasonWrongPaymentMethod   Reason = "WRONG_PAYMENT_METHOD"
	ReasonAlreadyRequested     Reason = "ALREADY_REQUESTED"
	ReasonAlreadyAccepted      Reason = "ALREADY_ACCEPTED"
	ReasonInProgress           Reason = "IN_PROGRESS"
	ReasonUnsupportedMediaType Reason = "UNSUPPORTED_MEDIA_TYPE"
	ReasonPayloadTooLarge      Reason = "PAYLOAD_TOO_LARGE"
)

// Error is a typed failure. Meta carries small structured values a caller
// may need to act on, such as the existing shipment id.
type Error struct {
	Kind    Kind
	Reason  Reason
	Op      string
	Message string
	Detail  string
	Meta    map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString("/")
		b.WriteString(string(e.Reason))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrProvider           = &Error{Kind: KindProvider}
	ErrDuplicateEvent     = &Error{Kind: KindDuplicateEvent}
	ErrSignatureInvalid   = &Error{Kind: KindSignatureInvalid}
	ErrMissingReceipt     = &Error{Kind: KindInvalidState, Reason: ReasonMissingReceipt}
	ErrWrongPaymentMethod = &Error{Kind: KindInvalidState, Reason: ReasonWrongPaymentMethod}
	ErrAlreadyRequested   = &Error{Kind: KindInvalidState, Reason: ReasonAlreadyRequested}
	ErrAlreadyAccepted    = &Error{Kind: KindInvalidState, Reason: ReasonAlreadyAccepted}
	ErrUnsupportedMedia   = &Error{Kind: KindValidation, Reason: ReasonUnsupportedMediaType}
	ErrPayloadTooLarge    = &Error{Kind: KindValidation, Reason: ReasonPayloadTooLarge}
)

func InvalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Provider wraps a failed call to an external provider. detail is the
// provider's own description and is surfaced to admins as-is.
func Provider(op, detail string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Message: "provider call failed", Detail: detail, Err: err}
}

func DuplicateEvent(op, key string) *Error {
	return &Error{Kind: KindDuplicateEvent, Op: op, Message: "event already received", Meta: map[string]string{"event_key": key}}
}

func SignatureInvalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindSignatureInvalid, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// WithReason returns a copy of e refined by r.
func (e *Error) WithReason(r Reason) *Error {
	c := *e
	c.Reason = r
	return &c
}

// WithMeta returns a copy of e carrying key=value.
func (e *Error) WithMeta(key, value string) *Error {
	c := *e
	c.Meta = make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		c.Meta[k] = v
	}
	c.Meta[key] = value
	return &c
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Reason {
	case ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ReasonUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	}
	switch e.Kind {
	case KindInvalidState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusBadGateway
	case KindDuplicateEvent:
		return http.StatusAccepted
	case KindSignatureInvalid:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
