package validation

import (
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-fulfillment/internal/audit"
)

var orderNumberPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// actionCategory pins every audit action to the category it is recorded under.
var actionCategory = map[audit.Action]audit.Category{
	audit.ActionReceiptUploaded:  audit.CategoryPayment,
	audit.ActionPaymentApproved:  audit.CategoryPayment,
	audit.ActionPaymentRejected:  audit.CategoryPayment,
	audit.ActionPaymentConfirmed: audit.CategoryPayment,
	audit.ActionPaymentFailed:    audit.CategoryPayment,
	audit.ActionShipmentCreated:  audit.CategoryShipping,
	audit.ActionOfferAccepted:    audit.CategoryShipping,
	audit.ActionTrackingSynced:   audit.CategoryShipping,
	audit.ActionWebhookReceived:  audit.CategoryWebhook,
	audit.ActionWebhookRetried:   audit.CategoryWebhook,
}

// New returns a validator with the custom tags and struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("order_number", func(fl validatorv10.FieldLevel) bool {
		return orderNumberPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("audit_action", func(fl validatorv10.FieldLevel) bool {
		_, ok := actionCategory[audit.Action(fl.Field().String())]
		return ok
	})

	v.RegisterStructValidation(auditQueryStructValidation, AuditQuery{})

	return v
}

// auditQueryStructValidation rejects an action filter that can never match
// the category filter.
func auditQueryStructValidation(sl validatorv10.StructLevel) {
	q := sl.Current().Interface().(AuditQuery)
	if q.Action == "" || q.Category == "" {
		return
	}
	if actionCategory[audit.Action(q.Action)] != audit.Category(strings.ToUpper(q.Category)) {
		sl.ReportError(q.Action, "action", "Action", "action_in_category", q.Category)
	}
}
