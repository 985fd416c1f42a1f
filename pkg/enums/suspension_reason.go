package enums

// SuspensionReason records why account access was suspended.
type SuspensionReason string

const (
	SuspensionReasonPaymentFailed SuspensionReason = "payment_failed"
	SuspensionReasonDraftPayment  SuspensionReason = "draft_payment"
)

// String implements fmt.Stringer.
func (r SuspensionReason) String() string {
	return string(r)
}
