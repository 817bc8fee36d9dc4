package types

// MembershipStatus is the stored status of a membership record. It can lag
// behind reality until the sweep runs; use the entitlement evaluator to get
// the effective status.
type MembershipStatus string

const (
	MembershipStatusTrialing  MembershipStatus = "trialing"
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusPastDue   MembershipStatus = "past_due"
	MembershipStatusCancelled MembershipStatus = "cancelled"
	MembershipStatusUnpaid    MembershipStatus = "unpaid"
	MembershipStatusExpired   MembershipStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s MembershipStatus) Terminal() bool {
	return s == MembershipStatusCancelled || s == MembershipStatusExpired
}

// EffectiveStatus is the status derived at query time.
type EffectiveStatus string

const (
	EffectiveStatusNone      EffectiveStatus = "none"
	EffectiveStatusTrialing  EffectiveStatus = "trialing"
	EffectiveStatusActive    EffectiveStatus = "active"
	EffectiveStatusPastDue   EffectiveStatus = "past_due"
	EffectiveStatusUnpaid    EffectiveStatus = "unpaid"
	EffectiveStatusCancelled EffectiveStatus = "cancelled"
	EffectiveStatusExpired   EffectiveStatus = "expired"
)

// Entitled reports whether the status grants member benefits by itself.
func (s EffectiveStatus) Entitled() bool {
	return s == EffectiveStatusActive || s == EffectiveStatusTrialing
}

func (s EffectiveStatus) Terminal() bool {
	return s == EffectiveStatusCancelled || s == EffectiveStatusExpired || s == EffectiveStatusNone
}

type MembershipChangeReason string

const (
	MembershipChangeReasonSubscribe         MembershipChangeReason = "subscribe"
	MembershipChangeReasonCancelAtPeriodEnd MembershipChangeReason = "cancel_at_period_end"
	MembershipChangeReasonResume            MembershipChangeReason = "resume"
	MembershipChangeReasonAdminCancel       MembershipChangeReason = "admin_cancel"
	MembershipChangeReasonAdminGrant        MembershipChangeReason = "admin_grant"
	MembershipChangeReasonRenew             MembershipChangeReason = "renew"
	MembershipChangeReasonPaymentFailed     MembershipChangeReason = "payment_failed"
	MembershipChangeReasonExpire            MembershipChangeReason = "expire"
	MembershipChangeReasonPaymentLapsed     MembershipChangeReason = "payment_lapsed"
)

type BillingEventType string

const (
	BillingEventTypePaymentSucceeded BillingEventType = "payment_succeeded"
	BillingEventTypePaymentFailed    BillingEventType = "payment_failed"
)
