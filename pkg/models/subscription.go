package models

import "time"

// Subscription statuses reported by the payment processor
const (
	SubscriptionIncomplete = "incomplete"
	SubscriptionTrialing   = "trialing"
	SubscriptionActive     = "active"
	SubscriptionPastDue    = "past_due"
	SubscriptionCanceled   = "canceled"
)

// Subscription mirrors the billing state of a user
type Subscription struct {
	UserID            string     `db:"user_id" json:"-"`
	CustomerRef       string     `db:"customer_ref" json:"-"`
	SubscriptionRef   string     `db:"subscription_ref" json:"-"`
	Status            string     `db:"status" json:"status"`
	PeriodStart       *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd         *time.Time `db:"period_end" json:"period_end,omitempty"`
	CancelAtPeriodEnd bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt         time.Time  `db:"created_at" json:"-"`
	UpdatedAt         time.Time  `db:"updated_at" json:"-"`
}
