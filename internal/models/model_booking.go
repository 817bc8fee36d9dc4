package models

import "time"

type BookingStatus string

const (
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a read-only view of the booking service's table. MemberPrice and
// DiscountPercentage are captured at checkout and never recomputed here.
type Booking struct {
	ID                 string        `gorm:"column:id;primaryKey" json:"id"`
	UserID             string        `gorm:"column:user_id" json:"user_id"`
	BookedAt           time.Time     `gorm:"column:booked_at" json:"booked_at"`
	RegularPrice       int64         `gorm:"column:regular_price" json:"regular_price"`
	MemberPrice        int64         `gorm:"column:member_price" json:"member_price"`
	DiscountPercentage int           `gorm:"column:discount_percentage" json:"discount_percentage"`
	Currency           string        `gorm:"column:currency" json:"currency"`
	Status             BookingStatus `gorm:"column:status" json:"status"`
}

func (Booking) TableName() string { return "booking" }

// Discount is the amount saved on this booking, never negative.
func (b *Booking) Discount() int64 {
	if b == nil || b.MemberPrice >= b.RegularPrice {
		return 0
	}
	return b.RegularPrice - b.MemberPrice
}
