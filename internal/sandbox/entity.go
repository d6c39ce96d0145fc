// Package sandbox is a self-contained booking and payment backend that
// speaks the same REST contract as production, for local runs and tests.
package sandbox

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Booking is a stored reservation.
type Booking struct {
	ID              uuid.UUID      `db:"id"`
	Reference       string         `db:"reference"`
	UserID          uuid.UUID      `db:"user_id"`
	RoomID          string         `db:"room_id"`
	CheckInDate     time.Time      `db:"check_in_date"`
	Duration        int            `db:"duration"`
	SeekerName      string         `db:"seeker_name"`
	SeekerEmail     string         `db:"seeker_email"`
	SeekerPhone     string         `db:"seeker_phone"`
	SpecialRequests string         `db:"special_requests"`
	Status          Status         `db:"status"`
	TotalAmount     int64          `db:"total_amount"`
	Currency        string         `db:"currency"`
	OrderID         sql.NullString `db:"order_id"`
	PaymentID       sql.NullString `db:"payment_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// Room is a bookable listing with its price in whole currency units.
type Room struct {
	ID              string
	Title           string
	RentPerMonth    int64
	SecurityDeposit int64
}
