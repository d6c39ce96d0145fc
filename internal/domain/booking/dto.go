package booking

import (
	"time"

	"github.com/stayhub/stayhub-core/internal/domain/pricing"
)

// DateLayout is the wire format for check-in dates.
const DateLayout = "2006-01-02"

// MaxSpecialRequests is the character cap for the free-text field.
const MaxSpecialRequests = 500

// Room is the listing a flow books.
type Room struct {
	ID      string
	Title   string
	Pricing pricing.Input
}

// User is the signed-in account, used to prefill guest details.
type User struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// GuestDetails is the seeker contact block.
type GuestDetails struct {
	Name  string `json:"name" validate:"required,trimmed_min=2"`
	Email string `json:"email" validate:"required,strict_email"`
	Phone string `json:"phone" validate:"required,in_mobile"`
}

// Details is what the user fills in on the first step.
type Details struct {
	CheckInDate     time.Time
	Duration        int
	Guest           GuestDetails
	SpecialRequests string
}

// Confirmation is the server's answer to booking creation. ID is the
// storage id sent back on later calls; BookingID is the human reference.
type Confirmation struct {
	ID        string `json:"_id"`
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
}

// Ref returns the id later calls should reference.
func (c Confirmation) Ref() string {
	if c.ID != "" {
		return c.ID
	}
	return c.BookingID
}

// PaymentOrder is the server-issued gateway order.
type PaymentOrder struct {
	KeyID    string `json:"keyId"`
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateBookingRequest is the POST /bookings body.
type CreateBookingRequest struct {
	RoomID          string       `json:"roomId" validate:"required"`
	CheckInDate     string       `json:"checkInDate" validate:"required"`
	Duration        int          `json:"duration" validate:"gte=1,lte=12"`
	SeekerInfo      GuestDetails `json:"seekerInfo"`
	SpecialRequests string       `json:"specialRequests,omitempty" validate:"max=500"`
}

type createBookingData struct {
	Booking Confirmation `json:"booking"`
}

// CreateOrderRequest is the POST /payments/create-order body.
type CreateOrderRequest struct {
	Amount    int64             `json:"amount" validate:"gt=0"`
	Currency  string            `json:"currency" validate:"required"`
	BookingID string            `json:"bookingId" validate:"required"`
	Notes     map[string]string `json:"notes,omitempty"`
}

// VerifyRequest is the POST /payments/verify body.
type VerifyRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
	BookingID        string `json:"bookingId" validate:"required"`
}

// VerifyResult is the server's verification verdict.
type VerifyResult struct {
	Success bool
	Message string
}

// Snapshot is a read-only view of a flow.
type Snapshot struct {
	State        State
	Step         Step
	Duration     int
	Pricing      *pricing.Breakdown
	Confirmation *Confirmation
	Order        *PaymentOrder
	PaymentID    string
	LastError    error
	History      []Transition
}
