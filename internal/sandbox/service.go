package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stayhub/stayhub-core/internal/domain/pricing"
	"github.com/stayhub/stayhub-core/internal/pkg/gateway"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrAlreadyPaid     = errors.New("booking is already paid")
	ErrAmountMismatch  = errors.New("amount does not match booking total")
	ErrVerification    = errors.New("payment verification failed")
	ErrCurrencyInvalid = errors.New("unsupported currency")
)

// FieldErrors is returned for request values that fail business checks.
type FieldErrors map[string]string

func (e FieldErrors) Error() string { return fmt.Sprintf("invalid fields: %v", map[string]string(e)) }

// ServiceConfig configures the sandbox gateway.
type ServiceConfig struct {
	KeyID             string
	KeySecret         string
	Currency          string
	MinorUnitsPerUnit int64
}

// Stats counts resources created, for tests and the health endpoint.
type Stats struct {
	Bookings int   `json:"bookings"`
	Orders   int64 `json:"orders"`
}

// Service implements the booking and payment endpoints.
type Service struct {
	repo Repository
	cfg  ServiceConfig
	now  func() time.Time
	log  zerolog.Logger

	roomsMu sync.RWMutex
	rooms   map[string]Room

	orders atomic.Int64
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MinorUnitsPerUnit <= 0 {
		cfg.MinorUnitsPerUnit = 100
	}
	return &Service{
		repo:  repo,
		cfg:   cfg,
		now:   time.Now,
		log:   logger.Component("sandbox"),
		rooms: make(map[string]Room),
	}
}

// AddRoom registers a bookable room.
func (s *Service) AddRoom(r Room) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	s.rooms[r.ID] = r
}

func (s *Service) room(id string) (Room, bool) {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// CreateBookingInput is a validated booking request.
type CreateBookingInput struct {
	RoomID          string
	CheckInDate     string
	Duration        int
	Name            string
	Email           string
	Phone           string
	SpecialRequests string
}

// CreateBooking stores a pending booking priced from the room.
func (s *Service) CreateBooking(ctx context.Context, userID uuid.UUID, in CreateBookingInput) (*Booking, error) {
	room, ok := s.room(in.RoomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	checkIn, err := time.Parse("2006-01-02", in.CheckInDate)
	if err != nil {
		return nil, FieldErrors{"checkInDate": "Invalid date format, expected YYYY-MM-DD"}
	}
	y, m, d := s.now().Date()
	if checkIn.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		return nil, FieldErrors{"checkInDate": "Check-in date cannot be in the past"}
	}

	quote, err := pricing.Compute(pricing.Input{
		RentPerMonth:    pricing.Money(room.RentPerMonth),
		SecurityDeposit: pricing.Money(room.SecurityDeposit),
	}, in.Duration)
	if err != nil {
		var perr *pricing.ValidationError
		if errors.As(err, &perr) {
			return nil, FieldErrors{perr.Field: perr.Message}
		}
		return nil, err
	}

	now := s.now()
	b := &Booking{
		ID:              uuid.New(),
		Reference:       newReference(),
		UserID:          userID,
		RoomID:          room.ID,
		CheckInDate:     checkIn,
		Duration:        in.Duration,
		SeekerName:      strings.TrimSpace(in.Name),
		SeekerEmail:     strings.TrimSpace(in.Email),
		SeekerPhone:     strings.TrimSpace(in.Phone),
		SpecialRequests: in.SpecialRequests,
		Status:          StatusPending,
		TotalAmount:     quote.MinorUnits(s.cfg.MinorUnitsPerUnit),
		Currency:        s.cfg.Currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.log.Info().
		Str("booking_id", b.Reference).
		Str("room_id", b.RoomID).
		Int64("total_amount", b.TotalAmount).
		Msg("Booking created")
	return b, nil
}

// Order is a gateway order for a booking.
type Order struct {
	KeyID    string `json:"keyId"`
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateOrder issues the gateway order for a pending booking. A booking
// keeps its first order; repeated calls return it.
func (s *Service) CreateOrder(ctx context.Context, userID uuid.UUID, bookingRef string, amount int64, currency string) (*Order, error) {
	b, err := s.owned(ctx, userID, bookingRef)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusConfirmed {
		return nil, ErrAlreadyPaid
	}
	if currency != "" && !strings.EqualFold(currency, b.Currency) {
		return nil, ErrCurrencyInvalid
	}
	if amount != b.TotalAmount {
		s.log.Warn().
			Str("booking_id", b.Reference).
			Int64("expected", b.TotalAmount).
			Int64("received", amount).
			Msg("Order amount mismatch")
		return nil, ErrAmountMismatch
	}
	if b.OrderID.Valid {
		return s.order(b, b.OrderID.String), nil
	}

	orderID := "order_" + randomHex(7)
	if err := s.repo.AttachOrder(ctx, b.ID, orderID); err != nil {
		if !errors.Is(err, ErrOrderConflict) {
			return nil, fmt.Errorf("attach order: %w", err)
		}
		current, err := s.repo.GetByID(ctx, b.ID)
		if err != nil || current == nil {
			return nil, fmt.Errorf("reload booking: %w", err)
		}
		return s.order(current, current.OrderID.String), nil
	}
	s.orders.Add(1)

	s.log.Info().
		Str("booking_id", b.Reference).
		Str("order_id", orderID).
		Int64("amount", amount).
		Msg("Payment order created")
	return s.order(b, orderID), nil
}

func (s *Service) order(b *Booking, orderID string) *Order {
	return &Order{KeyID: s.cfg.KeyID, OrderID: orderID, Amount: b.TotalAmount, Currency: b.Currency}
}

// VerifyInput is the checkout result the client reports.
type VerifyInput struct {
	BookingRef       string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Verify checks the gateway signature and confirms the booking. A bad
// signature leaves the booking pending.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, in VerifyInput) (*Booking, error) {
	b, err := s.owned(ctx, userID, in.BookingRef)
	if err != nil {
		return nil, err
	}
	if !b.OrderID.Valid || b.OrderID.String != in.GatewayOrderID {
		return nil, fmt.Errorf("%w: order does not belong to booking", ErrVerification)
	}
	if !gateway.VerifySignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature, s.cfg.KeySecret) {
		s.log.Warn().
			Str("booking_id", b.Reference).
			Str("order_id", in.GatewayOrderID).
			Msg("Payment signature mismatch")
		return nil, fmt.Errorf("%w: signature mismatch", ErrVerification)
	}
	if b.Status == StatusConfirmed {
		if b.PaymentID.String == in.GatewayPaymentID {
			return b, nil
		}
		return nil, ErrAlreadyPaid
	}

	if err := s.repo.Confirm(ctx, b.ID, in.GatewayPaymentID); err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	b.Status = StatusConfirmed
	b.PaymentID.String, b.PaymentID.Valid = in.GatewayPaymentID, true

	s.log.Info().
		Str("booking_id", b.Reference).
		Str("payment_id", in.GatewayPaymentID).
		Msg("Booking confirmed")
	return b, nil
}

// Get returns a booking the user owns.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, ref string) (*Booking, error) {
	return s.owned(ctx, userID, ref)
}

// Stats reports totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Bookings: n, Orders: s.orders.Load()}, nil
}

// owned resolves ref as a storage id or a reference.
func (s *Service) owned(ctx context.Context, userID uuid.UUID, ref string) (*Booking, error) {
	var (
		b   *Booking
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		b, err = s.repo.GetByID(ctx, id)
	} else {
		b, err = s.repo.GetByReference(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b == nil || b.UserID != userID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func newReference() string {
	return "BK-" + strings.ToUpper(randomHex(4))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:2*n]
	}
	return hex.EncodeToString(buf)
}
