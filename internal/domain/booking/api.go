package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/stayhub/stayhub-core/internal/pkg/apiclient"
)

// API is the backend surface the orchestrator drives.
type API interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest, idempotencyKey string) (*Confirmation, error)
	CreatePaymentOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (*PaymentOrder, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// ErrRejected is returned when the backend answers success:false.
var ErrRejected = errors.New("request rejected by server")

// HTTPAPI implements API over the secure client.
type HTTPAPI struct {
	client *apiclient.Client
}

func NewHTTPAPI(client *apiclient.Client) *HTTPAPI {
	return &HTTPAPI{client: client}
}

func (a *HTTPAPI) CreateBooking(ctx context.Context, req CreateBookingRequest, idempotencyKey string) (*Confirmation, error) {
	var data createBookingData
	env, err := a.client.Post(ctx, "/bookings", req, &data, apiclient.WithIdempotencyKey(idempotencyKey))
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if !env.Success {
		return nil, rejected("create booking", env)
	}
	if data.Booking.Ref() == "" {
		return nil, fmt.Errorf("create booking: response carried no booking id")
	}
	return &data.Booking, nil
}

func (a *HTTPAPI) CreatePaymentOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (*PaymentOrder, error) {
	var order PaymentOrder
	env, err := a.client.Post(ctx, "/payments/create-order", req, &order, apiclient.WithIdempotencyKey(idempotencyKey))
	if err != nil {
		return nil, fmt.Errorf("create payment order: %w", err)
	}
	if !env.Success {
		return nil, rejected("create payment order", env)
	}
	if order.OrderID == "" || order.KeyID == "" {
		return nil, fmt.Errorf("create payment order: incomplete order in response")
	}
	return &order, nil
}

// VerifyPayment reports success:false as a result, not an error.
func (a *HTTPAPI) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	env, err := a.client.Post(ctx, "/payments/verify", req, nil)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return &VerifyResult{Success: env.Success, Message: env.Message}, nil
}

func rejected(op string, env *apiclient.Envelope) error {
	msg := env.Message
	if env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", op, ErrRejected)
	}
	return fmt.Errorf("%s: %w: %s", op, ErrRejected, msg)
}
