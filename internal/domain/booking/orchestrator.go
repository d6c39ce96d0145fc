package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stayhub/stayhub-core/internal/domain/pricing"
	"github.com/stayhub/stayhub-core/internal/pkg/apiclient"
	"github.com/stayhub/stayhub-core/internal/pkg/gateway"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

// NotificationKind selects how a notification is styled.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyInfo    NotificationKind = "info"
	NotifyWarning NotificationKind = "warning"
)

// Notifier shows step-level messages. Field errors are not sent here.
type Notifier interface {
	Notify(message string, kind NotificationKind)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string, kind NotificationKind)

func (f NotifierFunc) Notify(message string, kind NotificationKind) { f(message, kind) }

// AuthProvider answers "who is signed in".
type AuthProvider interface {
	User() *User
	Token() string
	IsTokenValid(token string) bool
}

// Checkout opens the payment widget; *gateway.Adapter satisfies it.
type Checkout interface {
	Open(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// Config holds payment settings for a flow.
type Config struct {
	Currency          string
	MinorUnitsPerUnit int64
}

type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option        { return func(o *Orchestrator) { o.notifier = n } }
func WithAuth(a AuthProvider) Option        { return func(o *Orchestrator) { o.auth = a } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// pendingKey pins an idempotency key to one logical request so a resubmit
// of the same payload after a transient failure is deduplicated server-side.
type pendingKey struct {
	fingerprint string
	key         string
}

func (k *pendingKey) take(fingerprint string) string {
	if k.key == "" || k.fingerprint != fingerprint {
		k.fingerprint = fingerprint
		k.key = apiclient.NewIdempotencyKey()
	}
	return k.key
}

// Orchestrator runs one booking flow for one room. Only one operation may
// be in flight; the state is the single source of truth for the UI.
type Orchestrator struct {
	room     Room
	api      API
	checkout Checkout
	cfg      Config
	notifier Notifier
	auth     AuthProvider
	now      func() time.Time
	log      zerolog.Logger

	mu           sync.Mutex
	state        State
	duration     int
	quote        *pricing.Breakdown
	details      Details
	confirmation *Confirmation
	order        *PaymentOrder
	paymentID    string
	lastErr      error
	history      []Transition
	busy         bool
	closed       bool
	gen          uint64
	cancel       context.CancelFunc
	bookingKey   pendingKey
	orderKey     pendingKey
}

// New starts a flow in AwaitingDetails. Without WithAuth no login check is
// made.
func New(room Room, api API, checkout Checkout, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MinorUnitsPerUnit <= 0 {
		cfg.MinorUnitsPerUnit = 100
	}
	o := &Orchestrator{
		room:     room,
		api:      api,
		checkout: checkout,
		cfg:      cfg,
		now:      time.Now,
		state:    StateAwaitingDetails,
		duration: pricing.MinDuration,
		log:      logger.Component("booking").With().Str("room_id", room.ID).Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.notifier == nil {
		o.notifier = NotifierFunc(func(message string, kind NotificationKind) {
			o.log.Info().Str("kind", string(kind)).Msg(message)
		})
	}
	if q, err := pricing.Compute(room.Pricing, o.duration); err == nil {
		o.quote = &q
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns a copy of the flow for rendering.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		State:     o.state,
		Step:      o.state.Step(),
		Duration:  o.duration,
		PaymentID: o.paymentID,
		LastError: o.lastErr,
		History:   append([]Transition(nil), o.history...),
	}
	if o.quote != nil {
		q := *o.quote
		s.Pricing = &q
	}
	if o.confirmation != nil {
		c := *o.confirmation
		s.Confirmation = &c
	}
	if o.order != nil {
		ord := *o.order
		s.Order = &ord
	}
	return s
}

// SetDuration reprices the stay while details are being edited.
func (o *Orchestrator) SetDuration(months int) (pricing.Breakdown, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return pricing.Breakdown{}, ErrClosed
	}
	if o.busy || o.state != StateAwaitingDetails {
		return pricing.Breakdown{}, fmt.Errorf("%w: set duration in %s", ErrInvalidTransition, o.state)
	}
	q, err := pricing.Compute(o.room.Pricing, months)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	o.duration = months
	o.quote = &q
	return q, nil
}

// Submit validates d, creates the booking and then its payment order. On
// success the flow waits in AwaitingPayment.
func (o *Orchestrator) Submit(ctx context.Context, d Details) error {
	gen, opCtx, done, err := o.begin(ctx, "submit", StateAwaitingDetails)
	if err != nil {
		return err
	}
	defer done()

	if !o.authenticated() {
		o.notifier.Notify("Please log in to book this room", NotifyWarning)
		return ErrNotAuthenticated
	}

	d = normalize(d)
	if err := o.advance(gen, StateValidatingDetails); err != nil {
		return err
	}
	if verr := validateDetails(d, o.now()); verr != nil {
		if err := o.settle(gen, StateAwaitingDetails, verr); err != nil {
			return err
		}
		return verr
	}
	quote, err := pricing.Compute(o.room.Pricing, d.Duration)
	if err != nil {
		verr := &ValidationError{Fields: map[string]string{"duration": err.Error()}}
		var perr *pricing.ValidationError
		if errors.As(err, &perr) {
			verr.Fields = map[string]string{perr.Field: perr.Message}
		}
		if err := o.settle(gen, StateAwaitingDetails, verr); err != nil {
			return err
		}
		return verr
	}

	req := CreateBookingRequest{
		RoomID:          o.room.ID,
		CheckInDate:     d.CheckInDate.Format(DateLayout),
		Duration:        d.Duration,
		SeekerInfo:      d.Guest,
		SpecialRequests: d.SpecialRequests,
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrClosed
	}
	if err := o.transitionLocked(StateCreatingBooking); err != nil {
		o.mu.Unlock()
		return err
	}
	o.duration = d.Duration
	o.quote = &quote
	bookingKey := o.bookingKey.take(fmt.Sprintf("%+v", req))
	o.mu.Unlock()

	conf, err := o.api.CreateBooking(opCtx, req, bookingKey)
	if err != nil {
		return o.stepFailed(gen, err, "Failed to create booking. Please try again.")
	}

	amount := quote.MinorUnits(o.cfg.MinorUnitsPerUnit)
	orderReq := CreateOrderRequest{
		Amount:    amount,
		Currency:  o.cfg.Currency,
		BookingID: conf.Ref(),
		Notes: map[string]string{
			"bookingId": conf.Ref(),
			"roomId":    o.room.ID,
			"checkIn":   req.CheckInDate,
			"duration":  strconv.Itoa(d.Duration),
		},
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrClosed
	}
	if err := o.transitionLocked(StateCreatingPaymentOrder); err != nil {
		o.mu.Unlock()
		return err
	}
	o.confirmation = conf
	orderKey := o.orderKey.take(fmt.Sprintf("%s|%d|%s", conf.Ref(), amount, o.cfg.Currency))
	o.mu.Unlock()

	order, err := o.api.CreatePaymentOrder(opCtx, orderReq, orderKey)
	if err != nil {
		return o.stepFailed(gen, err, "Failed to create payment order. Please try again.")
	}
	if order.Amount != amount {
		o.log.Error().
			Int64("expected", amount).
			Int64("received", order.Amount).
			Str("order_id", order.OrderID).
			Msg("Payment order amount mismatch")
		return o.stepFailed(gen, ErrAmountMismatch, "Payment amount mismatch. Please try again.")
	}
	if order.Currency == "" {
		order.Currency = o.cfg.Currency
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrClosed
	}
	if err := o.transitionLocked(StateAwaitingPayment); err != nil {
		o.mu.Unlock()
		return err
	}
	o.order = order
	o.details = d
	o.lastErr = nil
	o.bookingKey = pendingKey{}
	o.orderKey = pendingKey{}
	o.mu.Unlock()

	o.log.Info().
		Str("booking_id", conf.BookingID).
		Str("order_id", order.OrderID).
		Int64("amount", order.Amount).
		Msg("Booking awaiting payment")
	o.notifier.Notify("Booking created! Complete the payment to confirm.", NotifyInfo)
	return nil
}

// OpenCheckout shows the payment widget for the current order and verifies
// the result. Dismissing returns to AwaitingPayment; after Failed the same
// order is reopened.
func (o *Orchestrator) OpenCheckout(ctx context.Context) error {
	gen, opCtx, done, err := o.begin(ctx, "open checkout", StateAwaitingPayment, StateFailed)
	if err != nil {
		return err
	}
	defer done()

	o.mu.Lock()
	if o.order == nil || o.confirmation == nil {
		o.mu.Unlock()
		return ErrNoPaymentOrder
	}
	if o.state != StateAwaitingPayment {
		if err := o.transitionLocked(StateAwaitingPayment); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	order := *o.order
	ref := o.confirmation.Ref()
	details := o.details
	o.mu.Unlock()

	res, err := o.checkout.Open(opCtx, gateway.Request{
		Order: gateway.Order{
			OrderID:  order.OrderID,
			KeyID:    order.KeyID,
			Amount:   order.Amount,
			Currency: order.Currency,
		},
		Prefill: gateway.Prefill{
			Name:    details.Guest.Name,
			Email:   details.Guest.Email,
			Contact: details.Guest.Phone,
		},
		Description: rentalDescription(details.Duration),
		Notes: map[string]string{
			"bookingId": ref,
			"roomId":    o.room.ID,
			"checkIn":   details.CheckInDate.Format(DateLayout),
			"duration":  strconv.Itoa(details.Duration),
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrDismissed):
		if err := o.cancelled(gen, ErrUserCancelled); err != nil {
			return err
		}
		o.notifier.Notify("Payment cancelled. You can complete it any time.", NotifyInfo)
		return ErrUserCancelled
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if err := o.cancelled(gen, err); err != nil {
			return err
		}
		return err
	case errors.Is(err, gateway.ErrBusy):
		return ErrBusy
	case errors.Is(err, gateway.ErrInvalidResult):
		return o.paymentFailed(gen, fmt.Errorf("%w: %w", ErrPaymentVerification, err))
	default:
		if err := o.settle(gen, StateFailed, err); err != nil {
			return err
		}
		o.notifier.Notify("Failed to load payment gateway. Please try again.", NotifyError)
		return fmt.Errorf("%w: %w", ErrGatewayLoad, err)
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrClosed
	}
	if err := o.transitionLocked(StateVerifyingPayment); err != nil {
		o.mu.Unlock()
		return err
	}
	o.paymentID = res.GatewayPaymentID
	o.mu.Unlock()

	orderID := res.GatewayOrderID
	if orderID == "" {
		orderID = order.OrderID
	}
	verdict, err := o.api.VerifyPayment(opCtx, VerifyRequest{
		GatewayOrderID:   orderID,
		GatewayPaymentID: res.GatewayPaymentID,
		Signature:        res.Signature,
		BookingID:        ref,
	})
	if err != nil {
		return o.paymentFailed(gen, fmt.Errorf("%w: %w", ErrPaymentVerification, err))
	}
	if !verdict.Success {
		msg := verdict.Message
		if msg == "" {
			msg = "server rejected payment"
		}
		return o.paymentFailed(gen, fmt.Errorf("%w: %s", ErrPaymentVerification, msg))
	}

	if err := o.settle(gen, StateConfirmed, nil); err != nil {
		return err
	}
	o.log.Info().
		Str("booking_id", ref).
		Str("payment_id", res.GatewayPaymentID).
		Msg("Booking confirmed")
	o.notifier.Notify("Payment successful! Your booking is confirmed.", NotifySuccess)
	return nil
}

// StartOver leaves Failed for the details step. The pending booking stays
// on the server.
func (o *Orchestrator) StartOver() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.busy {
		return ErrBusy
	}
	if err := o.transitionLocked(StateAwaitingDetails); err != nil {
		return err
	}
	o.confirmation = nil
	o.order = nil
	o.paymentID = ""
	o.lastErr = nil
	return nil
}

// Close abandons the flow. An in-flight operation is cancelled and its
// result discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.discardLocked()
	o.closed = true
}

// Reset reopens a closed flow from AwaitingDetails.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.discardLocked()
	o.closed = false
}

func (o *Orchestrator) discardLocked() {
	o.gen++
	o.cancel = nil
	o.busy = false
	o.state = StateAwaitingDetails
	o.duration = pricing.MinDuration
	o.quote = nil
	if q, err := pricing.Compute(o.room.Pricing, o.duration); err == nil {
		o.quote = &q
	}
	o.details = Details{}
	o.confirmation = nil
	o.order = nil
	o.paymentID = ""
	o.lastErr = nil
	o.history = nil
	o.bookingKey = pendingKey{}
	o.orderKey = pendingKey{}
}

// begin claims the flow for one operation.
func (o *Orchestrator) begin(ctx context.Context, op string, allowed ...State) (uint64, context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, nil, nil, ErrClosed
	}
	if o.busy {
		return 0, nil, nil, ErrBusy
	}
	permitted := false
	for _, s := range allowed {
		if o.state == s {
			permitted = true
			break
		}
	}
	if !permitted {
		return 0, nil, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, op, o.state)
	}

	opCtx, cancel := context.WithCancel(ctx)
	o.busy = true
	o.cancel = cancel
	gen := o.gen

	done := func() {
		cancel()
		o.mu.Lock()
		if o.gen == gen {
			o.busy = false
			o.cancel = nil
		}
		o.mu.Unlock()
	}
	return gen, opCtx, done, nil
}

func (o *Orchestrator) authenticated() bool {
	if o.auth == nil {
		return true
	}
	if o.auth.User() == nil {
		return false
	}
	token := o.auth.Token()
	return token != "" && o.auth.IsTokenValid(token)
}

func (o *Orchestrator) advance(gen uint64, to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return ErrClosed
	}
	return o.transitionLocked(to)
}

// settle moves to a resting state and records cause.
func (o *Orchestrator) settle(gen uint64, to State, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return ErrClosed
	}
	if err := o.transitionLocked(to); err != nil {
		return err
	}
	o.lastErr = cause
	return nil
}

// stepFailed returns a details-step failure to AwaitingDetails. Keys are
// kept only when the same request may be repeated.
func (o *Orchestrator) stepFailed(gen uint64, cause error, fallback string) error {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return ErrClosed
	}
	if err := o.transitionLocked(StateAwaitingDetails); err != nil {
		o.mu.Unlock()
		return err
	}
	if !apiclient.IsRetryable(cause) {
		o.bookingKey = pendingKey{}
		o.orderKey = pendingKey{}
	}
	o.confirmation = nil
	o.order = nil
	o.lastErr = cause
	o.mu.Unlock()

	o.log.Warn().Err(cause).Msg("Booking step failed")
	o.notifier.Notify(userMessage(cause, fallback), NotifyError)
	return cause
}

func (o *Orchestrator) paymentFailed(gen uint64, cause error) error {
	if err := o.settle(gen, StateFailed, cause); err != nil {
		return err
	}
	o.log.Warn().Err(cause).Msg("Payment failed")
	o.notifier.Notify("Payment verification failed. Please try again or contact support.", NotifyError)
	return cause
}

// cancelled records the pass through Cancelled back to AwaitingPayment.
func (o *Orchestrator) cancelled(gen uint64, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return ErrClosed
	}
	if err := o.transitionLocked(StateCancelled); err != nil {
		return err
	}
	if err := o.transitionLocked(StateAwaitingPayment); err != nil {
		return err
	}
	o.lastErr = cause
	return nil
}

func (o *Orchestrator) transitionLocked(to State) error {
	from := o.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	o.history = append(o.history, Transition{From: from, To: to, At: o.now()})
	o.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Booking state changed")
	return nil
}

func userMessage(err error, fallback string) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" && apiErr.Kind != apiclient.KindServer {
			return apiErr.Message
		}
		return apiErr.UserMessage()
	}
	return fallback
}

func rentalDescription(months int) string {
	if months == 1 {
		return "1 month rental"
	}
	return strconv.Itoa(months) + " months rental"
}
