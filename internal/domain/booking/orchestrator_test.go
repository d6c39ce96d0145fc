package booking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayhub/stayhub-core/internal/domain/pricing"
	"github.com/stayhub/stayhub-core/internal/middleware"
	"github.com/stayhub/stayhub-core/internal/pkg/apiclient"
	"github.com/stayhub/stayhub-core/internal/pkg/gateway"
	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
	"github.com/stayhub/stayhub-core/internal/pkg/session"
	"github.com/stayhub/stayhub-core/internal/sandbox"
)

const gatewaySecret = "sandbox-secret"

type request struct {
	method, path, key string
}

type harness struct {
	t        *testing.T
	svc      *sandbox.Service
	widget   *actionWidget
	notes    *notifications
	auth     *fakeAuth
	flow     *Orchestrator
	mu       sync.Mutex
	requests []request
	fault    func(r *http.Request) bool
}

func newHarness(t *testing.T, maxRetries int) *harness {
	t.Helper()
	jwtSvc := jwt.NewService("jwt-secret", time.Hour)
	svc := sandbox.NewService(sandbox.NewMemoryRepository(), sandbox.ServiceConfig{
		KeyID:     "rzp_test_sandbox",
		KeySecret: gatewaySecret,
	})
	svc.AddRoom(sandbox.Room{ID: "room-1", RentPerMonth: 10000, SecurityDeposit: 5000})
	router := sandbox.NewRouter(sandbox.RouterConfig{
		Service: svc,
		JWT:     jwtSvc,
		CSRF:    middleware.NewCSRF("csrf-secret", time.Hour),
	})

	h := &harness{t: t, svc: svc, widget: newActionWidget(), notes: &notifications{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests = append(h.requests, request{r.Method, r.URL.Path, r.Header.Get(apiclient.HeaderIdempotency)})
		injected := h.fault != nil && h.fault(r)
		h.mu.Unlock()
		if injected {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	token, err := jwtSvc.GenerateAccessToken(uuid.New(), "asha@example.in")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	h.auth = &fakeAuth{user: &User{ID: "u1", Name: "Asha Rao", Email: "asha@example.in"}, token: token}

	client := apiclient.NewClient(apiclient.Config{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		CSRFPath:   "/auth/csrf-token",
		MaxRetries: maxRetries,
		Backoff:    -1,
	}, session.NewMemoryStore(token))

	adapter := gateway.NewAdapter(staticLoader{}, h.widget.factory, gateway.Config{MerchantName: "StayHub"})
	room := Room{ID: "room-1", Pricing: pricing.Input{RentPerMonth: 10000, SecurityDeposit: 5000}}
	h.flow = New(room, NewHTTPAPI(client), adapter, Config{Currency: "INR", MinorUnitsPerUnit: 100},
		WithNotifier(h.notes), WithAuth(h.auth))
	return h
}

// setFault makes matching requests fail with 503. It runs under h.mu.
func (h *harness) setFault(fault func(r *http.Request) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fault = fault
}

// calls returns non-CSRF requests as "METHOD path".
func (h *harness) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.requests {
		if r.path == "/auth/csrf-token" {
			continue
		}
		out = append(out, r.method+" "+r.path)
	}
	return out
}

func (h *harness) keysFor(path string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.requests {
		if r.path == path {
			out = append(out, r.key)
		}
	}
	return out
}

func (h *harness) stats() sandbox.Stats {
	h.t.Helper()
	s, err := h.svc.Stats(context.Background())
	if err != nil {
		h.t.Fatalf("stats: %v", err)
	}
	return s
}

func (h *harness) submit() {
	h.t.Helper()
	if err := h.flow.Submit(context.Background(), validDetails()); err != nil {
		h.t.Fatalf("submit: %v", err)
	}
}

func validDetails() Details {
	return Details{
		CheckInDate: time.Now().AddDate(0, 0, 7),
		Duration:    2,
		Guest: GuestDetails{
			Name:  "Asha Rao",
			Email: "asha@example.in",
			Phone: "9876543210",
		},
		SpecialRequests: "  Ground floor please  ",
	}
}

type fakeAuth struct {
	mu    sync.Mutex
	user  *User
	token string
}

func (a *fakeAuth) User() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *fakeAuth) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *fakeAuth) IsTokenValid(token string) bool {
	_, err := jwt.Inspect(token, time.Now())
	return err == nil
}

type notification struct {
	message string
	kind    NotificationKind
}

type notifications struct {
	mu   sync.Mutex
	list []notification
}

func (n *notifications) Notify(message string, kind NotificationKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notification{message, kind})
}

func (n *notifications) last() notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return notification{}
	}
	return n.list[len(n.list)-1]
}

func (n *notifications) count(kind NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.list {
		if x.kind == kind {
			c++
		}
	}
	return c
}

type staticLoader struct{}

func (staticLoader) Load(context.Context) (*gateway.Script, error) {
	return &gateway.Script{URL: "test://checkout.js"}, nil
}

// actionWidget runs one queued action per open, after Open returns.
type actionWidget struct {
	mu      sync.Mutex
	actions []func(gateway.Options)
	opened  chan gateway.Options
}

func newActionWidget() *actionWidget {
	return &actionWidget{opened: make(chan gateway.Options, 8)}
}

func (w *actionWidget) factory(*gateway.Script) (gateway.Widget, error) { return w, nil }

func (w *actionWidget) queue(actions ...func(gateway.Options)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.actions = append(w.actions, actions...)
}

func (w *actionWidget) Open(opts gateway.Options) error {
	w.mu.Lock()
	var action func(gateway.Options)
	if len(w.actions) > 0 {
		action, w.actions = w.actions[0], w.actions[1:]
	}
	w.mu.Unlock()

	w.opened <- opts
	if action != nil {
		go action(opts)
	}
	return nil
}

func payWith(secret string) func(gateway.Options) {
	return func(opts gateway.Options) {
		paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		opts.Handler(gateway.Result{
			GatewayOrderID:   opts.OrderID,
			GatewayPaymentID: paymentID,
			Signature:        gateway.Sign(opts.OrderID, paymentID, secret),
		})
	}
}

func dismiss(opts gateway.Options) { opts.Modal.OnDismiss() }

func TestSubmitCreatesBookingThenOrder(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()

	snap := h.flow.Snapshot()
	if snap.State != StateAwaitingPayment || snap.Step != StepPayment {
		t.Fatalf("expected AwaitingPayment, got %s", snap.State)
	}
	if snap.Confirmation == nil || snap.Confirmation.BookingID == "" || snap.Confirmation.Status != "pending" {
		t.Fatalf("unexpected confirmation %+v", snap.Confirmation)
	}
	if snap.Order == nil || snap.Order.Amount != 2618000 || snap.Order.KeyID != "rzp_test_sandbox" {
		t.Fatalf("unexpected order %+v", snap.Order)
	}
	if snap.Pricing == nil || snap.Pricing.TotalAmount != 26180 {
		t.Fatalf("unexpected pricing %+v", snap.Pricing)
	}

	calls := h.calls()
	want := []string{"POST /bookings", "POST /payments/create-order"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	bookingKeys, orderKeys := h.keysFor("/bookings"), h.keysFor("/payments/create-order")
	if bookingKeys[0] == "" || orderKeys[0] == "" || bookingKeys[0] == orderKeys[0] {
		t.Fatalf("expected distinct idempotency keys, got %q and %q", bookingKeys[0], orderKeys[0])
	}
	if h.notes.last().kind != NotifyInfo {
		t.Fatalf("expected info notification, got %+v", h.notes.last())
	}
}

func TestValidationGateMakesNoCalls(t *testing.T) {
	h := newHarness(t, 0)
	d := validDetails()
	d.Guest.Phone = "1234567890"
	d.Guest.Email = "asha@"

	err := h.flow.Submit(context.Background(), d)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field("phone") == "" || verr.Field("email") == "" {
		t.Fatalf("expected phone and email errors, got %v", verr.Fields)
	}
	if verr.Field("name") != "" {
		t.Fatalf("valid name must not be flagged: %v", verr.Fields)
	}
	if calls := h.calls(); len(calls) != 0 {
		t.Fatalf("expected zero network calls, got %v", calls)
	}
	if h.flow.State() != StateAwaitingDetails {
		t.Fatalf("expected AwaitingDetails, got %s", h.flow.State())
	}
	if h.notes.count(NotifyError) != 0 {
		t.Fatal("field errors must not be sent as notifications")
	}
}

func TestValidationRejectsPastCheckIn(t *testing.T) {
	h := newHarness(t, 0)
	d := validDetails()
	d.CheckInDate = time.Now().AddDate(0, 0, -1)

	err := h.flow.Submit(context.Background(), d)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field("checkInDate") == "" {
		t.Fatalf("expected checkInDate error, got %v", err)
	}
}

func TestSubmitRequiresLogin(t *testing.T) {
	h := newHarness(t, 0)
	h.auth.mu.Lock()
	h.auth.user = nil
	h.auth.mu.Unlock()

	if err := h.flow.Submit(context.Background(), validDetails()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if calls := h.calls(); len(calls) != 0 {
		t.Fatalf("expected zero network calls, got %v", calls)
	}
	if h.notes.last().kind != NotifyWarning {
		t.Fatalf("expected warning notification, got %+v", h.notes.last())
	}
}

func TestDismissKeepsAwaitingPayment(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()
	before := h.flow.Snapshot().Confirmation.BookingID

	h.widget.queue(dismiss)
	if err := h.flow.OpenCheckout(context.Background()); !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}

	snap := h.flow.Snapshot()
	if snap.State != StateAwaitingPayment {
		t.Fatalf("expected AwaitingPayment, got %s", snap.State)
	}
	if snap.Confirmation.BookingID != before {
		t.Fatalf("booking changed from %s to %s", before, snap.Confirmation.BookingID)
	}
	if keys := h.keysFor("/payments/verify"); len(keys) != 0 {
		t.Fatalf("dismiss must not verify, saw %d calls", len(keys))
	}
	last := snap.History[len(snap.History)-1]
	if last.From != StateCancelled || last.To != StateAwaitingPayment {
		t.Fatalf("expected pass through Cancelled, got %+v", last)
	}
}

func TestVerifyFailureThenRetryReusesOrder(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()
	orderID := h.flow.Snapshot().Order.OrderID

	h.widget.queue(payWith("wrong-secret"))
	if err := h.flow.OpenCheckout(context.Background()); !errors.Is(err, ErrPaymentVerification) {
		t.Fatalf("expected ErrPaymentVerification, got %v", err)
	}
	if s := h.flow.State(); s != StateFailed {
		t.Fatalf("expected Failed, got %s", s)
	}
	if h.notes.last().kind != NotifyError {
		t.Fatalf("expected error notification, got %+v", h.notes.last())
	}

	h.widget.queue(payWith(gatewaySecret))
	if err := h.flow.OpenCheckout(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}

	snap := h.flow.Snapshot()
	if snap.State != StateConfirmed || snap.Step != StepConfirmation || !snap.State.Terminal() {
		t.Fatalf("expected Confirmed, got %s", snap.State)
	}
	if snap.PaymentID == "" {
		t.Fatal("expected payment id on confirmation")
	}
	if h.notes.last().kind != NotifySuccess {
		t.Fatalf("expected success notification, got %+v", h.notes.last())
	}

	first, second := <-h.widget.opened, <-h.widget.opened
	if first.OrderID != orderID || second.OrderID != orderID {
		t.Fatalf("expected both opens for %s, got %s and %s", orderID, first.OrderID, second.OrderID)
	}
	if first.Description != "2 months rental" || first.Prefill.Contact != "9876543210" {
		t.Fatalf("unexpected widget options %+v", first)
	}
	if first.Notes["bookingId"] == "" || first.Notes["duration"] != "2" {
		t.Fatalf("unexpected notes %+v", first.Notes)
	}
	if st := h.stats(); st.Bookings != 1 || st.Orders != 1 {
		t.Fatalf("retry must not create new resources, got %+v", st)
	}
	if len(h.keysFor("/bookings")) != 1 {
		t.Fatalf("booking must be created once, calls: %v", h.calls())
	}
}

func TestBookingFailureReturnsToDetails(t *testing.T) {
	h := newHarness(t, 0)
	h.flow.room.ID = "missing-room"

	err := h.flow.Submit(context.Background(), validDetails())
	if apiclient.KindOf(err) != apiclient.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	snap := h.flow.Snapshot()
	if snap.State != StateAwaitingDetails || snap.Confirmation != nil {
		t.Fatalf("expected clean AwaitingDetails, got %s %+v", snap.State, snap.Confirmation)
	}
	if h.notes.last().kind != NotifyError {
		t.Fatalf("expected error notification, got %+v", h.notes.last())
	}
	if calls := h.calls(); len(calls) != 1 {
		t.Fatalf("order must not be requested after booking failure, got %v", calls)
	}
}

func TestTransientOrderFailureResubmitReusesBooking(t *testing.T) {
	h := newHarness(t, 0)
	failed := false
	h.setFault(func(r *http.Request) bool {
		if r.URL.Path == "/payments/create-order" && !failed {
			failed = true
			return true
		}
		return false
	})

	err := h.flow.Submit(context.Background(), validDetails())
	if !apiclient.IsRetryable(err) {
		t.Fatalf("expected retryable failure, got %v", err)
	}
	if h.flow.State() != StateAwaitingDetails {
		t.Fatalf("expected AwaitingDetails, got %s", h.flow.State())
	}

	h.submit()

	keys := h.keysFor("/bookings")
	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("resubmit must reuse the booking key, got %v", keys)
	}
	if st := h.stats(); st.Bookings != 1 {
		t.Fatalf("expected a single booking, got %d", st.Bookings)
	}
}

func TestClientRetriesTransientFailureWithSameKey(t *testing.T) {
	h := newHarness(t, 2)
	failed := false
	h.setFault(func(r *http.Request) bool {
		if r.URL.Path == "/bookings" && !failed {
			failed = true
			return true
		}
		return false
	})

	h.submit()

	keys := h.keysFor("/bookings")
	if len(keys) != 2 || keys[0] != keys[1] {
		t.Fatalf("expected one retry with the same key, got %v", keys)
	}
	if st := h.stats(); st.Bookings != 1 {
		t.Fatalf("expected a single booking, got %d", st.Bookings)
	}
}

func TestOperationsAreExclusive(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()

	release := make(chan struct{})
	h.widget.queue(func(opts gateway.Options) {
		<-release
		opts.Modal.OnDismiss()
	})

	done := make(chan error, 1)
	go func() { done <- h.flow.OpenCheckout(context.Background()) }()
	<-h.widget.opened

	if err := h.flow.OpenCheckout(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := h.flow.Submit(context.Background(), validDetails()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
}

func TestCloseDiscardsInFlightCheckout(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()

	h.widget.queue(func(gateway.Options) {})
	done := make(chan error, 1)
	go func() { done <- h.flow.OpenCheckout(context.Background()) }()
	<-h.widget.opened

	h.flow.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.flow.Submit(context.Background(), validDetails()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}

	h.flow.Reset()
	snap := h.flow.Snapshot()
	if snap.State != StateAwaitingDetails || snap.Order != nil || len(snap.History) != 0 {
		t.Fatalf("expected fresh flow, got %+v", snap)
	}
}

func TestSetDuration(t *testing.T) {
	h := newHarness(t, 0)

	q, err := h.flow.SetDuration(3)
	if err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if q.RentTotal != 30000 || q.PlatformFee != 1500 || q.Tax != 270 || q.TotalAmount != 36770 {
		t.Fatalf("unexpected quote %+v", q)
	}
	if _, err := h.flow.SetDuration(13); err == nil {
		t.Fatal("expected error for 13 months")
	}
	if got := h.flow.Snapshot().Duration; got != 3 {
		t.Fatalf("invalid duration must not stick, got %d", got)
	}

	h.submit()
	if _, err := h.flow.SetDuration(1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after submit, got %v", err)
	}
}

func TestStartOverFromFailed(t *testing.T) {
	h := newHarness(t, 0)
	h.submit()

	if err := h.flow.StartOver(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start over is only allowed from Failed, got %v", err)
	}

	h.widget.queue(payWith("wrong-secret"))
	_ = h.flow.OpenCheckout(context.Background())
	if err := h.flow.StartOver(); err != nil {
		t.Fatalf("start over: %v", err)
	}
	snap := h.flow.Snapshot()
	if snap.State != StateAwaitingDetails || snap.Order != nil || snap.Confirmation != nil {
		t.Fatalf("expected cleared details step, got %+v", snap)
	}
}

func TestSpecialRequestsAreTrimmedAndCapped(t *testing.T) {
	d := validDetails()
	d.SpecialRequests = "  " + strings.Repeat("é", MaxSpecialRequests+20) + "  "
	n := normalize(d)
	if got := len([]rune(n.SpecialRequests)); got != MaxSpecialRequests {
		t.Fatalf("expected %d runes, got %d", MaxSpecialRequests, got)
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateAwaitingDetails, StateValidatingDetails},
		{StateValidatingDetails, StateCreatingBooking},
		{StateCreatingBooking, StateCreatingPaymentOrder},
		{StateCreatingPaymentOrder, StateAwaitingPayment},
		{StateAwaitingPayment, StateVerifyingPayment},
		{StateVerifyingPayment, StateConfirmed},
		{StateVerifyingPayment, StateFailed},
		{StateFailed, StateAwaitingPayment},
		{StateCancelled, StateAwaitingPayment},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateAwaitingDetails, StateCreatingBooking},
		{StateAwaitingPayment, StateConfirmed},
		{StateVerifyingPayment, StateAwaitingDetails},
		{StateConfirmed, StateAwaitingDetails},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}
