package sandbox

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stayhub/stayhub-core/internal/middleware"
	"github.com/stayhub/stayhub-core/internal/pkg/errorhandler"
	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/pkg/response"
	"github.com/stayhub/stayhub-core/internal/pkg/validator"
)

// Handler serves the sandbox REST API.
type Handler struct {
	svc  *Service
	jwt  *jwt.Service
	csrf *middleware.CSRF
}

func NewHandler(svc *Service, jwtSvc *jwt.Service, csrf *middleware.CSRF) *Handler {
	return &Handler{svc: svc, jwt: jwtSvc, csrf: csrf}
}

type seekerInfo struct {
	Name  string `json:"name" validate:"required,trimmed_min=2"`
	Email string `json:"email" validate:"required,strict_email"`
	Phone string `json:"phone" validate:"required,in_mobile"`
}

type createBookingRequest struct {
	RoomID          string     `json:"roomId" validate:"required"`
	CheckInDate     string     `json:"checkInDate" validate:"required"`
	Duration        int        `json:"duration" validate:"gte=1,lte=12"`
	SeekerInfo      seekerInfo `json:"seekerInfo"`
	SpecialRequests string     `json:"specialRequests" validate:"max=500"`
}

type createOrderRequest struct {
	Amount    int64             `json:"amount" validate:"gt=0"`
	Currency  string            `json:"currency"`
	BookingID string            `json:"bookingId" validate:"required"`
	Notes     map[string]string `json:"notes"`
}

type verifyRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
	BookingID        string `json:"bookingId" validate:"required"`
}

type tokenRequest struct {
	Email string `json:"email" validate:"required,strict_email"`
	Name  string `json:"name"`
}

// BookingView is the wire shape of a booking.
type BookingView struct {
	ID          string `json:"_id"`
	BookingID   string `json:"bookingId"`
	Status      string `json:"status"`
	RoomID      string `json:"roomId"`
	CheckInDate string `json:"checkInDate"`
	Duration    int    `json:"duration"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"orderId,omitempty"`
	PaymentID   string `json:"paymentId,omitempty"`
}

func viewOf(b *Booking) BookingView {
	return BookingView{
		ID:          b.ID.String(),
		BookingID:   b.Reference,
		Status:      string(b.Status),
		RoomID:      b.RoomID,
		CheckInDate: b.CheckInDate.Format("2006-01-02"),
		Duration:    b.Duration,
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		OrderID:     b.OrderID.String,
		PaymentID:   b.PaymentID.String,
	}
}

// CSRFToken handles GET /auth/csrf-token
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Issue()
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "CSRF_ISSUE_FAILED", "Failed to issue CSRF token", err)
		return
	}
	w.Header().Set(middleware.HeaderCSRF, token)
	response.OK(w, map[string]string{"csrfToken": token})
}

// Token handles POST /auth/token. Sandbox only: any valid email signs in.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	userID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("stayhub:"+email))
	token, err := h.jwt.GenerateAccessToken(userID, email)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "TOKEN_FAILED", "Failed to issue token", err)
		return
	}
	logger.LogInfo(r.Context(), "Sandbox token issued", "user_id", userID.String(), "email", email)
	response.OK(w, map[string]interface{}{
		"accessToken": token,
		"expiresIn":   int(h.jwt.GetAccessTTL().Seconds()),
		"user": map[string]string{
			"id":    userID.String(),
			"name":  strings.TrimSpace(req.Name),
			"email": email,
		},
	})
}

// CreateBooking handles POST /bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SeekerInfo.Email) == "" {
		req.SeekerInfo.Email = middleware.GetEmail(r.Context())
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), middleware.GetUserID(r.Context()), CreateBookingInput{
		RoomID:          req.RoomID,
		CheckInDate:     req.CheckInDate,
		Duration:        req.Duration,
		Name:            req.SeekerInfo.Name,
		Email:           req.SeekerInfo.Email,
		Phone:           req.SeekerInfo.Phone,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, map[string]BookingView{"booking": viewOf(b)})
}

// GetBooking handles GET /bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, map[string]BookingView{"booking": viewOf(b)})
}

// CreateOrder handles POST /payments/create-order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), middleware.GetUserID(r.Context()), req.BookingID, req.Amount, req.Currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, order)
}

// Verify handles POST /payments/verify. A failed check is success:false
// with status 200.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	b, err := h.svc.Verify(r.Context(), middleware.GetUserID(r.Context()), VerifyInput{
		BookingRef:       req.BookingID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if errors.Is(err, ErrVerification) {
		response.Rejected(w, "Payment verification failed")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, map[string]BookingView{"booking": viewOf(b)})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		errorhandler.LogDatabaseError(r.Context(), "count bookings", err)
		response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "Storage unavailable")
		return
	}
	response.OK(w, map[string]interface{}{"status": "ok", "stats": stats})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var fields FieldErrors
	switch {
	case errors.As(err, &fields):
		errorhandler.HandleValidation(r.Context(), w, fields)
	case errors.Is(err, ErrRoomNotFound):
		response.NotFound(w, "Room not found")
	case errors.Is(err, ErrBookingNotFound):
		response.NotFound(w, "Booking not found")
	case errors.Is(err, ErrAlreadyPaid):
		response.Conflict(w, "Booking is already paid")
	case errors.Is(err, ErrAmountMismatch):
		errorhandler.HandleValidation(r.Context(), w, map[string]string{"amount": "Amount does not match booking total"})
	case errors.Is(err, ErrCurrencyInvalid):
		errorhandler.HandleValidation(r.Context(), w, map[string]string{"currency": "Unsupported currency"})
	default:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
