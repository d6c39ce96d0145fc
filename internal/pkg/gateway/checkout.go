// Package gateway drives the third-party checkout widget and turns its
// handler/ondismiss callbacks into a single blocking call.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

var (
	ErrLoad          = errors.New("checkout script failed to load")
	ErrOpen          = errors.New("checkout could not be opened")
	ErrDismissed     = errors.New("checkout dismissed by user")
	ErrBusy          = errors.New("checkout already open")
	ErrInvalidResult = errors.New("checkout returned an incomplete result")
)

// Order is the server-issued gateway order the checkout is opened for.
type Order struct {
	OrderID  string
	KeyID    string
	Amount   int64 // minor units
	Currency string
}

// Prefill populates the customer fields of the widget.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

type Theme struct {
	Color string `json:"color,omitempty"`
}

type Modal struct {
	OnDismiss func() `json:"-"`
}

// Options is the widget configuration.
type Options struct {
	Key         string            `json:"key"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	OrderID     string            `json:"order_id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Prefill     Prefill           `json:"prefill"`
	Theme       Theme             `json:"theme"`
	Notes       map[string]string `json:"notes,omitempty"`
	Handler     func(Result)      `json:"-"`
	Modal       Modal             `json:"modal"`
}

// Result is what the widget hands to its success handler.
type Result struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// Widget opens the checkout. Open returns once the modal is shown; exactly
// one of Options.Handler or Options.Modal.OnDismiss fires later.
type Widget interface {
	Open(opts Options) error
}

// WidgetFactory builds a widget from a loaded script.
type WidgetFactory func(script *Script) (Widget, error)

// Config holds merchant display settings.
type Config struct {
	MerchantName string
	ThemeColor   string
}

// Adapter allows one open checkout at a time.
type Adapter struct {
	loader  Loader
	factory WidgetFactory
	cfg     Config
	log     zerolog.Logger

	mu   sync.Mutex
	busy bool
}

func NewAdapter(loader Loader, factory WidgetFactory, cfg Config) *Adapter {
	return &Adapter{
		loader:  loader,
		factory: factory,
		cfg:     cfg,
		log:     logger.Component("gateway"),
	}
}

// Request carries the per-checkout fields.
type Request struct {
	Order       Order
	Prefill     Prefill
	Description string
	Notes       map[string]string
}

type outcome struct {
	result Result
	err    error
}

// Open shows the checkout and blocks until the user pays or dismisses it,
// or ctx is done. Callbacks arriving after that are ignored.
func (a *Adapter) Open(ctx context.Context, req Request) (*Result, error) {
	if !a.acquire() {
		return nil, ErrBusy
	}
	defer a.release()

	script, err := a.loader.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrLoad) {
			err = fmt.Errorf("%w: %v", ErrLoad, err)
		}
		return nil, err
	}
	widget, err := a.factory(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	done := make(chan outcome, 1)
	var once sync.Once
	settle := func(o outcome) {
		once.Do(func() { done <- o })
	}

	opts := Options{
		Key:         req.Order.KeyID,
		Amount:      req.Order.Amount,
		Currency:    req.Order.Currency,
		OrderID:     req.Order.OrderID,
		Name:        a.cfg.MerchantName,
		Description: req.Description,
		Prefill:     req.Prefill,
		Theme:       Theme{Color: a.cfg.ThemeColor},
		Notes:       req.Notes,
		Handler: func(r Result) {
			settle(outcome{result: r})
		},
		Modal: Modal{OnDismiss: func() {
			settle(outcome{err: ErrDismissed})
		}},
	}

	a.log.Info().Str("order_id", req.Order.OrderID).Int64("amount", req.Order.Amount).Msg("Opening checkout")
	if err := widget.Open(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			a.log.Info().Str("order_id", req.Order.OrderID).Msg("Checkout dismissed")
			return nil, o.err
		}
		if strings.TrimSpace(o.result.GatewayPaymentID) == "" || strings.TrimSpace(o.result.Signature) == "" {
			return nil, ErrInvalidResult
		}
		if o.result.GatewayOrderID == "" {
			o.result.GatewayOrderID = req.Order.OrderID
		}
		return &o.result, nil
	}
}

// Busy reports whether a checkout is currently open.
func (a *Adapter) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *Adapter) acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return false
	}
	a.busy = true
	return true
}

func (a *Adapter) release() {
	a.mu.Lock()
	a.busy = false
	a.mu.Unlock()
}
