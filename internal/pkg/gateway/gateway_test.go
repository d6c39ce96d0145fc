package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticLoader struct{ err error }

func (l staticLoader) Load(context.Context) (*Script, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &Script{URL: "test://checkout.js"}, nil
}

type fakeWidget struct {
	opened chan Options
	err    error
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{opened: make(chan Options, 1)}
}

func (w *fakeWidget) Open(opts Options) error {
	if w.err != nil {
		return w.err
	}
	w.opened <- opts
	return nil
}

func (w *fakeWidget) factory() WidgetFactory {
	return func(*Script) (Widget, error) { return w, nil }
}

type openResult struct {
	res *Result
	err error
}

func openAsync(ctx context.Context, a *Adapter, req Request) <-chan openResult {
	ch := make(chan openResult, 1)
	go func() {
		res, err := a.Open(ctx, req)
		ch <- openResult{res, err}
	}()
	return ch
}

func testRequest() Request {
	return Request{
		Order:       Order{OrderID: "order_1", KeyID: "rzp_test_key", Amount: 2618000, Currency: "INR"},
		Prefill:     Prefill{Name: "Asha", Email: "asha@example.in", Contact: "9876543210"},
		Description: "2 months rental",
		Notes:       map[string]string{"bookingId": "BK-1"},
	}
}

func TestScriptLoaderSharesInFlightLoad(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("window.Checkout = function(){}"))
	}))
	t.Cleanup(server.Close)

	loader := NewScriptLoader(server.URL+"/checkout.js", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loader.Load(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected load error: %v", err)
	}

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected script fetched once, got %d", got)
	}
}

func TestScriptLoaderRetriesAfterFailure(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	loader := NewScriptLoader(server.URL, nil)
	if _, err := loader.Load(context.Background()); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	script, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("expected second load to succeed, got %v", err)
	}
	if script.Size != 2 || script.SHA256 == "" {
		t.Fatalf("unexpected script %+v", script)
	}
}

func TestOpenResolvesOnHandler(t *testing.T) {
	w := newFakeWidget()
	a := NewAdapter(staticLoader{}, w.factory(), Config{MerchantName: "StayHub", ThemeColor: "#3399cc"})

	done := openAsync(context.Background(), a, testRequest())
	opts := <-w.opened

	if opts.Key != "rzp_test_key" || opts.Amount != 2618000 || opts.OrderID != "order_1" {
		t.Fatalf("unexpected widget options %+v", opts)
	}
	if opts.Prefill.Contact != "9876543210" || opts.Theme.Color != "#3399cc" || opts.Name != "StayHub" {
		t.Fatalf("unexpected prefill/theme %+v", opts)
	}

	opts.Handler(Result{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", Signature: "sig"})
	opts.Modal.OnDismiss() // late callback is ignored

	got := <-done
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	if got.res.GatewayPaymentID != "pay_1" {
		t.Fatalf("unexpected result %+v", got.res)
	}
	if a.Busy() {
		t.Fatal("adapter must be released after completion")
	}
}

func TestOpenDismissed(t *testing.T) {
	w := newFakeWidget()
	a := NewAdapter(staticLoader{}, w.factory(), Config{})

	done := openAsync(context.Background(), a, testRequest())
	(<-w.opened).Modal.OnDismiss()

	if got := <-done; !errors.Is(got.err, ErrDismissed) {
		t.Fatalf("expected ErrDismissed, got %v", got.err)
	}
}

func TestOpenRejectsReentrantCall(t *testing.T) {
	w := newFakeWidget()
	a := NewAdapter(staticLoader{}, w.factory(), Config{})

	done := openAsync(context.Background(), a, testRequest())
	opts := <-w.opened

	if _, err := a.Open(context.Background(), testRequest()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	opts.Modal.OnDismiss()
	<-done
}

func TestOpenHonoursContext(t *testing.T) {
	w := newFakeWidget()
	a := NewAdapter(staticLoader{}, w.factory(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := openAsync(ctx, a, testRequest())
	opts := <-w.opened
	cancel()

	if got := <-done; !errors.Is(got.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got.err)
	}
	// Callback after abandonment must not block or panic.
	opts.Handler(Result{GatewayPaymentID: "pay_late", Signature: "sig"})
}

func TestOpenFailures(t *testing.T) {
	t.Run("load error", func(t *testing.T) {
		a := NewAdapter(staticLoader{err: errors.New("dns")}, newFakeWidget().factory(), Config{})
		if _, err := a.Open(context.Background(), testRequest()); !errors.Is(err, ErrLoad) {
			t.Fatalf("expected ErrLoad, got %v", err)
		}
	})

	t.Run("widget open error", func(t *testing.T) {
		w := newFakeWidget()
		w.err = errors.New("blocked popup")
		a := NewAdapter(staticLoader{}, w.factory(), Config{})
		if _, err := a.Open(context.Background(), testRequest()); !errors.Is(err, ErrOpen) {
			t.Fatalf("expected ErrOpen, got %v", err)
		}
		if a.Busy() {
			t.Fatal("adapter must be released after a failed open")
		}
	})

	t.Run("incomplete result", func(t *testing.T) {
		w := newFakeWidget()
		a := NewAdapter(staticLoader{}, w.factory(), Config{})
		done := openAsync(context.Background(), a, testRequest())
		(<-w.opened).Handler(Result{GatewayOrderID: "order_1"})
		if got := <-done; !errors.Is(got.err, ErrInvalidResult) {
			t.Fatalf("expected ErrInvalidResult, got %v", got.err)
		}
	})
}

func TestSignature(t *testing.T) {
	sig := Sign("order_1", "pay_1", "secret")
	if !VerifySignature("order_1", "pay_1", strings.ToUpper(sig), "secret") {
		t.Fatal("expected signature to verify case-insensitively")
	}
	if VerifySignature("order_1", "pay_2", sig, "secret") {
		t.Fatal("signature must bind the payment id")
	}
	if VerifySignature("order_1", "pay_1", sig, "other") {
		t.Fatal("signature must bind the secret")
	}
}

func TestConsoleWidget(t *testing.T) {
	t.Run("pay", func(t *testing.T) {
		var out bytes.Buffer
		cw := &ConsoleWidget{In: strings.NewReader("p\n"), Out: &out, TestSecret: "secret"}
		a := NewAdapter(staticLoader{}, ConsoleFactory(cw), Config{MerchantName: "StayHub"})

		res, err := a.Open(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !VerifySignature(res.GatewayOrderID, res.GatewayPaymentID, res.Signature, "secret") {
			t.Fatalf("expected signed result, got %+v", res)
		}
		if !strings.Contains(out.String(), "order_1") {
			t.Fatalf("expected order id in prompt, got %q", out.String())
		}
	})

	t.Run("dismiss on eof", func(t *testing.T) {
		cw := &ConsoleWidget{In: strings.NewReader(""), Out: &bytes.Buffer{}}
		a := NewAdapter(staticLoader{}, ConsoleFactory(cw), Config{})
		if _, err := a.Open(context.Background(), testRequest()); !errors.Is(err, ErrDismissed) {
			t.Fatalf("expected ErrDismissed, got %v", err)
		}
	})
}
