package gateway

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// ConsoleWidget is a terminal stand-in for the hosted checkout, used by the
// CLI against sandbox keys. With a TestSecret it signs results the way the
// gateway would.
type ConsoleWidget struct {
	In         io.Reader
	Out        io.Writer
	TestSecret string

	reader *bufio.Reader
}

// ConsoleFactory returns a WidgetFactory producing w.
func ConsoleFactory(w *ConsoleWidget) WidgetFactory {
	return func(*Script) (Widget, error) { return w, nil }
}

func (w *ConsoleWidget) Open(opts Options) error {
	if opts.Handler == nil || opts.Modal.OnDismiss == nil {
		return fmt.Errorf("console widget: callbacks are required")
	}
	fmt.Fprintf(w.Out, "\n== %s checkout ==\n", opts.Name)
	fmt.Fprintf(w.Out, "Order:    %s\n", opts.OrderID)
	fmt.Fprintf(w.Out, "Amount:   %d %s (minor units)\n", opts.Amount, opts.Currency)
	fmt.Fprintf(w.Out, "For:      %s <%s>\n", opts.Prefill.Name, opts.Prefill.Email)
	fmt.Fprint(w.Out, "[p]ay or [d]ismiss? ")

	if w.reader == nil {
		w.reader = bufio.NewReader(w.In)
	}
	go func() {
		line, _ := w.reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if !strings.HasPrefix(answer, "p") {
			opts.Modal.OnDismiss()
			return
		}
		paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
		signature := "unsigned"
		if w.TestSecret != "" {
			signature = Sign(opts.OrderID, paymentID, w.TestSecret)
		}
		opts.Handler(Result{
			GatewayOrderID:   opts.OrderID,
			GatewayPaymentID: paymentID,
			Signature:        signature,
		})
	}()
	return nil
}
