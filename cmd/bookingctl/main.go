package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stayhub/stayhub-core/internal/config"
	"github.com/stayhub/stayhub-core/internal/domain/booking"
	"github.com/stayhub/stayhub-core/internal/domain/pricing"
	"github.com/stayhub/stayhub-core/internal/pkg/apiclient"
	"github.com/stayhub/stayhub-core/internal/pkg/database"
	"github.com/stayhub/stayhub-core/internal/pkg/gateway"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/pkg/session"
)

type options struct {
	roomID   string
	rent     int64
	deposit  int64
	months   int
	checkIn  string
	name     string
	email    string
	phone    string
	requests string
	offline  bool
	attempts int
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	fs := flag.NewFlagSet("bookingctl", flag.ContinueOnError)
	fs.SetOutput(out)

	o := &options{}
	fs.StringVar(&o.roomID, "room", "room-101", "room id")
	fs.Int64Var(&o.rent, "rent", 10000, "monthly rent shown for the room")
	fs.Int64Var(&o.deposit, "deposit", 5000, "security deposit shown for the room")
	fs.IntVar(&o.months, "months", 1, "stay duration in months (1-12)")
	fs.StringVar(&o.checkIn, "check-in", time.Now().AddDate(0, 0, 1).Format(booking.DateLayout), "check-in date, YYYY-MM-DD")
	fs.StringVar(&o.name, "name", "", "guest name")
	fs.StringVar(&o.email, "email", "", "guest email, also used to sign in")
	fs.StringVar(&o.phone, "phone", "", "guest mobile number")
	fs.StringVar(&o.requests, "requests", "", "special requests")
	fs.BoolVar(&o.offline, "offline", false, "skip fetching the hosted checkout script")
	fs.IntVar(&o.attempts, "attempts", 3, "checkout attempts before giving up")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.email == "" {
		return nil, errors.New("-email is required")
	}
	if o.attempts < 1 {
		o.attempts = 1
	}
	return o, nil
}

func (o *options) details() (booking.Details, error) {
	checkIn, err := time.ParseInLocation(booking.DateLayout, o.checkIn, time.Local)
	if err != nil {
		return booking.Details{}, fmt.Errorf("invalid -check-in: %w", err)
	}
	return booking.Details{
		CheckInDate: checkIn,
		Duration:    o.months,
		Guest: booking.GuestDetails{
			Name:  o.name,
			Email: o.email,
			Phone: o.phone,
		},
		SpecialRequests: o.requests,
	}, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "booking failed:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options, in io.Reader, out io.Writer) error {
	store, closeStore, err := credentialStore(ctx, cfg, opts.email)
	if err != nil {
		return err
	}
	defer closeStore()

	client := apiclient.NewClient(apiclient.Config{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		UserAgent:  "bookingctl/1.0",
		CSRFPath:   "/auth/csrf-token",
		MaxRetries: cfg.MaxAPIRetries(),
	}, store, apiclient.WithRedirector(apiclient.RedirectFunc(func(reason string) {
		fmt.Fprintf(out, "Session ended (%s). Sign in again at %s\n", reason, cfg.LoginURL)
	})))

	auth, err := signIn(ctx, client, store, opts.email, opts.name)
	if err != nil {
		return err
	}

	widget := &gateway.ConsoleWidget{In: in, Out: out}
	if cfg.IsTestMode() {
		widget.TestSecret = cfg.GatewayKeySecret
	}
	var loader gateway.Loader = gateway.NewScriptLoader(cfg.CheckoutScriptURL, nil)
	if opts.offline {
		loader = offlineLoader{url: cfg.CheckoutScriptURL}
	}
	checkout := gateway.NewAdapter(loader, gateway.ConsoleFactory(widget), gateway.Config{
		MerchantName: cfg.MerchantName,
		ThemeColor:   cfg.CheckoutThemeColor,
	})

	room := booking.Room{
		ID: opts.roomID,
		Pricing: pricing.Input{
			RentPerMonth:    pricing.Money(opts.rent),
			SecurityDeposit: pricing.Money(opts.deposit),
		},
	}
	flow := booking.New(room, booking.NewHTTPAPI(client), checkout, booking.Config{Currency: cfg.Currency},
		booking.WithAuth(auth), booking.WithNotifier(consoleNotifier{out: out}))
	defer flow.Close()

	quote, err := flow.SetDuration(opts.months)
	if err != nil {
		return err
	}
	printQuote(out, quote)

	details, err := opts.details()
	if err != nil {
		return err
	}
	if err := flow.Submit(ctx, details); err != nil {
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			for field, msg := range verr.Fields {
				fmt.Fprintf(out, "  %s: %s\n", field, msg)
			}
		}
		return err
	}

	for attempt := 1; ; attempt++ {
		err := flow.OpenCheckout(ctx)
		if err == nil {
			break
		}
		if attempt >= opts.attempts || errors.Is(err, context.Canceled) {
			return err
		}
		if !errors.Is(err, booking.ErrUserCancelled) && !errors.Is(err, booking.ErrPaymentVerification) &&
			!errors.Is(err, booking.ErrGatewayLoad) {
			return err
		}
		fmt.Fprintf(out, "Retrying checkout (%d/%d)\n", attempt+1, opts.attempts)
	}

	snap := flow.Snapshot()
	fmt.Fprintf(out, "\nBooking %s confirmed. Payment %s.\n", snap.Confirmation.Ref(), snap.PaymentID)
	return nil
}

func printQuote(w io.Writer, q pricing.Breakdown) {
	fmt.Fprintf(w, "Rent (%d x %d):   %d\n", q.MonthlyRent, q.Duration, q.RentTotal)
	fmt.Fprintf(w, "Security deposit: %d\n", q.SecurityDeposit)
	fmt.Fprintf(w, "Platform fee:     %d\n", q.PlatformFee)
	fmt.Fprintf(w, "GST on fee:       %d\n", q.Tax)
	fmt.Fprintf(w, "Total:            %d\n", q.TotalAmount)
}

// credentialStore keeps tokens in Redis when configured so repeated runs
// reuse the session.
func credentialStore(ctx context.Context, cfg *config.Config, email string) (session.Store, func(), error) {
	if !cfg.UseRedisSessions() {
		return session.NewMemoryStore(""), func() {}, nil
	}
	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	userKey := strings.ToLower(strings.TrimSpace(email))
	return session.NewRedisStore(rdb, cfg.SessionKeyPrefix, userKey), func() { database.CloseRedis(rdb) }, nil
}

type offlineLoader struct{ url string }

func (l offlineLoader) Load(context.Context) (*gateway.Script, error) {
	return &gateway.Script{URL: l.url, LoadedAt: time.Now()}, nil
}
