// Package pricing computes the rent breakdown shown before booking.
package pricing

import "fmt"

// Money is an amount in the smallest unit a listing is priced in.
type Money int64

const (
	MinDuration = 1
	MaxDuration = 12

	// Rates in basis points.
	PlatformFeeRate = 500  // 5%
	TaxRate         = 1800 // 18% of the platform fee

	// MaxAmount bounds inputs so rent * MaxDuration cannot overflow.
	MaxAmount Money = 1_000_000_000_000
)

// Input is the room price data supplied by the listing.
type Input struct {
	RentPerMonth    Money `json:"rentPerMonth"`
	SecurityDeposit Money `json:"securityDeposit"`
}

// Breakdown is immutable; recompute it whenever the duration changes.
type Breakdown struct {
	Duration        int   `json:"duration"`
	MonthlyRent     Money `json:"monthlyRent"`
	SecurityDeposit Money `json:"securityDeposit"`
	RentTotal       Money `json:"rentTotal"`
	PlatformFee     Money `json:"platformFee"`
	Tax             Money `json:"tax"`
	OwnerAmount     Money `json:"ownerAmount"`
	TotalAmount     Money `json:"totalAmount"`
}

// ValidationError reports an input the engine refuses to price.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pricing: %s: %s", e.Field, e.Message)
}

// Compute prices a stay of duration months. The tax is taken from the
// already rounded platform fee.
func Compute(in Input, duration int) (Breakdown, error) {
	if duration < MinDuration || duration > MaxDuration {
		return Breakdown{}, &ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("must be between %d and %d months", MinDuration, MaxDuration),
		}
	}
	if in.RentPerMonth < 0 || in.RentPerMonth > MaxAmount {
		return Breakdown{}, &ValidationError{Field: "rentPerMonth", Message: "out of range"}
	}
	if in.SecurityDeposit < 0 || in.SecurityDeposit > MaxAmount {
		return Breakdown{}, &ValidationError{Field: "securityDeposit", Message: "out of range"}
	}

	rentTotal := in.RentPerMonth * Money(duration)
	fee := applyRate(rentTotal, PlatformFeeRate)
	tax := applyRate(fee, TaxRate)
	owner := rentTotal + in.SecurityDeposit

	return Breakdown{
		Duration:        duration,
		MonthlyRent:     in.RentPerMonth,
		SecurityDeposit: in.SecurityDeposit,
		RentTotal:       rentTotal,
		PlatformFee:     fee,
		Tax:             tax,
		OwnerAmount:     owner,
		TotalAmount:     owner + fee + tax,
	}, nil
}

// applyRate returns amount * bps / 10000 rounded half up; amount >= 0.
func applyRate(amount Money, bps int64) Money {
	return Money((int64(amount)*bps + 5000) / 10000)
}

// MinorUnits converts the total to the payment gateway's unit, e.g. 100
// paise per rupee.
func (b Breakdown) MinorUnits(perUnit int64) int64 {
	if perUnit <= 0 {
		perUnit = 1
	}
	return int64(b.TotalAmount) * perUnit
}
