package booking

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stayhub/stayhub-core/internal/domain/pricing"
	"github.com/stayhub/stayhub-core/internal/pkg/validator"
)

// normalize trims free text and caps special requests.
func normalize(d Details) Details {
	d.Guest.Name = strings.TrimSpace(d.Guest.Name)
	d.Guest.Email = strings.TrimSpace(d.Guest.Email)
	d.Guest.Phone = strings.TrimSpace(d.Guest.Phone)
	d.SpecialRequests = strings.TrimSpace(d.SpecialRequests)
	if utf8.RuneCountInString(d.SpecialRequests) > MaxSpecialRequests {
		d.SpecialRequests = string([]rune(d.SpecialRequests)[:MaxSpecialRequests])
	}
	return d
}

// validateDetails returns nil when d may be submitted on now's date.
func validateDetails(d Details, now time.Time) *ValidationError {
	fields := validator.Validate(d.Guest)
	if fields == nil {
		fields = make(map[string]string)
	}

	if d.CheckInDate.IsZero() {
		fields["checkInDate"] = "This field is required"
	} else if dateOnly(d.CheckInDate).Before(dateOnly(now)) {
		fields["checkInDate"] = "Check-in date cannot be in the past"
	}

	if d.Duration < pricing.MinDuration || d.Duration > pricing.MaxDuration {
		fields["duration"] = "Duration must be between 1 and 12 months"
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// dateOnly drops the clock part in t's own location.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
