package eligibility

import "time"

// DefaultWindow is how long after registration a patient may book.
const DefaultWindow = 72 * time.Hour

type Record struct {
	PatientID     int64
	ContactHandle string
	RegisteredAt  time.Time
	CreatedAt     time.Time
}

// EligibleAt reports whether asOf falls inside the booking window. The window
// is closed at the start and open at the end.
func (r Record) EligibleAt(asOf time.Time, window time.Duration) bool {
	return asOf.Before(r.RegisteredAt.Add(window))
}
