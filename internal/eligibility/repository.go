package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/fault"
)

var (
	ErrRecordNotFound = fmt.Errorf("eligibility record %w", fault.ErrNotFound)
)

// Repository stores one record per patient. Insert must be keyed on the
// patient id so concurrent inserts for the same patient keep the first.
type Repository interface {
	// InsertIfAbsent reports whether a new record was created.
	InsertIfAbsent(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, patientID int64) (*Record, error)
	// ListRegisteredAfter returns patient ids with registered_at > cutoff.
	ListRegisteredAfter(ctx context.Context, cutoff time.Time) ([]int64, error)
}
