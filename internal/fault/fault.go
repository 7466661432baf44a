// Package fault classifies errors returned by the coordination services so
// that transports can map them to distinguishable outcomes.
package fault

import "errors"

type Kind string

const (
	KindIneligible         Kind = "INELIGIBLE"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindInvalidState       Kind = "INVALID_STATE"
	KindTransient          Kind = "TRANSIENT"
	KindInternal           Kind = "INTERNAL"
)

var (
	ErrIneligible         = errors.New("ineligible")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrTransient          = errors.New("temporarily unavailable")
	ErrInternal           = errors.New("internal consistency fault")
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrIneligible, KindIneligible},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrPreconditionFailed, KindPreconditionFailed},
	{ErrInvalidState, KindInvalidState},
	{ErrTransient, KindTransient},
	{ErrInternal, KindInternal},
}

// KindOf reports the kind of err. Errors that wrap none of the sentinels are
// treated as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether a caller may retry the same request.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
