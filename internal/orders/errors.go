package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInsufficientStock
	KindValidation
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindValidation:
		return "validation_error"
	case KindTransient:
		return "transient_failure"
	}
	return "unknown"
}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrItemNotFound      = errors.New("order item not found")
	ErrFlowerNotFound    = inventory.ErrFlowerNotFound
)

// Error is what every service operation returns on failure. Callers branch on
// Kind; Shortages is only set for KindInsufficientStock.
type Error struct {
	Kind      Kind
	Op        string
	Msg       string
	Shortages []inventory.Shortage
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: KindNotFound}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool          { return KindOf(err) == KindNotFound }
func IsInsufficientStock(err error) bool { return KindOf(err) == KindInsufficientStock }
func IsValidation(err error) bool        { return KindOf(err) == KindValidation }
func IsTransient(err error) bool         { return KindOf(err) == KindTransient }

func notFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

func invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func insufficient(op string, shortages []inventory.Shortage) *Error {
	ids := make([]string, 0, len(shortages))
	for _, s := range shortages {
		ids = append(ids, fmt.Sprintf("%s (required=%d available=%d)", s.FlowerID, s.Required, s.Available))
	}
	return &Error{
		Kind:      KindInsufficientStock,
		Op:        op,
		Msg:       "insufficient stock for flower " + strings.Join(ids, ", "),
		Shortages: shortages,
	}
}

// classify keeps typed errors as they are and turns everything else coming
// out of a transaction (driver errors, commit failures, deadlines) into a
// transient failure: nothing was persisted, so the caller may retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrItemNotFound), errors.Is(err, ErrFlowerNotFound):
		return notFound(op, err)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return &Error{Kind: KindValidation, Op: op, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Op: op, Msg: "operation timed out or was cancelled", Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
