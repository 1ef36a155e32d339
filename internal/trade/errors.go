package trade

import "errors"

// Kind lets callers (and tests) match on the failure class without
// parsing message text.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindNoPrice             Kind = "NoPrice"
	KindExceedsMaxSize      Kind = "TradeExceedsMaxSize"
	KindCrossChainDisallow  Kind = "CrossChainDisallowed"
	KindDatabaseError       Kind = "DatabaseError"
)

// Error is the structured failure type returned by ExecuteTrade and
// Quote.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// *Error implements error, so callers can use errors.As(err, &tradeErr)
// to recover the Kind.
var _ error = (*Error)(nil)

func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
