package apperrors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

type Kind string

const (
	KindStaleQuote               Kind = "STALE_QUOTE"
	KindUntrustedSource          Kind = "UNTRUSTED_SOURCE"
	KindBelowMinimumHealthFactor Kind = "BELOW_MINIMUM_HEALTH_FACTOR"
	KindAboveMinimumHealthFactor Kind = "ABOVE_MINIMUM_HEALTH_FACTOR"
	KindInsufficientCollateral   Kind = "INSUFFICIENT_COLLATERAL"
	KindInsufficientDebt         Kind = "INSUFFICIENT_DEBT"
	KindExcessiveBurnAmount      Kind = "EXCESSIVE_BURN_AMOUNT"
	KindUnauthorized             Kind = "UNAUTHORIZED"
	KindConfigAlreadyInitialized Kind = "CONFIG_ALREADY_INITIALIZED"

	KindConfigNotInitialized     Kind = "CONFIG_NOT_INITIALIZED"
	KindInvalidPrice             Kind = "INVALID_PRICE"
	KindInvalidBasisPoints       Kind = "INVALID_BASIS_POINTS"
	KindInvalidAmount            Kind = "INVALID_AMOUNT"
	KindMissingPriceFeed         Kind = "MISSING_PRICE_FEED"
	KindMathOverflow             Kind = "MATH_OVERFLOW"
	KindInsufficientTokenBalance Kind = "INSUFFICIENT_TOKEN_BALANCE"
	KindInsufficientFunds        Kind = "INSUFFICIENT_FUNDS"
	KindOutOfOrder               Kind = "OUT_OF_ORDER"
	KindInvalidRequest           Kind = "INVALID_REQUEST"
	KindInternal                 Kind = "INTERNAL_ERROR"
)

// AppError is a caller-recoverable failure with a stable kind.
type AppError struct {
	Kind       Kind   `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError of the same kind, so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code maps the kind onto a gRPC status code.
func (e *AppError) Code() codes.Code {
	return mapKindToCode(e.Kind)
}

var (
	ErrStaleQuote               = &AppError{Kind: KindStaleQuote, Message: "price quote is stale"}
	ErrUntrustedSource          = &AppError{Kind: KindUntrustedSource, Message: "price quote is not signed by a trusted oracle"}
	ErrBelowMinimumHealthFactor = &AppError{Kind: KindBelowMinimumHealthFactor, Message: "health factor below minimum"}
	ErrAboveMinimumHealthFactor = &AppError{Kind: KindAboveMinimumHealthFactor, Message: "position is healthy"}
	ErrInsufficientCollateral   = &AppError{Kind: KindInsufficientCollateral, Message: "insufficient collateral"}
	ErrInsufficientDebt         = &AppError{Kind: KindInsufficientDebt, Message: "burn exceeds outstanding debt"}
	ErrExcessiveBurnAmount      = &AppError{Kind: KindExcessiveBurnAmount, Message: "burn amount exceeds minted amount"}
	ErrUnauthorized             = &AppError{Kind: KindUnauthorized, Message: "caller is not the config authority"}
	ErrConfigAlreadyInitialized = &AppError{Kind: KindConfigAlreadyInitialized, Message: "config already initialized"}
	ErrConfigNotInitialized     = &AppError{Kind: KindConfigNotInitialized, Message: "config not initialized"}
	ErrInvalidPrice             = &AppError{Kind: KindInvalidPrice, Message: "price must be positive"}
	ErrInvalidBasisPoints       = &AppError{Kind: KindInvalidBasisPoints, Message: "invalid basis points"}
	ErrInvalidAmount            = &AppError{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrMissingPriceFeed         = &AppError{Kind: KindMissingPriceFeed, Message: "quote is for an unexpected price feed"}
	ErrMathOverflow             = &AppError{Kind: KindMathOverflow, Message: "arithmetic overflow"}
	ErrInsufficientTokenBalance = &AppError{Kind: KindInsufficientTokenBalance, Message: "insufficient stable token balance"}
	ErrInsufficientFunds        = &AppError{Kind: KindInsufficientFunds, Message: "insufficient wallet balance"}
	ErrOutOfOrder               = &AppError{Kind: KindOutOfOrder, Message: "out-of-order request"}
	ErrInvalidRequest           = &AppError{Kind: KindInvalidRequest, Message: "invalid request"}
)

// New builds an AppError of kind with a specific message.
func New(kind Kind, msg string) *AppError {
	return &AppError{
		Kind:       kind,
		Message:    msg,
		Suggestion: mapKindToSuggestion(kind),
	}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *AppError {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCause attaches a cause, keeping the kind.
func WithCause(kind Kind, msg string, cause error) *AppError {
	e := New(kind, msg)
	e.Cause = cause
	return e
}

// From extracts the AppError in err's chain, or wraps err as Internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Suggestion == "" {
			cp := *appErr
			cp.Suggestion = mapKindToSuggestion(cp.Kind)
			return &cp
		}
		return appErr
	}
	return WithCause(KindInternal, "internal error", err)
}

// KindOf returns the kind of err, or "" if it carries none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func mapKindToCode(k Kind) codes.Code {
	switch k {
	case KindInvalidPrice, KindInvalidBasisPoints, KindInvalidAmount,
		KindMissingPriceFeed, KindExcessiveBurnAmount, KindInvalidRequest:
		return codes.InvalidArgument
	case KindStaleQuote, KindBelowMinimumHealthFactor, KindAboveMinimumHealthFactor,
		KindInsufficientCollateral, KindInsufficientDebt, KindInsufficientTokenBalance,
		KindInsufficientFunds, KindConfigNotInitialized:
		return codes.FailedPrecondition
	case KindUntrustedSource:
		return codes.Unauthenticated
	case KindUnauthorized:
		return codes.PermissionDenied
	case KindConfigAlreadyInitialized:
		return codes.AlreadyExists
	case KindOutOfOrder:
		return codes.Aborted
	case KindMathOverflow:
		return codes.OutOfRange
	default:
		return codes.Internal
	}
}

func mapKindToSuggestion(k Kind) string {
	switch k {
	case KindStaleQuote:
		return "Fetch a fresh oracle quote and resubmit."
	case KindUntrustedSource:
		return "Use a quote signed by a configured oracle authority."
	case KindBelowMinimumHealthFactor:
		return "Deposit more collateral, mint less, or burn a larger amount."
	case KindAboveMinimumHealthFactor:
		return "Only positions below the minimum health factor can be liquidated."
	case KindExcessiveBurnAmount, KindInsufficientDebt:
		return "Reduce the burn amount to at most the outstanding debt."
	case KindInsufficientTokenBalance:
		return "Acquire enough stable tokens before burning."
	case KindInsufficientFunds:
		return "Fund the wallet before depositing."
	case KindOutOfOrder:
		return "Resubmit with the next source sequence."
	default:
		return ""
	}
}
