package exchange

import (
	"context"
	"errors"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"edit-hooks/internal/event"
)

var (
	// ErrMaintenance 表示交易所处于维护状态。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify 将交易所错误映射为改单失败原因。
// recoverable 为 false 表示原订单已不在交易所挂着。
func Classify(err error) (reason event.FailureReason, recoverable bool) {
	if err == nil {
		return event.FailureReason{Code: event.FailureUnknown}, true
	}

	if errors.Is(err, ErrMaintenance) {
		return event.FailureReason{Code: event.FailureVenueUnavailable, Detail: err.Error()}, true
	}

	var ccxtErr *ccxt.Error
	if !errors.As(err, &ccxtErr) {
		if IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return event.FailureReason{Code: event.FailureVenueUnavailable, Detail: err.Error()}, true
		}
		return event.FailureReason{Code: event.FailureUnknown, Detail: err.Error()}, true
	}

	detail := strings.TrimSpace(ccxtErr.Message)
	switch ccxtErr.Type {
	case ccxt.InsufficientFundsErrType:
		return event.FailureReason{Code: event.FailureInsufficientMargin, Detail: detail}, true
	case ccxt.InvalidOrderErrType:
		return event.FailureReason{Code: event.FailureInvalidOrder, Detail: detail}, true
	case ccxt.OrderNotFoundErrType:
		return event.FailureReason{Code: event.FailureOrderNotFound, Detail: detail}, false
	case ccxt.OnMaintenanceErrType:
		return event.FailureReason{Code: event.FailureVenueUnavailable, Detail: detail}, true
	}
	if IsRetryable(err) {
		return event.FailureReason{Code: event.FailureVenueUnavailable, Detail: detail}, true
	}
	return event.FailureReason{Code: event.FailureRejected, Detail: detail}, true
}
