package execution

import (
	"context"
	"fmt"

	"edit-hooks/internal/event"
)

// OrderSide 表示挂单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// EditSpec 描述一次提交给交易场所的改单。
type EditSpec struct {
	OrderID     string
	TradingPair string
	Side        OrderSide
	Previous    event.OrderParams
	Next        event.OrderParams
}

// EditResult 为场所确认后的改单结果。
// NewOrderID 非空表示场所以撤单重下方式完成改单。
type EditResult struct {
	NewOrderID string
	Applied    event.OrderParams
}

// Venue 抽象支持改单的交易场所，真实交易所与模拟盘都实现该接口。
type Venue interface {
	EditOrder(ctx context.Context, spec EditSpec) (EditResult, error)
}

// Rejection 表示场所明确拒绝了改单，属于正常业务结果而非引擎故障。
type Rejection struct {
	Reason      event.FailureReason
	Recoverable bool
}

// Reject 构造场所拒绝。
func Reject(code event.FailureCode, detail string, recoverable bool) *Rejection {
	return &Rejection{
		Reason:      event.FailureReason{Code: code, Detail: detail},
		Recoverable: recoverable,
	}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("venue rejected edit: %s", r.Reason)
}
