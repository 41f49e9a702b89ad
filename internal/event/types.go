package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind 表示订单改单结果事件类型。
type Kind string

const (
	KindOrderEdited     Kind = "order_edited"
	KindOrderEditFailed Kind = "order_edit_failed"
)

// FailureCode 为改单失败的分类码。
type FailureCode string

const (
	FailureInsufficientMargin FailureCode = "INSUFFICIENT_MARGIN"
	FailureInvalidOrder       FailureCode = "INVALID_ORDER"
	FailureOrderNotFound      FailureCode = "ORDER_NOT_FOUND"
	FailureRejected           FailureCode = "REJECTED"
	FailureVenueUnavailable   FailureCode = "VENUE_UNAVAILABLE"
	FailureUnknown            FailureCode = "UNKNOWN"
)

// FailureReason 描述改单失败原因：分类码加自由文本。
type FailureReason struct {
	Code   FailureCode `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

func (r FailureReason) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Detail
}

// OrderParams 为挂单的价格与数量。
type OrderParams struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NewOrderParams 由浮点数构造参数，主要用于测试与演示。
func NewOrderParams(price, quantity float64) OrderParams {
	return OrderParams{
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(quantity),
	}
}

// Equal 比较价格与数量是否一致。
func (p OrderParams) Equal(other OrderParams) bool {
	return p.Price.Equal(other.Price) && p.Quantity.Equal(other.Quantity)
}

// Valid 价格与数量都必须为正。
func (p OrderParams) Valid() bool {
	return p.Price.IsPositive() && p.Quantity.IsPositive()
}

// Notional 返回名义价值。
func (p OrderParams) Notional() decimal.Decimal {
	return p.Price.Mul(p.Quantity)
}

// Event 为分发给策略的改单结果事件。
type Event interface {
	Kind() Kind
	Order() string
	Sequence() uint64
}

// Header 为两类事件共享的引擎分配字段。
type Header struct {
	EventID     uuid.UUID `json:"event_id"`
	RequestID   string    `json:"request_id"`
	OrderID     string    `json:"order_id"`
	TradingPair string    `json:"trading_pair,omitempty"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewHeader 生成带唯一事件ID的事件头。
func NewHeader(requestID, orderID, tradingPair string, seq uint64, ts time.Time) Header {
	return Header{
		EventID:     uuid.New(),
		RequestID:   requestID,
		OrderID:     orderID,
		TradingPair: tradingPair,
		Seq:         seq,
		Timestamp:   ts.UTC(),
	}
}

func (h Header) Order() string    { return h.OrderID }
func (h Header) Sequence() uint64 { return h.Seq }

// OrderEditedEvent 表示一次已被交易所确认的改单。
// 事件按值传递，构造后不再修改。
type OrderEditedEvent struct {
	Header
	// NewOrderID 仅在交易所以撤单重下方式实现改单时非空。
	NewOrderID string      `json:"new_order_id,omitempty"`
	Previous   OrderParams `json:"previous"`
	New        OrderParams `json:"new"`
}

func (OrderEditedEvent) Kind() Kind { return KindOrderEdited }

// Replaced 判断改单是否产生了新的订单号。
func (e OrderEditedEvent) Replaced() bool {
	return e.NewOrderID != "" && e.NewOrderID != e.OrderID
}

// OrderEditFailedEvent 表示被拒绝或出错的改单请求。
type OrderEditFailedEvent struct {
	Header
	Attempted OrderParams   `json:"attempted"`
	Reason    FailureReason `json:"reason"`
	// Recoverable 为 false 时原订单已不在交易所挂单（撤单成功但重下失败）。
	Recoverable bool `json:"recoverable"`
}

func (OrderEditFailedEvent) Kind() Kind { return KindOrderEditFailed }

var (
	_ Event = OrderEditedEvent{}
	_ Event = OrderEditFailedEvent{}
)
