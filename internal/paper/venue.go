package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"edit-hooks/internal/config"
	"edit-hooks/internal/event"
	"edit-hooks/internal/execution"
)

// Order 为模拟盘上的一笔挂单。
type Order struct {
	ID          string
	TradingPair string
	Side        execution.OrderSide
	Params      event.OrderParams
}

// Venue 在内存中模拟挂单与改单，按 equity×leverage 校验占用保证金。
//
// 撤单重下模式下先撤原单再挂新单，新单保证金不足时原单已不存在，
// 返回的拒绝标记为不可恢复。
type Venue struct {
	logger        *zap.Logger
	equity        decimal.Decimal
	leverage      decimal.Decimal
	cancelReplace bool
	newID         func() string

	mu     sync.Mutex
	orders map[string]Order
	edits  int
}

// NewVenue 创建模拟交易所。
func NewVenue(cfg config.PaperConfig, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	equity := cfg.Equity
	if equity <= 0 {
		equity = 10000
	}
	leverage := cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	return &Venue{
		logger:        logger,
		equity:        decimal.NewFromFloat(equity),
		leverage:      decimal.NewFromFloat(leverage),
		cancelReplace: cfg.CancelReplace,
		newID:         func() string { return uuid.NewString() },
		orders:        make(map[string]Order),
	}
}

// Place 挂一笔新单并返回订单号。
func (v *Venue) Place(pair string, side execution.OrderSide, params event.OrderParams) (string, error) {
	if !params.Valid() {
		return "", fmt.Errorf("paper: 挂单参数无效 price=%s quantity=%s", params.Price, params.Quantity)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.fits("", params) {
		return "", fmt.Errorf("paper: 保证金不足 notional=%s", params.Notional())
	}

	id := v.newID()
	v.orders[id] = Order{ID: id, TradingPair: pair, Side: side, Params: params}
	v.logger.Info("模拟挂单",
		zap.String("order_id", id),
		zap.String("pair", pair),
		zap.Stringer("price", params.Price),
		zap.Stringer("quantity", params.Quantity),
	)
	return id, nil
}

// Cancel 撤销挂单，返回订单是否存在。
func (v *Venue) Cancel(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.orders[orderID]
	delete(v.orders, orderID)
	return ok
}

// Order 返回挂单快照。
func (v *Venue) Order(orderID string) (Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	return o, ok
}

// Edits 返回成功改单次数。
func (v *Venue) Edits() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.edits
}

// EditOrder 实现 execution.Venue.
func (v *Venue) EditOrder(ctx context.Context, spec execution.EditSpec) (execution.EditResult, error) {
	if err := ctx.Err(); err != nil {
		return execution.EditResult{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	current, ok := v.orders[spec.OrderID]
	if !ok {
		return execution.EditResult{}, execution.Reject(event.FailureOrderNotFound, spec.OrderID, false)
	}
	if !spec.Next.Valid() {
		return execution.EditResult{}, execution.Reject(event.FailureInvalidOrder, "价格与数量必须为正", true)
	}

	if v.cancelReplace {
		delete(v.orders, spec.OrderID)
		if !v.fits("", spec.Next) {
			v.logger.Warn("原单已撤销但重新挂单失败", zap.String("order_id", spec.OrderID))
			return execution.EditResult{}, execution.Reject(event.FailureInsufficientMargin, "order was cancelled but replacement failed", false)
		}
		current.ID = v.newID()
		current.Params = spec.Next
		v.orders[current.ID] = current
		v.edits++
		return execution.EditResult{NewOrderID: current.ID, Applied: spec.Next}, nil
	}

	if !v.fits(spec.OrderID, spec.Next) {
		return execution.EditResult{}, execution.Reject(event.FailureInsufficientMargin,
			fmt.Sprintf("notional %s exceeds buying power %s", spec.Next.Notional(), v.equity.Mul(v.leverage)), true)
	}

	current.Params = spec.Next
	v.orders[spec.OrderID] = current
	v.edits++
	return execution.EditResult{Applied: spec.Next}, nil
}

// fits 判断把 exclude 替换为 params 后总名义价值是否在可用额度内，调用方持有 v.mu.
func (v *Venue) fits(exclude string, params event.OrderParams) bool {
	total := params.Notional()
	for id, o := range v.orders {
		if id == exclude {
			continue
		}
		total = total.Add(o.Params.Notional())
	}
	return total.LessThanOrEqual(v.equity.Mul(v.leverage))
}
