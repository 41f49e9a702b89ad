package strategy

import (
	"sync"

	"go.uber.org/zap"

	"edit-hooks/internal/event"
)

// EditTracker 维护策略视角下每个挂单已确认的价格与数量。
//
// 发起改单时先通过 BeginEdit 记录预期参数，交易所确认后转为已确认值，
// 改单失败则撤销预期值，已确认值保持不变。同一订单可有多笔改单在途，
// 预期值按发起顺序排队，结果按相同顺序出队。
type EditTracker struct {
	mu        sync.RWMutex
	confirmed map[string]event.OrderParams
	pending   map[string][]event.OrderParams
	logger    *zap.Logger
}

// NewEditTracker 创建改单跟踪策略。
func NewEditTracker(logger *zap.Logger) *EditTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EditTracker{
		confirmed: make(map[string]event.OrderParams),
		pending:   make(map[string][]event.OrderParams),
		logger:    logger,
	}
}

// Track 登记一个新挂单。
func (t *EditTracker) Track(orderID string, params event.OrderParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed[orderID] = params
	delete(t.pending, orderID)
}

// Forget 移除挂单（成交或撤单后）。
func (t *EditTracker) Forget(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.confirmed, orderID)
	delete(t.pending, orderID)
}

// BeginEdit 记录一次乐观的改单预期，订单未被跟踪时返回 false。
func (t *EditTracker) BeginEdit(orderID string, attempted event.OrderParams) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.confirmed[orderID]; !ok {
		return false
	}
	t.pending[orderID] = append(t.pending[orderID], attempted)
	return true
}

// Params 返回已确认的参数。
func (t *EditTracker) Params(orderID string) (event.OrderParams, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.confirmed[orderID]
	return p, ok
}

// Expected 返回最近一次尚未确认的预期参数。
func (t *EditTracker) Expected(orderID string) (event.OrderParams, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q := t.pending[orderID]
	if len(q) == 0 {
		return event.OrderParams{}, false
	}
	return q[len(q)-1], true
}

// InFlight 返回订单在途的改单数量。
func (t *EditTracker) InFlight(orderID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending[orderID])
}

// settle 弹出最早的预期值，调用方持有 t.mu。
func (t *EditTracker) settle(orderID string) {
	q := t.pending[orderID]
	if len(q) <= 1 {
		delete(t.pending, orderID)
		return
	}
	t.pending[orderID] = q[1:]
}

// Orders 返回当前跟踪的订单数量。
func (t *EditTracker) Orders() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.confirmed)
}

// OnOrderEdited 将新参数写入跟踪表，撤单重下时换用新订单号。
func (t *EditTracker) OnOrderEdited(ev event.OrderEditedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.confirmed[ev.OrderID]; !ok {
		t.logger.Warn("收到未跟踪订单的改单事件，忽略",
			zap.String("order_id", ev.OrderID),
			zap.String("request_id", ev.RequestID),
		)
		return
	}

	t.settle(ev.OrderID)
	key := ev.OrderID
	if ev.Replaced() {
		delete(t.confirmed, ev.OrderID)
		if rest, ok := t.pending[ev.OrderID]; ok {
			t.pending[ev.NewOrderID] = rest
			delete(t.pending, ev.OrderID)
		}
		key = ev.NewOrderID
	}
	t.confirmed[key] = ev.New

	t.logger.Info("订单改单成功",
		zap.String("order_id", ev.OrderID),
		zap.String("new_order_id", ev.NewOrderID),
		zap.String("price", ev.Previous.Price.String()+" -> "+ev.New.Price.String()),
		zap.String("quantity", ev.Previous.Quantity.String()+" -> "+ev.New.Quantity.String()),
	)
}

// OnOrderEditFailed 撤销乐观预期；原订单已不存在时停止跟踪。
func (t *EditTracker) OnOrderEditFailed(ev event.OrderEditFailedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.confirmed[ev.OrderID]; !ok {
		t.logger.Warn("收到未跟踪订单的改单失败事件，忽略",
			zap.String("order_id", ev.OrderID),
			zap.String("request_id", ev.RequestID),
		)
		return
	}

	t.settle(ev.OrderID)

	if !ev.Recoverable {
		delete(t.confirmed, ev.OrderID)
		delete(t.pending, ev.OrderID)
		t.logger.Error("改单失败且原订单已撤销",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", ev.Reason.String()),
		)
		return
	}

	t.logger.Warn("订单改单失败",
		zap.String("order_id", ev.OrderID),
		zap.String("reason", ev.Reason.String()),
		zap.String("attempted_price", ev.Attempted.Price.String()),
	)
}
