package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"edit-hooks/internal/config"
	"edit-hooks/internal/event"
	"edit-hooks/internal/execution"
)

const demoWait = 5 * time.Second

// DemoStep 记录演示中一次改单的结果与跟踪器状态。
type DemoStep struct {
	OrderID      string
	Attempted    event.OrderParams
	Outcome      event.Kind
	Reason       event.FailureReason
	Tracked      bool
	TrackedPrice decimal.Decimal
}

// DemoReport 汇总演示流程。
type DemoReport struct {
	Steps []DemoStep
}

// runDemo 在模拟盘上挂一笔 10.0×5 的买单，先改价到 10.5，
// 再尝试一笔超出购买力的改单，观察跟踪器如何随结果更新。
func runDemo(ctx context.Context, cfg *config.Config, c *components, logger *zap.Logger) (DemoReport, error) {
	var report DemoReport
	if c.paper == nil {
		return report, fmt.Errorf("演示流程需要启用模拟盘")
	}

	pair := cfg.Exchange.TradingPair
	strategyID := cfg.App.StrategyID
	initial := event.NewOrderParams(10.0, 5)

	orderID, err := c.paper.Place(pair, execution.OrderSideBuy, initial)
	if err != nil {
		return report, err
	}
	if err := c.dispatcher.Track(strategyID, orderID); err != nil {
		return report, err
	}
	c.tracker.Track(orderID, initial)
	logger.Info("演示挂单完成", zap.String("order_id", orderID))

	leverage := cfg.Paper.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	oversized := event.OrderParams{
		Price:    decimal.NewFromFloat(10.5),
		Quantity: decimal.NewFromFloat(cfg.Paper.Equity * leverage).Add(decimal.NewFromInt(1)),
	}

	for _, next := range []event.OrderParams{event.NewOrderParams(10.5, 5), oversized} {
		prev, ok := c.tracker.Params(orderID)
		if !ok {
			break
		}
		c.tracker.BeginEdit(orderID, next)

		if _, err := c.engine.EditOrder(ctx, strategyID, execution.EditSpec{
			OrderID:     orderID,
			TradingPair: pair,
			Side:        execution.OrderSideBuy,
			Previous:    prev,
			Next:        next,
		}); err != nil {
			return report, err
		}

		ev, err := awaitDelivery(ctx, c.delivered)
		if err != nil {
			return report, err
		}

		step := DemoStep{OrderID: orderID, Attempted: next, Outcome: ev.Kind()}
		switch e := ev.(type) {
		case event.OrderEditedEvent:
			if e.Replaced() {
				orderID = e.NewOrderID
			}
		case event.OrderEditFailedEvent:
			step.Reason = e.Reason
		}
		if params, ok := c.tracker.Params(orderID); ok {
			step.Tracked = true
			step.TrackedPrice = params.Price
		}
		report.Steps = append(report.Steps, step)
	}

	return report, nil
}

func awaitDelivery(ctx context.Context, delivered <-chan event.Event) (event.Event, error) {
	timer := time.NewTimer(demoWait)
	defer timer.Stop()

	select {
	case ev := <-delivered:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("等待改单结果超时")
	}
}
