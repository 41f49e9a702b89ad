package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"edit-hooks/internal/dispatch"
	"edit-hooks/internal/event"
)

// Resolver 为引擎依赖的分发器能力。
type Resolver interface {
	RequestEdit(req dispatch.EditRequest) (dispatch.RequestID, error)
	ResolveEdited(id dispatch.RequestID, newOrderID string, applied event.OrderParams) error
	ResolveEditFailed(id dispatch.RequestID, reason event.FailureReason, recoverable bool) error
}

// Engine 登记策略的改单请求，调用交易场所并把结果回报给分发器。
type Engine struct {
	venue    Venue
	resolver Resolver
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewEngine 创建执行引擎。
func NewEngine(venue Venue, resolver Resolver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		venue:    venue,
		resolver: resolver,
		logger:   logger,
	}
}

// EditOrder 同步执行一次改单。场所拒绝属于正常结果，以失败事件回报给策略，
// 此时返回的 error 为 nil。
func (e *Engine) EditOrder(ctx context.Context, strategyID string, spec EditSpec) (dispatch.RequestID, error) {
	id, err := e.register(strategyID, spec)
	if err != nil {
		return 0, err
	}
	return id, e.execute(ctx, id, spec)
}

// EditOrderAsync 登记请求后立即返回，场所调用在后台完成。
func (e *Engine) EditOrderAsync(ctx context.Context, strategyID string, spec EditSpec) (dispatch.RequestID, error) {
	id, err := e.register(strategyID, spec)
	if err != nil {
		return 0, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.execute(ctx, id, spec); err != nil {
			e.logger.Error("后台改单回报失败",
				zap.Stringer("request_id", id),
				zap.String("order_id", spec.OrderID),
				zap.Error(err),
			)
		}
	}()
	return id, nil
}

// Wait 等待所有后台改单完成。
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) register(strategyID string, spec EditSpec) (dispatch.RequestID, error) {
	id, err := e.resolver.RequestEdit(dispatch.EditRequest{
		StrategyID:  strategyID,
		OrderID:     spec.OrderID,
		TradingPair: spec.TradingPair,
		Previous:    spec.Previous,
		Attempted:   spec.Next,
	})
	if err != nil {
		return 0, fmt.Errorf("execution: 登记改单请求失败: %w", err)
	}

	e.logger.Info("提交改单",
		zap.Stringer("request_id", id),
		zap.String("strategy", strategyID),
		zap.String("order_id", spec.OrderID),
		zap.Stringer("price", spec.Next.Price),
		zap.Stringer("quantity", spec.Next.Quantity),
	)
	return id, nil
}

func (e *Engine) execute(ctx context.Context, id dispatch.RequestID, spec EditSpec) error {
	if !spec.Next.Valid() {
		return e.fail(id, spec, Reject(event.FailureInvalidOrder, "价格与数量必须为正", true))
	}

	result, err := e.venue.EditOrder(ctx, spec)
	if err != nil {
		return e.fail(id, spec, asRejection(err))
	}

	applied := result.Applied
	if applied.Price.IsZero() && applied.Quantity.IsZero() {
		applied = spec.Next
	}
	if err := e.resolver.ResolveEdited(id, result.NewOrderID, applied); err != nil {
		return fmt.Errorf("execution: 回报改单成功失败: %w", err)
	}

	e.logger.Info("改单成功",
		zap.Stringer("request_id", id),
		zap.String("order_id", spec.OrderID),
		zap.String("new_order_id", result.NewOrderID),
		zap.Stringer("price", applied.Price),
	)
	return nil
}

func (e *Engine) fail(id dispatch.RequestID, spec EditSpec, rej *Rejection) error {
	if err := e.resolver.ResolveEditFailed(id, rej.Reason, rej.Recoverable); err != nil {
		return fmt.Errorf("execution: 回报改单失败结果失败: %w", err)
	}

	e.logger.Warn("改单被拒绝",
		zap.Stringer("request_id", id),
		zap.String("order_id", spec.OrderID),
		zap.Stringer("reason", rej.Reason),
		zap.Bool("recoverable", rej.Recoverable),
	)
	return nil
}

// asRejection 把场所错误归一为拒绝结果，未分类错误视为结果未知但订单仍在。
func asRejection(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Reject(event.FailureVenueUnavailable, err.Error(), true)
	}
	return Reject(event.FailureUnknown, err.Error(), true)
}
