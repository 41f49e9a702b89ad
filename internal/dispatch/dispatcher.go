package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"edit-hooks/internal/event"
	"edit-hooks/internal/metrics"
	"edit-hooks/internal/strategy"
)

// RequestID 为引擎分配的改单请求号，从 1 开始递增。
type RequestID uint64

func (id RequestID) String() string {
	return fmt.Sprintf("req-%d", uint64(id))
}

// Observer 接收分发过程中的诊断信息，通常由监控服务实现。
type Observer interface {
	Delivered(ctx context.Context, strategyID string, ev event.Event, elapsed time.Duration)
	HookFault(ctx context.Context, strategyID string, ev event.Event, recovered interface{})
	// SlowHook 在回调运行超过阈值时触发，回调此时仍在执行，threshold 为配置的阈值。
	SlowHook(ctx context.Context, strategyID string, ev event.Event, threshold time.Duration)
}

// Options 控制分发器行为。
type Options struct {
	// SlowHookThreshold 回调执行超过该时长即上报，0 表示不检测。
	SlowHookThreshold time.Duration
	Observer          Observer
	Metrics           *metrics.Dispatch
	Clock             func() time.Time
}

// EditRequest 描述策略发起的一次改单。
type EditRequest struct {
	StrategyID  string
	OrderID     string
	TradingPair string
	Previous    event.OrderParams
	Attempted   event.OrderParams
}

type request struct {
	id   RequestID
	req  EditRequest
	lane *lane

	resolved    bool
	kind        event.Kind
	newOrderID  string
	applied     event.OrderParams
	reason      event.FailureReason
	recoverable bool
}

func (r *request) build(seq uint64, ts time.Time) event.Event {
	header := event.NewHeader(r.id.String(), r.req.OrderID, r.req.TradingPair, seq, ts)
	if r.kind == event.KindOrderEdited {
		return event.OrderEditedEvent{
			Header:     header,
			NewOrderID: r.newOrderID,
			Previous:   r.req.Previous,
			New:        r.applied,
		}
	}
	return event.OrderEditFailedEvent{
		Header:      header,
		Attempted:   r.req.Attempted,
		Reason:      r.reason,
		Recoverable: r.recoverable,
	}
}

// Dispatcher 将改单结果投递给发起请求的策略。
//
// 每个请求恰好产生一个终态结果；同一订单的结果按请求顺序投递，
// 后发请求先于前序请求得到结果时会被暂存；每个策略拥有独立的投递通道，
// 回调 panic 只影响当次投递。
type Dispatcher struct {
	logger   *zap.Logger
	observer Observer
	metrics  *metrics.Dispatch
	slowHook time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	lanes       map[string]*lane
	owners      map[string]string
	orders      map[string]*deque.Deque[*request]
	requests    map[RequestID]*request
	nextRequest uint64
	seq         uint64
	lastStamp   time.Time
	retiring    map[string]*lane

	running bool
	closed  bool
	runCtx  context.Context
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New 创建分发器。
func New(opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		logger:   logger,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		slowHook: opts.SlowHookThreshold,
		clock:    clock,
		lanes:    make(map[string]*lane),
		owners:   make(map[string]string),
		orders:   make(map[string]*deque.Deque[*request]),
		requests: make(map[RequestID]*request),
		retiring: make(map[string]*lane),
		stop:     make(chan struct{}),
	}
}

// Register 注册策略。分发器只持有接口引用，不感知具体类型。
// 同名策略刚被注销时，会等待旧投递通道把剩余事件投递完再注册。
func (d *Dispatcher) Register(strategyID string, handler strategy.OrderEditHandler) error {
	if strategyID == "" || handler == nil {
		return fmt.Errorf("dispatch: 注册策略参数无效 id=%q", strategyID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		old, ok := d.retiring[strategyID]
		if !ok {
			break
		}
		d.mu.Unlock()
		<-old.done
		d.mu.Lock()
		if d.retiring[strategyID] == old {
			delete(d.retiring, strategyID)
		}
	}

	if d.closed {
		return ErrClosed
	}
	if _, ok := d.lanes[strategyID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, strategyID)
	}

	l := newLane(strategyID, handler)
	d.lanes[strategyID] = l
	if d.running {
		d.startLane(l)
	}

	d.logger.Info("策略已注册", zap.String("strategy", strategyID))
	return nil
}

// Unregister 注销策略。已入队的事件仍会投递完毕，
// 该策略尚未投递的请求被丢弃，之后回报这些请求号返回 ErrAlreadyResolved.
func (d *Dispatcher) Unregister(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[strategyID]
	if !ok {
		return
	}
	delete(d.lanes, strategyID)
	for orderID, owner := range d.owners {
		if owner == strategyID {
			delete(d.owners, orderID)
		}
	}
	dropped := d.purge(l)

	close(l.quit)
	if l.started {
		d.retiring[strategyID] = l
	} else {
		close(l.done)
	}

	d.logger.Info("策略已注销",
		zap.String("strategy", strategyID),
		zap.Int("dropped_requests", dropped),
	)
}

// purge 移除属于该投递通道的未投递请求，并放行因此露出队首的其他请求。
// 调用方持有 d.mu。
func (d *Dispatcher) purge(l *lane) int {
	touched := make(map[string]struct{})
	dropped := 0
	for id, r := range d.requests {
		if r.lane != l {
			continue
		}
		delete(d.requests, id)
		touched[r.req.OrderID] = struct{}{}
		dropped++
	}

	for orderID := range touched {
		q := d.orders[orderID]
		kept := &deque.Deque[*request]{}
		for q.Len() > 0 {
			if r := q.PopFront(); r.lane != l {
				kept.PushBack(r)
			}
		}
		d.orders[orderID] = kept
		d.release(orderID)
	}

	d.metrics.SetPending(len(d.requests))
	return dropped
}

// Track 声明策略拥有某个挂单，只有拥有者才能对其发起改单。
func (d *Dispatcher) Track(strategyID, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.lanes[strategyID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	if owner, ok := d.owners[orderID]; ok && owner != strategyID {
		return fmt.Errorf("%w: order=%s owner=%s", ErrOrderOwned, orderID, owner)
	}
	d.owners[orderID] = strategyID
	return nil
}

// Forget 解除订单归属（成交或撤单后）。未完成的改单请求仍会投递结果。
func (d *Dispatcher) Forget(orderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owners, orderID)
}

// Owner 返回订单所属策略。
func (d *Dispatcher) Owner(orderID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.owners[orderID]
	return owner, ok
}

// Pending 返回尚未投递终态结果的请求数。
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// RequestEdit 登记一次改单请求，返回后续用于回报结果的请求号。
func (d *Dispatcher) RequestEdit(req EditRequest) (RequestID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if _, ok := d.lanes[req.StrategyID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStrategy, req.StrategyID)
	}
	if owner, ok := d.owners[req.OrderID]; !ok || owner != req.StrategyID {
		return 0, fmt.Errorf("%w: strategy=%s order=%s", ErrNotOwner, req.StrategyID, req.OrderID)
	}

	d.nextRequest++
	r := &request{id: RequestID(d.nextRequest), req: req, lane: d.lanes[req.StrategyID]}
	d.requests[r.id] = r

	q, ok := d.orders[req.OrderID]
	if !ok {
		q = &deque.Deque[*request]{}
		d.orders[req.OrderID] = q
	}
	q.PushBack(r)

	d.metrics.RecordRequest()
	d.metrics.SetPending(len(d.requests))
	return r.id, nil
}

// ResolveEdited 回报改单成功。newOrderID 仅在撤单重下时填写。
func (d *Dispatcher) ResolveEdited(id RequestID, newOrderID string, applied event.OrderParams) error {
	return d.resolve(id, func(r *request) {
		r.kind = event.KindOrderEdited
		r.newOrderID = newOrderID
		r.applied = applied
	})
}

// ResolveEditFailed 回报改单失败。
func (d *Dispatcher) ResolveEditFailed(id RequestID, reason event.FailureReason, recoverable bool) error {
	return d.resolve(id, func(r *request) {
		r.kind = event.KindOrderEditFailed
		r.reason = reason
		r.recoverable = recoverable
	})
}

func (d *Dispatcher) resolve(id RequestID, fill func(r *request)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if id == 0 || uint64(id) > d.nextRequest {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	r, ok := d.requests[id]
	if !ok || r.resolved {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	fill(r)
	r.resolved = true

	d.release(r.req.OrderID)
	return nil
}

// release 按请求顺序放行订单队首已有结果的请求，调用方持有 d.mu。
func (d *Dispatcher) release(orderID string) {
	q, ok := d.orders[orderID]
	if !ok {
		return
	}

	for q.Len() > 0 && q.Front().resolved {
		r := q.PopFront()
		delete(d.requests, r.id)

		d.seq++
		ev := r.build(d.seq, d.stamp())
		d.applyOwnership(r)

		l, ok := d.lanes[r.req.StrategyID]
		if !ok || l != r.lane {
			d.logger.Warn("策略已注销，丢弃改单结果",
				zap.String("strategy", r.req.StrategyID),
				zap.String("order_id", orderID),
				zap.Stringer("request_id", r.id),
			)
			continue
		}
		depth := l.push(ev)
		d.metrics.SetQueueDepth(l.id, depth)
	}

	if q.Len() == 0 {
		delete(d.orders, orderID)
	}
	d.metrics.SetPending(len(d.requests))
}

// stamp 返回放行时刻，保证不早于上一个事件的时间戳。调用方持有 d.mu。
func (d *Dispatcher) stamp() time.Time {
	ts := d.clock().UTC()
	if ts.Before(d.lastStamp) {
		ts = d.lastStamp
	}
	d.lastStamp = ts
	return ts
}

func (d *Dispatcher) applyOwnership(r *request) {
	orderID := r.req.OrderID
	switch {
	case r.kind == event.KindOrderEdited && r.newOrderID != "" && r.newOrderID != orderID:
		if d.owners[orderID] == r.req.StrategyID {
			delete(d.owners, orderID)
		}
		d.owners[r.newOrderID] = r.req.StrategyID
	case r.kind == event.KindOrderEditFailed && !r.recoverable:
		if d.owners[orderID] == r.req.StrategyID {
			delete(d.owners, orderID)
		}
	}
}

// Run 启动所有策略的投递通道并阻塞到 ctx 结束。
// 退出前会把已放行的事件全部投递完毕。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	d.running = true
	d.runCtx = context.WithoutCancel(ctx)
	for _, l := range d.lanes {
		d.startLane(l)
	}
	lanes := len(d.lanes)
	d.mu.Unlock()

	d.logger.Info("改单结果分发器已启动", zap.Int("strategies", lanes))

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("改单结果分发器已停止")
	return nil
}

// startLane 调用方持有 d.mu。
func (d *Dispatcher) startLane(l *lane) {
	if l.started {
		return
	}
	l.started = true
	d.wg.Add(1)
	go d.runLane(d.runCtx, l)
}

func (d *Dispatcher) runLane(ctx context.Context, l *lane) {
	defer d.wg.Done()
	defer close(l.done)

	for {
		d.drain(ctx, l)
		select {
		case <-d.stop:
			d.drain(ctx, l)
			return
		case <-l.quit:
			d.drain(ctx, l)
			return
		case <-l.signal:
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, l *lane) {
	for {
		ev, depth, ok := l.pop()
		if !ok {
			return
		}
		d.metrics.SetQueueDepth(l.id, depth)
		d.deliver(ctx, l, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l *lane, ev event.Event) {
	var watchdog *time.Timer
	if d.slowHook > 0 {
		threshold := d.slowHook
		watchdog = time.AfterFunc(threshold, func() {
			d.logger.Warn("策略回调执行过慢",
				zap.String("strategy", l.id),
				zap.String("kind", string(ev.Kind())),
				zap.String("order_id", ev.Order()),
				zap.Duration("threshold", threshold),
			)
			d.metrics.RecordSlowHook(l.id)
			if d.observer != nil {
				d.observer.SlowHook(ctx, l.id, ev, threshold)
			}
		})
	}

	start := time.Now()
	faulted := d.invoke(ctx, l, ev)
	elapsed := time.Since(start)

	if watchdog != nil {
		watchdog.Stop()
	}
	if faulted {
		return
	}

	d.metrics.RecordDelivered(l.id, string(ev.Kind()), elapsed)
	if d.observer != nil {
		d.observer.Delivered(ctx, l.id, ev, elapsed)
	}
}

// invoke 在分发边界捕获回调 panic，保证投递循环继续。
func (d *Dispatcher) invoke(ctx context.Context, l *lane, ev event.Event) (faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			faulted = true
			d.logger.Error("策略回调异常",
				zap.String("strategy", l.id),
				zap.String("kind", string(ev.Kind())),
				zap.String("order_id", ev.Order()),
				zap.Uint64("seq", ev.Sequence()),
				zap.Any("event", ev),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			d.metrics.RecordHookFault(l.id)
			if d.observer != nil {
				d.observer.HookFault(ctx, l.id, ev, r)
			}
		}
	}()

	switch e := ev.(type) {
	case event.OrderEditedEvent:
		l.handler.OnOrderEdited(e)
	case event.OrderEditFailedEvent:
		l.handler.OnOrderEditFailed(e)
	default:
		d.logger.Warn("未知事件类型", zap.String("strategy", l.id), zap.String("kind", string(ev.Kind())))
	}
	return false
}
