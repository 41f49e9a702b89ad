package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edit-hooks/internal/config"
	"edit-hooks/internal/dispatch"
	"edit-hooks/internal/event"
	"edit-hooks/internal/exchange"
	"edit-hooks/internal/execution"
	"edit-hooks/internal/metrics"
	"edit-hooks/internal/monitor"
	"edit-hooks/internal/paper"
	"edit-hooks/internal/store"
	"edit-hooks/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。store 为 nil 时不持久化分发记录。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

type components struct {
	metrics    *metrics.Dispatch
	monitor    *monitor.Service
	dispatcher *dispatch.Dispatcher
	paper      *paper.Venue
	engine     *execution.Engine
	tracker    *strategy.EditTracker
	delivered  chan event.Event
}

// notifyingTracker 在跟踪器处理完事件后转发一份，供演示流程等待结果。
type notifyingTracker struct {
	*strategy.EditTracker
	delivered chan<- event.Event
}

func (n notifyingTracker) OnOrderEdited(ev event.OrderEditedEvent) {
	n.EditTracker.OnOrderEdited(ev)
	n.forward(ev)
}

func (n notifyingTracker) OnOrderEditFailed(ev event.OrderEditFailedEvent) {
	n.EditTracker.OnOrderEditFailed(ev)
	n.forward(ev)
}

func (n notifyingTracker) forward(ev event.Event) {
	select {
	case n.delivered <- ev:
	default:
	}
}

func (a *App) build() (*components, error) {
	c := &components{
		metrics:   metrics.NewDispatch(a.cfg.Dispatch.MetricsNamespace),
		tracker:   strategy.NewEditTracker(a.logger.Named("strategy")),
		delivered: make(chan event.Event, 16),
	}

	var observer dispatch.Observer
	if a.store != nil {
		svc, err := monitor.NewService(a.store, a.logger.Named("monitor"))
		if err != nil {
			return nil, err
		}
		c.monitor = svc
		observer = svc
	}

	c.dispatcher = dispatch.New(dispatch.Options{
		SlowHookThreshold: a.cfg.Dispatch.SlowHookThreshold,
		Observer:          observer,
		Metrics:           c.metrics,
	}, a.logger.Named("dispatch"))

	var venue execution.Venue
	if a.cfg.Paper.Enabled {
		c.paper = paper.NewVenue(a.cfg.Paper, a.logger.Named("paper"))
		venue = c.paper
	} else {
		client, err := exchange.NewClient(a.cfg.Exchange, a.logger.Named("exchange"))
		if err != nil {
			return nil, err
		}
		venue = client
	}
	c.engine = execution.NewEngine(venue, c.dispatcher, a.logger.Named("execution"))

	hooks := notifyingTracker{EditTracker: c.tracker, delivered: c.delivered}
	if err := c.dispatcher.Register(a.cfg.App.StrategyID, hooks); err != nil {
		return nil, fmt.Errorf("注册策略失败: %w", err)
	}
	return c, nil
}

// Run 启动分发器与监控接口，阻塞到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	venueName := a.cfg.Exchange.Name
	if a.cfg.Paper.Enabled {
		venueName = "paper"
	}
	a.logger.Info("改单回调服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("strategy", a.cfg.App.StrategyID),
		zap.String("venue", venueName),
		zap.String("pair", a.cfg.Exchange.TradingPair),
	)

	c, err := a.build()
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.dispatcher.Run(groupCtx)
	})

	if a.cfg.Monitor.Enabled {
		handler := newMonitorHandler(c.monitor, c.metrics, a.logger)
		group.Go(func() error {
			return serveMonitor(groupCtx, handler, a.cfg.Monitor.Port, a.logger)
		})
	}

	if a.cfg.Paper.Enabled && a.cfg.Paper.Demo {
		group.Go(func() error {
			report, err := runDemo(groupCtx, a.cfg, c, a.logger.Named("demo"))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if c.monitor != nil {
					c.monitor.RecordError(groupCtx, "演示流程失败", err, nil)
				}
				return err
			}
			for i, step := range report.Steps {
				a.logger.Info("演示步骤完成",
					zap.Int("step", i+1),
					zap.String("order_id", step.OrderID),
					zap.String("outcome", string(step.Outcome)),
					zap.Stringer("reason", step.Reason),
					zap.Bool("tracked", step.Tracked),
					zap.Stringer("tracked_price", step.TrackedPrice),
				)
			}
			return nil
		})
	}

	err = group.Wait()
	c.engine.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}
