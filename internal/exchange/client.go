package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"edit-hooks/internal/config"
	"edit-hooks/internal/execution"
)

type editClient interface {
	EditOrder(id string, symbol string, typeVar string, side string, options ...ccxt.EditOrderOptions) (ccxt.Order, error)
}

// Client 通过 ccxt 向交易所提交改单，实现 execution.Venue.
type Client struct {
	cfg         config.ExchangeConfig
	logger      *zap.Logger
	editor      editClient
	loadMarkets func() error

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if !strings.EqualFold(cfg.Name, "binance") {
		return nil, fmt.Errorf("exchange: 暂不支持交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	load := func() error {
		_, err := ex.LoadMarkets()
		return err
	}
	return newClient(cfg, ex, load, logger), nil
}

func newClient(cfg config.ExchangeConfig, editor editClient, load func() error, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		editor:      editor,
		loadMarkets: load,
	}
}

// EditOrder 修改挂单的价格与数量。交易所拒绝会以 *execution.Rejection 返回。
func (c *Client) EditOrder(ctx context.Context, spec execution.EditSpec) (execution.EditResult, error) {
	symbol := spec.TradingPair
	if symbol == "" {
		symbol = c.cfg.TradingPair
	}
	price, _ := spec.Next.Price.Float64()
	amount, _ := spec.Next.Quantity.Float64()

	var order ccxt.Order
	err := c.callWithRetry(ctx, "edit_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.editor.EditOrder(
			spec.OrderID,
			symbol,
			c.cfg.OrderType,
			string(spec.Side),
			ccxt.WithEditOrderAmount(amount),
			ccxt.WithEditOrderPrice(price),
		)
		if err != nil {
			return err
		}

		order = result
		return nil
	})
	if err != nil {
		reason, recoverable := Classify(err)
		return execution.EditResult{}, &execution.Rejection{Reason: reason, Recoverable: recoverable}
	}

	return convertOrder(spec, order), nil
}

func convertOrder(spec execution.EditSpec, order ccxt.Order) execution.EditResult {
	result := execution.EditResult{Applied: spec.Next}
	if order.Id != nil && *order.Id != "" && *order.Id != spec.OrderID {
		result.NewOrderID = *order.Id
	}
	if order.Price != nil && *order.Price > 0 {
		result.Applied.Price = decimal.NewFromFloat(*order.Price)
	}
	if order.Amount != nil && *order.Amount > 0 {
		result.Applied.Quantity = decimal.NewFromFloat(*order.Amount)
	}
	return result
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded || c.loadMarkets == nil {
		return nil
	}

	if err := c.loadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.cfg.TradingPair))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	minDelay := c.cfg.Retry.MinDelay
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = minDelay
	expo.MaxInterval = maxDelay
	expo.MaxElapsedTime = 0

	var policy backoff.BackOff = expo
	if c.cfg.Retry.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(expo, uint64(c.cfg.Retry.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	start := time.Now()
	err := backoff.RetryNotify(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		normalized, retry := c.classifyError(err)
		if !retry {
			return backoff.Permanent(normalized)
		}
		return normalized
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	latency := time.Since(start)
	if err != nil {
		c.logger.Error("交易所调用失败",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return err
	}
	if attempt > 1 {
		c.logger.Info("交易所调用重试后成功",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Duration("latency", latency),
		)
	}
	return nil
}

func (c *Client) classifyError(err error) (error, bool) {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OnMaintenanceErrType {
		message := strings.TrimSpace(ccxtErr.Message)
		if message == "" {
			message = "exchange under maintenance"
		}
		c.logger.Warn("交易所维护中", zap.String("message", message))
		return fmt.Errorf("%w: %s", ErrMaintenance, message), false
	}
	return err, IsRetryable(err)
}
