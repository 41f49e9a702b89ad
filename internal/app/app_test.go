package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edit-hooks/internal/config"
	"edit-hooks/internal/event"
	"edit-hooks/internal/monitor"
	"edit-hooks/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test", StrategyID: "order-edit"},
		Exchange: config.ExchangeConfig{
			Name:        "binance",
			TradingPair: "BTC/USDT",
			OrderType:   "limit",
		},
		Paper:    config.PaperConfig{Enabled: true, Equity: 100, Leverage: 1, Demo: true},
		Dispatch: config.DispatchConfig{SlowHookThreshold: time.Second, MetricsNamespace: "edit_hooks_test"},
		Database: config.DatabaseConfig{InMemory: true},
	}
}

func startComponents(t *testing.T, cfg *config.Config) *components {
	t.Helper()
	st, err := store.NewSQLite(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := New(cfg, nil, st).build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.dispatcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestRunDemo_TrackerFollowsOutcomes(t *testing.T) {
	cfg := testConfig()
	c := startComponents(t, cfg)

	report, err := runDemo(context.Background(), cfg, c, nil)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)

	edited := report.Steps[0]
	assert.Equal(t, event.KindOrderEdited, edited.Outcome)
	assert.True(t, edited.Tracked)
	assert.True(t, edited.TrackedPrice.Equal(decimal.NewFromFloat(10.5)))

	failed := report.Steps[1]
	assert.Equal(t, event.KindOrderEditFailed, failed.Outcome)
	assert.Equal(t, event.FailureInsufficientMargin, failed.Reason.Code)
	assert.True(t, failed.Tracked)
	assert.True(t, failed.TrackedPrice.Equal(decimal.NewFromFloat(10.5)), "rejected edit keeps last confirmed price")

	require.Eventually(t, func() bool {
		events, err := c.monitor.ListEvents(context.Background(), "", 10)
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunDemo_CancelReplaceLosesOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Paper.CancelReplace = true
	c := startComponents(t, cfg)

	report, err := runDemo(context.Background(), cfg, c, nil)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)

	replacedID := report.Steps[1].OrderID
	assert.NotEqual(t, report.Steps[0].OrderID, replacedID)
	assert.False(t, report.Steps[1].Tracked)

	_, owned := c.dispatcher.Owner(replacedID)
	assert.False(t, owned)
}

func TestRunDemo_RequiresPaperVenue(t *testing.T) {
	cfg := testConfig()
	_, err := runDemo(context.Background(), cfg, &components{}, nil)
	assert.Error(t, err)
}

func TestMonitorHandler_ServesEventsAndMetrics(t *testing.T) {
	cfg := testConfig()
	c := startComponents(t, cfg)
	_, err := runDemo(context.Background(), cfg, c, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(newMonitorHandler(c.monitor, c.metrics, nil))
	defer srv.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/events?type=ORDER_EDIT_FAILED&limit=5")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var events []monitor.Event
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			return false
		}
		return len(events) == 1 && events[0].Type == monitor.EventOrderEditFailed
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "edit_hooks_test_edit_requests_total 2")
}

func TestAppRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	assert.NoError(t, New(cfg, nil, nil).Run(ctx))
}
