package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"edit-hooks/internal/dispatch"
	"edit-hooks/internal/event"
	"edit-hooks/internal/store"
)

// Service 负责持久化分发记录，同时作为分发器的观察者。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务并创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := store.Migrate(context.Background(), schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return s, nil
}

var _ dispatch.Observer = (*Service)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS dispatch_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatch_events_type ON dispatch_events(event_type)`,
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, rec Event) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatch_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(rec.Type), string(payload), rec.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// Delivered 记录一次成功投递，实现 dispatch.Observer.
func (s *Service) Delivered(ctx context.Context, strategyID string, ev event.Event, elapsed time.Duration) {
	s.recordDispatch(ctx, EventType(ev.Kind()), DispatchPayload{
		Strategy:  strategyID,
		ElapsedMS: millis(elapsed),
		Event:     ev,
	})
}

// HookFault 记录回调 panic.
func (s *Service) HookFault(ctx context.Context, strategyID string, ev event.Event, recovered interface{}) {
	s.recordDispatch(ctx, EventHookFault, DispatchPayload{
		Strategy: strategyID,
		Panic:    fmt.Sprint(recovered),
		Event:    ev,
	})
}

// SlowHook 记录超过阈值仍未返回的回调，threshold 为触发告警的配置阈值。
func (s *Service) SlowHook(ctx context.Context, strategyID string, ev event.Event, threshold time.Duration) {
	s.recordDispatch(ctx, EventSlowHook, DispatchPayload{
		Strategy:    strategyID,
		ThresholdMS: millis(threshold),
		Event:       ev,
	})
}

func (s *Service) recordDispatch(ctx context.Context, typ EventType, payload DispatchPayload) {
	if err := s.Record(ctx, Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录分发事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM dispatch_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
