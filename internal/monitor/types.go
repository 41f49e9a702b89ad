package monitor

import (
	"time"

	"edit-hooks/internal/event"
)

// EventType 表示监控记录类型。
type EventType string

const (
	EventOrderEdited     EventType = EventType(event.KindOrderEdited)
	EventOrderEditFailed EventType = EventType(event.KindOrderEditFailed)
	EventHookFault       EventType = "hook_fault"
	EventSlowHook        EventType = "slow_hook"
	EventError           EventType = "error"
)

// Event 封装通用监控记录。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DispatchPayload 记录一次投递及其结果事件。
type DispatchPayload struct {
	Strategy    string      `json:"strategy"`
	ElapsedMS   float64     `json:"elapsed_ms,omitempty"`
	ThresholdMS float64     `json:"threshold_ms,omitempty"` // 慢回调告警时为配置阈值，回调实际耗时未知
	Panic       string      `json:"panic,omitempty"`
	Event       event.Event `json:"event"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
