package strategy

import "edit-hooks/internal/event"

// OrderEditHandler 是策略对改单结果的回调接口。
//
// 分发器保证同一策略的回调串行执行，且只投递该策略自己发起的改单结果，
// 因此实现可以在回调中直接修改非线程安全的内部状态。回调应尽快返回，
// 不得阻塞在外部 I/O 上；需要的后续动作应异步交出。
type OrderEditHandler interface {
	OnOrderEdited(ev event.OrderEditedEvent)
	OnOrderEditFailed(ev event.OrderEditFailedEvent)
}

// Base 提供空实现，嵌入后只需覆盖关心的回调。
type Base struct{}

func (Base) OnOrderEdited(event.OrderEditedEvent) {}

func (Base) OnOrderEditFailed(event.OrderEditFailedEvent) {}

// Funcs 将普通函数适配为 OrderEditHandler，未设置的字段即为空操作。
type Funcs struct {
	Edited     func(ev event.OrderEditedEvent)
	EditFailed func(ev event.OrderEditFailedEvent)
}

func (f Funcs) OnOrderEdited(ev event.OrderEditedEvent) {
	if f.Edited != nil {
		f.Edited(ev)
	}
}

func (f Funcs) OnOrderEditFailed(ev event.OrderEditFailedEvent) {
	if f.EditFailed != nil {
		f.EditFailed(ev)
	}
}

var (
	_ OrderEditHandler = Base{}
	_ OrderEditHandler = Funcs{}
	_ OrderEditHandler = (*EditTracker)(nil)
)
